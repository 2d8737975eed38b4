package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

// PayjsAdapter интегрирует «пэйджс»: JSON в обе стороны — запрос, ответ
// и уведомление, сумма в минимальных единицах (копейках), подпись MD5
// в верхнем регистре, QR-содержимое в поле верхнего уровня code_url.
type PayjsAdapter struct {
	client *transport.Client
}

// NewPayjsAdapter создаёт адаптер пэйджс.
func NewPayjsAdapter(client *transport.Client) *PayjsAdapter {
	return &PayjsAdapter{client: client}
}

// Key возвращает ключ провайдера.
func (a *PayjsAdapter) Key() string { return "payjs" }

// Pay создаёт нативный QR-платёж.
func (a *PayjsAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error) {
	params := map[string]string{
		"mchid":        acc.ChannelCode,
		"total_fee":    strconv.FormatInt(req.AmountCents, 10),
		"out_trade_no": req.Reference(),
		"body":         req.Subject,
		"notify_url":   req.NotifyURL,
	}
	params["sign"] = sign.Sign(params, acc.Secret, true, sign.ModeKeySuffix)

	resp, err := a.client.PostJSON(ctx, acc.Gateway+"/api/native", params)
	if err != nil {
		return nil, err
	}

	if !codeEquals(resp["return_code"], "1") {
		return nil, nil
	}

	qr := stringField(resp, "code_url")
	if qr == "" {
		return nil, nil
	}

	return &PayResult{QRCode: qr}, nil
}

// HandleNotify разбирает JSON-уведомление пэйджс из сырого тела и
// проверяет подпись над его скалярными полями.
func (a *PayjsAdapter) HandleNotify(_ context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error) {
	params, err := jsonParams(n.Body)
	if err != nil {
		return nil, err
	}

	got := params["sign"]
	delete(params, "sign")
	if got == "" || !strings.EqualFold(got, sign.Sign(params, acc.Secret, true, sign.ModeKeySuffix)) {
		return nil, errInvalidSignature
	}

	orderNo, orderType, err := model.ParseReference(params["out_trade_no"])
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Success:   params["return_code"] == "1",
		OrderNo:   orderNo,
		OrderType: orderType,
	}, nil
}

// SuccessAck возвращает токен подтверждения пэйджс.
func (a *PayjsAdapter) SuccessAck(_ *Notification) string { return "SUCCESS" }

// FailureAck возвращает токен отказа пэйджс.
func (a *PayjsAdapter) FailureAck() string { return "FAIL" }
