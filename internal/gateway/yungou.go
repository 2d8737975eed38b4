package gateway

import (
	"context"
	"net/url"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

// YungouAdapter интегрирует «юнгоу»: код успеха 0 числом или строкой,
// платёжная цель приходит строкой прямо в поле data.
type YungouAdapter struct {
	client *transport.Client
}

// NewYungouAdapter создаёт адаптер юнгоу.
func NewYungouAdapter(client *transport.Client) *YungouAdapter {
	return &YungouAdapter{client: client}
}

// Key возвращает ключ провайдера.
func (a *YungouAdapter) Key() string { return "yungou" }

// Pay создаёт платёж юнгоу.
func (a *YungouAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error) {
	params := map[string]string{
		"mch_id":       acc.ChannelCode,
		"out_trade_no": req.Reference(),
		"total_fee":    majorUnits(req.AmountCents),
		"body":         req.Subject,
		"notify_url":   req.NotifyURL,
	}
	params["sign"] = sign.Sign(params, acc.Secret, true, sign.ModeKeySuffix)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := a.client.PostForm(ctx, acc.Gateway+"/api/pay/create", form)
	if err != nil {
		return nil, err
	}

	if !codeEquals(resp["code"], "0") {
		return nil, nil
	}

	// data — не объект, а строка с содержимым QR.
	qr := stringField(resp, "data")
	if qr == "" {
		return nil, nil
	}

	return &PayResult{QRCode: qr}, nil
}

// HandleNotify разбирает form-уведомление юнгоу с проверкой подписи.
func (a *YungouAdapter) HandleNotify(_ context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error) {
	if !verifySignature(n.Values, acc.Secret, true, sign.ModeKeySuffix, "sign") {
		return nil, errInvalidSignature
	}

	orderNo, orderType, err := model.ParseReference(n.Values.Get("out_trade_no"))
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Success:   n.Values.Get("pay_status") == "1",
		OrderNo:   orderNo,
		OrderType: orderType,
	}, nil
}

// SuccessAck возвращает токен подтверждения юнгоу.
func (a *YungouAdapter) SuccessAck(_ *Notification) string { return "SUCCESS" }

// FailureAck возвращает токен отказа юнгоу.
func (a *YungouAdapter) FailureAck() string { return "FAIL" }
