package gateway

import (
	"context"
	"net/url"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

// EpayAdapter интегрирует агрегатор «эпэй»: form-запрос к mapi,
// подпись MD5 в нижнем регистре со схемой key-suffix, сумма в основных
// единицах, платёжная цель в полях верхнего уровня payurl/qrcode.
type EpayAdapter struct {
	client *transport.Client
}

// NewEpayAdapter создаёт адаптер эпэй.
func NewEpayAdapter(client *transport.Client) *EpayAdapter {
	return &EpayAdapter{client: client}
}

// Key возвращает ключ провайдера.
func (a *EpayAdapter) Key() string { return "epay" }

// Pay создаёт платёж через mapi-эндпоинт агрегатора.
func (a *EpayAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error) {
	params := map[string]string{
		"pid":          acc.ChannelCode,
		"type":         "alipay",
		"out_trade_no": req.Reference(),
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Subject,
		"money":        majorUnits(req.AmountCents),
	}
	params["sign"] = sign.Sign(params, acc.Secret, false, sign.ModeKeySuffix)
	params["sign_type"] = "MD5"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := a.client.PostForm(ctx, acc.Gateway+"/mapi.php", form)
	if err != nil {
		return nil, err
	}

	// Успех — code == 1, числом или строкой.
	if !codeEquals(resp["code"], "1") {
		return nil, nil
	}

	res := &PayResult{
		PayURL: stringField(resp, "payurl"),
		QRCode: stringField(resp, "qrcode"),
	}
	if res.PayURL == "" && res.QRCode == "" {
		return nil, nil
	}
	return res, nil
}

// HandleNotify разбирает form/query-уведомление эпэй.
func (a *EpayAdapter) HandleNotify(_ context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error) {
	if !verifySignature(n.Values, acc.Secret, false, sign.ModeKeySuffix, "sign", "sign_type") {
		return nil, errInvalidSignature
	}

	orderNo, orderType, err := model.ParseReference(n.Values.Get("out_trade_no"))
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Success:   n.Values.Get("trade_status") == "TRADE_SUCCESS",
		OrderNo:   orderNo,
		OrderType: orderType,
	}, nil
}

// SuccessAck возвращает токен подтверждения эпэй.
func (a *EpayAdapter) SuccessAck(_ *Notification) string { return "success" }

// FailureAck возвращает токен отказа эпэй.
func (a *EpayAdapter) FailureAck() string { return "fail" }
