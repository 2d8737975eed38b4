package gateway

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

// XunhuAdapter интегрирует «сюньху»: единственный провайдер со схемой
// подписи key-field (секрет вставляется параметром key до сортировки).
// Ответ несёт и ссылку оплаты, и QR в полях верхнего уровня.
type XunhuAdapter struct {
	client *transport.Client
	now    func() time.Time
}

// NewXunhuAdapter создаёт адаптер сюньху.
func NewXunhuAdapter(client *transport.Client) *XunhuAdapter {
	return &XunhuAdapter{client: client, now: time.Now}
}

// Key возвращает ключ провайдера.
func (a *XunhuAdapter) Key() string { return "xunhu" }

// Pay создаёт платёж сюньху.
func (a *XunhuAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error) {
	params := map[string]string{
		"version":        "1.1",
		"appid":          acc.ChannelCode,
		"trade_order_id": req.Reference(),
		"total_fee":      majorUnits(req.AmountCents),
		"title":          req.Subject,
		"time":           strconv.FormatInt(a.now().Unix(), 10),
		"nonce_str":      uuid.NewString(),
		"notify_url":     req.NotifyURL,
		"return_url":     req.ReturnURL,
	}
	params["hash"] = sign.Sign(params, acc.Secret, false, sign.ModeKeyField)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := a.client.PostForm(ctx, acc.Gateway+"/payment/do", form)
	if err != nil {
		return nil, err
	}

	if !codeEquals(resp["errcode"], "0") {
		return nil, nil
	}

	res := &PayResult{
		PayURL: stringField(resp, "url"),
		QRCode: stringField(resp, "url_qrcode"),
	}
	if res.PayURL == "" && res.QRCode == "" {
		return nil, nil
	}
	return res, nil
}

// HandleNotify разбирает form-уведомление сюньху с проверкой hash.
func (a *XunhuAdapter) HandleNotify(_ context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error) {
	if !verifySignature(n.Values, acc.Secret, false, sign.ModeKeyField, "hash") {
		return nil, errInvalidSignature
	}

	orderNo, orderType, err := model.ParseReference(n.Values.Get("trade_order_id"))
	if err != nil {
		return nil, err
	}

	// OD — заказ оплачен.
	return &Verdict{
		Success:   n.Values.Get("status") == "OD",
		OrderNo:   orderNo,
		OrderType: orderType,
	}, nil
}

// SuccessAck возвращает токен подтверждения сюньху.
func (a *XunhuAdapter) SuccessAck(_ *Notification) string { return "success" }

// FailureAck возвращает токен отказа сюньху.
func (a *XunhuAdapter) FailureAck() string { return "fail" }
