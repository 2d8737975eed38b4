package gateway

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

// CodepayAdapter интегрирует «кодпэй»: QR-содержимое приходит вложенным
// в объект data, код успеха 200 числом или строкой. Уведомлению этот
// провайдер не доверяет: статус платежа сверяется отдельным запросом
// сервер-сервер, и вердикт строится только по его результату.
type CodepayAdapter struct {
	client *transport.Client
}

// NewCodepayAdapter создаёт адаптер кодпэй.
func NewCodepayAdapter(client *transport.Client) *CodepayAdapter {
	return &CodepayAdapter{client: client}
}

// Key возвращает ключ провайдера.
func (a *CodepayAdapter) Key() string { return "codepay" }

// Pay создаёт платёж и извлекает QR-содержимое из data.qr_url.
func (a *CodepayAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req PayRequest) (*PayResult, error) {
	params := map[string]string{
		"id":         acc.ChannelCode,
		"pay_id":     req.Reference(),
		"type":       "1",
		"price":      majorUnits(req.AmountCents),
		"notify_url": req.NotifyURL,
		"return_url": req.ReturnURL,
	}
	params["sign"] = sign.Sign(params, acc.Secret, false, sign.ModeKeySuffix)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := a.client.PostForm(ctx, acc.Gateway+"/create_order", form)
	if err != nil {
		return nil, err
	}

	if !codeEquals(resp["code"], "200") {
		return nil, nil
	}

	data := nestedMap(resp, "data")
	qr := stringField(data, "qr_url")
	if qr == "" {
		return nil, nil
	}

	return &PayResult{QRCode: qr}, nil
}

// HandleNotify сверяет платёж запросом статуса и строит вердикт по нему.
func (a *CodepayAdapter) HandleNotify(ctx context.Context, acc *model.PaymentAccount, n *Notification) (*Verdict, error) {
	payID := n.Values.Get("pay_id")
	payNo := n.Values.Get("pay_no")
	if payID == "" || payNo == "" {
		return nil, fmt.Errorf("codepay notify: missing pay_id or pay_no")
	}

	orderNo, orderType, err := model.ParseReference(payID)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"id":     acc.ChannelCode,
		"pay_no": payNo,
	}
	query["sign"] = sign.Sign(query, acc.Secret, false, sign.ModeKeySuffix)

	statusURL := fmt.Sprintf("%s/api/order_status?id=%s&pay_no=%s&sign=%s",
		acc.Gateway,
		url.QueryEscape(query["id"]),
		url.QueryEscape(payNo),
		query["sign"],
	)

	resp, err := a.client.Get(ctx, statusURL)
	if err != nil {
		return nil, err
	}

	success := codeEquals(resp["code"], "200") &&
		stringField(nestedMap(resp, "data"), "status") == "paid"

	return &Verdict{
		Success:   success,
		OrderNo:   orderNo,
		OrderType: orderType,
	}, nil
}

// SuccessAck возвращает эхо токена verify_token из уведомления.
func (a *CodepayAdapter) SuccessAck(n *Notification) string {
	if n == nil {
		return ""
	}
	return n.Values.Get("verify_token")
}

// FailureAck возвращает токен отказа кодпэй.
func (a *CodepayAdapter) FailureAck() string { return "fail" }
