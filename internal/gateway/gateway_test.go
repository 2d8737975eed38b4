package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/sign"
	"github.com/mmeshcher/paygate-system/internal/transport"
)

func testAccount(gatewayURL string) *model.PaymentAccount {
	return &model.PaymentAccount{
		ID:          1,
		Provider:    "epay",
		Name:        "Тестовый канал",
		ChannelCode: "1001",
		Secret:      "s3cret",
		Gateway:     gatewayURL,
		Enabled:     true,
	}
}

func testRequest() PayRequest {
	return PayRequest{
		OrderNo:     "20240101001",
		OrderType:   model.OrderTypePurchase,
		AmountCents: 12550,
		Subject:     "Заказ",
		NotifyURL:   "https://shop.example/api/pay/notify/epay",
		ReturnURL:   "https://shop.example/paid",
	}
}

func TestRegistry(t *testing.T) {
	client := transport.NewClient(zap.NewNop())
	r := NewRegistry(NewEpayAdapter(client), NewPayjsAdapter(client))

	if _, ok := r.Get("epay"); !ok {
		t.Fatalf("epay adapter not registered")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Fatalf("unknown provider must not resolve")
	}
	if len(r.Keys()) != 2 {
		t.Fatalf("Keys() = %v", r.Keys())
	}
}

func TestCodeEquals(t *testing.T) {
	tests := []struct {
		v    any
		want string
		ok   bool
	}{
		{json.Number("200"), "200", true},
		{"200", "200", true},
		{" 200 ", "200", true},
		{json.Number("0"), "0", true},
		{float64(1), "1", true},
		{"fail", "200", false},
		{nil, "200", false},
	}

	for _, tt := range tests {
		if got := codeEquals(tt.v, tt.want); got != tt.ok {
			t.Fatalf("codeEquals(%v, %q) = %v, want %v", tt.v, tt.want, got, tt.ok)
		}
	}
}

func TestMajorUnits(t *testing.T) {
	if got := majorUnits(12550); got != "125.50" {
		t.Fatalf("majorUnits(12550) = %q", got)
	}
	if got := majorUnits(5); got != "0.05" {
		t.Fatalf("majorUnits(5) = %q", got)
	}
}

func TestEpayPay_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("money"); got != "125.50" {
			t.Errorf("money = %q, want major units", got)
		}
		if got := r.PostForm.Get("out_trade_no"); got != "20240101001-order" {
			t.Errorf("out_trade_no = %q", got)
		}

		// Проверяем подпись так же, как это сделал бы провайдер.
		params := valuesToParams(r.PostForm, "sign", "sign_type")
		want := sign.Sign(params, "s3cret", false, sign.ModeKeySuffix)
		if r.PostForm.Get("sign") != want {
			t.Errorf("sign = %q, want %q", r.PostForm.Get("sign"), want)
		}

		// Код приходит строкой — адаптер обязан принять оба представления.
		w.Write([]byte(`{"code":"1","payurl":"https://pay.example/go"}`))
	}))
	defer srv.Close()

	a := NewEpayAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res == nil || res.PayURL != "https://pay.example/go" {
		t.Fatalf("res = %+v", res)
	}
}

func TestEpayPay_FailureCodeReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"sign error"}`))
	}))
	defer srv.Close()

	a := NewEpayAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result for provider failure, got %+v", res)
	}
}

func TestEpayNotify(t *testing.T) {
	acc := testAccount("")

	values := url.Values{}
	values.Set("out_trade_no", "20240101001-order")
	values.Set("trade_no", "EP123")
	values.Set("trade_status", "TRADE_SUCCESS")
	values.Set("money", "125.50")
	values.Set("sign", sign.Sign(valuesToParams(values), acc.Secret, false, sign.ModeKeySuffix))
	values.Set("sign_type", "MD5")

	a := NewEpayAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), acc, &Notification{Values: values})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if !v.Success || v.OrderNo != "20240101001" || v.OrderType != model.OrderTypePurchase {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestEpayNotify_BadSignature(t *testing.T) {
	values := url.Values{}
	values.Set("out_trade_no", "20240101001-order")
	values.Set("trade_status", "TRADE_SUCCESS")
	values.Set("sign", "deadbeef")

	a := NewEpayAdapter(transport.NewClient(zap.NewNop()))

	if _, err := a.HandleNotify(context.Background(), testAccount(""), &Notification{Values: values}); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestCodepayPay_NestedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"qr_url":"https://qr.example/c"}}`))
	}))
	defer srv.Close()

	a := NewCodepayAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res == nil || res.QRCode != "https://qr.example/c" {
		t.Fatalf("res = %+v", res)
	}
}

func TestCodepayNotify_VerifiesByStatusQuery(t *testing.T) {
	var statusCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statusCalled = true
		if r.URL.Path != "/api/order_status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("pay_no") != "CP777" {
			t.Errorf("pay_no = %q", r.URL.Query().Get("pay_no"))
		}
		w.Write([]byte(`{"code":"200","data":{"status":"paid"}}`))
	}))
	defer srv.Close()

	values := url.Values{}
	values.Set("pay_id", "R42-recharge")
	values.Set("pay_no", "CP777")
	values.Set("verify_token", "tok-123")

	a := NewCodepayAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), testAccount(srv.URL), &Notification{Values: values})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if !statusCalled {
		t.Fatalf("server-to-server verification was not performed")
	}
	if !v.Success || v.OrderNo != "R42" || v.OrderType != model.OrderTypeRecharge {
		t.Fatalf("verdict = %+v", v)
	}

	// Подтверждение — эхо verify_token.
	if ack := a.SuccessAck(&Notification{Values: values}); ack != "tok-123" {
		t.Fatalf("SuccessAck = %q", ack)
	}
}

func TestCodepayNotify_UnpaidStatusIsFailureVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"data":{"status":"pending"}}`))
	}))
	defer srv.Close()

	values := url.Values{}
	values.Set("pay_id", "R42-recharge")
	values.Set("pay_no", "CP777")

	a := NewCodepayAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), testAccount(srv.URL), &Notification{Values: values})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if v.Success {
		t.Fatalf("unpaid status must produce failure verdict")
	}
}

func TestPayjsPay_MinorUnitsAndUppercaseSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["total_fee"] != "12550" {
			t.Errorf("total_fee = %q, want minor units", req["total_fee"])
		}

		params := map[string]string{}
		for k, v := range req {
			if k != "sign" {
				params[k] = v
			}
		}
		if want := sign.Sign(params, "s3cret", true, sign.ModeKeySuffix); req["sign"] != want {
			t.Errorf("sign = %q, want %q", req["sign"], want)
		}

		w.Write([]byte(`{"return_code":1,"code_url":"weixin://wxpay/abc"}`))
	}))
	defer srv.Close()

	a := NewPayjsAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res == nil || res.QRCode != "weixin://wxpay/abc" {
		t.Fatalf("res = %+v", res)
	}
}

func TestPayjsPay_MissingPayloadReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"return_code":1}`))
	}))
	defer srv.Close()

	a := NewPayjsAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res != nil {
		t.Fatalf("missing code_url must yield nil result, got %+v", res)
	}
}

func TestPayjsNotify_JSONBody(t *testing.T) {
	acc := testAccount("")

	params := map[string]string{
		"return_code":  "1",
		"out_trade_no": "20240101001-order",
		"total_fee":    "12550",
	}
	params["sign"] = sign.Sign(params, acc.Secret, true, sign.ModeKeySuffix)

	body, err := json.Marshal(map[string]any{
		"return_code":  1, // число, не строка
		"out_trade_no": params["out_trade_no"],
		"total_fee":    12550,
		"sign":         params["sign"],
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	a := NewPayjsAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), acc, &Notification{Body: body})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if !v.Success || v.OrderNo != "20240101001" || v.OrderType != model.OrderTypePurchase {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestPayjsNotify_BadSignature(t *testing.T) {
	acc := testAccount("")

	body := []byte(`{"return_code":1,"out_trade_no":"20240101001-order","sign":"DEADBEEF"}`)

	a := NewPayjsAdapter(transport.NewClient(zap.NewNop()))

	_, err := a.HandleNotify(context.Background(), acc, &Notification{Body: body})
	if !errors.Is(err, errInvalidSignature) {
		t.Fatalf("err = %v, want errInvalidSignature", err)
	}
}

func TestXunhuPay_KeyFieldHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		params := valuesToParams(r.PostForm, "hash")
		if want := sign.Sign(params, "s3cret", false, sign.ModeKeyField); r.PostForm.Get("hash") != want {
			t.Errorf("hash = %q, want %q", r.PostForm.Get("hash"), want)
		}
		w.Write([]byte(`{"errcode":0,"url":"https://pay.example/x","url_qrcode":"https://qr.example/x"}`))
	}))
	defer srv.Close()

	a := NewXunhuAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res == nil || res.PayURL == "" || res.QRCode == "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestXunhuNotify(t *testing.T) {
	acc := testAccount("")

	values := url.Values{}
	values.Set("trade_order_id", "20240101001-order")
	values.Set("status", "OD")
	values.Set("total_fee", "125.50")
	values.Set("hash", sign.Sign(valuesToParams(values), acc.Secret, false, sign.ModeKeyField))

	a := NewXunhuAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), acc, &Notification{Values: values})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if !v.Success || v.OrderNo != "20240101001" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestXunhuNotify_SuppliedKeyDoesNotForge(t *testing.T) {
	acc := testAccount("")

	// Отправитель не знает секрета: он подкладывает собственный key и
	// считает hash сам, над теми же отсортированными параметрами.
	values := url.Values{}
	values.Set("trade_order_id", "20240101001-order")
	values.Set("status", "OD")
	values.Set("key", "attacker")
	forged := md5.Sum([]byte("key=attacker&status=OD&trade_order_id=20240101001-order"))
	values.Set("hash", hex.EncodeToString(forged[:]))

	a := NewXunhuAdapter(transport.NewClient(zap.NewNop()))

	_, err := a.HandleNotify(context.Background(), acc, &Notification{Values: values})
	if !errors.Is(err, errInvalidSignature) {
		t.Fatalf("err = %v, want errInvalidSignature", err)
	}
}

func TestYungouPay_DataAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":"weixin://wxpay/yg"}`))
	}))
	defer srv.Close()

	a := NewYungouAdapter(transport.NewClient(zap.NewNop()))

	res, err := a.Pay(context.Background(), testAccount(srv.URL), testRequest())
	if err != nil {
		t.Fatalf("Pay error: %v", err)
	}
	if res == nil || res.QRCode != "weixin://wxpay/yg" {
		t.Fatalf("res = %+v", res)
	}
}

func TestYungouNotify_FailureStatus(t *testing.T) {
	acc := testAccount("")

	values := url.Values{}
	values.Set("out_trade_no", "20240101001-order")
	values.Set("pay_status", "0")
	values.Set("sign", sign.Sign(valuesToParams(values), acc.Secret, true, sign.ModeKeySuffix))

	a := NewYungouAdapter(transport.NewClient(zap.NewNop()))

	v, err := a.HandleNotify(context.Background(), acc, &Notification{Values: values})
	if err != nil {
		t.Fatalf("HandleNotify error: %v", err)
	}
	if v.Success {
		t.Fatalf("pay_status=0 must be failure verdict")
	}
}

func TestAckTokens(t *testing.T) {
	client := transport.NewClient(zap.NewNop())

	if ack := NewEpayAdapter(client).SuccessAck(nil); ack != "success" {
		t.Fatalf("epay ack = %q", ack)
	}
	if ack := NewPayjsAdapter(client).SuccessAck(nil); ack != "SUCCESS" {
		t.Fatalf("payjs ack = %q", ack)
	}
	if ack := NewYungouAdapter(client).FailureAck(); ack != "FAIL" {
		t.Fatalf("yungou fail ack = %q", ack)
	}
}
