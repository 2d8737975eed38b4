package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/paygate-system/internal/gateway"
	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/repository"
)

type stubRepo struct {
	account    *model.PaymentAccount
	accountErr error

	byProvider    *model.PaymentAccount
	byProviderErr error

	order    *model.Order
	orderErr error

	recharge    *model.RechargeOrder
	rechargeErr error

	createRechargeErr error

	settlePurchaseAlready bool
	settlePurchaseErr     error
	settlePurchaseCalls   int

	settleRechargeAlready bool
	settleRechargeErr     error
	settleRechargeCalls   int
	settleRechargeRate    float64
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetPaymentAccount(ctx context.Context, id int64) (*model.PaymentAccount, error) {
	return s.account, s.accountErr
}

func (s *stubRepo) GetEnabledAccountByProvider(ctx context.Context, provider string) (*model.PaymentAccount, error) {
	return s.byProvider, s.byProviderErr
}

func (s *stubRepo) GetOrderByNo(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) GetRechargeByNo(ctx context.Context, orderNo string) (*model.RechargeOrder, error) {
	return s.recharge, s.rechargeErr
}

func (s *stubRepo) CreateRecharge(ctx context.Context, userID int64, orderNo string, amountCents int64) error {
	return s.createRechargeErr
}

func (s *stubRepo) SettlePurchase(ctx context.Context, orderNo string) (bool, error) {
	s.settlePurchaseCalls++
	return s.settlePurchaseAlready, s.settlePurchaseErr
}

func (s *stubRepo) SettleRecharge(ctx context.Context, orderNo string, bonusRate float64) (bool, error) {
	s.settleRechargeCalls++
	s.settleRechargeRate = bonusRate
	return s.settleRechargeAlready, s.settleRechargeErr
}

type stubAdapter struct {
	key string

	payResult *gateway.PayResult
	payErr    error
	payReq    gateway.PayRequest

	verdict   *gateway.Verdict
	notifyErr error
}

func (a *stubAdapter) Key() string { return a.key }

func (a *stubAdapter) Pay(ctx context.Context, acc *model.PaymentAccount, req gateway.PayRequest) (*gateway.PayResult, error) {
	a.payReq = req
	return a.payResult, a.payErr
}

func (a *stubAdapter) HandleNotify(ctx context.Context, acc *model.PaymentAccount, n *gateway.Notification) (*gateway.Verdict, error) {
	return a.verdict, a.notifyErr
}

func (a *stubAdapter) SuccessAck(n *gateway.Notification) string { return "OK" }

func (a *stubAdapter) FailureAck() string { return "NO" }

func enabledAccount() *model.PaymentAccount {
	return &model.PaymentAccount{
		ID:          7,
		Provider:    "stub",
		Name:        "Тестовый канал",
		ChannelCode: "1001",
		Secret:      "s",
		Enabled:     true,
	}
}

func TestInitiatePayment_Purchase(t *testing.T) {
	adapter := &stubAdapter{
		key:       "stub",
		payResult: &gateway.PayResult{PayURL: "https://pay.example/x"},
	}
	repo := &stubRepo{
		account: enabledAccount(),
		order:   &model.Order{OrderNo: "A1", AmountCents: 5000, Status: model.OrderStatusPending},
	}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example/", 0)

	res, err := svc.InitiatePayment(context.Background(), 7, "A1", model.OrderTypePurchase)
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if res.PayURL != "https://pay.example/x" || res.ChannelID != 7 || res.ChannelName != "Тестовый канал" {
		t.Fatalf("res = %+v", res)
	}
	if adapter.payReq.NotifyURL != "https://shop.example/api/pay/notify/stub" {
		t.Fatalf("NotifyURL = %q", adapter.payReq.NotifyURL)
	}
	if adapter.payReq.AmountCents != 5000 {
		t.Fatalf("AmountCents = %d", adapter.payReq.AmountCents)
	}
}

func TestInitiatePayment_DisabledAccount(t *testing.T) {
	acc := enabledAccount()
	acc.Enabled = false

	svc := NewService(&stubRepo{account: acc}, gateway.NewRegistry(), "https://shop.example", 0)

	_, err := svc.InitiatePayment(context.Background(), 7, "A1", model.OrderTypePurchase)
	if !errors.Is(err, repository.ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestInitiatePayment_UnknownProvider(t *testing.T) {
	svc := NewService(&stubRepo{account: enabledAccount()}, gateway.NewRegistry(), "https://shop.example", 0)

	_, err := svc.InitiatePayment(context.Background(), 7, "A1", model.OrderTypePurchase)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestInitiatePayment_OrderNotPending(t *testing.T) {
	adapter := &stubAdapter{key: "stub"}
	repo := &stubRepo{
		account: enabledAccount(),
		order:   &model.Order{OrderNo: "A1", Status: model.OrderStatusCancelled},
	}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	_, err := svc.InitiatePayment(context.Background(), 7, "A1", model.OrderTypePurchase)
	if !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("err = %v, want ErrOrderNotPayable", err)
	}
}

func TestInitiatePayment_TestOrderSynthesized(t *testing.T) {
	adapter := &stubAdapter{
		key:       "stub",
		payResult: &gateway.PayResult{QRCode: "qr-content"},
	}
	svc := NewService(&stubRepo{account: enabledAccount()}, gateway.NewRegistry(adapter), "https://shop.example", 0)

	res, err := svc.InitiatePayment(context.Background(), 7, "", model.OrderTypeTest)
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if res.OrderNo == "" || res.OrderNo[0] != 'T' {
		t.Fatalf("test order no = %q", res.OrderNo)
	}
	if adapter.payReq.AmountCents != 1 {
		t.Fatalf("test amount = %d", adapter.payReq.AmountCents)
	}
}

func TestInitiatePayment_NoPaymentTarget(t *testing.T) {
	adapter := &stubAdapter{key: "stub", payResult: nil}
	repo := &stubRepo{
		account: enabledAccount(),
		order:   &model.Order{OrderNo: "A1", Status: model.OrderStatusPending},
	}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	_, err := svc.InitiatePayment(context.Background(), 7, "A1", model.OrderTypePurchase)
	if !errors.Is(err, ErrNoPaymentTarget) {
		t.Fatalf("err = %v, want ErrNoPaymentTarget", err)
	}
}

func TestHandleNotify_SettlesPurchase(t *testing.T) {
	adapter := &stubAdapter{
		key:     "stub",
		verdict: &gateway.Verdict{Success: true, OrderNo: "A1", OrderType: model.OrderTypePurchase},
	}
	repo := &stubRepo{byProvider: enabledAccount()}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	res := svc.HandleNotify(context.Background(), "stub", &gateway.Notification{})
	if res.Ack != "OK" || res.Outcome != OutcomeSettled {
		t.Fatalf("res = %+v", res)
	}
	if repo.settlePurchaseCalls != 1 {
		t.Fatalf("SettlePurchase calls = %d", repo.settlePurchaseCalls)
	}
}

func TestHandleNotify_ReplayIsSuccessWithoutMutation(t *testing.T) {
	adapter := &stubAdapter{
		key:     "stub",
		verdict: &gateway.Verdict{Success: true, OrderNo: "A1", OrderType: model.OrderTypePurchase},
	}
	repo := &stubRepo{byProvider: enabledAccount(), settlePurchaseAlready: true}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	res := svc.HandleNotify(context.Background(), "stub", &gateway.Notification{})
	if res.Ack != "OK" || res.Outcome != OutcomeReplay {
		t.Fatalf("res = %+v", res)
	}
}

func TestHandleNotify_NegativeVerdictSkipsSettlement(t *testing.T) {
	adapter := &stubAdapter{
		key:     "stub",
		verdict: &gateway.Verdict{Success: false, OrderNo: "A1", OrderType: model.OrderTypePurchase},
	}
	repo := &stubRepo{byProvider: enabledAccount()}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	res := svc.HandleNotify(context.Background(), "stub", &gateway.Notification{})
	if res.Ack != "NO" || res.Outcome != OutcomeRejected {
		t.Fatalf("res = %+v", res)
	}
	if repo.settlePurchaseCalls != 0 {
		t.Fatalf("settlement must not run for negative verdict")
	}
}

func TestHandleNotify_GuardViolationIsFailureToken(t *testing.T) {
	adapter := &stubAdapter{
		key:     "stub",
		verdict: &gateway.Verdict{Success: true, OrderNo: "A1", OrderType: model.OrderTypePurchase},
	}
	repo := &stubRepo{byProvider: enabledAccount(), settlePurchaseErr: repository.ErrInsufficientStock}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 0)

	res := svc.HandleNotify(context.Background(), "stub", &gateway.Notification{})
	if res.Ack != "NO" || res.Outcome != OutcomeFailed {
		t.Fatalf("res = %+v", res)
	}
}

func TestHandleNotify_RechargePassesBonusRate(t *testing.T) {
	adapter := &stubAdapter{
		key:     "stub",
		verdict: &gateway.Verdict{Success: true, OrderNo: "R1", OrderType: model.OrderTypeRecharge},
	}
	repo := &stubRepo{byProvider: enabledAccount()}
	svc := NewService(repo, gateway.NewRegistry(adapter), "https://shop.example", 5)

	res := svc.HandleNotify(context.Background(), "stub", &gateway.Notification{})
	if res.Outcome != OutcomeSettled {
		t.Fatalf("res = %+v", res)
	}
	if repo.settleRechargeCalls != 1 || repo.settleRechargeRate != 5 {
		t.Fatalf("SettleRecharge calls = %d, rate = %v", repo.settleRechargeCalls, repo.settleRechargeRate)
	}
}

func TestHandleNotify_UnknownProvider(t *testing.T) {
	svc := NewService(&stubRepo{}, gateway.NewRegistry(), "https://shop.example", 0)

	res := svc.HandleNotify(context.Background(), "ghost", &gateway.Notification{})
	if res.Ack != "fail" || res.Outcome != OutcomeRejected {
		t.Fatalf("res = %+v", res)
	}
}

func TestCreateRecharge_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, gateway.NewRegistry(), "https://shop.example", 0)

	if _, err := svc.CreateRecharge(context.Background(), 1, 0); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}

	orderNo, err := svc.CreateRecharge(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("CreateRecharge error: %v", err)
	}
	if orderNo == "" || orderNo[0] != 'R' {
		t.Fatalf("orderNo = %q", orderNo)
	}
}

func TestPaymentStatus(t *testing.T) {
	repo := &stubRepo{
		order:    &model.Order{Status: model.OrderStatusCompleted},
		recharge: &model.RechargeOrder{Status: model.RechargeStatusPending},
	}
	svc := NewService(repo, gateway.NewRegistry(), "https://shop.example", 0)

	paid, err := svc.PaymentStatus(context.Background(), "A1", model.OrderTypePurchase)
	if err != nil || !paid {
		t.Fatalf("purchase: (%v, %v)", paid, err)
	}

	paid, err = svc.PaymentStatus(context.Background(), "R1", model.OrderTypeRecharge)
	if err != nil || paid {
		t.Fatalf("recharge: (%v, %v)", paid, err)
	}

	if _, err := svc.PaymentStatus(context.Background(), "X", model.OrderTypeTest); !errors.Is(err, ErrUnknownOrderType) {
		t.Fatalf("test type err = %v", err)
	}
}
