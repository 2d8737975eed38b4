// Package service реализует бизнес-логику платёжного шлюза:
// создание платежа у провайдера и обработку его уведомлений.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/paygate-system/internal/gateway"
	"github.com/mmeshcher/paygate-system/internal/model"
	"github.com/mmeshcher/paygate-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetPaymentAccount(ctx context.Context, id int64) (*model.PaymentAccount, error)
	GetEnabledAccountByProvider(ctx context.Context, provider string) (*model.PaymentAccount, error)
	GetOrderByNo(ctx context.Context, orderNo string) (*model.Order, error)
	GetRechargeByNo(ctx context.Context, orderNo string) (*model.RechargeOrder, error)
	CreateRecharge(ctx context.Context, userID int64, orderNo string, amountCents int64) error
	SettlePurchase(ctx context.Context, orderNo string) (bool, error)
	SettleRecharge(ctx context.Context, orderNo string, bonusRate float64) (bool, error)
}

// ErrUnknownProvider возвращается для провайдера без зарегистрированного адаптера.
var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrUnknownOrderType возвращается для неизвестного типа заказа.
	ErrUnknownOrderType = errors.New("unknown order type")
	// ErrOrderNotPayable возвращается для заказа вне ожидаемого начального статуса.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrNoPaymentTarget возвращается, когда провайдер не выдал платёжный адрес.
	ErrNoPaymentTarget = errors.New("could not obtain payment address")
)

// Итог обработки уведомления для метрик.
const (
	OutcomeSettled  = "settled"
	OutcomeReplay   = "replay"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Service содержит бизнес-логику платёжного шлюза.
type Service struct {
	repo          Repository
	registry      *gateway.Registry
	notifyBaseURL string
	bonusRate     float64
}

// NewService создаёт сервис с репозиторием, реестром адаптеров, внешним
// базовым адресом для callback-ов и ставкой бонуса пополнения в процентах.
func NewService(repo Repository, registry *gateway.Registry, notifyBaseURL string, bonusRate float64) *Service {
	return &Service{
		repo:          repo,
		registry:      registry,
		notifyBaseURL: strings.TrimRight(notifyBaseURL, "/"),
		bonusRate:     bonusRate,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// InitiateResult содержит платёжную цель и сведения о выбранном канале.
type InitiateResult struct {
	PayURL      string
	QRCode      string
	OrderNo     string
	OrderType   model.OrderType
	ChannelID   int64
	ChannelName string
}

// InitiatePayment выбирает платёжный аккаунт, загружает заказ по правилу
// его типа и запрашивает платёжную цель у адаптера провайдера.
func (s *Service) InitiatePayment(ctx context.Context, accountID int64, orderNo string, orderType model.OrderType) (*InitiateResult, error) {
	acc, err := s.repo.GetPaymentAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.Enabled {
		return nil, repository.ErrAccountDisabled
	}

	adapter, ok := s.registry.Get(acc.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, acc.Provider)
	}

	var (
		amount  int64
		subject string
	)
	switch orderType {
	case model.OrderTypePurchase:
		ord, err := s.repo.GetOrderByNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		if ord.Status != model.OrderStatusPending {
			return nil, fmt.Errorf("%w: status %s", ErrOrderNotPayable, ord.Status)
		}
		amount = ord.AmountCents
		subject = "Оплата заказа " + ord.OrderNo
	case model.OrderTypeRecharge:
		ro, err := s.repo.GetRechargeByNo(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		if ro.Status != model.RechargeStatusPending {
			return nil, fmt.Errorf("%w: recharge status %d", ErrOrderNotPayable, ro.Status)
		}
		amount = ro.AmountCents
		subject = "Пополнение кошелька " + ro.OrderNo
	case model.OrderTypeTest:
		// Тестовый заказ синтезируется и нигде не сохраняется: он нужен
		// только для прогона обмена с провайдером.
		orderNo = "T" + uuid.NewString()
		amount = 1
		subject = "Тестовый платёж"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderType, orderType)
	}

	req := gateway.PayRequest{
		OrderNo:     orderNo,
		OrderType:   orderType,
		AmountCents: amount,
		Subject:     subject,
		NotifyURL:   s.notifyBaseURL + "/api/pay/notify/" + acc.Provider,
		ReturnURL:   s.notifyBaseURL + "/paid",
	}

	res, err := adapter.Pay(ctx, acc, req)
	if err != nil || res == nil {
		// Транспортная и семантическая неудачи неразличимы для
		// вызывающего: платёжного адреса нет.
		return nil, ErrNoPaymentTarget
	}

	return &InitiateResult{
		PayURL:      res.PayURL,
		QRCode:      res.QRCode,
		OrderNo:     orderNo,
		OrderType:   orderType,
		ChannelID:   acc.ID,
		ChannelName: acc.Name,
	}, nil
}

// NotifyResult содержит ответный токен провайдеру и итог для метрик.
type NotifyResult struct {
	Ack     string
	Outcome string
}

// HandleNotify обрабатывает входящее уведомление провайдера и возвращает
// токен, который провайдер ожидает в теле ответа. Любая ошибка хранилища
// вырождается в токен отказа — провайдер повторит уведомление сам.
func (s *Service) HandleNotify(ctx context.Context, provider string, n *gateway.Notification) NotifyResult {
	adapter, ok := s.registry.Get(provider)
	if !ok {
		return NotifyResult{Ack: "fail", Outcome: OutcomeRejected}
	}

	acc, err := s.repo.GetEnabledAccountByProvider(ctx, provider)
	if err != nil {
		return NotifyResult{Ack: adapter.FailureAck(), Outcome: OutcomeRejected}
	}

	verdict, err := adapter.HandleNotify(ctx, acc, n)
	if err != nil {
		return NotifyResult{Ack: adapter.FailureAck(), Outcome: OutcomeRejected}
	}
	if !verdict.Success {
		// Неуспешный вердикт подтверждаем отказом без открытия транзакции.
		return NotifyResult{Ack: adapter.FailureAck(), Outcome: OutcomeRejected}
	}

	var already bool
	switch verdict.OrderType {
	case model.OrderTypePurchase:
		already, err = s.repo.SettlePurchase(ctx, verdict.OrderNo)
	case model.OrderTypeRecharge:
		already, err = s.repo.SettleRecharge(ctx, verdict.OrderNo, s.bonusRate)
	case model.OrderTypeTest:
		// Тестовые заказы не сохраняются, рассчитывать нечего.
		return NotifyResult{Ack: adapter.SuccessAck(n), Outcome: OutcomeSettled}
	default:
		return NotifyResult{Ack: adapter.FailureAck(), Outcome: OutcomeRejected}
	}
	if err != nil {
		return NotifyResult{Ack: adapter.FailureAck(), Outcome: OutcomeFailed}
	}

	if already {
		// Идемпотентный no-op: заказ уже рассчитан, провайдеру отвечаем
		// успехом, чтобы остановить его повторы.
		return NotifyResult{Ack: adapter.SuccessAck(n), Outcome: OutcomeReplay}
	}

	return NotifyResult{Ack: adapter.SuccessAck(n), Outcome: OutcomeSettled}
}

// CreateRecharge создаёт ожидающий оплаты заказ на пополнение и
// возвращает его бизнес-ключ.
func (s *Service) CreateRecharge(ctx context.Context, userID, amountCents int64) (string, error) {
	if amountCents <= 0 {
		return "", errors.New("recharge amount must be positive")
	}

	orderNo := "R" + uuid.NewString()
	if err := s.repo.CreateRecharge(ctx, userID, orderNo, amountCents); err != nil {
		return "", err
	}
	return orderNo, nil
}

// PaymentStatus сообщает, оплачен ли заказ. Используется фронтендом для
// опроса после показа QR-кода.
func (s *Service) PaymentStatus(ctx context.Context, orderNo string, orderType model.OrderType) (bool, error) {
	switch orderType {
	case model.OrderTypePurchase:
		ord, err := s.repo.GetOrderByNo(ctx, orderNo)
		if err != nil {
			return false, err
		}
		return ord.Status == model.OrderStatusPaid || ord.Status == model.OrderStatusCompleted, nil
	case model.OrderTypeRecharge:
		ro, err := s.repo.GetRechargeByNo(ctx, orderNo)
		if err != nil {
			return false, err
		}
		return ro.Status == model.RechargeStatusApproved, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOrderType, orderType)
	}
}
