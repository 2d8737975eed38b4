// Package settle содержит чистую логику переходов состояний расчёта:
// охранные условия, классификацию итогового статуса заказа и
// вычисление бонуса пополнения. Пакет не зависит от хранилища и сети.
package settle

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmeshcher/paygate-system/internal/model"
)

// Decision описывает решение охранного условия перед расчётом.
type Decision int

const (
	// Proceed — заказ в ожидаемом начальном статусе, переход разрешён.
	Proceed Decision = iota
	// AlreadySettled — заказ уже рассчитан; повторная попытка является
	// идемпотентным no-op и отвечает провайдеру успехом без мутаций.
	AlreadySettled
)

// ErrNotSettleable возвращается для статусов, из которых переход запрещён
// (например cancelled или refunded).
var ErrNotSettleable = errors.New("order is not settleable from its status")

// PurchaseMachine описывает конечный автомат заказа на покупку:
// pending -> paid | completed, переходы только вперёд.
type PurchaseMachine struct{}

// Guard проверяет допустимость расчёта из текущего статуса.
func (PurchaseMachine) Guard(status model.OrderStatus) (Decision, error) {
	switch status {
	case model.OrderStatusPending:
		return Proceed, nil
	case model.OrderStatusPaid, model.OrderStatusCompleted:
		return AlreadySettled, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotSettleable, status)
	}
}

// Final определяет итоговый статус оплаченного заказа: completed, если
// ни одна позиция не требует отгрузки или ручной выдачи кода; иначе paid.
func (PurchaseMachine) Final(items []model.Product) model.OrderStatus {
	for _, p := range items {
		if p.IsPhysical || p.IsCard {
			return model.OrderStatusPaid
		}
	}
	return model.OrderStatusCompleted
}

// RechargeMachine описывает конечный автомат заказа на пополнение:
// pending(0) -> approved(1).
type RechargeMachine struct{}

// Guard проверяет допустимость расчёта пополнения из текущего статуса.
func (RechargeMachine) Guard(status model.RechargeStatus) (Decision, error) {
	switch status {
	case model.RechargeStatusPending:
		return Proceed, nil
	case model.RechargeStatusApproved:
		return AlreadySettled, nil
	default:
		return 0, fmt.Errorf("%w: recharge status %d", ErrNotSettleable, status)
	}
}

// BonusCents вычисляет бонус пополнения в копейках: amount × rate / 100
// с округлением до целой копейки (двух десятичных знаков суммы).
func BonusCents(amountCents int64, ratePercent float64) int64 {
	if ratePercent <= 0 || amountCents <= 0 {
		return 0
	}
	return int64(math.Round(float64(amountCents) * ratePercent / 100))
}
