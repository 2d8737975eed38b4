package model

import (
	"errors"
	"fmt"
	"strings"
)

// OrderType задаёт тип заказа, участвующий в составной ссылке расчёта.
type OrderType string

const (
	OrderTypePurchase OrderType = "order"
	OrderTypeRecharge OrderType = "recharge"
	OrderTypeTest     OrderType = "test"
)

// ErrInvalidReference возвращается при разборе ссылки с неизвестным суффиксом типа.
var ErrInvalidReference = errors.New("invalid settlement reference")

// KnownOrderType сообщает, является ли токен допустимым типом заказа.
func KnownOrderType(t string) bool {
	switch OrderType(t) {
	case OrderTypePurchase, OrderTypeRecharge, OrderTypeTest:
		return true
	}
	return false
}

// BuildReference собирает составную ссылку расчёта {order_no}-{order_type}.
// Ссылка передаётся провайдеру как его собственный идентификатор заказа
// и возвращается в уведомлении без изменений.
func BuildReference(orderNo string, orderType OrderType) string {
	return orderNo + "-" + string(orderType)
}

// ParseReference разбирает составную ссылку по последнему дефису.
// Суффикс обязан совпадать с известным типом заказа: номер заказа может
// сам содержать дефисы, но токен типа зарезервирован за последней частью.
func ParseReference(ref string) (orderNo string, orderType OrderType, err error) {
	idx := strings.LastIndex(ref, "-")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	no, t := ref[:idx], ref[idx+1:]
	if !KnownOrderType(t) {
		return "", "", fmt.Errorf("%w: unknown order type %q", ErrInvalidReference, t)
	}

	return no, OrderType(t), nil
}
