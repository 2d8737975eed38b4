// Package model содержит доменные сущности платёжного шлюза.
package model

import "time"

// PaymentAccount описывает настроенный экземпляр платёжного провайдера.
type PaymentAccount struct {
	ID          int64
	Provider    string
	Name        string
	ChannelCode string
	Secret      string
	Gateway     string
	Enabled     bool
	CreatedAt   time.Time
}

// OrderStatus описывает статус заказа на покупку.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Order описывает заказ на покупку товаров.
type Order struct {
	ID          int64
	OrderNo     string
	UserID      int64
	AmountCents int64
	Status      OrderStatus
	PaidAt      *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	Items       []OrderItem
}

// OrderItem описывает позицию заказа со ссылкой на товар.
type OrderItem struct {
	ID         int64
	OrderID    int64
	ProductID  int64
	Name       string
	Quantity   int64
	PriceCents int64
}

// ProductStatus описывает статус товара в каталоге.
type ProductStatus string

const (
	ProductStatusListed   ProductStatus = "listed"
	ProductStatusDelisted ProductStatus = "delisted"
)

// Product описывает товар с остатком и счётчиком продаж.
type Product struct {
	ID         int64
	Name       string
	Stock      int64
	Sales      int64
	IsPhysical bool
	IsCard     bool
	Status     ProductStatus
}

// RechargeStatus описывает статус заказа на пополнение кошелька.
type RechargeStatus int

const (
	RechargeStatusPending  RechargeStatus = 0
	RechargeStatusApproved RechargeStatus = 1
)

// RechargeOrder описывает заказ на пополнение баланса пользователя.
type RechargeOrder struct {
	ID          int64
	OrderNo     string
	UserID      int64
	AmountCents int64
	Status      RechargeStatus
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// User представляет пользователя с полями кошелька.
// Все суммы хранятся в копейках.
type User struct {
	ID                    int64
	Login                 string
	BalanceAvailableCents int64
	MoneyCents            int64
	GreenPowerCents       int64
	CreatedAt             time.Time
}

// Поля кошелька, изменяемые при расчёте. Используются в MoneyLog.Field.
const (
	WalletFieldBalance    = "balance_available"
	WalletFieldMoney      = "money"
	WalletFieldGreenPower = "green_power"
)

// MoneyLog описывает неизменяемую запись журнала движения средств.
// Инвариант: After = Before + Delta в каждой строке.
type MoneyLog struct {
	ID          int64
	UserID      int64
	Field       string
	DeltaCents  int64
	BeforeCents int64
	AfterCents  int64
	Memo        string
	BizType     string
	BizID       string
	CreatedAt   time.Time
}

// ActivityLog описывает запись журнала действий с before/after значением
// и структурированным дополнительным payload.
type ActivityLog struct {
	ID        int64
	UserID    int64
	Action    string
	Before    string
	After     string
	Extra     []byte
	CreatedAt time.Time
}
