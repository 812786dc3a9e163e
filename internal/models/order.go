// Package models содержит доменные структуры движка выполнения заказов:
// заказы, аккаунты, тарифы, записи аудита, а также вспомогательные типы
// для приёма данных из JSON-запросов.
package models

import "time"

// OrderState — состояние заказа в машине состояний.
type OrderState string

// Допустимые состояния заказа. Терминальные: rejected и delivered.
// failed не терминально: заказ можно повторно доставить.
const (
	OrderStatePending   OrderState = "pending"
	OrderStateApproved  OrderState = "approved"
	OrderStateDelivered OrderState = "delivered"
	OrderStateRejected  OrderState = "rejected"
	OrderStateFailed    OrderState = "failed"
)

// Terminal сообщает, является ли состояние терминальным.
func (s OrderState) Terminal() bool {
	return s == OrderStateDelivered || s == OrderStateRejected
}

// OrderKind — тип заказа: новая покупка или продление.
type OrderKind string

const (
	OrderKindPurchase OrderKind = "purchase"
	OrderKindRenewal  OrderKind = "renewal"
)

// FailureClass — классификация причины неудачной доставки.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// Order — заказ клиента на покупку или продление подписки.
// Инвариант: на заказ приходится не более одного эффективного
// provisioning-изменения на панели, сколько бы раз ни повторялась доставка.
type Order struct {
	ID                string
	CustomerID        int64
	PlanID            string
	Kind              OrderKind
	State             OrderState
	PaymentProof      string // замаскированный платёжный код, оригинал не хранится
	TargetAccountID   string // для продления: какой аккаунт продлеваем
	CreatedAt         time.Time
	DecidedAt         *time.Time
	DecidedBy         string
	DeliveryAttempts  int
	LastFailureClass  FailureClass
	LastFailureReason string
	AccountID         string // заполняется после успешной доставки
}

// SubmitOrderRequest используется для приёма заявки из JSON-запроса.
type SubmitOrderRequest struct {
	CustomerID      int64  `json:"customer_id" validate:"required"`
	PlanID          string `json:"plan_id" validate:"required"`
	Kind            string `json:"kind" validate:"required,oneof=purchase renewal"`
	PaymentProof    string `json:"payment_proof" validate:"required"`
	TargetAccountID string `json:"target_account_id,omitempty"` // обязателен для renewal
}
