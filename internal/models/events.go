package models

import "time"

// Исходящие события движка. Публикуются в RabbitMQ; чат-транспорт
// сам форматирует из них сообщения пользователям и оператору.

// OrderOutcomeEvent — итог обработки заказа для уведомления клиента.
// Клиент видит только обобщённый статус, без внутренних причин.
type OrderOutcomeEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID int64     `json:"customer_id"`
	Kind       OrderKind `json:"kind"`
	Status     string    `json:"status"` // delivered | rejected | pending
	AccountID  string    `json:"account_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// ReminderEvent — напоминание о приближающемся истечении подписки.
type ReminderEvent struct {
	AccountID  string    `json:"account_id"`
	CustomerID int64     `json:"customer_id"`
	DaysLeft   int       `json:"days_left"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AnomalyAlertEvent — алерт для оператора с доказательной базой.
type AnomalyAlertEvent struct {
	AccountID   string            `json:"account_id"`
	Score       int               `json:"score"`
	IPCount     int               `json:"ip_count"`
	IPThreshold int               `json:"ip_threshold"`
	UADiversity int               `json:"ua_diversity"`
	Density     int               `json:"density"`
	ActionTaken string            `json:"action_taken"`
	Evidence    []AnomalyEvidence `json:"evidence"`
}
