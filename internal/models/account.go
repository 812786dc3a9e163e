package models

import "time"

// AccountStatus — локальный статус аккаунта.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountDisabled AccountStatus = "disabled"
	AccountDeleted  AccountStatus = "deleted"
)

// ResetPolicy — политика сброса трафика на панели.
type ResetPolicy string

const (
	ResetNone  ResetPolicy = "none"
	ResetDay   ResetPolicy = "day"
	ResetWeek  ResetPolicy = "week"
	ResetMonth ResetPolicy = "month"
)

// Account — локальное отражение аккаунта, заведённого на панели.
type Account struct {
	ID                string
	CustomerID        int64
	PanelUUID         string // внешний идентификатор на панели, уникален
	PlanID            string
	ExpiresAt         time.Time
	TrafficLimitBytes int64
	TrafficUsedBytes  int64
	ResetPolicy       ResetPolicy
	Status            AccountStatus
	DisabledReason    string // anomaly | manual | expired, пусто для активных
	LastRemindedDays  *int   // маркер дедупликации напоминаний: дней до истечения в момент последнего напоминания
	CreatedAt         time.Time
}

// Plan — тариф подписки. Цена хранится строкой для показа клиенту:
// оплата проходит вне системы, движок её не обрабатывает.
type Plan struct {
	ID                string
	Name              string
	Price             string
	Days              int
	TrafficLimitBytes int64
	ResetPolicy       ResetPolicy
}
