package models

import "time"

// AuditEntry — запись журнала аудита. Журнал append-only и пишется
// в одной транзакции с изменением строки сущности: после рестарта
// по нему восстанавливается последняя зафиксированная попытка.
type AuditEntry struct {
	ID         int64
	EntityType string // order | account | bulk_job
	EntityID   string
	FromState  string
	ToState    string
	Actor      string
	Detail     string
	CreatedAt  time.Time
}

// Типы сущностей журнала аудита.
const (
	EntityOrder   = "order"
	EntityAccount = "account"
	EntityBulkJob = "bulk_job"
)
