package models

import "time"

// BulkOperation — закрытое множество массовых операций.
type BulkOperation string

const (
	BulkResetTraffic BulkOperation = "reset-traffic"
	BulkDisable      BulkOperation = "disable"
	BulkDelete       BulkOperation = "delete"
	BulkChangeExpiry BulkOperation = "change-expiry"
	BulkChangePlan   BulkOperation = "change-plan"
)

// Valid сообщает, входит ли операция в поддерживаемое множество.
func (o BulkOperation) Valid() bool {
	switch o {
	case BulkResetTraffic, BulkDisable, BulkDelete, BulkChangeExpiry, BulkChangePlan:
		return true
	}
	return false
}

// BulkSelector задаёт набор аккаунтов: явный список идентификаторов
// либо фильтр по состоянию.
type BulkSelector struct {
	AccountIDs    []string   `json:"account_ids,omitempty"`
	Status        string     `json:"status,omitempty"`
	PlanID        string     `json:"plan_id,omitempty"`
	ExpiredBefore *time.Time `json:"expired_before,omitempty"`
}

// OutcomeStatus — итог операции по одному аккаунту.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// BulkOutcome — результат по одному аккаунту внутри batch-операции.
type BulkOutcome struct {
	AccountID string        `json:"account_id"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

// BulkSummary — сводка по batch-операции. Частичный провал — норма:
// batch никогда не прерывается из-за одного аккаунта.
type BulkSummary struct {
	Operation BulkOperation `json:"operation"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Outcomes  []BulkOutcome `json:"outcomes"`
}

// BulkJob — сохранённый запуск массовой операции.
type BulkJob struct {
	ID        string
	Operation BulkOperation
	Payload   string // сериализованный селектор и параметры
	Status    string // running | done
	Result    string // сериализованная BulkSummary
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunBulkRequest используется для приёма массовой операции из JSON-запроса.
type RunBulkRequest struct {
	Operation string       `json:"operation" validate:"required"`
	Selector  BulkSelector `json:"selector"`
	Actor     string       `json:"actor" validate:"required"`
	// Параметры отдельных операций.
	ExpiresAt string `json:"expires_at,omitempty"` // change-expiry, RFC3339
	PlanID    string `json:"plan_id,omitempty"`    // change-plan
}
