package models

import "time"

// WhitelistEntry — аккаунт, исключённый из автоматического отключения
// детектором аномалий. Такие аккаунты по-прежнему оцениваются,
// но действие ограничивается алертом.
type WhitelistEntry struct {
	AccountID string
	Reason    string
	AddedBy   string
	ExpiresAt *time.Time // nil — бессрочно
	CreatedAt time.Time
}

// Active сообщает, действует ли запись whitelist на момент now.
func (w WhitelistEntry) Active(now time.Time) bool {
	return w.ExpiresAt == nil || w.ExpiresAt.After(now)
}

// AnomalyEvidence — один элемент доказательной базы алерта.
type AnomalyEvidence struct {
	Time      time.Time `json:"time"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
}

// AnomalyEvent — объяснимый алерт детектора: численный score
// и сигналы, из которых он сложился.
type AnomalyEvent struct {
	ID          int64
	AccountID   string
	Score       int
	IPCount     int
	IPThreshold int
	UADiversity int
	Density     int
	WindowFrom  time.Time
	WindowTo    time.Time
	ActionTaken string // disabled | whitelisted | alerted
	Evidence    []AnomalyEvidence
	CreatedAt   time.Time
}

// Действия детектора, фиксируемые в AnomalyEvent.ActionTaken.
const (
	AnomalyActionDisabled    = "disabled"
	AnomalyActionWhitelisted = "whitelisted"
	AnomalyActionAlerted     = "alerted"
)

// AddWhitelistRequest используется для приёма записи whitelist из JSON-запроса.
type AddWhitelistRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	Actor     string `json:"actor" validate:"required"`
	ExpiresAt string `json:"expires_at,omitempty"` // RFC3339, пусто — бессрочно
}
