package panel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/starlight-labs/starshop/internal/models"
)

// Статусы аккаунта в терминах панели.
const (
	StatusActive   = "ACTIVE"
	StatusDisabled = "DISABLED"
)

// ResetStrategy переводит локальную политику сброса трафика
// в строку, которую понимает панель.
func ResetStrategy(p models.ResetPolicy) string {
	switch p {
	case models.ResetDay:
		return "DAY"
	case models.ResetWeek:
		return "WEEK"
	case models.ResetMonth:
		return "MONTH"
	default:
		return "NO_RESET"
	}
}

// Time разбирает метки времени панели: ISO 8601, возможно
// с дробными секундами и суффиксом Z.
type Time struct {
	time.Time
}

// UnmarshalJSON реализует разбор формата панели.
func (t *Time) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	clean := strings.TrimSuffix(raw, "Z")
	if i := strings.IndexByte(clean, '.'); i >= 0 {
		clean = clean[:i]
	}
	parsed, err := time.Parse("2006-01-02T15:04:05", clean)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

// User — аккаунт в представлении панели.
type User struct {
	UUID              string      `json:"uuid"`
	Username          string      `json:"username"`
	Status            string      `json:"status"`
	TrafficLimitBytes int64       `json:"trafficLimitBytes"`
	ExpireAt          Time        `json:"expireAt"`
	SubscriptionURL   string      `json:"subscriptionUrl"`
	UserTraffic       UserTraffic `json:"userTraffic"`
}

// UserTraffic — использованный трафик аккаунта.
type UserTraffic struct {
	UsedTrafficBytes int64 `json:"usedTrafficBytes"`
}

// CreateUserRequest — создание аккаунта на панели.
type CreateUserRequest struct {
	Username             string   `json:"username"`
	Status               string   `json:"status"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy"`
	ExpireAt             string   `json:"expireAt"`
	ActiveInternalSquads []string `json:"activeInternalSquads"`
}

// UpdateUserRequest — частичное обновление аккаунта. Нулевые поля
// не отправляются и остаются без изменений на панели.
type UpdateUserRequest struct {
	UUID                 string   `json:"uuid"`
	Status               string   `json:"status,omitempty"`
	TrafficLimitBytes    *int64   `json:"trafficLimitBytes,omitempty"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy,omitempty"`
	ExpireAt             string   `json:"expireAt,omitempty"`
	ActiveInternalSquads []string `json:"activeInternalSquads,omitempty"`
}

// Node — узел панели и его состояние.
type Node struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	IsConnected bool   `json:"isConnected"`
}

// Online сообщает, считается ли узел доступным. Панели разных версий
// отдают состояние в разных полях.
func (n Node) Online() bool {
	switch strings.ToLower(n.Status) {
	case "connected", "healthy", "online", "active", "true":
		return true
	}
	return n.IsConnected
}

// RequestLogItem — запись журнала обращений к подписке аккаунта.
// Основной источник сигналов для детектора аномалий.
type RequestLogItem struct {
	Timestamp Time   `json:"requestAt"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

// ExpireAtFormat — формат, в котором панель принимает сроки действия.
const ExpireAtFormat = "2006-01-02T15:04:05Z"
