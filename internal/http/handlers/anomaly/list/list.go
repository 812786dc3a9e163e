// Package list реализует HTTP-обработчик чтения алертов детектора аномалий.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
)

// defaultLimit ограничивает выдачу, когда лимит не задан в запросе.
const defaultLimit = 50

// View — алерт детектора в ответе API.
type View struct {
	ID          int64                    `json:"id"`
	AccountID   string                   `json:"account_id"`
	Score       int                      `json:"score"`
	IPCount     int                      `json:"ip_count"`
	IPThreshold int                      `json:"ip_threshold"`
	UADiversity int                      `json:"ua_diversity"`
	Density     int                      `json:"density"`
	WindowFrom  string                   `json:"window_from"`
	WindowTo    string                   `json:"window_to"`
	ActionTaken string                   `json:"action_taken"`
	Evidence    []models.AnomalyEvidence `json:"evidence"`
	CreatedAt   string                   `json:"created_at"`
}

// EventRepository определяет доступ к сохранённым алертам.
type EventRepository interface {
	ListAnomalyEvents(ctx context.Context, accountID string, limit int) ([]*models.AnomalyEvent, error)
}

// Handler управляет HTTP-запросами на чтение алертов.
type Handler struct {
	log    *slog.Logger
	events EventRepository
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, events EventRepository) *Handler {
	return &Handler{log: log, events: events}
}

// ServeHTTP godoc
// @Summary Алерты детектора по аккаунту
// @Description Возвращает последние алерты с доказательной базой.
// @Tags Anomaly
// @Produce  json
// @Param account_id query string true "ID аккаунта"
// @Param limit query int false "Максимум записей (по умолчанию 50)"
// @Success 200 {object} response.Response{data=[]View} "Алерты"
// @Failure 400 {object} response.ErrorResponse "Не указан аккаунт"
// @Security BearerAuth
// @Router /anomalies [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.anomaly.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		log.Warn("account_id is missing")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("account_id is required"))
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			log.Warn("invalid limit", "limit", raw)
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid limit"))
			return
		}
		limit = n
	}

	events, err := h.events.ListAnomalyEvents(r.Context(), accountID, limit)
	if err != nil {
		log.Error("failed to list anomaly events", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list anomaly events"))
		return
	}

	views := make([]View, 0, len(events))
	for _, e := range events {
		views = append(views, View{
			ID:          e.ID,
			AccountID:   e.AccountID,
			Score:       e.Score,
			IPCount:     e.IPCount,
			IPThreshold: e.IPThreshold,
			UADiversity: e.UADiversity,
			Density:     e.Density,
			WindowFrom:  e.WindowFrom.Format(time.RFC3339),
			WindowTo:    e.WindowTo.Format(time.RFC3339),
			ActionTaken: e.ActionTaken,
			Evidence:    e.Evidence,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	render.JSON(w, r, response.StatusOKWithData(views))
}
