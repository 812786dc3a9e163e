// Package read реализует HTTP-обработчик чтения журнала аудита по сущности.
package read

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
)

// defaultLimit ограничивает выдачу, когда лимит не задан в запросе.
const defaultLimit = 50

// View — запись аудита в ответе API.
type View struct {
	ID         int64  `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	FromState  string `json:"from_state,omitempty"`
	ToState    string `json:"to_state"`
	Actor      string `json:"actor"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// AuditRepository определяет доступ к журналу аудита.
type AuditRepository interface {
	ListAuditByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.AuditEntry, error)
}

// Handler управляет HTTP-запросами на чтение журнала аудита.
type Handler struct {
	log   *slog.Logger
	audit AuditRepository
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, audit AuditRepository) *Handler {
	return &Handler{log: log, audit: audit}
}

// ServeHTTP godoc
// @Summary История переходов сущности
// @Description Возвращает последние записи аудита для заказа, аккаунта или массовой операции.
// @Tags Audit
// @Produce  json
// @Param entityType path string true "Тип сущности" Enums(order, account, bulk_job)
// @Param entityID path string true "ID сущности"
// @Param limit query int false "Максимум записей (по умолчанию 50)"
// @Success 200 {object} response.Response{data=[]View} "Записи аудита"
// @Failure 400 {object} response.ErrorResponse "Неизвестный тип сущности"
// @Security BearerAuth
// @Router /audit/{entityType}/{entityID} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.audit.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	entityType := chi.URLParam(r, "entityType")
	switch entityType {
	case models.EntityOrder, models.EntityAccount, models.EntityBulkJob:
	default:
		log.Warn("unknown entity type", "entity_type", entityType)
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown entity type"))
		return
	}
	entityID := chi.URLParam(r, "entityID")

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

	entries, err := h.audit.ListAuditByEntity(r.Context(), entityType, entityID, limit)
	if err != nil {
		log.Error("failed to list audit entries", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list audit entries"))
		return
	}

	views := make([]View, 0, len(entries))
	for _, e := range entries {
		views = append(views, View{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			FromState:  e.FromState,
			ToState:    e.ToState,
			Actor:      e.Actor,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	render.JSON(w, r, response.StatusOKWithData(views))
}
