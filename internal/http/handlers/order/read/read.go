// Package read реализует HTTP-обработчик чтения заказа.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// View — представление заказа в ответе API.
type View struct {
	ID                string     `json:"id"`
	CustomerID        int64      `json:"customer_id"`
	PlanID            string     `json:"plan_id"`
	Kind              string     `json:"kind"`
	State             string     `json:"state"`
	Terminal          bool       `json:"terminal"`
	PaymentProof      string     `json:"payment_proof"`
	TargetAccountID   string     `json:"target_account_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	DecidedBy         string     `json:"decided_by,omitempty"`
	DeliveryAttempts  int        `json:"delivery_attempts"`
	LastFailureClass  string     `json:"last_failure_class,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	AccountID         string     `json:"account_id,omitempty"`
}

// Handler управляет HTTP-запросами на чтение заказа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс чтения заказа.
type Service interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Получить заказ
// @Description Возвращает заказ со всеми полями машины состояний.
// @Tags Orders
// @Produce  json
// @Param id path string true "ID заказа"
// @Success 200 {object} response.Response{data=View} "Заказ"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Security BearerAuth
// @Router /orders/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")
	found, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Warn("order not found", "order_id", orderID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
			return
		}
		log.Error("failed to read order", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read order"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(View{
		ID:                found.ID,
		CustomerID:        found.CustomerID,
		PlanID:            found.PlanID,
		Kind:              string(found.Kind),
		State:             string(found.State),
		Terminal:          found.State.Terminal(),
		PaymentProof:      found.PaymentProof,
		TargetAccountID:   found.TargetAccountID,
		CreatedAt:         found.CreatedAt,
		DecidedAt:         found.DecidedAt,
		DecidedBy:         found.DecidedBy,
		DeliveryAttempts:  found.DeliveryAttempts,
		LastFailureClass:  string(found.LastFailureClass),
		LastFailureReason: found.LastFailureReason,
		AccountID:         found.AccountID,
	}))
}
