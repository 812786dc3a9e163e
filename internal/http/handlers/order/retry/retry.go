// Package retry реализует HTTP-обработчик ручного повтора доставки заказа.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	order "github.com/starlight-labs/starshop/internal/services/order"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// Handler управляет HTTP-запросами на повтор доставки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики повтора доставки.
type Service interface {
	RetryDelivery(ctx context.Context, orderID, actor string) (*models.Order, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Повторить доставку заказа
// @Description Переводит заказ failed -> approved и повторяет доставку. Уже выполненный provisioning не повторяется.
// @Tags Orders
// @Produce  json
// @Param id path string true "ID заказа"
// @Success 200 {object} response.Response "Итоговое состояние заказа"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 409 {object} response.ErrorResponse "Заказ не в состоянии failed"
// @Security BearerAuth
// @Router /orders/{id}/retry [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.retry"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")
	actor, ok := middlewarectx.OperatorFromContext(r.Context())
	if !ok {
		log.Error("operator not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	retried, err := h.service.RetryDelivery(r.Context(), orderID, actor)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			log.Warn("order not found", "order_id", orderID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
		case errors.Is(err, order.ErrIllegalTransition):
			log.Warn("order is not failed", "order_id", orderID)
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("order is not in failed state"))
		default:
			log.Error("failed to retry delivery", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not retry delivery"))
		}
		return
	}

	log.Info("delivery retried", "order_id", orderID, "state", retried.State, "actor", actor)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"order_id":       retried.ID,
		"state":          string(retried.State),
		"account_id":     retried.AccountID,
		"failure_reason": retried.LastFailureReason,
	}))
}
