// Package approve реализует HTTP-обработчик одобрения заказа оператором.
//
// Одобрение сразу запускает доставку: создание или продление аккаунта
// на панели. Конкурирующие одобрения одного заказа безопасны: provisioning
// выполняется не более одного раза.
package approve

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

// Handler управляет HTTP-запросами на одобрение заказа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики одобрения.
type Service interface {
	Approve(ctx context.Context, orderID, actor string) (*models.Order, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Одобрить заказ
// @Description Переводит заказ pending -> approved и выполняет доставку на панель.
// @Tags Orders
// @Produce  json
// @Param id path string true "ID заказа"
// @Success 200 {object} response.Response "Итоговое состояние заказа"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 409 {object} response.ErrorResponse "Недопустимый переход состояния"
// @Security BearerAuth
// @Router /orders/{id}/approve [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.approve"
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

	decided, err := h.service.Approve(r.Context(), orderID, actor)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			log.Warn("order not found", "order_id", orderID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
		case errors.Is(err, order.ErrIllegalTransition):
			log.Warn("illegal transition", "order_id", orderID)
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("order is not awaiting decision"))
		default:
			log.Error("failed to approve order", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not approve order"))
		}
		return
	}

	log.Info("order decision applied",
		"order_id", orderID, "state", decided.State, "actor", actor)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"order_id":       decided.ID,
		"state":          string(decided.State),
		"account_id":     decided.AccountID,
		"failure_reason": decided.LastFailureReason,
	}))
}
