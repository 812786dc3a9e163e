// Package reject реализует HTTP-обработчик отклонения заказа оператором.
package reject

import (
	"context"
	"encoding/json"
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

// Request — причина отклонения.
type Request struct {
	Reason string `json:"reason"`
}

// Handler управляет HTTP-запросами на отклонение заказа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики отклонения.
type Service interface {
	Reject(ctx context.Context, orderID, actor, reason string) (*models.Order, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отклонить заказ
// @Description Переводит заказ pending -> rejected с указанием причины.
// @Tags Orders
// @Accept  json
// @Produce  json
// @Param id path string true "ID заказа"
// @Param request body Request false "Причина отклонения"
// @Success 200 {object} response.Response "Заказ отклонён"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 409 {object} response.ErrorResponse "Недопустимый переход состояния"
// @Security BearerAuth
// @Router /orders/{id}/reject [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.reject"
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

	var req Request
	if r.Body != nil {
		// Тело необязательно: отклонение без причины допустимо.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	rejected, err := h.service.Reject(r.Context(), orderID, actor, req.Reason)
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
			log.Error("failed to reject order", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not reject order"))
		}
		return
	}

	log.Info("order rejected", "order_id", orderID, "actor", actor)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"order_id": rejected.ID,
		"state":    string(rejected.State),
	}))
}
