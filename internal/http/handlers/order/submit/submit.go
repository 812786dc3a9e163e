// Package submit реализует HTTP-обработчик приёма заявки на заказ.
//
// Handler принимает JSON-запрос от чат-транспорта, валидирует его
// и создает заказ в состоянии pending, ожидающий решения оператора.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	order "github.com/starlight-labs/starshop/internal/services/order"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// Handler управляет HTTP-запросами на подачу заказа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики приёма заказа.
type Service interface {
	Submit(ctx context.Context, req models.SubmitOrderRequest) (*models.Order, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Подать заявку на заказ
// @Description Создает заказ в состоянии pending. У клиента может быть не более одного незавершённого заказа каждого типа.
// @Tags Orders
// @Accept  json
// @Produce  json
// @Param request body models.SubmitOrderRequest true "Данные заявки"
// @Success 200 {object} response.Response "Заказ создан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 409 {object} response.ErrorResponse "У клиента уже есть активный заказ"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /orders [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.submit"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	created, err := h.service.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrDuplicateActiveOrder):
			log.Warn("duplicate active order", "customer_id", req.CustomerID)
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("customer already has an active order"))
		case errors.Is(err, repository.ErrPlanNotFound):
			log.Warn("unknown plan", "plan_id", req.PlanID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("unknown plan"))
		case errors.Is(err, repository.ErrAccountNotFound):
			log.Warn("unknown target account", "account_id", req.TargetAccountID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("unknown target account"))
		default:
			log.Error("failed to submit order", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not submit order"))
		}
		return
	}

	log.Info("order submitted", "order_id", created.ID)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"order_id": created.ID,
		"state":    string(created.State),
	}))
}
