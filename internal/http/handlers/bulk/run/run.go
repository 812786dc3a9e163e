// Package run реализует HTTP-обработчик запуска массовой операции.
//
// Handler принимает операцию и селектор аккаунтов, выполняет batch
// и возвращает сводку с итогом по каждому аккаунту.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	bulk "github.com/starlight-labs/starshop/internal/services/bulk"
)

// Handler управляет HTTP-запросами на массовые операции.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс исполнителя массовых операций.
type Service interface {
	Run(ctx context.Context, req models.RunBulkRequest) (*models.BulkSummary, error)
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
// @Summary Запустить массовую операцию
// @Description Выполняет операцию над выбранными аккаунтами. Частичный провал не прерывает batch.
// @Tags Bulk
// @Accept  json
// @Produce  json
// @Param request body models.RunBulkRequest true "Операция и селектор"
// @Success 200 {object} response.Response{data=models.BulkSummary} "Сводка по batch"
// @Failure 400 {object} response.ErrorResponse "Неизвестная операция или пустой селектор"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Security BearerAuth
// @Router /bulk [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.bulk.run"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.RunBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if actor, ok := middlewarectx.OperatorFromContext(r.Context()); ok {
		req.Actor = actor
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	summary, err := h.service.Run(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, bulk.ErrUnknownOperation):
			log.Warn("unknown bulk operation", "operation", req.Operation)
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("unknown bulk operation"))
		case errors.Is(err, bulk.ErrEmptySelection):
			log.Warn("selector matched no accounts")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("selector matched no accounts"))
		default:
			log.Error("failed to run bulk operation", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not run bulk operation"))
		}
		return
	}

	log.Info("bulk operation finished",
		"operation", req.Operation, "total", summary.Total,
		"succeeded", summary.Succeeded, "failed", summary.Failed)
	render.JSON(w, r, response.StatusOKWithData(summary))
}
