// Package add реализует HTTP-обработчик внесения аккаунта в whitelist
// детектора аномалий.
package add

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
)

// Handler управляет HTTP-запросами на добавление в whitelist.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс управления whitelist.
type Service interface {
	AddToWhitelist(ctx context.Context, req models.AddWhitelistRequest) (*models.WhitelistEntry, error)
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
// @Summary Внести аккаунт в whitelist
// @Description Исключает аккаунт из автоматического отключения детектором аномалий. Оценка продолжается, действие ограничивается алертом.
// @Tags Whitelist
// @Accept  json
// @Produce  json
// @Param request body models.AddWhitelistRequest true "Аккаунт и причина"
// @Success 200 {object} response.Response "Запись добавлена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Security BearerAuth
// @Router /whitelist [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.whitelist.add"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.AddWhitelistRequest
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

	entry, err := h.service.AddToWhitelist(r.Context(), req)
	if err != nil {
		log.Error("failed to add whitelist entry", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not add whitelist entry"))
		return
	}

	log.Info("whitelist entry added", "account_id", entry.AccountID, "by", entry.AddedBy)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"account_id": entry.AccountID,
	}))
}
