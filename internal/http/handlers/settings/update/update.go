// Package update реализует HTTP-обработчик изменения настроек на лету.
// Настройки перекрывают конфигурационные значения по умолчанию
// и подхватываются фоновыми задачами на следующем тике.
package update

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
)

// Request — тело запроса на изменение настройки.
type Request struct {
	Value string `json:"value" validate:"required"`
}

// SettingsRepository определяет запись настроек.
type SettingsRepository interface {
	SetSetting(ctx context.Context, key, value string) error
}

// Handler управляет HTTP-запросами на изменение настроек.
type Handler struct {
	log      *slog.Logger
	settings SettingsRepository
	validate *validator.Validate
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, settings SettingsRepository) *Handler {
	return &Handler{
		log:      log,
		settings: settings,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Изменить настройку
// @Description Сохраняет значение настройки, перезаписывая существующее.
// @Tags Settings
// @Accept  json
// @Produce  json
// @Param key path string true "Имя настройки"
// @Param request body Request true "Новое значение"
// @Success 200 {object} response.Response "Настройка сохранена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Security BearerAuth
// @Router /settings/{key} [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.settings.update"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	key := chi.URLParam(r, "key")

	var req Request
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

	if err := h.settings.SetSetting(r.Context(), key, req.Value); err != nil {
		log.Error("failed to save setting", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not save setting"))
		return
	}

	actor, _ := middlewarectx.OperatorFromContext(r.Context())
	log.Info("setting updated", "key", key, "by", actor)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"key":   key,
		"value": req.Value,
	}))
}
