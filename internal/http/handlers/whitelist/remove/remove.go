// Package remove реализует HTTP-обработчик удаления аккаунта из whitelist.
package remove

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/middlewarectx"
	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
)

// Handler управляет HTTP-запросами на удаление из whitelist.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс управления whitelist.
type Service interface {
	RemoveFromWhitelist(ctx context.Context, accountID, actor string) (bool, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Убрать аккаунт из whitelist
// @Description Возвращает аккаунт под действие автоматического отключения.
// @Tags Whitelist
// @Produce  json
// @Param id path string true "ID аккаунта"
// @Success 200 {object} response.Response "Запись удалена"
// @Failure 404 {object} response.ErrorResponse "Записи не было"
// @Security BearerAuth
// @Router /whitelist/{id} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.whitelist.remove"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID := chi.URLParam(r, "id")
	actor, _ := middlewarectx.OperatorFromContext(r.Context())
	removed, err := h.service.RemoveFromWhitelist(r.Context(), accountID, actor)
	if err != nil {
		log.Error("failed to remove whitelist entry", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not remove whitelist entry"))
		return
	}
	if !removed {
		log.Warn("whitelist entry not found", "account_id", accountID)
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("whitelist entry not found"))
		return
	}

	log.Info("whitelist entry removed", "account_id", accountID)
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"account_id": accountID,
	}))
}
