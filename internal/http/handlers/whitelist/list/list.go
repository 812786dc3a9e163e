// Package list реализует HTTP-обработчик чтения whitelist детектора аномалий.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
)

// View — запись whitelist в ответе API.
type View struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	AddedBy   string `json:"added_by"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// WhitelistRepository определяет доступ к записям whitelist.
type WhitelistRepository interface {
	ListWhitelist(ctx context.Context) ([]*models.WhitelistEntry, error)
}

// Handler управляет HTTP-запросами на чтение whitelist.
type Handler struct {
	log       *slog.Logger
	whitelist WhitelistRepository
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, whitelist WhitelistRepository) *Handler {
	return &Handler{log: log, whitelist: whitelist}
}

// ServeHTTP godoc
// @Summary Список whitelist
// @Description Возвращает все записи whitelist, включая просроченные.
// @Tags Whitelist
// @Produce  json
// @Success 200 {object} response.Response{data=[]View} "Записи"
// @Security BearerAuth
// @Router /whitelist [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.whitelist.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	entries, err := h.whitelist.ListWhitelist(r.Context())
	if err != nil {
		log.Error("failed to list whitelist", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list whitelist"))
		return
	}

	now := time.Now().UTC()
	views := make([]View, 0, len(entries))
	for _, e := range entries {
		v := View{
			AccountID: e.AccountID,
			Reason:    e.Reason,
			AddedBy:   e.AddedBy,
			Active:    e.Active(now),
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.ExpiresAt != nil {
			v.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	render.JSON(w, r, response.StatusOKWithData(views))
}
