// Package list реализует HTTP-обработчик чтения состояния узлов панели.
//
// Состояние кешируется в Redis на короткий срок: узлы опрашиваются
// операторским дашбордом часто, а меняются редко.
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
	"github.com/starlight-labs/starshop/internal/panel"
)

const cacheKey = "nodes:status"
const cacheTTL = 30 * time.Second

// View — состояние одного узла в ответе API.
type View struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// PanelClient определяет чтение узлов с панели.
type PanelClient interface {
	ListNodes(ctx context.Context) ([]panel.Node, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
}

// Handler управляет HTTP-запросами на чтение узлов.
type Handler struct {
	log   *slog.Logger
	panel PanelClient
	cache Cache
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, panelClient PanelClient, cache Cache) *Handler {
	return &Handler{log: log, panel: panelClient, cache: cache}
}

// ServeHTTP godoc
// @Summary Состояние узлов панели
// @Description Возвращает список узлов и их доступность.
// @Tags Nodes
// @Produce  json
// @Success 200 {object} response.Response{data=[]View} "Узлы"
// @Failure 502 {object} response.ErrorResponse "Панель недоступна"
// @Security BearerAuth
// @Router /nodes [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.nodes.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if h.cache != nil {
		var cached []View
		if found, err := h.cache.Get(cacheKey, &cached); err == nil && found {
			render.JSON(w, r, response.StatusOKWithData(cached))
			return
		}
	}

	nodes, err := h.panel.ListNodes(r.Context())
	if err != nil {
		log.Error("failed to list panel nodes", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("panel unavailable"))
		return
	}

	views := make([]View, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, View{Name: n.Name, Online: n.Online()})
	}

	if h.cache != nil {
		if err := h.cache.Set(cacheKey, views, cacheTTL); err != nil {
			log.Warn("failed to cache node status", sl.Err(err))
		}
	}
	render.JSON(w, r, response.StatusOKWithData(views))
}
