// Package list реализует HTTP-обработчик чтения каталога тарифов.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
)

// View — тариф в ответе API.
type View struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Price             string `json:"price"`
	Days              int    `json:"days"`
	TrafficLimitBytes int64  `json:"traffic_limit_bytes"`
	ResetPolicy       string `json:"reset_policy"`
}

// PlanRepository определяет доступ к справочнику тарифов.
type PlanRepository interface {
	ListPlans(ctx context.Context) ([]*models.Plan, error)
}

// Handler управляет HTTP-запросами на чтение тарифов.
type Handler struct {
	log   *slog.Logger
	plans PlanRepository
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, plans PlanRepository) *Handler {
	return &Handler{log: log, plans: plans}
}

// ServeHTTP godoc
// @Summary Каталог тарифов
// @Description Возвращает список тарифов для показа клиенту.
// @Tags Plans
// @Produce  json
// @Success 200 {object} response.Response{data=[]View} "Тарифы"
// @Router /plans [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.plan.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		log.Error("failed to list plans", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list plans"))
		return
	}

	views := make([]View, 0, len(plans))
	for _, p := range plans {
		views = append(views, View{
			ID:                p.ID,
			Name:              p.Name,
			Price:             p.Price,
			Days:              p.Days,
			TrafficLimitBytes: p.TrafficLimitBytes,
			ResetPolicy:       string(p.ResetPolicy),
		})
	}
	render.JSON(w, r, response.StatusOKWithData(views))
}
