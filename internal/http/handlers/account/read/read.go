// Package read реализует HTTP-обработчик чтения аккаунта.
//
// Ответ собирается из локальной записи и, по возможности, свежего
// использования трафика с панели. Недоступная панель не ломает чтение:
// тогда возвращаются последние известные данные.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/starlight-labs/starshop/internal/http/response"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// View — представление аккаунта в ответе API.
type View struct {
	ID                string    `json:"id"`
	CustomerID        int64     `json:"customer_id"`
	PlanID            string    `json:"plan_id"`
	ExpiresAt         time.Time `json:"expires_at"`
	TrafficLimitBytes int64     `json:"traffic_limit_bytes"`
	TrafficUsedBytes  int64     `json:"traffic_used_bytes"`
	Status            string    `json:"status"`
	DisabledReason    string    `json:"disabled_reason,omitempty"`
	SubscriptionURL   string    `json:"subscription_url,omitempty"`
}

// AccountRepository определяет доступ к локальным записям аккаунтов.
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccountUsage(ctx context.Context, id string, usedBytes int64) error
}

// PanelClient определяет чтение свежего состояния с панели.
type PanelClient interface {
	GetUser(ctx context.Context, uuid string) (*panel.User, error)
}

// Handler управляет HTTP-запросами на чтение аккаунта.
type Handler struct {
	log      *slog.Logger
	accounts AccountRepository
	panel    PanelClient
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, accounts AccountRepository, panelClient PanelClient) *Handler {
	return &Handler{log: log, accounts: accounts, panel: panelClient}
}

// ServeHTTP godoc
// @Summary Получить аккаунт
// @Description Возвращает аккаунт с актуальным использованием трафика.
// @Tags Accounts
// @Produce  json
// @Param id path string true "ID аккаунта"
// @Success 200 {object} response.Response{data=View} "Аккаунт"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Security BearerAuth
// @Router /accounts/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accountID := chi.URLParam(r, "id")
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			log.Warn("account not found", "account_id", accountID)
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("account not found"))
			return
		}
		log.Error("failed to read account", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read account"))
		return
	}

	view := View{
		ID:                account.ID,
		CustomerID:        account.CustomerID,
		PlanID:            account.PlanID,
		ExpiresAt:         account.ExpiresAt,
		TrafficLimitBytes: account.TrafficLimitBytes,
		TrafficUsedBytes:  account.TrafficUsedBytes,
		Status:            string(account.Status),
		DisabledReason:    account.DisabledReason,
	}

	if account.Status != models.AccountDeleted {
		user, err := h.panel.GetUser(r.Context(), account.PanelUUID)
		if err != nil {
			log.Warn("panel unavailable, serving last known usage", sl.Err(err))
		} else {
			view.TrafficUsedBytes = user.UserTraffic.UsedTrafficBytes
			view.SubscriptionURL = user.SubscriptionURL
			if err := h.accounts.UpdateAccountUsage(r.Context(), account.ID,
				user.UserTraffic.UsedTrafficBytes); err != nil {
				log.Warn("failed to persist refreshed usage", sl.Err(err))
			}
		}
	}

	render.JSON(w, r, response.StatusOKWithData(view))
}
