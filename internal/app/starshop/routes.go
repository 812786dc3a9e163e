// Package starshop предоставляет маршруты операторского API.
package starshop

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	accountread "github.com/starlight-labs/starshop/internal/http/handlers/account/read"
	anomalylist "github.com/starlight-labs/starshop/internal/http/handlers/anomaly/list"
	auditread "github.com/starlight-labs/starshop/internal/http/handlers/audit/read"
	"github.com/starlight-labs/starshop/internal/http/handlers/auth/login"
	bulkrun "github.com/starlight-labs/starshop/internal/http/handlers/bulk/run"
	nodeslist "github.com/starlight-labs/starshop/internal/http/handlers/nodes/list"
	"github.com/starlight-labs/starshop/internal/http/handlers/order/approve"
	orderread "github.com/starlight-labs/starshop/internal/http/handlers/order/read"
	"github.com/starlight-labs/starshop/internal/http/handlers/order/reject"
	"github.com/starlight-labs/starshop/internal/http/handlers/order/retry"
	"github.com/starlight-labs/starshop/internal/http/handlers/order/submit"
	planlist "github.com/starlight-labs/starshop/internal/http/handlers/plan/list"
	settingsupdate "github.com/starlight-labs/starshop/internal/http/handlers/settings/update"
	whitelistadd "github.com/starlight-labs/starshop/internal/http/handlers/whitelist/add"
	whitelistlist "github.com/starlight-labs/starshop/internal/http/handlers/whitelist/list"
	whitelistremove "github.com/starlight-labs/starshop/internal/http/handlers/whitelist/remove"
	"github.com/starlight-labs/starshop/internal/http/middlewarectx"

	"github.com/starlight-labs/starshop/internal/cache"
	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/panel"
	anomalyservice "github.com/starlight-labs/starshop/internal/services/anomaly"
	authservice "github.com/starlight-labs/starshop/internal/services/auth"
	bulkservice "github.com/starlight-labs/starshop/internal/services/bulk"
	orderservice "github.com/starlight-labs/starshop/internal/services/order"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	authService *authservice.AuthService, orderService *orderservice.OrderService,
	bulkService *bulkservice.BulkService, anomalyService *anomalyservice.AnomalyService,
	db *repository.Storage, panelClient *panel.Client, cacheRedis *cache.Cache) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/login", login.New(logger, authService).ServeHTTP)
		r.Get("/plans", planlist.New(logger, db).ServeHTTP)

		// Приём заявок от чат-транспорта
		r.Post("/orders", submit.New(logger, orderService).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(authService, logger))
			r.Use(middlewarectx.RateLimitMiddleware(cfg.Panel.RateLimitRPS, 10, logger))
			r.Get("/orders/{id}", orderread.New(logger, orderService).ServeHTTP)
			r.Post("/orders/{id}/approve", approve.New(logger, orderService).ServeHTTP)
			r.Post("/orders/{id}/reject", reject.New(logger, orderService).ServeHTTP)
			r.Post("/orders/{id}/retry", retry.New(logger, orderService).ServeHTTP)
			r.Post("/bulk", bulkrun.New(logger, bulkService).ServeHTTP)
			r.Post("/whitelist", whitelistadd.New(logger, anomalyService).ServeHTTP)
			r.Get("/whitelist", whitelistlist.New(logger, db).ServeHTTP)
			r.Delete("/whitelist/{id}", whitelistremove.New(logger, anomalyService).ServeHTTP)
			r.Get("/anomalies", anomalylist.New(logger, db).ServeHTTP)
			r.Get("/audit/{entityType}/{entityID}", auditread.New(logger, db).ServeHTTP)
			r.Put("/settings/{key}", settingsupdate.New(logger, db).ServeHTTP)
			r.Get("/accounts/{id}", accountread.New(logger, db, panelClient).ServeHTTP)
			r.Get("/nodes", nodeslist.New(logger, panelClient, cacheRedis).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
