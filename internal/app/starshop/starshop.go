// Package starshop собирает движок выполнения заказов: хранилище, кеш,
// клиент панели, брокер событий, фоновые циклы и HTTP-сервер операторского API.
package starshop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/starlight-labs/starshop/internal/cache"
	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/jwt"
	"github.com/starlight-labs/starshop/internal/lib/keylock"
	"github.com/starlight-labs/starshop/internal/lib/rabbitmq"
	"github.com/starlight-labs/starshop/internal/migrations"
	"github.com/starlight-labs/starshop/internal/panel"
	anomalyservice "github.com/starlight-labs/starshop/internal/services/anomaly"
	authservice "github.com/starlight-labs/starshop/internal/services/auth"
	bulkservice "github.com/starlight-labs/starshop/internal/services/bulk"
	expiryservice "github.com/starlight-labs/starshop/internal/services/expiry"
	orderservice "github.com/starlight-labs/starshop/internal/services/order"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// App — собранный процесс движка.
type App struct {
	server *http.Server
	logger *slog.Logger
	cfg    *config.Config
	db     *repository.Storage
	amqp   *amqp.Connection

	orders  *orderservice.OrderService
	anomaly *anomalyservice.AnomalyService
	expiry  *expiryservice.ExpiryService
}

// New собирает все зависимости приложения. Недоступная панель —
// фатальная ошибка: без неё движок бесполезен.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitConnectionString, 5, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	channel, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	publisher := rabbitmq.NewEventPublisher(channel)

	panelClient := panel.NewClient(cfg.Panel, logger)
	if err := panelClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%s: panel unreachable: %w", op, err)
	}

	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	authService := authservice.NewAuthService(cfg.Operator, jwtMaker)

	// Общие замки по аккаунтам: bulk и планировщик не должны вести
	// provisioning одного аккаунта одновременно.
	accountLocks := keylock.New()

	orderService := orderservice.NewOrderService(db, db, db, panelClient, publisher,
		logger, cfg.Provisioning.MaxDeliveryAttempts, cfg.Provisioning.StaleApprovedAfter,
		cfg.Panel.GroupUUID)
	bulkService := bulkservice.NewBulkService(db, db, db, db, panelClient, accountLocks,
		logger, cfg.Bulk.Concurrency, cfg.Bulk.ForcePlanResend)
	anomalyService := anomalyservice.NewAnomalyService(db, db, db, db, panelClient,
		publisher, cacheRedis, logger, cfg.Anomaly)
	expiryService := expiryservice.NewExpiryService(db, db, panelClient, publisher,
		accountLocks, logger, cfg.Reminders)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, authService, orderService, bulkService,
		anomalyService, db, panelClient, cacheRedis)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		logger:  logger,
		cfg:     cfg,
		db:      db,
		amqp:    conn,
		orders:  orderService,
		anomaly: anomalyService,
		expiry:  expiryService,
	}, nil
}

// Run запускает HTTP-сервер и фоновые циклы и блокируется
// до отмены контекста или ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	go a.orders.RunRedelivery(ctx, a.cfg.Provisioning.RedeliverInterval)
	go a.anomaly.Run(ctx)
	go a.expiry.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.db.DB.Close()
		_ = a.amqp.Close()
		return err
	}
}
