// Package services содержит бизнес-логику обработки заказов: приём заявки,
// решение оператора и доставку на панель с гарантией не более одного
// эффективного provisioning-изменения на заказ.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starlight-labs/starshop/internal/lib/keylock"
	"github.com/starlight-labs/starshop/internal/lib/rabbitmq"
	"github.com/starlight-labs/starshop/internal/lib/sl"
	"github.com/starlight-labs/starshop/internal/models"
	"github.com/starlight-labs/starshop/internal/panel"
	"github.com/starlight-labs/starshop/internal/storage/repository"
)

// ErrDuplicateActiveOrder возвращается при попытке подать заявку,
// пока у клиента уже есть незавершённый заказ того же типа.
var ErrDuplicateActiveOrder = errors.New("customer already has an active order of this kind")

// ErrIllegalTransition возвращается, когда запрошенный переход
// недопустим из текущего состояния заказа.
var ErrIllegalTransition = errors.New("illegal order state transition")

// OrderRepository определяет методы хранилища для работы с заказами.
type OrderRepository interface {
	// CreateOrder сохраняет новый заказ в состоянии pending.
	CreateOrder(ctx context.Context, o models.Order) error
	// GetOrder возвращает заказ по ID.
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// FindActiveOrder ищет незавершённый заказ клиента указанного типа.
	FindActiveOrder(ctx context.Context, customerID int64, kind models.OrderKind) (*models.Order, error)
	// MarkApproved переводит pending -> approved. Возвращает false, если переход проиграл.
	MarkApproved(ctx context.Context, id, actor string) (bool, error)
	// MarkRejected переводит pending -> rejected.
	MarkRejected(ctx context.Context, id, actor, reason string) (bool, error)
	// MarkDelivered переводит approved -> delivered и привязывает аккаунт.
	MarkDelivered(ctx context.Context, id, accountID, detail string) (bool, error)
	// MarkFailed переводит approved -> failed с классификацией причины.
	MarkFailed(ctx context.Context, id string, class models.FailureClass, reason string) (bool, error)
	// MarkRetrying переводит failed -> approved для повторной доставки.
	MarkRetrying(ctx context.Context, id, actor string) (bool, error)
	// ListRedeliverable возвращает заказы с transient-ошибкой и запасом попыток.
	ListRedeliverable(ctx context.Context, maxAttempts, limit int) ([]*models.Order, error)
	// ListStaleApproved возвращает заказы, зависшие в approved дольше порога.
	ListStaleApproved(ctx context.Context, before time.Time, limit int) ([]*models.Order, error)
}

// AccountRepository определяет методы хранилища для аккаунтов.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a models.Account, actor, detail string) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByPanelUUID(ctx context.Context, panelUUID string) (*models.Account, error)
	UpdateAccountProvisioning(ctx context.Context, id, planID string, expiresAt time.Time,
		trafficLimit int64, resetPolicy models.ResetPolicy, actor, detail string) error
}

// PlanRepository определяет доступ к справочнику тарифов.
type PlanRepository interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
}

// PanelClient определяет операции панели, нужные для доставки.
type PanelClient interface {
	CreateUser(ctx context.Context, req panel.CreateUserRequest) (*panel.User, error)
	UpdateUser(ctx context.Context, req panel.UpdateUserRequest) (*panel.User, error)
	GetUserByUsername(ctx context.Context, username string) (*panel.User, error)
}

// Publisher публикует исходящие события движка.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// OrderService реализует машину состояний заказа и доставку на панель.
type OrderService struct {
	repo     OrderRepository
	accounts AccountRepository
	plans    PlanRepository
	panel    PanelClient
	pub      Publisher
	locks    *keylock.KeyLock
	log      *slog.Logger

	maxAttempts int
	staleAfter  time.Duration
	groupUUID   string
}

// NewOrderService создает новый экземпляр OrderService.
func NewOrderService(repo OrderRepository, accounts AccountRepository, plans PlanRepository,
	panelClient PanelClient, pub Publisher, log *slog.Logger,
	maxAttempts int, staleAfter time.Duration, groupUUID string) *OrderService {
	return &OrderService{
		repo:        repo,
		accounts:    accounts,
		plans:       plans,
		panel:       panelClient,
		pub:         pub,
		locks:       keylock.New(),
		log:         log,
		maxAttempts: maxAttempts,
		staleAfter:  staleAfter,
		groupUUID:   groupUUID,
	}
}

// MaskProof маскирует платёжный код: видны только первые и последние
// четыре символа. Оригинал нигде не сохраняется.
func MaskProof(proof string) string {
	proof = strings.TrimSpace(proof)
	if len(proof) <= 8 {
		return strings.Repeat("*", len(proof))
	}
	return proof[:4] + strings.Repeat("*", len(proof)-8) + proof[len(proof)-4:]
}

// Submit принимает заявку клиента и создает заказ в состоянии pending.
// У клиента может быть не более одного незавершённого заказа каждого типа.
func (s *OrderService) Submit(ctx context.Context, req models.SubmitOrderRequest) (*models.Order, error) {
	const op = "order.Submit"

	kind := models.OrderKind(req.Kind)
	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.repo.FindActiveOrder(ctx, req.CustomerID, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrDuplicateActiveOrder)
	}

	if kind == models.OrderKindRenewal {
		if req.TargetAccountID == "" {
			return nil, fmt.Errorf("%s: renewal requires target account", op)
		}
		acc, err := s.accounts.GetAccount(ctx, req.TargetAccountID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if acc.CustomerID != req.CustomerID {
			return nil, fmt.Errorf("%s: account does not belong to customer", op)
		}
	}

	order := models.Order{
		ID:              uuid.NewString(),
		CustomerID:      req.CustomerID,
		PlanID:          plan.ID,
		Kind:            kind,
		State:           models.OrderStatePending,
		PaymentProof:    MaskProof(req.PaymentProof),
		TargetAccountID: req.TargetAccountID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("order submitted",
		"order_id", order.ID, "customer_id", order.CustomerID, "kind", order.Kind)
	return &order, nil
}

// GetOrder возвращает заказ по ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// Approve одобряет заказ и запускает доставку. Переход pending -> approved
// защищён CAS в хранилище: из конкурирующих одобрений побеждает ровно одно,
// проигравшие возвращают актуальное состояние заказа без побочных эффектов.
func (s *OrderService) Approve(ctx context.Context, orderID, actor string) (*models.Order, error) {
	const op = "order.Approve"

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	won, err := s.repo.MarkApproved(ctx, orderID, actor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !won {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if order.State == models.OrderStatePending {
			return nil, fmt.Errorf("%s: %w", op, ErrIllegalTransition)
		}
		s.log.Info("approve lost transition race, returning current state",
			"order_id", orderID, "state", order.State)
		return order, nil
	}

	return s.deliverApproved(ctx, orderID, actor)
}

// Reject отклоняет заказ с указанием причины. Допустим только из pending.
func (s *OrderService) Reject(ctx context.Context, orderID, actor, reason string) (*models.Order, error) {
	const op = "order.Reject"

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	won, err := s.repo.MarkRejected(ctx, orderID, actor, reason)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !won {
		return nil, fmt.Errorf("%s: %w", op, ErrIllegalTransition)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.publishOutcome(order)
	return order, nil
}

// RetryDelivery повторяет доставку заказа из состояния failed.
func (s *OrderService) RetryDelivery(ctx context.Context, orderID, actor string) (*models.Order, error) {
	const op = "order.RetryDelivery"

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	won, err := s.repo.MarkRetrying(ctx, orderID, actor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !won {
		return nil, fmt.Errorf("%s: %w", op, ErrIllegalTransition)
	}

	return s.deliverApproved(ctx, orderID, actor)
}

// RunRedelivery периодически подбирает заказы с transient-ошибкой
// и повторяет их доставку до исчерпания лимита попыток. Первый проход
// выполняется сразу: после рестарта заказы, зависшие в approved,
// доводятся до итога без ожидания тика.
func (s *OrderService) RunRedelivery(ctx context.Context, interval time.Duration) {
	s.recoverStaleApproved(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.redeliverFailed(ctx)
			s.recoverStaleApproved(ctx)
		}
	}
}

// recoverStaleApproved повторно проводит через доставку заказы, зависшие
// в approved дольше порога: процесс упал между решением и итогом, и вызов
// панели мог примениться. Доставка сама распознаёт уже выполненный
// provisioning и не делает второго эффективного изменения.
func (s *OrderService) recoverStaleApproved(ctx context.Context) {
	const op = "order.recoverStaleApproved"

	before := time.Now().UTC().Add(-s.staleAfter)
	orders, err := s.repo.ListStaleApproved(ctx, before, 50)
	if err != nil {
		s.log.Error("failed to list stale approved orders", sl.Err(err))
		return
	}
	for _, order := range orders {
		s.locks.Lock(order.ID)
		if _, err := s.deliverApproved(ctx, order.ID, "recovery"); err != nil {
			s.log.Error("stale order recovery failed", "order_id", order.ID, sl.Err(err))
		}
		s.locks.Unlock(order.ID)
	}
	if len(orders) > 0 {
		s.log.Info("stale approved orders recovered", "picked", len(orders))
	}
}

func (s *OrderService) redeliverFailed(ctx context.Context) {
	const op = "order.redeliverFailed"

	orders, err := s.repo.ListRedeliverable(ctx, s.maxAttempts, 50)
	if err != nil {
		s.log.Error("failed to list redeliverable orders", sl.Err(err))
		return
	}
	for _, order := range orders {
		s.locks.Lock(order.ID)
		won, err := s.repo.MarkRetrying(ctx, order.ID, "redelivery")
		if err != nil {
			s.log.Error("failed to mark order retrying", "order_id", order.ID, sl.Err(err))
			s.locks.Unlock(order.ID)
			continue
		}
		if won {
			if _, err := s.deliverApproved(ctx, order.ID, "redelivery"); err != nil {
				s.log.Error("redelivery failed", "order_id", order.ID, sl.Err(err))
			}
		}
		s.locks.Unlock(order.ID)
	}
	if len(orders) > 0 {
		s.log.Info("redelivery pass finished", "picked", len(orders))
	}
}

// deliverApproved выполняет доставку заказа в состоянии approved.
// Ошибки панели классифицируются и фиксируются в заказе, а не возвращаются:
// transient-ошибки подберёт цикл повторной доставки.
func (s *OrderService) deliverApproved(ctx context.Context, orderID, actor string) (*models.Order, error) {
	const op = "order.deliverApproved"

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	accountID, err := s.deliver(ctx, order, actor)
	if err != nil {
		class := models.FailureTransient
		if panel.IsPermanent(err) {
			class = models.FailurePermanent
		}
		s.log.Error("delivery failed",
			"order_id", order.ID, "class", class, sl.Err(err))
		if _, markErr := s.repo.MarkFailed(ctx, order.ID, class, err.Error()); markErr != nil {
			s.log.Error("failed to record delivery failure", "order_id", order.ID, sl.Err(markErr))
		}
		return s.repo.GetOrder(ctx, orderID)
	}

	if _, err := s.repo.MarkDelivered(ctx, order.ID, accountID, "delivered by "+actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	delivered, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.publishOutcome(delivered)
	s.log.Info("order delivered", "order_id", order.ID, "account_id", accountID)
	return delivered, nil
}

// deliver выполняет provisioning на панели и возвращает ID аккаунта.
// Идемпотентность: уже привязанный аккаунт означает, что панель обновлена
// в прошлой попытке и повторный вызов не нужен; для новой покупки повтор
// распознаётся по детерминированному имени пользователя на панели.
func (s *OrderService) deliver(ctx context.Context, order *models.Order, actor string) (string, error) {
	if order.AccountID != "" {
		return order.AccountID, nil
	}

	plan, err := s.plans.GetPlan(ctx, order.PlanID)
	if err != nil {
		return "", err
	}

	if order.Kind == models.OrderKindRenewal {
		return s.deliverRenewal(ctx, order, plan, actor)
	}
	return s.deliverPurchase(ctx, order, plan, actor)
}

// PanelUsername строит детерминированное имя пользователя панели для заказа.
// Одному заказу всегда соответствует одно и то же имя, что позволяет
// распознать уже выполненное создание при повторной доставке.
func PanelUsername(order *models.Order) string {
	short := order.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("tg_%d_%s", order.CustomerID, short)
}

func (s *OrderService) deliverPurchase(ctx context.Context, order *models.Order,
	plan *models.Plan, actor string) (string, error) {
	username := PanelUsername(order)

	user, err := s.panel.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, panel.ErrNotFound) {
		return "", err
	}
	if user != nil {
		// Панель уже создала пользователя в прошлой попытке,
		// а локальная запись могла не успеть зафиксироваться.
		acc, err := s.accounts.GetAccountByPanelUUID(ctx, user.UUID)
		switch {
		case err == nil:
			return acc.ID, nil
		case errors.Is(err, repository.ErrAccountNotFound):
			return s.recordAccount(ctx, order, plan, user, actor)
		default:
			return "", err
		}
	}

	expireAt := time.Now().UTC().AddDate(0, 0, plan.Days)
	created, err := s.panel.CreateUser(ctx, panel.CreateUserRequest{
		Username:             username,
		Status:               panel.StatusActive,
		TrafficLimitBytes:    plan.TrafficLimitBytes,
		TrafficLimitStrategy: panel.ResetStrategy(plan.ResetPolicy),
		ExpireAt:             expireAt.Format(panel.ExpireAtFormat),
		ActiveInternalSquads: s.squads(),
	})
	if err != nil {
		return "", err
	}
	return s.recordAccount(ctx, order, plan, created, actor)
}

func (s *OrderService) recordAccount(ctx context.Context, order *models.Order,
	plan *models.Plan, user *panel.User, actor string) (string, error) {
	account := models.Account{
		ID:                uuid.NewString(),
		CustomerID:        order.CustomerID,
		PanelUUID:         user.UUID,
		PlanID:            plan.ID,
		ExpiresAt:         user.ExpireAt.Time,
		TrafficLimitBytes: user.TrafficLimitBytes,
		ResetPolicy:       plan.ResetPolicy,
		Status:            models.AccountActive,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, account, actor, "order "+order.ID); err != nil {
		return "", err
	}
	return account.ID, nil
}

// deliverRenewal продлевает существующий аккаунт: трафик добавляется
// к текущему лимиту, срок отсчитывается от большего из "сейчас"
// и текущей даты истечения. Цель считается от локальной записи аккаунта,
// а не от текущего состояния панели: локальная запись обновляется только
// после успешного вызова, поэтому повтор после таймаута шлёт те же
// абсолютные значения и не продлевает аккаунт второй раз.
func (s *OrderService) deliverRenewal(ctx context.Context, order *models.Order,
	plan *models.Plan, actor string) (string, error) {
	account, err := s.accounts.GetAccount(ctx, order.TargetAccountID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	base := account.ExpiresAt
	if base.Before(now) {
		base = now
	}
	newExpiry := base.AddDate(0, 0, plan.Days)
	newLimit := account.TrafficLimitBytes + plan.TrafficLimitBytes

	if _, err := s.panel.UpdateUser(ctx, panel.UpdateUserRequest{
		UUID:                 account.PanelUUID,
		Status:               panel.StatusActive,
		TrafficLimitBytes:    &newLimit,
		TrafficLimitStrategy: panel.ResetStrategy(plan.ResetPolicy),
		ExpireAt:             newExpiry.Format(panel.ExpireAtFormat),
	}); err != nil {
		return "", err
	}

	if err := s.accounts.UpdateAccountProvisioning(ctx, account.ID, plan.ID,
		newExpiry, newLimit, plan.ResetPolicy, actor, "order "+order.ID); err != nil {
		return "", err
	}
	return account.ID, nil
}

func (s *OrderService) squads() []string {
	if s.groupUUID == "" {
		return nil
	}
	return []string{s.groupUUID}
}

// publishOutcome отправляет событие об итоге заказа. Ошибка публикации
// не откатывает доставку: уведомление вторично по отношению к provisioning.
func (s *OrderService) publishOutcome(order *models.Order) {
	if s.pub == nil {
		return
	}
	event := models.OrderOutcomeEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Kind:       order.Kind,
		Status:     string(order.State),
		AccountID:  order.AccountID,
	}
	if err := s.pub.Publish(rabbitmq.RouteOrderOutcome, event); err != nil {
		s.log.Error("failed to publish order outcome", "order_id", order.ID, sl.Err(err))
	}
}
