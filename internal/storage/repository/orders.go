package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starlight-labs/starshop/internal/models"
)

// ErrOrderNotFound возвращается, когда заказ с указанным ID отсутствует.
var ErrOrderNotFound = errors.New("order not found")

const orderColumns = `order_id, customer_id, plan_id, kind, state, payment_proof,
	target_account_id, created_at, decided_at, decided_by, delivery_attempts,
	last_failure_class, last_failure_reason, account_id`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var decidedAt sql.NullTime
	var decidedBy, failureClass, failureReason, accountID, targetAccountID sql.NullString
	err := row.Scan(&o.ID, &o.CustomerID, &o.PlanID, &o.Kind, &o.State, &o.PaymentProof,
		&targetAccountID, &o.CreatedAt, &decidedAt, &decidedBy, &o.DeliveryAttempts,
		&failureClass, &failureReason, &accountID)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		o.DecidedAt = &decidedAt.Time
	}
	o.DecidedBy = decidedBy.String
	o.LastFailureClass = models.FailureClass(failureClass.String)
	o.LastFailureReason = failureReason.String
	o.AccountID = accountID.String
	o.TargetAccountID = targetAccountID.String
	return &o, nil
}

// CreateOrder вставляет новый заказ в состоянии pending и пишет аудит
// в той же транзакции.
func (s *Storage) CreateOrder(ctx context.Context, o models.Order) error {
	const op = "storage.CreateOrder"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO orders (order_id, customer_id, plan_id, kind, state,
			      payment_proof, target_account_id)
			  VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`
	if _, err := tx.ExecContext(ctx, query,
		o.ID, o.CustomerID, o.PlanID, o.Kind, o.State, o.PaymentProof, o.TargetAccountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	audit := models.AuditEntry{
		EntityType: models.EntityOrder,
		EntityID:   o.ID,
		FromState:  "",
		ToState:    string(models.OrderStatePending),
		Actor:      fmt.Sprintf("customer:%d", o.CustomerID),
		Detail:     fmt.Sprintf("submitted, plan=%s kind=%s", o.PlanID, o.Kind),
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetOrder возвращает заказ по ID.
func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	const op = "storage.GetOrder"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	o, err := scanOrder(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// FindActiveOrder возвращает нетерминальный заказ клиента указанного типа,
// либо nil, если такого нет.
func (s *Storage) FindActiveOrder(ctx context.Context, customerID int64, kind models.OrderKind) (*models.Order, error) {
	const op = "storage.FindActiveOrder"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + orderColumns + ` FROM orders
			  WHERE customer_id = $1 AND kind = $2 AND state NOT IN ('delivered', 'rejected')
			  ORDER BY created_at DESC
			  LIMIT 1`
	o, err := scanOrder(s.DB.QueryRowContext(ctx, query, customerID, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// transitionOrder выполняет compare-and-swap перехода состояния заказа
// и пишет аудит в той же транзакции. Возвращает false, если заказ уже
// покинул ожидаемое состояние — второй конкурентный вызов становится no-op.
func (s *Storage) transitionOrder(ctx context.Context, id string, from []models.OrderState,
	setClause string, args []any, audit models.AuditEntry) (bool, error) {
	const op = "storage.transitionOrder"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	fromStates := make([]string, 0, len(from))
	for _, st := range from {
		fromStates = append(fromStates, string(st))
	}

	query := `UPDATE orders SET ` + setClause +
		fmt.Sprintf(` WHERE order_id = $%d AND state = ANY($%d)`, len(args)+1, len(args)+2)
	args = append(args, id, fromStates)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// MarkApproved переводит pending → approved. Возвращает false, если заказ
// уже не pending (конкурентное одобрение или отклонение).
func (s *Storage) MarkApproved(ctx context.Context, id, actor string) (bool, error) {
	return s.transitionOrder(ctx, id,
		[]models.OrderState{models.OrderStatePending},
		`state = 'approved', decided_at = now(), decided_by = $1`,
		[]any{actor},
		models.AuditEntry{
			EntityType: models.EntityOrder,
			EntityID:   id,
			FromState:  string(models.OrderStatePending),
			ToState:    string(models.OrderStateApproved),
			Actor:      actor,
		})
}

// MarkRejected переводит pending → rejected (терминально).
func (s *Storage) MarkRejected(ctx context.Context, id, actor, reason string) (bool, error) {
	return s.transitionOrder(ctx, id,
		[]models.OrderState{models.OrderStatePending},
		`state = 'rejected', decided_at = now(), decided_by = $1`,
		[]any{actor},
		models.AuditEntry{
			EntityType: models.EntityOrder,
			EntityID:   id,
			FromState:  string(models.OrderStatePending),
			ToState:    string(models.OrderStateRejected),
			Actor:      actor,
			Detail:     reason,
		})
}

// MarkDelivered переводит approved → delivered и проставляет аккаунт.
func (s *Storage) MarkDelivered(ctx context.Context, id, accountID, detail string) (bool, error) {
	return s.transitionOrder(ctx, id,
		[]models.OrderState{models.OrderStateApproved},
		`state = 'delivered', account_id = $1`,
		[]any{accountID},
		models.AuditEntry{
			EntityType: models.EntityOrder,
			EntityID:   id,
			FromState:  string(models.OrderStateApproved),
			ToState:    string(models.OrderStateDelivered),
			Actor:      "engine",
			Detail:     detail,
		})
}

// MarkFailed переводит approved → failed, увеличивает счётчик попыток
// и записывает классифицированную причину.
func (s *Storage) MarkFailed(ctx context.Context, id string, class models.FailureClass, reason string) (bool, error) {
	return s.transitionOrder(ctx, id,
		[]models.OrderState{models.OrderStateApproved},
		`state = 'failed', delivery_attempts = delivery_attempts + 1,
		 last_failure_class = $1, last_failure_reason = $2`,
		[]any{string(class), reason},
		models.AuditEntry{
			EntityType: models.EntityOrder,
			EntityID:   id,
			FromState:  string(models.OrderStateApproved),
			ToState:    string(models.OrderStateFailed),
			Actor:      "engine",
			Detail:     fmt.Sprintf("%s: %s", class, reason),
		})
}

// MarkRetrying переводит failed → approved для повторной доставки.
func (s *Storage) MarkRetrying(ctx context.Context, id, actor string) (bool, error) {
	return s.transitionOrder(ctx, id,
		[]models.OrderState{models.OrderStateFailed},
		`state = 'approved'`,
		[]any{},
		models.AuditEntry{
			EntityType: models.EntityOrder,
			EntityID:   id,
			FromState:  string(models.OrderStateFailed),
			ToState:    string(models.OrderStateApproved),
			Actor:      actor,
			Detail:     "retry delivery",
		})
}

// ListRedeliverable возвращает заказы в failed с transient-причиной,
// не исчерпавшие лимит попыток. Их подбирает фоновый проход доставки.
func (s *Storage) ListRedeliverable(ctx context.Context, maxAttempts, limit int) ([]*models.Order, error) {
	const op = "storage.ListRedeliverable"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + orderColumns + ` FROM orders
			  WHERE state = 'failed' AND last_failure_class = 'transient' AND delivery_attempts < $1
			  ORDER BY created_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListStaleApproved возвращает заказы, зависшие в approved дольше порога:
// процесс упал между фиксацией решения и итогом доставки. Их доводит
// до терминального состояния проход восстановления.
func (s *Storage) ListStaleApproved(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	const op = "storage.ListStaleApproved"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + orderColumns + ` FROM orders
			  WHERE state = 'approved' AND decided_at < $1
			  ORDER BY decided_at
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
