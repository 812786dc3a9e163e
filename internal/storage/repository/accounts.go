package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starlight-labs/starshop/internal/models"
)

// ErrAccountNotFound возвращается, когда аккаунт отсутствует в хранилище.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `account_id, customer_id, panel_uuid, plan_id, expires_at,
	traffic_limit_bytes, traffic_used_bytes, reset_policy, status, disabled_reason,
	last_reminded_days, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	var disabledReason sql.NullString
	var lastReminded sql.NullInt64
	err := row.Scan(&a.ID, &a.CustomerID, &a.PanelUUID, &a.PlanID, &a.ExpiresAt,
		&a.TrafficLimitBytes, &a.TrafficUsedBytes, &a.ResetPolicy, &a.Status,
		&disabledReason, &lastReminded, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.DisabledReason = disabledReason.String
	if lastReminded.Valid {
		days := int(lastReminded.Int64)
		a.LastRemindedDays = &days
	}
	return &a, nil
}

// CreateAccount вставляет локальное отражение аккаунта панели
// и пишет аудит в той же транзакции. Повторная вставка с тем же
// panel_uuid — конфликт уникальности, а не второй аккаунт.
func (s *Storage) CreateAccount(ctx context.Context, a models.Account, actor, detail string) error {
	const op = "storage.CreateAccount"
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

	query := `INSERT INTO accounts (account_id, customer_id, panel_uuid, plan_id,
			      expires_at, traffic_limit_bytes, traffic_used_bytes, reset_policy, status)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(ctx, query,
		a.ID, a.CustomerID, a.PanelUUID, a.PlanID, a.ExpiresAt,
		a.TrafficLimitBytes, a.TrafficUsedBytes, a.ResetPolicy, a.Status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	audit := models.AuditEntry{
		EntityType: models.EntityAccount,
		EntityID:   a.ID,
		FromState:  "",
		ToState:    string(a.Status),
		Actor:      actor,
		Detail:     detail,
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAccount возвращает аккаунт по ID.
func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.GetAccount"
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	a, err := scanAccount(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// GetAccountByPanelUUID возвращает аккаунт по внешнему идентификатору панели.
func (s *Storage) GetAccountByPanelUUID(ctx context.Context, panelUUID string) (*models.Account, error) {
	const op = "storage.GetAccountByPanelUUID"
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE panel_uuid = $1`
	a, err := scanAccount(s.DB.QueryRowContext(ctx, query, panelUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// SelectAccounts возвращает аккаунты по селектору bulk-операции.
func (s *Storage) SelectAccounts(ctx context.Context, sel models.BulkSelector) ([]*models.Account, error) {
	const op = "storage.SelectAccounts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var conds []string
	var args []any
	if len(sel.AccountIDs) > 0 {
		args = append(args, sel.AccountIDs)
		conds = append(conds, fmt.Sprintf("account_id = ANY($%d)", len(args)))
	}
	if sel.Status != "" {
		args = append(args, sel.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if sel.PlanID != "" {
		args = append(args, sel.PlanID)
		conds = append(conds, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if sel.ExpiredBefore != nil {
		args = append(args, *sel.ExpiredBefore)
		conds = append(conds, fmt.Sprintf("expires_at < $%d", len(args)))
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListActiveAccounts возвращает все активные аккаунты.
func (s *Storage) ListActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.SelectAccounts(ctx, models.BulkSelector{Status: string(models.AccountActive)})
}

// UpdateAccountProvisioning обновляет тариф, срок и лимит после
// успешного продления или смены тарифа.
func (s *Storage) UpdateAccountProvisioning(ctx context.Context, id, planID string,
	expiresAt time.Time, trafficLimit int64, resetPolicy models.ResetPolicy, actor, detail string) error {
	const op = "storage.UpdateAccountProvisioning"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE accounts
			  SET plan_id = $1, expires_at = $2, traffic_limit_bytes = $3, reset_policy = $4,
			      status = 'active', disabled_reason = NULL, last_reminded_days = NULL
			  WHERE account_id = $5`
	result, err := tx.ExecContext(ctx, query, planID, expiresAt, trafficLimit, resetPolicy, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}

	audit := models.AuditEntry{
		EntityType: models.EntityAccount,
		EntityID:   id,
		FromState:  string(models.AccountActive),
		ToState:    string(models.AccountActive),
		Actor:      actor,
		Detail:     detail,
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetAccountStatus изменяет статус аккаунта (disable/delete/enable)
// с записью аудита в той же транзакции.
func (s *Storage) SetAccountStatus(ctx context.Context, id string,
	status models.AccountStatus, reason, actor, detail string) error {
	const op = "storage.SetAccountStatus"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	if err := tx.QueryRowContext(ctx,
		`SELECT status FROM accounts WHERE account_id = $1 FOR UPDATE`, id).Scan(&prev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE accounts SET status = $1, disabled_reason = NULLIF($2, '') WHERE account_id = $3`
	if _, err := tx.ExecContext(ctx, query, status, reason, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	audit := models.AuditEntry{
		EntityType: models.EntityAccount,
		EntityID:   id,
		FromState:  prev,
		ToState:    string(status),
		Actor:      actor,
		Detail:     detail,
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateAccountUsage обновляет использованный трафик по данным панели.
func (s *Storage) UpdateAccountUsage(ctx context.Context, id string, usedBytes int64) error {
	const op = "storage.UpdateAccountUsage"
	query := `UPDATE accounts SET traffic_used_bytes = $1 WHERE account_id = $2`
	if _, err := s.DB.ExecContext(ctx, query, usedBytes, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetLastRemindedDays сохраняет маркер дедупликации напоминаний.
func (s *Storage) SetLastRemindedDays(ctx context.Context, id string, days int) error {
	const op = "storage.SetLastRemindedDays"
	query := `UPDATE accounts SET last_reminded_days = $1 WHERE account_id = $2`
	if _, err := s.DB.ExecContext(ctx, query, days, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
