package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starlight-labs/starshop/internal/models"
)

// AddWhitelist добавляет аккаунт в whitelist детектора аномалий.
// Повторное добавление обновляет причину и срок.
func (s *Storage) AddWhitelist(ctx context.Context, e models.WhitelistEntry) error {
	const op = "storage.AddWhitelist"

	query := `INSERT INTO anomaly_whitelist (account_id, reason, added_by, expires_at)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (account_id)
			  DO UPDATE SET reason = EXCLUDED.reason, added_by = EXCLUDED.added_by,
			                expires_at = EXCLUDED.expires_at`
	if _, err := s.DB.ExecContext(ctx, query, e.AccountID, e.Reason, e.AddedBy, e.ExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveWhitelist удаляет запись whitelist. Удаление не ретроактивно:
// прошлые окна не переоцениваются.
func (s *Storage) RemoveWhitelist(ctx context.Context, accountID string) (int, error) {
	const op = "storage.RemoveWhitelist"

	result, err := s.DB.ExecContext(ctx,
		`DELETE FROM anomaly_whitelist WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// GetWhitelist возвращает запись whitelist по аккаунту, либо nil.
func (s *Storage) GetWhitelist(ctx context.Context, accountID string) (*models.WhitelistEntry, error) {
	const op = "storage.GetWhitelist"

	query := `SELECT account_id, reason, added_by, expires_at, created_at
			  FROM anomaly_whitelist WHERE account_id = $1`
	var e models.WhitelistEntry
	var expiresAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, accountID).Scan(
		&e.AccountID, &e.Reason, &e.AddedBy, &expiresAt, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

// ListWhitelist возвращает все записи whitelist.
func (s *Storage) ListWhitelist(ctx context.Context) ([]*models.WhitelistEntry, error) {
	const op = "storage.ListWhitelist"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT account_id, reason, added_by, expires_at, created_at FROM anomaly_whitelist`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.WhitelistEntry
	for rows.Next() {
		var e models.WhitelistEntry
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.AccountID, &e.Reason, &e.AddedBy, &expiresAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Time
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
