package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// GetSetting возвращает значение настройки и признак её наличия.
func (s *Storage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	const op = "storage.GetSetting"

	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return value, true, nil
}

// GetIntSetting возвращает числовую настройку либо значение по умолчанию.
func (s *Storage) GetIntSetting(ctx context.Context, key string, def int) (int, error) {
	value, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// SetSetting сохраняет настройку, перезаписывая существующую.
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	const op = "storage.SetSetting"

	query := `INSERT INTO settings (key, value) VALUES ($1, $2)
			  ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.DB.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
