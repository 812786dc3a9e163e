package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starlight-labs/starshop/internal/models"
)

// appendAuditTx добавляет запись аудита внутри уже открытой транзакции.
// Каждый переход состояния фиксируется этой же транзакцией: после
// рестарта журнал отражает последнюю зафиксированную попытку.
func appendAuditTx(ctx context.Context, tx *sql.Tx, e models.AuditEntry) error {
	query := `INSERT INTO audit_log (entity_type, entity_id, from_state, to_state, actor, detail)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.ExecContext(ctx, query,
		e.EntityType, e.EntityID, e.FromState, e.ToState, e.Actor, e.Detail)
	return err
}

// AppendAudit добавляет одиночную запись аудита вне транзакции сущности.
func (s *Storage) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	const op = "storage.AppendAudit"
	query := `INSERT INTO audit_log (entity_type, entity_id, from_state, to_state, actor, detail)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.ExecContext(ctx, query,
		e.EntityType, e.EntityID, e.FromState, e.ToState, e.Actor, e.Detail)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListAuditByEntity возвращает журнал аудита по сущности, новые записи первыми.
func (s *Storage) ListAuditByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.AuditEntry, error) {
	const op = "storage.ListAuditByEntity"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, entity_type, entity_id, from_state, to_state, actor, detail, created_at
			  FROM audit_log
			  WHERE entity_type = $1 AND entity_id = $2
			  ORDER BY id DESC
			  LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.FromState,
			&e.ToState, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
