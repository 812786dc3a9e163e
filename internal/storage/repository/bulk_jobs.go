package repository

import (
	"context"
	"fmt"

	"github.com/starlight-labs/starshop/internal/models"
)

// CreateBulkJob сохраняет запуск массовой операции в статусе running
// и пишет аудит в той же транзакции.
func (s *Storage) CreateBulkJob(ctx context.Context, j models.BulkJob) error {
	const op = "storage.CreateBulkJob"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO bulk_jobs (job_id, operation, payload, status, created_by)
			  VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, query,
		j.ID, j.Operation, j.Payload, j.Status, j.CreatedBy); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	audit := models.AuditEntry{
		EntityType: models.EntityBulkJob,
		EntityID:   j.ID,
		FromState:  "",
		ToState:    j.Status,
		Actor:      j.CreatedBy,
		Detail:     string(j.Operation),
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FinishBulkJob записывает итоговую сводку и переводит задание в done.
func (s *Storage) FinishBulkJob(ctx context.Context, jobID, result string) error {
	const op = "storage.FinishBulkJob"

	query := `UPDATE bulk_jobs SET status = 'done', result = $1, updated_at = now()
			  WHERE job_id = $2`
	if _, err := s.DB.ExecContext(ctx, query, result, jobID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
