package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starlight-labs/starshop/internal/models"
)

// CreateAnomalyEvent сохраняет алерт детектора вместе со снимком
// доказательной базы.
func (s *Storage) CreateAnomalyEvent(ctx context.Context, e models.AnomalyEvent) (int64, error) {
	const op = "storage.CreateAnomalyEvent"

	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO anomaly_events (account_id, score, ip_count, ip_threshold,
			      ua_diversity, density, window_from, window_to, action_taken, evidence)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			  RETURNING id`
	var id int64
	err = s.DB.QueryRowContext(ctx, query,
		e.AccountID, e.Score, e.IPCount, e.IPThreshold, e.UADiversity, e.Density,
		e.WindowFrom, e.WindowTo, e.ActionTaken, evidence).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ListAnomalyEvents возвращает последние алерты по аккаунту.
func (s *Storage) ListAnomalyEvents(ctx context.Context, accountID string, limit int) ([]*models.AnomalyEvent, error) {
	const op = "storage.ListAnomalyEvents"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, score, ip_count, ip_threshold, ua_diversity,
			      density, window_from, window_to, action_taken, evidence, created_at
			  FROM anomaly_events
			  WHERE account_id = $1
			  ORDER BY id DESC
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.AnomalyEvent
	for rows.Next() {
		var e models.AnomalyEvent
		var evidence []byte
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Score, &e.IPCount, &e.IPThreshold,
			&e.UADiversity, &e.Density, &e.WindowFrom, &e.WindowTo, &e.ActionTaken,
			&evidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
