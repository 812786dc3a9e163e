package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starlight-labs/starshop/internal/models"
)

// ErrPlanNotFound возвращается, когда тариф отсутствует.
var ErrPlanNotFound = errors.New("plan not found")

// GetPlan возвращает тариф по ключу.
func (s *Storage) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	const op = "storage.GetPlan"

	query := `SELECT plan_id, name, price, days, traffic_limit_bytes, reset_policy
			  FROM plans WHERE plan_id = $1`
	var p models.Plan
	err := s.DB.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.Days, &p.TrafficLimitBytes, &p.ResetPolicy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// ListPlans возвращает все тарифы.
func (s *Storage) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	const op = "storage.ListPlans"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT plan_id, name, price, days, traffic_limit_bytes, reset_policy
			  FROM plans ORDER BY days`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Days, &p.TrafficLimitBytes, &p.ResetPolicy); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
