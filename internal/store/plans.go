// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ManuGH/reelstream/internal/domain/subscription"
)

const planColumns = "id, name, description, price, duration_days, features, is_active, created_at_ms, updated_at_ms"

func scanPlan(row scanner) (subscription.Plan, error) {
	var (
		p                subscription.Plan
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.DurationDays, &p.Features, &p.IsActive, &created, &updated); err != nil {
		return subscription.Plan{}, err
	}
	p.CreatedAt = fromMS(created)
	p.UpdatedAt = fromMS(updated)
	return p, nil
}

func planErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.ErrPlanNotFound
	}
	return mapErr(err)
}

func (s *Store) CreatePlan(ctx context.Context, p subscription.Plan) (subscription.Plan, error) {
	now := toMS(s.now().UTC())
	res, err := s.DB.ExecContext(ctx, `INSERT INTO subscription_plans
		(name, description, price, duration_days, features, is_active, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price, p.DurationDays, p.Features, boolInt(p.IsActive), now, now)
	if err != nil {
		return subscription.Plan{}, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return subscription.Plan{}, err
	}
	return s.GetPlan(ctx, id)
}

// GetPlan returns subscription.ErrPlanNotFound for unknown ids. Inactive
// plans are returned; callers decide whether they are purchasable.
func (s *Store) GetPlan(ctx context.Context, id int64) (subscription.Plan, error) {
	p, err := scanPlan(s.DB.QueryRowContext(ctx, "SELECT "+planColumns+" FROM subscription_plans WHERE id = ?", id))
	return p, planErr(err)
}

func (s *Store) ListPlans(ctx context.Context, activeOnly bool) ([]subscription.Plan, error) {
	q := "SELECT " + planColumns + " FROM subscription_plans"
	if activeOnly {
		q += " WHERE is_active = 1"
	}
	rows, err := s.DB.QueryContext(ctx, q+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []subscription.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, id int64, fn func(*subscription.Plan) error) (subscription.Plan, error) {
	var out subscription.Plan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPlan(tx.QueryRowContext(ctx, "SELECT "+planColumns+" FROM subscription_plans WHERE id = ?", id))
		if err != nil {
			return planErr(err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = id
		p.UpdatedAt = s.now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE subscription_plans SET
			name = ?, description = ?, price = ?, duration_days = ?, features = ?, is_active = ?, updated_at_ms = ?
			WHERE id = ?`,
			p.Name, p.Description, p.Price, p.DurationDays, p.Features, boolInt(p.IsActive), toMS(p.UpdatedAt), id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeactivatePlan soft-deletes a plan unless an entitled subscription still
// references it.
func (s *Store) DeactivatePlan(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM subscription_plans WHERE id = ?", id).Scan(&exists); err != nil {
			return planErr(err)
		}
		var inUse int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions
			WHERE plan_id = ? AND is_active = 1 AND end_at_ms > ?`, id, toMS(now)).Scan(&inUse)
		if err != nil {
			return err
		}
		if inUse > 0 {
			return subscription.ErrPlanInUse
		}
		_, err = tx.ExecContext(ctx, "UPDATE subscription_plans SET is_active = 0, updated_at_ms = ? WHERE id = ?", toMS(now), id)
		return err
	})
}
