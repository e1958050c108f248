// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ManuGH/reelstream/internal/domain/subscription"
)

// SubscriptionFilter selects subscriptions for admin listings.
type SubscriptionFilter struct {
	// Status is "active", "expired" or "" / "all".
	Status string
	UserID int64
	Page   Page
}

const subscriptionColumns = `id, user_id, plan_id, start_at_ms, end_at_ms, is_active, auto_renew, payment_status,
	created_at_ms, updated_at_ms`

func scanSubscription(row scanner) (subscription.Subscription, error) {
	var (
		sub              subscription.Subscription
		start, end       int64
		created, updated int64
		paymentStatus    string
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &start, &end, &sub.IsActive, &sub.AutoRenew, &paymentStatus, &created, &updated)
	if err != nil {
		return subscription.Subscription{}, err
	}
	sub.StartDate = fromMS(start)
	sub.EndDate = fromMS(end)
	sub.PaymentStatus = subscription.PaymentStatus(paymentStatus)
	sub.CreatedAt = fromMS(created)
	sub.UpdatedAt = fromMS(updated)
	return sub, nil
}

func subscriptionErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.ErrNotFound
	}
	return mapErr(err)
}

func insertSubscription(ctx context.Context, tx *sql.Tx, sub subscription.Subscription) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO subscriptions
		(user_id, plan_id, start_at_ms, end_at_ms, is_active, auto_renew, payment_status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.PlanID, toMS(sub.StartDate), toMS(sub.EndDate), boolInt(sub.IsActive), boolInt(sub.AutoRenew),
		string(sub.PaymentStatus), toMS(sub.CreatedAt), toMS(sub.UpdatedAt))
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

// CreateSubscription inserts sub. Timestamps default to the store clock.
func (s *Store) CreateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertSubscription(ctx, tx, sub)
		return err
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	return s.GetSubscription(ctx, id)
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (subscription.Subscription, error) {
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id))
	return sub, subscriptionErr(err)
}

// SubscriptionsForUser returns every subscription of a user, newest first.
func (s *Store) SubscriptionsForUser(ctx context.Context, userID int64) ([]subscription.Subscription, error) {
	return s.querySubscriptions(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE user_id = ? ORDER BY id DESC", userID)
}

// ListSubscriptions returns subscriptions for admin views. "expired" means
// EndDate is not after now, regardless of the active flag.
func (s *Store) ListSubscriptions(ctx context.Context, f SubscriptionFilter, now time.Time) ([]subscription.Subscription, error) {
	q := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE 1 = 1"
	var args []any
	switch f.Status {
	case "active":
		q += " AND is_active = 1 AND end_at_ms > ?"
		args = append(args, toMS(now))
	case "expired":
		q += " AND end_at_ms <= ?"
		args = append(args, toMS(now))
	}
	if f.UserID > 0 {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	p := f.Page.normalize()
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Skip)
	return s.querySubscriptions(ctx, q, args...)
}

func (s *Store) querySubscriptions(ctx context.Context, q string, args ...any) ([]subscription.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func updateSubscriptionRow(ctx context.Context, tx *sql.Tx, sub subscription.Subscription) error {
	_, err := tx.ExecContext(ctx, `UPDATE subscriptions SET
		plan_id = ?, start_at_ms = ?, end_at_ms = ?, is_active = ?, auto_renew = ?, payment_status = ?, updated_at_ms = ?
		WHERE id = ?`,
		sub.PlanID, toMS(sub.StartDate), toMS(sub.EndDate), boolInt(sub.IsActive), boolInt(sub.AutoRenew),
		string(sub.PaymentStatus), toMS(sub.UpdatedAt), sub.ID)
	return err
}

// UpdateSubscription applies fn to the stored subscription in a transaction.
func (s *Store) UpdateSubscription(ctx context.Context, id int64, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	var out subscription.Subscription
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sub, err := scanSubscription(tx.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id))
		if err != nil {
			return subscriptionErr(err)
		}
		loaded := sub.UpdatedAt
		if err := fn(&sub); err != nil {
			return err
		}
		sub.ID = id
		if sub.UpdatedAt.Equal(loaded) {
			sub.UpdatedAt = s.now().UTC()
		}
		if err := updateSubscriptionRow(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}
