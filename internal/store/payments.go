// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ManuGH/reelstream/internal/domain/subscription"
)

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Payment is one gateway order and its verification outcome. Amount is in
// major currency units.
type Payment struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	SubscriptionID   int64           `json:"subscription_id,omitempty"`
	Amount           float64         `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"payment_method,omitempty"`
	GatewayOrderID   string          `json:"order_id,omitempty"`
	GatewayPaymentID string          `json:"payment_id,omitempty"`
	GatewaySignature string          `json:"-"`
	Status           PaymentStatus   `json:"status"`
	Details          json.RawMessage `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Verified reports a settled payment with a gateway payment id.
func (p Payment) Verified() bool {
	return p.Status == PaymentSuccessful && p.GatewayPaymentID != ""
}

// PaymentFilter narrows payment listings. Zero values match everything.
type PaymentFilter struct {
	UserID int64
	Status PaymentStatus
	Page   Page
}

const paymentColumns = `id, user_id, subscription_id, amount, currency, method, gateway_order_id, gateway_payment_id,
	gateway_signature, status, details_json, created_at_ms, updated_at_ms`

func scanPayment(row scanner) (Payment, error) {
	var (
		p                Payment
		subID            sql.NullInt64
		details          sql.NullString
		status           string
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.UserID, &subID, &p.Amount, &p.Currency, &p.Method, &p.GatewayOrderID, &p.GatewayPaymentID,
		&p.GatewaySignature, &status, &details, &created, &updated)
	if err != nil {
		return Payment{}, err
	}
	p.SubscriptionID = subID.Int64
	if details.Valid && details.String != "" {
		p.Details = json.RawMessage(details.String)
	}
	p.Status = PaymentStatus(status)
	p.CreatedAt = fromMS(created)
	p.UpdatedAt = fromMS(updated)
	return p, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

// CreatePayment inserts p and returns the stored row.
func (s *Store) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	now := toMS(s.now().UTC())
	if p.Status == "" {
		p.Status = PaymentPending
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO payments (
		user_id, subscription_id, amount, currency, method, gateway_order_id, gateway_payment_id, gateway_signature,
		status, details_json, created_at_ms, updated_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, nullID(p.SubscriptionID), p.Amount, p.Currency, p.Method, p.GatewayOrderID, p.GatewayPaymentID,
		p.GatewaySignature, string(p.Status), nullJSON(p.Details), now, now)
	if err != nil {
		return Payment{}, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Payment{}, err
	}
	return s.GetPayment(ctx, id)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(s.DB.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id))
	return p, mapErr(err)
}

// GetPaymentByOrder looks a payment up by its gateway order id.
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (Payment, error) {
	p, err := scanPayment(s.DB.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE gateway_order_id = ? ORDER BY id DESC LIMIT 1", orderID))
	return p, mapErr(err)
}

// ListPayments returns payments newest first.
func (s *Store) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	q := "SELECT " + paymentColumns + " FROM payments WHERE 1 = 1"
	var args []any
	if f.UserID > 0 {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	p := f.Page.normalize()
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Skip)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func updatePaymentRow(ctx context.Context, tx *sql.Tx, p Payment) error {
	_, err := tx.ExecContext(ctx, `UPDATE payments SET
		subscription_id = ?, amount = ?, currency = ?, method = ?, gateway_order_id = ?, gateway_payment_id = ?,
		gateway_signature = ?, status = ?, details_json = ?, updated_at_ms = ?
		WHERE id = ?`,
		nullID(p.SubscriptionID), p.Amount, p.Currency, p.Method, p.GatewayOrderID, p.GatewayPaymentID,
		p.GatewaySignature, string(p.Status), nullJSON(p.Details), toMS(p.UpdatedAt), p.ID)
	return err
}

// UpdatePayment applies fn to a payment in a transaction.
func (s *Store) UpdatePayment(ctx context.Context, id int64, fn func(*Payment) error) (Payment, error) {
	var out Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPayment(tx.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id))
		if err != nil {
			return mapErr(err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = id
		p.UpdatedAt = s.now().UTC()
		if err := updatePaymentRow(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// SettlePayment updates a payment and its linked subscription atomically.
// sub is nil when the payment has no subscription; changes to it are then
// discarded.
func (s *Store) SettlePayment(ctx context.Context, id int64, fn func(p *Payment, sub *subscription.Subscription) error) (Payment, error) {
	var out Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPayment(tx.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id))
		if err != nil {
			return mapErr(err)
		}

		var sub *subscription.Subscription
		if p.SubscriptionID > 0 {
			loaded, err := scanSubscription(tx.QueryRowContext(ctx,
				"SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", p.SubscriptionID))
			if err != nil {
				return subscriptionErr(err)
			}
			sub = &loaded
		}

		if err := fn(&p, sub); err != nil {
			return err
		}

		now := s.now().UTC()
		p.ID = id
		p.UpdatedAt = now
		if err := updatePaymentRow(ctx, tx, p); err != nil {
			return err
		}
		if sub != nil {
			sub.UpdatedAt = now
			if err := updateSubscriptionRow(ctx, tx, *sub); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}
