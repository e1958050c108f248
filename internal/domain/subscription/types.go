// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscription holds the subscription and plan model and the pure
// date arithmetic behind purchase, plan change, extension and cancellation.
package subscription

import (
	"errors"
	"math"
	"time"
)

const day = 24 * time.Hour

// PaymentStatus tracks whether the period of a subscription has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrPlanNotFound         = errors.New("subscription: plan not found or inactive")
	ErrPlanInUse            = errors.New("subscription: plan has entitled subscriptions")
	ErrNotFound             = errors.New("subscription: not found")
	ErrInvalidDuration      = errors.New("subscription: plan duration must be positive")
	ErrInvalidPrice         = errors.New("subscription: plan price must not be negative")
	ErrInvalidExtensionDays = errors.New("subscription: extension days must be positive")
)

// Plan is a purchasable subscription plan. Plans are soft-deleted through
// IsActive so historical subscriptions keep their billing reference.
type Plan struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	DurationDays int       `json:"duration_days"`
	Features     string    `json:"features"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the invariants of a plan definition.
func (p Plan) Validate() error {
	if p.DurationDays <= 0 {
		return ErrInvalidDuration
	}
	if p.Price < 0 || math.IsNaN(p.Price) {
		return ErrInvalidPrice
	}
	return nil
}

// Subscription is one purchased plan period of a user.
type Subscription struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"user_id"`
	PlanID        int64         `json:"plan_id"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	IsActive      bool          `json:"is_active"`
	AutoRenew     bool          `json:"auto_renew"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsEntitled reports whether the subscription covers access at now.
// A record can be time-valid and still administratively deactivated.
func (s Subscription) IsEntitled(now time.Time) bool {
	return s.IsActive && s.EndDate.After(now)
}

// Remaining returns the time left before EndDate, never negative.
func (s Subscription) Remaining(now time.Time) time.Duration {
	if !s.EndDate.After(now) {
		return 0
	}
	return s.EndDate.Sub(now)
}

// DaysRemaining counts whole days left, truncating partial days.
func (s Subscription) DaysRemaining(now time.Time) int {
	return int(s.Remaining(now) / day)
}

// HoursRemaining counts whole hours left.
func (s Subscription) HoursRemaining(now time.Time) int {
	return int(s.Remaining(now) / time.Hour)
}

// New starts a subscription to plan at now.
func New(userID int64, plan Plan, autoRenew bool, now time.Time) Subscription {
	return Subscription{
		UserID:        userID,
		PlanID:        plan.ID,
		StartDate:     now,
		EndDate:       now.Add(time.Duration(plan.DurationDays) * day),
		IsActive:      true,
		AutoRenew:     autoRenew,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ChangePlan moves s from its current plan to next. Remaining whole days are
// scaled by the ratio of the plan durations; an expired subscription starts
// a fresh period of the new plan.
func ChangePlan(s Subscription, current, next Plan, now time.Time) Subscription {
	remaining := s.DaysRemaining(now)
	if remaining > 0 && current.DurationDays > 0 {
		ratio := float64(next.DurationDays) / float64(current.DurationDays)
		s.EndDate = now.Add(time.Duration(int(float64(remaining)*ratio)) * day)
	} else {
		s.StartDate = now
		s.EndDate = now.Add(time.Duration(next.DurationDays) * day)
	}
	s.PlanID = next.ID
	s.UpdatedAt = now
	return s
}

// Extend adds days to s, counted from now when it already expired and from
// its end date otherwise. Extension re-activates the subscription.
func Extend(s Subscription, days int, now time.Time) (Subscription, error) {
	if days <= 0 {
		return s, ErrInvalidExtensionDays
	}
	from := s.EndDate
	if s.EndDate.Before(now) {
		from = now
	}
	s.EndDate = from.Add(time.Duration(days) * day)
	s.IsActive = true
	s.UpdatedAt = now
	return s, nil
}

// Cancel deactivates s and turns off auto renewal. EndDate is kept for history.
func Cancel(s Subscription, now time.Time) Subscription {
	s.IsActive = false
	s.AutoRenew = false
	s.UpdatedAt = now
	return s
}

// Latest returns the entitled subscription with the furthest end date.
func Latest(subs []Subscription, now time.Time) (Subscription, bool) {
	var best Subscription
	found := false
	for _, s := range subs {
		if !s.IsEntitled(now) {
			continue
		}
		if !found || s.EndDate.After(best.EndDate) {
			best = s
			found = true
		}
	}
	return best, found
}
