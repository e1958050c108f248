// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package membership implements plan management, subscription purchase and
// the entitlement checks behind playback.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/domain/access"
	"github.com/ManuGH/reelstream/internal/domain/subscription"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
	"github.com/ManuGH/reelstream/internal/store"
)

// ErrInvalidPlan rejects incomplete plan definitions.
var ErrInvalidPlan = errors.New("membership: plan name is required")

// Service wraps the store with subscription rules.
type Service struct {
	store  *store.Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(st *store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now, logger: xglog.WithComponent("membership")}
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// ListPlans returns plans; inactive ones are included only for admins.
func (s *Service) ListPlans(ctx context.Context, includeInactive bool) ([]subscription.Plan, error) {
	return s.store.ListPlans(ctx, !includeInactive)
}

func (s *Service) Plan(ctx context.Context, id int64) (subscription.Plan, error) {
	return s.store.GetPlan(ctx, id)
}

func validatePlan(p subscription.Plan) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPlan
	}
	return p.Validate()
}

func (s *Service) CreatePlan(ctx context.Context, p subscription.Plan) (subscription.Plan, error) {
	if err := validatePlan(p); err != nil {
		return subscription.Plan{}, err
	}
	p.IsActive = true
	created, err := s.store.CreatePlan(ctx, p)
	if err != nil {
		return subscription.Plan{}, err
	}
	s.logger.Info().Int64("plan_id", created.ID).Str("name", created.Name).Msg("plan created")
	return created, nil
}

// PlanPatch carries the fields of a partial plan update.
type PlanPatch struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Price        *float64 `json:"price"`
	DurationDays *int     `json:"duration_days"`
	Features     *string  `json:"features"`
	IsActive     *bool    `json:"is_active"`
}

func (s *Service) UpdatePlan(ctx context.Context, id int64, patch PlanPatch) (subscription.Plan, error) {
	return s.store.UpdatePlan(ctx, id, func(p *subscription.Plan) error {
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.DurationDays != nil {
			p.DurationDays = *patch.DurationDays
		}
		if patch.Features != nil {
			p.Features = *patch.Features
		}
		if patch.IsActive != nil {
			p.IsActive = *patch.IsActive
		}
		return validatePlan(*p)
	})
}

// DeactivatePlan soft-deletes a plan. Plans still backing an entitled
// subscription are refused with subscription.ErrPlanInUse.
func (s *Service) DeactivatePlan(ctx context.Context, id int64) error {
	if err := s.store.DeactivatePlan(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("plan_id", id).Msg("plan deactivated")
	return nil
}

// Subscribe starts a subscription of userID to an active plan. The period
// is pending payment until a payment settles it.
func (s *Service) Subscribe(ctx context.Context, userID, planID int64, autoRenew bool) (subscription.Subscription, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return subscription.Subscription{}, err
	}
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if !plan.IsActive {
		return subscription.Subscription{}, subscription.ErrPlanNotFound
	}

	sub, err := s.store.CreateSubscription(ctx, subscription.New(userID, plan, autoRenew, s.clock()))
	if err != nil {
		return subscription.Subscription{}, err
	}
	s.logger.Info().
		Int64(xglog.FieldUserID, userID).
		Int64("plan_id", planID).
		Int64("subscription_id", sub.ID).
		Time("end_date", sub.EndDate).
		Msg("subscription started")
	return sub, nil
}

// Status is a user's current entitlement.
type Status struct {
	Active        bool                       `json:"has_active_subscription"`
	Subscription  *subscription.Subscription `json:"subscription,omitempty"`
	Plan          *subscription.Plan         `json:"plan,omitempty"`
	DaysRemaining int                        `json:"days_remaining"`
}

// MyStatus reports the entitled subscription of userID with the furthest
// end date.
func (s *Service) MyStatus(ctx context.Context, userID int64) (Status, error) {
	subs, err := s.store.SubscriptionsForUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	now := s.clock()
	latest, ok := subscription.Latest(subs, now)
	if !ok {
		return Status{}, nil
	}
	st := Status{Active: true, Subscription: &latest, DaysRemaining: latest.DaysRemaining(now)}
	if plan, err := s.store.GetPlan(ctx, latest.PlanID); err == nil {
		st.Plan = &plan
	}
	return st, nil
}

// SubscriptionPatch is what a user may change on their own subscription.
type SubscriptionPatch struct {
	AutoRenew *bool  `json:"auto_renew"`
	PlanID    *int64 `json:"plan_id"`
}

// Update applies a user's change to their own subscription. Changing plan
// prorates the remaining period onto the new plan.
func (s *Service) Update(ctx context.Context, userID, subID int64, patch SubscriptionPatch) (subscription.Subscription, error) {
	var next subscription.Plan
	if patch.PlanID != nil {
		p, err := s.store.GetPlan(ctx, *patch.PlanID)
		if err != nil {
			return subscription.Subscription{}, err
		}
		if !p.IsActive {
			return subscription.Subscription{}, subscription.ErrPlanNotFound
		}
		next = p
	}

	existing, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if existing.UserID != userID {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	changePlan := patch.PlanID != nil && *patch.PlanID != existing.PlanID
	var current subscription.Plan
	if changePlan {
		current, err = s.store.GetPlan(ctx, existing.PlanID)
		if err != nil && !errors.Is(err, subscription.ErrPlanNotFound) {
			return subscription.Subscription{}, err
		}
	}

	return s.store.UpdateSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if sub.UserID != userID {
			return subscription.ErrNotFound
		}
		if patch.AutoRenew != nil {
			sub.AutoRenew = *patch.AutoRenew
		}
		if changePlan && sub.PlanID == existing.PlanID {
			*sub = subscription.ChangePlan(*sub, current, next, s.clock())
		}
		return nil
	})
}

// AccessStatus answers whether a user can currently stream.
type AccessStatus struct {
	HasAccess      bool       `json:"has_access"`
	SubscriptionID int64      `json:"subscription_id,omitempty"`
	PlanName       string     `json:"plan_name,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DaysRemaining  int        `json:"days_remaining"`
	HoursRemaining *int       `json:"hours_remaining,omitempty"`
}

// CheckAccess reports streaming access for userID. Hours are reported for
// single-day plans where whole days carry no information.
func (s *Service) CheckAccess(ctx context.Context, userID int64) (AccessStatus, error) {
	st, err := s.MyStatus(ctx, userID)
	if err != nil || !st.Active {
		return AccessStatus{}, err
	}
	now := s.clock()
	end := st.Subscription.EndDate
	out := AccessStatus{
		HasAccess:      true,
		SubscriptionID: st.Subscription.ID,
		ExpiresAt:      &end,
		DaysRemaining:  st.DaysRemaining,
	}
	if st.Plan != nil {
		out.PlanName = st.Plan.Name
		if st.Plan.DurationDays == 1 {
			h := st.Subscription.HoursRemaining(now)
			out.HoursRemaining = &h
		}
	}
	return out, nil
}

// Subscriber loads everything the access evaluator needs about a user.
func (s *Service) Subscriber(ctx context.Context, userID int64, isAdmin bool) (access.Subscriber, error) {
	sub := access.Subscriber{UserID: userID, IsAdmin: isAdmin}
	if isAdmin {
		return sub, nil
	}
	subs, err := s.store.SubscriptionsForUser(ctx, userID)
	if err != nil {
		return access.Subscriber{}, fmt.Errorf("membership: load subscriptions: %w", err)
	}
	sub.Subscriptions = subs
	return sub, nil
}

// Evaluate decides playback access of a user to a movie's media.
func (s *Service) Evaluate(ctx context.Context, userID int64, isAdmin bool, movie store.Movie) (access.Decision, error) {
	sub, err := s.Subscriber(ctx, userID, isAdmin)
	if err != nil {
		return access.Decision{}, err
	}
	d := access.Evaluate(sub, movie.Media, s.clock())
	metrics.RecordAccessDecision(d.Granted, string(d.Reason))
	return d, nil
}

// List is the admin listing of subscriptions.
func (s *Service) List(ctx context.Context, f store.SubscriptionFilter) ([]subscription.Subscription, error) {
	return s.store.ListSubscriptions(ctx, f, s.clock())
}

func (s *Service) Get(ctx context.Context, id int64) (subscription.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// Extend adds days to a subscription and re-activates it.
func (s *Service) Extend(ctx context.Context, id int64, days int) (subscription.Subscription, error) {
	if days <= 0 {
		return subscription.Subscription{}, subscription.ErrInvalidExtensionDays
	}
	sub, err := s.store.UpdateSubscription(ctx, id, func(sub *subscription.Subscription) error {
		extended, err := subscription.Extend(*sub, days, s.clock())
		if err != nil {
			return err
		}
		*sub = extended
		return nil
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	s.logger.Info().Int64("subscription_id", id).Int("days", days).Time("end_date", sub.EndDate).Msg("subscription extended")
	return sub, nil
}

// Cancel deactivates a subscription and stops auto renewal.
func (s *Service) Cancel(ctx context.Context, id int64) (subscription.Subscription, error) {
	sub, err := s.store.UpdateSubscription(ctx, id, func(sub *subscription.Subscription) error {
		*sub = subscription.Cancel(*sub, s.clock())
		return nil
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	s.logger.Info().Int64("subscription_id", id).Msg("subscription canceled")
	return sub, nil
}
