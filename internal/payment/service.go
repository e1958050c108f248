// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package payment runs checkout: gateway orders, signature verification,
// settlement of the paid subscription period, receipts and refunds.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/domain/subscription"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
	"github.com/ManuGH/reelstream/internal/notify"
	"github.com/ManuGH/reelstream/internal/store"
)

var (
	ErrNotFound         = errors.New("payment: not found")
	ErrInvalidSignature = errors.New("payment: invalid signature")
	ErrNotRefundable    = errors.New("payment: only verified payments can be refunded")
	ErrAlreadySettled   = errors.New("payment: already settled")
)

// Poster queues an email for background delivery.
type Poster interface {
	Post(m notify.Message) bool
}

// Service coordinates the store, the gateway and notifications.
type Service struct {
	store  *store.Store
	gw     Gateway
	money  Money
	keyID  string
	mail   Poster
	now    func() time.Time
	logger zerolog.Logger
}

// Config carries the checkout settings of a Service.
type Config struct {
	Currency string
	// KeyID is returned to checkout clients with each order.
	KeyID string
}

func NewService(st *store.Store, gw Gateway, mail Poster, cfg Config, now func() time.Time) (*Service, error) {
	code := cfg.Currency
	if code == "" {
		code = DefaultCurrency
	}
	money, err := NewMoney(code)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  st,
		gw:     gw,
		money:  money,
		keyID:  cfg.KeyID,
		mail:   mail,
		now:    now,
		logger: xglog.WithComponent("payment"),
	}, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// OrderResponse is what a checkout client needs to open the gateway form.
type OrderResponse struct {
	PaymentID   int64   `json:"payment_id"`
	OrderID     string  `json:"order_id"`
	Currency    string  `json:"currency"`
	Amount      float64 `json:"amount"`
	AmountMinor int64   `json:"amount_minor"`
	Display     string  `json:"display_amount"`
	Key         string  `json:"key"`
}

// CreateOrder opens a gateway order for the plan price of one of the
// user's subscriptions. The pending payment is recorded before the gateway
// is called so every order has a local receipt number.
func (s *Service) CreateOrder(ctx context.Context, userID, subscriptionID int64) (OrderResponse, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return OrderResponse{}, err
	}
	if sub.UserID != userID {
		return OrderResponse{}, subscription.ErrNotFound
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return OrderResponse{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return OrderResponse{}, err
	}

	p, err := s.store.CreatePayment(ctx, store.Payment{
		UserID:         userID,
		SubscriptionID: sub.ID,
		Amount:         plan.Price,
		Currency:       s.money.Code(),
		Status:         store.PaymentPending,
	})
	if err != nil {
		return OrderResponse{}, err
	}
	logger := s.logger.With().Int64(xglog.FieldPaymentID, p.ID).Int64(xglog.FieldUserID, userID).Logger()

	minor := s.money.ToMinor(plan.Price)
	order, err := s.gw.CreateOrder(ctx, OrderRequest{
		Amount:   minor,
		Currency: s.money.Code(),
		Receipt:  "receipt_" + strconv.FormatInt(p.ID, 10),
		Notes: map[string]string{
			"subscription_id": strconv.FormatInt(sub.ID, 10),
			"plan_name":       plan.Name,
			"user_email":      user.Email,
		},
	})
	if err != nil {
		metrics.RecordPaymentEvent("create_order", "error")
		logger.Error().Err(err).Msg("gateway order failed")
		if _, uerr := s.store.UpdatePayment(context.WithoutCancel(ctx), p.ID, func(p *store.Payment) error {
			p.Status = store.PaymentFailed
			return nil
		}); uerr != nil {
			logger.Warn().Err(uerr).Msg("could not mark payment failed")
		}
		return OrderResponse{}, err
	}

	if _, err := s.store.UpdatePayment(ctx, p.ID, func(p *store.Payment) error {
		p.GatewayOrderID = order.ID
		return nil
	}); err != nil {
		return OrderResponse{}, err
	}
	metrics.RecordPaymentEvent("create_order", "ok")
	logger.Info().Str("order_id", order.ID).Int64("amount_minor", minor).Msg("payment order created")

	return OrderResponse{
		PaymentID:   p.ID,
		OrderID:     order.ID,
		Currency:    order.Currency,
		Amount:      s.money.FromMinor(order.Amount),
		AmountMinor: order.Amount,
		Display:     s.money.Format(s.money.FromMinor(order.Amount)),
		Key:         s.keyID,
	}, nil
}

// Verification is the checkout result posted back by the client.
type Verification struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Verify settles a checkout. A bad signature fails the payment and
// returns ErrInvalidSignature; a good one marks the payment successful and
// the subscription paid and active in one transaction.
func (s *Service) Verify(ctx context.Context, userID int64, v Verification) (store.Payment, error) {
	p, err := s.store.GetPaymentByOrder(ctx, v.OrderID)
	if err != nil {
		return store.Payment{}, notFound(err)
	}
	if p.UserID != userID {
		return store.Payment{}, ErrNotFound
	}
	if p.Status == store.PaymentSuccessful && p.GatewayPaymentID == v.PaymentID {
		return p, nil
	}
	if p.Status != store.PaymentPending {
		return p, ErrAlreadySettled
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return store.Payment{}, err
	}
	planName := s.planName(ctx, p.SubscriptionID)
	logger := s.logger.With().Int64(xglog.FieldPaymentID, p.ID).Int64(xglog.FieldUserID, userID).Logger()

	if !s.gw.VerifySignature(v.OrderID, v.PaymentID, v.Signature) {
		failed, err := s.store.UpdatePayment(ctx, p.ID, func(p *store.Payment) error {
			if p.Status != store.PaymentPending {
				return ErrAlreadySettled
			}
			p.Status = store.PaymentFailed
			return nil
		})
		if errors.Is(err, ErrAlreadySettled) {
			current, getErr := s.store.GetPayment(ctx, p.ID)
			if getErr != nil {
				return store.Payment{}, getErr
			}
			return current, ErrAlreadySettled
		}
		if err != nil {
			return store.Payment{}, err
		}
		metrics.RecordPaymentEvent("verify", "invalid_signature")
		logger.Warn().Str("order_id", v.OrderID).Msg("payment signature mismatch")
		s.post(notify.PaymentFailure(user.Email, notify.PaymentDetails{
			UserName: user.Username,
			Amount:   s.money.Format(p.Amount),
			PlanName: planName,
			Reason:   "Payment signature verification failed",
		}))
		return failed, ErrInvalidSignature
	}

	details, err := s.gw.FetchDetails(ctx, v.PaymentID)
	if err != nil {
		logger.Warn().Err(err).Msg("payment details unavailable, settling without them")
	}

	settled, err := s.store.SettlePayment(ctx, p.ID, func(p *store.Payment, sub *subscription.Subscription) error {
		if p.Status != store.PaymentPending {
			return ErrAlreadySettled
		}
		p.GatewayPaymentID = v.PaymentID
		p.GatewaySignature = v.Signature
		p.Status = store.PaymentSuccessful
		if details.Method != "" {
			p.Method = details.Method
		}
		if len(details.Raw) > 0 {
			p.Details = details.Raw
		}
		if sub != nil {
			sub.PaymentStatus = subscription.PaymentPaid
			sub.IsActive = true
		}
		return nil
	})
	if err != nil {
		metrics.RecordPaymentEvent("verify", "error")
		return store.Payment{}, err
	}
	metrics.RecordPaymentEvent("verify", "ok")
	logger.Info().Str("order_id", v.OrderID).Str("gateway_payment_id", v.PaymentID).Msg("payment settled")

	s.post(notify.PaymentSuccess(user.Email, notify.PaymentDetails{
		UserName:      user.Username,
		Amount:        s.money.Format(settled.Amount),
		PlanName:      planName,
		TransactionID: settled.GatewayPaymentID,
		PaidAt:        settled.UpdatedAt,
	}))
	return settled, nil
}

func (s *Service) planName(ctx context.Context, subscriptionID int64) string {
	if subscriptionID == 0 {
		return ""
	}
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return ""
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return ""
	}
	return plan.Name
}

func (s *Service) post(m notify.Message) {
	if s.mail == nil || m.To == "" {
		return
	}
	s.mail.Post(m)
}

// MyPayments lists a user's payments, newest first.
func (s *Service) MyPayments(ctx context.Context, userID int64, status store.PaymentStatus, page store.Page) ([]store.Payment, error) {
	return s.store.ListPayments(ctx, store.PaymentFilter{UserID: userID, Status: status, Page: page})
}

// AdminList lists payments across users.
func (s *Service) AdminList(ctx context.Context, f store.PaymentFilter) ([]store.Payment, error) {
	return s.store.ListPayments(ctx, f)
}

// Receipt is the printable summary of a successful payment.
type Receipt struct {
	ID                   int64     `json:"id"`
	TransactionID        string    `json:"transaction_id"`
	PaymentDate          time.Time `json:"payment_date"`
	Amount               float64   `json:"amount"`
	DisplayAmount        string    `json:"display_amount"`
	Currency             string    `json:"currency"`
	PaymentMethod        string    `json:"payment_method"`
	SubscriptionPlan     string    `json:"subscription_plan,omitempty"`
	SubscriptionDuration string    `json:"subscription_duration,omitempty"`
	UserName             string    `json:"user_name"`
	UserEmail            string    `json:"user_email"`
	Status               string    `json:"status"`
}

// Receipt returns the receipt of one of the user's successful payments.
func (s *Service) Receipt(ctx context.Context, userID, paymentID int64) (Receipt, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Receipt{}, notFound(err)
	}
	if p.UserID != userID || p.Status != store.PaymentSuccessful {
		return Receipt{}, ErrNotFound
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}

	r := Receipt{
		ID:            p.ID,
		TransactionID: p.GatewayPaymentID,
		PaymentDate:   p.CreatedAt,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: p.Method,
		UserName:      user.Username,
		UserEmail:     user.Email,
		Status:        string(p.Status),
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = "Online"
	}
	if m, err := NewMoney(p.Currency); err == nil {
		r.DisplayAmount = m.Format(p.Amount)
	}
	if p.SubscriptionID > 0 {
		if sub, err := s.store.GetSubscription(ctx, p.SubscriptionID); err == nil {
			if plan, err := s.store.GetPlan(ctx, sub.PlanID); err == nil {
				r.SubscriptionPlan = plan.Name
				r.SubscriptionDuration = fmt.Sprintf("%d days", plan.DurationDays)
			}
		}
	}
	return r, nil
}

// Refund returns a verified payment in full and ends the subscription
// period it paid for.
func (s *Service) Refund(ctx context.Context, paymentID int64) (store.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return store.Payment{}, notFound(err)
	}
	if !p.Verified() {
		return p, ErrNotRefundable
	}

	refund, err := s.gw.Refund(ctx, p.GatewayPaymentID, 0)
	if err != nil {
		metrics.RecordPaymentEvent("refund", "error")
		return store.Payment{}, err
	}

	refunded, err := s.store.SettlePayment(context.WithoutCancel(ctx), p.ID, func(p *store.Payment, sub *subscription.Subscription) error {
		if !p.Verified() {
			return ErrNotRefundable
		}
		p.Status = store.PaymentRefunded
		if sub != nil {
			*sub = subscription.Cancel(*sub, s.now().UTC())
		}
		return nil
	})
	if err != nil {
		// The gateway has refunded; the ledger did not follow.
		s.logger.Error().Err(err).Int64(xglog.FieldPaymentID, p.ID).Str("refund_id", refund.ID).Msg("refund not recorded")
		return store.Payment{}, err
	}
	metrics.RecordPaymentEvent("refund", "ok")
	s.logger.Info().Int64(xglog.FieldPaymentID, p.ID).Str("refund_id", refund.ID).Msg("payment refunded")

	if user, err := s.store.GetUser(ctx, p.UserID); err == nil {
		s.post(notify.Refunded(user.Email, notify.PaymentDetails{
			UserName:      user.Username,
			Amount:        s.money.Format(p.Amount),
			TransactionID: p.GatewayPaymentID,
		}))
	}
	return refunded, nil
}
