// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/domain/subscription"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "reelstream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	return s, clock
}

func TestOpen_MigratesToSchemaVersion(t *testing.T) {
	s, _ := newTestStore(t)
	var v int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&v))
	assert.Equal(t, SchemaVersion, v)

	again, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, again)
}

func TestCreateMovie_StartsNotStarted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMovie(ctx, Movie{Title: "Heat", ReleaseYear: 1995, Media: media.Record{State: media.StateComplete, StreamingURL: "x"}})
	require.NoError(t, err)
	assert.Equal(t, media.StateNotStarted, m.Media.State)
	assert.Empty(t, m.Media.StreamingURL)
	assert.Equal(t, m.ID, m.Media.MovieID)
}

func TestUpdateMedia_ReadModifyWrite(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMovie(ctx, Movie{Title: "Alien"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	rec, err := s.UpdateMedia(ctx, m.ID, func(r *media.Record) error {
		r.State = media.StateQueued
		r.Attempt++
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("stored record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
}

func TestUpdateMedia_NoChangeNoWrite(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMovie(ctx, Movie{Title: "Alien"})
	require.NoError(t, err)
	before := m.Media.UpdatedAt

	clock.Advance(time.Hour)
	rec, err := s.UpdateMedia(ctx, m.ID, func(r *media.Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, before, rec.UpdatedAt)

	got, err := s.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, before, got.UpdatedAt)
}

func TestUpdateMedia_FnErrorAborts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMovie(ctx, Movie{Title: "Alien"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.UpdateMedia(ctx, m.ID, func(r *media.Record) error {
		r.State = media.StateQueued
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, media.StateNotStarted, got.State)
}

func TestUpdateMedia_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpdateMedia(context.Background(), 999, func(r *media.Record) error { return nil })
	assert.ErrorIs(t, err, media.ErrNotFound)

	_, err = s.GetMedia(context.Background(), 999)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestListInFlight(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	states := []media.State{media.StateNotStarted, media.StateQueued, media.StateProcessing, media.StateComplete, media.StateError}
	ids := make([]int64, len(states))
	for i, st := range states {
		m, err := s.CreateMovie(ctx, Movie{Title: string(st)})
		require.NoError(t, err)
		ids[i] = m.ID
		st := st
		_, err = s.UpdateMedia(ctx, m.ID, func(r *media.Record) error { r.State = st; return nil })
		require.NoError(t, err)
	}

	recs, err := s.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[1], recs[0].MovieID)
	assert.Equal(t, ids[2], recs[1].MovieID)
}

func TestUpdateMovie_IgnoresMediaFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMovie(ctx, Movie{Title: "Old"})
	require.NoError(t, err)

	got, err := s.UpdateMovie(ctx, m.ID, func(mv *Movie) error {
		mv.Title = "New"
		mv.Media.State = media.StateComplete
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, media.StateNotStarted, got.Media.State)
}

func TestDeleteMovie(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMovie(ctx, Movie{Title: "Gone", PosterURL: "http://cdn/p.jpg"})
	require.NoError(t, err)

	deleted, err := s.DeleteMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/p.jpg", deleted.PosterURL)

	_, err = s.GetMovie(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.DeleteMovie(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMovies_Paging(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.CreateMovie(ctx, Movie{Title: "m"})
		require.NoError(t, err)
	}
	page, err := s.ListMovies(ctx, Page{Skip: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestCreateUser_Conflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, User{Email: "a@example.com", Username: "a", IsActive: true})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, User{Email: "a@example.com", Username: "b"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, User{Email: "a@example.com", Username: "a", IsActive: true})
	require.NoError(t, err)

	got, err := s.UpdateUser(ctx, u.ID, func(u *User) error { u.IsActive = false; return nil })
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	reloaded, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)
	assert.Equal(t, "a@example.com", reloaded.Email)
}

func seedUserAndPlan(t *testing.T, s *Store) (User, subscription.Plan) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, User{Email: "u@example.com", Username: "u", IsActive: true})
	require.NoError(t, err)
	p, err := s.CreatePlan(ctx, subscription.Plan{Name: "Monthly", Price: 199, DurationDays: 30, IsActive: true})
	require.NoError(t, err)
	return u, p
}

func TestDeactivatePlan_RefusedWhileEntitled(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	u, p := seedUserAndPlan(t, s)

	_, err := s.CreateSubscription(ctx, subscription.New(u.ID, p, true, clock.Now()))
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeactivatePlan(ctx, p.ID), subscription.ErrPlanInUse)

	clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, s.DeactivatePlan(ctx, p.ID))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := s.ListPlans(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, s.DeactivatePlan(ctx, 999), subscription.ErrPlanNotFound)
}

func TestListSubscriptions_StatusFilter(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	u, p := seedUserAndPlan(t, s)
	now := clock.Now()

	active, err := s.CreateSubscription(ctx, subscription.New(u.ID, p, true, now))
	require.NoError(t, err)
	expired := subscription.New(u.ID, p, false, now.Add(-60*24*time.Hour))
	expired, err = s.CreateSubscription(ctx, expired)
	require.NoError(t, err)

	got, err := s.ListSubscriptions(ctx, SubscriptionFilter{Status: "active"}, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	got, err = s.ListSubscriptions(ctx, SubscriptionFilter{Status: "expired"}, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)

	got, err = s.ListSubscriptions(ctx, SubscriptionFilter{}, now)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSettlePayment_UpdatesSubscriptionAtomically(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	u, p := seedUserAndPlan(t, s)

	sub, err := s.CreateSubscription(ctx, subscription.New(u.ID, p, true, clock.Now()))
	require.NoError(t, err)
	pay, err := s.CreatePayment(ctx, Payment{UserID: u.ID, SubscriptionID: sub.ID, Amount: 199, Currency: "INR", GatewayOrderID: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, pay.Status)

	byOrder, err := s.GetPaymentByOrder(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, pay.ID, byOrder.ID)

	_, err = s.SettlePayment(ctx, pay.ID, func(p *Payment, sub *subscription.Subscription) error {
		require.NotNil(t, sub)
		p.Status = PaymentSuccessful
		p.GatewayPaymentID = "pay_1"
		p.Details = []byte(`{"method":"upi"}`)
		sub.PaymentStatus = subscription.PaymentPaid
		return nil
	})
	require.NoError(t, err)

	gotPay, err := s.GetPayment(ctx, pay.ID)
	require.NoError(t, err)
	assert.True(t, gotPay.Verified())
	assert.JSONEq(t, `{"method":"upi"}`, string(gotPay.Details))

	gotSub, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.PaymentPaid, gotSub.PaymentStatus)
}

func TestSettlePayment_ErrorRollsBack(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	u, p := seedUserAndPlan(t, s)
	sub, err := s.CreateSubscription(ctx, subscription.New(u.ID, p, true, clock.Now()))
	require.NoError(t, err)
	pay, err := s.CreatePayment(ctx, Payment{UserID: u.ID, SubscriptionID: sub.ID, Amount: 199, Currency: "INR"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.SettlePayment(ctx, pay.ID, func(p *Payment, sub *subscription.Subscription) error {
		p.Status = PaymentSuccessful
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetPayment(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, got.Status)
}

func TestListPayments_Filters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	u, _ := seedUserAndPlan(t, s)
	other, err := s.CreateUser(ctx, User{Email: "o@example.com", Username: "o"})
	require.NoError(t, err)

	_, err = s.CreatePayment(ctx, Payment{UserID: u.ID, Amount: 1, Currency: "INR", Status: PaymentSuccessful})
	require.NoError(t, err)
	_, err = s.CreatePayment(ctx, Payment{UserID: u.ID, Amount: 2, Currency: "INR"})
	require.NoError(t, err)
	_, err = s.CreatePayment(ctx, Payment{UserID: other.ID, Amount: 3, Currency: "INR"})
	require.NoError(t, err)

	got, err := s.ListPayments(ctx, PaymentFilter{UserID: u.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListPayments(ctx, PaymentFilter{UserID: u.ID, Status: PaymentSuccessful})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Amount)

	got, err = s.ListPayments(ctx, PaymentFilter{Status: PaymentPending})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
