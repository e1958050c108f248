// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/reelstream/internal/domain/media"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
	"github.com/ManuGH/reelstream/internal/telemetry"
)

// DefaultReconcileInterval is the period between reconciliation passes.
const DefaultReconcileInterval = 10 * time.Second

// Ticker abstracts time.Ticker so tests can drive passes by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// Summary describes one reconciliation pass.
type Summary struct {
	Scanned  int
	Changed  int
	Errors   int
	StoreErr error
	Duration time.Duration
}

// Reconciler periodically advances in-flight records from oracle status.
type Reconciler struct {
	ctrl      *Controller
	store     media.Store
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithTicker replaces the wall-clock ticker.
func WithTicker(fn func(time.Duration) Ticker) ReconcilerOption {
	return func(r *Reconciler) { r.newTicker = fn }
}

func NewReconciler(ctrl *Controller, interval time.Duration, opts ...ReconcilerOption) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	r := &Reconciler{
		ctrl:     ctrl,
		store:    ctrl.store,
		interval: interval,
		newTicker: func(d time.Duration) Ticker {
			return stdTicker{t: time.NewTicker(d)}
		},
		logger: xglog.WithComponent("reconciler"),
		tracer: telemetry.Tracer("reelstream/lifecycle"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a pass on every tick until ctx is canceled. A pass that
// has started runs to completion; only the wait between passes observes
// cancellation.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.newTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C():
			r.ReconcileOnce(context.WithoutCancel(ctx))
		}
	}
}

// ReconcileOnce scans every in-flight record and reconciles it. Per-record
// failures are logged and counted; they never stop the pass. A failed scan
// ends the pass and is reported in Summary.StoreErr.
func (r *Reconciler) ReconcileOnce(ctx context.Context) Summary {
	ctx, span := r.tracer.Start(ctx, "lifecycle.reconcile_pass")
	defer span.End()
	start := time.Now()

	var sum Summary
	recs, err := r.store.ListInFlight(ctx)
	if err != nil {
		sum.StoreErr = err
		sum.Duration = time.Since(start)
		span.RecordError(err)
		r.logger.Warn().Err(err).Str(xglog.FieldEvent, "reconcile.scan_failed").Msg("could not list in-flight media")
		return sum
	}

	for _, rec := range recs {
		if rec.JobHandle == "" {
			continue
		}
		sum.Scanned++
		changed, err := r.reconcileSafe(ctx, rec.MovieID)
		switch {
		case err != nil:
			sum.Errors++
			metrics.ReconcileResults.WithLabelValues("error").Inc()
			r.logger.Warn().
				Err(err).
				Int64(xglog.FieldMovieID, rec.MovieID).
				Str(xglog.FieldJobHandle, rec.JobHandle).
				Str(xglog.FieldEvent, "reconcile.failed").
				Msg("reconcile failed")
		case changed:
			sum.Changed++
			metrics.ReconcileResults.WithLabelValues("changed").Inc()
		default:
			metrics.ReconcileResults.WithLabelValues("unchanged").Inc()
		}
	}

	sum.Duration = time.Since(start)
	metrics.ObserveReconcilePass(sum.Duration, len(recs))
	span.SetAttributes(telemetry.ReconcileAttributes(sum.Scanned, sum.Changed, sum.Errors)...)
	if sum.Changed > 0 || sum.Errors > 0 {
		r.logger.Info().
			Int("scanned", sum.Scanned).
			Int("changed", sum.Changed).
			Int("errors", sum.Errors).
			Dur("duration", sum.Duration).
			Msg("reconcile pass complete")
	}
	return sum
}

func (r *Reconciler) reconcileSafe(ctx context.Context, movieID int64) (changed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &media.ReconcileError{MovieID: movieID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return r.ctrl.ReconcileOne(ctx, movieID)
}
