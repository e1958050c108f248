// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/resilience"
)

// Backend is anything that can both accept and report on transcode jobs.
type Backend interface {
	media.Dispatcher
	media.Oracle
}

// Guarded puts a circuit breaker in front of a Backend. Caller errors
// (bad source, quota, unknown handle) do not count as backend failures.
// An open circuit surfaces as a retryable error.
type Guarded struct {
	backend Backend
	cb      *resilience.CircuitBreaker
}

func NewGuarded(backend Backend, threshold int, resetTimeout time.Duration, opts ...resilience.Option) *Guarded {
	opts = append([]resilience.Option{resilience.WithFailurePredicate(countsAsFailure)}, opts...)
	return &Guarded{
		backend: backend,
		cb:      resilience.NewCircuitBreaker("transcoder", threshold, resetTimeout, opts...),
	}
}

func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, media.ErrPermanent), errors.Is(err, ErrJobNotFound), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (g *Guarded) Submit(ctx context.Context, sourceURL, outputPrefix string) (media.Submission, error) {
	var sub media.Submission
	err := g.cb.Execute(func() error {
		var err error
		sub, err = g.backend.Submit(ctx, sourceURL, outputPrefix)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return media.Submission{}, fmt.Errorf("transcoder unavailable: %w", err)
	}
	return sub, err
}

func (g *Guarded) Status(ctx context.Context, handle string) (string, error) {
	var status string
	err := g.cb.Execute(func() error {
		var err error
		status, err = g.backend.Status(ctx, handle)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("transcoder unavailable: %w", err)
	}
	return status, err
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string { return g.cb.State() }
