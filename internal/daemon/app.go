// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/reelstream/internal/config"
	xglog "github.com/ManuGH/reelstream/internal/log"
)

// Runner is a background component that works until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// ConfigApplier receives the API section of every reloaded config.
type ConfigApplier interface {
	ApplyConfig(cfg config.APIConfig)
}

type namedRunner struct {
	name string
	r    Runner
}

// App owns the long-lived runtime: background runners, reload wiring and
// the server manager. Resources are released only after every runner has
// returned.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	applier      ConfigApplier
	runners      []namedRunner
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. holder and applier may be nil.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, applier ConfigApplier) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		applier:      applier,
		reloadSignal: syscall.SIGHUP,
	}
}

// AddRunner registers a background component. Runners start in Run.
func (a *App) AddRunner(name string, r Runner) {
	a.runners = append(a.runners, namedRunner{name: name, r: r})
}

// Run starts everything and blocks until ctx is canceled or a component
// fails. Either way the manager's shutdown hooks run before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, nr := range a.runners {
		g.Go(func() error {
			a.logger.Debug().Str("runner", nr.name).Msg("runner started")
			if err := nr.r.Run(gctx); err != nil {
				a.logger.Error().Err(err).Str(xglog.FieldEvent, "runner.failed").Str("runner", nr.name).Msg("runner failed")
				return fmt.Errorf("%s: %w", nr.name, err)
			}
			a.logger.Debug().Str("runner", nr.name).Msg("runner stopped")
			return nil
		})
	}

	if a.holder != nil {
		g.Go(func() error {
			if err := a.holder.Watch(gctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("config watcher unavailable")
			}
			return nil
		})

		if a.applier != nil {
			applyCh := make(chan config.AppConfig, 1)
			a.holder.RegisterListener(applyCh)
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case cfg := <-applyCh:
						a.applier.ApplyConfig(cfg.API)
					}
				}
			})
		}

		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str(xglog.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						// Reload logs its own failure; the old config stays live.
						_ = a.holder.Reload(gctx)
					}
				}
			})
		}
	}

	g.Go(func() error {
		return a.manager.Start(gctx)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if err := a.manager.Shutdown(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrManagerNotStarted) {
		return errors.Join(runErr, err)
	}
	return runErr
}
