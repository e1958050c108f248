// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/reelstream/internal/log"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager runs the HTTP servers of the daemon and owns resource cleanup.
type Manager interface {
	// Start binds the servers and blocks until ctx ends or a server fails.
	// It stops the servers before returning but does not run the hooks.
	Start(ctx context.Context) error

	// Shutdown stops any server still running, then runs the hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	deps Deps

	apiServer     *http.Server
	metricsServer *http.Server

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		deps:   deps,
		logger: deps.Logger.With().Str(xglog.FieldComponent, "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.deps.API.ListenAddr).
		Dur("shutdown_timeout", m.deps.API.ShutdownTimeout).
		Msg("starting daemon manager")

	errChan := make(chan error, 2)

	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              m.deps.MetricsAddr,
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		if err := m.serve(srv, "metrics", errChan); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		m.setServer(&m.metricsServer, srv)
	}

	srv := &http.Server{
		Addr:              m.deps.API.ListenAddr,
		Handler:           m.deps.APIHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if hs, ok := m.deps.APIHandler.(interface {
		HTTPServer(addr string) *http.Server
	}); ok {
		srv = hs.HTTPServer(m.deps.API.ListenAddr)
	}
	if err := m.serve(srv, "api", errChan); err != nil {
		_ = m.stopServers(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to start API server: %w", err)
	}
	m.setServer(&m.apiServer, srv)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, stopping servers")
		if stopErr := m.stopServers(context.WithoutCancel(ctx)); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		return m.stopServers(context.WithoutCancel(ctx))
	}
}

func (m *manager) setServer(dst **http.Server, srv *http.Server) {
	m.mu.Lock()
	*dst = srv
	m.mu.Unlock()
}

// serve binds synchronously so a taken port fails Start, then serves in
// the background.
func (m *manager) serve(srv *http.Server, name string, errChan chan<- error) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	m.logger.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str(xglog.FieldEvent, name+".server.failed").Msg("server failed")
			errChan <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
	return nil
}

// stopServers gracefully stops the servers within the API shutdown budget.
func (m *manager) stopServers(ctx context.Context) error {
	m.mu.Lock()
	servers := []struct {
		name string
		srv  *http.Server
	}{{"api", m.apiServer}, {"metrics", m.metricsServer}}
	m.apiServer, m.metricsServer = nil, nil
	m.mu.Unlock()

	timeout := m.deps.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for _, s := range servers {
		if s.srv == nil {
			continue
		}
		m.logger.Debug().Str("server", s.name).Msg("shutting down server")
		if err := s.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := m.shutdownHooks
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	var errs []error
	if err := m.stopServers(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	m.logger.Debug().Int("hooks", len(hooks)).Msg("executing shutdown hooks")
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
