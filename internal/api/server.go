// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the reelstream HTTP API.
package api

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/config"
	"github.com/ManuGH/reelstream/internal/lifecycle"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/membership"
	"github.com/ManuGH/reelstream/internal/payment"
	"github.com/ManuGH/reelstream/internal/store"
)

// ObjectStore is the part of media storage the API needs beyond the
// lifecycle controller.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, rawURL string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Handler() http.Handler
}

// Deps holds all dependencies for the API server.
type Deps struct {
	Store      *store.Store
	Lifecycle  *lifecycle.Controller
	Membership *membership.Service
	Payments   *payment.Service
	Objects    ObjectStore
	// Mail queues account emails. Nil sends none.
	Mail payment.Poster

	Config config.APIConfig
	// TracingService names server spans; empty disables HTTP tracing.
	TracingService string
	Version        string
	Now            func() time.Time
}

// Server routes requests to the domain services. The router is rebuilt
// when the API configuration changes so limits apply without a restart.
type Server struct {
	deps    Deps
	logger  zerolog.Logger
	started time.Time

	mu      sync.Mutex
	cfg     config.APIConfig
	handler atomic.Pointer[http.Handler]
}

func New(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{
		deps:    d,
		logger:  xglog.WithComponent("api"),
		started: d.Now(),
	}
	s.ApplyConfig(d.Config)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.handler.Load()).ServeHTTP(w, r)
}

// ApplyConfig swaps in a router built for cfg. In-flight requests finish
// on the router they started on.
func (s *Server) ApplyConfig(cfg config.APIConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	h := http.Handler(s.routes(cfg))
	s.handler.Store(&h)
	s.logger.Debug().
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Int("rpm", cfg.RateLimit.RequestsPerMinute).
		Msg("api router rebuilt")
}

func (s *Server) maxUploadBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.cfg.MaxUploadMB) << 20
}

// HTTPServer wraps s with the timeouts used in production. Upload routes
// stream large bodies, so there is no overall write timeout.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
