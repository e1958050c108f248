// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/reelstream/internal/api/middleware"
	"github.com/ManuGH/reelstream/internal/config"
)

// APIPrefix is the mount point of the versioned JSON API.
const APIPrefix = "/api/v1"

func (s *Server) routes(cfg config.APIConfig) *chi.Mux {
	stack := middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		TracingService:        s.deps.TracingService,
	}
	if cfg.RateLimit.Enabled {
		stack.RequestsPerMinute = cfg.RateLimit.RequestsPerMinute
	}
	r := middleware.NewRouter(stack)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.Objects != nil {
		r.Mount("/media", http.StripPrefix("/media", s.deps.Objects.Handler()))
	}

	uploads := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.Enabled && cfg.RateLimit.UploadsPerMinute > 0 {
		uploads = middleware.UploadRateLimit(cfg.RateLimit.UploadsPerMinute)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.identify)
		r.Get("/openapi.yaml", s.handleOpenAPI)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)
			r.With(s.requireUser).Get("/me", s.handleMe)
			r.With(s.requireAdmin).Get("/", s.handleListUsers)
			r.With(s.requireUser).Get("/{id}", s.handleGetUser)
			r.With(s.requireUser).Put("/{id}", s.handleUpdateUser)
			r.With(s.requireAdmin).Delete("/{id}", s.handleDeactivateUser)
		})

		r.Route("/movies", func(r chi.Router) {
			r.Get("/", s.handleListMovies)
			r.Get("/{id}", s.handleGetMovie)
			r.With(s.requireUser).Get("/{id}/transcoding-status", s.handleTranscodingStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.handleCreateMovie)
				r.Put("/{id}", s.handleUpdateMovie)
				r.Delete("/{id}", s.handleDeleteMovie)
				r.Post("/{id}/transcode", s.handleRetryTranscode)
				r.With(uploads).Post("/{id}/upload-poster", s.handleUploadPoster)
				r.With(uploads).Post("/{id}/upload-video", s.handleUploadVideo)
			})
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Get("/{id}", s.handleGetPlan)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.handleCreatePlan)
				r.Put("/{id}", s.handleUpdatePlan)
				r.Delete("/{id}", s.handleDeactivatePlan)
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Post("/", s.handleSubscribe)
				r.Get("/me", s.handleMySubscription)
				r.Get("/check-access", s.handleCheckAccess)
				r.Put("/{id}", s.handleUpdateSubscription)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.handleListSubscriptions)
				r.Get("/{id}", s.handleGetSubscription)
				r.Post("/{id}/extend", s.handleExtendSubscription)
				r.Post("/{id}/cancel", s.handleCancelSubscription)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireUser)
				r.Post("/orders", s.handleCreateOrder)
				r.Post("/verify", s.handleVerifyPayment)
				r.Get("/me", s.handleMyPayments)
				r.Get("/{id}/receipt", s.handleReceipt)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.handleListPayments)
				r.Post("/{id}/refund", s.handleRefund)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route_not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
	})
	return r
}
