// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/store"
)

// HeaderUserID identifies the caller. Authentication happens at the edge
// proxy, which sets this header after validating the session.
const HeaderUserID = "X-User-ID"

type ctxPrincipalKey struct{}

func withPrincipal(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey{}, u)
}

// principal returns the calling user, if the request carried one.
func principal(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(ctxPrincipalKey{}).(store.User)
	return u, ok
}

// identify resolves HeaderUserID to a user. Requests without the header
// continue anonymously; an unknown or malformed id is rejected.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, errUnauthorized)
			return
		}
		u, err := s.deps.Store.GetUser(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			logger := xglog.WithComponentFromContext(r.Context(), "auth")
			logger.Warn().Str(xglog.FieldEvent, "auth.unknown_user").Int64(xglog.FieldUserID, id).Msg("request for unknown user")
			writeError(w, r, errUnauthorized)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), u)))
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := principal(r.Context())
		switch {
		case !ok:
			writeError(w, r, errUnauthorized)
		case !u.IsActive:
			writeError(w, r, errInactiveUser)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// requireAdmin implies requireUser.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := principal(r.Context())
		if !u.IsAdmin {
			logger := xglog.WithComponentFromContext(r.Context(), "auth")
			logger.Warn().Str(xglog.FieldEvent, "auth.forbidden").Int64(xglog.FieldUserID, u.ID).Str("path", r.URL.Path).Msg("admin route denied")
			writeError(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// isAdmin reports whether the caller is an active administrator.
func isAdmin(ctx context.Context) bool {
	u, ok := principal(ctx)
	return ok && u.IsActive && u.IsAdmin
}
