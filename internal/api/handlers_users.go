// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"net/mail"
	"strings"

	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/notify"
	"github.com/ManuGH/reelstream/internal/store"
)

type userInput struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
	FullName *string `json:"full_name"`
	IsActive *bool   `json:"is_active"`
	IsAdmin  *bool   `json:"is_admin"`
}

// apply copies set fields onto u. Only admins may touch the flags.
func (in userInput) apply(u *store.User, admin bool) error {
	if (in.IsActive != nil || in.IsAdmin != nil) && !admin {
		return errForbidden
	}
	if in.Email != nil {
		addr, err := mail.ParseAddress(*in.Email)
		if err != nil {
			return invalid("invalid email %q", *in.Email)
		}
		u.Email = strings.ToLower(addr.Address)
	}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if name == "" {
			return invalid("username must not be empty")
		}
		u.Username = name
	}
	if in.FullName != nil {
		u.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if in.IsAdmin != nil {
		u.IsAdmin = *in.IsAdmin
	}
	return nil
}

// handleCreateUser registers an account. Anonymous callers always get a
// regular active user.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Email == nil || in.Username == nil {
		writeError(w, r, invalid("email and username are required"))
		return
	}
	u := store.User{IsActive: true}
	if err := in.apply(&u, isAdmin(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().Str(xglog.FieldEvent, "user.created").Int64(xglog.FieldUserID, created.ID).Msg("user created")
	if s.deps.Mail != nil {
		s.deps.Mail.Post(notify.Welcome(created.Email, created.Username))
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := principal(r.Context())
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := s.deps.Store.ListUsers(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

// selfOrAdmin resolves the {id} path parameter, allowing callers to read
// and edit only their own account unless they are admins.
func selfOrAdmin(r *http.Request) (int64, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, err
	}
	u, _ := principal(r.Context())
	if u.ID != id && !u.IsAdmin {
		return 0, errForbidden
	}
	return id, nil
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := selfOrAdmin(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := selfOrAdmin(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in userInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	admin := isAdmin(r.Context())
	u, err := s.deps.Store.UpdateUser(r.Context(), id, func(u *store.User) error {
		return in.apply(u, admin)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleDeactivateUser keeps the row so payments and subscriptions retain
// their owner.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Store.UpdateUser(r.Context(), id, func(u *store.User) error {
		u.IsActive = false
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().Str(xglog.FieldEvent, "user.deactivated").Int64(xglog.FieldUserID, id).Msg("user deactivated")
	writeJSON(w, http.StatusOK, u)
}

// nonNil renders empty listings as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
