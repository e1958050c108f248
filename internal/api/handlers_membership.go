// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/reelstream/internal/domain/subscription"
	"github.com/ManuGH/reelstream/internal/membership"
	"github.com/ManuGH/reelstream/internal/store"
)

// handleListPlans lists active plans. Admins may add ?include_inactive=true.
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	all, err := queryBool(r, "include_inactive")
	if err != nil {
		writeError(w, r, err)
		return
	}
	plans, err := s.deps.Membership.ListPlans(r.Context(), all && isAdmin(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(plans))
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Membership.Plan(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !p.IsActive && !isAdmin(r.Context()) {
		writeError(w, r, subscription.ErrPlanNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in membership.PlanPatch
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Name == nil || in.Price == nil || in.DurationDays == nil {
		writeError(w, r, invalid("name, price and duration_days are required"))
		return
	}
	p := subscription.Plan{Name: *in.Name, Price: *in.Price, DurationDays: *in.DurationDays}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Features != nil {
		p.Features = *in.Features
	}
	created, err := s.deps.Membership.CreatePlan(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in membership.PlanPatch
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Membership.UpdatePlan(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeactivatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Membership.DeactivatePlan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PlanID    int64 `json:"plan_id"`
		AutoRenew bool  `json:"auto_renew"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.PlanID <= 0 {
		writeError(w, r, invalid("plan_id is required"))
		return
	}
	u, _ := principal(r.Context())
	sub, err := s.deps.Membership.Subscribe(r.Context(), u.ID, in.PlanID, in.AutoRenew)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleMySubscription(w http.ResponseWriter, r *http.Request) {
	u, _ := principal(r.Context())
	st, err := s.deps.Membership.MyStatus(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	u, _ := principal(r.Context())
	st, err := s.deps.Membership.CheckAccess(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in membership.SubscriptionPatch
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	u, _ := principal(r.Context())
	sub, err := s.deps.Membership.Update(r.Context(), u.ID, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

var subscriptionStatuses = map[string]bool{"": true, "all": true, "active": true, "expired": true}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := r.URL.Query().Get("status")
	if !subscriptionStatuses[status] {
		writeError(w, r, badRequest("status must be active, expired or all"))
		return
	}
	userID, err := queryInt(r, "user_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subs, err := s.deps.Membership.List(r.Context(), store.SubscriptionFilter{Status: status, UserID: int64(userID), Page: p})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(subs))
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Membership.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleExtendSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in struct {
		Days int `json:"days"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Membership.Extend(r.Context(), id, in.Days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Membership.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
