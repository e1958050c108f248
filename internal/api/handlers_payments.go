// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/reelstream/internal/payment"
	"github.com/ManuGH/reelstream/internal/store"
)

var paymentStatuses = map[store.PaymentStatus]bool{
	"":                      true,
	store.PaymentPending:    true,
	store.PaymentSuccessful: true,
	store.PaymentFailed:     true,
	store.PaymentRefunded:   true,
}

func paymentStatus(r *http.Request) (store.PaymentStatus, error) {
	st := store.PaymentStatus(r.URL.Query().Get("status"))
	if !paymentStatuses[st] {
		return "", badRequest("unknown payment status %q", st)
	}
	return st, nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SubscriptionID int64 `json:"subscription_id"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.SubscriptionID <= 0 {
		writeError(w, r, invalid("subscription_id is required"))
		return
	}
	u, _ := principal(r.Context())
	order, err := s.deps.Payments.CreateOrder(r.Context(), u.ID, in.SubscriptionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var in payment.Verification
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" {
		writeError(w, r, invalid("order id, payment id and signature are required"))
		return
	}
	u, _ := principal(r.Context())
	p, err := s.deps.Payments.Verify(r.Context(), u.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMyPayments(w http.ResponseWriter, r *http.Request) {
	st, err := paymentStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, _ := principal(r.Context())
	payments, err := s.deps.Payments.MyPayments(r.Context(), u.ID, st, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payments))
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, _ := principal(r.Context())
	rc, err := s.deps.Payments.Receipt(r.Context(), u.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	st, err := paymentStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := queryInt(r, "user_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := s.deps.Payments.AdminList(r.Context(), store.PaymentFilter{UserID: int64(userID), Status: st, Page: p})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payments))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Payments.Refund(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
