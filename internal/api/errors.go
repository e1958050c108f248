// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	xglog "github.com/ManuGH/reelstream/internal/log"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/domain/subscription"
	"github.com/ManuGH/reelstream/internal/membership"
	"github.com/ManuGH/reelstream/internal/payment"
	"github.com/ManuGH/reelstream/internal/queue"
	"github.com/ManuGH/reelstream/internal/storage"
	"github.com/ManuGH/reelstream/internal/store"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// requestError is a client mistake detected by the handler itself.
type requestError struct {
	status int
	code   string
	detail string
}

func (e *requestError) Error() string { return e.detail }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: "bad_request", detail: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) error {
	return &requestError{status: http.StatusUnprocessableEntity, code: "invalid_request", detail: fmt.Sprintf(format, args...)}
}

var (
	errUnauthorized = &requestError{status: http.StatusUnauthorized, code: "unauthorized", detail: "a valid X-User-ID header is required"}
	errForbidden    = &requestError{status: http.StatusForbidden, code: "forbidden", detail: "not allowed for this user"}
	errInactiveUser = &requestError{status: http.StatusForbidden, code: "inactive_user", detail: "user account is deactivated"}
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is consulted in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{media.ErrNotFound, http.StatusNotFound, "movie_not_found"},
	{subscription.ErrNotFound, http.StatusNotFound, "subscription_not_found"},
	{subscription.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{payment.ErrNotFound, http.StatusNotFound, "payment_not_found"},

	{store.ErrConflict, http.StatusConflict, "conflict"},
	{media.ErrAlreadyInProgress, http.StatusConflict, "transcode_in_progress"},
	{media.ErrAlreadyComplete, http.StatusConflict, "transcode_finished"},
	{media.ErrSourceImmutable, http.StatusConflict, "source_exists"},
	{subscription.ErrPlanInUse, http.StatusConflict, "plan_in_use"},
	{payment.ErrAlreadySettled, http.StatusConflict, "payment_settled"},

	{payment.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{storage.ErrInvalidKey, http.StatusBadRequest, "invalid_object_key"},

	{media.ErrNoSource, http.StatusUnprocessableEntity, "no_source"},
	{media.ErrPermanent, http.StatusUnprocessableEntity, "dispatch_rejected"},
	{membership.ErrInvalidPlan, http.StatusUnprocessableEntity, "invalid_plan"},
	{subscription.ErrInvalidDuration, http.StatusUnprocessableEntity, "invalid_plan"},
	{subscription.ErrInvalidPrice, http.StatusUnprocessableEntity, "invalid_plan"},
	{subscription.ErrInvalidExtensionDays, http.StatusUnprocessableEntity, "invalid_extension"},
	{payment.ErrNotRefundable, http.StatusUnprocessableEntity, "not_refundable"},

	{media.ErrTransient, http.StatusServiceUnavailable, "dispatch_unavailable"},
	{payment.ErrGateway, http.StatusServiceUnavailable, "gateway_unavailable"},
	{queue.ErrFull, http.StatusServiceUnavailable, "queue_full"},
	{queue.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},
}

// classify maps err to a status, an error code and a client-safe detail.
func classify(err error) (int, string, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, reqErr.code, reqErr.detail
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code, err.Error()
		}
	}
	return http.StatusInternalServerError, "internal_error", "An unexpected error occurred."
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates err through errorTable. Unmapped errors are logged
// and reported without their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, detail := classify(err)
	if status >= http.StatusInternalServerError {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(xglog.FieldEvent, "api.error").Str("code", code).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

const maxJSONBody = 1 << 20

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}
