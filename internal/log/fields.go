// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldMovieID       = "movie_id"
	FieldUserID        = "user_id"
	FieldPaymentID     = "payment_id"
	FieldJobHandle     = "job_handle"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Location fields
	FieldSourceURL    = "source_url"
	FieldStreamingURL = "streaming_url"
	FieldPrefix       = "prefix"

	// Tracing fields
	FieldTraceID = "trace_id"
	FieldSpanID  = "span_id"
)
