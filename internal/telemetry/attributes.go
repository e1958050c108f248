// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the lifecycle, payment and API layers.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	MovieIDKey      = "movie.id"
	MediaStateKey   = "media.state"
	MediaAttemptKey = "media.attempt"
	JobHandleKey    = "transcode.job_handle"
	JobStatusKey    = "transcode.job_status"
	OutputPrefixKey = "transcode.output_prefix"

	ReconcileScannedKey = "reconcile.scanned"
	ReconcileChangedKey = "reconcile.changed"
	ReconcileErrorsKey  = "reconcile.errors"

	PaymentOrderKey = "payment.order_id"
	PaymentKindKey  = "payment.kind"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// MediaAttributes describes a movie's transcoding record on a span.
func MediaAttributes(movieID int64, state string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(MovieIDKey, movieID),
		attribute.String(MediaStateKey, state),
		attribute.Int(MediaAttemptKey, attempt),
	}
}

// JobAttributes describes a transcoding job. Empty values are omitted.
func JobAttributes(handle, status, prefix string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if handle != "" {
		attrs = append(attrs, attribute.String(JobHandleKey, handle))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(JobStatusKey, status))
	}
	if prefix != "" {
		attrs = append(attrs, attribute.String(OutputPrefixKey, prefix))
	}
	return attrs
}

// ReconcileAttributes summarizes one reconciliation pass.
func ReconcileAttributes(scanned, changed, errs int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ReconcileScannedKey, scanned),
		attribute.Int(ReconcileChangedKey, changed),
		attribute.Int(ReconcileErrorsKey, errs),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
