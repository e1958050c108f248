// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LifecycleTransitions counts persisted lifecycle state changes.
	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_lifecycle_transitions_total",
		Help: "Persisted transcoding lifecycle transitions",
	}, []string{"from", "to"})

	// DispatchOutcomes counts dispatch attempts by result (queued, transient, permanent, rejected).
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_dispatch_total",
		Help: "Transcode dispatch attempts by outcome",
	}, []string{"outcome"})

	// ReconcileResults counts per-movie reconciliation results (changed, unchanged, error).
	ReconcileResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_reconcile_results_total",
		Help: "Per-movie reconciliation results",
	}, []string{"result"})

	// ReconcilePassDuration tracks how long a full reconciliation pass takes.
	ReconcilePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelstream_reconcile_pass_duration_seconds",
		Help:    "Duration of one reconciliation pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	// InFlightJobs is the number of movies in QUEUED or PROCESSING seen by the last pass.
	InFlightJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelstream_inflight_transcodes",
		Help: "Movies with an in-flight transcode at the last reconciliation pass",
	})

	// ManifestResolutionFailures counts completions that kept the predicted manifest.
	ManifestResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelstream_manifest_resolution_failures_total",
		Help: "Completed jobs whose real manifest could not be resolved",
	})

	// QueueDepth tracks dispatch tasks waiting in the in-memory queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reelstream_dispatch_queue_depth",
		Help: "Dispatch tasks waiting to be consumed",
	}, []string{"backend"})
)

// RecordTransition records a persisted lifecycle transition.
func RecordTransition(from, to string) {
	LifecycleTransitions.WithLabelValues(from, to).Inc()
}

// ObserveReconcilePass records pass duration and the in-flight count.
func ObserveReconcilePass(d time.Duration, inFlight int) {
	ReconcilePassDuration.Observe(d.Seconds())
	InFlightJobs.Set(float64(inFlight))
}
