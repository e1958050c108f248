// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessDecisions counts playback access decisions by reason.
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_access_decisions_total",
		Help: "Playback access decisions by outcome and reason",
	}, []string{"granted", "reason"})

	// PaymentEvents counts payment verifications, refunds and order creations.
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_payment_events_total",
		Help: "Payment gateway interactions by kind and result",
	}, []string{"kind", "result"})

	// EmailsSent counts notification emails by template and result.
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_emails_total",
		Help: "Notification emails by template and result",
	}, []string{"template", "result"})

	// TranscodeJobs counts jobs finished by the local transcoding service.
	TranscodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelstream_transcoder_jobs_total",
		Help: "Jobs finished by the local transcoding service by final status",
	}, []string{"status"})

	// TranscodeStalls counts ffmpeg runs killed by the stall watchdog.
	TranscodeStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelstream_transcoder_stalls_total",
		Help: "ffmpeg runs killed because progress stalled",
	})
)

// RecordAccessDecision records one access decision.
func RecordAccessDecision(granted bool, reason string) {
	g := "false"
	if granted {
		g = "true"
	}
	AccessDecisions.WithLabelValues(g, reason).Inc()
}

// RecordPaymentEvent records a payment gateway interaction.
func RecordPaymentEvent(kind, result string) {
	PaymentEvents.WithLabelValues(kind, result).Inc()
}
