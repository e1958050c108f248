// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package access decides whether a subscriber may play a movie.
package access

import (
	"time"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/domain/subscription"
)

// Reason explains an access decision.
type Reason string

const (
	ReasonAdmin          Reason = "admin"
	ReasonSubscription   Reason = "subscription"
	ReasonNoSubscription Reason = "no_active_subscription"
)

// Subscriber is the entitlement snapshot of the requesting user.
type Subscriber struct {
	UserID        int64
	IsAdmin       bool
	Subscriptions []subscription.Subscription
}

// Decision is the outcome of Evaluate. StreamingURL is empty unless access is
// granted and the media is playable.
type Decision struct {
	Granted      bool   `json:"granted"`
	StreamingURL string `json:"streaming_url,omitempty"`
	Reason       Reason `json:"reason"`
}

// Evaluate is a pure function of the subscriber snapshot, the media snapshot
// and now. Admins are granted unconditionally but still never receive the
// manifest address of media that is not playable.
func Evaluate(sub Subscriber, movie media.Record, now time.Time) Decision {
	d := Decision{Reason: ReasonNoSubscription}
	switch {
	case sub.IsAdmin:
		d.Granted = true
		d.Reason = ReasonAdmin
	case entitled(sub.Subscriptions, now):
		d.Granted = true
		d.Reason = ReasonSubscription
	}
	if d.Granted {
		d.StreamingURL = movie.PublicStreamingURL()
	}
	return d
}

func entitled(subs []subscription.Subscription, now time.Time) bool {
	for _, s := range subs {
		if s.IsEntitled(now) {
			return true
		}
	}
	return false
}
