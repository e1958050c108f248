// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the transcoding lifecycle model of a movie and the
// ports the lifecycle controller drives.
package media

import (
	"fmt"
	"strings"
	"time"
)

// State is the transcoding lifecycle state of a movie.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateQueued     State = "QUEUED"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
	StateError      State = "ERROR"
	StateCanceled   State = "CANCELED"
)

// Valid reports whether s is one of the lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateNotStarted, StateQueued, StateProcessing, StateComplete, StateError, StateCanceled:
		return true
	}
	return false
}

// InFlight reports whether a transcode job is expected to be running.
func (s State) InFlight() bool {
	return s == StateQueued || s == StateProcessing
}

// IsTerminal reports whether the state only changes through operator action.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError || s == StateCanceled
}

// Dispatchable reports whether a dispatch may start from s.
func (s State) Dispatchable() bool {
	return s == StateNotStarted || s == StateError
}

// transitions lists the edges the reconciler may apply. Dispatch owns the
// NOT_STARTED/ERROR -> QUEUED/ERROR edges and checks them separately.
var transitions = map[State][]State{
	StateQueued:     {StateProcessing, StateComplete, StateError, StateCanceled},
	StateProcessing: {StateComplete, StateError, StateCanceled},
}

// CanAdvance reports whether an observed job status may move the record from
// -> to. Same-state and regressions (PROCESSING -> QUEUED) are rejected.
func CanAdvance(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseJobStatus maps a status string reported by a transcoding backend into
// the lifecycle enum. Both lifecycle names and the managed-service vocabulary
// (SUBMITTED, PROGRESSING) are understood; anything else maps to ERROR.
func ParseJobStatus(raw string) (State, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUBMITTED", "QUEUED", "PENDING":
		return StateQueued, true
	case "PROGRESSING", "PROCESSING", "RUNNING":
		return StateProcessing, true
	case "COMPLETE", "COMPLETED", "SUCCEEDED":
		return StateComplete, true
	case "ERROR", "FAILED":
		return StateError, true
	case "CANCELED", "CANCELLED":
		return StateCanceled, true
	default:
		return StateError, false
	}
}

// Record is the media part of a movie: where the source lives, which job is
// transcoding it and where the playable manifest is.
type Record struct {
	MovieID      int64     `json:"movie_id"`
	SourceURL    string    `json:"source_url,omitempty"`
	StreamingURL string    `json:"-"`
	JobHandle    string    `json:"job_handle,omitempty"`
	State        State     `json:"state"`
	Attempt      int       `json:"attempt"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsPlayable is true once the manifest of a completed job is known.
func (r Record) IsPlayable() bool {
	return r.State == StateComplete && r.StreamingURL != ""
}

// PublicStreamingURL returns the manifest address only for playable media.
func (r Record) PublicStreamingURL() string {
	if !r.IsPlayable() {
		return ""
	}
	return r.StreamingURL
}

// OutputPrefix is the storage prefix the given dispatch attempt writes to.
// It is derived from the movie ID and attempt so retries never reuse the
// output location of an earlier job.
func OutputPrefix(movieID int64, attempt int) string {
	return fmt.Sprintf("movies/%d/hls/%d/", movieID, attempt)
}

// MoviePrefix is the storage prefix holding every object owned by a movie.
func MoviePrefix(movieID int64) string {
	return fmt.Sprintf("movies/%d/", movieID)
}

// Submission is what a dispatcher reports for an accepted job.
type Submission struct {
	JobHandle          string
	InitialStatus      string
	PredictedOutputURL string
}
