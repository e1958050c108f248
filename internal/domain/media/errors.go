// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("media: movie not found")
	ErrAlreadyInProgress = errors.New("media: transcode already in progress")
	ErrAlreadyComplete   = errors.New("media: transcode already finished")
	ErrNoSource          = errors.New("media: no source uploaded")
	ErrSourceImmutable   = errors.New("media: source already uploaded")
	ErrManifestNotFound  = errors.New("media: no manifest in output location")

	// ErrTransient marks failures that are safe to retry by dispatching again.
	ErrTransient = errors.New("transient")
	// ErrPermanent marks failures that need operator attention (bad source, quota).
	ErrPermanent = errors.New("permanent")
)

// DispatchKind classifies a dispatch failure.
type DispatchKind string

const (
	DispatchTransient DispatchKind = "transient"
	DispatchPermanent DispatchKind = "permanent"
)

// DispatchError is returned when the dispatcher rejected or failed a job.
// The record is left in ERROR with no job handle.
type DispatchError struct {
	MovieID int64
	Kind    DispatchKind
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch movie %d (%s): %v", e.MovieID, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransient) and errors.Is(err, ErrPermanent) match on kind.
func (e *DispatchError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == DispatchTransient
	case ErrPermanent:
		return e.Kind == DispatchPermanent
	}
	return false
}

// ClassifyDispatch wraps err into a DispatchError. Errors already marked with
// ErrPermanent stay permanent; everything else is treated as transient.
func ClassifyDispatch(movieID int64, err error) *DispatchError {
	kind := DispatchTransient
	if errors.Is(err, ErrPermanent) {
		kind = DispatchPermanent
	}
	return &DispatchError{MovieID: movieID, Kind: kind, Err: err}
}

// ReconcileError wraps an oracle or store failure seen while reconciling a
// single movie. It never implies a state change.
type ReconcileError struct {
	MovieID int64
	Err     error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile movie %d: %v", e.MovieID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
