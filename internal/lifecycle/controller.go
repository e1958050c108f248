// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lifecycle drives a movie's transcoding lifecycle: upload,
// dispatch to the transcoding backend, reconciliation of job status and
// resolution of the playable manifest. All state lives in the media store;
// every transition is a single-record read-modify-write.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/reelstream/internal/domain/media"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
	"github.com/ManuGH/reelstream/internal/queue"
	"github.com/ManuGH/reelstream/internal/telemetry"
)

// errSuperseded aborts an update whose record moved on since it was read.
var errSuperseded = errors.New("lifecycle: record changed concurrently")

// DefaultCallTimeout bounds each call to storage, dispatcher or oracle.
const DefaultCallTimeout = 30 * time.Second

// Deps are the capabilities a Controller drives.
type Deps struct {
	Store      media.Store
	Storage    media.Storage
	Dispatcher media.Dispatcher
	Oracle     media.Oracle
	Queue      queue.Queue

	// CallTimeout bounds each external call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
	Logger      *zerolog.Logger
}

// Controller owns the lifecycle transitions of movie media.
type Controller struct {
	store       media.Store
	storage     media.Storage
	dispatcher  media.Dispatcher
	oracle      media.Oracle
	queue       queue.Queue
	callTimeout time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
}

func NewController(d Deps) *Controller {
	timeout := d.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := xglog.WithComponent("lifecycle")
	if d.Logger != nil {
		logger = d.Logger.With().Str(xglog.FieldComponent, "lifecycle").Logger()
	}
	return &Controller{
		store:       d.Store,
		storage:     d.Storage,
		dispatcher:  d.Dispatcher,
		oracle:      d.Oracle,
		queue:       d.Queue,
		callTimeout: timeout,
		logger:      logger,
		tracer:      telemetry.Tracer("reelstream/lifecycle"),
	}
}

func (c *Controller) log(ctx context.Context, movieID int64) zerolog.Logger {
	return xglog.WithContext(ctx, c.logger).With().Int64(xglog.FieldMovieID, movieID).Logger()
}

// rejectDispatch explains why a record cannot be dispatched from its state.
func rejectDispatch(s media.State) error {
	switch {
	case s.Dispatchable():
		return nil
	case s.InFlight():
		return media.ErrAlreadyInProgress
	default:
		return media.ErrAlreadyComplete
	}
}

// Dispatch submits a transcode job for movieID. Each step is committed
// before the next begins: the record is marked QUEUED, the job is
// submitted, and then the job handle or the failure is recorded. Dispatch
// failures leave the record in ERROR and are returned as *media.DispatchError.
// An empty sourceURL uses the source already stored on the record.
func (c *Controller) Dispatch(ctx context.Context, movieID int64, sourceURL string) (media.Record, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.dispatch")
	defer span.End()
	logger := c.log(ctx, movieID)

	var from media.State
	queued, err := c.store.UpdateMedia(ctx, movieID, func(r *media.Record) error {
		if err := rejectDispatch(r.State); err != nil {
			return err
		}
		switch {
		case sourceURL == "" && r.SourceURL == "":
			return media.ErrNoSource
		case sourceURL != "" && r.SourceURL != "" && sourceURL != r.SourceURL:
			return media.ErrSourceImmutable
		case r.SourceURL == "":
			r.SourceURL = sourceURL
		}
		from = r.State
		r.State = media.StateQueued
		r.JobHandle = ""
		r.Attempt++
		r.LastError = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, media.ErrAlreadyInProgress) || errors.Is(err, media.ErrAlreadyComplete) {
			metrics.DispatchOutcomes.WithLabelValues("rejected").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch rejected")
		return media.Record{}, err
	}
	metrics.RecordTransition(string(from), string(media.StateQueued))

	attempt := queued.Attempt
	prefix := media.OutputPrefix(movieID, attempt)
	span.SetAttributes(telemetry.MediaAttributes(movieID, string(queued.State), attempt)...)
	span.SetAttributes(telemetry.JobAttributes("", "", prefix)...)

	// The job is tracked to completion once submitted; the write-back
	// must not be lost to a canceled caller.
	persistCtx := context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	sub, submitErr := c.dispatcher.Submit(callCtx, queued.SourceURL, prefix)
	cancel()

	if submitErr != nil {
		derr := media.ClassifyDispatch(movieID, submitErr)
		rec, err := c.store.UpdateMedia(persistCtx, movieID, func(r *media.Record) error {
			if r.Attempt != attempt || r.State != media.StateQueued {
				return errSuperseded
			}
			r.State = media.StateError
			r.JobHandle = ""
			r.LastError = submitErr.Error()
			return nil
		})
		metrics.DispatchOutcomes.WithLabelValues(string(derr.Kind)).Inc()
		span.RecordError(derr)
		span.SetStatus(codes.Error, "dispatch failed")
		if err != nil {
			logger.Error().Err(err).Str(xglog.FieldEvent, "dispatch.persist_failed").Msg("could not record dispatch failure")
			return queued, errors.Join(derr, err)
		}
		metrics.RecordTransition(string(media.StateQueued), string(media.StateError))
		logger.Warn().
			Err(submitErr).
			Str(xglog.FieldEvent, "dispatch.failed").
			Str("kind", string(derr.Kind)).
			Int(xglog.FieldAttempt, attempt).
			Msg("transcode dispatch failed")
		return rec, derr
	}

	initial, known := media.ParseJobStatus(sub.InitialStatus)
	if !known {
		logger.Warn().
			Str(xglog.FieldEvent, "dispatch.unknown_status").
			Str("status", sub.InitialStatus).
			Msg("dispatcher reported unknown status, treating as ERROR")
	}

	rec, err := c.store.UpdateMedia(persistCtx, movieID, func(r *media.Record) error {
		if r.Attempt != attempt || r.State != media.StateQueued {
			return errSuperseded
		}
		r.JobHandle = sub.JobHandle
		r.StreamingURL = sub.PredictedOutputURL
		r.State = initial
		return nil
	})
	if err != nil {
		// The backend job exists but the record does not know it.
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "dispatch.persist_failed").
			Str(xglog.FieldJobHandle, sub.JobHandle).
			Msg("submitted job could not be recorded")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return queued, fmt.Errorf("lifecycle: record job %s: %w", sub.JobHandle, err)
	}

	if initial != media.StateQueued {
		metrics.RecordTransition(string(media.StateQueued), string(initial))
	}
	metrics.DispatchOutcomes.WithLabelValues("queued").Inc()
	span.SetAttributes(telemetry.JobAttributes(sub.JobHandle, sub.InitialStatus, "")...)
	logger.Info().
		Str(xglog.FieldEvent, "dispatch.submitted").
		Str(xglog.FieldJobHandle, sub.JobHandle).
		Str(xglog.FieldPrefix, prefix).
		Int(xglog.FieldAttempt, attempt).
		Str(xglog.FieldNewState, string(initial)).
		Msg("transcode job submitted")
	return rec, nil
}

// Enqueue validates that movieID can be dispatched and hands the work to a
// dispatch worker. The returned record is the state at enqueue time; the
// outcome is observed later through the record itself.
func (c *Controller) Enqueue(ctx context.Context, movieID int64) (media.Record, error) {
	rec, err := c.store.GetMedia(ctx, movieID)
	if err != nil {
		return media.Record{}, err
	}
	if err := rejectDispatch(rec.State); err != nil {
		return rec, err
	}
	if rec.SourceURL == "" {
		return rec, media.ErrNoSource
	}

	task := queue.Task{
		MovieID:    movieID,
		SourceURL:  rec.SourceURL,
		EnqueuedAt: time.Now().UTC(),
		RequestID:  xglog.RequestIDFromContext(ctx),
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		return rec, fmt.Errorf("lifecycle: enqueue movie %d: %w", movieID, err)
	}
	logger := c.log(ctx, movieID)
	logger.Info().Str(xglog.FieldEvent, "dispatch.enqueued").Msg("transcode dispatch queued")
	return rec, nil
}

// errDispatchInterrupted is the LastError of records whose dispatch never
// recorded a job handle.
const errDispatchInterrupted = "dispatch interrupted before a job was recorded"

// RecoverUnrecorded moves QUEUED records without a job handle to ERROR so
// they can be dispatched again. Such records are left behind when the
// process stops between marking a record QUEUED and recording its job, and
// the reconciler has no handle to poll them with. It must run before any
// dispatch worker starts and returns the number of records moved.
func (c *Controller) RecoverUnrecorded(ctx context.Context) (int, error) {
	recs, err := c.store.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: list in-flight: %w", err)
	}
	recovered := 0
	for _, rec := range recs {
		if rec.State != media.StateQueued || rec.JobHandle != "" {
			continue
		}
		_, err := c.store.UpdateMedia(ctx, rec.MovieID, func(r *media.Record) error {
			if r.State != media.StateQueued || r.JobHandle != "" {
				return errSuperseded
			}
			r.State = media.StateError
			r.LastError = errDispatchInterrupted
			return nil
		})
		switch {
		case errors.Is(err, errSuperseded), errors.Is(err, media.ErrNotFound):
			continue
		case err != nil:
			return recovered, fmt.Errorf("lifecycle: recover movie %d: %w", rec.MovieID, err)
		}
		recovered++
		metrics.RecordTransition(string(media.StateQueued), string(media.StateError))
		logger := c.log(ctx, rec.MovieID)
		logger.Warn().
			Str(xglog.FieldEvent, "dispatch.recovered").
			Int(xglog.FieldAttempt, rec.Attempt).
			Msg("dispatch without a recorded job marked failed")
	}
	return recovered, nil
}

// SourceKey is the storage key an uploaded original is written to.
func SourceKey(movieID int64, filename string) string {
	ext := strings.ToLower(filepath.Ext(path.Base(filepath.ToSlash(filename))))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return fmt.Sprintf("movies/%d/video/%s%s", movieID, uuid.NewString(), ext)
}

// Upload stores the original video of movieID, records its address and
// queues the transcode. A movie accepts exactly one source.
func (c *Controller) Upload(ctx context.Context, movieID int64, filename string, body io.Reader) (media.Record, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.upload")
	defer span.End()
	logger := c.log(ctx, movieID)

	rec, err := c.store.GetMedia(ctx, movieID)
	if err != nil {
		return media.Record{}, err
	}
	if rec.SourceURL != "" {
		return rec, media.ErrSourceImmutable
	}

	sourceURL, err := c.storage.Put(ctx, SourceKey(movieID, filename), body)
	if err != nil {
		span.RecordError(err)
		return rec, fmt.Errorf("lifecycle: store source: %w", err)
	}

	rec, err = c.store.UpdateMedia(ctx, movieID, func(r *media.Record) error {
		if r.SourceURL != "" {
			return media.ErrSourceImmutable
		}
		r.SourceURL = sourceURL
		return nil
	})
	if err != nil {
		if _, delErr := c.storage.Delete(context.WithoutCancel(ctx), sourceURL); delErr != nil {
			logger.Warn().Err(delErr).Str(xglog.FieldSourceURL, sourceURL).Msg("could not remove orphaned upload")
		}
		return rec, err
	}
	logger.Info().Str(xglog.FieldEvent, "upload.stored").Str(xglog.FieldSourceURL, sourceURL).Msg("source video stored")

	return c.Enqueue(ctx, movieID)
}

// ReconcileOne polls the job of an in-flight movie and applies the
// observed status. It reports whether the record changed. Records that are
// not in flight or have no job yet are skipped. An unchanged or regressed
// status writes nothing.
func (c *Controller) ReconcileOne(ctx context.Context, movieID int64) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.reconcile_one")
	defer span.End()
	logger := c.log(ctx, movieID)

	rec, err := c.store.GetMedia(ctx, movieID)
	if err != nil {
		return false, &media.ReconcileError{MovieID: movieID, Err: err}
	}
	if !rec.State.InFlight() || rec.JobHandle == "" {
		return false, nil
	}
	span.SetAttributes(telemetry.MediaAttributes(movieID, string(rec.State), rec.Attempt)...)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	raw, err := c.oracle.Status(callCtx, rec.JobHandle)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle failed")
		return false, &media.ReconcileError{MovieID: movieID, Err: err}
	}
	span.SetAttributes(telemetry.JobAttributes(rec.JobHandle, raw, "")...)

	next, known := media.ParseJobStatus(raw)
	if !known {
		logger.Warn().
			Str(xglog.FieldEvent, "reconcile.unknown_status").
			Str(xglog.FieldJobHandle, rec.JobHandle).
			Str("status", raw).
			Msg("oracle reported unknown status, treating as ERROR")
	}
	if next == rec.State {
		return false, nil
	}
	if !media.CanAdvance(rec.State, next) {
		logger.Debug().
			Str(xglog.FieldEvent, "reconcile.regression_ignored").
			Str(xglog.FieldOldState, string(rec.State)).
			Str(xglog.FieldNewState, string(next)).
			Msg("ignoring backward status")
		return false, nil
	}

	var manifest string
	if next == media.StateComplete {
		prefix := media.OutputPrefix(movieID, rec.Attempt)
		manifest, err = c.resolveManifest(ctx, prefix)
		if err != nil {
			metrics.ManifestResolutionFailures.Inc()
			logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "reconcile.manifest_unresolved").
				Str(xglog.FieldPrefix, prefix).
				Str(xglog.FieldStreamingURL, rec.StreamingURL).
				Msg("keeping predicted manifest address")
		}
	}

	updated, err := c.store.UpdateMedia(ctx, movieID, func(r *media.Record) error {
		if r.JobHandle != rec.JobHandle || r.State != rec.State {
			return errSuperseded
		}
		r.State = next
		switch next {
		case media.StateComplete:
			if manifest != "" {
				r.StreamingURL = manifest
			}
		case media.StateError, media.StateCanceled:
			r.LastError = "transcode job reported " + raw
		}
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, &media.ReconcileError{MovieID: movieID, Err: err}
	}

	metrics.RecordTransition(string(rec.State), string(next))
	logger.Info().
		Str(xglog.FieldEvent, "reconcile.transition").
		Str(xglog.FieldJobHandle, rec.JobHandle).
		Str(xglog.FieldOldState, string(rec.State)).
		Str(xglog.FieldNewState, string(updated.State)).
		Bool("playable", updated.IsPlayable()).
		Msg("transcode state changed")
	return true, nil
}

// resolveManifest lists prefix and picks the primary playlist: a .m3u8
// whose name contains "index", otherwise the first .m3u8 in key order.
func (c *Controller) resolveManifest(ctx context.Context, prefix string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	urls, err := c.storage.List(callCtx, prefix)
	if err != nil {
		return "", fmt.Errorf("%w: list %s: %v", media.ErrManifestNotFound, prefix, err)
	}
	return SelectManifest(urls)
}

// SelectManifest picks the primary playlist out of a listing.
func SelectManifest(urls []string) (string, error) {
	first := ""
	for _, u := range urls {
		name := path.Base(stripQuery(u))
		if !strings.EqualFold(path.Ext(name), ".m3u8") {
			continue
		}
		if strings.Contains(strings.ToLower(name), "index") {
			return u, nil
		}
		if first == "" {
			first = u
		}
	}
	if first == "" {
		return "", media.ErrManifestNotFound
	}
	return first, nil
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
