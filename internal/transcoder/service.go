// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcoder is the local transcoding service. It accepts jobs,
// runs them in the background with bounded concurrency and reports their
// status by opaque handle, the same contract a managed cloud transcoder
// offers. Jobs survive restarts in a Badger job table.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/metrics"
)

// Objects is the slice of the media store the service reads from and writes to.
type Objects interface {
	// Path maps an object key to its file.
	Path(key string) (string, error)
	// LocalPath maps a public URL served by the store to its file.
	LocalPath(rawURL string) (string, error)
	// URL returns the public address of key.
	URL(key string) string
}

// Config bounds the service.
type Config struct {
	// Concurrency is the number of ffmpeg processes allowed at once.
	Concurrency int
	// MaxPending caps SUBMITTED+PROGRESSING jobs; further submissions fail with ErrQuotaExceeded.
	MaxPending int
}

type run struct {
	cancel   context.CancelFunc
	mu       sync.Mutex
	canceled bool
}

func (r *run) markCanceled() {
	r.mu.Lock()
	r.canceled = true
	r.mu.Unlock()
	r.cancel()
}

func (r *run) wasCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Service runs transcode jobs. Submit and Status are safe for concurrent use.
type Service struct {
	jobs       JobTable
	runner     Runner
	objects    Objects
	log        zerolog.Logger
	sem        chan struct{}
	maxPending int

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// NewService wires a service. Call Recover before accepting submissions.
func NewService(jobs JobTable, runner Runner, objects Objects, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 32
	}
	return &Service{
		jobs:       jobs,
		runner:     runner,
		objects:    objects,
		log:        logger.With().Str("component", "transcoder").Logger(),
		sem:        make(chan struct{}, cfg.Concurrency),
		maxPending: cfg.MaxPending,
		runs:       make(map[string]*run),
	}
}

// Recover marks jobs left active by a previous process as ERROR. Their
// ffmpeg process died with it, so they can never complete.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var stale []string
	err := s.jobs.Scan(func(j Job) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.Status.Active() {
			stale = append(stale, j.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range stale {
		if _, err := s.jobs.Update(id, func(j *Job) error {
			j.Status = StatusError
			j.ErrorMessage = "interrupted by restart"
			return nil
		}); err != nil {
			return 0, err
		}
		s.log.Warn().Str("event", "transcode.recovered").Str("job_handle", id).Msg("marked interrupted job as failed")
	}
	return len(stale), nil
}

// Submit accepts a job that packages sourceURL as HLS under outputPrefix.
func (s *Service) Submit(ctx context.Context, sourceURL, outputPrefix string) (media.Submission, error) {
	if err := ctx.Err(); err != nil {
		return media.Submission{}, err
	}
	inputPath, err := s.resolveSource(sourceURL)
	if err != nil {
		return media.Submission{}, err
	}
	if outputPrefix == "" || !strings.HasSuffix(outputPrefix, "/") {
		return media.Submission{}, fmt.Errorf("%w: output prefix %q", ErrInvalidSource, outputPrefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Submission{}, ErrClosed
	}
	active, err := s.jobs.CountActive()
	if err != nil {
		return media.Submission{}, err
	}
	if active >= s.maxPending {
		return media.Submission{}, ErrQuotaExceeded
	}

	now := time.Now().UTC()
	job := Job{
		ID:           uuid.NewString(),
		Source:       sourceURL,
		InputPath:    inputPath,
		OutputPrefix: outputPrefix,
		Status:       StatusSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobs.Put(job); err != nil {
		return media.Submission{}, fmt.Errorf("transcoder: persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel}
	s.runs[job.ID] = r
	s.wg.Add(1)
	go s.execute(runCtx, r, job)

	s.log.Info().
		Str("event", "transcode.submitted").
		Str("job_handle", job.ID).
		Str("prefix", outputPrefix).
		Msg("job accepted")

	return media.Submission{
		JobHandle:          job.ID,
		InitialStatus:      string(StatusSubmitted),
		PredictedOutputURL: s.objects.URL(outputPrefix + ManifestName),
	}, nil
}

func (s *Service) resolveSource(sourceURL string) (string, error) {
	if p, err := s.objects.LocalPath(sourceURL); err == nil {
		info, statErr := os.Stat(p)
		if statErr != nil || !info.Mode().IsRegular() {
			return "", fmt.Errorf("%w: %s is not a readable file", ErrInvalidSource, sourceURL)
		}
		return p, nil
	}
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, sourceURL)
	}
	return sourceURL, nil
}

// Status returns the raw status of the job behind handle.
func (s *Service) Status(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	job, err := s.jobs.Get(handle)
	if err != nil {
		return "", err
	}
	return string(job.Status), nil
}

// Job returns the full job record.
func (s *Service) Job(handle string) (Job, error) {
	return s.jobs.Get(handle)
}

// Cancel stops a running job. Finished jobs are left untouched.
func (s *Service) Cancel(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	r, ok := s.runs[handle]
	s.mu.Unlock()
	if ok {
		r.markCanceled()
		return nil
	}
	_, err := s.jobs.Get(handle)
	return err
}

// Close cancels running jobs and waits for them to record their final status.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) execute(ctx context.Context, r *run, job Job) {
	logger := s.log.With().Str("job_handle", job.ID).Logger()
	var outDir string

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Str("event", "transcode.panic").Interface("panic", p).Msg("job panicked")
			s.finish(logger, job.ID, outDir, fmt.Errorf("panic: %v", p), r)
		}
		s.mu.Lock()
		delete(s.runs, job.ID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(logger, job.ID, "", ctx.Err(), r)
		return
	}

	if _, err := s.jobs.Update(job.ID, func(j *Job) error {
		j.Status = StatusProgressing
		return nil
	}); err != nil {
		logger.Error().Err(err).Str("event", "transcode.persist_failed").Msg("could not mark job progressing")
		s.finish(logger, job.ID, "", fmt.Errorf("mark job progressing: %w", err), r)
		return
	}

	dir, err := s.objects.Path(job.OutputPrefix)
	if err == nil {
		outDir = dir
		err = os.MkdirAll(outDir, 0o755)
	}
	if err == nil {
		var lastWrite time.Time
		err = s.runner.Run(ctx, RunInput{
			JobID:     job.ID,
			InputPath: job.InputPath,
			OutputDir: outDir,
			OnProgress: func(us int64) {
				if time.Since(lastWrite) < time.Second {
					return
				}
				lastWrite = time.Now()
				_, _ = s.jobs.Update(job.ID, func(j *Job) error {
					j.OutTimeUs = us
					return nil
				})
			},
		})
	}
	if err == nil {
		if _, statErr := os.Stat(filepath.Join(outDir, ManifestName)); statErr != nil {
			err = fmt.Errorf("manifest missing after run: %w", statErr)
		}
	}
	s.finish(logger, job.ID, outDir, err, r)
}

func (s *Service) finish(logger zerolog.Logger, id, outDir string, runErr error, r *run) {
	status := StatusComplete
	msg := ""
	switch {
	case runErr == nil:
	case r.wasCanceled():
		status = StatusCanceled
		msg = "canceled"
	case errors.Is(runErr, context.Canceled):
		status = StatusError
		msg = "interrupted by shutdown"
	default:
		status = StatusError
		msg = runErr.Error()
	}

	if status != StatusComplete && outDir != "" {
		if err := os.RemoveAll(outDir); err != nil {
			logger.Warn().Err(err).Str("event", "transcode.cleanup_failed").Msg("could not remove partial output")
		}
	}

	if _, err := s.jobs.Update(id, func(j *Job) error {
		j.Status = status
		j.ErrorMessage = msg
		return nil
	}); err != nil {
		logger.Error().Err(err).Str("event", "transcode.persist_failed").Msg("could not record final status")
	}
	metrics.TranscodeJobs.WithLabelValues(string(status)).Inc()

	ev := logger.Info()
	if status == StatusError {
		ev = logger.Warn().Str("error", msg)
	}
	ev.Str("event", "transcode.finished").Str("status", string(status)).Msg("job finished")
}
