// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/domain/media"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/queue"
)

const dequeueBackoff = time.Second

// Worker consumes dispatch tasks and runs Dispatch for each.
type Worker struct {
	ctrl   *Controller
	queue  queue.Queue
	logger zerolog.Logger
}

func NewWorker(ctrl *Controller, q queue.Queue) *Worker {
	return &Worker{
		ctrl:   ctrl,
		queue:  q,
		logger: xglog.WithComponent("dispatch-worker"),
	}
}

// Run blocks until ctx is canceled or the queue is closed. A task that has
// been dequeued is dispatched even if ctx is canceled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
			w.handle(ctx, task)
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			w.logger.Warn().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueBackoff):
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, task queue.Task) {
	ctx = context.WithoutCancel(ctx)
	if task.RequestID != "" {
		ctx = xglog.ContextWithRequestID(ctx, task.RequestID)
	}
	ctx = xglog.ContextWithMovieID(ctx, task.MovieID)

	rec, err := w.ctrl.Dispatch(ctx, task.MovieID, task.SourceURL)
	logger := xglog.WithContext(ctx, w.logger)
	var derr *media.DispatchError
	switch {
	case err == nil:
		logger.Debug().
			Str(xglog.FieldJobHandle, rec.JobHandle).
			Dur("queued_for", time.Since(task.EnqueuedAt)).
			Msg("task dispatched")
	case errors.Is(err, media.ErrAlreadyInProgress), errors.Is(err, media.ErrAlreadyComplete):
		logger.Debug().Err(err).Msg("duplicate task skipped")
	case errors.As(err, &derr):
		// Already logged and persisted as ERROR by the controller.
	default:
		logger.Error().Err(err).Msg("dispatch task failed")
	}
}
