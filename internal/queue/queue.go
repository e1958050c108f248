// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue hands dispatch tasks from request handlers to the dispatch
// workers. A handler only enqueues; the worker owns the slow submission.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("queue: closed")
	ErrFull   = errors.New("queue: full")
)

// Task asks a worker to dispatch a transcode for one movie.
type Task struct {
	MovieID    int64     `json:"movie_id"`
	SourceURL  string    `json:"source_url"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Queue is a FIFO of tasks.
type Queue interface {
	// Enqueue never blocks on a full queue; it returns ErrFull instead.
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task arrives, ctx ends or the queue is closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}
