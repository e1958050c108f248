// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"

	"github.com/ManuGH/reelstream/internal/metrics"
)

// Memory is an in-process bounded queue.
type Memory struct {
	ch     chan Task
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{ch: make(chan Task, capacity), done: make(chan struct{})}
}

func (m *Memory) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- t:
		metrics.QueueDepth.WithLabelValues("memory").Set(float64(len(m.ch)))
		return nil
	default:
		return ErrFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-m.ch:
		metrics.QueueDepth.WithLabelValues("memory").Set(float64(len(m.ch)))
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-m.done:
		return Task{}, ErrClosed
	}
}

// Len reports the number of waiting tasks.
func (m *Memory) Len() int { return len(m.ch) }

// Close wakes blocked consumers. Tasks still buffered are dropped; the
// reconciler never depends on them because the record stays dispatchable.
func (m *Memory) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}
