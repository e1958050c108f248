// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"context"
	"io"
)

// Storage stores binary objects and hands out addressable URLs.
type Storage interface {
	// Put writes r under key and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// Delete removes the object behind url. It reports false when nothing was removed.
	Delete(ctx context.Context, url string) (bool, error)
	// List returns the URLs of all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Dispatcher submits transcode jobs to the transcoding backend.
type Dispatcher interface {
	Submit(ctx context.Context, sourceURL, outputPrefix string) (Submission, error)
}

// Oracle reports the raw status string of a transcode job.
type Oracle interface {
	Status(ctx context.Context, jobHandle string) (string, error)
}

// Store is the narrow persistence port for lifecycle state. Update runs fn
// against the current row inside one transaction and persists the result
// unless fn returns an error.
type Store interface {
	GetMedia(ctx context.Context, movieID int64) (Record, error)
	UpdateMedia(ctx context.Context, movieID int64, fn func(*Record) error) (Record, error)
	ListInFlight(ctx context.Context) ([]Record, error)
}
