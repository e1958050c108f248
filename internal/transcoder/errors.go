// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"errors"
	"fmt"

	"github.com/ManuGH/reelstream/internal/domain/media"
)

var (
	// ErrJobNotFound is returned for unknown job handles.
	ErrJobNotFound = errors.New("transcoder: job not found")

	// ErrInvalidSource rejects sources the service cannot read. Retrying the
	// same source cannot succeed.
	ErrInvalidSource = fmt.Errorf("transcoder: invalid source: %w", media.ErrPermanent)

	// ErrQuotaExceeded is returned when too many jobs are waiting.
	ErrQuotaExceeded = fmt.Errorf("transcoder: job quota exceeded: %w", media.ErrPermanent)

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("transcoder: service closed")

	// ErrStalled is recorded when ffmpeg stops making progress.
	ErrStalled = errors.New("transcoder: ffmpeg stalled")
)
