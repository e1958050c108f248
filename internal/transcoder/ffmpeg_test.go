// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHLSArgs(t *testing.T) {
	args := BuildHLSArgs("/in/src.mp4", "/out", 0)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /in/src.mp4")
	assert.Contains(t, joined, "-hls_time 6")
	assert.Contains(t, joined, "-hls_playlist_type vod")
	assert.Equal(t, filepath.Join("/out", ManifestName), args[len(args)-1])
}

func TestParseProgress(t *testing.T) {
	input := "frame=10\nout_time_us=1000\ntotal_size=2048\nspeed=1.5x\nprogress=continue\n" +
		"frame=20\nout_time_us=2000\nprogress=end\n"
	ch := make(chan progress, 10)
	parseProgress(strings.NewReader(input), ch)
	close(ch)

	var got []progress
	for p := range ch {
		got = append(got, p)
	}
	require.Len(t, got, 2)
	assert.Equal(t, progress{Frame: 10, OutTimeUs: 1000, TotalSize: 2048, Speed: "1.5x"}, got[0])
	assert.Equal(t, int64(2000), got[1].OutTimeUs)
	assert.Equal(t, 20, got[1].Frame)
}

func TestWatchProgress_Stall(t *testing.T) {
	done := make(chan error, 1)
	progressCh := make(chan progress)
	cfg := WatchConfig{StartupGrace: 0, StallTimeout: 20 * time.Millisecond, Tick: 5 * time.Millisecond}

	// nil process: the watchdog waits on done after deciding to kill.
	go func() {
		time.Sleep(50 * time.Millisecond)
		done <- errors.New("killed")
	}()
	err := watchProgress(context.Background(), done, progressCh, nil, cfg, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrStalled)
}

func TestWatchProgress_ReportsAdvances(t *testing.T) {
	done := make(chan error)
	progressCh := make(chan progress, 3)
	progressCh <- progress{OutTimeUs: 10}
	progressCh <- progress{OutTimeUs: 10}
	progressCh <- progress{OutTimeUs: 20}
	close(progressCh)

	var seen []int64
	cfg := WatchConfig{StartupGrace: time.Hour, StallTimeout: time.Hour, Tick: time.Millisecond}
	go func() {
		time.Sleep(30 * time.Millisecond)
		done <- nil
	}()
	err := watchProgress(context.Background(), done, progressCh, nil, cfg, zerolog.Nop(), func(us int64) { seen = append(seen, us) })
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, seen)
}
