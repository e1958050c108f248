// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/metrics"
)

// RunInput describes one HLS packaging run.
type RunInput struct {
	JobID     string
	InputPath string
	OutputDir string
	// OnProgress is called with out_time in microseconds whenever ffmpeg advances.
	OnProgress func(outTimeUs int64)
}

// Runner produces an HLS rendition of InputPath inside OutputDir.
type Runner interface {
	Run(ctx context.Context, in RunInput) error
}

// ManifestName is the master playlist every run writes.
const ManifestName = "index.m3u8"

// WatchConfig tunes the stall watchdog.
type WatchConfig struct {
	StartupGrace time.Duration
	StallTimeout time.Duration
	Tick         time.Duration
}

// DefaultWatchConfig suits full-length movies on modest hardware.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		StartupGrace: 30 * time.Second,
		StallTimeout: 5 * time.Minute,
		Tick:         5 * time.Second,
	}
}

// FFmpegRunner runs ffmpeg under progress supervision.
type FFmpegRunner struct {
	Bin         string
	SegmentSecs int
	Watch       WatchConfig
	Logger      zerolog.Logger
}

// BuildHLSArgs returns the ffmpeg arguments for a single-rendition VOD
// HLS package: H.264/AAC, fixed segment length, index.m3u8 playlist.
func BuildHLSArgs(inputPath, outputDir string, segmentSecs int) []string {
	if segmentSecs <= 0 {
		segmentSecs = 6
	}
	return []string{
		"-y",
		"-i", inputPath,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264", "-preset", "veryfast", "-profile:v", "high", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k", "-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSecs),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "seg_%05d.ts"),
		filepath.Join(outputDir, ManifestName),
	}
}

func (r *FFmpegRunner) Run(ctx context.Context, in RunInput) error {
	bin := r.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	watch := r.Watch
	if watch.Tick <= 0 {
		watch = DefaultWatchConfig()
	}
	logger := r.Logger.With().Str("job_handle", in.JobID).Logger()

	stderr, exitCode, err := runFFmpegWithProgress(ctx, bin, BuildHLSArgs(in.InputPath, in.OutputDir, r.SegmentSecs), watch, logger, in.OnProgress)
	if err != nil {
		return fmt.Errorf("ffmpeg exit %d: %w: %s", exitCode, err, tail(stderr, 512))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

type progress struct {
	Frame     int
	OutTimeUs int64
	TotalSize int64
	Speed     string
}

func (p progress) hasAdvanced(prev progress) bool {
	return p.OutTimeUs > prev.OutTimeUs || p.TotalSize > prev.TotalSize || p.Frame > prev.Frame
}

func runFFmpegWithProgress(
	ctx context.Context,
	bin string,
	args []string,
	cfg WatchConfig,
	logger zerolog.Logger,
	onProgress func(int64),
) (stderr string, exitCode int, err error) {
	fullArgs := append([]string{"-nostdin", "-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, bin, fullArgs...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", 1, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return "", 1, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	progressCh := make(chan progress, 100)
	go func() {
		defer close(progressCh)
		parseProgress(stdout, progressCh)
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	watchErr := watchProgress(ctx, done, progressCh, cmd.Process, cfg, logger, onProgress)

	stderr = stderrBuf.String()
	exitCode = 1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stderr, exitCode, watchErr
}

// watchProgress kills ffmpeg when it stops advancing after the startup grace.
func watchProgress(
	ctx context.Context,
	done <-chan error,
	progressCh <-chan progress,
	proc *os.Process,
	cfg WatchConfig,
	logger zerolog.Logger,
	onProgress func(int64),
) error {
	start := time.Now()
	lastProgressAt := start
	var last progress

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err

		case <-ctx.Done():
			if proc != nil {
				_ = proc.Kill()
			}
			<-done
			return ctx.Err()

		case p, ok := <-progressCh:
			if !ok {
				progressCh = nil
				continue
			}
			if p.hasAdvanced(last) {
				last = p
				lastProgressAt = time.Now()
				if onProgress != nil {
					onProgress(p.OutTimeUs)
				}
			}

		case <-ticker.C:
			if time.Since(start) < cfg.StartupGrace {
				continue
			}
			if time.Since(lastProgressAt) > cfg.StallTimeout {
				metrics.TranscodeStalls.Inc()
				logger.Error().
					Str("event", "transcode.stalled").
					Dur("since_progress", time.Since(lastProgressAt)).
					Int64("last_out_time_us", last.OutTimeUs).
					Int64("last_total_size", last.TotalSize).
					Str("last_speed", last.Speed).
					Msg("ffmpeg stalled, killing")

				if proc != nil {
					_ = proc.Kill()
				}
				<-done
				return ErrStalled
			}
		}
	}
}

// parseProgress reads ffmpeg -progress key=value blocks; each "progress" key
// terminates a block.
func parseProgress(r io.Reader, ch chan<- progress) {
	scanner := bufio.NewScanner(r)
	var current progress

	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "frame":
			if v, err := strconv.Atoi(val); err == nil {
				current.Frame = v
			}
		case "out_time_us":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			select {
			case ch <- current:
			default:
				// watcher gone or behind; later blocks supersede this one
			}
		}
	}
}
