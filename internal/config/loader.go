// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xglog "github.com/ManuGH/reelstream/internal/log"
)

// Loader builds an AppConfig from defaults, an optional file and the
// environment.
type Loader struct {
	configPath string
	version    string
	consumed   map[string]struct{}
	environ    func() []string
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
		consumed:   make(map[string]struct{}),
		environ:    os.Environ,
	}
}

// Path is the config file the loader reads, if any.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, def string) string {
	l.consumed[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.consumed[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.consumed[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.consumed[key] = struct{}{}
	return ParseBool(key, def)
}

// Load applies defaults, the file and the environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if unknown := l.UnknownEnvKeys(); len(unknown) > 0 {
		logger := xglog.WithComponent("config")
		logger.Warn().Strs("keys", unknown).Msg("ignoring unknown environment variables")
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys and trailing documents are
// rejected so typos never silently fall back to defaults.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- the config path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	p := EnvPrefix
	cfg.DataDir = l.envString(p+"DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString(p+"LOG_LEVEL", cfg.LogLevel)

	cfg.API.ListenAddr = l.envString(p+"LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.MaxUploadMB = l.envInt(p+"MAX_UPLOAD_MB", cfg.API.MaxUploadMB)
	cfg.API.ShutdownTimeout = l.envDuration(p+"SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.RateLimit.Enabled = l.envBool(p+"RATELIMIT_ENABLED", cfg.API.RateLimit.Enabled)
	cfg.API.RateLimit.RequestsPerMinute = l.envInt(p+"RATELIMIT_RPM", cfg.API.RateLimit.RequestsPerMinute)
	cfg.API.RateLimit.UploadsPerMinute = l.envInt(p+"RATELIMIT_UPLOADS_PER_MINUTE", cfg.API.RateLimit.UploadsPerMinute)

	cfg.Metrics.Enabled = l.envBool(p+"METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString(p+"METRICS_ADDR", cfg.Metrics.ListenAddr)

	cfg.Tracing.Enabled = l.envBool(p+"TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = l.envString(p+"TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = l.envString(p+"TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = l.envFloat(p+"TRACING_SAMPLING_RATE", cfg.Tracing.SamplingRate)
	cfg.Tracing.Environment = l.envString(p+"TRACING_ENVIRONMENT", cfg.Tracing.Environment)

	cfg.Database.Path = l.envString(p+"DB_PATH", cfg.Database.Path)
	cfg.Storage.Root = l.envString(p+"STORAGE_ROOT", cfg.Storage.Root)
	cfg.Storage.BaseURL = l.envString(p+"STORAGE_BASE_URL", cfg.Storage.BaseURL)

	cfg.Transcoder.FFmpegBin = l.envString(p+"FFMPEG_BIN", cfg.Transcoder.FFmpegBin)
	cfg.Transcoder.SegmentSeconds = l.envInt(p+"HLS_SEGMENT_SECONDS", cfg.Transcoder.SegmentSeconds)
	cfg.Transcoder.Concurrency = l.envInt(p+"TRANSCODE_CONCURRENCY", cfg.Transcoder.Concurrency)
	cfg.Transcoder.MaxPending = l.envInt(p+"TRANSCODE_MAX_PENDING", cfg.Transcoder.MaxPending)
	cfg.Transcoder.StallTimeout = l.envDuration(p+"TRANSCODE_STALL_TIMEOUT", cfg.Transcoder.StallTimeout)

	cfg.Lifecycle.ReconcileInterval = l.envDuration(p+"RECONCILE_INTERVAL", cfg.Lifecycle.ReconcileInterval)
	cfg.Lifecycle.DispatchWorkers = l.envInt(p+"DISPATCH_WORKERS", cfg.Lifecycle.DispatchWorkers)
	cfg.Lifecycle.CallTimeout = l.envDuration(p+"CALL_TIMEOUT", cfg.Lifecycle.CallTimeout)

	cfg.Queue.Backend = l.envString(p+"QUEUE_BACKEND", cfg.Queue.Backend)
	cfg.Queue.RedisAddr = l.envString(p+"REDIS_ADDR", cfg.Queue.RedisAddr)
	cfg.Queue.RedisPassword = l.envString(p+"REDIS_PASSWORD", cfg.Queue.RedisPassword)
	cfg.Queue.RedisDB = l.envInt(p+"REDIS_DB", cfg.Queue.RedisDB)

	cfg.Payment.GatewayURL = l.envString(p+"PAYMENT_GATEWAY_URL", cfg.Payment.GatewayURL)
	cfg.Payment.KeyID = l.envString(p+"PAYMENT_KEY_ID", cfg.Payment.KeyID)
	cfg.Payment.KeySecret = l.envString(p+"PAYMENT_KEY_SECRET", cfg.Payment.KeySecret)
	cfg.Payment.Currency = l.envString(p+"PAYMENT_CURRENCY", cfg.Payment.Currency)

	cfg.Email.Enabled = l.envBool(p+"EMAIL_ENABLED", cfg.Email.Enabled)
	cfg.Email.SMTPHost = l.envString(p+"SMTP_HOST", cfg.Email.SMTPHost)
	cfg.Email.SMTPPort = l.envInt(p+"SMTP_PORT", cfg.Email.SMTPPort)
	cfg.Email.Username = l.envString(p+"SMTP_USERNAME", cfg.Email.Username)
	cfg.Email.Password = l.envString(p+"SMTP_PASSWORD", cfg.Email.Password)
	cfg.Email.FromEmail = l.envString(p+"EMAIL_FROM", cfg.Email.FromEmail)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.consumed[key] = struct{}{}
	return ParseDuration(key, def)
}

// UnknownEnvKeys lists REELSTREAM_* variables no setting consumed, which
// usually means a typo.
func (l *Loader) UnknownEnvKeys() []string {
	var unknown []string
	for _, pair := range l.environ() {
		key, _, _ := strings.Cut(pair, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.consumed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}
