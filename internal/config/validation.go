// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/reelstream/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks cfg and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("dataDir", cfg.DataDir)
	v.OneOf("logLevel", cfg.LogLevel, logLevels)

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.Positive("api.maxUploadMB", cfg.API.MaxUploadMB)
	v.MinDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout, time.Second)
	if cfg.API.RateLimit.Enabled {
		v.Positive("api.rateLimit.requestsPerMinute", cfg.API.RateLimit.RequestsPerMinute)
		v.Positive("api.rateLimit.uploadsPerMinute", cfg.API.RateLimit.UploadsPerMinute)
	}

	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
	}
	if cfg.Tracing.Enabled {
		v.OneOf("tracing.exporter", cfg.Tracing.Exporter, []string{"grpc", "http"})
		v.NotEmpty("tracing.endpoint", cfg.Tracing.Endpoint)
		v.FloatRange("tracing.samplingRate", cfg.Tracing.SamplingRate, 0, 1)
	}

	v.NotEmpty("database.path", cfg.Database.Path)
	v.NotEmpty("storage.root", cfg.Storage.Root)
	v.URL("storage.baseUrl", cfg.Storage.BaseURL, []string{"http", "https"})

	v.NotEmpty("transcoder.ffmpegBin", cfg.Transcoder.FFmpegBin)
	v.Range("transcoder.segmentSeconds", cfg.Transcoder.SegmentSeconds, 1, 60)
	v.Range("transcoder.concurrency", cfg.Transcoder.Concurrency, 1, 64)
	v.Positive("transcoder.maxPending", cfg.Transcoder.MaxPending)
	v.MinDuration("transcoder.stallTimeout", cfg.Transcoder.StallTimeout, 5*time.Second)
	v.Positive("transcoder.breakerThreshold", cfg.Transcoder.BreakerThreshold)
	v.MinDuration("transcoder.breakerReset", cfg.Transcoder.BreakerReset, time.Second)

	v.MinDuration("lifecycle.reconcileInterval", cfg.Lifecycle.ReconcileInterval, time.Second)
	v.Range("lifecycle.dispatchWorkers", cfg.Lifecycle.DispatchWorkers, 1, 64)
	v.MinDuration("lifecycle.callTimeout", cfg.Lifecycle.CallTimeout, time.Second)

	v.OneOf("queue.backend", cfg.Queue.Backend, []string{"memory", "redis"})
	switch cfg.Queue.Backend {
	case "memory":
		v.Positive("queue.capacity", cfg.Queue.Capacity)
	case "redis":
		v.NotEmpty("queue.redisAddr", cfg.Queue.RedisAddr)
		v.NotEmpty("queue.redisKey", cfg.Queue.RedisKey)
		v.Range("queue.redisDB", cfg.Queue.RedisDB, 0, 15)
	}

	v.URL("payment.gatewayUrl", cfg.Payment.GatewayURL, []string{"http", "https"})
	v.NotEmpty("payment.currency", cfg.Payment.Currency)

	if cfg.Email.Enabled {
		v.NotEmpty("email.smtpHost", cfg.Email.SMTPHost)
		v.Port("email.smtpPort", cfg.Email.SMTPPort)
		v.NotEmpty("email.fromEmail", cfg.Email.FromEmail)
		v.NonNegative("email.perMinute", cfg.Email.PerMinute)
	}

	return v.Err()
}
