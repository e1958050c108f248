// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Queue      QueueConfig      `yaml:"queue"`
	Payment    PaymentConfig    `yaml:"payment"`
	Email      EmailConfig      `yaml:"email"`
}

type APIConfig struct {
	ListenAddr      string          `yaml:"listenAddr"`
	MaxUploadMB     int             `yaml:"maxUploadMB"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// RequestsPerMinute applies to every route.
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	// UploadsPerMinute applies to the upload routes only.
	UploadsPerMinute int `yaml:"uploadsPerMinute"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. Relative paths resolve against DataDir.
	Path string `yaml:"path"`
}

type StorageConfig struct {
	// Root holds stored objects. Relative paths resolve against DataDir.
	Root string `yaml:"root"`
	// BaseURL is the public address objects are served under.
	BaseURL string `yaml:"baseUrl"`
}

type TranscoderConfig struct {
	FFmpegBin        string        `yaml:"ffmpegBin"`
	SegmentSeconds   int           `yaml:"segmentSeconds"`
	Concurrency      int           `yaml:"concurrency"`
	MaxPending       int           `yaml:"maxPending"`
	StallTimeout     time.Duration `yaml:"stallTimeout"`
	JobsDir          string        `yaml:"jobsDir"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

type LifecycleConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	DispatchWorkers   int           `yaml:"dispatchWorkers"`
	CallTimeout       time.Duration `yaml:"callTimeout"`
}

type QueueConfig struct {
	Backend       string `yaml:"backend"`
	Capacity      int    `yaml:"capacity"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisKey      string `yaml:"redisKey"`
}

type PaymentConfig struct {
	GatewayURL string `yaml:"gatewayUrl"`
	KeyID      string `yaml:"keyId"`
	KeySecret  string `yaml:"keySecret"`
	Currency   string `yaml:"currency"`
}

type EmailConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SMTPHost  string `yaml:"smtpHost"`
	SMTPPort  int    `yaml:"smtpPort"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromName  string `yaml:"fromName"`
	FromEmail string `yaml:"fromEmail"`
	PerMinute int    `yaml:"perMinute"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		API: APIConfig{
			ListenAddr:      ":8080",
			MaxUploadMB:     4096,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
				UploadsPerMinute:  10,
			},
		},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: ":9090"},
		Tracing: TracingConfig{
			ServiceName:  "reelstream",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
		Database: DatabaseConfig{Path: "reelstream.db"},
		Storage:  StorageConfig{Root: "media", BaseURL: "http://localhost:8080/media"},
		Transcoder: TranscoderConfig{
			FFmpegBin:        "ffmpeg",
			SegmentSeconds:   6,
			Concurrency:      1,
			MaxPending:       32,
			StallTimeout:     90 * time.Second,
			JobsDir:          "jobs",
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			ReconcileInterval: 10 * time.Second,
			DispatchWorkers:   1,
			CallTimeout:       30 * time.Second,
		},
		Queue: QueueConfig{
			Backend:  "memory",
			Capacity: 256,
			RedisKey: "reelstream:dispatch",
		},
		Payment: PaymentConfig{
			GatewayURL: "https://api.razorpay.com",
			Currency:   "INR",
		},
		Email: EmailConfig{
			SMTPPort:  587,
			FromName:  "Reelstream",
			FromEmail: "noreply@reelstream.local",
			PerMinute: 60,
		},
	}
}

// ResolvePath anchors p to DataDir unless it is absolute.
func (c AppConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

const redacted = "***"

// Redacted returns a copy with secrets masked.
func (c AppConfig) Redacted() AppConfig {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Queue.RedisPassword)
	mask(&c.Payment.KeySecret)
	mask(&c.Email.Password)
	return c
}

// String renders the redacted configuration as YAML.
func (c AppConfig) String() string {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "<unprintable config>"
	}
	return string(out)
}
