// SPDX-License-Identifier: MIT

// Package daemon provides the core daemon bootstrapping and lifecycle management.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/reelstream/internal/api"
	"github.com/ManuGH/reelstream/internal/config"
	"github.com/ManuGH/reelstream/internal/lifecycle"
	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/membership"
	"github.com/ManuGH/reelstream/internal/notify"
	"github.com/ManuGH/reelstream/internal/payment"
	"github.com/ManuGH/reelstream/internal/queue"
	"github.com/ManuGH/reelstream/internal/storage"
	"github.com/ManuGH/reelstream/internal/store"
	"github.com/ManuGH/reelstream/internal/telemetry"
	"github.com/ManuGH/reelstream/internal/transcoder"
)

const outboxSize = 256

// Core holds the components shared by the daemon and the one-shot
// commands: catalog, object storage, dispatch queue, the local transcoding
// service and the lifecycle controller on top of them.
type Core struct {
	Config     config.AppConfig
	Store      *store.Store
	Objects    *storage.FS
	Queue      queue.Queue
	Transcoder *transcoder.Service
	Controller *lifecycle.Controller

	logger  zerolog.Logger
	closers []namedHook
}

func (c *Core) onClose(name string, fn ShutdownHook) {
	c.closers = append(c.closers, namedHook{name: name, hook: fn})
}

// Close releases everything OpenCore acquired, newest first.
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// OpenCore opens the stores and wires the lifecycle controller. Jobs that
// a previous process left running are marked failed so the reconciler can
// move their movies to ERROR.
func OpenCore(ctx context.Context, cfg config.AppConfig) (_ *Core, err error) {
	c := &Core{Config: cfg, logger: xglog.WithComponent("daemon")}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c.Store, err = store.Open(ctx, cfg.ResolvePath(cfg.Database.Path))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	c.onClose("store", func(context.Context) error { return c.Store.Close() })

	c.Objects, err = storage.New(cfg.ResolvePath(cfg.Storage.Root), cfg.Storage.BaseURL)
	if err != nil {
		return nil, err
	}

	switch cfg.Queue.Backend {
	case "redis":
		c.Queue, err = queue.NewRedis(queue.RedisConfig{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
			Key:      cfg.Queue.RedisKey,
			MaxLen:   int64(cfg.Queue.Capacity),
		}, xglog.WithComponent("queue"))
		if err != nil {
			return nil, err
		}
	default:
		c.Queue = queue.NewMemory(cfg.Queue.Capacity)
	}
	c.onClose("queue", func(context.Context) error { return c.Queue.Close() })

	jobs, err := transcoder.OpenJobStore(cfg.ResolvePath(cfg.Transcoder.JobsDir))
	if err != nil {
		return nil, err
	}
	c.onClose("transcoder-jobs", func(context.Context) error { return jobs.Close() })

	watch := transcoder.DefaultWatchConfig()
	watch.StallTimeout = cfg.Transcoder.StallTimeout
	runner := &transcoder.FFmpegRunner{
		Bin:         cfg.Transcoder.FFmpegBin,
		SegmentSecs: cfg.Transcoder.SegmentSeconds,
		Watch:       watch,
		Logger:      xglog.WithComponent("ffmpeg"),
	}
	c.Transcoder = transcoder.NewService(jobs, runner, c.Objects, transcoder.Config{
		Concurrency: cfg.Transcoder.Concurrency,
		MaxPending:  cfg.Transcoder.MaxPending,
	}, xglog.Base())
	c.onClose("transcoder", c.Transcoder.Close)
	recovered, err := c.Transcoder.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover transcode jobs: %w", err)
	}
	if recovered > 0 {
		c.logger.Warn().Int("jobs", recovered).Msg("interrupted transcode jobs marked failed")
	}

	backend := transcoder.NewGuarded(c.Transcoder, cfg.Transcoder.BreakerThreshold, cfg.Transcoder.BreakerReset)
	c.Controller = lifecycle.NewController(lifecycle.Deps{
		Store:       c.Store,
		Storage:     c.Objects,
		Dispatcher:  backend,
		Oracle:      backend,
		Queue:       c.Queue,
		CallTimeout: cfg.Lifecycle.CallTimeout,
	})
	unstuck, err := c.Controller.RecoverUnrecorded(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover interrupted dispatches: %w", err)
	}
	if unstuck > 0 {
		c.logger.Warn().Int("movies", unstuck).Msg("interrupted dispatches marked failed")
	}
	return c, nil
}

// Build assembles the full daemon from the live configuration.
func Build(ctx context.Context, holder *config.Holder, version string) (_ *App, err error) {
	cfg := holder.Get()
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tp.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	core, err := OpenCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = core.Close(context.WithoutCancel(ctx))
		}
	}()

	var mailer notify.Mailer = notify.NewLogMailer()
	if cfg.Email.Enabled {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:      cfg.Email.SMTPHost,
			Port:      cfg.Email.SMTPPort,
			Username:  cfg.Email.Username,
			Password:  cfg.Email.Password,
			FromName:  cfg.Email.FromName,
			FromEmail: cfg.Email.FromEmail,
			PerMinute: cfg.Email.PerMinute,
		})
	}
	outbox := notify.NewOutbox(mailer, outboxSize)

	gateway := payment.NewClient(payment.ClientOptions{
		BaseURL:   cfg.Payment.GatewayURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
	})
	payments, err := payment.NewService(core.Store, gateway, outbox, payment.Config{
		Currency: cfg.Payment.Currency,
		KeyID:    cfg.Payment.KeyID,
	}, nil)
	if err != nil {
		return nil, err
	}

	tracingService := ""
	if cfg.Tracing.Enabled {
		tracingService = cfg.Tracing.ServiceName
	}
	apiServer := api.New(api.Deps{
		Store:          core.Store,
		Lifecycle:      core.Controller,
		Membership:     membership.NewService(core.Store, nil),
		Payments:       payments,
		Objects:        core.Objects,
		Mail:           outbox,
		Config:         cfg.API,
		TracingService: tracingService,
		Version:        version,
	})

	deps := Deps{
		Logger:     logger,
		API:        cfg.API,
		APIHandler: apiServer,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = promhttp.Handler()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	mgr, err := NewManager(deps)
	if err != nil {
		return nil, err
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("core", core.Close)

	app := NewApp(logger, mgr, holder, apiServer)
	app.AddRunner("reconciler", lifecycle.NewReconciler(core.Controller, cfg.Lifecycle.ReconcileInterval))
	for i := range cfg.Lifecycle.DispatchWorkers {
		app.AddRunner("dispatch-worker-"+strconv.Itoa(i), lifecycle.NewWorker(core.Controller, core.Queue))
	}
	app.AddRunner("outbox", outbox)

	logger.Info().
		Str("version", version).
		Str("listen", cfg.API.ListenAddr).
		Str("queue", cfg.Queue.Backend).
		Int("dispatch_workers", cfg.Lifecycle.DispatchWorkers).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("daemon assembled")
	return app, nil
}

// WaitForShutdown returns a context canceled on SIGINT or SIGTERM.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
