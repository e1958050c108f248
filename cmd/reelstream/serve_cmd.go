// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuGH/reelstream/internal/config"
	"github.com/ManuGH/reelstream/internal/daemon"
	xglog "github.com/ManuGH/reelstream/internal/log"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, dispatch workers and reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loader, err := opts.load()
			if err != nil {
				return err
			}
			logger := xglog.WithComponent("daemon")
			logger.Info().
				Str(xglog.FieldEvent, "config.loaded").
				Str("config_path", loader.Path()).
				Str("data_dir", cfg.DataDir).
				Msg("configuration loaded")

			ctx, stop := daemon.WaitForShutdown()
			defer stop()

			app, err := daemon.Build(ctx, config.NewHolder(cfg, loader), version)
			if err != nil {
				return err
			}
			if err := app.Run(ctx); err != nil {
				logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
				return err
			}
			logger.Info().Msg("daemon stopped")
			return nil
		},
	}
}
