// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelstream/internal/daemon"
	"github.com/ManuGH/reelstream/internal/lifecycle"
)

// newReconcileCmd runs one reconciliation pass against a stopped daemon's
// data. The transcode job table is exclusive, so this fails while the
// daemon is running.
func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Apply transcode job outcomes to the catalog once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			core, err := daemon.OpenCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = core.Close(context.WithoutCancel(cmd.Context())) }()

			sum := lifecycle.NewReconciler(core.Controller, cfg.Lifecycle.ReconcileInterval).ReconcileOnce(cmd.Context())
			if sum.StoreErr != nil {
				return fmt.Errorf("reconcile: %w", sum.StoreErr)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, changed %d, errors %d (%s)\n",
				sum.Scanned, sum.Changed, sum.Errors, sum.Duration)
			return nil
		},
	}
}
