// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelstream/internal/persistence/sqlite"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Catalog database maintenance",
	}

	var path, mode string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check catalog database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("invalid mode %q (want quick or full)", mode)
			}
			if path == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				path = cfg.ResolvePath(cfg.Database.Path)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("database %s: %w", path, err)
			}
			problems, err := sqlite.VerifyIntegrity(path, mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "  %s\n", p)
				}
				return fmt.Errorf("%s: integrity check failed (%d issues)", path, len(problems))
			}
			_, _ = fmt.Fprintf(out, "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	verify.Flags().StringVar(&path, "path", "", "database file (defaults to the configured catalog)")
	verify.Flags().StringVar(&mode, "mode", "quick", "quick or full")
	cmd.AddCommand(verify)
	return cmd
}
