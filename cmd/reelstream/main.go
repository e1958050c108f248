// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command reelstream runs the streaming catalog daemon and its maintenance
// commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/reelstream/internal/config"
	xglog "github.com/ManuGH/reelstream/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "reelstream",
		Short:         "Movie streaming catalog with managed transcoding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newReconcileCmd(opts),
		newMigrateCmd(opts),
		newConfigCmd(opts),
		newDBCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath prefers --config, then config.yaml in the data dir
// when it exists. An empty result means defaults and environment only.
func (o *rootOptions) resolveConfigPath() string {
	if p := strings.TrimSpace(o.configPath); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv("REELSTREAM_DATA_DIR"))
	if dataDir == "" {
		dataDir = config.Defaults().DataDir
	}
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}

// load reads the configuration and configures logging from it.
func (o *rootOptions) load() (config.AppConfig, *config.Loader, error) {
	path := o.resolveConfigPath()
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "reelstream",
		Version: version,
	})
	return cfg, loader, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func main() {
	xglog.Configure(xglog.Config{Level: "info", Service: "reelstream", Version: version})
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
