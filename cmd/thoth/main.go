// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the thoth CLI. Each pipeline
// surface is a subcommand: ingest and watch feed the document pipeline,
// search and ask query the hybrid index, papers and queries manage the
// stores, discover polls external catalogs, and resolve runs the
// citation chain on a single reference string.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/thoth/internal/config"
	"github.com/pdiddy/thoth/internal/secrets"
	"github.com/pdiddy/thoth/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// secretsDir holds one API key per file, merged into the service config
// at startup.
const secretsDir = ".secrets/"

var rootCmd = &cobra.Command{
	Use:   "thoth",
	Short: "Local-first research assistant over a PDF library",
	Long: `thoth ingests academic PDFs into a local knowledge base: each document
is converted to markdown, analyzed with a language model, its bibliography
resolved against metadata catalogs, and its content indexed for hybrid
search and question answering.

Drop PDFs into the watched directory (thoth watch) or ingest them
explicitly (thoth ingest). Standing research queries (thoth queries) let
discovery (thoth discover) pull in new papers automatically.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./thoth.yaml or ~/.config/thoth/config.yaml)")
	rootCmd.PersistentFlags().String("workspace", "", "workspace directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, or error (overrides config)")
}

// loadConfig builds the configuration tree for one command invocation:
// defaults, then the config file, then THOTH_* environment variables,
// then the .secrets/ directory, then command-line overrides.
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	s, err := secrets.Load(secretsDir)
	if err != nil {
		return nil, err
	}
	config.MergeSecrets(cfg, s)

	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		cfg.Workspace = ws
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func main() {
	// First Ctrl-C cancels the context so long-running commands drain
	// and exit cleanly; a second one kills the process the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
