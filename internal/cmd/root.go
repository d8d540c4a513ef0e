// Package cmd wires the CLI: serve runs the HTTP API, worker runs the
// compute loop, reset reinitializes the job store.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/internal/config"
	"github.com/3leaps/pokefantasia/internal/observability"
)

var (
	flagConfig   string
	flagLogLevel string
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

// NewRootCommand builds the pokefantasia command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pokefantasia",
		Short:         "Asynchronous Pokémon image transformation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCommand())
	root.AddCommand(newWorkerCommand())
	root.AddCommand(newResetCommand())
	return root
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger, err := observability.Init(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
