package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lineage/api/internal/app"
	"lineage/api/internal/config"
	"lineage/api/internal/logging"
)

var (
	verbosity int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:           "lineagectl",
	Short:         "Operate the lineage related-changes service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all logs")
}

func newLogger() *slog.Logger {
	return logging.NewText(os.Stderr, logging.LevelFromVerbosity(verbosity, quiet))
}

// openBackend loads configuration and connects every collaborator.
func openBackend(ctx context.Context, opts app.BackendOptions) (*app.Backend, config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	logger := newLogger()
	backend, err := app.OpenBackend(ctx, cfg, logger, opts)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	return backend, cfg, logger, nil
}
