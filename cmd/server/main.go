package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mediahub/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mediahub",
		Short:         "File upload, summarization and notification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(modeCmd(config.ModeAPI, "Serve the HTTP API and push gateway", runAPI))
	rootCmd.AddCommand(modeCmd(config.ModeFileWorker, "Process uploaded files from the files topic", runFileWorker))
	rootCmd.AddCommand(modeCmd(config.ModeNotificationWorker, "Deliver status notifications from the notifications topic", runNotificationWorker))
	rootCmd.AddCommand(modeCmd(config.ModeMigrate, "Apply database migrations and exit", runMigrate))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, cfg config.Config, logger *logrus.Logger) error

// modeCmd loads and validates configuration for mode, then runs it until
// SIGINT or SIGTERM.
func modeCmd(mode, short string, run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(mode); err != nil {
				return fmt.Errorf("invalid config for %s: %w", mode, err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithField("mode", mode).Info("starting")
			if err := run(ctx, cfg, logger); err != nil {
				return err
			}
			logger.Info("bye")
			return nil
		},
	}
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)
	return logger, nil
}
