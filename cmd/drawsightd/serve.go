package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"DrawSight/internal/app"
	"DrawSight/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			instance, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			logger.L().Info("DrawSight 已启动",
				slog.String("address", cfg.Server.Address),
				slog.Int("plugins", len(instance.Manager.Loaded())))

			runErr := instance.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
			defer cancel()
			closeErr := instance.Close(shutdownCtx)
			if runErr != nil {
				return runErr
			}
			return closeErr
		},
	}
}
