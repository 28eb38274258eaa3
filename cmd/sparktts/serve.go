package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/example/spark-tts-server/internal/server"
	"github.com/example/spark-tts-server/internal/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice_create / voice_clone HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			log := slog.Default()

			var (
				metrics *telemetry.Metrics
				opts    = []server.Option{server.WithLogger(log)}
			)
			if cfg.Server.Metrics {
				prov, err := telemetry.Setup("sparktts", server.BuildVersion())
				if err != nil {
					return err
				}
				defer func() { _ = prov.Shutdown(context.Background()) }()

				metrics, err = telemetry.NewMetrics(prov.Meter())
				if err != nil {
					return err
				}
				opts = append(opts, server.WithMetricsHandler(prov.Handler()))
			}

			svc, err := newService(cfg, log, metrics)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting server",
				slog.String("addr", cfg.Server.ListenAddr),
				slog.String("backend", cfg.Engine.Backend),
				slog.String("output_dir", cfg.Paths.OutputDir),
				slog.Bool("metrics", cfg.Server.Metrics),
			)

			return server.New(cfg, svc, opts...).Start(ctx)
		},
	}

	return cmd
}
