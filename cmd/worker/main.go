package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelkit/internal/app"
	"github.com/dunamismax/pixelkit/internal/config"
	"github.com/dunamismax/pixelkit/internal/logging"
	"github.com/dunamismax/pixelkit/internal/telemetry"
	"github.com/dunamismax/pixelkit/internal/webhook"
	"github.com/dunamismax/pixelkit/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Env, cfg.Logging.Level).With().Str("service", "pixelkit-worker").Logger()

	if err := app.RequireSharedStore(cfg.Database); err != nil {
		logger.Fatal().Err(err).Msg("worker needs the shared job store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelkit-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	registry := telemetry.NewRegistry()
	components, err := app.Build(ctx, cfg, logger, registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("assemble pipeline")
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error().Err(err).Msg("close components")
		}
	}()

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Deps{
		Processor: components.Processor,
		Store:     components.Store,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxRetries + 1,
		}),
		Registry: registry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           telemetry.MetricsHandler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
