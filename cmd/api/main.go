package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelkit/internal/api"
	"github.com/dunamismax/pixelkit/internal/app"
	"github.com/dunamismax/pixelkit/internal/config"
	"github.com/dunamismax/pixelkit/internal/logging"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/dunamismax/pixelkit/internal/ratelimit"
	"github.com/dunamismax/pixelkit/internal/session"
	"github.com/dunamismax/pixelkit/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Env, cfg.Logging.Level).With().Str("service", "pixelkit-api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelkit-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Error().Err(err).Msg("queue client close error")
		}
	}()

	deps := api.Deps{
		Processor:   components.Processor,
		Library:     components.Library,
		Assets:      components.Store,
		Jobs:        components.Store,
		Queue:       queueClient,
		Tracker:     session.NewTracker(),
		Registry:    registry,
		MaxUploadMB: cfg.Pipeline.MaxUploadMB,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Limit{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		}, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}
		deps.RateLimiter = limiter
	}

	srv, err := api.NewServer(logger, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("api setup failed")
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Pipeline.CallTimeout*3 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
}
