package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/config"
	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/dunamismax/pixelkit/internal/store"
	"github.com/dunamismax/pixelkit/internal/telemetry"
	"github.com/dunamismax/pixelkit/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// transformer is the part of pipeline.Processor the worker drives.
type transformer interface {
	Apply(ctx context.Context, source domain.ImageAsset, req domain.TransformRequest) domain.Result
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Processor transformer
	Store     store.Store
	Webhook   *webhook.Client
	Registry  prometheus.Registerer
}

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     transformer
	assetStore    store.AssetStore
	jobStore      store.JobStore
	usageStore    store.UsageStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
	now           func() time.Time
}

func NewServer(logger zerolog.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	logger = logger.With().Str("component", "worker").Logger()
	s := &Server{
		logger:     logger,
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:  deps.Processor,
		assetStore: deps.Store,
		jobStore:   deps.Store,
		usageStore: deps.Store,
		metrics:    newMetrics(registry),
		tracer:     telemetry.Tracer("worker"),
		now:        time.Now,
	}
	if deps.Webhook != nil {
		s.webhookClient = deps.Webhook
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: max(1, workerCfg.Concurrency),
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   asynqLogger{logger: logger},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error().
					Err(err).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		},
	)
	return s, nil
}

// Start begins processing in the background; call Shutdown to drain.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformImage, s.handleTransform)
	return mux
}

func (s *Server) handleTransform(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()

	payload, err := queue.ParseTransformPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	op := string(payload.Transform.Op)
	outcome := domain.JobStatusFailed
	log := s.logger.With().Str("job_id", payload.JobID).Str("op", op).Logger()

	ctx, span := s.tracer.Start(ctx, "worker.transform", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.op", op),
		attribute.String("job.asset_id", payload.Asset.ID),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(op, outcome).Observe(s.now().Sub(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(op, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log.Info().Str("asset_id", payload.Asset.ID).Msg("working")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	res := s.processor.Apply(ctx, payload.Asset, payload.Transform)
	computeTime := s.now().Sub(startedAt)

	if !res.OK() {
		span.SetStatus(codes.Error, res.Failure.Reason)
		if retryable(res.Failure.Kind) && !finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			log.Warn().Str("kind", string(res.Failure.Kind)).Msg("transform failed, will retry")
			return fmt.Errorf("transform %s: %w", op, res.Err())
		}
	} else if err := s.assetStore.SaveAsset(ctx, *res.Asset); err != nil {
		log.Error().Err(err).Str("output_id", res.Asset.ID).Msg("output asset save failed")
	}

	s.completeJob(ctx, payload.JobID, res)
	if res.OK() {
		outcome = domain.JobStatusSucceeded
		s.recordUsage(ctx, payload, res, computeTime)
		span.SetStatus(codes.Ok, "processed")
		log.Info().Str("output_id", res.Asset.ID).Dur("elapsed", computeTime).Msg("processed")
	}

	if err := s.dispatchWebhook(ctx, payload, res); err != nil {
		span.RecordError(err)
	}

	if !res.OK() {
		err := fmt.Errorf("transform %s: %w", op, res.Err())
		if retryable(res.Failure.Kind) {
			return err
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return nil
}

// retryable reports whether another attempt could change the outcome.
func retryable(kind domain.ErrorKind) bool {
	return kind == domain.KindBackendFailure || kind == domain.KindTimeout
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, res domain.Result) {
	if _, err := s.jobStore.Complete(ctx, jobID, res); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("job completion write failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformPayload, res domain.Result) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	event := webhook.JobEvent{
		JobID:       payload.JobID,
		AssetID:     payload.Asset.ID,
		Status:      domain.StatusForResult(res),
		Op:          payload.Transform.Op,
		Result:      res,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  s.now().UTC(),
	}
	name := webhook.EventFor(res)
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, name, event); err != nil {
		s.metrics.webhookFailuresTotal.Inc()
		s.logger.Error().Err(err).Str("job_id", payload.JobID).Str("event", name).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.TransformPayload, res domain.Result, computeDuration time.Duration) {
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	usage := domain.UsageLog{
		UserID:        userID,
		JobID:         payload.JobID,
		AssetID:       res.Asset.ID,
		Op:            payload.Transform.Op,
		ComputeTimeMS: max(1, computeDuration.Milliseconds()),
		CreatedAt:     s.now().UTC(),
	}

	in, inKnown := payload.Asset.SizeBytes()
	out, outKnown := res.Asset.SizeBytes()
	if inKnown {
		usage.BytesIn = in
	}
	if outKnown {
		usage.BytesOut = out
	}
	if inKnown && outKnown {
		usage.BytesSaved = max(0, in-out)
		usage.CompressionRatio = domain.CompressionRatio(in, out)
	}

	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("usage log write failed")
		return
	}

	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
