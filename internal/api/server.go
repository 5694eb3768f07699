package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/dunamismax/pixelkit/internal/ratelimit"
	"github.com/dunamismax/pixelkit/internal/session"
	"github.com/dunamismax/pixelkit/internal/store"
	"github.com/dunamismax/pixelkit/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const UserIDHeader = "X-User-ID"

// transformer is implemented by pipeline.Processor.
type transformer interface {
	Apply(ctx context.Context, source domain.ImageAsset, req domain.TransformRequest) domain.Result
	Process(ctx context.Context, source domain.ImageAsset, opts domain.ProcessOptions) domain.Result
	Discard(asset domain.ImageAsset)
}

// library is implemented by pipeline.Library.
type library interface {
	Pick(ctx context.Context, fileName string, r io.Reader) (domain.ImageAsset, error)
	Info(ctx context.Context, asset domain.ImageAsset) (domain.ImageAsset, error)
	Delete(ctx context.Context, asset domain.ImageAsset) error
	SaveToGallery(ctx context.Context, asset domain.ImageAsset, saveAs string) (domain.ImageAsset, error)
	Share(ctx context.Context, asset domain.ImageAsset) (string, error)
}

type queueEnqueuer interface {
	EnqueueTransform(ctx context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error)
}

type Deps struct {
	Processor   transformer
	Library     library
	Assets      store.AssetStore
	Jobs        store.JobStore
	Queue       queueEnqueuer
	Tracker     *session.Tracker
	RateLimiter ratelimit.Limiter
	Registry    *prometheus.Registry
	MaxUploadMB int
}

type Server struct {
	logger      zerolog.Logger
	processor   transformer
	library     library
	assets      store.AssetStore
	jobs        store.JobStore
	queue       queueEnqueuer
	tracker     *session.Tracker
	normalizer  *domain.Normalizer
	rateLimiter ratelimit.Limiter
	registry    *prometheus.Registry
	metrics     *metrics
	tracer      trace.Tracer
	maxUploadMB int
	router      chi.Router
}

func NewServer(logger zerolog.Logger, deps Deps) (*Server, error) {
	if deps.Processor == nil || deps.Library == nil {
		return nil, errors.New("processor and library are required")
	}
	if deps.Assets == nil || deps.Jobs == nil {
		return nil, errors.New("asset and job stores are required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = telemetry.NewRegistry()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = session.NewTracker()
	}
	maxUploadMB := deps.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = domain.MaxFileSizeMB
	}

	s := &Server{
		logger:      logger.With().Str("component", "api").Logger(),
		processor:   deps.Processor,
		library:     deps.Library,
		assets:      deps.Assets,
		jobs:        deps.Jobs,
		queue:       deps.Queue,
		tracker:     tracker,
		normalizer:  domain.NewNormalizer(),
		rateLimiter: deps.RateLimiter,
		registry:    registry,
		metrics:     newMetrics(registry),
		tracer:      telemetry.Tracer("api"),
		maxUploadMB: maxUploadMB,
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withRequestLog)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.withHTTPMetrics)
	r.Use(s.withTracing)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler(s.registry))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.withRateLimit)

		r.Post("/assets", s.handlePick)
		r.Route("/assets/{assetID}", func(r chi.Router) {
			r.Get("/", s.handleGetAsset)
			r.Delete("/", s.handleDeleteAsset)
			r.Post("/transform", s.handleTransform)
			r.Post("/process", s.handleProcess)
			r.Get("/state", s.handleState)
			r.Post("/reset", s.handleReset)
			r.Post("/save", s.handleSave)
			r.Post("/share", s.handleShare)
		})

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(log.WithContext(r.Context())))
		log.Info().
			Int("status", statusCode(ww)).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request completed")
	})
}

// requestLogger returns the request-scoped logger set by withRequestLog.
func (s *Server) requestLogger(r *http.Request) *zerolog.Logger {
	log := zerolog.Ctx(r.Context())
	if log.GetLevel() == zerolog.Disabled {
		return &s.logger
	}
	return log
}
