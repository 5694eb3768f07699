package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/dunamismax/pixelkit/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubProcessor struct {
	result domain.Result
	calls  int
}

func (p *stubProcessor) Apply(_ context.Context, _ domain.ImageAsset, _ domain.TransformRequest) domain.Result {
	p.calls++
	return p.result
}

type captureWebhook struct {
	mu     sync.Mutex
	events []string
	bodies []any
	err    error
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.bodies = append(c.bodies, payload)
	return c.err
}

func newTestServer(t *testing.T, proc *stubProcessor) (*Server, *store.MemoryStore, *captureWebhook) {
	t.Helper()
	memory := store.NewMemoryStore()
	hooks := &captureWebhook{}
	s := &Server{
		logger:        zerolog.Nop(),
		sem:           make(chan struct{}, 1),
		processor:     proc,
		assetStore:    memory,
		jobStore:      memory,
		usageStore:    memory,
		webhookClient: hooks,
		metrics:       newMetrics(prometheus.NewRegistry()),
		tracer:        noop.NewTracerProvider().Tracer("test"),
		now:           time.Now,
	}
	return s, memory, hooks
}

func seedJob(t *testing.T, memory *store.MemoryStore, op domain.Op) *asynq.Task {
	t.Helper()
	source := domain.ImageAsset{ID: "src-1", URI: "assets/src.jpg", Size: domain.SizeOf(1000), Format: domain.FormatJPEG}
	transform := domain.TransformRequest{Op: op, Quality: 60}

	if err := memory.Create(context.Background(), domain.Job{
		ID:        "job-1",
		UserID:    "user-1",
		AssetID:   source.ID,
		Status:    domain.JobStatusQueued,
		Transform: transform,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	task, err := queue.NewTransformTask(queue.TransformPayload{
		JobID:       "job-1",
		UserID:      "user-1",
		Asset:       source,
		Transform:   transform,
		WebhookURL:  "https://hooks.example.com/pixelkit",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestHandleTransformSuccess(t *testing.T) {
	output := domain.ImageAsset{ID: "out-1", URI: "assets/out.jpg", Size: domain.SizeOf(400), Format: domain.FormatJPEG}
	s, memory, hooks := newTestServer(t, &stubProcessor{result: domain.Succeeded(output)})
	task := seedJob(t, memory, domain.OpCompress)

	if err := s.handleTransform(context.Background(), task); err != nil {
		t.Fatalf("handle transform: %v", err)
	}

	job, ok, _ := memory.Get(context.Background(), "job-1")
	if !ok || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded job, got %+v", job)
	}
	if job.Result == nil || job.Result.Asset.ID != "out-1" {
		t.Fatalf("expected stored result, got %+v", job.Result)
	}
	if _, ok, _ := memory.GetAsset(context.Background(), "out-1"); !ok {
		t.Fatal("expected output asset to be saved")
	}

	logs := memory.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("expected one usage log, got %d", len(logs))
	}
	if logs[0].UserID != "user-1" || logs[0].BytesSaved != 600 || logs[0].CompressionRatio != 60 {
		t.Fatalf("unexpected usage log %+v", logs[0])
	}
	if logs[0].ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms >= 1, got %d", logs[0].ComputeTimeMS)
	}

	if len(hooks.events) != 1 || hooks.events[0] != "job.completed" {
		t.Fatalf("expected job.completed webhook, got %v", hooks.events)
	}
}

func TestHandleTransformValidationFailureSkipsRetry(t *testing.T) {
	s, memory, hooks := newTestServer(t, &stubProcessor{result: domain.FailureFrom(domain.ValidationError("quality", "must be at most 100"))})
	task := seedJob(t, memory, domain.OpCompress)

	err := s.handleTransform(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := memory.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if job.Result == nil || job.Result.Failure.Kind != domain.KindValidation {
		t.Fatalf("expected validation failure stored, got %+v", job.Result)
	}
	if len(memory.UsageLogs()) != 0 {
		t.Fatal("expected no usage log for a failed job")
	}
	if len(hooks.events) != 1 || hooks.events[0] != "job.failed" {
		t.Fatalf("expected job.failed webhook, got %v", hooks.events)
	}
}

func TestHandleTransformBackendFailureIsRetryable(t *testing.T) {
	s, memory, _ := newTestServer(t, &stubProcessor{result: domain.Failed(domain.KindBackendFailure, "encoder crashed")})
	task := seedJob(t, memory, domain.OpCompress)

	err := s.handleTransform(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("backend failures must stay retryable")
	}

	// Outside asynq there is no retry metadata, so this counts as the last attempt.
	job, _, _ := memory.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed job on final attempt, got %s", job.Status)
	}
}

func TestHandleTransformRejectsInvalidPayload(t *testing.T) {
	proc := &stubProcessor{}
	s, _, _ := newTestServer(t, proc)

	err := s.handleTransform(context.Background(), asynq.NewTask(queue.TypeTransformImage, []byte(`{"job_id":""}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if proc.calls != 0 {
		t.Fatal("processor must not run for an invalid payload")
	}
}

func TestHandleTransformWebhookFailureDoesNotFailJob(t *testing.T) {
	output := domain.ImageAsset{ID: "out-1", URI: "assets/out.jpg"}
	s, memory, hooks := newTestServer(t, &stubProcessor{result: domain.Succeeded(output)})
	hooks.err = errors.New("receiver down")
	task := seedJob(t, memory, domain.OpRotate)

	if err := s.handleTransform(context.Background(), task); err != nil {
		t.Fatalf("expected success despite webhook failure, got %v", err)
	}
	job, _, _ := memory.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded job, got %s", job.Status)
	}
}

func TestRecordUsageWithUnknownSizes(t *testing.T) {
	s, memory, _ := newTestServer(t, &stubProcessor{})
	payload := queue.TransformPayload{
		JobID:     "job-2",
		Asset:     domain.ImageAsset{ID: "src", URI: "assets/src.png"},
		Transform: domain.TransformRequest{Op: domain.OpRotate, Degrees: 90},
	}
	res := domain.Succeeded(domain.ImageAsset{ID: "out", URI: "assets/out.png", Size: domain.SizeOf(2048)})

	s.recordUsage(context.Background(), payload, res, 0)

	logs := memory.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("expected one usage log, got %d", len(logs))
	}
	got := logs[0]
	if got.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %q", got.UserID)
	}
	if got.BytesIn != 0 || got.BytesOut != 2048 || got.BytesSaved != 0 || got.CompressionRatio != 0 {
		t.Fatalf("unexpected usage log %+v", got)
	}
	if got.ComputeTimeMS != 1 {
		t.Fatalf("expected compute_time_ms clamped to 1, got %d", got.ComputeTimeMS)
	}
}

func TestRetryable(t *testing.T) {
	for kind, want := range map[domain.ErrorKind]bool{
		domain.KindBackendFailure: true,
		domain.KindTimeout:        true,
		domain.KindValidation:     false,
		domain.KindUnsupported:    false,
		domain.KindCancelled:      false,
	} {
		if got := retryable(kind); got != want {
			t.Fatalf("retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}
