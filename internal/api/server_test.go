package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/ratelimit"
	"github.com/dunamismax/pixelkit/internal/session"
	"github.com/dunamismax/pixelkit/internal/store"
	"github.com/rs/zerolog"
)

type testEnv struct {
	server  *Server
	proc    *fakeProcessor
	library *fakeLibrary
	memory  *store.MemoryStore
	queue   *fakeQueue
	tracker *session.Tracker
}

func newTestEnv(t *testing.T, withQueue bool) *testEnv {
	t.Helper()
	env := &testEnv{
		proc:    &fakeProcessor{started: make(chan struct{})},
		library: &fakeLibrary{shareURL: "https://share.example.com/"},
		memory:  store.NewMemoryStore(),
		tracker: session.NewTracker(),
	}
	deps := Deps{
		Processor: env.proc,
		Library:   env.library,
		Assets:    env.memory,
		Jobs:      env.memory,
		Tracker:   env.tracker,
	}
	if withQueue {
		env.queue = &fakeQueue{}
		deps.Queue = env.queue
	}

	srv, err := NewServer(zerolog.Nop(), deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env.server = srv

	if err := env.memory.SaveAsset(context.Background(), domain.ImageAsset{
		ID:         "a1",
		URI:        "file:///tmp/a1.jpg",
		FileName:   "a1.jpg",
		Size:       domain.SizeOf(1536),
		Dimensions: &domain.Dimensions{Width: 640, Height: 480},
		Format:     domain.FormatJPEG,
	}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) domain.Result {
	t.Helper()
	var res domain.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result %q: %v", rec.Body.String(), err)
	}
	return res
}

func outputAsset(id string) domain.ImageAsset {
	return domain.ImageAsset{ID: id, URI: "file:///tmp/" + id + ".jpg", Size: domain.SizeOf(512), Format: domain.FormatJPEG}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTransformSuccessRecordsOutput(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.results = []domain.Result{domain.Succeeded(outputAsset("out-1"))}

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"compress","params":{"quality":80}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if !res.OK() || res.Asset.ID != "out-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := env.proc.calls[0]; got.Op != domain.OpCompress || got.Quality != 80 {
		t.Fatalf("unexpected normalized request %+v", got)
	}
	if _, ok, _ := env.memory.GetAsset(context.Background(), "out-1"); !ok {
		t.Fatal("expected output asset to be recorded")
	}
	if state := env.tracker.State("a1"); state.Phase != session.PhaseDone {
		t.Fatalf("expected done phase, got %s", state.Phase)
	}
}

func TestTransformValidationFailure(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"compress","params":{"quality":150}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Failure == nil || res.Failure.Kind != domain.KindValidation || res.Failure.Field != "quality" {
		t.Fatalf("unexpected failure %+v", res.Failure)
	}
	if env.proc.callCount() != 0 {
		t.Fatal("processor must not run for invalid input")
	}
}

func TestTransformCropBeyondSourceIsRejected(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/transform",
		`{"op":"crop","params":{"x":600,"y":0,"width":100,"height":100}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransformUnsupportedMapsTo422(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.results = []domain.Result{domain.FailureFrom(domain.ErrFlipUnsupported)}

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"flip","params":{"horizontal":true}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if state := env.tracker.State("a1"); state.Phase != session.PhaseFailed {
		t.Fatalf("expected error phase, got %s", state.Phase)
	}
}

func TestTransformUnknownAsset(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/assets/missing/transform", `{"op":"rotate","params":{"degrees":90}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransformSupersededByNewerRequest(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.blockFirst = true
	env.proc.results = []domain.Result{
		domain.Succeeded(outputAsset("stale")),
		domain.Succeeded(outputAsset("fresh")),
	}

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"rotate","params":{"degrees":90}}`)
	}()

	select {
	case <-env.proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first transform never started")
	}

	second := env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"rotate","params":{"degrees":180}}`)
	if res := decodeResult(t, second); !res.OK() || res.Asset.ID != "fresh" {
		t.Fatalf("expected fresh result, got %+v", res)
	}

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded transform did not return")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for cancelled, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Failure == nil || res.Failure.Kind != domain.KindCancelled {
		t.Fatalf("expected cancelled failure, got %+v", res)
	}

	env.proc.mu.Lock()
	discarded := append([]string(nil), env.proc.discarded...)
	env.proc.mu.Unlock()
	if len(discarded) != 1 || discarded[0] != "stale" {
		t.Fatalf("expected stale output discarded, got %v", discarded)
	}
	if _, ok, _ := env.memory.GetAsset(context.Background(), "stale"); ok {
		t.Fatal("stale output must not stay recorded")
	}
	if state := env.tracker.State("a1"); state.Result == nil || state.Result.Asset.ID != "fresh" {
		t.Fatalf("expected state to hold fresh result, got %+v", state)
	}
}

func TestProcessChainsOptions(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.results = []domain.Result{domain.Succeeded(outputAsset("chained"))}

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/process", `{"width":100,"height":100,"quality":70}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if res := decodeResult(t, rec); res.Asset == nil || res.Asset.ID != "chained" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStateAndReset(t *testing.T) {
	env := newTestEnv(t, false)
	env.proc.results = []domain.Result{domain.Succeeded(outputAsset("out-1"))}
	env.do(t, http.MethodPost, "/v1/assets/a1/transform", `{"op":"compress","params":{"quality":50}}`)

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/reset", "")
	var state session.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Phase != session.PhaseIdle || state.Result != nil {
		t.Fatalf("expected idle state after reset, got %+v", state)
	}

	rec = env.do(t, http.MethodGet, "/v1/assets/other/state", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Phase != session.PhaseIdle {
		t.Fatalf("expected idle for unknown asset, got %s", state.Phase)
	}
}

func TestPickUploadsImage(t *testing.T) {
	env := newTestEnv(t, false)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "holiday.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("not really a png"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok, _ := env.memory.GetAsset(context.Background(), "picked-1"); !ok {
		t.Fatal("expected picked asset to be recorded")
	}
}

func TestPickWithoutFileIsCancelled(t *testing.T) {
	env := newTestEnv(t, false)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "nothing here")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/assets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Failure == nil || res.Failure.Kind != domain.KindCancelled {
		t.Fatalf("expected cancelled failure, got %+v", res)
	}
}

func TestGetAssetIncludesSizeLabel(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/assets/a1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		SizeLabel string `json:"size_label"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SizeLabel != "1.5 KB" {
		t.Fatalf("expected 1.5 KB, got %q", body.SizeLabel)
	}
}

func TestDeleteAsset(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodDelete, "/v1/assets/a1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(env.library.deleted) != 1 {
		t.Fatal("expected file delete")
	}
	if _, ok, _ := env.memory.GetAsset(context.Background(), "a1"); ok {
		t.Fatal("expected asset record removed")
	}
}

func TestSaveAndShare(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/assets/a1/save", `{"file_name":"keep.jpg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if res := decodeResult(t, rec); res.Asset == nil || res.Asset.FileName != "keep.jpg" {
		t.Fatalf("unexpected save result %+v", res)
	}

	env.library.saveErr = &domain.Error{Kind: domain.KindPermissionDenied, Message: "gallery access denied"}
	rec = env.do(t, http.MethodPost, "/v1/assets/a1/save", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/assets/a1/share", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://share.example.com/a1") {
		t.Fatalf("unexpected share response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobEnqueuesTransform(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs",
		strings.NewReader(`{"asset_id":"a1","webhook_url":"https://hooks.example.com/x","transform":{"op":"compress_to_size","params":{"target_kb":"200"}}}`))
	req.Header.Set(UserIDHeader, "user-7")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.queue.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(env.queue.payloads))
	}
	payload := env.queue.payloads[0]
	if payload.Transform.Op != domain.OpCompressToSize || payload.Transform.TargetKB != 200 {
		t.Fatalf("unexpected payload transform %+v", payload.Transform)
	}
	if payload.UserID != "user-7" || payload.Asset.ID != "a1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	rec = env.do(t, http.MethodGet, "/v1/jobs/"+payload.JobID, "")
	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"asset_id":"a1","transform":{"op":"rotate","params":{"degrees":45}}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/v1/jobs", `{"asset_id":"nope","transform":{"op":"rotate","params":{"degrees":90}}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(env.queue.payloads) != 0 {
		t.Fatal("nothing should be enqueued")
	}
}

func TestCreateJobWithoutQueue(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/v1/jobs", `{"asset_id":"a1","transform":{"op":"rotate","params":{"degrees":90}}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Failure == nil || res.Failure.Reason != "job queue is not configured" {
		t.Fatalf("expected failure envelope, got %s", rec.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/v1/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Failure == nil || res.Failure.Kind != domain.KindNotFound || res.Failure.Field != "job_id" {
		t.Fatalf("expected not_found envelope, got %s", rec.Body.String())
	}
}

func TestRateLimitRejectsMutations(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	srv, err := NewServer(zerolog.Nop(), Deps{
		Processor:   &fakeProcessor{},
		Library:     &fakeLibrary{},
		Assets:      store.NewMemoryStore(),
		Jobs:        store.NewMemoryStore(),
		RateLimiter: limiter,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/assets/a1/transform", strings.NewReader(`{"op":"rotate"}`))
	req.Header.Set(UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Failure == nil || res.Failure.Reason != "rate limit exceeded" {
		t.Fatalf("expected failure envelope, got %s", rec.Body.String())
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if len(limiter.subjects) != 1 || limiter.subjects[0] != "user:user-1" {
		t.Fatalf("unexpected subjects %v", limiter.subjects)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/assets/a1/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reads must not be rate limited, got %d", rec.Code)
	}
}

func TestMetricsEndpointReportsRoutes(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodGet, "/v1/assets/a1/state", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/v1/assets/{assetID}/state"`) {
		t.Fatalf("expected chi route pattern label in metrics output")
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindCancelled:        http.StatusOK,
		domain.KindValidation:       http.StatusBadRequest,
		domain.KindPermissionDenied: http.StatusForbidden,
		domain.KindBackendFailure:   http.StatusBadGateway,
		domain.KindUnsupported:      http.StatusUnprocessableEntity,
		domain.KindTimeout:          http.StatusGatewayTimeout,
		domain.KindNotFound:         http.StatusNotFound,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Fatalf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}
