package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsJobEvent(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := domain.Succeeded(domain.ImageAsset{ID: "out-1", URI: "assets/out.jpg"})
	event := JobEvent{JobID: "job-1", AssetID: "asset-1", Status: domain.StatusForResult(res), Op: domain.OpCompress, Result: res}

	if err := testClient(1).Send(context.Background(), srv.URL, EventFor(res), event); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvt != EventJobCompleted {
		t.Fatalf("expected event header %s, got %q", EventJobCompleted, gotEvt)
	}
	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if !Verify("test-secret", gotTS, gotBody, gotSig) {
		t.Fatal("expected signature to verify")
	}
	if Verify("other-secret", gotTS, gotBody, gotSig) {
		t.Fatal("signature must not verify with another secret")
	}

	var decoded JobEvent
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Result.Asset == nil || decoded.Result.Asset.ID != "out-1" {
		t.Fatalf("unexpected delivered result %+v", decoded.Result)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(3).Send(context.Background(), srv.URL, EventJobFailed, map[string]any{"job_id": "j"}); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestSendStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	if err := testClient(5).Send(context.Background(), srv.URL, EventJobFailed, map[string]any{}); err == nil {
		t.Fatal("expected error for 410 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := testClient(1).Send(context.Background(), "  ", EventJobCompleted, nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestEventFor(t *testing.T) {
	if EventFor(domain.Failed(domain.KindBackendFailure, "")) != EventJobFailed {
		t.Fatal("expected job.failed for failures")
	}
}
