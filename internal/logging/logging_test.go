package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWritesJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", "debug", &buf)
	logger.Info().Str("asset_id", "a1").Msg("compressed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if entry["asset_id"] != "a1" || entry["message"] != "compressed" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected timestamp field")
	}
}

func TestNewFallsBackToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", "loud", &buf)
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered, got %q", buf.String())
	}

	logger.Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}
