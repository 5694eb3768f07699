package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixelkit/internal/domain"
)

func TestLocalBlobStoreRoundTrip(t *testing.T) {
	store := LocalBlobStore{Dir: filepath.Join(t.TempDir(), "assets")}
	ctx := context.Background()

	uri, err := store.Write(ctx, "my photo.final", []byte("abc"), domain.FormatJPEG)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(uri) != "my_photo.jpg" {
		t.Fatalf("unexpected file name %q", filepath.Base(uri))
	}

	info, err := store.Stat(ctx, uri)
	if err != nil || !info.Exists || info.Size != 3 {
		t.Fatalf("unexpected stat %+v err=%v", info, err)
	}

	share, err := store.ShareURL(ctx, uri)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if !strings.HasPrefix(share, "file://") {
		t.Fatalf("expected file url, got %q", share)
	}
	if data, err := store.Read(ctx, share); err != nil || string(data) != "abc" {
		t.Fatalf("expected file url to be readable, got %q err=%v", data, err)
	}

	if err := store.Delete(ctx, uri); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, uri); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	info, err = store.Stat(ctx, uri)
	if err != nil || info.Exists {
		t.Fatalf("expected missing file, got %+v err=%v", info, err)
	}
}

func TestLocalBlobStoreRefusesPathsOutsideDir(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := LocalBlobStore{Dir: filepath.Join(root, "assets")}

	_, err := store.Read(context.Background(), outside)
	if domain.KindOf(err) != domain.KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	_, err = store.Read(context.Background(), filepath.Join(store.Dir, "..", "secret.txt"))
	if domain.KindOf(err) != domain.KindPermissionDenied {
		t.Fatalf("expected permission denied for traversal, got %v", err)
	}
}

func TestSanitizePathToken(t *testing.T) {
	if got := sanitizePathToken(" ../a b "); got != "___a_b" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := sanitizePathToken(""); got != "unknown" {
		t.Fatalf("unexpected token %q", got)
	}
}
