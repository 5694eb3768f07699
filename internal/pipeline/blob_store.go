package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelkit/internal/domain"
)

type FileInfo struct {
	Size   int64
	Exists bool
}

// BlobStore holds encoded image bytes. URIs are opaque to callers and only
// meaningful to the store that produced them.
type BlobStore interface {
	Read(ctx context.Context, uri string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte, format domain.Format) (string, error)
	Stat(ctx context.Context, uri string) (FileInfo, error)
	Delete(ctx context.Context, uri string) error
	ShareURL(ctx context.Context, uri string) (string, error)
}

type LocalBlobStore struct {
	Dir string
}

func (s LocalBlobStore) Read(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image file %s: %w", path, err)
	}
	return data, nil
}

func (s LocalBlobStore) Write(ctx context.Context, name string, data []byte, format domain.Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(s.Dir) == "" {
		return "", errors.New("output directory is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(s.Dir, fileName(name, format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return fullPath, nil
}

func (s LocalBlobStore) Stat(ctx context.Context, uri string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	path, err := s.resolve(uri)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat image file %s: %w", path, err)
	}
	return FileInfo{Size: info.Size(), Exists: true}, nil
}

// Delete is idempotent: a missing file is not an error.
func (s LocalBlobStore) Delete(_ context.Context, uri string) error {
	path, err := s.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete image file %s: %w", path, err)
	}
	return nil
}

func (s LocalBlobStore) ShareURL(_ context.Context, uri string) (string, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve share path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// resolve accepts a path returned by Write or a file:// URL and refuses
// anything outside the store directory.
func (s LocalBlobStore) resolve(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", domain.ValidationError("uri", fmt.Sprintf("invalid file url %q", uri))
		}
		uri = filepath.FromSlash(u.Path)
	}
	if uri == "" {
		return "", domain.ValidationError("uri", "is required")
	}

	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve store dir: %w", err)
	}
	path, err := filepath.Abs(uri)
	if err != nil {
		return "", fmt.Errorf("resolve image path: %w", err)
	}
	if rel, err := filepath.Rel(dir, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &domain.Error{Kind: domain.KindPermissionDenied, Field: "uri", Message: "path is outside the image store"}
	}
	return path, nil
}

func fileName(name string, format domain.Format) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return fmt.Sprintf("%s.%s", sanitizePathToken(base), format.Extension())
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
