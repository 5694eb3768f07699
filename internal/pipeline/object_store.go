package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/storage"
)

// ObjectBlobStore keeps images in a MinIO/S3 bucket under Prefix. URIs are
// object keys.
type ObjectBlobStore struct {
	Storage  *storage.Client
	Prefix   string
	ShareTTL time.Duration
}

func (s ObjectBlobStore) Read(ctx context.Context, uri string) ([]byte, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return s.Storage.ReadObject(ctx, strings.TrimSpace(uri))
}

func (s ObjectBlobStore) Write(ctx context.Context, name string, data []byte, format domain.Format) (string, error) {
	if s.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := path.Join(defaultPrefix(s.Prefix), fileName(name, format))
	if err := s.Storage.WriteObject(ctx, objectKey, data, format.ContentType()); err != nil {
		return "", err
	}
	return objectKey, nil
}

func (s ObjectBlobStore) Stat(ctx context.Context, uri string) (FileInfo, error) {
	if s.Storage == nil {
		return FileInfo{}, errors.New("storage client is required")
	}
	info, err := s.Storage.StatObject(ctx, strings.TrimSpace(uri))
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: info.Size, Exists: true}, nil
}

func (s ObjectBlobStore) Delete(ctx context.Context, uri string) error {
	if s.Storage == nil {
		return errors.New("storage client is required")
	}
	return s.Storage.RemoveObject(ctx, strings.TrimSpace(uri))
}

func (s ObjectBlobStore) ShareURL(ctx context.Context, uri string) (string, error) {
	if s.Storage == nil {
		return "", errors.New("storage client is required")
	}
	ttl := s.ShareTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.Storage.PresignedGetURL(ctx, strings.TrimSpace(uri), ttl)
}

// CopyTo duplicates an object into another store on the same bucket without
// downloading it.
func (s ObjectBlobStore) CopyTo(ctx context.Context, uri string, dst ObjectBlobStore, name string, format domain.Format) (string, error) {
	if s.Storage == nil {
		return "", errors.New("storage client is required")
	}
	if dst.Storage == nil || dst.Storage.Bucket() != s.Storage.Bucket() {
		return "", fmt.Errorf("copy across buckets is not supported")
	}

	objectKey := path.Join(defaultPrefix(dst.Prefix), fileName(name, format))
	if err := s.Storage.CopyObject(ctx, strings.TrimSpace(uri), objectKey); err != nil {
		return "", err
	}
	return objectKey, nil
}

func defaultPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "assets"
	}
	return prefix
}
