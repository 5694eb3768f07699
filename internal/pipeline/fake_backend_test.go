package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
)

// fakeBackend records calls and produces synthetic assets. compressSize
// decides the size reported for a given quality.
type fakeBackend struct {
	mu sync.Mutex

	compressSize func(quality int) int64
	failAt       int
	delay        time.Duration
	unknownSize  bool

	calls     []string
	qualities []int
	resizes   []ResizeOptions
	deleted   []string
	seq       int
}

func (f *fakeBackend) next(op string) (domain.ImageAsset, error) {
	f.mu.Lock()
	f.seq++
	n := f.seq
	f.calls = append(f.calls, op)
	failAt := f.failAt
	f.mu.Unlock()

	if failAt > 0 && n == failAt {
		return domain.ImageAsset{}, errors.New("backend exploded")
	}
	return domain.ImageAsset{
		ID:     fmt.Sprintf("out-%d", n),
		URI:    fmt.Sprintf("mem://%s/%d", op, n),
		Format: domain.FormatJPEG,
	}, nil
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) Compress(ctx context.Context, _ domain.ImageAsset, quality int) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	f.mu.Lock()
	f.qualities = append(f.qualities, quality)
	f.mu.Unlock()

	asset, err := f.next("compress")
	if err != nil {
		return asset, err
	}
	if !f.unknownSize && f.compressSize != nil {
		asset.Size = domain.SizeOf(f.compressSize(quality))
	}
	return asset, nil
}

func (f *fakeBackend) Resize(ctx context.Context, _ domain.ImageAsset, opts ResizeOptions) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	f.mu.Lock()
	f.resizes = append(f.resizes, opts)
	f.mu.Unlock()
	return f.next("resize")
}

func (f *fakeBackend) Crop(ctx context.Context, _ domain.ImageAsset, _ domain.Rect) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	return f.next("crop")
}

func (f *fakeBackend) ConvertFormat(ctx context.Context, _ domain.ImageAsset, _ domain.Format) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	return f.next("convert")
}

func (f *fakeBackend) Rotate(ctx context.Context, _ domain.ImageAsset, _ int) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	return f.next("rotate")
}

func (f *fakeBackend) RemoveBackground(ctx context.Context, _ domain.ImageAsset, _ int) (domain.ImageAsset, error) {
	if err := f.wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	return f.next("remove_background")
}

func (f *fakeBackend) Stat(_ context.Context, _ string) (FileInfo, error) {
	return FileInfo{Size: 1234, Exists: true}, nil
}

func (f *fakeBackend) Delete(_ context.Context, asset domain.ImageAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, asset.URI)
	return nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) deletedURIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func testSource() domain.ImageAsset {
	return domain.ImageAsset{
		ID:         "src",
		URI:        "mem://source",
		FileName:   "source.jpg",
		Size:       domain.SizeOf(2_000_000),
		Dimensions: &domain.Dimensions{Width: 3000, Height: 2000},
		Format:     domain.FormatJPEG,
	}
}
