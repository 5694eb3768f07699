package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelkit/internal/domain"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrAssetNotFound = errors.New("asset not found")
)

type AssetStore interface {
	SaveAsset(ctx context.Context, asset domain.ImageAsset) error
	GetAsset(ctx context.Context, id string) (domain.ImageAsset, bool, error)
	DeleteAsset(ctx context.Context, id string) error
}

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete stores the final result and the status derived from it.
	Complete(ctx context.Context, id string, res domain.Result) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store is the full persistence surface; both implementations provide it.
type Store interface {
	AssetStore
	JobStore
	UsageStore
	Close() error
}
