// Package app assembles the pipeline, persistence and storage shared by the
// api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelkit/internal/config"
	"github.com/dunamismax/pixelkit/internal/pipeline"
	"github.com/dunamismax/pixelkit/internal/storage"
	"github.com/dunamismax/pixelkit/internal/store"
	"github.com/dunamismax/pixelkit/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrSharedStoreRequired is returned when a process that must see the api's
// job and asset records is started without a Postgres DSN.
var ErrSharedStoreRequired = errors.New("POSTGRES_DSN is required: the worker and api must share a store")

// RequireSharedStore fails unless records go to a store other processes can
// read. The in-memory store is private to one process.
func RequireSharedStore(cfg config.DatabaseConfig) error {
	if strings.TrimSpace(cfg.DSN) == "" {
		return ErrSharedStoreRequired
	}
	return nil
}

type App struct {
	Store     store.Store
	Processor *pipeline.Processor
	Library   *pipeline.Library
}

func (a *App) Close() error {
	pipeline.Shutdown()
	return a.Store.Close()
}

// Build wires the configured store, blob stores and image codec. Metrics are
// registered on reg.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := pipeline.Startup(); err != nil {
		return nil, fmt.Errorf("start image codec: %w", err)
	}

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		pipeline.Shutdown()
		return nil, err
	}

	assets, gallery, err := openBlobStores(ctx, cfg.Storage)
	if err != nil {
		_ = st.Close()
		pipeline.Shutdown()
		return nil, err
	}

	backend := pipeline.NewAssetBackend(assets, pipeline.NewTransformer())
	processor := pipeline.NewProcessor(backend,
		pipeline.WithLogger(logger),
		pipeline.WithTracer(telemetry.Tracer("pipeline")),
		pipeline.WithObserver(pipeline.NewMetrics(reg)),
		pipeline.WithCallTimeout(cfg.Pipeline.CallTimeout),
	)
	library := pipeline.NewLibrary(backend, gallery, cfg.Pipeline.MaxUploadMB, logger)

	logger.Info().
		Str("codec", pipeline.CodecName()).
		Str("storage", cfg.Storage.Backend).
		Bool("postgres", cfg.Database.DSN != "").
		Dur("call_timeout", cfg.Pipeline.CallTimeout).
		Msg("pipeline ready")

	return &App{Store: st, Processor: processor, Library: library}, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Warn().Msg("POSTGRES_DSN not set, using in-memory store; queued jobs will not report worker progress")
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewPostgresStore(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return st, nil
}

// openBlobStores returns the working store for assets and the gallery store
// saved images are copied into.
func openBlobStores(ctx context.Context, cfg config.StorageConfig) (pipeline.BlobStore, pipeline.BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.StorageBackendLocal:
		assetDir, err := ensureDir(cfg.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		galleryDir, err := ensureDir(filepath.Join(cfg.GalleryDir, cfg.Album))
		if err != nil {
			return nil, nil, err
		}
		return pipeline.LocalBlobStore{Dir: assetDir}, pipeline.LocalBlobStore{Dir: galleryDir}, nil

	case config.StorageBackendMinIO:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure bucket: %w", err)
		}
		assets := pipeline.ObjectBlobStore{Storage: client, Prefix: "assets", ShareTTL: cfg.ShareTTL}
		gallery := pipeline.ObjectBlobStore{Storage: client, Prefix: "gallery/" + cfg.Album, ShareTTL: cfg.ShareTTL}
		return assets, gallery, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func ensureDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", abs, err)
	}
	return abs, nil
}
