package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	uri TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT,
	width INTEGER,
	height INTEGER,
	format TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	asset_id TEXT NOT NULL,
	status TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	transform JSONB NOT NULL,
	result JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	op TEXT NOT NULL,
	bytes_in BIGINT NOT NULL,
	bytes_out BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	compression_ratio INTEGER NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_user_created_idx ON usage_logs (user_id, created_at);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) SaveAsset(ctx context.Context, asset domain.ImageAsset) error {
	var width, height sql.NullInt64
	if dims, ok := asset.KnownDimensions(); ok {
		width = sql.NullInt64{Int64: int64(dims.Width), Valid: true}
		height = sql.NullInt64{Int64: int64(dims.Height), Valid: true}
	}
	var size sql.NullInt64
	if n, ok := asset.SizeBytes(); ok {
		size = sql.NullInt64{Int64: n, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (id, uri, file_name, size_bytes, width, height, format, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		 	uri = EXCLUDED.uri,
		 	file_name = EXCLUDED.file_name,
		 	size_bytes = EXCLUDED.size_bytes,
		 	width = EXCLUDED.width,
		 	height = EXCLUDED.height,
		 	format = EXCLUDED.format`,
		asset.ID,
		asset.URI,
		asset.FileName,
		size,
		width,
		height,
		string(asset.Format),
		asset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (domain.ImageAsset, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, uri, file_name, size_bytes, width, height, format, created_at
		 FROM assets
		 WHERE id = $1`,
		id,
	)

	var (
		asset         domain.ImageAsset
		size          sql.NullInt64
		width, height sql.NullInt64
		format        string
	)
	if err := row.Scan(&asset.ID, &asset.URI, &asset.FileName, &size, &width, &height, &format, &asset.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ImageAsset{}, false, nil
		}
		return domain.ImageAsset{}, false, fmt.Errorf("query asset: %w", err)
	}

	if size.Valid {
		asset.Size = domain.SizeOf(size.Int64)
	}
	if width.Valid && height.Valid {
		asset.Dimensions = &domain.Dimensions{Width: int(width.Int64), Height: int(height.Int64)}
	}
	asset.Format = domain.ParseFormat(format)
	return asset, true, nil
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job domain.Job) error {
	transformJSON, err := json.Marshal(job.Transform)
	if err != nil {
		return fmt.Errorf("marshal job transform: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, user_id, asset_id, status, webhook_url, transform, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.UserID,
		job.AssetID,
		job.Status,
		job.WebhookURL,
		transformJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, asset_id, status, webhook_url, transform, result, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job           domain.Job
		transformJSON []byte
		resultJSON    []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.AssetID,
		&job.Status,
		&job.WebhookURL,
		&transformJSON,
		&resultJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(transformJSON, &job.Transform); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job transform: %w", err)
	}
	if len(resultJSON) > 0 {
		var res domain.Result
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return domain.Job{}, false, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &res
	}

	return job, true, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result domain.Result) (domain.Job, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job result: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, result = $2, updated_at = $3
		 WHERE id = $4`,
		domain.StatusForResult(result),
		resultJSON,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("complete job: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, asset_id, op, bytes_in, bytes_out, bytes_saved, compression_ratio, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		usage.UserID,
		usage.JobID,
		usage.AssetID,
		string(usage.Op),
		usage.BytesIn,
		usage.BytesOut,
		usage.BytesSaved,
		usage.CompressionRatio,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
