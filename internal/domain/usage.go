package domain

import "time"

type UsageLog struct {
	UserID           string
	JobID            string
	AssetID          string
	Op               Op
	BytesIn          int64
	BytesOut         int64
	BytesSaved       int64
	CompressionRatio int
	ComputeTimeMS    int64
	CreatedAt        time.Time
}
