package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/rs/zerolog"
)

const (
	startQuality   = 100
	floorQuality   = 5
	maxIterations  = 10
	minQualityStep = 5
)

// CompressFunc produces one compressed candidate at the given quality.
type CompressFunc func(ctx context.Context, quality int) (domain.ImageAsset, error)

// SizeController searches downward from quality 100 for an output no larger
// than the target. It stops at the first candidate within target, at the
// quality floor, or after maxIterations re-compressions, and returns the last
// candidate either way.
type SizeController struct {
	Compress CompressFunc
	// Size reports the byte size of a candidate whose Size is unknown.
	Size func(ctx context.Context, asset domain.ImageAsset) (int64, error)
	// Discard removes a candidate that will not be returned.
	Discard func(asset domain.ImageAsset)
}

func (c SizeController) Run(ctx context.Context, targetKB int) (domain.ImageAsset, []domain.Attempt, error) {
	if targetKB <= 0 {
		return domain.ImageAsset{}, nil, domain.ValidationError("target_kb", fmt.Sprintf("must be greater than 0, got %d", targetKB))
	}
	target := int64(targetKB) * 1024

	quality := startQuality
	attempts := make([]domain.Attempt, 0, maxIterations+1)

	asset, size, err := c.attempt(ctx, quality)
	if err != nil {
		return domain.ImageAsset{}, attempts, err
	}
	attempts = append(attempts, domain.Attempt{Quality: quality, Size: size})

	for iter := 0; size > target && quality > floorQuality && iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			c.discard(asset)
			return domain.ImageAsset{}, attempts, err
		}

		quality = nextQuality(quality, target, size)
		next, nextSize, err := c.attempt(ctx, quality)
		if err != nil {
			c.discard(asset)
			return domain.ImageAsset{}, attempts, err
		}
		attempts = append(attempts, domain.Attempt{Quality: quality, Size: nextSize})

		c.discard(asset)
		asset, size = next, nextSize
	}

	return asset, attempts, nil
}

func (c SizeController) attempt(ctx context.Context, quality int) (domain.ImageAsset, int64, error) {
	asset, err := c.Compress(ctx, quality)
	if err != nil {
		return domain.ImageAsset{}, 0, err
	}
	if size, ok := asset.SizeBytes(); ok {
		return asset, size, nil
	}
	if c.Size == nil {
		c.discard(asset)
		return domain.ImageAsset{}, 0, errors.New("compressed output size is unknown")
	}
	size, err := c.Size(ctx, asset)
	if err != nil {
		c.discard(asset)
		return domain.ImageAsset{}, 0, fmt.Errorf("measure compressed output: %w", err)
	}
	asset.Size = domain.SizeOf(size)
	return asset, size, nil
}

func (c SizeController) discard(asset domain.ImageAsset) {
	if c.Discard != nil {
		c.Discard(asset)
	}
}

// nextQuality lowers quality in proportion to how far size is from target:
// step = max(5, floor((1 - target/size) * 20)), never below the floor.
func nextQuality(quality int, target, size int64) int {
	ratio := float64(target) / float64(size)
	step := max(minQualityStep, int(math.Floor((1-ratio)*20)))
	return max(floorQuality, quality-step)
}

func (p *Processor) compressToSize(ctx context.Context, source domain.ImageAsset, targetKB int, log zerolog.Logger) domain.Result {
	controller := SizeController{
		Compress: func(ctx context.Context, quality int) (domain.ImageAsset, error) {
			return p.call(ctx, "compress_to_size", func(ctx context.Context) (domain.ImageAsset, error) {
				return p.backend.Compress(ctx, source, quality)
			})
		},
		Size: func(ctx context.Context, asset domain.ImageAsset) (int64, error) {
			info, err := p.backend.Stat(ctx, asset.URI)
			if err != nil {
				return 0, err
			}
			if !info.Exists {
				return 0, fmt.Errorf("compressed output %s does not exist", asset.URI)
			}
			return info.Size, nil
		},
		Discard: p.discard,
	}

	asset, attempts, err := controller.Run(ctx, targetKB)
	final := 0
	if len(attempts) > 0 {
		final = attempts[len(attempts)-1].Quality
	}
	hit := err == nil && asset.Size != nil && *asset.Size <= int64(targetKB)*1024
	p.observer.ObserveCompressAttempts(len(attempts), hit)
	log.Debug().
		Int("target_kb", targetKB).
		Int("calls", len(attempts)).
		Int("quality", final).
		Bool("hit_target", hit).
		Msg("compress to size")

	if err != nil {
		res := domain.FailureFrom(fmt.Errorf("compress to %d KB: %w", targetKB, err))
		res.Attempts = attempts
		return res
	}

	res := domain.Succeeded(asset)
	res.Attempts = attempts
	return res
}
