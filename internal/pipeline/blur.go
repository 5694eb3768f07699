package pipeline

import (
	"context"
	"math"

	"github.com/dunamismax/pixelkit/internal/domain"
)

const (
	blurCanvas          = 800
	blurDownQuality     = 80
	blurUpQuality       = 90
	minBlurFactor       = 0.1
	maxBlurFactorRadius = 100.0
)

// blurFactor maps radius 0..100 to the downscale factor 1.0..0.1.
func blurFactor(radius int) float64 {
	f := 1 - float64(radius)/maxBlurFactorRadius
	return math.Min(1, math.Max(minBlurFactor, f))
}

// blur approximates a blur by shrinking into a small box and scaling back up
// to the canvas. The shrunken intermediate is always deleted.
func (p *Processor) blur(ctx context.Context, source domain.ImageAsset, radius int) (domain.ImageAsset, error) {
	side := max(1, int(math.Round(blurCanvas*blurFactor(radius))))

	small, err := p.call(ctx, "blur.downscale", func(ctx context.Context) (domain.ImageAsset, error) {
		return p.backend.Resize(ctx, source, ResizeOptions{
			Width:   side,
			Height:  side,
			Fit:     FitContain,
			Quality: blurDownQuality,
			Format:  domain.FormatJPEG,
		})
	})
	if err != nil {
		return domain.ImageAsset{}, err
	}
	defer p.discard(small)

	return p.call(ctx, "blur.upscale", func(ctx context.Context) (domain.ImageAsset, error) {
		return p.backend.Resize(ctx, small, ResizeOptions{
			Width:   blurCanvas,
			Height:  blurCanvas,
			Fit:     FitContain,
			Quality: blurUpQuality,
			Format:  domain.FormatJPEG,
		})
	})
}
