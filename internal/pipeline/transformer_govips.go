//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelkit/internal/domain"
)

// govipsTransformer runs codec operations on libvips. Background removal has
// no libvips equivalent and is handed to the pure-Go codec.
type govipsTransformer struct {
	fallback stdlibTransformer
}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, op Operation) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}
	if op.Action == ActionRemoveBackground {
		return t.fallback.Transform(ctx, input, op)
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Encoded{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Encoded{}, fmt.Errorf("auto rotate: %w", err)
	}

	switch op.Action {
	case ActionResize:
		err = applyGovipsResize(img, op)
	case ActionCrop:
		err = applyGovipsCrop(img, op.Rect)
	case ActionRotate:
		err = applyGovipsRotate(img, op.Degrees)
	default:
		return Encoded{}, fmt.Errorf("%w: %q", ErrInvalidAction, op.Action)
	}
	if err != nil {
		return Encoded{}, err
	}

	format := outputFormat(op.Format, formatOf(input))
	data, err := exportGovipsImage(img, format, op.Quality)
	if err != nil {
		return Encoded{}, err
	}

	return Encoded{Data: data, Format: format, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsResize(img *vips.ImageRef, op Operation) error {
	if op.Width <= 0 || op.Height <= 0 {
		return fmt.Errorf("resize requires width and height > 0, got %dx%d", op.Width, op.Height)
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return fmt.Errorf("source image has invalid dimensions %dx%d", img.Width(), img.Height())
	}

	switch op.Fit {
	case FitStretch, "":
		hScale := float64(op.Width) / float64(img.Width())
		vScale := float64(op.Height) / float64(img.Height())
		if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	case FitContain:
		_, _, scale := containSize(img.Width(), img.Height(), op.Width, op.Height)
		if op.OnlyScaleDown && scale >= 1 {
			return nil
		}
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	default:
		return fmt.Errorf("unsupported fit mode %q", op.Fit)
	}
	return nil
}

func applyGovipsCrop(img *vips.ImageRef, rect domain.Rect) error {
	if !rect.Within(img.Width(), img.Height()) {
		return domain.ValidationError("crop",
			fmt.Sprintf("rectangle %dx%d+%d+%d is outside the %dx%d image",
				rect.Width, rect.Height, rect.X, rect.Y, img.Width(), img.Height()))
	}
	if err := img.ExtractArea(rect.X, rect.Y, rect.Width, rect.Height); err != nil {
		return fmt.Errorf("crop image: %w", err)
	}
	return nil
}

func applyGovipsRotate(img *vips.ImageRef, degrees int) error {
	var angle vips.Angle
	switch degrees {
	case 0:
		return nil
	case 90:
		angle = vips.Angle90
	case 180:
		angle = vips.Angle180
	case 270:
		angle = vips.Angle270
	default:
		return domain.ValidationError("degrees", fmt.Sprintf("must be one of 0, 90, 180, 270, got %d", degrees))
	}
	if err := img.Rotate(angle); err != nil {
		return fmt.Errorf("rotate image: %w", err)
	}
	return nil
}

func formatOf(input []byte) domain.Format {
	switch vips.DetermineImageType(input) {
	case vips.ImageTypeJPEG:
		return domain.FormatJPEG
	case vips.ImageTypePNG:
		return domain.FormatPNG
	case vips.ImageTypeWEBP:
		return domain.FormatWEBP
	case vips.ImageTypeGIF:
		return domain.FormatGIF
	default:
		return domain.FormatUnknown
	}
}

func exportGovipsImage(img *vips.ImageRef, format domain.Format, quality int) ([]byte, error) {
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = clampQuality(quality)
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = clampQuality(quality)
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case domain.FormatGIF:
		data, _, err := img.ExportGIF(vips.NewGifExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, format)
	}
}
