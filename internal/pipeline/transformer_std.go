package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelkit/internal/domain"
)

// stdlibTransformer is the pure-Go codec. It decodes JPEG, PNG, GIF, WebP and
// BMP, and encodes everything except WebP.
type stdlibTransformer struct{}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, op Operation) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	sourceFormat, _, err := Probe(input)
	if err != nil {
		return Encoded{}, err
	}
	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Encoded{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	var out image.Image
	switch op.Action {
	case ActionResize:
		out, err = resizeImage(src, op)
	case ActionCrop:
		out, err = cropImage(src, op.Rect)
	case ActionRotate:
		out, err = rotateClockwise(src, op.Degrees)
	case ActionRemoveBackground:
		out = removeBackground(src, op.Sensitivity)
	default:
		return Encoded{}, fmt.Errorf("%w: %q", ErrInvalidAction, op.Action)
	}
	if err != nil {
		return Encoded{}, err
	}

	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	format := outputFormat(op.Format, sourceFormat)
	data, err := encodeImage(out, format, op.Quality)
	if err != nil {
		return Encoded{}, err
	}

	bounds := out.Bounds()
	return Encoded{Data: data, Format: format, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func resizeImage(src image.Image, op Operation) (image.Image, error) {
	if op.Width <= 0 || op.Height <= 0 {
		return nil, fmt.Errorf("resize requires width and height > 0, got %dx%d", op.Width, op.Height)
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("source image has invalid dimensions %dx%d", srcW, srcH)
	}

	switch op.Fit {
	case FitStretch, "":
		return imaging.Resize(src, op.Width, op.Height, imaging.Lanczos), nil
	case FitContain:
		w, h, scale := containSize(srcW, srcH, op.Width, op.Height)
		if op.OnlyScaleDown && scale >= 1 {
			return imaging.Clone(src), nil
		}
		return imaging.Resize(src, w, h, imaging.Lanczos), nil
	default:
		return nil, fmt.Errorf("unsupported fit mode %q", op.Fit)
	}
}

func cropImage(src image.Image, rect domain.Rect) (image.Image, error) {
	bounds := src.Bounds()
	if !rect.Within(bounds.Dx(), bounds.Dy()) {
		return nil, domain.ValidationError("crop",
			fmt.Sprintf("rectangle %dx%d+%d+%d is outside the %dx%d image",
				rect.Width, rect.Height, rect.X, rect.Y, bounds.Dx(), bounds.Dy()))
	}
	r := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height).Add(bounds.Min)
	return imaging.Crop(src, r), nil
}

// rotateClockwise turns the image by degrees clockwise. imaging rotates
// counter-clockwise, so 90 and 270 swap.
func rotateClockwise(src image.Image, degrees int) (image.Image, error) {
	switch degrees {
	case 0:
		return imaging.Clone(src), nil
	case 90:
		return imaging.Rotate270(src), nil
	case 180:
		return imaging.Rotate180(src), nil
	case 270:
		return imaging.Rotate90(src), nil
	default:
		return nil, domain.ValidationError("degrees", fmt.Sprintf("must be one of 0, 90, 180, 270, got %d", degrees))
	}
}

func encodeImage(img image.Image, format domain.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case domain.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(quality))); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatGIF:
		if err := imaging.Encode(&buf, img, imaging.GIF); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case domain.FormatWEBP:
		return nil, fmt.Errorf("%w: webp export requires the govips build tag", ErrUnsupportedCodec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, format)
	}

	return buf.Bytes(), nil
}
