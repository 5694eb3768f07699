package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelkit/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type Action string

const (
	ActionResize           Action = "resize"
	ActionCrop             Action = "crop"
	ActionRotate           Action = "rotate"
	ActionRemoveBackground Action = "remove_background"
)

type FitMode string

const (
	// FitStretch resizes to exactly Width x Height, ignoring aspect ratio.
	FitStretch FitMode = "stretch"
	// FitContain scales to the largest size that fits in Width x Height.
	FitContain FitMode = "contain"
)

var (
	ErrInvalidAction    = errors.New("invalid codec action")
	ErrUndecodable      = errors.New("image data could not be decoded")
	ErrUnsupportedCodec = errors.New("output format not supported by codec")
)

// Operation is a single codec instruction. Format FormatUnknown keeps the
// source encoding.
type Operation struct {
	Action        Action
	Width         int
	Height        int
	Fit           FitMode
	OnlyScaleDown bool
	Rect          domain.Rect
	Degrees       int
	Sensitivity   int
	Format        domain.Format
	Quality       int
}

type Encoded struct {
	Data   []byte
	Format domain.Format
	Width  int
	Height int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, op Operation) (Encoded, error)
}

// Probe reports the format and the displayed size of an encoded image. Only
// the header is read, except for JPEG: the EXIF orientation can swap width
// and height, so JPEGs are decoded the same way the codecs decode them.
func Probe(data []byte) (domain.Format, domain.Dimensions, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.FormatUnknown, domain.Dimensions{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	format := domain.ParseFormat(name)
	dims := domain.Dimensions{Width: cfg.Width, Height: cfg.Height}
	if format == domain.FormatJPEG {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return domain.FormatUnknown, domain.Dimensions{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		dims = domain.Dimensions{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	}
	return format, dims, nil
}

// containSize returns the largest size with the source aspect ratio that fits
// inside boxW x boxH, never smaller than 1x1.
func containSize(srcW, srcH, boxW, boxH int) (int, int, float64) {
	scale := min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
	w := max(1, int(float64(srcW)*scale+0.5))
	h := max(1, int(float64(srcH)*scale+0.5))
	return w, h, scale
}

func outputFormat(requested, source domain.Format) domain.Format {
	if requested.Known() {
		return requested
	}
	if source.Known() {
		return source
	}
	return domain.FormatPNG
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
