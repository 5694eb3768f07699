package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Format is the encoding of an image file. FormatUnknown is an explicit state,
// never a stand-in for JPEG.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "JPEG"
	FormatPNG     Format = "PNG"
	FormatWEBP    Format = "WEBP"
	FormatGIF     Format = "GIF"
)

// ParseFormat accepts a format name or file extension, with or without the
// leading dot, in any case.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWEBP
	case "gif":
		return FormatGIF
	default:
		return FormatUnknown
	}
}

// FormatFromFileName maps the file extension of name to a Format.
func FormatFromFileName(name string) Format {
	ext := path.Ext(strings.TrimSpace(name))
	if ext == "" {
		return FormatUnknown
	}
	return ParseFormat(ext)
}

func (f Format) Known() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP, FormatGIF:
		return true
	default:
		return false
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	case FormatGIF:
		return "gif"
	default:
		return "bin"
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f), nil
}

// UnmarshalText never fails: unsupported names decode to FormatUnknown and are
// rejected later by validation.
func (f *Format) UnmarshalText(text []byte) error {
	*f = ParseFormat(string(text))
	return nil
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageAsset is an immutable handle to one image file. Transforms produce new
// assets. Size and Dimensions are nil when the backend did not report them.
type ImageAsset struct {
	ID         string      `json:"id"`
	URI        string      `json:"uri"`
	FileName   string      `json:"file_name"`
	Size       *int64      `json:"size_bytes,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Format     Format      `json:"format,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func SizeOf(n int64) *int64 {
	return &n
}

func (a ImageAsset) SizeBytes() (int64, bool) {
	if a.Size == nil {
		return 0, false
	}
	return *a.Size, true
}

// KnownDimensions reports the pixel size, treating zero values as unknown.
func (a ImageAsset) KnownDimensions() (Dimensions, bool) {
	if a.Dimensions == nil || a.Dimensions.Width <= 0 || a.Dimensions.Height <= 0 {
		return Dimensions{}, false
	}
	return *a.Dimensions, true
}

func (a ImageAsset) Validate() error {
	if strings.TrimSpace(a.URI) == "" {
		return errors.New("asset uri is required")
	}
	if a.Size != nil && *a.Size < 0 {
		return fmt.Errorf("asset size must be >= 0, got %d", *a.Size)
	}
	if a.Dimensions != nil && (a.Dimensions.Width < 0 || a.Dimensions.Height < 0) {
		return fmt.Errorf("asset dimensions must be non-negative, got %dx%d", a.Dimensions.Width, a.Dimensions.Height)
	}
	if a.Format != FormatUnknown && !a.Format.Known() {
		return fmt.Errorf("unsupported asset format: %s", a.Format)
	}
	return nil
}
