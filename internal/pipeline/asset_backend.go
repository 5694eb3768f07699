package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/id"
)

const (
	// compressBound and convertBound cap the long side of re-encoded images.
	compressBound = 4000
	convertBound  = 4000
	maxQuality    = 100
)

type ResizeOptions struct {
	Width         int
	Height        int
	Fit           FitMode
	OnlyScaleDown bool
	Quality       int
	Format        domain.Format
}

// Backend is the image operation contract the processor drives. Every
// transform returns a new asset and leaves the input untouched.
type Backend interface {
	Compress(ctx context.Context, asset domain.ImageAsset, quality int) (domain.ImageAsset, error)
	Resize(ctx context.Context, asset domain.ImageAsset, opts ResizeOptions) (domain.ImageAsset, error)
	Crop(ctx context.Context, asset domain.ImageAsset, rect domain.Rect) (domain.ImageAsset, error)
	ConvertFormat(ctx context.Context, asset domain.ImageAsset, format domain.Format) (domain.ImageAsset, error)
	Rotate(ctx context.Context, asset domain.ImageAsset, degrees int) (domain.ImageAsset, error)
	RemoveBackground(ctx context.Context, asset domain.ImageAsset, sensitivity int) (domain.ImageAsset, error)
	Stat(ctx context.Context, uri string) (FileInfo, error)
	Delete(ctx context.Context, asset domain.ImageAsset) error
}

// AssetBackend implements Backend by reading from a BlobStore, running the
// codec and writing the result back as a new file.
type AssetBackend struct {
	store BlobStore
	codec Transformer
	now   func() time.Time
}

func NewAssetBackend(store BlobStore, codec Transformer) *AssetBackend {
	if codec == nil {
		codec = NewTransformer()
	}
	return &AssetBackend{store: store, codec: codec, now: time.Now}
}

func (b *AssetBackend) Store() BlobStore {
	return b.store
}

func (b *AssetBackend) Compress(ctx context.Context, asset domain.ImageAsset, quality int) (domain.ImageAsset, error) {
	return b.run(ctx, asset, "compressed", Operation{
		Action:        ActionResize,
		Width:         compressBound,
		Height:        compressBound,
		Fit:           FitContain,
		OnlyScaleDown: true,
		Format:        domain.FormatJPEG,
		Quality:       quality,
	})
}

func (b *AssetBackend) Resize(ctx context.Context, asset domain.ImageAsset, opts ResizeOptions) (domain.ImageAsset, error) {
	fit := opts.Fit
	if fit == "" {
		fit = FitStretch
	}
	format := opts.Format
	if !format.Known() {
		format = domain.FormatJPEG
	}
	quality := opts.Quality
	if quality == 0 {
		quality = maxQuality
	}
	return b.run(ctx, asset, "resized", Operation{
		Action:        ActionResize,
		Width:         opts.Width,
		Height:        opts.Height,
		Fit:           fit,
		OnlyScaleDown: opts.OnlyScaleDown,
		Format:        format,
		Quality:       quality,
	})
}

func (b *AssetBackend) Crop(ctx context.Context, asset domain.ImageAsset, rect domain.Rect) (domain.ImageAsset, error) {
	return b.run(ctx, asset, "cropped", Operation{
		Action:  ActionCrop,
		Rect:    rect,
		Quality: maxQuality,
	})
}

func (b *AssetBackend) ConvertFormat(ctx context.Context, asset domain.ImageAsset, format domain.Format) (domain.ImageAsset, error) {
	if !format.Known() {
		return domain.ImageAsset{}, domain.ValidationError("format", "unknown format")
	}
	return b.run(ctx, asset, "converted", Operation{
		Action:        ActionResize,
		Width:         convertBound,
		Height:        convertBound,
		Fit:           FitContain,
		OnlyScaleDown: true,
		Format:        format,
		Quality:       maxQuality,
	})
}

func (b *AssetBackend) Rotate(ctx context.Context, asset domain.ImageAsset, degrees int) (domain.ImageAsset, error) {
	return b.run(ctx, asset, "rotated", Operation{
		Action:  ActionRotate,
		Degrees: degrees,
		Quality: maxQuality,
	})
}

func (b *AssetBackend) RemoveBackground(ctx context.Context, asset domain.ImageAsset, sensitivity int) (domain.ImageAsset, error) {
	return b.run(ctx, asset, "no_bg", Operation{
		Action:      ActionRemoveBackground,
		Sensitivity: sensitivity,
		Format:      domain.FormatPNG,
	})
}

func (b *AssetBackend) Stat(ctx context.Context, uri string) (FileInfo, error) {
	return b.store.Stat(ctx, uri)
}

func (b *AssetBackend) Delete(ctx context.Context, asset domain.ImageAsset) error {
	return b.store.Delete(ctx, asset.URI)
}

func (b *AssetBackend) Read(ctx context.Context, asset domain.ImageAsset) ([]byte, error) {
	return b.store.Read(ctx, asset.URI)
}

// Import stores uploaded bytes as a new asset after probing their header.
func (b *AssetBackend) Import(ctx context.Context, name string, data []byte) (domain.ImageAsset, error) {
	format, dims, err := Probe(data)
	if err != nil {
		return domain.ImageAsset{}, &domain.Error{Kind: domain.KindValidation, Field: "file", Message: "not a decodable image", Err: err}
	}
	if !format.Known() {
		return domain.ImageAsset{}, domain.ValidationError("file", "unsupported image format")
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return b.save(ctx, base, Encoded{Data: data, Format: format, Width: dims.Width, Height: dims.Height})
}

// Describe refreshes size, dimensions and format from the stored bytes. A
// missing file is reported as not found.
func (b *AssetBackend) Describe(ctx context.Context, asset domain.ImageAsset) (domain.ImageAsset, error) {
	info, err := b.store.Stat(ctx, asset.URI)
	if err != nil {
		return domain.ImageAsset{}, err
	}
	if !info.Exists {
		return domain.ImageAsset{}, &domain.Error{Kind: domain.KindNotFound, Field: "uri", Message: "image file does not exist"}
	}
	asset.Size = domain.SizeOf(info.Size)

	data, err := b.store.Read(ctx, asset.URI)
	if err != nil {
		return domain.ImageAsset{}, err
	}
	if format, dims, err := Probe(data); err == nil {
		asset.Format = format
		asset.Dimensions = &dims
	}
	return asset, nil
}

func (b *AssetBackend) run(ctx context.Context, asset domain.ImageAsset, prefix string, op Operation) (domain.ImageAsset, error) {
	input, err := b.store.Read(ctx, asset.URI)
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("read source: %w", err)
	}

	encoded, err := b.codec.Transform(ctx, input, op)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return domain.ImageAsset{}, err
		}
		return domain.ImageAsset{}, fmt.Errorf("%s: %w", op.Action, err)
	}

	return b.save(ctx, prefix, encoded)
}

func (b *AssetBackend) save(ctx context.Context, prefix string, encoded Encoded) (domain.ImageAsset, error) {
	assetID := id.New()
	name := fmt.Sprintf("%s_%s", sanitizePathToken(prefix), assetID[:8])

	uri, err := b.store.Write(ctx, name, encoded.Data, encoded.Format)
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("write output: %w", err)
	}
	if ctx.Err() != nil {
		_ = b.store.Delete(context.WithoutCancel(ctx), uri)
		return domain.ImageAsset{}, errors.Join(ctx.Err(), errors.New("output discarded"))
	}

	asset := domain.ImageAsset{
		ID:        assetID,
		URI:       uri,
		FileName:  fileName(name, encoded.Format),
		Size:      domain.SizeOf(int64(len(encoded.Data))),
		Format:    encoded.Format,
		CreatedAt: b.now().UTC(),
	}
	if encoded.Width > 0 && encoded.Height > 0 {
		asset.Dimensions = &domain.Dimensions{Width: encoded.Width, Height: encoded.Height}
	}
	return asset, nil
}
