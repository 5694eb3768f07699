package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/rs/zerolog"
)

// Library covers the asset lifecycle around transforms: intake, inspection,
// deletion, saving into the gallery album and sharing.
type Library struct {
	assets      *AssetBackend
	gallery     BlobStore
	maxUploadMB int
	logger      zerolog.Logger
}

func NewLibrary(assets *AssetBackend, gallery BlobStore, maxUploadMB int, logger zerolog.Logger) *Library {
	if maxUploadMB <= 0 {
		maxUploadMB = domain.MaxFileSizeMB
	}
	return &Library{
		assets:      assets,
		gallery:     gallery,
		maxUploadMB: maxUploadMB,
		logger:      logger.With().Str("component", "library").Logger(),
	}
}

// Pick imports an uploaded image. A missing file is reported as
// ErrNothingPicked; the name, size and decoded dimensions are validated.
func (l *Library) Pick(ctx context.Context, fileName string, r io.Reader) (domain.ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageAsset{}, &domain.Error{Kind: domain.KindCancelled, Message: "image selection was cancelled", Err: err}
	}
	fileName = strings.TrimSpace(fileName)
	if r == nil || fileName == "" {
		return domain.ImageAsset{}, domain.ErrNothingPicked
	}
	if !domain.IsValidImageFormat(fileName) {
		return domain.ImageAsset{}, domain.ValidationError("file",
			fmt.Sprintf("unsupported image format %q", filepath.Ext(fileName)))
	}

	limit := int64(l.maxUploadMB) * 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return domain.ImageAsset{}, domain.ErrNothingPicked
	}
	if !domain.IsValidFileSize(int64(len(data)), l.maxUploadMB) {
		return domain.ImageAsset{}, domain.ValidationError("file",
			fmt.Sprintf("file exceeds %d MB", l.maxUploadMB))
	}

	_, dims, err := Probe(data)
	if err != nil {
		return domain.ImageAsset{}, &domain.Error{Kind: domain.KindValidation, Field: "file", Message: "not a decodable image", Err: err}
	}
	if !domain.IsValidDimensions(dims.Width, dims.Height, 0, 0) {
		return domain.ImageAsset{}, domain.ValidationError("file",
			fmt.Sprintf("dimensions %dx%d exceed %dx%d", dims.Width, dims.Height, domain.MaxDimension, domain.MaxDimension))
	}

	asset, err := l.assets.Import(ctx, fileName, data)
	if err != nil {
		return domain.ImageAsset{}, err
	}
	l.logger.Info().
		Str("asset_id", asset.ID).
		Str("file_name", fileName).
		Str("size", domain.FormatFileSize(int64(len(data)))).
		Msg("image picked")
	return asset, nil
}

// Info re-reads size, dimensions and format for an asset.
func (l *Library) Info(ctx context.Context, asset domain.ImageAsset) (domain.ImageAsset, error) {
	return l.assets.Describe(ctx, asset)
}

func (l *Library) Delete(ctx context.Context, asset domain.ImageAsset) error {
	if err := l.assets.Delete(ctx, asset); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	l.logger.Info().Str("asset_id", asset.ID).Msg("image deleted")
	return nil
}

// SaveToGallery copies an asset into the gallery album. saveAs defaults to
// the asset's own name.
func (l *Library) SaveToGallery(ctx context.Context, asset domain.ImageAsset, saveAs string) (domain.ImageAsset, error) {
	if l.gallery == nil {
		return domain.ImageAsset{}, &domain.Error{Kind: domain.KindUnsupported, Message: "no gallery is configured"}
	}
	name := strings.TrimSpace(saveAs)
	if name == "" {
		name = asset.FileName
	}
	format := asset.Format
	if !format.Known() {
		format = domain.FormatFromFileName(name)
	}

	var (
		uri string
		err error
	)
	src, srcIsObject := l.assets.Store().(ObjectBlobStore)
	dst, dstIsObject := l.gallery.(ObjectBlobStore)
	if srcIsObject && dstIsObject {
		uri, err = src.CopyTo(ctx, asset.URI, dst, name, format)
	} else {
		var data []byte
		if data, err = l.assets.Read(ctx, asset); err == nil {
			uri, err = l.gallery.Write(ctx, name, data, format)
		}
	}
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("save to gallery: %w", err)
	}

	saved := asset
	saved.URI = uri
	saved.FileName = fileName(name, format)
	l.logger.Info().Str("asset_id", asset.ID).Str("uri", uri).Msg("image saved to gallery")
	return saved, nil
}

// Share returns a URL the asset can be fetched from.
func (l *Library) Share(ctx context.Context, asset domain.ImageAsset) (string, error) {
	info, err := l.assets.Stat(ctx, asset.URI)
	if err != nil {
		return "", err
	}
	if !info.Exists {
		return "", &domain.Error{Kind: domain.KindNotFound, Field: "uri", Message: "image file does not exist"}
	}
	u, err := l.assets.Store().ShareURL(ctx, asset.URI)
	if err != nil {
		return "", fmt.Errorf("share image: %w", err)
	}
	return u, nil
}
