package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/session"
	"github.com/go-chi/chi/v5"
)

// opProcess labels multi-step runs in the session tracker.
const opProcess domain.Op = "process"

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.maxUploadMB+1) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, domain.ValidationError("file", fmt.Sprintf("file exceeds %d MB", s.maxUploadMB)))
			return
		}
		writeFailure(w, domain.ValidationError("file", fmt.Sprintf("invalid multipart form: %v", err)))
		return
	}

	var asset domain.ImageAsset
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart):
		_, err = s.library.Pick(r.Context(), "", nil)
	case err != nil:
		err = domain.ValidationError("file", err.Error())
	default:
		defer file.Close()
		asset, err = s.library.Pick(r.Context(), header.Filename, file)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	if err := s.assets.SaveAsset(r.Context(), asset); err != nil {
		s.requestLogger(r).Error().Err(err).Str("asset_id", asset.ID).Msg("asset save failed")
		s.discardPicked(r, asset)
		writeFailure(w, fmt.Errorf("save asset: %w", err))
		return
	}

	s.requestLogger(r).Info().Str("asset_id", asset.ID).Str("file_name", asset.FileName).Msg("image picked")
	writeResult(w, http.StatusCreated, domain.Succeeded(asset))
}

func (s *Server) discardPicked(r *http.Request, asset domain.ImageAsset) {
	if err := s.library.Delete(r.Context(), asset); err != nil {
		s.requestLogger(r).Warn().Err(err).Str("asset_id", asset.ID).Msg("delete orphaned upload")
	}
}

func (s *Server) loadAsset(w http.ResponseWriter, r *http.Request) (domain.ImageAsset, bool) {
	assetID := chi.URLParam(r, "assetID")
	asset, ok, err := s.assets.GetAsset(r.Context(), assetID)
	if err != nil {
		s.requestLogger(r).Error().Err(err).Str("asset_id", assetID).Msg("asset lookup failed")
		writeFailure(w, fmt.Errorf("load asset: %w", err))
		return domain.ImageAsset{}, false
	}
	if !ok {
		writeFailure(w, &domain.Error{Kind: domain.KindNotFound, Field: "asset_id", Message: "asset not found"})
		return domain.ImageAsset{}, false
	}
	return asset, true
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	info, err := s.library.Info(r.Context(), asset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.assets.SaveAsset(r.Context(), info); err != nil {
		s.requestLogger(r).Warn().Err(err).Str("asset_id", info.ID).Msg("refresh asset metadata")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asset":      info,
		"size_label": sizeLabel(info),
	})
}

func sizeLabel(asset domain.ImageAsset) string {
	size, ok := asset.SizeBytes()
	if !ok {
		return ""
	}
	return domain.FormatFileSize(size)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	s.tracker.Forget(asset.ID)
	if err := s.library.Delete(r.Context(), asset); err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.assets.DeleteAsset(r.Context(), asset.ID); err != nil {
		s.requestLogger(r).Warn().Err(err).Str("asset_id", asset.ID).Msg("asset record delete failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransform runs one transform synchronously. A newer transform on the
// same asset supersedes this one; a superseded output is deleted and the
// caller receives a cancelled failure.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	var raw domain.RawRequest
	if err := decodeJSON(r, &raw); err != nil {
		writeFailure(w, err)
		return
	}
	req, err := s.normalizer.Normalize(raw, asset)
	if err != nil {
		writeFailure(w, err)
		return
	}

	runCtx, ticket := s.tracker.Begin(r.Context(), asset.ID, req.Op)
	res := s.processor.Apply(runCtx, asset, req)
	writeResult(w, http.StatusOK, s.publish(r, ticket, res))
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	var opts domain.ProcessOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeFailure(w, err)
		return
	}

	runCtx, ticket := s.tracker.Begin(r.Context(), asset.ID, opProcess)
	res := s.processor.Process(runCtx, asset, opts)
	writeResult(w, http.StatusOK, s.publish(r, ticket, res))
}

// publish records a successful output and then publishes res for ticket.
// When a newer run has superseded the ticket, the output and its record are
// deleted and the caller receives a cancelled failure instead.
func (s *Server) publish(r *http.Request, ticket session.Ticket, res domain.Result) domain.Result {
	log := s.requestLogger(r)
	if !s.tracker.Current(ticket) {
		if res.OK() {
			s.processor.Discard(*res.Asset)
		}
		log.Info().Str("asset_id", ticket.AssetID).Uint64("generation", ticket.Generation).Msg("transform superseded")
		return domain.FailureFrom(domain.ErrSuperseded)
	}
	if res.OK() {
		if err := s.assets.SaveAsset(r.Context(), *res.Asset); err != nil {
			log.Error().Err(err).Str("asset_id", res.Asset.ID).Msg("output asset save failed")
			s.processor.Discard(*res.Asset)
			res = domain.FailureFrom(fmt.Errorf("save output asset: %w", err))
		}
	}

	if s.tracker.Finish(ticket, res) {
		return res
	}

	if res.OK() {
		if err := s.assets.DeleteAsset(r.Context(), res.Asset.ID); err != nil {
			log.Warn().Err(err).Str("asset_id", res.Asset.ID).Msg("superseded asset record delete failed")
		}
		s.processor.Discard(*res.Asset)
	}
	log.Info().Str("asset_id", ticket.AssetID).Uint64("generation", ticket.Generation).Msg("transform superseded")
	return domain.FailureFrom(domain.ErrSuperseded)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.State(chi.URLParam(r, "assetID")))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	s.tracker.Reset(assetID)
	writeJSON(w, http.StatusOK, s.tracker.State(assetID))
}

type saveRequest struct {
	FileName string `json:"file_name"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	var req saveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
	}

	saved, err := s.library.SaveToGallery(r.Context(), asset, req.FileName)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, domain.Succeeded(saved))
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.loadAsset(w, r)
	if !ok {
		return
	}

	url, err := s.library.Share(r.Context(), asset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": asset.ID, "url": url})
}
