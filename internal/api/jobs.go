package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/dunamismax/pixelkit/internal/id"
	"github.com/dunamismax/pixelkit/internal/queue"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeFailureStatus(w, http.StatusServiceUnavailable, domain.KindUnsupported, "job queue is not configured")
		return
	}

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeFailure(w, domain.ValidationError("job", err.Error()))
		return
	}

	asset, ok, err := s.assets.GetAsset(r.Context(), strings.TrimSpace(req.AssetID))
	if err != nil {
		writeFailure(w, fmt.Errorf("load asset: %w", err))
		return
	}
	if !ok {
		writeFailure(w, &domain.Error{Kind: domain.KindNotFound, Field: "asset_id", Message: "asset not found"})
		return
	}

	transform, err := s.normalizer.Normalize(req.Transform, asset)
	if err != nil {
		writeFailure(w, err)
		return
	}

	log := s.requestLogger(r)
	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		UserID:     strings.TrimSpace(r.Header.Get(UserIDHeader)),
		AssetID:    asset.ID,
		Status:     domain.JobStatusCreated,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Transform:  transform,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeFailureStatus(w, http.StatusInternalServerError, domain.KindBackendFailure, "failed to create job")
		return
	}

	taskInfo, err := s.queue.EnqueueTransform(r.Context(), queue.TransformPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		Asset:       asset,
		Transform:   transform,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		if _, err := s.jobs.Complete(r.Context(), job.ID, domain.Failed(domain.KindBackendFailure, "failed to enqueue job")); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("mark job failed")
		}
		writeFailureStatus(w, http.StatusInternalServerError, domain.KindBackendFailure, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	log.Info().Str("job_id", job.ID).Str("asset_id", asset.ID).Str("op", string(transform.Op)).Msg("job enqueued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.requestLogger(r).Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeFailureStatus(w, http.StatusInternalServerError, domain.KindBackendFailure, "failed to load job")
		return
	}
	if !ok {
		writeFailure(w, &domain.Error{Kind: domain.KindNotFound, Field: "job_id", Message: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
