package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// CreateJobRequest asks for a transform to run on the worker instead of
// inline with the HTTP request.
type CreateJobRequest struct {
	AssetID    string     `json:"asset_id"`
	WebhookURL string     `json:"webhook_url,omitempty"`
	Transform  RawRequest `json:"transform"`
}

type Job struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id,omitempty"`
	AssetID    string           `json:"asset_id"`
	Status     string           `json:"status"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Transform  TransformRequest `json:"transform"`
	Result     *Result          `json:"result,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.AssetID) == "" {
		return errors.New("asset_id is required")
	}
	if strings.TrimSpace(r.Transform.Op) == "" {
		return errors.New("transform.op is required")
	}
	if url := strings.TrimSpace(r.WebhookURL); url != "" &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errors.New("webhook_url must be an http(s) URL")
	}
	return nil
}

// StatusForResult maps a finished transform to its terminal job status.
func StatusForResult(res Result) string {
	if res.OK() {
		return JobStatusSucceeded
	}
	return JobStatusFailed
}
