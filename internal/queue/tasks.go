package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransformImage = "image:transform"

// TransformPayload carries everything the worker needs, so it never reads
// the API's asset store.
type TransformPayload struct {
	JobID       string                  `json:"job_id"`
	UserID      string                  `json:"user_id,omitempty"`
	Asset       domain.ImageAsset       `json:"asset"`
	Transform   domain.TransformRequest `json:"transform"`
	WebhookURL  string                  `json:"webhook_url,omitempty"`
	RequestedAt time.Time               `json:"requested_at"`
}

func (p TransformPayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("job_id is required")
	}
	if err := p.Asset.Validate(); err != nil {
		return err
	}
	if !p.Transform.Op.Known() {
		return fmt.Errorf("unknown transform op %q", p.Transform.Op)
	}
	return nil
}

func NewTransformTask(payload TransformPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformImage, body), nil
}

func ParseTransformPayload(task *asynq.Task) (TransformPayload, error) {
	var payload TransformPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return TransformPayload{}, fmt.Errorf("invalid transform payload: %w", err)
	}
	return payload, nil
}
