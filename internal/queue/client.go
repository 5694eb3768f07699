package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	transformMaxRetry = 3
	transformTimeout  = 5 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueTransform schedules a transform job. The job id doubles as the task
// id, so enqueueing the same job twice is rejected by asynq.
func (c *Client) EnqueueTransform(ctx context.Context, payload TransformPayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(transformMaxRetry),
		asynq.Timeout(transformTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
