package queue

import (
	"context"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/hibiken/asynq"
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

// EnqueueRequestLog hands entry to the log worker.
func (c *Client) EnqueueRequestLog(ctx context.Context, entry domain.LogEntry) (*asynq.TaskInfo, error) {
	task, err := NewRequestLogTask(RequestLogPayload{Entry: entry, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Retention(time.Hour),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
