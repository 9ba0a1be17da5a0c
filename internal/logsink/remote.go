package logsink

import (
	"context"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

type Enqueuer interface {
	EnqueueRequestLog(ctx context.Context, entry domain.LogEntry) (*asynq.TaskInfo, error)
}

// Queue defers persistence to the log worker through asynq.
type Queue struct {
	client Enqueuer
}

func NewQueue(client Enqueuer) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Append(ctx context.Context, entry domain.LogEntry) error {
	_, err := q.client.EnqueueRequestLog(ctx, entry)
	return wrap("enqueue request log", err)
}

type Sender interface {
	Send(ctx context.Context, event string, payload any) error
}

// Webhook posts each entry as a signed request.logged event.
type Webhook struct {
	sender Sender
}

func NewWebhook(sender Sender) *Webhook {
	return &Webhook{sender: sender}
}

func (w *Webhook) Append(ctx context.Context, entry domain.LogEntry) error {
	return wrap("deliver request log", w.sender.Send(ctx, webhook.EventRequestLogged, entry))
}

// Logrus writes entries through a structured logger.
type Logrus struct {
	logger logrus.FieldLogger
}

func NewLogrus(logger logrus.FieldLogger) *Logrus {
	return &Logrus{logger: logger}
}

func (l *Logrus) Append(_ context.Context, entry domain.LogEntry) error {
	fields := l.logger.WithFields(logrus.Fields{
		"request_id":  entry.RequestID,
		"user":        entry.User,
		"endpoint":    entry.Endpoint,
		"duration_ms": entry.DurationMS,
		"result":      entry.Result,
	})
	if entry.Result == domain.ResultError {
		fields.WithField("error", entry.Message).Error("image request failed")
		return nil
	}
	fields.Info("image request processed")
	return nil
}
