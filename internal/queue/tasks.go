package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/hibiken/asynq"
)

// TypeRequestLog carries one request log entry to the log worker.
const TypeRequestLog = "log:request"

type RequestLogPayload struct {
	Entry      domain.LogEntry `json:"entry"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewRequestLogTask(payload RequestLogPayload) (*asynq.Task, error) {
	if payload.Entry.Endpoint == "" {
		return nil, errors.New("log entry endpoint is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request log payload: %w", err)
	}
	return asynq.NewTask(TypeRequestLog, body), nil
}

func ParseRequestLogPayload(task *asynq.Task) (RequestLogPayload, error) {
	var payload RequestLogPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RequestLogPayload{}, fmt.Errorf("unmarshal request log payload: %w", err)
	}
	return payload, nil
}
