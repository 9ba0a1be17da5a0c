// Package worker consumes request log entries queued by the API and
// persists them to the configured sinks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Sink interface {
	Append(ctx context.Context, entry domain.LogEntry) error
}

type Server struct {
	logger  logrus.FieldLogger
	server  *asynq.Server
	sink    Sink
	metrics *metrics
	tracer  trace.Tracer
}

func NewServer(
	logger logrus.FieldLogger,
	redisCfg config.RedisConfig,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	sink Sink,
) (*Server, error) {
	if sink == nil {
		return nil, errors.New("log sink is required")
	}
	if redisCfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := &Server{
		logger:  logger,
		sink:    sink,
		metrics: newMetrics(),
		tracer:  otel.Tracer("pixelgate/worker"),
	}
	s.server = asynq.NewServer(
		redisCfg.ClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retry":     retried,
					"max_retry": maxRetry,
				}).WithError(err).Warn("task failed")
			}),
		},
	)
	return s, nil
}

// Start begins consuming without blocking. Stop it with Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRequestLog, s.handleRequestLog)
	return mux
}

func (s *Server) handleRequestLog(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseRequestLogPayload(task)
	if err != nil {
		s.metrics.entriesTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	entry := payload.Entry

	ctx, span := s.tracer.Start(ctx, "worker.persist_request_log", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("pixelgate.request_id", entry.RequestID),
		attribute.String("pixelgate.endpoint", entry.Endpoint),
		attribute.String("pixelgate.result", entry.Result),
	)
	defer span.End()
	defer func() {
		s.metrics.persistDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.entriesTotal.WithLabelValues(entry.Endpoint, outcome).Inc()
	}()

	if !payload.EnqueuedAt.IsZero() {
		s.metrics.queueLag.Observe(startedAt.Sub(payload.EnqueuedAt).Seconds())
	}

	if err := s.sink.Append(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.logger.WithFields(logrus.Fields{
			"request_id": entry.RequestID,
			"endpoint":   entry.Endpoint,
		}).WithError(err).Warn("persist request log entry")
		return fmt.Errorf("persist request log: %w", err)
	}

	outcome = "persisted"
	span.SetStatus(codes.Ok, "persisted")
	s.logger.WithFields(logrus.Fields{
		"request_id": entry.RequestID,
		"endpoint":   entry.Endpoint,
		"result":     entry.Result,
	}).Debug("request log entry persisted")
	return nil
}
