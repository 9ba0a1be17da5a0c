// Package chain composes cross-cutting request stages around the core image
// handlers. Every stage satisfies the same Handler contract.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	Handle(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
	return f(ctx, rc, buf)
}

// Stage wraps a Handler with one cross-cutting behaviour.
type Stage func(Handler) Handler

// Chain wraps core with stages. The first stage is the outermost.
func Chain(core Handler, stages ...Stage) Handler {
	h := core
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (domain.Identity, error)
}

func Authenticate(verifier TokenVerifier) Stage {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
			if rc.Token == "" {
				return nil, &domain.UnauthorizedError{Reason: "missing token"}
			}
			identity, err := verifier.VerifyToken(ctx, rc.Token)
			if err != nil {
				return nil, &domain.UnauthorizedError{Reason: "invalid token"}
			}
			if err := rc.AttachIdentity(identity); err != nil {
				return nil, err
			}
			return next.Handle(ctx, rc, buf)
		})
	}
}

type LogSink interface {
	Append(ctx context.Context, entry domain.LogEntry) error
}

// Logging records exactly one entry per request. Sink failures are reported
// through logger and never change the returned result.
func Logging(sink LogSink, logger logrus.FieldLogger) Stage {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
			startedAt := time.Now()
			out, err := next.Handle(ctx, rc, buf)

			entry := domain.LogEntry{
				Timestamp:  startedAt.UTC(),
				Level:      domain.LogLevelInfo,
				RequestID:  rc.RequestID,
				Endpoint:   rc.Endpoint,
				Params:     rc.Params,
				DurationMS: time.Since(startedAt).Milliseconds(),
				Result:     domain.ResultSuccess,
			}
			if identity, ok := rc.Identity(); ok {
				entry.User = identity.Email
			}
			if err != nil {
				entry.Level = domain.LogLevelError
				entry.Result = domain.ResultError
				entry.Message = err.Error()
			}

			// The request context may already be cancelled; the entry is
			// still written.
			if sinkErr := sink.Append(context.WithoutCancel(ctx), entry); sinkErr != nil {
				logger.WithFields(logrus.Fields{
					"request_id": rc.RequestID,
					"endpoint":   rc.Endpoint,
				}).WithError(sinkErr).Warn("write request log entry")
			}
			return out, err
		})
	}
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Archive copies each successful result into object storage under prefix.
// Upload failures are logged and the result is returned unchanged.
func Archive(store ObjectWriter, prefix string, logger logrus.FieldLogger) Stage {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
			out, err := next.Handle(ctx, rc, buf)
			if err != nil {
				return nil, err
			}

			info := imageops.Describe(out)
			key := ArchiveKey(prefix, rc, info.Extension, time.Now())
			if writeErr := store.WriteObject(context.WithoutCancel(ctx), key, out, info.MIME); writeErr != nil {
				logger.WithFields(logrus.Fields{
					"request_id": rc.RequestID,
					"object_key": key,
				}).WithError(&domain.StorageError{Op: "archive", Err: writeErr}).Warn("archive processed image")
			}
			return out, nil
		})
	}
}

// ArchiveKey builds <prefix>/<user>/<yyyy>/<mm>/<dd>/<request>-<endpoint>.<ext>.
func ArchiveKey(prefix string, rc *RequestContext, ext string, now time.Time) string {
	user := "anonymous"
	if identity, ok := rc.Identity(); ok && identity.UserID != "" {
		user = identity.UserID
	}
	if ext == "" {
		ext = "bin"
	}
	key := fmt.Sprintf("%s/%s/%s-%s.%s", user, now.UTC().Format("2006/01/02"), rc.RequestID, rc.Endpoint, ext)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

type StepApplier interface {
	Apply(ctx context.Context, step domain.PipelineStep, buf []byte) (pipeline.Result, error)
}

type PipelineRunner interface {
	Execute(ctx context.Context, p domain.Pipeline, buf []byte) (pipeline.Result, error)
}

// OperationHandler runs the single operation op with the params carried in
// the request context.
func OperationHandler(exec StepApplier, op domain.OperationType) Handler {
	return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
		params, ok := rc.Params.(domain.Params)
		if !ok {
			return nil, &domain.ValidationError{Field: "params", Reason: fmt.Sprintf("missing %s parameters", op)}
		}
		result, err := exec.Apply(ctx, domain.PipelineStep{Type: op, Params: params}, buf)
		if err != nil {
			return nil, err
		}
		return result.Data, nil
	})
}

func PipelineHandler(exec PipelineRunner) Handler {
	return HandlerFunc(func(ctx context.Context, rc *RequestContext, buf []byte) ([]byte, error) {
		p, ok := rc.Params.(domain.Pipeline)
		if !ok {
			return nil, &domain.ValidationError{Field: "operations", Reason: "is required"}
		}
		result, err := exec.Execute(ctx, p, buf)
		if err != nil {
			return nil, err
		}
		return result.Data, nil
	})
}
