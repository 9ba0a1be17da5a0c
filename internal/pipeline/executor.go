// Package pipeline runs validated operation steps over an image buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type StepOutput struct {
	Index    int
	Type     domain.OperationType
	Bytes    int
	Duration time.Duration
}

type Result struct {
	Data  []byte
	Info  imageops.Info
	Steps []StepOutput
}

type Executor struct {
	resolver imageops.Resolver
	metrics  *metrics
	tracer   trace.Tracer
}

type Option func(*Executor)

// WithMetrics registers step counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		e.metrics = newMetrics(reg)
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func NewExecutor(resolver imageops.Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver: resolver,
		tracer:   otel.Tracer("pixelgate/pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs steps strictly in order, feeding each output into the next
// step. The first failure stops the run and is returned as a *domain.StepError.
func (e *Executor) Execute(ctx context.Context, p domain.Pipeline, buf []byte) (Result, error) {
	if len(p) == 0 {
		return Result{}, &domain.ValidationError{Field: "operations", Reason: "pipeline must contain at least one step"}
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.execute")
	span.SetAttributes(attribute.Int("pipeline.steps", len(p)))
	defer span.End()

	out := Result{Steps: make([]StepOutput, 0, len(p))}
	current := buf
	for i, step := range p {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		next, stepOut, err := e.run(ctx, i+1, step, current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline step failed")
			return Result{}, &domain.StepError{Index: i + 1, Type: step.Type, Err: err}
		}
		out.Steps = append(out.Steps, stepOut)
		current = next
	}

	out.Data = current
	out.Info = imageops.Describe(current)
	return out, nil
}

// Apply runs a single step. Errors are returned without a step index.
func (e *Executor) Apply(ctx context.Context, step domain.PipelineStep, buf []byte) (Result, error) {
	data, stepOut, err := e.run(ctx, 1, step, buf)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data, Info: imageops.Describe(data), Steps: []StepOutput{stepOut}}, nil
}

func (e *Executor) run(ctx context.Context, index int, step domain.PipelineStep, buf []byte) ([]byte, StepOutput, error) {
	startedAt := time.Now()
	status := "success"

	ctx, span := e.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.Int("step.index", index),
		attribute.String("step.type", string(step.Type)),
		attribute.Int("step.input_bytes", len(buf)),
	))
	defer span.End()
	defer func() {
		e.metrics.observe(step.Type, status, time.Since(startedAt))
	}()

	data, err := e.apply(ctx, step, buf)
	if err != nil {
		status = statusFor(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, StepOutput{}, err
	}

	span.SetAttributes(attribute.Int("step.output_bytes", len(data)))
	return data, StepOutput{
		Index:    index,
		Type:     step.Type,
		Bytes:    len(data),
		Duration: time.Since(startedAt),
	}, nil
}

// apply converts a panicking backend into a ProcessingError for the step.
func (e *Executor) apply(ctx context.Context, step domain.PipelineStep, buf []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &domain.ProcessingError{Op: step.Type, Err: fmt.Errorf("backend panic: %v", r)}
		}
	}()

	if err := step.Validate(); err != nil {
		return nil, err
	}
	op, err := e.resolver.Resolve(step.Type)
	if err != nil {
		return nil, err
	}
	return op.Execute(ctx, buf, step.Params)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case domain.KindOf(err) == domain.KindValidation:
		return "invalid"
	default:
		return "failed"
	}
}
