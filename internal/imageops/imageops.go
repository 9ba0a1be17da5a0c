// Package imageops holds the closed set of image operations and the registry
// that resolves an operation type to its implementation.
package imageops

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelgate/internal/domain"
)

// Backend performs the pixel work. Every method returns a freshly encoded
// buffer and must not write into its input.
type Backend interface {
	Resize(ctx context.Context, buf []byte, p domain.ResizeParams) ([]byte, error)
	Crop(ctx context.Context, buf []byte, p domain.CropParams) ([]byte, error)
	Convert(ctx context.Context, buf []byte, format domain.Format) ([]byte, error)
	Rotate(ctx context.Context, buf []byte, angle int) ([]byte, error)
	Filter(ctx context.Context, buf []byte, p domain.FilterParams) ([]byte, error)
}

type Operation interface {
	Type() domain.OperationType
	Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error)
}

// Resolver looks up the operation for a type.
type Resolver interface {
	Resolve(op domain.OperationType) (Operation, error)
}

// Registry is a fixed table of the five supported operations. It is never
// modified after NewRegistry returns.
type Registry struct {
	ops map[domain.OperationType]Operation
}

func NewRegistry(backend Backend) *Registry {
	return &Registry{ops: map[domain.OperationType]Operation{
		domain.OpResize: resizeOp{backend: backend},
		domain.OpCrop:   cropOp{backend: backend},
		domain.OpFormat: formatOp{backend: backend},
		domain.OpRotate: rotateOp{backend: backend},
		domain.OpFilter: filterOp{backend: backend},
	}}
}

func (r *Registry) Resolve(op domain.OperationType) (Operation, error) {
	impl, ok := r.ops[op]
	if !ok {
		return nil, &domain.UnknownOperationError{Type: string(op)}
	}
	return impl, nil
}

type resizeOp struct{ backend Backend }

func (resizeOp) Type() domain.OperationType { return domain.OpResize }

func (o resizeOp) Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error) {
	p, ok := params.(domain.ResizeParams)
	if !ok {
		return nil, mismatch(domain.OpResize, params)
	}
	out, err := o.backend.Resize(ctx, buf, p)
	return processed(domain.OpResize, out, err)
}

type cropOp struct{ backend Backend }

func (cropOp) Type() domain.OperationType { return domain.OpCrop }

func (o cropOp) Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error) {
	p, ok := params.(domain.CropParams)
	if !ok {
		return nil, mismatch(domain.OpCrop, params)
	}
	out, err := o.backend.Crop(ctx, buf, p)
	return processed(domain.OpCrop, out, err)
}

type formatOp struct{ backend Backend }

func (formatOp) Type() domain.OperationType { return domain.OpFormat }

func (o formatOp) Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error) {
	p, ok := params.(domain.FormatParams)
	if !ok {
		return nil, mismatch(domain.OpFormat, params)
	}
	out, err := o.backend.Convert(ctx, buf, p.Format)
	return processed(domain.OpFormat, out, err)
}

type rotateOp struct{ backend Backend }

func (rotateOp) Type() domain.OperationType { return domain.OpRotate }

func (o rotateOp) Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error) {
	p, ok := params.(domain.RotateParams)
	if !ok {
		return nil, mismatch(domain.OpRotate, params)
	}
	out, err := o.backend.Rotate(ctx, buf, p.Angle)
	return processed(domain.OpRotate, out, err)
}

type filterOp struct{ backend Backend }

func (filterOp) Type() domain.OperationType { return domain.OpFilter }

func (o filterOp) Execute(ctx context.Context, buf []byte, params domain.Params) ([]byte, error) {
	p, ok := params.(domain.FilterParams)
	if !ok {
		return nil, mismatch(domain.OpFilter, params)
	}
	out, err := o.backend.Filter(ctx, buf, p)
	return processed(domain.OpFilter, out, err)
}

func mismatch(op domain.OperationType, params domain.Params) error {
	got := "none"
	if params != nil {
		got = string(params.Operation())
	}
	return &domain.ValidationError{
		Field:  "params",
		Reason: fmt.Sprintf("%s parameters do not match operation %s", got, op),
	}
}

// processed normalises backend failures into ProcessingError and never
// returns a partial buffer alongside an error.
func processed(op domain.OperationType, out []byte, err error) ([]byte, error) {
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	var processingErr *domain.ProcessingError
	if errors.As(err, &processingErr) {
		return nil, err
	}
	return nil, &domain.ProcessingError{Op: op, Err: err}
}
