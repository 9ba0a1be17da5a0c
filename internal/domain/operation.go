package domain

import (
	"fmt"
	"strings"
)

type OperationType string

const (
	OpResize OperationType = "resize"
	OpCrop   OperationType = "crop"
	OpFormat OperationType = "format"
	OpRotate OperationType = "rotate"
	OpFilter OperationType = "filter"
)

// OperationTypes lists every supported operation in a stable order.
var OperationTypes = []OperationType{OpResize, OpCrop, OpFormat, OpRotate, OpFilter}

// ParseOperationType matches name case-insensitively against the supported operations.
func ParseOperationType(name string) (OperationType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, op := range OperationTypes {
		if string(op) == name {
			return op, true
		}
	}
	return "", false
}

type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

// DefaultFit applies when a resize request leaves fit empty.
const DefaultFit = FitCover

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatTIFF Format = "tiff"
)

type Filter string

const (
	FilterBlur      Filter = "blur"
	FilterSharpen   Filter = "sharpen"
	FilterGrayscale Filter = "grayscale"
)

// Params is the closed set of per-operation parameter variants.
type Params interface {
	Operation() OperationType
	sealed()
}

type ResizeParams struct {
	Width  int `json:"width" validate:"gte=1"`
	Height int `json:"height,omitempty" validate:"omitempty,gte=1"`
	Fit    Fit `json:"fit,omitempty" validate:"omitempty,oneof=cover contain fill inside outside"`
}

// EffectiveFit returns Fit or DefaultFit when unset.
func (p ResizeParams) EffectiveFit() Fit {
	if p.Fit == "" {
		return DefaultFit
	}
	return p.Fit
}

type CropParams struct {
	Left   int `json:"left" validate:"gte=0"`
	Top    int `json:"top" validate:"gte=0"`
	Width  int `json:"width" validate:"gte=1"`
	Height int `json:"height" validate:"gte=1"`
}

type FormatParams struct {
	Format Format `json:"format" validate:"required,oneof=jpeg png webp avif tiff"`
}

type RotateParams struct {
	Angle int `json:"angle" validate:"oneof=90 180 270"`
}

type FilterParams struct {
	Filter Filter  `json:"filter" validate:"required,oneof=blur sharpen grayscale"`
	Sigma  float64 `json:"sigma,omitempty" validate:"omitempty,gt=0"`
}

func (ResizeParams) Operation() OperationType { return OpResize }
func (CropParams) Operation() OperationType   { return OpCrop }
func (FormatParams) Operation() OperationType { return OpFormat }
func (RotateParams) Operation() OperationType { return OpRotate }
func (FilterParams) Operation() OperationType { return OpFilter }

func (ResizeParams) sealed() {}
func (CropParams) sealed()   {}
func (FormatParams) sealed() {}
func (RotateParams) sealed() {}
func (FilterParams) sealed() {}

type PipelineStep struct {
	Type   OperationType `json:"type"`
	Params Params        `json:"params"`
}

// Validate reports a step whose params variant does not belong to its type.
func (s PipelineStep) Validate() error {
	if _, ok := ParseOperationType(string(s.Type)); !ok {
		return &UnknownOperationError{Type: string(s.Type)}
	}
	if s.Params == nil {
		return &ValidationError{Field: "params", Reason: "is required"}
	}
	if s.Params.Operation() != s.Type {
		return &ValidationError{
			Field:  "params",
			Reason: fmt.Sprintf("%s parameters do not match operation %s", s.Params.Operation(), s.Type),
		}
	}
	return nil
}

// Pipeline is an ordered, non-empty sequence of steps.
type Pipeline []PipelineStep

func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return &ValidationError{Field: "operations", Reason: "pipeline must contain at least one step"}
	}
	for i, step := range p {
		if err := step.Validate(); err != nil {
			return &StepError{Index: i + 1, Type: step.Type, Err: err}
		}
	}
	return nil
}

// Types returns the operation type of every step, in order.
func (p Pipeline) Types() []OperationType {
	out := make([]OperationType, 0, len(p))
	for _, step := range p {
		out = append(out, step.Type)
	}
	return out
}
