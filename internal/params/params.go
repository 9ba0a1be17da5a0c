// Package params turns untrusted request input into typed, range-checked
// operation parameters.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// MaxNumber caps every numeric parameter so that it converts to int safely.
const MaxNumber = math.MaxInt32

// MaxSigma caps blur and sharpen strength.
const MaxSigma = 1000

type numberRule struct {
	required bool
	integer  bool
	min      float64
	// exclusive makes min a strict lower bound.
	exclusive bool
	// max defaults to MaxNumber when zero.
	max float64
}

func Resize(raw map[string]any) (domain.ResizeParams, error) {
	var out domain.ResizeParams
	width, _, err := number(raw, "width", numberRule{required: true, integer: true, min: 1})
	if err != nil {
		return domain.ResizeParams{}, err
	}
	height, _, err := number(raw, "height", numberRule{integer: true, min: 1})
	if err != nil {
		return domain.ResizeParams{}, err
	}
	fit, _, err := enum(raw, "fit", false, domain.FitCover, domain.FitContain, domain.FitFill, domain.FitInside, domain.FitOutside)
	if err != nil {
		return domain.ResizeParams{}, err
	}
	out.Width = int(width)
	out.Height = int(height)
	out.Fit = fit
	return out, check(out)
}

func Crop(raw map[string]any) (domain.CropParams, error) {
	var vals [4]float64
	rules := []struct {
		name string
		min  float64
	}{{"left", 0}, {"top", 0}, {"width", 1}, {"height", 1}}
	for i, rule := range rules {
		v, _, err := number(raw, rule.name, numberRule{required: true, integer: true, min: rule.min})
		if err != nil {
			return domain.CropParams{}, err
		}
		vals[i] = v
	}
	out := domain.CropParams{Left: int(vals[0]), Top: int(vals[1]), Width: int(vals[2]), Height: int(vals[3])}
	return out, check(out)
}

func Format(raw map[string]any) (domain.FormatParams, error) {
	format, _, err := enum(raw, "format", true, domain.FormatJPEG, domain.FormatPNG, domain.FormatWebP, domain.FormatAVIF, domain.FormatTIFF)
	if err != nil {
		return domain.FormatParams{}, err
	}
	out := domain.FormatParams{Format: format}
	return out, check(out)
}

func Rotate(raw map[string]any) (domain.RotateParams, error) {
	angle, _, err := number(raw, "angle", numberRule{required: true, integer: true})
	if err != nil {
		return domain.RotateParams{}, err
	}
	switch angle {
	case 90, 180, 270:
	default:
		return domain.RotateParams{}, invalid("angle", "must be one of 90, 180, 270")
	}
	out := domain.RotateParams{Angle: int(angle)}
	return out, check(out)
}

func Filter(raw map[string]any) (domain.FilterParams, error) {
	filter, _, err := enum(raw, "filter", true, domain.FilterBlur, domain.FilterSharpen, domain.FilterGrayscale)
	if err != nil {
		return domain.FilterParams{}, err
	}
	sigma, _, err := number(raw, "sigma", numberRule{min: 0, exclusive: true, max: MaxSigma})
	if err != nil {
		return domain.FilterParams{}, err
	}
	out := domain.FilterParams{Filter: filter, Sigma: sigma}
	return out, check(out)
}

// ForType validates raw against the parameter shape of op.
func ForType(op domain.OperationType, raw map[string]any) (domain.Params, error) {
	switch op {
	case domain.OpResize:
		return Resize(raw)
	case domain.OpCrop:
		return Crop(raw)
	case domain.OpFormat:
		return Format(raw)
	case domain.OpRotate:
		return Rotate(raw)
	case domain.OpFilter:
		return Filter(raw)
	default:
		return nil, &domain.UnknownOperationError{Type: string(op)}
	}
}

// Step builds a single validated pipeline step from a type name and raw params.
func Step(typeName string, raw map[string]any) (domain.PipelineStep, error) {
	op, ok := domain.ParseOperationType(typeName)
	if !ok {
		return domain.PipelineStep{}, &domain.UnknownOperationError{Type: typeName}
	}
	p, err := ForType(op, raw)
	if err != nil {
		return domain.PipelineStep{}, err
	}
	step := domain.PipelineStep{Type: op, Params: p}
	return step, step.Validate()
}

// Pipeline accepts a JSON array string, []any or []map[string]any of
// {type, params} objects. Element failures carry the 1-based step index.
func Pipeline(raw any) (domain.Pipeline, error) {
	items, err := pipelineItems(raw)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invalid("operations", "pipeline must contain at least one step")
	}

	out := make(domain.Pipeline, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &domain.StepError{Index: i + 1, Err: invalid("operations", "each step must be an object")}
		}
		typeName, _ := obj["type"].(string)
		stepParams, err := paramsObject(obj["params"])
		if err != nil {
			return nil, &domain.StepError{Index: i + 1, Type: domain.OperationType(typeName), Err: err}
		}
		step, err := Step(typeName, stepParams)
		if err != nil {
			return nil, &domain.StepError{Index: i + 1, Type: domain.OperationType(typeName), Err: err}
		}
		out = append(out, step)
	}
	return out, nil
}

func pipelineItems(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, invalid("operations", "is required")
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, invalid("operations", "is required")
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		var items []any
		if err := dec.Decode(&items); err != nil {
			return nil, invalid("operations", "must be a JSON array of steps")
		}
		return items, nil
	case []byte:
		return pipelineItems(string(v))
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	default:
		return nil, invalid("operations", "must be an array of steps")
	}
}

func paramsObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, invalid("params", "must be an object")
	}
}

func number(raw map[string]any, field string, rule numberRule) (float64, bool, error) {
	v, ok := raw[field]
	if ok {
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			ok = false
		}
	}
	if !ok || v == nil {
		if rule.required {
			return 0, false, invalid(field, "is required")
		}
		return 0, false, nil
	}
	if _, isBool := v.(bool); isBool {
		return 0, true, invalid(field, "must be a number")
	}
	if s, isString := v.(string); isString {
		v = strings.TrimSpace(s)
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, true, invalid(field, "must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, invalid(field, "must be finite")
	}
	if rule.integer && f != math.Trunc(f) {
		return 0, true, invalid(field, "must be an integer")
	}
	if rule.exclusive && f <= rule.min {
		return 0, true, invalid(field, fmt.Sprintf("must be greater than %g", rule.min))
	}
	if !rule.exclusive && f < rule.min {
		return 0, true, invalid(field, fmt.Sprintf("must be at least %g", rule.min))
	}
	upper := rule.max
	if upper == 0 {
		upper = MaxNumber
	}
	if f > upper {
		return 0, true, invalid(field, "must be at most "+strconv.FormatFloat(upper, 'f', -1, 64))
	}
	return f, true, nil
}

func enum[T ~string](raw map[string]any, field string, required bool, allowed ...T) (T, bool, error) {
	var zero T
	v, ok := raw[field]
	if !ok || v == nil {
		if required {
			return zero, false, invalid(field, "is required")
		}
		return zero, false, nil
	}
	s, isString := v.(string)
	if !isString {
		return zero, true, invalid(field, "must be a string")
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" && !required {
		return zero, false, nil
	}
	names := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if string(a) == s {
			return a, true, nil
		}
		names = append(names, string(a))
	}
	return zero, true, invalid(field, "must be one of "+strings.Join(names, ", "))
}

// check runs the struct tags as the final declarative range check.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return invalid(fe.Field(), fmt.Sprintf("failed %s constraint", fe.Tag()))
	}
	return fmt.Errorf("validate params: %w", err)
}

func invalid(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}
