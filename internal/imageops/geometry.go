package imageops

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/pixelgate/internal/domain"
)

var (
	ErrCropOutOfBounds   = errors.New("crop rectangle exceeds image bounds")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidDimensions = errors.New("source image has invalid dimensions")
	ErrOutputTooLarge    = errors.New("output image exceeds size limit")
)

// DefaultSigma is used for blur and sharpen when no sigma was supplied.
const DefaultSigma = 1.0

// DefaultJPEGQuality applies to every lossy JPEG encode.
const DefaultJPEGQuality = 80

// MaxOutputPixels bounds every intermediate and final resize canvas.
const MaxOutputPixels = 64 << 20

// resizePlan describes how to scale a srcW x srcH image: scale to
// (scaleW, scaleH), then crop (cover) or pad (contain) to (boxW, boxH).
type resizePlan struct {
	scaleW, scaleH int
	boxW, boxH     int
	fit            domain.Fit
}

func planResize(srcW, srcH int, p domain.ResizeParams) (resizePlan, error) {
	plan, err := fitResize(srcW, srcH, p)
	if err != nil {
		return resizePlan{}, err
	}
	if tooLarge(plan.scaleW, plan.scaleH) || tooLarge(plan.boxW, plan.boxH) {
		return resizePlan{}, fmt.Errorf("%w: %dx%d", ErrOutputTooLarge, max(plan.scaleW, plan.boxW), max(plan.scaleH, plan.boxH))
	}
	return plan, nil
}

func tooLarge(w, h int) bool {
	if w > MaxOutputPixels || h > MaxOutputPixels {
		return true
	}
	return int64(w)*int64(h) > MaxOutputPixels
}

func fitResize(srcW, srcH int, p domain.ResizeParams) (resizePlan, error) {
	if srcW <= 0 || srcH <= 0 {
		return resizePlan{}, ErrInvalidDimensions
	}
	if p.Width <= 0 {
		return resizePlan{}, fmt.Errorf("resize requires width > 0, got %d", p.Width)
	}

	if p.Height <= 0 {
		h := scaled(srcH, float64(p.Width)/float64(srcW))
		return resizePlan{scaleW: p.Width, scaleH: h, boxW: p.Width, boxH: h, fit: domain.FitFill}, nil
	}

	w, h := p.Width, p.Height
	sx := float64(w) / float64(srcW)
	sy := float64(h) / float64(srcH)

	fit := p.EffectiveFit()
	switch fit {
	case domain.FitFill:
		return resizePlan{scaleW: w, scaleH: h, boxW: w, boxH: h, fit: fit}, nil
	case domain.FitCover:
		s := math.Max(sx, sy)
		return resizePlan{scaleW: atLeast(scaled(srcW, s), w), scaleH: atLeast(scaled(srcH, s), h), boxW: w, boxH: h, fit: fit}, nil
	case domain.FitContain:
		s := math.Min(sx, sy)
		return resizePlan{scaleW: min(scaled(srcW, s), w), scaleH: min(scaled(srcH, s), h), boxW: w, boxH: h, fit: fit}, nil
	case domain.FitInside:
		s := math.Min(sx, sy)
		sw, sh := scaled(srcW, s), scaled(srcH, s)
		return resizePlan{scaleW: sw, scaleH: sh, boxW: sw, boxH: sh, fit: fit}, nil
	case domain.FitOutside:
		s := math.Max(sx, sy)
		sw, sh := scaled(srcW, s), scaled(srcH, s)
		return resizePlan{scaleW: sw, scaleH: sh, boxW: sw, boxH: sh, fit: fit}, nil
	default:
		return resizePlan{}, fmt.Errorf("unknown fit %q", fit)
	}
}

func scaled(n int, s float64) int {
	f := math.Round(float64(n) * s)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < 1 {
		return 1
	}
	return int(f)
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}

// cropRect validates the crop rectangle against the source bounds. Both
// backends clip silently, so the check lives here.
func cropRect(bounds image.Rectangle, p domain.CropParams) (image.Rectangle, error) {
	if p.Left < 0 || p.Top < 0 || p.Width <= 0 || p.Height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: invalid rectangle", ErrCropOutOfBounds)
	}
	if p.Width > bounds.Dx() || p.Left > bounds.Dx()-p.Width ||
		p.Height > bounds.Dy() || p.Top > bounds.Dy()-p.Height {
		return image.Rectangle{}, fmt.Errorf("%w: %dx%d at (%d,%d) on %dx%d image",
			ErrCropOutOfBounds, p.Width, p.Height, p.Left, p.Top, bounds.Dx(), bounds.Dy())
	}
	minX := bounds.Min.X + p.Left
	minY := bounds.Min.Y + p.Top
	return image.Rect(minX, minY, minX+p.Width, minY+p.Height), nil
}

func sigmaOrDefault(sigma float64) float64 {
	if sigma > 0 {
		return sigma
	}
	return DefaultSigma
}
