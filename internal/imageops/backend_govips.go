//go:build govips && cgo

package imageops

import (
	"context"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelgate/internal/domain"
)

type govipsBackend struct{}

func (b govipsBackend) Resize(ctx context.Context, buf []byte, p domain.ResizeParams) ([]byte, error) {
	img, err := b.load(ctx, buf)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	plan, err := planResize(img.Width(), img.Height(), p)
	if err != nil {
		return nil, err
	}

	hscale := float64(plan.scaleW) / float64(img.Width())
	vscale := float64(plan.scaleH) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	switch plan.fit {
	case domain.FitCover:
		left := (img.Width() - plan.boxW) / 2
		top := (img.Height() - plan.boxH) / 2
		if err := img.ExtractArea(left, top, plan.boxW, plan.boxH); err != nil {
			return nil, fmt.Errorf("crop to cover: %w", err)
		}
	case domain.FitContain:
		if !img.HasAlpha() {
			if err := img.AddAlpha(); err != nil {
				return nil, fmt.Errorf("add alpha: %w", err)
			}
		}
		left := (plan.boxW - img.Width()) / 2
		top := (plan.boxH - img.Height()) / 2
		if err := img.Embed(left, top, plan.boxW, plan.boxH, vips.ExtendBlack); err != nil {
			return nil, fmt.Errorf("pad to contain: %w", err)
		}
	}

	return b.export(img, formatOf(buf))
}

func (b govipsBackend) Crop(ctx context.Context, buf []byte, p domain.CropParams) ([]byte, error) {
	img, err := b.load(ctx, buf)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rect, err := cropRect(image.Rect(0, 0, img.Width(), img.Height()), p)
	if err != nil {
		return nil, err
	}
	if err := img.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
		return nil, fmt.Errorf("extract area: %w", err)
	}
	return b.export(img, formatOf(buf))
}

func (b govipsBackend) Convert(ctx context.Context, buf []byte, format domain.Format) ([]byte, error) {
	img, err := b.load(ctx, buf)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return b.export(img, format)
}

func (b govipsBackend) Rotate(ctx context.Context, buf []byte, angle int) ([]byte, error) {
	img, err := b.load(ctx, buf)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	var a vips.Angle
	switch angle {
	case 90:
		a = vips.Angle90
	case 180:
		a = vips.Angle180
	case 270:
		a = vips.Angle270
	default:
		return nil, fmt.Errorf("unsupported rotation angle %d", angle)
	}
	if err := img.Rotate(a); err != nil {
		return nil, fmt.Errorf("rotate image: %w", err)
	}
	return b.export(img, formatOf(buf))
}

func (b govipsBackend) Filter(ctx context.Context, buf []byte, p domain.FilterParams) ([]byte, error) {
	img, err := b.load(ctx, buf)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	switch p.Filter {
	case domain.FilterGrayscale:
		err = img.ToColorSpace(vips.InterpretationBW)
	case domain.FilterBlur:
		err = img.GaussianBlur(sigmaOrDefault(p.Sigma))
	case domain.FilterSharpen:
		err = img.Sharpen(sigmaOrDefault(p.Sigma), 1, 2)
	default:
		return nil, fmt.Errorf("unsupported filter %q", p.Filter)
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", p.Filter, err)
	}
	return b.export(img, formatOf(buf))
}

func (govipsBackend) load(ctx context.Context, buf []byte) (*vips.ImageRef, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(buf)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}

func formatOf(buf []byte) domain.Format {
	switch vips.DetermineImageType(buf) {
	case vips.ImageTypeJPEG:
		return domain.FormatJPEG
	case vips.ImageTypeWEBP:
		return domain.FormatWebP
	case vips.ImageTypeAVIF:
		return domain.FormatAVIF
	case vips.ImageTypeTIFF:
		return domain.FormatTIFF
	default:
		return domain.FormatPNG
	}
}

func (govipsBackend) export(img *vips.ImageRef, format domain.Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = DefaultJPEGQuality
		data, _, err = img.ExportJpeg(params)
	case domain.FormatPNG:
		data, _, err = img.ExportPng(vips.NewPngExportParams())
	case domain.FormatWebP:
		data, _, err = img.ExportWebp(vips.NewWebpExportParams())
	case domain.FormatAVIF:
		data, _, err = img.ExportAvif(vips.NewAvifExportParams())
	case domain.FormatTIFF:
		data, _, err = img.ExportTiff(vips.NewTiffExportParams())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return data, nil
}
