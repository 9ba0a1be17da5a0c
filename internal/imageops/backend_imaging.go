package imageops

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelgate/internal/domain"
	_ "golang.org/x/image/webp"
)

// imagingBackend runs every operation in pure Go. It decodes WebP through
// x/image but can only encode JPEG, PNG, TIFF, GIF and BMP.
type imagingBackend struct{}

func (b imagingBackend) Resize(ctx context.Context, buf []byte, p domain.ResizeParams) ([]byte, error) {
	src, format, err := b.decode(ctx, buf)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	plan, err := planResize(bounds.Dx(), bounds.Dy(), p)
	if err != nil {
		return nil, err
	}

	var out image.Image
	switch plan.fit {
	case domain.FitCover:
		out = imaging.Fill(src, plan.boxW, plan.boxH, imaging.Center, imaging.Lanczos)
	case domain.FitContain:
		scaledImg := imaging.Resize(src, plan.scaleW, plan.scaleH, imaging.Lanczos)
		canvas := imaging.New(plan.boxW, plan.boxH, color.Transparent)
		out = imaging.PasteCenter(canvas, scaledImg)
	default:
		out = imaging.Resize(src, plan.scaleW, plan.scaleH, imaging.Lanczos)
	}
	return b.encode(out, format)
}

func (b imagingBackend) Crop(ctx context.Context, buf []byte, p domain.CropParams) ([]byte, error) {
	src, format, err := b.decode(ctx, buf)
	if err != nil {
		return nil, err
	}
	rect, err := cropRect(src.Bounds(), p)
	if err != nil {
		return nil, err
	}
	return b.encode(imaging.Crop(src, rect), format)
}

func (b imagingBackend) Convert(ctx context.Context, buf []byte, format domain.Format) ([]byte, error) {
	if _, ok := imagingFormat(string(format)); !ok {
		return nil, fmt.Errorf("%w: %s requires the govips backend", ErrUnsupportedFormat, format)
	}
	src, _, err := b.decode(ctx, buf)
	if err != nil {
		return nil, err
	}
	return b.encode(src, string(format))
}

func (b imagingBackend) Rotate(ctx context.Context, buf []byte, angle int) ([]byte, error) {
	src, format, err := b.decode(ctx, buf)
	if err != nil {
		return nil, err
	}

	// imaging rotates counter-clockwise; angles here are clockwise.
	var out image.Image
	switch angle {
	case 90:
		out = imaging.Rotate270(src)
	case 180:
		out = imaging.Rotate180(src)
	case 270:
		out = imaging.Rotate90(src)
	default:
		return nil, fmt.Errorf("unsupported rotation angle %d", angle)
	}
	return b.encode(out, format)
}

func (b imagingBackend) Filter(ctx context.Context, buf []byte, p domain.FilterParams) ([]byte, error) {
	src, format, err := b.decode(ctx, buf)
	if err != nil {
		return nil, err
	}

	var out image.Image
	switch p.Filter {
	case domain.FilterGrayscale:
		out = imaging.Grayscale(src)
	case domain.FilterBlur:
		out = imaging.Blur(src, sigmaOrDefault(p.Sigma))
	case domain.FilterSharpen:
		out = imaging.Sharpen(src, sigmaOrDefault(p.Sigma))
	default:
		return nil, fmt.Errorf("unsupported filter %q", p.Filter)
	}
	return b.encode(out, format)
}

func (imagingBackend) decode(ctx context.Context, buf []byte) (image.Image, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	img, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, "", fmt.Errorf("decode source image: %w", err)
	}
	return img, format, nil
}

func (imagingBackend) encode(img image.Image, format string) ([]byte, error) {
	f, ok := imagingFormat(format)
	if !ok {
		f = imaging.PNG
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, img, f,
		imaging.JPEGQuality(DefaultJPEGQuality),
		imaging.PNGCompressionLevel(png.DefaultCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

func imagingFormat(name string) (imaging.Format, bool) {
	switch name {
	case "jpeg", "jpg":
		return imaging.JPEG, true
	case "png":
		return imaging.PNG, true
	case "tiff":
		return imaging.TIFF, true
	case "gif":
		return imaging.GIF, true
	case "bmp":
		return imaging.BMP, true
	default:
		return 0, false
	}
}
