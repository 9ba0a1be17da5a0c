package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
)

func BenchmarkExecutorResize(b *testing.B) {
	source := benchmarkPNG(b, 1920, 1080)
	executor := NewExecutor(imageops.NewRegistry(imageops.NewBackend()))
	p := domain.Pipeline{
		{Type: domain.OpResize, Params: domain.ResizeParams{Width: 640}},
		{Type: domain.OpFormat, Params: domain.FormatParams{Format: domain.FormatJPEG}},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := executor.Execute(context.Background(), p, source); err != nil {
			b.Fatalf("execute: %v", err)
		}
	}
}

func BenchmarkExecutorBlur(b *testing.B) {
	source := benchmarkPNG(b, 800, 600)
	executor := NewExecutor(imageops.NewRegistry(imageops.NewBackend()))
	step := domain.PipelineStep{Type: domain.OpFilter, Params: domain.FilterParams{Filter: domain.FilterBlur, Sigma: 2}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := executor.Apply(context.Background(), step, source); err != nil {
			b.Fatalf("apply: %v", err)
		}
	}
}

func benchmarkPNG(b *testing.B, w, h int) []byte {
	b.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
