package optimize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x ^ y) & 0xff), A: 255})
		}
	}
	return img
}

func TestPrepareProducesDecodableJPEG(t *testing.T) {
	res, err := New(Config{Quality: 75}).Prepare(context.Background(), gradient(40, 30), 400, 300)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.Width != 40 || res.Height != 30 || res.Gray || res.Downsampled {
		t.Fatalf("unexpected result %+v", res)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Fatalf("unexpected decoded size %v", img.Bounds())
	}
}

func TestLowerQualityIsSmaller(t *testing.T) {
	src := gradient(120, 90)
	low, err := New(Config{Quality: 10}).Prepare(context.Background(), src, 0, 0)
	if err != nil {
		t.Fatalf("prepare low: %v", err)
	}
	high, err := New(Config{Quality: 100}).Prepare(context.Background(), src, 0, 0)
	if err != nil {
		t.Fatalf("prepare high: %v", err)
	}
	if len(low.Data) > len(high.Data) {
		t.Fatalf("quality 10 produced %d bytes, quality 100 produced %d", len(low.Data), len(high.Data))
	}
}

func TestFlattenTransparentOntoBackground(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})

	flat := New(Config{}).Flatten(src)
	if r, g, b, a := flat.At(3, 3).RGBA(); r>>8 != 255 || g>>8 != 255 || b>>8 != 255 || a>>8 != 255 {
		t.Fatalf("transparent pixel should become white, got %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
	if r, g, _, _ := flat.At(0, 0).RGBA(); r>>8 != 255 || g>>8 != 0 {
		t.Fatalf("opaque pixel changed: %d %d", r>>8, g>>8)
	}

	black := New(Config{Background: color.Black}).Flatten(src)
	if r, _, _, a := black.At(3, 3).RGBA(); r != 0 || a>>8 != 255 {
		t.Fatalf("transparent pixel should become black, got r=%d a=%d", r, a)
	}
}

func TestFlattenKeepsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	res, err := New(Config{}).Prepare(context.Background(), src, 0, 0)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !res.Gray {
		t.Fatalf("gray source should stay gray")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.ColorModel != color.GrayModel {
		t.Fatalf("expected grayscale jpeg, got %v", cfg.ColorModel)
	}
}

func TestDownsampleByPPI(t *testing.T) {
	o := New(Config{MaxPPI: 72})
	// 72 ppi over a 100x50pt box allows 100x50 pixels.
	img, resized := o.Downsample(gradient(400, 200), 100, 50)
	if !resized {
		t.Fatalf("expected downsampling")
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
	if _, resized := o.Downsample(gradient(110, 55), 100, 50); resized {
		t.Fatalf("within tolerance should not resize")
	}
	if _, resized := New(Config{}).Downsample(gradient(4000, 2000), 10, 5); resized {
		t.Fatalf("zero MaxPPI must keep resolution")
	}
}

func TestPrepareHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{}).Prepare(ctx, gradient(4, 4), 0, 0); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestJPEGQuality(t *testing.T) {
	cases := map[float64]int{0.8: 80, 0.1: 10, 1: 100, 0.05: 5, 0: 1, 1.4: 100, 0.35: 35}
	for in, want := range cases {
		if got := JPEGQuality(in); got != want {
			t.Errorf("JPEGQuality(%v) = %d, want %d", in, got, want)
		}
	}
}
