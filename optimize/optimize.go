package optimize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
)

type Config struct {
	// Quality is the JPEG quality, 1-100. Zero selects 80.
	Quality int
	// MaxPPI caps the pixel density of an image at its placed size.
	// Zero keeps the original resolution.
	MaxPPI float64
	// Background fills transparent pixels. Nil selects white.
	Background color.Color
}

// Result is a prepared image ready to be embedded as a DCTDecode stream.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Gray   bool
	// Downsampled reports whether MaxPPI reduced the resolution.
	Downsampled bool
}

type Optimizer struct {
	config Config
}

func New(config Config) *Optimizer {
	if config.Quality <= 0 {
		config.Quality = 80
	}
	if config.Quality > 100 {
		config.Quality = 100
	}
	if config.Background == nil {
		config.Background = color.White
	}
	return &Optimizer{config: config}
}

// Prepare flattens img onto the background, downsamples it for a placement
// of displayW x displayH points when MaxPPI is set, and encodes it as JPEG.
func (o *Optimizer) Prepare(ctx context.Context, img image.Image, displayW, displayH float64) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flat := o.Flatten(img)
	scaled, resized := o.Downsample(flat, displayW, displayH)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := o.Encode(scaled)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	b := scaled.Bounds()
	return &Result{
		Data:        data,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Gray:        isGray(scaled),
		Downsampled: resized,
	}, nil
}

// JPEGQuality converts a 0-1 quality factor to the 1-100 JPEG scale.
func JPEGQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
