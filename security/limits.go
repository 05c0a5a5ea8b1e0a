package security

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded is wrapped by every limit violation.
var ErrLimitExceeded = errors.New("limit exceeded")

// Limits defines resource boundaries for loading and converting images.
// A zero field disables that check.
type Limits struct {
	// Maximum width or height in pixels. Default: 32768.
	MaxImageDimension int

	// Maximum pixel count per image. Default: 64 MP, which keeps RGBA
	// buffers under 256 MB.
	MaxImagePixels int64

	// Maximum input file size in bytes. Default: 100 MB.
	MaxFileSize int64

	// Maximum number of images per document. Default: 1000.
	MaxImages int

	// Maximum time spent decoding one image. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxImageDimension: 32768,
		MaxImagePixels:    64 * 1024 * 1024,
		MaxFileSize:       100 * 1024 * 1024, // 100 MB
		MaxImages:         1000,
		MaxDecodeTime:     30 * time.Second,
	}
}

// ValidateImageBounds rejects empty images and images whose header claims
// dimensions beyond the configured caps.
func (l Limits) ValidateImageBounds(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("image bounds invalid (%d x %d)", width, height)
	}
	if l.MaxImageDimension > 0 && (width > l.MaxImageDimension || height > l.MaxImageDimension) {
		return fmt.Errorf("image dimension %d x %d exceeds %d: %w", width, height, l.MaxImageDimension, ErrLimitExceeded)
	}
	pixels := int64(width) * int64(height)
	if l.MaxImagePixels > 0 && pixels > l.MaxImagePixels {
		return fmt.Errorf("image pixel count %d exceeds %d: %w", pixels, l.MaxImagePixels, ErrLimitExceeded)
	}
	return nil
}

func (l Limits) ValidateFileSize(size int64) error {
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return fmt.Errorf("file size %d exceeds %d bytes: %w", size, l.MaxFileSize, ErrLimitExceeded)
	}
	return nil
}

func (l Limits) ValidateImageCount(n int) error {
	if l.MaxImages > 0 && n > l.MaxImages {
		return fmt.Errorf("%d images exceed the limit of %d: %w", n, l.MaxImages, ErrLimitExceeded)
	}
	return nil
}
