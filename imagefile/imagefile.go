// Package imagefile validates user-selected image payloads before they are
// accepted into a session.
package imagefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wudi/pic2pdf/observability"
	"github.com/wudi/pic2pdf/security"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrCorrupt         = errors.New("image could not be decoded")
	ErrTooLarge        = errors.New("image too large")
)

// DefaultAccept lists the content types accepted when Options.Accept is empty.
var DefaultAccept = []string{"image/jpeg", "image/png"}

// FileError ties a validation failure to the offending file.
type FileError struct {
	Name string
	Err  error
	// Accept is the accept list the file was checked against. Empty means
	// DefaultAccept.
	Accept []string
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// Message renders the text shown to the user for this failure.
func (e *FileError) Message() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedType):
		return fmt.Sprintf("%q has an unsupported file type. Please upload %s images.", e.Name, acceptLabel(e.Accept))
	case errors.Is(e.Err, ErrTooLarge):
		return fmt.Sprintf("%q is too large to process.", e.Name)
	default:
		return fmt.Sprintf("%q could not be loaded. The file may be corrupted.", e.Name)
	}
}

type Options struct {
	Accept []string
	Limits security.Limits
	Logger observability.Logger
}

// Info describes an accepted image.
type Info struct {
	Name   string
	MIME   string
	Format string
	Width  int
	Height int
	Size   int64
}

// Inspect sniffs, bounds-checks and fully decodes data. Every returned error
// is a *FileError.
func Inspect(ctx context.Context, name string, data []byte, opts Options) (*Info, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	start := time.Now()
	fail := func(err error) (*Info, error) {
		logger.Debug("image rejected", observability.String("name", name), observability.Error("error", err))
		return nil, &FileError{Name: name, Err: err, Accept: opts.Accept}
	}

	if err := opts.Limits.ValidateFileSize(int64(len(data))); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrTooLarge, err))
	}
	mime := mimetype.Detect(data)
	if !accepted(mime, opts.Accept) {
		return fail(fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String()))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if err := opts.Limits.ValidateImageBounds(cfg.Width, cfg.Height); err != nil {
		if errors.Is(err, security.ErrLimitExceeded) {
			return fail(fmt.Errorf("%w: %v", ErrTooLarge, err))
		}
		return fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	img, err := Decode(ctx, data, opts.Limits)
	if err != nil {
		return fail(err)
	}
	// report the upright size after EXIF orientation
	bounds := img.Bounds()

	logger.Debug("image accepted",
		observability.String("name", name),
		observability.String("mime", mime.String()),
		observability.Int("width", bounds.Dx()),
		observability.Int("height", bounds.Dy()),
		observability.Duration(observability.MetricInspectTime, time.Since(start)),
	)
	return &Info{
		Name:   name,
		MIME:   mime.String(),
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Size:   int64(len(data)),
	}, nil
}

// Decode fully decodes data, bounded by Limits.MaxDecodeTime and ctx. JPEG
// EXIF orientation is applied, so the result is upright.
func Decode(ctx context.Context, data []byte, limits security.Limits) (image.Image, error) {
	if limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.MaxDecodeTime)
		defer cancel()
	}
	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		done <- result{img, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, r.err)
		}
		return r.img, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: decode exceeded %s", ErrTooLarge, limits.MaxDecodeTime)
		}
		return nil, ctx.Err()
	}
}

func accepted(mime *mimetype.MIME, accept []string) bool {
	if len(accept) == 0 {
		accept = DefaultAccept
	}
	for _, a := range accept {
		if mime.Is(a) {
			return true
		}
	}
	return false
}

var formatLabels = map[string]string{"image/jpeg": "JPG"}

// acceptLabel names the accepted formats for messages, e.g. "JPG or PNG".
func acceptLabel(accept []string) string {
	if len(accept) == 0 {
		accept = DefaultAccept
	}
	var labels []string
	for _, a := range accept {
		label, ok := formatLabels[a]
		if !ok {
			label = strings.ToUpper(strings.TrimPrefix(a, "image/"))
		}
		if !slices.Contains(labels, label) {
			labels = append(labels, label)
		}
	}
	if len(labels) == 1 {
		return labels[0]
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " or " + labels[len(labels)-1]
}
