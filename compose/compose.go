// Package compose turns an ordered list of images into a one-image-per-page
// PDF document.
package compose

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/pic2pdf/builder"
	"github.com/wudi/pic2pdf/imagefile"
	"github.com/wudi/pic2pdf/ir/semantic"
	"github.com/wudi/pic2pdf/observability"
	"github.com/wudi/pic2pdf/optimize"
	"github.com/wudi/pic2pdf/recovery"
	"github.com/wudi/pic2pdf/security"
)

// ErrNoPages is returned when no input produced a page.
var ErrNoPages = errors.New("no pages to compose")

// ImageError reports the input that stopped the composition.
type ImageError struct {
	Index int
	Name  string
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// Source gives access to an image payload.
type Source interface {
	Open() (io.ReadCloser, error)
}

type Input struct {
	Name   string
	Source Source
}

type Options struct {
	Page        PageSize
	Orientation Orientation
	Scale       ScaleMode
	Margin      float64
	// Quality is the JPEG re-encode quality in [0.1, 1].
	Quality     float64
	MaxPPI      float64
	Background  color.Color
	Concurrency int

	Title    string
	Author   string
	Subject  string
	Keywords []string
	Producer string
	Now      func() time.Time

	Recovery recovery.Strategy
	Limits   security.Limits
	Logger   observability.Logger
	Tracer   observability.Tracer
	// Progress is called once per prepared input with the number of
	// inputs finished so far. Calls are serialized and done only grows.
	Progress func(done, total int)
}

type Result struct {
	Document *semantic.Document
	// Skipped holds the failures tolerated by a lenient recovery strategy.
	Skipped []*ImageError
}

type Compositor struct {
	opts      Options
	optimizer *optimize.Optimizer
	// fill paints the letterbox of contained images; nil leaves the page blank.
	fill *builder.Color
}

func New(opts Options) *Compositor {
	if opts.Page.Width <= 0 || opts.Page.Height <= 0 {
		opts.Page = A4
	}
	if opts.Quality <= 0 {
		opts.Quality = 0.8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Producer == "" {
		opts.Producer = "pic2pdf"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewStrictStrategy()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NopTracer()
	}
	return &Compositor{
		opts: opts,
		optimizer: optimize.New(optimize.Config{
			Quality:    optimize.JPEGQuality(opts.Quality),
			MaxPPI:     opts.MaxPPI,
			Background: opts.Background,
		}),
		fill: pageFill(opts.Background),
	}
}

// pageFill converts a non-white background to a page fill colour.
func pageFill(bg color.Color) *builder.Color {
	if bg == nil {
		return nil
	}
	r, g, b, _ := bg.RGBA()
	if r == 0xffff && g == 0xffff && b == 0xffff {
		return nil
	}
	return &builder.Color{R: float64(r) / 0xffff, G: float64(g) / 0xffff, B: float64(b) / 0xffff}
}

// preparedPage is one finished input waiting to be laid out.
type preparedPage struct {
	image     *semantic.Image
	page      PageSize
	placement Placement
}

// Compose prepares every input and lays the results out one per page in
// input order.
func (c *Compositor) Compose(ctx context.Context, inputs []Input) (*Result, error) {
	ctx, span := c.opts.Tracer.StartSpan(ctx, observability.SpanCompose)
	defer span.Finish()
	span.SetTag("inputs", len(inputs))

	if len(inputs) == 0 {
		return nil, ErrNoPages
	}
	if err := c.opts.Limits.ValidateImageCount(len(inputs)); err != nil {
		span.SetError(err)
		return nil, err
	}

	prepared := make([]*preparedPage, len(inputs))
	var (
		mu      sync.Mutex
		done    int
		skipped []*ImageError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := c.prepare(gctx, in)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				ie := &ImageError{Index: i, Name: in.Name, Err: err}
				loc := recovery.Location{Index: i, Name: in.Name, Component: "compose"}
				switch c.opts.Recovery.OnError(gctx, err, loc) {
				case recovery.ActionFail:
					return ie
				default:
					c.opts.Logger.Warn("image skipped",
						observability.Int("index", i),
						observability.String("name", in.Name),
						observability.Error("error", err),
					)
					mu.Lock()
					skipped = append(skipped, ie)
					mu.Unlock()
				}
			}
			mu.Lock()
			defer mu.Unlock()
			prepared[i] = p
			done++
			if c.opts.Progress != nil {
				c.opts.Progress(done, len(inputs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		span.SetError(err)
		return nil, err
	}

	b := builder.NewBuilder()
	for _, p := range prepared {
		if p == nil {
			continue
		}
		pb := b.NewPage(p.page.Width, p.page.Height)
		if c.fill != nil && c.opts.Scale == Contain {
			pb.FillRectangle(0, 0, p.page.Width, p.page.Height, *c.fill)
		}
		pb.DrawImage(p.image, p.placement.X, p.placement.Y, p.placement.Width, p.placement.Height,
			builder.ImageOptions{Clip: c.opts.Scale == Cover}).
			Finish()
	}
	if b.PageCount() == 0 {
		err := fmt.Errorf("%w: all %d images failed", ErrNoPages, len(inputs))
		span.SetError(err)
		return nil, err
	}
	b.SetInfo(&semantic.DocumentInfo{
		Title:        c.opts.Title,
		Author:       c.opts.Author,
		Subject:      c.opts.Subject,
		Keywords:     c.opts.Keywords,
		Creator:      c.opts.Producer,
		Producer:     c.opts.Producer,
		CreationDate: c.opts.Now(),
	})
	doc, err := b.Build()
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Index < skipped[j].Index })
	c.opts.Logger.Info("document composed",
		observability.Int(observability.MetricPageCount, len(doc.Pages)),
		observability.Int(observability.MetricSkippedCount, len(skipped)),
	)
	return &Result{Document: doc, Skipped: skipped}, nil
}

func (c *Compositor) prepare(ctx context.Context, in Input) (*preparedPage, error) {
	ctx, span := c.opts.Tracer.StartSpan(ctx, observability.SpanPrepare)
	defer span.Finish()
	start := time.Now()

	if in.Source == nil {
		return nil, errors.New("missing image source")
	}
	data, err := readAll(in.Source, c.opts.Limits)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	img, err := imagefile.Decode(ctx, data, c.opts.Limits)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	bounds := img.Bounds()
	if err := c.opts.Limits.ValidateImageBounds(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	page := c.opts.Page.Oriented(c.opts.Orientation, bounds.Dx(), bounds.Dy())
	placement := Place(float64(bounds.Dx()), float64(bounds.Dy()), page, c.opts.Scale, c.opts.Margin)

	res, err := c.optimizer.Prepare(ctx, img, placement.Width, placement.Height)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	embedded, err := builder.FromJPEG(res.Data)
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("image prepared",
		observability.String("name", in.Name),
		observability.Int("width", res.Width),
		observability.Int("height", res.Height),
		observability.Int64(observability.MetricImageBytes, int64(len(res.Data))),
		observability.Duration(observability.MetricPrepareTime, time.Since(start)),
	)
	return &preparedPage{image: embedded, page: page, placement: placement}, nil
}

func readAll(src Source, limits security.Limits) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if limits.MaxFileSize > 0 {
		r = io.LimitReader(rc, limits.MaxFileSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := limits.ValidateFileSize(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}
