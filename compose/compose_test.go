package compose

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/pic2pdf/imagefile"
	"github.com/wudi/pic2pdf/ir/semantic"
	"github.com/wudi/pic2pdf/recovery"
)

type bytesSource []byte

func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func pngInput(t *testing.T, name string, w, h int) Input {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return Input{Name: name, Source: bytesSource(buf.Bytes())}
}

func corruptInput(name string) Input {
	return Input{Name: name, Source: bytesSource([]byte("\x89PNG\r\n\x1a\nnot really"))}
}

func pageImage(t *testing.T, p *semantic.Page) semantic.XObject {
	t.Helper()
	if p.Resources == nil || len(p.Resources.XObjects) != 1 {
		t.Fatalf("page %d: expected one image", p.Index)
	}
	for _, xo := range p.Resources.XObjects {
		return xo
	}
	return semantic.XObject{}
}

func hasOperator(p *semantic.Page, op string) bool {
	for _, cs := range p.Contents {
		for _, o := range cs.Operations {
			if o.Operator == op {
				return true
			}
		}
	}
	return false
}

func TestComposeOnePagePerImageInOrder(t *testing.T) {
	inputs := []Input{
		pngInput(t, "a.png", 30, 20),
		pngInput(t, "b.png", 31, 20),
		pngInput(t, "c.png", 32, 20),
	}
	var calls atomic.Int32
	c := New(Options{
		Title:       "album",
		Concurrency: 3,
		Now:         func() time.Time { return time.Unix(0, 0) },
		Progress:    func(done, total int) { calls.Add(1) },
	})
	res, err := c.Compose(context.Background(), inputs)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	doc := res.Document
	if len(doc.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(doc.Pages))
	}
	for i, p := range doc.Pages {
		if p.Width() != A4.Width || p.Height() != A4.Height {
			t.Fatalf("page %d: unexpected size %vx%v", i, p.Width(), p.Height())
		}
		xo := pageImage(t, p)
		if xo.Width != 30+i || xo.Filter != "DCTDecode" {
			t.Fatalf("page %d: got image width %d filter %q", i, xo.Width, xo.Filter)
		}
		if hasOperator(p, "W") {
			t.Fatalf("contain pages should not clip")
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 progress calls, got %d", calls.Load())
	}
	if doc.Info == nil || doc.Info.Title != "album" || doc.Info.Producer != "pic2pdf" {
		t.Fatalf("unexpected info %+v", doc.Info)
	}
}

func TestComposeStrictFailsOnBadImage(t *testing.T) {
	inputs := []Input{pngInput(t, "a.png", 4, 4), corruptInput("bad.png"), pngInput(t, "c.png", 4, 4)}
	_, err := New(Options{}).Compose(context.Background(), inputs)
	var ie *ImageError
	if !errors.As(err, &ie) {
		t.Fatalf("expected ImageError, got %v", err)
	}
	if ie.Index != 1 || ie.Name != "bad.png" || !errors.Is(err, imagefile.ErrCorrupt) {
		t.Fatalf("unexpected image error %+v", ie)
	}
}

func TestComposeLenientSkipsBadImage(t *testing.T) {
	inputs := []Input{corruptInput("bad.png"), pngInput(t, "a.png", 5, 4), corruptInput("worse.png")}
	res, err := New(Options{Recovery: recovery.NewLenientStrategy()}).Compose(context.Background(), inputs)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Document.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(res.Document.Pages))
	}
	if len(res.Skipped) != 2 || res.Skipped[0].Index != 0 || res.Skipped[1].Index != 2 {
		t.Fatalf("unexpected skipped list %+v", res.Skipped)
	}
}

func TestComposeNoPages(t *testing.T) {
	if _, err := New(Options{}).Compose(context.Background(), nil); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
	_, err := New(Options{Recovery: recovery.NewLenientStrategy()}).Compose(context.Background(), []Input{corruptInput("x.png")})
	if !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages when every image fails, got %v", err)
	}
}

func TestComposeCoverClips(t *testing.T) {
	res, err := New(Options{Scale: Cover}).Compose(context.Background(), []Input{pngInput(t, "a.png", 40, 10)})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !hasOperator(res.Document.Pages[0], "W") {
		t.Fatalf("cover pages should clip to the page")
	}
}

func TestComposeAutoOrientation(t *testing.T) {
	res, err := New(Options{Orientation: Auto}).Compose(context.Background(), []Input{
		pngInput(t, "wide.png", 40, 10),
		pngInput(t, "tall.png", 10, 40),
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if p := res.Document.Pages[0]; p.Width() <= p.Height() {
		t.Fatalf("wide image should get a landscape page")
	}
	if p := res.Document.Pages[1]; p.Width() >= p.Height() {
		t.Fatalf("tall image should get a portrait page")
	}
}

func TestComposeMaxPPIDownsamples(t *testing.T) {
	res, err := New(Options{MaxPPI: 9}).Compose(context.Background(), []Input{pngInput(t, "big.png", 200, 100)})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	// 595.28pt wide at 9 ppi allows about 74 pixels.
	if xo := pageImage(t, res.Document.Pages[0]); xo.Width >= 200 || xo.Width < 70 {
		t.Fatalf("expected downsampled width, got %d", xo.Width)
	}
}

func TestComposeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Compose(ctx, []Input{pngInput(t, "a.png", 4, 4)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// rotatedJPEGInput encodes a w x h JPEG tagged with EXIF orientation 6, which
// viewers display rotated a quarter turn clockwise.
func rotatedJPEGInput(t *testing.T, name string, w, h int) Input {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	data := buf.Bytes()
	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22,
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x06, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	out := append([]byte{}, data[:2]...)
	out = append(out, app1...)
	out = append(out, data[2:]...)
	return Input{Name: name, Source: bytesSource(out)}
}

func TestComposeHonoursEXIFOrientation(t *testing.T) {
	res, err := New(Options{Orientation: Auto}).Compose(context.Background(), []Input{rotatedJPEGInput(t, "phone.jpg", 400, 200)})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	p := res.Document.Pages[0]
	if xo := pageImage(t, p); xo.Width != 200 || xo.Height != 400 {
		t.Fatalf("expected upright 200x400 image, got %dx%d", xo.Width, xo.Height)
	}
	if p.Width() >= p.Height() {
		t.Fatalf("upright portrait photo should get a portrait page")
	}
}

func TestComposeProgressIsSerialized(t *testing.T) {
	inputs := make([]Input, 16)
	for i := range inputs {
		inputs[i] = pngInput(t, "p.png", 4+i, 4)
	}
	var seen []int
	_, err := New(Options{
		Concurrency: 8,
		Progress:    func(done, total int) { seen = append(seen, done) },
	}).Compose(context.Background(), inputs)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(seen) != len(inputs) {
		t.Fatalf("expected %d progress calls, got %d", len(inputs), len(seen))
	}
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("progress calls out of order: %v", seen)
		}
	}
}

func TestComposeBackgroundFillsLetterbox(t *testing.T) {
	in := []Input{pngInput(t, "wide.png", 40, 10)}
	res, err := New(Options{Background: color.Black}).Compose(context.Background(), in)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	ops := res.Document.Pages[0].Contents[0].Operations
	if len(ops) < 2 || ops[1].Operator != "rg" || !hasOperator(res.Document.Pages[0], "f") {
		t.Fatalf("contained page should start with a background fill, got %v", ops)
	}

	for _, opts := range []Options{{}, {Background: color.White}, {Background: color.Black, Scale: Cover}} {
		res, err := New(opts).Compose(context.Background(), in)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		if hasOperator(res.Document.Pages[0], "f") {
			t.Fatalf("unexpected background fill for %+v", opts)
		}
	}
}

func TestComposeDocumentInfo(t *testing.T) {
	res, err := New(Options{Title: "t", Author: "a", Subject: "s", Keywords: []string{"k1", "k2"}}).
		Compose(context.Background(), []Input{pngInput(t, "a.png", 2, 2)})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	info := res.Document.Info
	if info.Title != "t" || info.Author != "a" || info.Subject != "s" || len(info.Keywords) != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
}
