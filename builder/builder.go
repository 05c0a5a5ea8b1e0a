package builder

import (
	"errors"
	"fmt"

	"github.com/wudi/pic2pdf/ir/semantic"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetInfo(info *semantic.DocumentInfo) PDFBuilder
	PageCount() int
	Build() (*semantic.Document, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder
	FillRectangle(x, y, width, height float64, c Color) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// ImageOptions configures image drawing.
type ImageOptions struct {
	Interpolate bool
	// Clip restricts painting to the page media box. Images placed with a
	// fill policy overflow the page and are cut at its edges.
	Clip bool
}

// Color represents an RGB color with components in [0, 1].
type Color struct {
	R, G, B float64
}

var (
	White = Color{R: 1, G: 1, B: 1}
	Black = Color{}
)

// ErrEmptyDocument is returned by Build when no page was added.
var ErrEmptyDocument = errors.New("document has no pages")

type builderImpl struct {
	pages        []*semantic.Page
	info         *semantic.DocumentInfo
	xobjectCount int
	xobjectNames map[*semantic.Image]string
}

type pageBuilderImpl struct {
	parent *builderImpl
	page   *semantic.Page
}

// NewBuilder constructs a PDFBuilder.
func NewBuilder() PDFBuilder { return &builderImpl{} }

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &semantic.Page{MediaBox: semantic.Rectangle{LLX: 0, LLY: 0, URX: w, URY: h}}
	b.pages = append(b.pages, p)
	return &pageBuilderImpl{parent: b, page: p}
}

func (b *builderImpl) SetInfo(info *semantic.DocumentInfo) PDFBuilder {
	b.info = info
	return b
}

func (b *builderImpl) PageCount() int { return len(b.pages) }

func (b *builderImpl) Build() (*semantic.Document, error) {
	if len(b.pages) == 0 {
		return nil, ErrEmptyDocument
	}
	for i, p := range b.pages {
		if p.Width() <= 0 || p.Height() <= 0 {
			return nil, fmt.Errorf("page %d: invalid media box %+v", i, p.MediaBox)
		}
		p.Index = i
	}
	doc := &semantic.Document{
		Pages: b.pages,
		Info:  b.info,
	}
	return doc, nil
}

func (p *pageBuilderImpl) DrawImage(img *semantic.Image, x, y, width, height float64, opts ImageOptions) PageBuilder {
	if img == nil {
		return p
	}
	res := p.ensureResources()

	name := p.parent.imageName(img)
	if _, exists := res.XObjects[name]; !exists {
		xobj := semantic.XObject(*img)
		xobj.Subtype = "Image"
		if opts.Interpolate {
			xobj.Interpolate = true
		}
		res.XObjects[name] = xobj
	}
	w := width
	if w == 0 {
		w = float64(img.Width)
	}
	h := height
	if h == 0 {
		h = float64(img.Height)
	}

	ops := p.ensureContentOps()
	*ops = append(*ops, semantic.Operation{Operator: "q"})
	if opts.Clip {
		box := p.page.MediaBox
		*ops = append(*ops,
			semantic.Operation{Operator: "re", Operands: numbers(box.LLX, box.LLY, box.URX-box.LLX, box.URY-box.LLY)},
			semantic.Operation{Operator: "W"},
			semantic.Operation{Operator: "n"},
		)
	}
	*ops = append(*ops, semantic.Operation{
		Operator: "cm",
		Operands: numbers(w, 0, 0, h, x, y),
	})
	*ops = append(*ops, semantic.Operation{
		Operator: "Do",
		Operands: []semantic.Operand{semantic.NameOperand{Value: name}},
	})
	*ops = append(*ops, semantic.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) FillRectangle(x, y, width, height float64, c Color) PageBuilder {
	ops := p.ensureContentOps()
	*ops = append(*ops,
		semantic.Operation{Operator: "q"},
		semantic.Operation{Operator: "rg", Operands: numbers(clamp01(c.R), clamp01(c.G), clamp01(c.B))},
		semantic.Operation{Operator: "re", Operands: numbers(x, y, width, height)},
		semantic.Operation{Operator: "f"},
		semantic.Operation{Operator: "Q"},
	)
	return p
}

func (p *pageBuilderImpl) SetRotation(degrees int) PageBuilder {
	p.page.Rotate = normalizeRotation(degrees)
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder { return p.parent }

func (b *builderImpl) imageName(img *semantic.Image) string {
	if b.xobjectNames == nil {
		b.xobjectNames = make(map[*semantic.Image]string)
	}
	if name, ok := b.xobjectNames[img]; ok {
		return name
	}
	b.xobjectCount++
	name := fmt.Sprintf("Im%d", b.xobjectCount)
	b.xobjectNames[img] = name
	return name
}

func (p *pageBuilderImpl) ensureResources() *semantic.Resources {
	if p.page.Resources == nil {
		p.page.Resources = &semantic.Resources{}
	}
	if p.page.Resources.XObjects == nil {
		p.page.Resources.XObjects = make(map[string]semantic.XObject)
	}
	return p.page.Resources
}

func (p *pageBuilderImpl) ensureContentOps() *[]semantic.Operation {
	if len(p.page.Contents) == 0 {
		p.page.Contents = append(p.page.Contents, semantic.ContentStream{})
	}
	return &p.page.Contents[0].Operations
}

func numbers(vals ...float64) []semantic.Operand {
	ops := make([]semantic.Operand, len(vals))
	for i, v := range vals {
		ops[i] = semantic.NumberOperand{Value: v}
	}
	return ops
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	if deg%90 != 0 {
		return 0
	}
	return deg
}
