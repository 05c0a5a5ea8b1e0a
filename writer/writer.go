package writer

import (
	"io"

	"github.com/wudi/pic2pdf/ir/raw"
	"github.com/wudi/pic2pdf/ir/semantic"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

// Config controls serialization.
type Config struct {
	Version PDFVersion
	// Compression is the flate level applied to page content streams
	// (0 disables compression, 1-9 as in compress/flate).
	Compression int
	// Deterministic derives the file ID from the document content so the
	// same input always produces byte-identical output.
	Deterministic bool
}

// Writer serializes semantic documents.
type Writer interface {
	Write(ctx Context, doc *semantic.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes every indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx Context, obj raw.Object) error
	AfterWrite(ctx Context, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	if i != nil {
		b.interceptors = append(b.interceptors, i)
	}
	return b
}

func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }

// NewWriter returns a writer without interceptors.
func NewWriter() Writer { return (&WriterBuilder{}).Build() }

type Context interface {
	Done() <-chan struct{}
	Err() error
}
