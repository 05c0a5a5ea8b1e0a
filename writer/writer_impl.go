package writer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/wudi/pic2pdf/ir/raw"
	"github.com/wudi/pic2pdf/ir/semantic"
)

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	switch o := obj.(type) {
	case *raw.DictObj, *raw.ArrayObj, raw.NameObj, raw.NumberObj, raw.BoolObj, raw.NullObj, raw.StringObj, *raw.StreamObj, raw.RefObj:
		buf.Write(serializePrimitive(o))
		buf.WriteString("\n")
	default:
		return nil, fmt.Errorf("object %s: unsupported type %T", ref, obj)
	}
	buf.WriteString("endobj\n")
	return buf.Bytes(), nil
}

func (w *impl) Write(ctx Context, doc *semantic.Document, out io.Writer, cfg Config) error {
	if doc == nil || len(doc.Pages) == 0 {
		return fmt.Errorf("document has no pages")
	}
	objects, order, catalogRef, infoRef, err := newObjectBuilder(doc, cfg).Build()
	if err != nil {
		return err
	}

	cw := &countingWriter{w: bufio.NewWriterSize(out, 64*1024)}
	fmt.Fprintf(cw, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", pdfVersion(cfg))

	offsets := make(map[int]int64, len(order))
	for _, ref := range order {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		obj := objects[ref]
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, obj); err != nil {
				return err
			}
		}
		serialized, err := w.SerializeObject(ref, obj)
		if err != nil {
			return err
		}
		offsets[ref.Num] = cw.n
		if _, err := cw.Write(serialized); err != nil {
			return err
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, obj, int64(len(serialized))); err != nil {
				return err
			}
		}
	}

	maxObjNum := order[len(order)-1].Num
	xrefOffset := cw.n
	fmt.Fprintf(cw, "xref\n0 %d\n", maxObjNum+1)
	cw.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxObjNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(cw, "%010d 00000 n \n", off)
		} else {
			cw.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := buildTrailer(maxObjNum+1, catalogRef, infoRef, fileID(doc, cfg))
	cw.WriteString("trailer\n")
	cw.Write(serializePrimitive(trailer))
	fmt.Fprintf(cw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	if cw.err != nil {
		return cw.err
	}
	return cw.w.Flush()
}

// countingWriter tracks the byte offset needed for the xref table and keeps
// the first write error so the serialization loop can stay linear.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}
