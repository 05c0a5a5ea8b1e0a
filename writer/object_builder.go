package writer

import (
	"crypto/sha256"
	"fmt"

	"github.com/wudi/pic2pdf/ir/raw"
	"github.com/wudi/pic2pdf/ir/semantic"
)

// objectBuilder lowers a semantic document into numbered raw objects.
type objectBuilder struct {
	doc         *semantic.Document
	cfg         Config
	objNum      int
	objects     map[raw.ObjectRef]raw.Object
	order       []raw.ObjectRef
	xobjectRefs map[string]raw.ObjectRef
}

func newObjectBuilder(doc *semantic.Document, cfg Config) *objectBuilder {
	return &objectBuilder{
		doc:         doc,
		cfg:         cfg,
		objNum:      1,
		objects:     make(map[raw.ObjectRef]raw.Object),
		xobjectRefs: make(map[string]raw.ObjectRef),
	}
}

func (b *objectBuilder) nextRef() raw.ObjectRef {
	ref := raw.ObjectRef{Num: b.objNum, Gen: 0}
	b.objNum++
	b.order = append(b.order, ref)
	return ref
}

// Build returns the object table, the write order, the catalog and the
// optional info dictionary references.
func (b *objectBuilder) Build() (map[raw.ObjectRef]raw.Object, []raw.ObjectRef, raw.ObjectRef, *raw.ObjectRef, error) {
	catalogRef := b.nextRef()
	pagesRef := b.nextRef()

	kids := raw.NewArray()
	for i, p := range b.doc.Pages {
		if p == nil {
			return nil, nil, raw.ObjectRef{}, nil, fmt.Errorf("page %d is nil", i)
		}
		if p.Width() <= 0 || p.Height() <= 0 {
			return nil, nil, raw.ObjectRef{}, nil, fmt.Errorf("page %d: invalid media box", i)
		}
		pageRef := b.nextRef()
		kids.Append(raw.Ref(pageRef.Num, pageRef.Gen))

		pageDict := raw.Dict()
		pageDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
		pageDict.Set(raw.NameLiteral("Parent"), raw.Ref(pagesRef.Num, pagesRef.Gen))
		pageDict.Set(raw.NameLiteral("MediaBox"), rectArray(p.MediaBox))
		if p.Rotate != 0 {
			pageDict.Set(raw.NameLiteral("Rotate"), raw.NumberInt(int64(p.Rotate)))
		}

		resDict := raw.Dict()
		if p.Resources != nil && len(p.Resources.XObjects) > 0 {
			xoDict := raw.Dict()
			for _, name := range sortedXObjectNames(p.Resources.XObjects) {
				xoRef := b.ensureXObject(p.Resources.XObjects[name])
				xoDict.Set(raw.NameLiteral(name), raw.Ref(xoRef.Num, xoRef.Gen))
			}
			resDict.Set(raw.NameLiteral("XObject"), xoDict)
		}
		resDict.Set(raw.NameLiteral("ProcSet"), raw.NewArray(raw.NameLiteral("PDF"), raw.NameLiteral("ImageC"), raw.NameLiteral("ImageB")))
		pageDict.Set(raw.NameLiteral("Resources"), resDict)

		var contentRefs []raw.Object
		for _, cs := range p.Contents {
			data := serializeContentStream(cs)
			if len(data) == 0 {
				continue
			}
			ref, err := b.addContentStream(data)
			if err != nil {
				return nil, nil, raw.ObjectRef{}, nil, fmt.Errorf("page %d: %w", i, err)
			}
			contentRefs = append(contentRefs, raw.Ref(ref.Num, ref.Gen))
		}
		switch len(contentRefs) {
		case 0:
		case 1:
			pageDict.Set(raw.NameLiteral("Contents"), contentRefs[0])
		default:
			pageDict.Set(raw.NameLiteral("Contents"), raw.NewArray(contentRefs...))
		}
		b.objects[pageRef] = pageDict
	}

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), kids)
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(b.doc.Pages))))
	b.objects[pagesRef] = pages

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	b.objects[catalogRef] = catalog

	var infoRef *raw.ObjectRef
	if info := b.infoDict(); info != nil {
		ref := b.nextRef()
		b.objects[ref] = info
		infoRef = &ref
	}
	return b.objects, b.order, catalogRef, infoRef, nil
}

func (b *objectBuilder) addContentStream(data []byte) (raw.ObjectRef, error) {
	dict := raw.Dict()
	if b.cfg.Compression > 0 {
		enc, err := flateEncode(data, b.cfg.Compression)
		if err != nil {
			return raw.ObjectRef{}, fmt.Errorf("compress content: %w", err)
		}
		data = enc
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	ref := b.nextRef()
	b.objects[ref] = raw.NewStream(dict, data)
	return ref, nil
}

// ensureXObject emits each distinct image once, even when several pages
// reference the same payload.
func (b *objectBuilder) ensureXObject(xo semantic.XObject) raw.ObjectRef {
	key := xoKey(xo)
	if ref, ok := b.xobjectRefs[key]; ok {
		return ref
	}
	ref := b.nextRef()
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("XObject"))
	dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Image"))
	dict.Set(raw.NameLiteral("Width"), raw.NumberInt(int64(xo.Width)))
	dict.Set(raw.NameLiteral("Height"), raw.NumberInt(int64(xo.Height)))
	color := "DeviceRGB"
	if xo.ColorSpace != nil && xo.ColorSpace.ColorSpaceName() != "" {
		color = xo.ColorSpace.ColorSpaceName()
	}
	dict.Set(raw.NameLiteral("ColorSpace"), raw.NameLiteral(color))
	bpc := xo.BitsPerComponent
	if bpc <= 0 {
		bpc = 8
	}
	dict.Set(raw.NameLiteral("BitsPerComponent"), raw.NumberInt(int64(bpc)))
	if xo.Filter != "" {
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral(xo.Filter))
	}
	if xo.Interpolate {
		dict.Set(raw.NameLiteral("Interpolate"), raw.Bool(true))
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(xo.Data))))
	b.objects[ref] = raw.NewStream(dict, xo.Data)
	b.xobjectRefs[key] = ref
	return ref
}

func xoKey(xo semantic.XObject) string {
	sum := sha256.Sum256(xo.Data)
	cs := ""
	if xo.ColorSpace != nil {
		cs = xo.ColorSpace.ColorSpaceName()
	}
	return fmt.Sprintf("%x:%dx%d:%s:%s:%t", sum[:], xo.Width, xo.Height, cs, xo.Filter, xo.Interpolate)
}

func (b *objectBuilder) infoDict() *raw.DictObj {
	info := b.doc.Info
	if info == nil {
		return nil
	}
	dict := raw.Dict()
	set := func(key, value string) {
		if value != "" {
			dict.Set(raw.NameLiteral(key), textString(value))
		}
	}
	set("Title", info.Title)
	set("Author", info.Author)
	set("Subject", info.Subject)
	set("Creator", info.Creator)
	set("Producer", info.Producer)
	if len(info.Keywords) > 0 {
		kw := ""
		for i, k := range info.Keywords {
			if i > 0 {
				kw += ", "
			}
			kw += k
		}
		set("Keywords", kw)
	}
	if !info.CreationDate.IsZero() && !b.cfg.Deterministic {
		dict.Set(raw.NameLiteral("CreationDate"), raw.Str([]byte(formatDate(info.CreationDate))))
	}
	if dict.Len() == 0 {
		return nil
	}
	return dict
}
