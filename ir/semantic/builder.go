package semantic

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf16"

	"pdfua/coords"
	"pdfua/filters"
	"pdfua/ir/raw"
	"pdfua/observability"
)

// BuilderConfig carries the collaborators the semantic builder needs.
type BuilderConfig struct {
	Filters *filters.Pipeline
	Logger  observability.Logger
}

// NewBuilder returns a Builder translating raw documents into the semantic
// model: page tree walk with inheritance, font and annotation parsing, and
// the existing structure tree when the document already has one.
func NewBuilder(cfg BuilderConfig) Builder {
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefault()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &builderImpl{cfg: cfg}
}

type builderImpl struct {
	cfg BuilderConfig
}

func (b *builderImpl) Build(ctx context.Context, rawDoc *raw.Document) (*Document, error) {
	catalog, catalogRef, ok := rawDoc.Catalog()
	if !ok {
		return nil, errors.New("semantic: document has no catalog")
	}
	doc := &Document{
		Permissions: rawDoc.Permissions,
		Encrypted:   rawDoc.Encrypted,
		CatalogRef:  catalogRef,
	}

	if lang, ok := raw.DictGetString(catalog, "Lang"); ok {
		doc.Lang = pdfTextString(lang)
	}
	if miObj, ok := catalog.Get(raw.NameLiteral("MarkInfo")); ok {
		if mi, ok := rawDoc.Resolve(miObj).(*raw.DictObj); ok {
			if marked, ok := raw.DictGetBool(mi, "Marked"); ok {
				doc.Marked = marked
			}
		}
	}

	b.buildInfo(rawDoc, doc)
	b.buildMetadata(ctx, rawDoc, catalog, doc)

	pagesObj, ok := catalog.Get(raw.NameLiteral("Pages"))
	if !ok {
		return nil, errors.New("semantic: catalog has no page tree")
	}
	if err := b.walkPages(ctx, rawDoc, pagesObj, inherited{}, doc, 0); err != nil {
		return nil, fmt.Errorf("semantic: page tree: %w", err)
	}
	if len(doc.Pages) == 0 {
		return nil, errors.New("semantic: document has no pages")
	}

	if st, err := b.parseStructTree(rawDoc, catalog, doc); err != nil {
		b.cfg.Logger.Warn("structure tree unreadable, treating as untagged",
			observability.Error("err", err))
	} else {
		doc.StructTree = st
	}
	return doc, nil
}

func (b *builderImpl) buildInfo(rawDoc *raw.Document, doc *Document) {
	infoObj, ok := rawDoc.Trailer.Get(raw.NameLiteral("Info"))
	if !ok {
		return
	}
	var ref raw.ObjectRef
	if r, isRef := infoObj.(raw.Reference); isRef {
		ref = r.Ref()
	}
	dict, ok := rawDoc.Resolve(infoObj).(*raw.DictObj)
	if !ok {
		return
	}
	info := &DocumentInfo{OriginalRef: ref}
	get := func(key string) string {
		if v, ok := raw.DictGetString(dict, key); ok {
			return pdfTextString(v)
		}
		return ""
	}
	info.Title = get("Title")
	info.Author = get("Author")
	info.Subject = get("Subject")
	info.Creator = get("Creator")
	info.Producer = get("Producer")
	doc.Info = info
}

func (b *builderImpl) buildMetadata(ctx context.Context, rawDoc *raw.Document, catalog raw.Dictionary, doc *Document) {
	mObj, ok := catalog.Get(raw.NameLiteral("Metadata"))
	if !ok {
		return
	}
	var ref raw.ObjectRef
	if r, isRef := mObj.(raw.Reference); isRef {
		ref = r.Ref()
	}
	stm, ok := rawDoc.Resolve(mObj).(*raw.StreamObj)
	if !ok {
		return
	}
	data, err := b.decodeStream(ctx, stm)
	if err != nil {
		b.cfg.Logger.Warn("metadata stream undecodable", observability.Error("err", err))
		return
	}
	doc.Metadata = &XMPMetadata{Raw: data, OriginalRef: ref}
}

// inherited carries page attributes pushed down the page tree.
type inherited struct {
	mediaBox  *coords.Rect
	rotate    *int
	resources raw.Object
}

const maxPageTreeDepth = 64

func (b *builderImpl) walkPages(ctx context.Context, rawDoc *raw.Document, node raw.Object, inh inherited, doc *Document, depth int) error {
	if depth > maxPageTreeDepth {
		return errors.New("page tree too deep")
	}
	var nodeRef raw.ObjectRef
	if r, isRef := node.(raw.Reference); isRef {
		nodeRef = r.Ref()
	}
	dict, ok := rawDoc.Resolve(node).(*raw.DictObj)
	if !ok {
		return errors.New("page tree node is not a dictionary")
	}

	if mbObj, ok := dict.Get(raw.NameLiteral("MediaBox")); ok {
		if r, ok := rectFrom(rawDoc, mbObj); ok {
			inh.mediaBox = &r
		}
	}
	if rot, ok := raw.DictGetInt(dict, "Rotate"); ok {
		v := int(rot)
		inh.rotate = &v
	}
	if resObj, ok := dict.Get(raw.NameLiteral("Resources")); ok {
		inh.resources = resObj
	}

	switch raw.DictGetName(dict, "Type") {
	case "Pages", "":
		kidsObj, ok := dict.Get(raw.NameLiteral("Kids"))
		if !ok {
			if raw.DictGetName(dict, "Type") == "" {
				// tolerate pages missing /Type
				return b.buildPage(ctx, rawDoc, dict, nodeRef, inh, doc)
			}
			return errors.New("pages node has no kids")
		}
		kids, ok := rawDoc.Resolve(kidsObj).(*raw.ArrayObj)
		if !ok {
			return errors.New("pages kids is not an array")
		}
		for _, kid := range kids.Items {
			if err := b.walkPages(ctx, rawDoc, kid, inh, doc, depth+1); err != nil {
				return err
			}
		}
		return nil
	case "Page":
		return b.buildPage(ctx, rawDoc, dict, nodeRef, inh, doc)
	}
	return fmt.Errorf("unexpected page tree node type %q", raw.DictGetName(dict, "Type"))
}

func (b *builderImpl) buildPage(ctx context.Context, rawDoc *raw.Document, dict *raw.DictObj, ref raw.ObjectRef, inh inherited, doc *Document) error {
	page := &Page{
		Index:         len(doc.Pages) + 1,
		MediaBox:      coords.Rect{URX: 612, URY: 792}, // US Letter default
		StructParents: -1,
		OriginalRef:   ref,
	}
	if inh.mediaBox != nil {
		page.MediaBox = *inh.mediaBox
	}
	if inh.rotate != nil {
		page.Rotate = ((*inh.rotate % 360) + 360) % 360
	}
	if sp, ok := raw.DictGetInt(dict, "StructParents"); ok {
		page.StructParents = int(sp)
	}
	page.Tabs = raw.DictGetName(dict, "Tabs")

	if inh.resources != nil {
		if resDict, ok := rawDoc.Resolve(inh.resources).(*raw.DictObj); ok {
			page.Resources = b.buildResources(ctx, rawDoc, resDict)
		}
	}
	if page.Resources == nil {
		page.Resources = &Resources{Fonts: map[string]*Font{}, XObjects: map[string]*XObject{}}
	}

	if cObj, ok := dict.Get(raw.NameLiteral("Contents")); ok {
		if err := b.buildContents(ctx, rawDoc, cObj, page); err != nil {
			return fmt.Errorf("page %d contents: %w", page.Index, err)
		}
	}
	if aObj, ok := dict.Get(raw.NameLiteral("Annots")); ok {
		b.buildAnnotations(rawDoc, aObj, page)
	}
	doc.Pages = append(doc.Pages, page)
	return nil
}

func (b *builderImpl) buildContents(ctx context.Context, rawDoc *raw.Document, cObj raw.Object, page *Page) error {
	appendStream := func(obj raw.Object) error {
		var ref raw.ObjectRef
		if r, isRef := obj.(raw.Reference); isRef {
			ref = r.Ref()
		}
		stm, ok := rawDoc.Resolve(obj).(*raw.StreamObj)
		if !ok {
			return errors.New("content entry is not a stream")
		}
		data, err := b.decodeStream(ctx, stm)
		if err != nil {
			return err
		}
		page.Contents = append(page.Contents, ContentStream{Raw: data, OriginalRef: ref})
		return nil
	}
	if arr, ok := rawDoc.Resolve(cObj).(*raw.ArrayObj); ok {
		for _, item := range arr.Items {
			if err := appendStream(item); err != nil {
				return err
			}
		}
		return nil
	}
	return appendStream(cObj)
}

func (b *builderImpl) buildResources(ctx context.Context, rawDoc *raw.Document, dict *raw.DictObj) *Resources {
	res := &Resources{Fonts: map[string]*Font{}, XObjects: map[string]*XObject{}}
	if fObj, ok := dict.Get(raw.NameLiteral("Font")); ok {
		if fonts, ok := rawDoc.Resolve(fObj).(*raw.DictObj); ok {
			for name, fontObj := range fonts.KV {
				if font := b.buildFont(ctx, rawDoc, fontObj); font != nil {
					res.Fonts[name] = font
				}
			}
		}
	}
	if xObj, ok := dict.Get(raw.NameLiteral("XObject")); ok {
		if xobjs, ok := rawDoc.Resolve(xObj).(*raw.DictObj); ok {
			for name, o := range xobjs.KV {
				var ref raw.ObjectRef
				if r, isRef := o.(raw.Reference); isRef {
					ref = r.Ref()
				}
				if stm, ok := rawDoc.Resolve(o).(*raw.StreamObj); ok {
					x := &XObject{
						Subtype:     raw.DictGetName(stm.Dict, "Subtype"),
						OriginalRef: ref,
					}
					if w, ok := raw.DictGetInt(stm.Dict, "Width"); ok {
						x.Width = int(w)
					}
					if h, ok := raw.DictGetInt(stm.Dict, "Height"); ok {
						x.Height = int(h)
					}
					if bbObj, ok := stm.Dict.Get(raw.NameLiteral("BBox")); ok {
						if r, ok := rectFrom(rawDoc, bbObj); ok {
							x.BBox = r
						}
					}
					res.XObjects[name] = x
				}
			}
		}
	}
	return res
}

func (b *builderImpl) buildFont(ctx context.Context, rawDoc *raw.Document, fontObj raw.Object) *Font {
	var ref raw.ObjectRef
	if r, isRef := fontObj.(raw.Reference); isRef {
		ref = r.Ref()
	}
	dict, ok := rawDoc.Resolve(fontObj).(*raw.DictObj)
	if !ok {
		return nil
	}
	font := &Font{
		Subtype:      raw.DictGetName(dict, "Subtype"),
		BaseFont:     raw.DictGetName(dict, "BaseFont"),
		DefaultWidth: 500,
		OriginalRef:  ref,
	}

	if encObj, ok := dict.Get(raw.NameLiteral("Encoding")); ok {
		switch enc := rawDoc.Resolve(encObj).(type) {
		case raw.NameObj:
			font.Encoding = enc.Val
		case *raw.DictObj:
			font.Encoding = raw.DictGetName(enc, "BaseEncoding")
			if diffObj, ok := enc.Get(raw.NameLiteral("Differences")); ok {
				if diffs, ok := rawDoc.Resolve(diffObj).(*raw.ArrayObj); ok {
					code := 0
					for _, item := range diffs.Items {
						switch v := item.(type) {
						case raw.NumberObj:
							code = int(v.Int())
						case raw.NameObj:
							font.Differences = append(font.Differences, EncodingDifference{Code: code, Name: v.Val})
							code++
						}
					}
				}
			}
		}
	}

	if fc, ok := raw.DictGetInt(dict, "FirstChar"); ok {
		font.FirstChar = int(fc)
	}
	if wObj, ok := dict.Get(raw.NameLiteral("Widths")); ok {
		if widths, ok := rawDoc.Resolve(wObj).(*raw.ArrayObj); ok {
			for _, item := range widths.Items {
				if n, ok := item.(raw.Number); ok {
					font.Widths = append(font.Widths, n.Float())
				}
			}
		}
	}

	if tuObj, ok := dict.Get(raw.NameLiteral("ToUnicode")); ok {
		if stm, ok := rawDoc.Resolve(tuObj).(*raw.StreamObj); ok {
			if data, err := b.decodeStream(ctx, stm); err == nil {
				font.ToUnicode = data
			}
		}
	}

	descDict := dict
	if font.Subtype == "Type0" {
		// width and descriptor data live on the descendant CID font
		if dfObj, ok := dict.Get(raw.NameLiteral("DescendantFonts")); ok {
			if dfArr, ok := rawDoc.Resolve(dfObj).(*raw.ArrayObj); ok && dfArr.Len() > 0 {
				if df, ok := rawDoc.Resolve(dfArr.Items[0]).(*raw.DictObj); ok {
					descDict = df
					if dw, ok := raw.DictGetInt(df, "DW"); ok {
						font.DefaultWidth = float64(dw)
					} else {
						font.DefaultWidth = 1000
					}
				}
			}
		}
	}
	if fdObj, ok := descDict.Get(raw.NameLiteral("FontDescriptor")); ok {
		if fd, ok := rawDoc.Resolve(fdObj).(*raw.DictObj); ok {
			if flags, ok := raw.DictGetInt(fd, "Flags"); ok {
				font.Flags = int(flags)
			}
			for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
				if ffObj, ok := fd.Get(raw.NameLiteral(key)); ok {
					if stm, ok := rawDoc.Resolve(ffObj).(*raw.StreamObj); ok {
						if data, err := b.decodeStream(ctx, stm); err == nil {
							font.FontFile = data
							font.FontFileType = key
						}
					}
					break
				}
			}
		}
	}
	return font
}

func (b *builderImpl) buildAnnotations(rawDoc *raw.Document, aObj raw.Object, page *Page) {
	arr, ok := rawDoc.Resolve(aObj).(*raw.ArrayObj)
	if !ok {
		return
	}
	for _, item := range arr.Items {
		var ref raw.ObjectRef
		if r, isRef := item.(raw.Reference); isRef {
			ref = r.Ref()
		}
		dict, ok := rawDoc.Resolve(item).(*raw.DictObj)
		if !ok {
			continue
		}
		annot := &Annotation{
			Subtype:     raw.DictGetName(dict, "Subtype"),
			FieldType:   raw.DictGetName(dict, "FT"),
			OriginalRef: ref,
		}
		if c, ok := raw.DictGetString(dict, "Contents"); ok {
			annot.Contents = pdfTextString(c)
		}
		if rObj, ok := dict.Get(raw.NameLiteral("Rect")); ok {
			if r, ok := rectFrom(rawDoc, rObj); ok {
				annot.Rect = r
			}
		}
		page.Annotations = append(page.Annotations, annot)
	}
}

func (b *builderImpl) decodeStream(ctx context.Context, stm *raw.StreamObj) ([]byte, error) {
	var names []string
	var params []raw.Dictionary
	if fObj, ok := stm.Dict.Get(raw.NameLiteral("Filter")); ok {
		switch f := fObj.(type) {
		case raw.Name:
			names = append(names, f.Value())
		case *raw.ArrayObj:
			for _, item := range f.Items {
				if n, ok := item.(raw.Name); ok {
					names = append(names, n.Value())
				}
			}
		}
	}
	if pObj, ok := stm.Dict.Get(raw.NameLiteral("DecodeParms")); ok {
		switch p := pObj.(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, item := range p.Items {
				if d, ok := item.(*raw.DictObj); ok {
					params = append(params, d)
				} else {
					params = append(params, nil)
				}
			}
		}
	}
	return b.cfg.Filters.Decode(ctx, stm.Data, names, params)
}

func rectFrom(rawDoc *raw.Document, obj raw.Object) (coords.Rect, bool) {
	arr, ok := rawDoc.Resolve(obj).(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return coords.Rect{}, false
	}
	vals := make([]float64, 4)
	for i, item := range arr.Items {
		n, ok := rawDoc.Resolve(item).(raw.Number)
		if !ok {
			return coords.Rect{}, false
		}
		vals[i] = n.Float()
	}
	r := coords.Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r, true
}

// pdfTextString decodes a PDF text string: UTF-16BE with BOM, or
// PDFDocEncoding treated as Latin-1 for the repertoire the engine needs.
func pdfTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u16 := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u16 = append(u16, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u16))
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
