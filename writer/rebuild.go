package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"sort"
	"unicode/utf16"

	"pdfua/ir/raw"
	"pdfua/ir/semantic"
)

// buildState is the object set being assembled for serialization.
type buildState struct {
	objects map[raw.ObjectRef]raw.Object
	root    raw.ObjectRef
	info    raw.ObjectRef
	next    int
}

func (b *buildState) alloc() raw.ObjectRef {
	ref := raw.ObjectRef{Num: b.next}
	b.next++
	return ref
}

// rebuild copies the original objects and substitutes everything the
// semantic model changed. A nil semantic document keeps the original
// objects untouched apart from dropping encryption.
func (w *writerImpl) rebuild(rawDoc *raw.Document, doc *semantic.Document) (*buildState, error) {
	b := &buildState{
		objects: make(map[raw.ObjectRef]raw.Object, len(rawDoc.Objects)+16),
		next:    rawDoc.MaxObjectNum() + 1,
	}
	for ref, obj := range rawDoc.Objects {
		b.objects[ref] = obj
	}

	// output is unencrypted; the encryption dictionary must not survive
	if encObj, ok := rawDoc.Trailer.Get(raw.NameLiteral("Encrypt")); ok {
		if r, isRef := encObj.(raw.Reference); isRef {
			delete(b.objects, r.Ref())
		}
	}

	_, rootRef, ok := rawDoc.Catalog()
	if !ok {
		return nil, fmt.Errorf("no catalog")
	}
	b.root = rootRef
	if infoObj, ok := rawDoc.Trailer.Get(raw.NameLiteral("Info")); ok {
		if r, isRef := infoObj.(raw.Reference); isRef {
			b.info = r.Ref()
		}
	}
	if doc == nil {
		return b, nil
	}

	catalog, ok := resolveDict(b, rawDoc, rootRef)
	if !ok {
		return nil, fmt.Errorf("catalog unresolvable")
	}
	catalog = cloneDict(catalog)
	b.objects[rootRef] = catalog

	if doc.Lang != "" {
		catalog.Set(raw.NameLiteral("Lang"), textString(doc.Lang))
	}
	if doc.Marked {
		mi := raw.Dict()
		mi.Set(raw.NameLiteral("Marked"), raw.Bool(true))
		catalog.Set(raw.NameLiteral("MarkInfo"), mi)
	}

	pageRefs := make(map[int]raw.ObjectRef, len(doc.Pages))
	for _, page := range doc.Pages {
		pageRefs[page.Index] = page.OriginalRef
	}
	for _, page := range doc.Pages {
		if err := b.rebuildPage(rawDoc, page, w.cfg.Compress); err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Index, err)
		}
	}

	if doc.StructTree != nil && doc.StructTree.Dirty {
		stRef, err := b.rebuildStructTree(doc, pageRefs)
		if err != nil {
			return nil, err
		}
		catalog.Set(raw.NameLiteral("StructTreeRoot"), raw.RefObj{R: stRef})
	}

	if doc.Info != nil {
		b.rebuildInfo(doc.Info)
	}
	if doc.Metadata != nil && doc.Metadata.Dirty {
		ref := doc.Metadata.OriginalRef
		if ref.Num == 0 {
			ref = b.alloc()
		}
		dict := raw.Dict()
		dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Metadata"))
		dict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("XML"))
		b.objects[ref] = raw.NewStream(dict, doc.Metadata.Raw)
		catalog.Set(raw.NameLiteral("Metadata"), raw.RefObj{R: ref})
	}
	return b, nil
}

func (b *buildState) rebuildPage(rawDoc *raw.Document, page *semantic.Page, compress bool) error {
	if !page.Dirty {
		return nil
	}
	if page.OriginalRef.Num == 0 {
		return fmt.Errorf("page has no indirect reference")
	}
	dict, ok := resolveDict(b, rawDoc, page.OriginalRef)
	if !ok {
		return fmt.Errorf("page dictionary unresolvable")
	}
	dict = cloneDict(dict)
	b.objects[page.OriginalRef] = dict

	content := page.RawContent()
	streamDict := raw.Dict()
	data := content
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(content); err == nil && zw.Close() == nil {
			data = buf.Bytes()
			streamDict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
		}
	}
	contentRef := b.alloc()
	if len(page.Contents) > 0 && page.Contents[0].OriginalRef.Num != 0 {
		contentRef = page.Contents[0].OriginalRef
	}
	b.objects[contentRef] = raw.NewStream(streamDict, data)
	dict.Set(raw.NameLiteral("Contents"), raw.RefObj{R: contentRef})

	if page.StructParents >= 0 {
		dict.Set(raw.NameLiteral("StructParents"), raw.NumberInt(int64(page.StructParents)))
	}
	if page.Tabs != "" {
		dict.Set(raw.NameLiteral("Tabs"), raw.NameLiteral(page.Tabs))
	}
	return nil
}

// rebuildStructTree emits the structure elements, the parent tree keyed by
// each page's /StructParents, and the structure root.
func (b *buildState) rebuildStructTree(doc *semantic.Document, pageRefs map[int]raw.ObjectRef) (raw.ObjectRef, error) {
	tree := doc.StructTree
	rootRef := tree.OriginalRef
	if rootRef.Num == 0 {
		rootRef = b.alloc()
	}

	elemRefs := make(map[*semantic.StructureElement]raw.ObjectRef)
	tree.Walk(func(e *semantic.StructureElement) {
		elemRefs[e] = b.alloc()
	})

	var kidRefs []raw.Object
	for _, kid := range tree.Kids {
		b.emitElement(kid, rootRef, elemRefs, pageRefs)
		kidRefs = append(kidRefs, raw.RefObj{R: elemRefs[kid]})
	}

	ptRef, nextKey := b.emitParentTree(doc, elemRefs)

	root := raw.Dict()
	root.Set(raw.NameLiteral("Type"), raw.NameLiteral("StructTreeRoot"))
	root.Set(raw.NameLiteral("K"), &raw.ArrayObj{Items: kidRefs})
	root.Set(raw.NameLiteral("ParentTree"), raw.RefObj{R: ptRef})
	root.Set(raw.NameLiteral("ParentTreeNextKey"), raw.NumberInt(int64(nextKey)))
	b.objects[rootRef] = root
	return rootRef, nil
}

func (b *buildState) emitElement(e *semantic.StructureElement, parent raw.ObjectRef, elemRefs map[*semantic.StructureElement]raw.ObjectRef, pageRefs map[int]raw.ObjectRef) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Type"), raw.NameLiteral("StructElem"))
	name := e.Tag.String()
	if e.RawType != "" && e.Tag == semantic.TagSpan {
		name = e.RawType
	}
	dict.Set(raw.NameLiteral("S"), raw.NameLiteral(name))
	dict.Set(raw.NameLiteral("P"), raw.RefObj{R: parent})
	if pg, ok := pageRefs[e.PageIndex]; ok && pg.Num != 0 {
		dict.Set(raw.NameLiteral("Pg"), raw.RefObj{R: pg})
	}
	if e.HasAlt {
		dict.Set(raw.NameLiteral("Alt"), textString(e.Alt))
	}
	if e.ActualText != "" {
		dict.Set(raw.NameLiteral("ActualText"), textString(e.ActualText))
	}
	if e.Lang != "" {
		dict.Set(raw.NameLiteral("Lang"), textString(e.Lang))
	}

	var kids []raw.Object
	for _, kid := range e.Kids {
		b.emitElement(kid, elemRefs[e], elemRefs, pageRefs)
		kids = append(kids, raw.RefObj{R: elemRefs[kid]})
	}
	for _, ref := range e.Content {
		if ref.PageIndex == e.PageIndex {
			kids = append(kids, raw.NumberInt(int64(ref.MCID)))
			continue
		}
		mcr := raw.Dict()
		mcr.Set(raw.NameLiteral("Type"), raw.NameLiteral("MCR"))
		if pg, ok := pageRefs[ref.PageIndex]; ok && pg.Num != 0 {
			mcr.Set(raw.NameLiteral("Pg"), raw.RefObj{R: pg})
		}
		mcr.Set(raw.NameLiteral("MCID"), raw.NumberInt(int64(ref.MCID)))
		kids = append(kids, mcr)
	}
	switch len(kids) {
	case 0:
	case 1:
		dict.Set(raw.NameLiteral("K"), kids[0])
	default:
		dict.Set(raw.NameLiteral("K"), &raw.ArrayObj{Items: kids})
	}
	b.objects[elemRefs[e]] = dict
}

// emitParentTree builds the number tree mapping each page's /StructParents
// key to its MCID-indexed element array.
func (b *buildState) emitParentTree(doc *semantic.Document, elemRefs map[*semantic.StructureElement]raw.ObjectRef) (raw.ObjectRef, int) {
	byPage := make(map[int]map[int]raw.ObjectRef)
	doc.StructTree.Walk(func(e *semantic.StructureElement) {
		for _, ref := range e.Content {
			m := byPage[ref.PageIndex]
			if m == nil {
				m = make(map[int]raw.ObjectRef)
				byPage[ref.PageIndex] = m
			}
			m[ref.MCID] = elemRefs[e]
		}
	})

	type entry struct {
		key int
		arr *raw.ArrayObj
	}
	var entries []entry
	nextKey := 0
	for _, page := range doc.Pages {
		mcids := byPage[page.Index]
		if len(mcids) == 0 || page.StructParents < 0 {
			continue
		}
		max := -1
		for m := range mcids {
			if m > max {
				max = m
			}
		}
		arr := &raw.ArrayObj{Items: make([]raw.Object, max+1)}
		for i := 0; i <= max; i++ {
			if ref, ok := mcids[i]; ok {
				arr.Items[i] = raw.RefObj{R: ref}
			} else {
				arr.Items[i] = raw.NullObj{}
			}
		}
		entries = append(entries, entry{key: page.StructParents, arr: arr})
		if page.StructParents >= nextKey {
			nextKey = page.StructParents + 1
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	nums := &raw.ArrayObj{}
	for _, en := range entries {
		arrRef := b.alloc()
		b.objects[arrRef] = en.arr
		nums.Items = append(nums.Items, raw.NumberInt(int64(en.key)), raw.RefObj{R: arrRef})
	}
	pt := raw.Dict()
	pt.Set(raw.NameLiteral("Nums"), nums)
	ptRef := b.alloc()
	b.objects[ptRef] = pt
	return ptRef, nextKey
}

func (b *buildState) rebuildInfo(info *semantic.DocumentInfo) {
	ref := info.OriginalRef
	if ref.Num == 0 {
		if b.info.Num != 0 {
			ref = b.info
		} else {
			ref = b.alloc()
		}
	}
	dict := raw.Dict()
	set := func(key, val string) {
		if val != "" {
			dict.Set(raw.NameLiteral(key), textString(val))
		}
	}
	set("Title", info.Title)
	set("Author", info.Author)
	set("Subject", info.Subject)
	set("Creator", info.Creator)
	set("Producer", info.Producer)
	b.objects[ref] = dict
	b.info = ref
}

func resolveDict(b *buildState, rawDoc *raw.Document, ref raw.ObjectRef) (*raw.DictObj, bool) {
	obj, ok := b.objects[ref]
	if !ok {
		return nil, false
	}
	d, ok := rawDoc.Resolve(obj).(*raw.DictObj)
	return d, ok
}

// textString encodes a PDF text string: plain bytes when ASCII suffices,
// UTF-16BE with BOM otherwise.
func textString(s string) raw.StringObj {
	ascii := true
	for _, r := range s {
		if r > 126 {
			ascii = false
			break
		}
	}
	if ascii {
		return raw.Str([]byte(s))
	}
	u16 := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2+2*len(u16))
	out = append(out, 0xFE, 0xFF)
	for _, u := range u16 {
		out = append(out, byte(u>>8), byte(u))
	}
	return raw.Str(out)
}
