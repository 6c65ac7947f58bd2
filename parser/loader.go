package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"pdfua/filters"
	"pdfua/ir/raw"
	"pdfua/observability"
	"pdfua/recovery"
	"pdfua/scanner"
	"pdfua/security"
	"pdfua/xref"
)

// Config controls document parsing.
type Config struct {
	Filters  *filters.Pipeline
	Password string
	Logger   observability.Logger
	// Recovery decides how unreadable objects are handled. Nil skips
	// them without bound.
	Recovery recovery.Strategy
	// MaxXRefDepth bounds the /Prev chain walk.
	MaxXRefDepth int
}

// DocumentParser builds a raw.Document from PDF bytes: xref resolution,
// object loading (including object streams), and decryption.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefault()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.MaxXRefDepth == 0 {
		cfg.MaxXRefDepth = 64
	}
	return &DocumentParser{cfg: cfg}
}

type loader struct {
	ctx     context.Context
	cfg     Config
	sc      *scanner.Scanner
	table   *xref.Table
	trailer *raw.DictObj
	sec     security.Handler
	cache   map[raw.ObjectRef]raw.Object
	loading map[int]bool // guards circular Length references
	objStms map[int][]raw.Object
}

// Parse loads the whole document. On a broken xref chain it falls back to a
// brute-force object scan before giving up.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, errors.New("parser: missing %PDF header")
	}
	l := &loader{
		ctx:     ctx,
		cfg:     p.cfg,
		sc:      scanner.New(data),
		table:   xref.NewTable(),
		trailer: raw.Dict(),
		sec:     security.NoopHandler(),
		cache:   make(map[raw.ObjectRef]raw.Object),
		loading: make(map[int]bool),
		objStms: make(map[int][]raw.Object),
	}

	if err := l.resolveXRef(data); err != nil {
		p.cfg.Logger.Warn("xref resolution failed, scanning for objects", observability.Error("err", err))
		l.table = xref.Repair(data)
		if l.table.Len() == 0 {
			return nil, fmt.Errorf("parser: %w", err)
		}
		if err := l.recoverTrailer(); err != nil {
			return nil, fmt.Errorf("parser: xref repair: %w", err)
		}
	}

	if err := l.setupSecurity(); err != nil {
		return nil, err
	}

	doc := &raw.Document{
		Objects:     make(map[raw.ObjectRef]raw.Object),
		Trailer:     l.trailer,
		Version:     detectHeaderVersion(data),
		Permissions: l.sec.Permissions(),
		Encrypted:   l.sec.IsEncrypted(),
	}
	for _, num := range l.table.Objects() {
		if num == 0 {
			continue // free list head
		}
		entry, _ := l.table.Lookup(num)
		if entry.Kind == xref.KindFree {
			continue
		}
		ref := raw.ObjectRef{Num: num, Gen: entry.Gen}
		obj, err := l.load(ref)
		if err != nil {
			loc := recovery.Location{ObjectNum: num, ObjectGen: entry.Gen, ByteOffset: entry.Offset, Component: "parser"}
			if p.cfg.Recovery != nil && p.cfg.Recovery.OnError(ctx, err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("parser: object %d: %w", num, err)
			}
			p.cfg.Logger.Warn("skipping unreadable object",
				observability.Int("obj", num), observability.Error("err", err))
			continue
		}
		if entry.Kind == xref.KindInStream {
			ref.Gen = 0
		}
		doc.Objects[ref] = obj
	}
	p.cfg.Logger.Debug("document loaded", observability.Int("objects", len(doc.Objects)))
	return doc, nil
}

func detectHeaderVersion(data []byte) string {
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) >= 8 && bytes.HasPrefix(line, []byte("%PDF-")) {
		return string(bytes.TrimSpace(line[5:8]))
	}
	return "1.7"
}

// resolveXRef walks the startxref / Prev chain, handling both classic
// tables and cross-reference streams, merging trailer dictionaries with
// newest-wins semantics.
func (l *loader) resolveXRef(data []byte) error {
	offset, err := xref.FindStartXref(data)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for depth := 0; depth < l.cfg.MaxXRefDepth; depth++ {
		if seen[offset] {
			return errors.New("parser: circular xref chain")
		}
		seen[offset] = true

		var trailer *raw.DictObj
		if xref.IsClassicTable(data, offset) {
			trailerPos, err := xref.ParseTable(data, offset, l.table)
			if err != nil {
				return err
			}
			if err := l.sc.Seek(trailerPos); err != nil {
				return err
			}
			obj, err := parseObject(l.sc, 0)
			if err != nil {
				return fmt.Errorf("parse trailer: %w", err)
			}
			var ok bool
			trailer, ok = obj.(*raw.DictObj)
			if !ok {
				return errors.New("parser: trailer is not a dictionary")
			}
			// hybrid-reference files carry a parallel xref stream
			if xs, ok := raw.DictGetInt(trailer, "XRefStm"); ok {
				if err := l.parseXRefStream(xs); err != nil {
					return err
				}
			}
		} else {
			trailer, err = l.parseXRefStreamAt(offset)
			if err != nil {
				return err
			}
		}
		mergeTrailer(l.trailer, trailer)
		prev, ok := raw.DictGetInt(trailer, "Prev")
		if !ok {
			return nil
		}
		offset = prev
	}
	return errors.New("parser: xref chain too deep")
}

func (l *loader) parseXRefStream(offset int64) error {
	_, err := l.parseXRefStreamAt(offset)
	return err
}

// parseXRefStreamAt loads the xref stream object at the given offset and
// returns its dictionary, which doubles as the trailer.
func (l *loader) parseXRefStreamAt(offset int64) (*raw.DictObj, error) {
	obj, _, err := l.loadAt(offset, false)
	if err != nil {
		return nil, fmt.Errorf("parse xref stream: %w", err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("parser: xref offset does not address a stream")
	}
	decoded, err := l.decodeStream(stm)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	w := intArray(stm.Dict, "W")
	index := intArray(stm.Dict, "Index")
	if err := xref.AddStreamEntries(decoded, w, index, l.table); err != nil {
		return nil, err
	}
	return stm.Dict, nil
}

func intArray(d *raw.DictObj, key string) []int {
	obj, ok := d.Get(raw.NameLiteral(key))
	if !ok {
		return nil
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil
	}
	out := make([]int, 0, arr.Len())
	for _, item := range arr.Items {
		if n, ok := item.(raw.Number); ok {
			out = append(out, int(n.Int()))
		}
	}
	return out
}

func mergeTrailer(dst, src *raw.DictObj) {
	for k, v := range src.KV {
		if _, exists := dst.KV[k]; !exists {
			dst.Set(raw.NameLiteral(k), v)
		}
	}
}

// recoverTrailer finds a /Root after brute-force repair by scanning the
// recovered objects for a catalog dictionary and any trailer dict in the file.
func (l *loader) recoverTrailer() error {
	data := l.sc.Data()
	if idx := bytes.LastIndex(data, []byte("trailer")); idx >= 0 {
		if err := l.sc.Seek(int64(idx + len("trailer"))); err == nil {
			if obj, err := parseObject(l.sc, 0); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					mergeTrailer(l.trailer, d)
				}
			}
		}
	}
	if _, ok := l.trailer.Get(raw.NameLiteral("Root")); ok {
		return nil
	}
	for _, num := range l.table.Objects() {
		entry, _ := l.table.Lookup(num)
		obj, _, err := l.loadAt(entry.Offset, false)
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			if raw.DictGetName(d, "Type") == "Catalog" {
				l.trailer.Set(raw.NameLiteral("Root"), raw.Ref(num, entry.Gen))
				return nil
			}
		}
	}
	return errors.New("no document catalog found")
}

func (l *loader) setupSecurity() error {
	encObj, ok := l.trailer.Get(raw.NameLiteral("Encrypt"))
	if !ok {
		return nil
	}
	// the encrypt dictionary itself is never encrypted
	if ref, isRef := encObj.(raw.Reference); isRef {
		entry, found := l.table.Lookup(ref.Ref().Num)
		if !found {
			return errors.New("parser: encrypt dictionary unresolvable")
		}
		obj, _, err := l.loadAt(entry.Offset, false)
		if err != nil {
			return fmt.Errorf("load encrypt dict: %w", err)
		}
		encObj = obj
	}
	encDict, ok := encObj.(*raw.DictObj)
	if !ok {
		return errors.New("parser: encrypt entry is not a dictionary")
	}
	var fileID []byte
	if idObj, ok := l.trailer.Get(raw.NameLiteral("ID")); ok {
		if idArr, ok := idObj.(*raw.ArrayObj); ok && idArr.Len() > 0 {
			if s, ok := idArr.Items[0].(raw.String); ok {
				fileID = s.Value()
			}
		}
	}
	b := &security.HandlerBuilder{}
	sec, err := b.WithEncryptDict(encDict).WithFileID(fileID).Build()
	if err != nil {
		return err
	}
	if err := sec.Authenticate(l.cfg.Password); err != nil {
		return err
	}
	l.sec = sec
	return nil
}

// load resolves one object through the xref table with caching.
func (l *loader) load(ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := l.cache[ref]; ok {
		return obj, nil
	}
	entry, found := l.table.Lookup(ref.Num)
	if !found {
		return raw.NullObj{}, nil
	}
	var obj raw.Object
	var err error
	switch entry.Kind {
	case xref.KindFree:
		obj = raw.NullObj{}
	case xref.KindInFile:
		obj, _, err = l.loadAt(entry.Offset, true)
	case xref.KindInStream:
		obj, err = l.loadFromObjectStream(entry.StreamNum, entry.StreamIdx)
	}
	if err != nil {
		return nil, err
	}
	l.cache[ref] = obj
	return obj, nil
}

// loadAt parses the indirect object at an absolute file offset. When
// decrypt is true, string and stream payloads are decrypted with the
// object's own number and generation.
func (l *loader) loadAt(offset int64, decrypt bool) (raw.Object, raw.ObjectRef, error) {
	if err := l.sc.Seek(offset); err != nil {
		return nil, raw.ObjectRef{}, err
	}
	numTok, err := l.sc.Next()
	if err != nil || numTok.Type != scanner.TokenNumber {
		return nil, raw.ObjectRef{}, fmt.Errorf("parser: no object header at %d", offset)
	}
	genTok, err := l.sc.Next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return nil, raw.ObjectRef{}, fmt.Errorf("parser: bad object header at %d", offset)
	}
	kw, err := l.sc.Next()
	if err != nil || kw.Type != scanner.TokenKeyword || kw.Text != "obj" {
		return nil, raw.ObjectRef{}, fmt.Errorf("parser: expected 'obj' at %d", offset)
	}
	ref := raw.ObjectRef{Num: int(numTok.Num), Gen: int(genTok.Num)}

	obj, err := parseObject(l.sc, 0)
	if err != nil {
		return nil, ref, err
	}

	// a dictionary followed by 'stream' is a stream object
	if dict, ok := obj.(*raw.DictObj); ok {
		save := l.sc.Position()
		next, err := l.sc.Next()
		if err == nil && next.Type == scanner.TokenKeyword && next.Text == "stream" {
			data, err := l.readStreamPayload(dict)
			if err != nil {
				return nil, ref, err
			}
			if decrypt && l.sec.IsEncrypted() {
				class := security.DataClassStream
				if raw.DictGetName(dict, "Type") == "Metadata" {
					class = security.DataClassMetadataStream
				}
				data, err = l.sec.Decrypt(ref.Num, ref.Gen, data, class)
				if err != nil {
					return nil, ref, err
				}
			}
			obj = raw.NewStream(dict, data)
		} else {
			l.sc.Seek(save)
		}
	}
	if decrypt && l.sec.IsEncrypted() {
		obj = l.decryptStrings(obj, ref)
	}
	return obj, ref, nil
}

func (l *loader) readStreamPayload(dict *raw.DictObj) ([]byte, error) {
	length, ok := raw.DictGetInt(dict, "Length")
	if !ok {
		// /Length may be an indirect reference
		if lenObj, present := dict.Get(raw.NameLiteral("Length")); present {
			if ref, isRef := lenObj.(raw.Reference); isRef && !l.loading[ref.Ref().Num] {
				l.loading[ref.Ref().Num] = true
				save := l.sc.Position()
				resolved, err := l.load(ref.Ref())
				l.sc.Seek(save)
				delete(l.loading, ref.Ref().Num)
				if err == nil {
					if n, isNum := resolved.(raw.Number); isNum {
						length = n.Int()
						ok = true
					}
				}
			}
		}
	}
	if ok {
		data, err := l.sc.ReadStreamData(length)
		if err == nil {
			return data, nil
		}
	}
	// fall back to scanning for the endstream keyword
	start := l.sc.Position()
	end, found := l.sc.FindStreamEnd()
	if !found {
		return nil, errors.New("parser: unterminated stream")
	}
	data := l.sc.Data()[start:end]
	data = bytes.TrimRight(data, "\r\n")
	l.sc.Seek(end)
	return data, nil
}

func (l *loader) decryptStrings(obj raw.Object, ref raw.ObjectRef) raw.Object {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := l.sec.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return v
		}
		return raw.StringObj{Bytes: dec, Hex: v.Hex}
	case *raw.ArrayObj:
		for i, item := range v.Items {
			v.Items[i] = l.decryptStrings(item, ref)
		}
	case *raw.DictObj:
		for k, item := range v.KV {
			v.KV[k] = l.decryptStrings(item, ref)
		}
	case *raw.StreamObj:
		l.decryptStrings(v.Dict, ref)
	}
	return obj
}

func (l *loader) decodeStream(stm *raw.StreamObj) ([]byte, error) {
	names, params := filterChain(stm.Dict)
	return l.cfg.Filters.Decode(l.ctx, stm.Data, names, params)
}

func filterChain(dict *raw.DictObj) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary
	if fObj, ok := dict.Get(raw.NameLiteral("Filter")); ok {
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
	if pObj, ok := dict.Get(raw.NameLiteral("DecodeParms")); ok {
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
	return names, params
}

// loadFromObjectStream extracts the idx-th object of object stream stmNum.
// The whole stream is parsed once and memoized.
func (l *loader) loadFromObjectStream(stmNum, idx int) (raw.Object, error) {
	objs, ok := l.objStms[stmNum]
	if !ok {
		entry, found := l.table.Lookup(stmNum)
		if !found || entry.Kind != xref.KindInFile {
			return nil, fmt.Errorf("parser: object stream %d unresolvable", stmNum)
		}
		obj, _, err := l.loadAt(entry.Offset, true)
		if err != nil {
			return nil, err
		}
		stm, isStm := obj.(*raw.StreamObj)
		if !isStm {
			return nil, fmt.Errorf("parser: object %d is not an object stream", stmNum)
		}
		decoded, err := l.decodeStream(stm)
		if err != nil {
			return nil, err
		}
		n, _ := raw.DictGetInt(stm.Dict, "N")
		first, _ := raw.DictGetInt(stm.Dict, "First")
		objs, err = parseObjectStream(decoded, int(n), int(first))
		if err != nil {
			return nil, err
		}
		l.objStms[stmNum] = objs
	}
	if idx < 0 || idx >= len(objs) {
		return nil, fmt.Errorf("parser: object stream index %d out of range", idx)
	}
	return objs[idx], nil
}

func parseObjectStream(decoded []byte, n, first int) ([]raw.Object, error) {
	header := scanner.New(decoded)
	offsets := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if _, err := header.Next(); err != nil { // object number, unused here
			return nil, err
		}
		offTok, err := header.Next()
		if err != nil || offTok.Type != scanner.TokenNumber {
			return nil, errors.New("parser: malformed object stream header")
		}
		offsets = append(offsets, int64(first)+int64(offTok.Num))
	}
	objs := make([]raw.Object, 0, n)
	body := scanner.New(decoded)
	for _, off := range offsets {
		if err := body.Seek(off); err != nil {
			return nil, err
		}
		obj, err := parseObject(body, 0)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
