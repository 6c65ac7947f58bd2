package writer

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"testing"

	"pdfua/ir/raw"
	"pdfua/ir/semantic"
	"pdfua/parser"
)

// testDoc builds a minimal four-object document: catalog, page tree, one
// page, one content stream.
func testDoc() *raw.Document {
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(2, 0))

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), raw.NewArray(raw.Ref(3, 0)))
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(1))

	page := raw.Dict()
	page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	page.Set(raw.NameLiteral("Parent"), raw.Ref(2, 0))
	page.Set(raw.NameLiteral("MediaBox"), raw.NewArray(
		raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)))
	page.Set(raw.NameLiteral("Contents"), raw.Ref(4, 0))

	content := raw.NewStream(raw.Dict(), []byte("BT (Hi) Tj ET"))

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(1, 0))

	return &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}: catalog,
			{Num: 2}: pages,
			{Num: 3}: page,
			{Num: 4}: content,
		},
		Trailer: trailer,
		Version: "1.7",
	}
}

func write(t *testing.T, cfg Config, rawDoc *raw.Document, doc *semantic.Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := New(cfg).Write(context.Background(), rawDoc, doc, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func reparse(t *testing.T, data []byte) *raw.Document {
	t.Helper()
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return doc
}

func TestWriteRoundTrip(t *testing.T) {
	out := write(t, Config{}, testDoc(), nil)

	if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
		t.Fatalf("missing version header: %q", out[:16])
	}
	if !bytes.HasSuffix(out, []byte("%%EOF\n")) {
		t.Fatalf("missing EOF marker")
	}

	doc := reparse(t, out)
	if _, _, ok := doc.Catalog(); !ok {
		t.Fatal("catalog not resolvable after round trip")
	}
	for num := 1; num <= 4; num++ {
		if _, ok := doc.Objects[raw.ObjectRef{Num: num}]; !ok {
			t.Errorf("object %d 0 missing after round trip", num)
		}
	}
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatalf("object 4 0 is %T, want stream", doc.Objects[raw.ObjectRef{Num: 4}])
	}
	if got := string(stm.RawData()); got != "BT (Hi) Tj ET" {
		t.Errorf("stream data = %q", got)
	}
}

func TestWriteDeterministic(t *testing.T) {
	first := write(t, Config{}, testDoc(), nil)
	second := write(t, Config{}, testDoc(), nil)
	if !bytes.Equal(first, second) {
		t.Fatal("two writes of the same document differ")
	}
}

func TestWriteDropsEncryption(t *testing.T) {
	rawDoc := testDoc()
	enc := raw.Dict()
	enc.Set(raw.NameLiteral("Filter"), raw.NameLiteral("Standard"))
	enc.Set(raw.NameLiteral("V"), raw.NumberInt(2))
	rawDoc.Objects[raw.ObjectRef{Num: 5}] = enc
	rawDoc.Trailer.Set(raw.NameLiteral("Encrypt"), raw.Ref(5, 0))

	out := write(t, Config{}, rawDoc, nil)
	if bytes.Contains(out, []byte("/Encrypt")) {
		t.Error("trailer still references /Encrypt")
	}
	if bytes.Contains(out, []byte("5 0 obj")) {
		t.Error("encryption dictionary object survived")
	}
}

func TestWriteXrefFreeEntriesForGaps(t *testing.T) {
	rawDoc := testDoc()
	extra := raw.Dict()
	extra.Set(raw.NameLiteral("Type"), raw.NameLiteral("Outlines"))
	rawDoc.Objects[raw.ObjectRef{Num: 6}] = extra

	out := write(t, Config{}, rawDoc, nil)
	if !bytes.Contains(out, []byte("xref\n0 7\n")) {
		t.Error("xref subsection should span objects 0 through 6")
	}
	// object 0 plus the gap at 5
	if got := bytes.Count(out, []byte("0000000000 65535 f \n")); got != 2 {
		t.Errorf("free entries = %d, want 2", got)
	}
	reparse(t, out)
}

func TestWriteDirtyPageContent(t *testing.T) {
	rewritten := []byte("/P << /MCID 0 >> BDC BT (Hi) Tj ET EMC")
	doc := &semantic.Document{
		Lang:   "en-US",
		Marked: true,
		Pages: []*semantic.Page{{
			Index:         1,
			OriginalRef:   raw.ObjectRef{Num: 3},
			Contents:      []semantic.ContentStream{{Raw: rewritten, OriginalRef: raw.ObjectRef{Num: 4}}},
			StructParents: 0,
			Tabs:          "S",
			Dirty:         true,
		}},
	}

	out := write(t, Config{}, testDoc(), doc)
	for _, want := range []string{"/Lang (en-US)", "/Marked true", "/Tabs /S", "/StructParents 0"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("output missing %q", want)
		}
	}
	if !bytes.Contains(out, rewritten) {
		t.Error("rewritten content stream not emitted")
	}

	parsed := reparse(t, out)
	stm, ok := parsed.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatal("content stream object missing after round trip")
	}
	if !bytes.Equal(stm.RawData(), rewritten) {
		t.Errorf("content = %q, want %q", stm.RawData(), rewritten)
	}
}

func TestWriteCompressedContent(t *testing.T) {
	content := bytes.Repeat([]byte("BT (Hello hello hello) Tj ET\n"), 8)
	doc := &semantic.Document{
		Pages: []*semantic.Page{{
			Index:         1,
			OriginalRef:   raw.ObjectRef{Num: 3},
			Contents:      []semantic.ContentStream{{Raw: content, OriginalRef: raw.ObjectRef{Num: 4}}},
			StructParents: -1,
			Dirty:         true,
		}},
	}

	out := write(t, Config{Compress: true}, testDoc(), doc)
	parsed := reparse(t, out)
	stm, ok := parsed.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatal("content stream object missing after round trip")
	}
	filter, ok := stm.Dictionary().Get(raw.NameLiteral("Filter"))
	if !ok {
		t.Fatal("compressed stream has no /Filter")
	}
	if name, ok := filter.(raw.Name); !ok || name.Value() != "FlateDecode" {
		t.Fatalf("filter = %v, want FlateDecode", filter)
	}
	zr, err := zlib.NewReader(bytes.NewReader(stm.RawData()))
	if err != nil {
		t.Fatalf("zlib: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("zlib read: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Error("decompressed content does not match the original")
	}
}

func TestWriteStructureTree(t *testing.T) {
	wrapper := &semantic.StructureElement{Tag: semantic.TagDocument}
	para := &semantic.StructureElement{
		Tag:       semantic.TagP,
		PageIndex: 1,
		Content:   []semantic.ContentRef{{PageIndex: 1, MCID: 0}},
	}
	figure := &semantic.StructureElement{
		Tag:       semantic.TagFigure,
		PageIndex: 1,
		Content:   []semantic.ContentRef{{PageIndex: 1, MCID: 1}},
		Alt:       "Quarterly revenue chart",
		HasAlt:    true,
	}
	wrapper.AppendKid(para)
	wrapper.AppendKid(figure)

	doc := &semantic.Document{
		Pages: []*semantic.Page{{
			Index:         1,
			OriginalRef:   raw.ObjectRef{Num: 3},
			Contents:      []semantic.ContentStream{{Raw: []byte("BT ET"), OriginalRef: raw.ObjectRef{Num: 4}}},
			StructParents: 0,
			Dirty:         true,
		}},
		StructTree: &semantic.StructureTree{
			Kids:  []*semantic.StructureElement{wrapper},
			Dirty: true,
		},
	}

	out := write(t, Config{}, testDoc(), doc)
	for _, want := range []string{
		"/StructTreeRoot",
		"/S /Document",
		"/S /P",
		"/S /Figure",
		"/Alt (Quarterly revenue chart)",
		"/ParentTree",
		"/ParentTreeNextKey 1",
		"/Nums",
	} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("output missing %q", want)
		}
	}

	parsed := reparse(t, out)
	catalog, _, ok := parsed.Catalog()
	if !ok {
		t.Fatal("catalog not resolvable")
	}
	stObj, ok := catalog.Get(raw.NameLiteral("StructTreeRoot"))
	if !ok {
		t.Fatal("catalog has no /StructTreeRoot")
	}
	st, ok := parsed.Resolve(stObj).(raw.Dictionary)
	if !ok {
		t.Fatal("/StructTreeRoot is not a dictionary")
	}
	if tp, _ := st.Get(raw.NameLiteral("Type")); tp.(raw.Name).Value() != "StructTreeRoot" {
		t.Errorf("structure root /Type = %v", tp)
	}
}

func TestWriteMetadataStream(t *testing.T) {
	packet := []byte(`<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?><x:xmpmeta xmlns:x="adobe:ns:meta/"></x:xmpmeta><?xpacket end="w"?>`)
	doc := &semantic.Document{
		Metadata: &semantic.XMPMetadata{Raw: packet, Dirty: true},
	}

	out := write(t, Config{}, testDoc(), doc)
	if !bytes.Contains(out, []byte("/Subtype /XML")) {
		t.Error("metadata stream missing /Subtype /XML")
	}
	if !bytes.Contains(out, packet) {
		t.Error("XMP packet not emitted")
	}
	if !bytes.Contains(out, []byte("/Metadata")) {
		t.Error("catalog does not reference the metadata stream")
	}
}

func TestWriteInfoDictionary(t *testing.T) {
	doc := &semantic.Document{
		Info: &semantic.DocumentInfo{Title: "Annual Report", Author: "Finance", Dirty: true},
	}

	out := write(t, Config{}, testDoc(), doc)
	for _, want := range []string{"/Title (Annual Report)", "/Author (Finance)", "/Info"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestWriteNoTrailer(t *testing.T) {
	var buf bytes.Buffer
	if err := New(Config{}).Write(context.Background(), &raw.Document{}, nil, &buf); err == nil {
		t.Fatal("expected error for document without trailer")
	}
	if buf.Len() != 0 {
		t.Error("failed write produced output")
	}
}

func TestWriteCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := New(Config{}).Write(ctx, testDoc(), nil, &buf); err == nil {
		t.Fatal("expected context error")
	}
	if buf.Len() != 0 {
		t.Error("canceled write produced output")
	}
}

func TestWriteNameEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Name", "/Name"},
		{"A B", "/A#20B"},
		{"Fo#o", "/Fo#23o"},
		{"Paren(Name", "/Paren#28Name"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeName(&buf, tt.in)
		if buf.String() != tt.want {
			t.Errorf("writeName(%q) = %q, want %q", tt.in, buf.String(), tt.want)
		}
	}
}

func TestWriteStringEscapes(t *testing.T) {
	var buf bytes.Buffer
	writeString(&buf, raw.Str([]byte("(a)\\b\nc")))
	if got := buf.String(); got != `(\(a\)\\b\nc)` {
		t.Errorf("literal string = %q", got)
	}

	buf.Reset()
	writeString(&buf, raw.HexStr([]byte{0x01, 0xAB}))
	if got := buf.String(); got != "<01AB>" {
		t.Errorf("hex string = %q", got)
	}
}

func TestTextString(t *testing.T) {
	if got := textString("Report"); string(got.Bytes) != "Report" {
		t.Errorf("ascii text = %q", got.Bytes)
	}
	got := textString("Résumé")
	if len(got.Bytes) < 2 || got.Bytes[0] != 0xFE || got.Bytes[1] != 0xFF {
		t.Fatalf("non-ascii text missing UTF-16BE BOM: % X", got.Bytes)
	}
	want := []byte{0xFE, 0xFF, 0, 'R', 0, 0xE9, 0, 's', 0, 'u', 0, 'm', 0, 0xE9}
	if !bytes.Equal(got.Bytes, want) {
		t.Errorf("utf16 text = % X, want % X", got.Bytes, want)
	}
}
