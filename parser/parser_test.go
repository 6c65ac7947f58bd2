package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"pdfua/ir/raw"
	"pdfua/recovery"
	"pdfua/scanner"
)

// pdfFile assembles a classic-xref PDF with correct byte offsets.
type pdfFile struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func newPDFFile(version string) *pdfFile {
	f := &pdfFile{offsets: make(map[int]int)}
	f.buf.WriteString("%PDF-" + version + "\n")
	return f
}

func (f *pdfFile) object(num int, body string) {
	f.offsets[num] = f.buf.Len()
	fmt.Fprintf(&f.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

// classicXref writes one subsection per object so updates can override
// individual entries.
func (f *pdfFile) classicXref(nums ...int) int {
	off := f.buf.Len()
	f.buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	for _, n := range nums {
		fmt.Fprintf(&f.buf, "%d 1\n%010d 00000 n \n", n, f.offsets[n])
	}
	return off
}

func (f *pdfFile) finish(trailer string, startxref int) []byte {
	fmt.Fprintf(&f.buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, startxref)
	return f.buf.Bytes()
}

func (f *pdfFile) addBody(pageContent string) {
	f.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	f.object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	f.object(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(pageContent), pageContent))
}

func minimalPDF() []byte {
	f := newPDFFile("1.7")
	f.addBody("BT (Hi) Tj ET")
	x := f.classicXref(1, 2, 3, 4)
	return f.finish("<< /Size 5 /Root 1 0 R >>", x)
}

func mustParse(t *testing.T, cfg Config, data []byte) *raw.Document {
	t.Helper()
	doc, err := NewDocumentParser(cfg).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestParseMinimalDocument(t *testing.T) {
	doc := mustParse(t, Config{}, minimalPDF())

	if doc.Version != "1.7" {
		t.Errorf("version = %q, want 1.7", doc.Version)
	}
	if doc.Encrypted {
		t.Error("unencrypted document reported as encrypted")
	}
	if !doc.Permissions.ExtractAccessible {
		t.Error("unencrypted document should permit everything")
	}
	if _, _, ok := doc.Catalog(); !ok {
		t.Fatal("catalog not resolvable")
	}
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatalf("object 4 is %T, want stream", doc.Objects[raw.ObjectRef{Num: 4}])
	}
	if got := string(stm.RawData()); got != "BT (Hi) Tj ET" {
		t.Errorf("content stream = %q", got)
	}
}

func TestParseMissingHeader(t *testing.T) {
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), []byte("not a pdf"))
	if err == nil {
		t.Fatal("expected error for missing %PDF header")
	}
}

func TestParseIncrementalUpdate(t *testing.T) {
	f := newPDFFile("1.7")
	f.addBody("BT (Hi) Tj ET")
	x1 := f.classicXref(1, 2, 3, 4)
	f.finish("<< /Size 5 /Root 1 0 R >>", x1)

	// incremental section replacing the content stream
	updated := "BT (Bye) Tj ET"
	f.object(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(updated), updated))
	x2 := f.classicXref(4)
	data := f.finish(fmt.Sprintf("<< /Size 5 /Root 1 0 R /Prev %d >>", x1), x2)

	doc := mustParse(t, Config{}, data)
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatal("object 4 missing")
	}
	if got := string(stm.RawData()); got != updated {
		t.Errorf("content stream = %q, want the updated revision", got)
	}
}

func TestParseIndirectStreamLength(t *testing.T) {
	content := "BT (Hi) Tj ET"
	f := newPDFFile("1.7")
	f.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	f.object(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	f.object(4, fmt.Sprintf("<< /Length 5 0 R >>\nstream\n%s\nendstream", content))
	f.object(5, fmt.Sprint(len(content)))
	x := f.classicXref(1, 2, 3, 4, 5)
	data := f.finish("<< /Size 6 /Root 1 0 R >>", x)

	doc := mustParse(t, Config{}, data)
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatal("object 4 missing")
	}
	if got := string(stm.RawData()); got != content {
		t.Errorf("content stream = %q", got)
	}
}

func TestParseBrokenXrefFallsBackToScan(t *testing.T) {
	f := newPDFFile("1.7")
	f.addBody("BT (Hi) Tj ET")
	f.classicXref(1, 2, 3, 4)
	data := f.finish("<< /Size 5 /Root 1 0 R >>", 999999999)

	doc := mustParse(t, Config{}, data)
	if _, _, ok := doc.Catalog(); !ok {
		t.Fatal("catalog not recovered after xref repair")
	}
	for num := 1; num <= 4; num++ {
		if _, ok := doc.Objects[raw.ObjectRef{Num: num}]; !ok {
			t.Errorf("object %d not recovered", num)
		}
	}
}

func TestParseRecoveryStrategy(t *testing.T) {
	broken := func() []byte {
		f := newPDFFile("1.7")
		f.addBody("BT (Hi) Tj ET")
		f.offsets[4] += 2 // entry points inside the object header
		x := f.classicXref(1, 2, 3, 4)
		return f.finish("<< /Size 5 /Root 1 0 R >>", x)
	}

	// default skips the unreadable object
	doc := mustParse(t, Config{}, broken())
	if _, ok := doc.Objects[raw.ObjectRef{Num: 4}]; ok {
		t.Error("unreadable object should have been skipped")
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 1}]; !ok {
		t.Error("healthy objects should survive")
	}

	if _, err := NewDocumentParser(Config{Recovery: recovery.Strict{}}).Parse(context.Background(), broken()); err == nil {
		t.Error("strict recovery should fail on the unreadable object")
	}

	lenient := &recovery.Lenient{MaxSkips: 3}
	mustParse(t, Config{Recovery: lenient}, broken())
	if lenient.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", lenient.Skipped())
	}
}

// xrefStreamPDF builds a file indexed by a cross-reference stream, with the
// catalog and one extra dictionary packed into an object stream.
func xrefStreamPDF() []byte {
	var buf bytes.Buffer
	offsets := make(map[int]int)
	obj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	buf.WriteString("%PDF-1.7\n")
	obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	obj(4, "<< /Length 13 >>\nstream\nBT (Hi) Tj ET\nendstream")

	cat := "<< /Type /Catalog /Pages 2 0 R >>"
	marker := "<< /Marker true >>"
	header := fmt.Sprintf("1 0 5 %d\n", len(cat)+1)
	stmBody := header + cat + " " + marker
	obj(6, fmt.Sprintf("<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n%s\nendstream",
		len(header), len(stmBody), stmBody))

	xrefOff := buf.Len()
	var rows bytes.Buffer
	row := func(f1, f2, f3 int) {
		rows.Write([]byte{byte(f1), byte(f2 >> 8), byte(f2), byte(f3)})
	}
	// objects 1 and 5 live in object stream 6; 7 is the xref stream itself
	row(0, 0, 255)
	row(2, 6, 0)
	row(1, offsets[2], 0)
	row(1, offsets[3], 0)
	row(1, offsets[4], 0)
	row(2, 6, 1)
	row(1, offsets[6], 0)
	row(1, xrefOff, 0)
	fmt.Fprintf(&buf, "7 0 obj\n<< /Length %d /Root 1 0 R /Size 8 /Type /XRef /W [1 2 1] >>\nstream\n", rows.Len())
	buf.Write(rows.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestParseXrefStreamAndObjectStream(t *testing.T) {
	doc := mustParse(t, Config{}, xrefStreamPDF())

	catalog, ref, ok := doc.Catalog()
	if !ok {
		t.Fatal("catalog not resolvable from object stream")
	}
	if ref.Num != 1 {
		t.Errorf("catalog ref = %v, want 1 0", ref)
	}
	if raw.DictGetName(catalog, "Type") != "Catalog" {
		t.Error("catalog /Type wrong")
	}
	marker, ok := doc.Objects[raw.ObjectRef{Num: 5}].(*raw.DictObj)
	if !ok {
		t.Fatal("second compressed object missing")
	}
	if v, ok := marker.Get(raw.NameLiteral("Marker")); !ok || !v.(raw.Boolean).Value() {
		t.Error("compressed object lost its content")
	}
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.Stream)
	if !ok {
		t.Fatal("content stream missing")
	}
	if got := string(stm.RawData()); got != "BT (Hi) Tj ET" {
		t.Errorf("content stream = %q", got)
	}
}

func parseOne(t *testing.T, src string) raw.Object {
	t.Helper()
	obj, err := parseObject(scanner.New([]byte(src)), 0)
	if err != nil {
		t.Fatalf("parseObject(%q): %v", src, err)
	}
	return obj
}

func TestParseObjectForms(t *testing.T) {
	if n := parseOne(t, "42").(raw.Number); !n.IsInteger() || n.Int() != 42 {
		t.Errorf("integer parse wrong: %v", n)
	}
	if n := parseOne(t, "-3.5").(raw.Number); n.IsInteger() || n.Float() != -3.5 {
		t.Errorf("real parse wrong: %v", n)
	}
	if s := parseOne(t, "(hi)").(raw.String); string(s.Value()) != "hi" || s.IsHex() {
		t.Errorf("literal string parse wrong: %v", s)
	}
	if s := parseOne(t, "<4869>").(raw.String); string(s.Value()) != "Hi" || !s.IsHex() {
		t.Errorf("hex string parse wrong: %v", s)
	}
	if n := parseOne(t, "/Name").(raw.Name); n.Value() != "Name" {
		t.Errorf("name parse wrong: %v", n)
	}
	if b := parseOne(t, "true").(raw.Boolean); !b.Value() {
		t.Error("boolean parse wrong")
	}
	if _, ok := parseOne(t, "null").(raw.Null); !ok {
		t.Error("null parse wrong")
	}
	if r := parseOne(t, "7 0 R").(raw.Reference); r.Ref() != (raw.ObjectRef{Num: 7}) {
		t.Errorf("reference parse wrong: %v", r.Ref())
	}
}

func TestParseReferenceLookahead(t *testing.T) {
	// two bare integers must not collapse into a reference
	arr := parseOne(t, "[5 3]").(raw.Array)
	if arr.Len() != 2 {
		t.Fatalf("array len = %d, want 2", arr.Len())
	}

	arr = parseOne(t, "[1 0 R 2]").(raw.Array)
	if arr.Len() != 2 {
		t.Fatalf("array len = %d, want 2", arr.Len())
	}
	if _, ok := mustGet(arr, 0).(raw.Reference); !ok {
		t.Error("first element should be a reference")
	}
	if n, ok := mustGet(arr, 1).(raw.Number); !ok || n.Int() != 2 {
		t.Error("second element should be the integer 2")
	}
}

func mustGet(arr raw.Array, i int) raw.Object {
	obj, _ := arr.Get(i)
	return obj
}

func TestParseDict(t *testing.T) {
	d := parseOne(t, "<< /A 1 /B [true null] /C << /D (x) >> >>").(raw.Dictionary)
	if d.Len() != 3 {
		t.Fatalf("dict len = %d, want 3", d.Len())
	}
	if n, ok := raw.DictGetInt(d.(*raw.DictObj), "A"); !ok || n != 1 {
		t.Error("/A lost")
	}
	inner, ok := d.Get(raw.NameLiteral("C"))
	if !ok {
		t.Fatal("/C lost")
	}
	if _, ok := inner.(raw.Dictionary); !ok {
		t.Errorf("/C is %T, want dictionary", inner)
	}
}

func TestParseDepthLimit(t *testing.T) {
	src := strings.Repeat("[", maxParseDepth+2) + strings.Repeat("]", maxParseDepth+2)
	if _, err := parseObject(scanner.New([]byte(src)), 0); err == nil {
		t.Fatal("expected nesting depth error")
	}
}

func TestDetectHeaderVersion(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{"%PDF-1.4\nrest", "1.4"},
		{"%PDF-2.0\n", "2.0"},
		{"junk", "1.7"},
	}
	for _, tt := range tests {
		if got := detectHeaderVersion([]byte(tt.data)); got != tt.want {
			t.Errorf("detectHeaderVersion(%q) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestFilterChainForms(t *testing.T) {
	d := raw.Dict()
	d.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	names, params := filterChain(d)
	if len(names) != 1 || names[0] != "FlateDecode" || len(params) != 0 {
		t.Errorf("single filter: names=%v params=%v", names, params)
	}

	d = raw.Dict()
	d.Set(raw.NameLiteral("Filter"), raw.NewArray(
		raw.NameLiteral("ASCIIHexDecode"), raw.NameLiteral("FlateDecode")))
	parms := raw.Dict()
	parms.Set(raw.NameLiteral("Predictor"), raw.NumberInt(12))
	d.Set(raw.NameLiteral("DecodeParms"), raw.NewArray(raw.NullObj{}, parms))
	names, params = filterChain(d)
	if len(names) != 2 || names[0] != "ASCIIHexDecode" || names[1] != "FlateDecode" {
		t.Errorf("filter array: %v", names)
	}
	if len(params) != 2 || params[0] != nil || params[1] == nil {
		t.Errorf("decode parms: %v", params)
	}
}
