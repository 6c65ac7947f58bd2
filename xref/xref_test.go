package xref

import (
	"strings"
	"testing"
)

const classicSection = "xref\n" +
	"0 3\n" +
	"0000000000 65535 f \n" +
	"0000000017 00000 n \n" +
	"0000000081 00000 n \n" +
	"trailer\n<< /Size 3 /Root 1 0 R >>\n" +
	"startxref\n0\n%%EOF\n"

func TestParseClassicTable(t *testing.T) {
	tbl := NewTable()
	trailerPos, err := ParseTable([]byte(classicSection), 0, tbl)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", tbl.Len())
	}
	e, ok := tbl.Lookup(0)
	if !ok || e.Kind != KindFree || e.Gen != 65535 {
		t.Fatalf("object 0: %+v", e)
	}
	e, ok = tbl.Lookup(1)
	if !ok || e.Kind != KindInFile || e.Offset != 17 {
		t.Fatalf("object 1: %+v", e)
	}
	e, ok = tbl.Lookup(2)
	if !ok || e.Kind != KindInFile || e.Offset != 81 {
		t.Fatalf("object 2: %+v", e)
	}
	rest := classicSection[trailerPos:]
	if !strings.HasPrefix(strings.TrimSpace(rest), "<<") {
		t.Fatalf("trailer position wrong, rest starts %q", rest[:8])
	}
}

func TestParseTableMultipleSubsections(t *testing.T) {
	section := "xref\n" +
		"0 1\n" +
		"0000000000 65535 f \n" +
		"5 2\n" +
		"0000000100 00000 n \n" +
		"0000000200 00000 n \n" +
		"trailer\n<< >>\n"
	tbl := NewTable()
	if _, err := ParseTable([]byte(section), 0, tbl); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := tbl.Objects(); len(got) != 3 || got[0] != 0 || got[1] != 5 || got[2] != 6 {
		t.Fatalf("objects = %v", got)
	}
	if e, _ := tbl.Lookup(6); e.Offset != 200 {
		t.Fatalf("object 6 offset = %d", e.Offset)
	}
}

func TestFirstDefinitionWins(t *testing.T) {
	// The /Prev chain is walked newest first, so an earlier section must not
	// overwrite an entry the newer section already defined.
	tbl := NewTable()
	tbl.add(4, Entry{Kind: KindInFile, Offset: 500})
	tbl.add(4, Entry{Kind: KindInFile, Offset: 100})
	if e, _ := tbl.Lookup(4); e.Offset != 500 {
		t.Fatalf("offset = %d, want 500", e.Offset)
	}
}

func TestFindStartXref(t *testing.T) {
	head := "%PDF-1.7\n" + strings.Repeat("%", 32) + "\n"
	data := []byte(head + "xref\n0 1\n0000000000 65535 f \nstartxref\n42\n%%EOF\n")
	off, err := FindStartXref(data)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if off != 42 {
		t.Fatalf("offset = %d, want 42", off)
	}
	if !strings.HasPrefix(string(data[off:]), "xref\n") {
		t.Fatalf("offset %d does not point at the xref keyword", off)
	}

	if _, err := FindStartXref([]byte("no marker here")); err == nil {
		t.Fatal("expected error without startxref")
	}
	if _, err := FindStartXref([]byte("startxref\n999999\n%%EOF")); err == nil {
		t.Fatal("expected out-of-range offset error")
	}
}

func TestIsClassicTable(t *testing.T) {
	data := []byte("  \nxref\n0 1\n")
	if !IsClassicTable(data, 0) {
		t.Fatal("expected classic table")
	}
	if IsClassicTable([]byte("12 0 obj"), 0) {
		t.Fatal("xref stream object misidentified as classic table")
	}
}

func TestAddStreamEntries(t *testing.T) {
	// W = [1 2 1]: type byte, two-byte field, one-byte field.
	decoded := []byte{
		0, 0x00, 0x00, 0xFF, // free, next free 0, gen 255
		1, 0x01, 0x2C, 0x00, // in file at 300
		2, 0x00, 0x07, 0x02, // in stream 7, index 2
	}
	tbl := NewTable()
	if err := AddStreamEntries(decoded, []int{1, 2, 1}, []int{10, 3}, tbl); err != nil {
		t.Fatalf("add: %v", err)
	}
	if e, _ := tbl.Lookup(10); e.Kind != KindFree {
		t.Fatalf("object 10: %+v", e)
	}
	if e, _ := tbl.Lookup(11); e.Kind != KindInFile || e.Offset != 300 {
		t.Fatalf("object 11: %+v", e)
	}
	if e, _ := tbl.Lookup(12); e.Kind != KindInStream || e.StreamNum != 7 || e.StreamIdx != 2 {
		t.Fatalf("object 12: %+v", e)
	}
}

func TestAddStreamEntriesDefaultType(t *testing.T) {
	// W[0] == 0 means every entry is type 1.
	decoded := []byte{0x00, 0x40, 0x00}
	tbl := NewTable()
	if err := AddStreamEntries(decoded, []int{0, 2, 1}, nil, tbl); err != nil {
		t.Fatalf("add: %v", err)
	}
	if e, _ := tbl.Lookup(0); e.Kind != KindInFile || e.Offset != 0x40 {
		t.Fatalf("object 0: %+v", e)
	}
}

func TestRepairFindsObjects(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n2 0 obj\n(x)\nendobj\n1 0 obj\n<< /New true >>\nendobj\n")
	tbl := Repair(data)
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 objects, got %d", tbl.Len())
	}
	// The later body of object 1 supersedes the first.
	e, ok := tbl.Lookup(1)
	if !ok || e.Kind != KindInFile {
		t.Fatalf("object 1: %+v", e)
	}
	first := int64(len("%PDF-1.4\n"))
	if e.Offset <= first {
		t.Fatalf("object 1 offset %d should point at the later body", e.Offset)
	}
}
