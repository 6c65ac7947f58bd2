package contentstream

import (
	"bytes"
	"errors"
	"testing"

	"pdfua/ir/raw"
)

func mustTokenize(t *testing.T, data string) []Operation {
	t.Helper()
	ops, err := Tokenize([]byte(data))
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	return ops
}

func TestTokenizeBasic(t *testing.T) {
	ops := mustTokenize(t, "BT /F1 12 Tf (Hello) Tj ET")
	want := []string{"BT", "Tf", "Tj", "ET"}
	if len(ops) != len(want) {
		t.Fatalf("got %d operations, want %d", len(ops), len(want))
	}
	for i, w := range want {
		if ops[i].Operator != w {
			t.Errorf("op %d = %q, want %q", i, ops[i].Operator, w)
		}
	}
	if len(ops[1].Operands) != 2 {
		t.Fatalf("Tf operands: %v", ops[1].Operands)
	}
	name, ok := ops[1].Operands[0].(raw.NameObj)
	if !ok || name.Val != "F1" {
		t.Fatalf("Tf font operand: %v", ops[1].Operands[0])
	}
	str, ok := ops[2].Operands[0].(raw.StringObj)
	if !ok || string(str.Bytes) != "Hello" {
		t.Fatalf("Tj operand: %v", ops[2].Operands[0])
	}
}

func TestTokenizePreservesSourceBytes(t *testing.T) {
	src := "1 0 0 1 72  720 cm"
	ops := mustTokenize(t, src)
	if len(ops) != 1 {
		t.Fatalf("got %d operations", len(ops))
	}
	// Raw keeps the original spelling, double space included.
	if string(ops[0].Raw) != src {
		t.Fatalf("Raw = %q, want %q", ops[0].Raw, src)
	}
}

func TestTokenizeCompoundOperands(t *testing.T) {
	ops := mustTokenize(t, "[(A) -120 (B)] TJ /Span << /MCID 3 >> BDC EMC")
	if len(ops) != 3 {
		t.Fatalf("got %d operations", len(ops))
	}
	arr, ok := ops[0].Operands[0].(*raw.ArrayObj)
	if !ok || arr.Len() != 3 {
		t.Fatalf("TJ operand: %v", ops[0].Operands[0])
	}
	props, ok := ops[1].Operands[1].(*raw.DictObj)
	if !ok {
		t.Fatalf("BDC operand: %v", ops[1].Operands[1])
	}
	if mcid, _ := raw.DictGetInt(props, "MCID"); mcid != 3 {
		t.Fatalf("MCID = %d", mcid)
	}
}

func TestTokenizeInlineImage(t *testing.T) {
	src := "q BI /W 2 /H 2 /BPC 8 /CS /G ID \x01\x02\x03\x04 EI Q"
	ops := mustTokenize(t, src)
	if len(ops) != 3 {
		t.Fatalf("got %d operations: %v", len(ops), ops)
	}
	img := ops[1]
	if img.Operator != "BI" || img.Kind() != KindInlineImage {
		t.Fatalf("middle op: %+v", img)
	}
	if !bytes.Equal(img.InlineData, []byte{1, 2, 3, 4}) {
		t.Fatalf("inline data: %v", img.InlineData)
	}
	if ops[2].Operator != "Q" {
		t.Fatalf("trailing op: %+v", ops[2])
	}
}

func TestTokenizeMalformed(t *testing.T) {
	cases := []string{
		"(unterminated",
		// operands without an operator
		"1 2 3",
		// inline image missing its EI terminator
		"BI /W 2 ID no-ei",
		// operand count does not match the operator
		"Tj",
		"(text) 1 2 Tf",
		"1 2 Td (x) Tj ET ET 5 q",
		// operand type does not match the operator
		"(text) 12 Tf",
		"/Name TJ",
		"1 2 (3) rg",
		"/P 7 BDC EMC",
		"(x) sc",
		"1 2 3 4 5 scn",
	}
	for _, src := range cases {
		_, err := Tokenize([]byte(src))
		var malformed *MalformedError
		if !errors.As(err, &malformed) {
			t.Errorf("%q: expected MalformedError, got %v", src, err)
		}
	}
}

func TestTokenizeUnknownOperator(t *testing.T) {
	// Operators outside the standard set are kept untouched and their
	// operands are not second-guessed.
	ops := mustTokenize(t, "1 2 xyzzy 0.5 scn /P0 scn")
	if len(ops) != 3 {
		t.Fatalf("got %d operations, want 3", len(ops))
	}
	if ops[0].Operator != "xyzzy" {
		t.Errorf("operator = %q", ops[0].Operator)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	src := "BT /F1 12 Tf (Hi \\(there\\)) Tj ET\n0.5 0.5 0.5 rg"
	ops := mustTokenize(t, src)
	out := Serialize(ops)
	reops, err := Tokenize(out)
	if err != nil {
		t.Fatalf("retokenize: %v", err)
	}
	if len(reops) != len(ops) {
		t.Fatalf("got %d operations after round trip, want %d", len(reops), len(ops))
	}
	for i := range ops {
		if reops[i].Operator != ops[i].Operator {
			t.Errorf("op %d: %q != %q", i, reops[i].Operator, ops[i].Operator)
		}
	}
}

func TestSerializeRendersModifiedOps(t *testing.T) {
	op := NewFillColorOp(Color{R: 0.25, G: 0.5, B: 1})
	out := Serialize([]Operation{op})
	if string(out) != "0.25 0.5 1 rg" {
		t.Fatalf("serialized: %q", out)
	}
}

func TestOperationKinds(t *testing.T) {
	cases := map[string]Kind{
		"Tj":  KindTextShow,
		"TJ":  KindTextShow,
		"f":   KindPathPaint,
		"rg":  KindColorSet,
		"BDC": KindMarkedContentBegin,
		"EMC": KindMarkedContentEnd,
		"Do":  KindXObject,
		"cm":  KindOther,
	}
	for operator, want := range cases {
		op := Operation{Operator: operator}
		if op.Kind() != want {
			t.Errorf("%s: kind = %d, want %d", operator, op.Kind(), want)
		}
	}
}

func TestWrap(t *testing.T) {
	ops := mustTokenize(t, "BT (a) Tj (b) Tj ET")
	out, err := Wrap(ops, []Region{{Start: 1, End: 2, Tag: "P", MCID: 0}, {Start: 2, End: 3, Tag: "P", MCID: 1}})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	want := []string{"BT", "BDC", "Tj", "EMC", "BDC", "Tj", "EMC", "ET"}
	if len(out) != len(want) {
		t.Fatalf("got %d operations, want %d", len(out), len(want))
	}
	for i, w := range want {
		if out[i].Operator != w {
			t.Fatalf("op %d = %q, want %q", i, out[i].Operator, w)
		}
	}
	// Wrapped operations keep their source bytes.
	if string(out[2].Raw) != string(ops[1].Raw) {
		t.Fatalf("wrapped op lost raw bytes: %q", out[2].Raw)
	}
	// Input list is untouched.
	if len(ops) != 4 {
		t.Fatalf("input mutated: %d operations", len(ops))
	}
}

func TestWrapRejectsBadRegions(t *testing.T) {
	ops := mustTokenize(t, "(a) Tj (b) Tj")
	cases := [][]Region{
		{{Start: -1, End: 1}},
		{{Start: 0, End: 3}},
		{{Start: 1, End: 1}},
		{{Start: 0, End: 2}, {Start: 1, End: 2}},
	}
	for i, regions := range cases {
		if _, err := Wrap(ops, regions); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestInspectCoverage(t *testing.T) {
	ops := mustTokenize(t, "/P << /MCID 0 >> BDC (a) Tj EMC (b) Tj /Artifact BMC (c) Tj EMC")
	cov := InspectCoverage(ops)
	if len(cov.MCIDs) != 1 || cov.MCIDs[0] != 0 {
		t.Fatalf("MCIDs = %v", cov.MCIDs)
	}
	// Covered: only the Tj inside the BDC sequence. The BMC sequence has no
	// MCID so its content does not count as tagged.
	wantCovered := map[int]bool{1: true, 3: false, 5: false}
	for i, want := range wantCovered {
		if cov.Covered[i] != want {
			t.Errorf("op %d covered = %v, want %v", i, cov.Covered[i], want)
		}
	}
}

func TestInspectCoverageUnbalancedEMC(t *testing.T) {
	ops := mustTokenize(t, "EMC (a) Tj")
	cov := InspectCoverage(ops)
	if cov.Covered[1] {
		t.Fatal("content after stray EMC must not count as covered")
	}
}

func FuzzTokenize(f *testing.F) {
	f.Add([]byte("BT /F1 12 Tf (Hello) Tj ET"))
	f.Add([]byte("[(A) -120 (B)] TJ"))
	f.Add([]byte("/P << /MCID 0 >> BDC (x) Tj EMC"))
	f.Add([]byte("BI /W 1 /H 1 ID \x00 EI"))
	f.Add([]byte("q 1 0 0 1 10 10 cm Q"))

	f.Fuzz(func(t *testing.T, data []byte) {
		ops, err := Tokenize(data)
		if err != nil {
			return
		}
		// What tokenized must serialize and tokenize again.
		if _, err := Tokenize(Serialize(ops)); err != nil {
			t.Fatalf("retokenize after serialize: %v", err)
		}
	})
}
