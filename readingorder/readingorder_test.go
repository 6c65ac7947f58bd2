package readingorder

import (
	"testing"

	"pdfua/coords"
	"pdfua/ir/semantic"
)

func elem(page int, llx, lly, urx, ury float64) *semantic.StructureElement {
	return &semantic.StructureElement{
		Tag:       semantic.TagP,
		PageIndex: page,
		BBox:      coords.Rect{LLX: llx, LLY: lly, URX: urx, URY: ury},
	}
}

func tree(elems ...*semantic.StructureElement) *semantic.StructureTree {
	doc := &semantic.StructureElement{Tag: semantic.TagDocument}
	for _, e := range elems {
		doc.AppendKid(e)
	}
	return &semantic.StructureTree{Kids: []*semantic.StructureElement{doc}}
}

func TestSortTopToBottom(t *testing.T) {
	bottom := elem(1, 72, 100, 500, 112)
	top := elem(1, 72, 700, 500, 712)
	tr := tree(bottom, top)

	changed, ambiguous := Config{}.Sort(tr)
	if !changed {
		t.Fatal("expected a reorder")
	}
	if len(ambiguous) != 0 {
		t.Fatalf("ambiguous = %v", ambiguous)
	}
	doc, _ := tr.DocumentElement()
	if doc.Kids[0] != top || doc.Kids[1] != bottom {
		t.Fatal("top element must come first")
	}
	if !tr.Dirty {
		t.Fatal("reorder must mark the tree dirty")
	}
}

func TestSortSharedLineLeftToRight(t *testing.T) {
	// Same band: order by left edge even though the right cell sits a touch
	// higher.
	left := elem(1, 72, 700, 200, 712)
	right := elem(1, 300, 701, 500, 713)
	tr := tree(right, left)

	Config{}.Sort(tr)
	doc, _ := tr.DocumentElement()
	if doc.Kids[0] != left || doc.Kids[1] != right {
		t.Fatal("shared line must order left to right")
	}
}

func TestSortPagesBeforeGeometry(t *testing.T) {
	p2 := elem(2, 72, 700, 500, 712)
	p1 := elem(1, 72, 100, 500, 112)
	tr := tree(p2, p1)

	Config{}.Sort(tr)
	doc, _ := tr.DocumentElement()
	if doc.Kids[0] != p1 {
		t.Fatal("page 1 content must precede page 2")
	}
}

func TestSortIdempotent(t *testing.T) {
	tr := tree(
		elem(1, 72, 700, 500, 712),
		elem(1, 72, 650, 500, 662),
		elem(1, 72, 600, 500, 612),
	)
	changed, _ := Config{}.Sort(tr)
	if changed {
		t.Fatal("ordered input must not change")
	}
	if !(Config{}).Ordered(tr) {
		t.Fatal("ordered input must report ordered")
	}
	// A second pass over a freshly sorted tree is a no-op.
	shuffled := tree(
		elem(1, 72, 600, 500, 612),
		elem(1, 72, 700, 500, 712),
		elem(1, 72, 650, 500, 662),
	)
	Config{}.Sort(shuffled)
	if changed, _ := (Config{}).Sort(shuffled); changed {
		t.Fatal("second sort must be a no-op")
	}
}

func TestSortStableForMissingGeometry(t *testing.T) {
	a := &semantic.StructureElement{Tag: semantic.TagP, PageIndex: 1}
	b := &semantic.StructureElement{Tag: semantic.TagP, PageIndex: 1}
	tr := tree(a, b)
	changed, _ := Config{}.Sort(tr)
	if changed {
		t.Fatal("elements without geometry keep document order")
	}
	doc, _ := tr.DocumentElement()
	if doc.Kids[0] != a || doc.Kids[1] != b {
		t.Fatal("document order lost")
	}
}

func TestAmbiguousPartialOverlap(t *testing.T) {
	// Overlap fraction 0.25: above zero yet below the band, the signature of
	// interleaving columns.
	a := elem(1, 72, 700, 200, 740)
	b := elem(1, 300, 730, 500, 770)
	tr := tree(a, b)
	_, ambiguous := Config{}.Sort(tr)
	if len(ambiguous) != 1 || ambiguous[0] != 1 {
		t.Fatalf("ambiguous = %v", ambiguous)
	}
}

func TestBandConfig(t *testing.T) {
	// Overlap fraction is 0.6 here: one line under the default band, two
	// lines when the band is raised.
	a := elem(1, 300, 700, 500, 710)
	b := elem(1, 72, 704, 200, 714)

	loose := tree(a, b)
	Config{}.Sort(loose)
	doc, _ := loose.DocumentElement()
	if doc.Kids[0] != b {
		t.Fatal("default band: left element first on the shared line")
	}

	strict := tree(a, b)
	Config{Band: 0.8}.Sort(strict)
	doc, _ = strict.DocumentElement()
	if doc.Kids[0] != b {
		t.Fatal("raised band: higher element first")
	}
}

func TestTabOrder(t *testing.T) {
	page := &semantic.Page{
		Index: 1,
		Annotations: []*semantic.Annotation{
			{Subtype: "Widget", Rect: coords.Rect{LLX: 72, LLY: 100, URX: 200, URY: 120}},
			{Subtype: "Widget", Rect: coords.Rect{LLX: 72, LLY: 700, URX: 200, URY: 720}},
		},
	}
	if !(Config{}).TabOrder(page) {
		t.Fatal("expected a change")
	}
	if page.Tabs != "S" {
		t.Fatalf("tabs = %q", page.Tabs)
	}
	if page.Annotations[0].Rect.URY != 720 {
		t.Fatal("annotations must be sorted top first")
	}
	if !page.Dirty {
		t.Fatal("page must be dirty")
	}
	// Already ordered: only re-running must change nothing.
	if (Config{}).TabOrder(page) {
		t.Fatal("second pass must be a no-op")
	}
}
