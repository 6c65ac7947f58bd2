// Package readingorder sorts structure elements into visual reading order
// and derives widget tab order from it. The comparator is banded: elements
// whose vertical ranges overlap by more than the band fraction count as the
// same line and order left to right; otherwise top of page comes first.
//
// Multi-column layouts are a known limitation. When two columns' line
// bands overlap the sort can interleave them; such pages are reported as
// ambiguous rather than silently accepted.
package readingorder

import (
	"sort"

	"pdfua/coords"
	"pdfua/ir/semantic"
)

// DefaultBand is the vertical-overlap fraction above which two elements
// are treated as sharing a line.
const DefaultBand = 0.5

// Config controls the resolver.
type Config struct {
	Band float64
}

func (c Config) band() float64 {
	if c.Band <= 0 || c.Band >= 1 {
		return DefaultBand
	}
	return c.Band
}

// Less is the banded comparator over element regions: ascending page,
// then descending top edge, with left-to-right order inside a shared
// line band. Elements without geometry compare equal so a stable sort
// leaves them in document order.
func (c Config) Less(a, b *semantic.StructureElement) bool {
	if a.PageIndex != b.PageIndex {
		return a.PageIndex < b.PageIndex
	}
	return c.LessRect(a.BBox, b.BBox)
}

// LessRect is the banded comparator over bare regions. Rectangles without
// geometry compare equal so a stable sort leaves them in document order.
func (c Config) LessRect(a, b coords.Rect) bool {
	if a == (coords.Rect{}) || b == (coords.Rect{}) {
		return false
	}
	if a.VerticalOverlap(b) > c.band() {
		return a.LLX < b.LLX
	}
	return a.URY > b.URY
}

// Sort orders the document wrapper's direct children in place. The sort is
// stable, so running it on an already ordered tree changes nothing and ties
// keep their original document order. It reports whether any element moved
// and which pages were ambiguous.
func (c Config) Sort(tree *semantic.StructureTree) (changed bool, ambiguous []int) {
	doc, ok := tree.DocumentElement()
	if !ok {
		return false, nil
	}
	before := make([]*semantic.StructureElement, len(doc.Kids))
	copy(before, doc.Kids)
	sort.SliceStable(doc.Kids, func(i, j int) bool { return c.Less(doc.Kids[i], doc.Kids[j]) })
	for i := range doc.Kids {
		if doc.Kids[i] != before[i] {
			changed = true
			tree.Dirty = true
			break
		}
	}
	return changed, c.ambiguousPages(doc.Kids)
}

// ambiguousPages flags pages where distinct lines partially share a band:
// a pair overlaps vertically but not enough to count as one line. That is
// the shape column interleaving takes under this comparator.
func (c Config) ambiguousPages(elems []*semantic.StructureElement) []int {
	seen := map[int]bool{}
	var pages []int
	for i := 0; i < len(elems); i++ {
		for j := i + 1; j < len(elems); j++ {
			a, b := elems[i], elems[j]
			if a.PageIndex != b.PageIndex || seen[a.PageIndex] {
				continue
			}
			if a.BBox == (coords.Rect{}) || b.BBox == (coords.Rect{}) {
				continue
			}
			ov := a.BBox.VerticalOverlap(b.BBox)
			if ov > 0 && ov <= c.band() {
				seen[a.PageIndex] = true
				pages = append(pages, a.PageIndex)
			}
		}
	}
	sort.Ints(pages)
	return pages
}

// Ordered reports whether the document children already follow the
// comparator. The validator uses it without mutating the tree.
func (c Config) Ordered(tree *semantic.StructureTree) bool {
	doc, ok := tree.DocumentElement()
	if !ok {
		return false
	}
	for i := 1; i < len(doc.Kids); i++ {
		if c.Less(doc.Kids[i], doc.Kids[i-1]) {
			return false
		}
	}
	return true
}

// TabOrder sets widget navigation to follow the structure: /Tabs /S on the
// page, with the annotation array itself sorted by the banded comparator so
// viewers ignoring /Tabs still see a sane order.
func (c Config) TabOrder(page *semantic.Page) (changed bool) {
	if page.Tabs != "S" {
		page.Tabs = "S"
		page.Dirty = true
		changed = true
	}
	before := make([]*semantic.Annotation, len(page.Annotations))
	copy(before, page.Annotations)
	sort.SliceStable(page.Annotations, func(i, j int) bool {
		return c.LessRect(page.Annotations[i].Rect, page.Annotations[j].Rect)
	})
	for i := range page.Annotations {
		if page.Annotations[i] != before[i] {
			page.Dirty = true
			changed = true
			break
		}
	}
	return changed
}
