// Package structure builds the tagged structure tree for a document from
// externally supplied classification spans. Classification itself (what is
// a heading, what a figure shows) is the caller's job; this package turns
// accepted spans into marked-content regions and structure elements.
package structure

import (
	"fmt"
	"sort"

	"pdfua/contentstream"
	"pdfua/coords"
	"pdfua/ir/semantic"
	"pdfua/observability"
)

// Range is a half-open span [Start, End) over a page's operation list.
type Range struct {
	Start int
	End   int
}

func (r Range) overlaps(o Range) bool { return r.Start < o.End && o.Start < r.End }
func (r Range) contains(o Range) bool { return o.Start >= r.Start && o.End <= r.End }

// Row is one table row given as cell ranges. Header marks the row's cells
// as TH regardless of position.
type Row struct {
	Header bool
	Cells  []Range
}

// Span is one classified region of a page. Rows is set for tables, Items
// for lists; both subdivide the span's own range.
type Span struct {
	Page int // 1-based
	Range
	Tag    semantic.Tag
	Alt    string
	HasAlt bool
	Rows   []Row
	Items  []Range
}

// CoverageGap reports text-showing operations left outside every
// marked-content region. It is recorded, not fatal.
type CoverageGap struct {
	Page  int
	Range Range
}

func (e *CoverageGap) Error() string {
	return fmt.Sprintf("content coverage gap on page %d, operations %d-%d", e.Page, e.Range.Start, e.Range.End)
}

// Config controls the builder.
type Config struct {
	Logger observability.Logger
}

// Builder assembles structure elements and marked-content regions.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Builder{cfg: cfg}
}

// PageInput is everything the builder needs for one page.
type PageInput struct {
	Page  *semantic.Page
	Ops   []contentstream.Operation
	Runs  []contentstream.TextRun
	Spans []Span
}

// PageResult is the per-page outcome: wrap regions for the content stream
// rewrite, the page's top-level elements in emission order, and any
// coverage gaps.
type PageResult struct {
	Page     int
	Regions  []contentstream.Region
	Elements []*semantic.StructureElement
	Gaps     []CoverageGap
	MCIDs    int
}

// specificity ranks competing classifications of the same content. More
// specific tags win span deduplication.
func specificity(t semantic.Tag) int {
	switch {
	case t == semantic.TagTable:
		return 4
	case t.IsHeading():
		return 3
	case t == semantic.TagP, t == semantic.TagL, t == semantic.TagLI, t == semantic.TagFigure:
		return 2
	default:
		return 1
	}
}

// BuildPage deduplicates the page's spans, assigns MCIDs in emission
// order starting at zero, and creates the structure elements. Elements
// for the page come back in span order; attaching them to the document
// root is Assemble's job.
func (b *Builder) BuildPage(in PageInput) (*PageResult, error) {
	if in.Page == nil {
		return nil, fmt.Errorf("structure: page input without page")
	}
	res := &PageResult{Page: in.Page.Index}

	spans := dedupe(in.Spans, len(in.Ops))
	nextMCID := 0
	assign := func() int {
		m := nextMCID
		nextMCID++
		return m
	}

	for _, sp := range spans {
		switch {
		case sp.Tag == semantic.TagTable:
			elem := b.buildTable(sp, in, assign, res)
			res.Elements = append(res.Elements, elem)
		case sp.Tag == semantic.TagL || len(sp.Items) > 0:
			elem := b.buildList(sp, in, assign, res)
			res.Elements = append(res.Elements, elem)
		case sp.Tag == semantic.TagFigure:
			elem := b.leaf(semantic.TagFigure, sp.Range, sp.Page, "Figure", in, assign, res)
			elem.Alt = sp.Alt
			// an untagged figure is a worse failure than an empty-alt one
			elem.HasAlt = true
			res.Elements = append(res.Elements, elem)
		default:
			tag := sp.Tag
			if tag == semantic.TagDocument {
				tag = semantic.TagP
			}
			elem := b.leaf(tag, sp.Range, sp.Page, tag.String(), in, assign, res)
			if sp.HasAlt {
				elem.Alt = sp.Alt
				elem.HasAlt = true
			}
			res.Elements = append(res.Elements, elem)
		}
	}
	res.MCIDs = nextMCID

	res.Gaps = findGaps(in, res.Regions)
	for i := range res.Gaps {
		b.cfg.Logger.Warn("content coverage gap",
			observability.Int("page", res.Gaps[i].Page),
			observability.Int("from", res.Gaps[i].Range.Start),
			observability.Int("to", res.Gaps[i].Range.End))
	}
	return res, nil
}

// leaf creates a leaf element holding one fresh MCID over the range.
func (b *Builder) leaf(tag semantic.Tag, r Range, page int, wrapTag string, in PageInput, assign func() int, res *PageResult) *semantic.StructureElement {
	mcid := assign()
	res.Regions = append(res.Regions, contentstream.Region{
		Start: r.Start, End: r.End, Tag: wrapTag, MCID: mcid,
	})
	return &semantic.StructureElement{
		Tag:       tag,
		PageIndex: page,
		BBox:      rangeBBox(in.Runs, r),
		Content:   []semantic.ContentRef{{PageIndex: page, MCID: mcid}},
	}
}

// buildTable produces the two-level Table build: TR rows of TH/TD cells,
// first row header unless the caller marked rows explicitly.
func (b *Builder) buildTable(sp Span, in PageInput, assign func() int, res *PageResult) *semantic.StructureElement {
	table := &semantic.StructureElement{
		Tag:       semantic.TagTable,
		PageIndex: sp.Page,
		BBox:      rangeBBox(in.Runs, sp.Range),
	}
	explicitHeader := false
	for _, row := range sp.Rows {
		if row.Header {
			explicitHeader = true
			break
		}
	}
	for ri, row := range sp.Rows {
		tr := &semantic.StructureElement{Tag: semantic.TagTR, PageIndex: sp.Page}
		header := row.Header || (!explicitHeader && ri == 0)
		for _, cell := range row.Cells {
			tag := semantic.TagTD
			wrapName := "TD"
			if header {
				tag = semantic.TagTH
				wrapName = "TH"
			}
			td := b.leaf(tag, cell, sp.Page, wrapName, in, assign, res)
			tr.AppendKid(td)
		}
		tr.BBox = kidsBBox(tr)
		table.AppendKid(tr)
	}
	return table
}

func (b *Builder) buildList(sp Span, in PageInput, assign func() int, res *PageResult) *semantic.StructureElement {
	list := &semantic.StructureElement{
		Tag:       semantic.TagL,
		PageIndex: sp.Page,
		BBox:      rangeBBox(in.Runs, sp.Range),
	}
	items := sp.Items
	if len(items) == 0 {
		items = []Range{sp.Range}
	}
	for _, item := range items {
		li := b.leaf(semantic.TagLI, item, sp.Page, "LI", in, assign, res)
		list.AppendKid(li)
	}
	return list
}

// dedupe drops spans losing an overlap to a more specific classification.
// Equal specificity keeps the earlier span. Out-of-range spans are clamped
// or dropped.
func dedupe(spans []Span, opCount int) []Span {
	var valid []Span
	for _, sp := range spans {
		if sp.Start < 0 {
			sp.Start = 0
		}
		if sp.End > opCount {
			sp.End = opCount
		}
		if sp.Start >= sp.End {
			continue
		}
		valid = append(valid, sp)
	}
	var kept []Span
	for i, sp := range valid {
		lost := false
		for j, other := range valid {
			if i == j || !sp.Range.overlaps(other.Range) {
				continue
			}
			si, sj := specificity(sp.Tag), specificity(other.Tag)
			if sj > si || (si == sj && j < i) {
				lost = true
				break
			}
		}
		if !lost {
			kept = append(kept, sp)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// findGaps reports text-showing operations not covered by any region.
func findGaps(in PageInput, regions []contentstream.Region) []CoverageGap {
	covered := make([]bool, len(in.Ops))
	for _, r := range regions {
		for i := r.Start; i < r.End && i < len(covered); i++ {
			covered[i] = true
		}
	}
	var gaps []CoverageGap
	open := -1
	for i := range in.Ops {
		show := in.Ops[i].Kind() == contentstream.KindTextShow ||
			in.Ops[i].Kind() == contentstream.KindInlineImage ||
			in.Ops[i].Kind() == contentstream.KindXObject
		if show && !covered[i] {
			if open < 0 {
				open = i
			}
			continue
		}
		if open >= 0 {
			gaps = append(gaps, CoverageGap{Page: in.Page.Index, Range: Range{Start: open, End: i}})
			open = -1
		}
	}
	if open >= 0 {
		gaps = append(gaps, CoverageGap{Page: in.Page.Index, Range: Range{Start: open, End: len(in.Ops)}})
	}
	return gaps
}

func rangeBBox(runs []contentstream.TextRun, r Range) coords.Rect {
	var box coords.Rect
	for _, run := range runs {
		if run.OpIndex >= r.Start && run.OpIndex < r.End {
			box = box.Union(run.BBox)
		}
	}
	return box
}

func kidsBBox(elem *semantic.StructureElement) coords.Rect {
	var box coords.Rect
	for _, kid := range elem.Kids {
		box = box.Union(kid.BBox)
	}
	return box
}

// Assemble joins per-page results into a tree with the single Document
// child the root must carry. Pages are taken in ascending order and parent
// back-references are set throughout.
func Assemble(results []*PageResult) *semantic.StructureTree {
	sorted := make([]*PageResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })

	doc := &semantic.StructureElement{Tag: semantic.TagDocument}
	for _, pr := range sorted {
		if pr == nil {
			continue
		}
		for _, elem := range pr.Elements {
			doc.AppendKid(elem)
		}
	}
	tree := &semantic.StructureTree{
		Kids:  []*semantic.StructureElement{doc},
		Dirty: true,
	}
	return tree
}

// Index maps every (page, MCID) leaf reference to its element. The
// validator uses it to match structure leaves against content regions.
func Index(tree *semantic.StructureTree) map[semantic.ContentRef]*semantic.StructureElement {
	idx := map[semantic.ContentRef]*semantic.StructureElement{}
	if tree == nil {
		return idx
	}
	tree.Walk(func(e *semantic.StructureElement) {
		for _, ref := range e.Content {
			idx[ref] = e
		}
	})
	return idx
}
