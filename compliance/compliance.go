// Package compliance validates a document against the machine-checkable
// PDF/UA provisions this engine repairs. Every check is independent and
// three-valued: ambiguity surfaces as a needs-review verdict, never as a
// false pass.
package compliance

import (
	"context"
	"fmt"
	"sort"

	"pdfua/contentstream"
	"pdfua/coords"
	"pdfua/ir/semantic"
	"pdfua/metadata"
	"pdfua/readingorder"
)

// Context is an alias for context.Context to allow for future expansion.
type Context = context.Context

// Verdict is the outcome of one check.
type Verdict int

const (
	Pass Verdict = iota
	Fail
	NeedsReview
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case NeedsReview:
		return "needs-review"
	default:
		return "unknown"
	}
}

// Rule identifies one check.
type Rule string

// Rule identifiers, one per check.
const (
	RuleTaggedPDF       Rule = "tagged-pdf"
	RuleDocumentWrapper Rule = "document-wrapper"
	RulePrimaryLanguage Rule = "primary-language"
	RuleDocumentTitle   Rule = "document-title"
	RuleTaggedContent   Rule = "tagged-content"
	RuleReadingOrder    Rule = "reading-order"
	RuleMarkInfoMarked  Rule = "markinfo-marked"
	RuleAltText         Rule = "other-elements-alt-text"
	RuleTableStructure  Rule = "table-structure"
	RuleSecurityExtract Rule = "security-extraction"
)

// CheckResult is one rule's verdict with its diagnostic. Page is 1-based,
// zero for document-level findings.
type CheckResult struct {
	Rule    Rule
	Verdict Verdict
	Detail  string
	Page    int
}

// Report aggregates all checks. Compliant means every verdict is Pass.
type Report struct {
	Standard  string
	Compliant bool
	Results   []CheckResult
}

// Validator checks a document without mutating it.
type Validator interface {
	Validate(ctx Context, doc *semantic.Document) (*Report, error)
}

// Config tunes validation.
type Config struct {
	// Band is the vertical-overlap fraction for the reading-order
	// comparator; zero means the default.
	Band float64
}

func NewValidator(cfg Config) Validator {
	return &validatorImpl{order: readingorder.Config{Band: cfg.Band}}
}

type validatorImpl struct {
	order readingorder.Config
}

func (v *validatorImpl) Validate(ctx Context, doc *semantic.Document) (*Report, error) {
	if doc == nil {
		return nil, fmt.Errorf("compliance: nil document")
	}
	report := &Report{Standard: "PDF/UA-1"}
	checks := []func(*semantic.Document) CheckResult{
		CheckTaggedPDF,
		CheckDocumentWrapper,
		CheckPrimaryLanguage,
		CheckDocumentTitle,
		CheckTaggedContent,
		v.CheckReadingOrder,
		CheckMarkInfoMarked,
		CheckAltText,
		CheckTableStructure,
		CheckSecurityExtraction,
	}
	report.Compliant = true
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := check(doc)
		if r.Verdict != Pass {
			report.Compliant = false
		}
		report.Results = append(report.Results, r)
	}
	return report, nil
}

// CheckTaggedPDF requires a structure tree with at least one element.
func CheckTaggedPDF(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleTaggedPDF}
	if doc.StructTree == nil || len(doc.StructTree.Kids) == 0 {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	return r
}

// CheckDocumentWrapper requires exactly one Document element as the first
// and only child of the structure root.
func CheckDocumentWrapper(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleDocumentWrapper}
	if doc.StructTree == nil {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	if _, ok := doc.StructTree.DocumentElement(); !ok {
		r.Verdict = Fail
		r.Detail = fmt.Sprintf("structure root must have exactly one Document child, found %d children", len(doc.StructTree.Kids))
	}
	return r
}

// CheckPrimaryLanguage requires a well-formed BCP 47 /Lang on the catalog.
func CheckPrimaryLanguage(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RulePrimaryLanguage}
	if !metadata.ValidLanguage(doc.Lang) {
		r.Verdict = Fail
		r.Detail = fmt.Sprintf("catalog /Lang %q is not a valid language tag", doc.Lang)
	}
	return r
}

// CheckDocumentTitle requires a title in the Info dictionary, in agreement
// with the XMP dc:title. A missing XMP counterpart cannot be confirmed
// either way and goes to review.
func CheckDocumentTitle(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleDocumentTitle}
	infoTitle := ""
	if doc.Info != nil {
		infoTitle = doc.Info.Title
	}
	if infoTitle == "" {
		r.Verdict = Fail
		r.Detail = "document has no title"
		return r
	}
	xmpTitle := metadata.XMPTitle(doc.Metadata)
	switch {
	case xmpTitle == "":
		r.Verdict = NeedsReview
		r.Detail = "XMP metadata carries no dc:title to confirm the Info title"
	case xmpTitle != infoTitle:
		r.Verdict = NeedsReview
		r.Detail = fmt.Sprintf("Info title %q and XMP dc:title %q disagree", infoTitle, xmpTitle)
	}
	return r
}

// CheckTaggedContent requires every text- and image-showing operation to
// sit inside a marked-content sequence, and the MCIDs in each page's
// content to match the structure tree leaves one to one.
func CheckTaggedContent(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleTaggedContent}
	if doc.StructTree == nil {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	leaves := doc.StructTree.LeavesByPage()
	for _, page := range doc.Pages {
		ops, err := contentstream.Tokenize(page.RawContent())
		if err != nil {
			// an unreadable stream cannot be confirmed compliant
			r.Verdict = NeedsReview
			r.Detail = fmt.Sprintf("page %d content could not be tokenized: %v", page.Index, err)
			r.Page = page.Index
			return r
		}
		cov := contentstream.InspectCoverage(ops)
		for i := range ops {
			k := ops[i].Kind()
			show := k == contentstream.KindTextShow ||
				k == contentstream.KindInlineImage ||
				k == contentstream.KindXObject
			if show && !cov.Covered[i] {
				r.Verdict = Fail
				r.Detail = fmt.Sprintf("page %d has content outside any marked-content sequence", page.Index)
				r.Page = page.Index
				return r
			}
		}
		if res := matchMCIDs(page.Index, cov.MCIDs, leaves[page.Index]); res != nil {
			return *res
		}
	}
	return r
}

// matchMCIDs requires the content MCIDs and structure leaf MCIDs of a page
// to be the same set, with no duplicates on either side.
func matchMCIDs(page int, content []int, leaves []semantic.ContentRef) *CheckResult {
	fail := func(detail string) *CheckResult {
		return &CheckResult{Rule: RuleTaggedContent, Verdict: Fail, Detail: detail, Page: page}
	}
	inContent := map[int]bool{}
	for _, m := range content {
		if inContent[m] {
			return fail(fmt.Sprintf("page %d reuses MCID %d", page, m))
		}
		inContent[m] = true
	}
	inStruct := map[int]bool{}
	for _, ref := range leaves {
		if inStruct[ref.MCID] {
			return fail(fmt.Sprintf("page %d structure references MCID %d twice", page, ref.MCID))
		}
		inStruct[ref.MCID] = true
		if !inContent[ref.MCID] {
			return fail(fmt.Sprintf("page %d structure references MCID %d absent from content", page, ref.MCID))
		}
	}
	for m := range inContent {
		if !inStruct[m] {
			return fail(fmt.Sprintf("page %d MCID %d is orphaned, no structure leaf references it", page, m))
		}
	}
	return nil
}

// CheckReadingOrder compares the structure order against the banded
// geometric order. Parsed documents carry no element geometry, so regions
// are reconstructed from the marked content itself; elements whose region
// cannot be recovered send the check to review rather than passing
// unverified. Pages whose geometry is ambiguous under the band go to
// review even when the order holds.
func (v *validatorImpl) CheckReadingOrder(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleReadingOrder}
	if doc.StructTree == nil {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	docElem, ok := doc.StructTree.DocumentElement()
	if !ok {
		r.Verdict = Fail
		r.Detail = "structure root has no Document wrapper to order"
		return r
	}
	rects := elementRegions(doc, docElem.Kids)
	for i := 1; i < len(docElem.Kids); i++ {
		a, b := docElem.Kids[i-1], docElem.Kids[i]
		if a.PageIndex != b.PageIndex {
			if b.PageIndex < a.PageIndex {
				r.Verdict = Fail
				r.Detail = fmt.Sprintf("structure order jumps back from page %d to page %d", a.PageIndex, b.PageIndex)
				r.Page = a.PageIndex
				return r
			}
			continue
		}
		ra, rb := rects[a], rects[b]
		if ra == (coords.Rect{}) || rb == (coords.Rect{}) {
			if r.Verdict == Pass {
				r.Verdict = NeedsReview
				r.Detail = fmt.Sprintf("no geometry recovered for content on page %d, reading order unverified", b.PageIndex)
				r.Page = b.PageIndex
			}
			continue
		}
		if v.order.LessRect(rb, ra) {
			r.Verdict = Fail
			r.Detail = fmt.Sprintf("structure order inverts visual order at element %d", i)
			r.Page = b.PageIndex
			return r
		}
	}
	if r.Verdict == Pass {
		if pages := ambiguous(v.order, docElem.Kids, rects); len(pages) > 0 {
			r.Verdict = NeedsReview
			r.Detail = fmt.Sprintf("line bands partially overlap on pages %v, possible column interleave", pages)
			r.Page = pages[0]
		}
	}
	return r
}

// elementRegions recovers a page-space region per element. Regions already
// set by the repair pipeline are kept; elements parsed from a file get the
// union of the text shown inside their marked-content sequences.
func elementRegions(doc *semantic.Document, elems []*semantic.StructureElement) map[*semantic.StructureElement]coords.Rect {
	byPage := map[int]map[int]coords.Rect{}
	for _, page := range doc.Pages {
		ops, err := contentstream.Tokenize(page.RawContent())
		if err != nil {
			continue
		}
		cov := contentstream.InspectCoverage(ops)
		ex := contentstream.Extract(ops, page.Resources)
		rects := map[int]coords.Rect{}
		for _, run := range ex.Runs {
			mcid := cov.OpMCID[run.OpIndex]
			if mcid < 0 {
				continue
			}
			rects[mcid] = rects[mcid].Union(run.BBox)
		}
		if len(rects) > 0 {
			byPage[page.Index] = rects
		}
	}
	out := make(map[*semantic.StructureElement]coords.Rect, len(elems))
	for _, e := range elems {
		out[e] = regionOf(e, byPage)
	}
	return out
}

func regionOf(e *semantic.StructureElement, byPage map[int]map[int]coords.Rect) coords.Rect {
	if e.BBox != (coords.Rect{}) {
		return e.BBox
	}
	var r coords.Rect
	e.Walk(func(n *semantic.StructureElement) {
		for _, ref := range n.Content {
			if m, ok := byPage[ref.PageIndex]; ok {
				r = r.Union(m[ref.MCID])
			}
		}
	})
	return r
}

func ambiguous(order readingorder.Config, elems []*semantic.StructureElement, rects map[*semantic.StructureElement]coords.Rect) []int {
	seen := map[int]bool{}
	var pages []int
	band := readingorder.DefaultBand
	if order.Band > 0 && order.Band < 1 {
		band = order.Band
	}
	for i := 0; i < len(elems); i++ {
		for j := i + 1; j < len(elems); j++ {
			a, b := elems[i], elems[j]
			if a.PageIndex != b.PageIndex || seen[a.PageIndex] {
				continue
			}
			ra, rb := rects[a], rects[b]
			if ra == (coords.Rect{}) || rb == (coords.Rect{}) {
				continue
			}
			ov := ra.VerticalOverlap(rb)
			if ov > 0 && ov <= band {
				seen[a.PageIndex] = true
				pages = append(pages, a.PageIndex)
			}
		}
	}
	sort.Ints(pages)
	return pages
}

// CheckMarkInfoMarked requires /MarkInfo /Marked true.
func CheckMarkInfoMarked(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleMarkInfoMarked}
	if !doc.Marked {
		r.Verdict = Fail
		r.Detail = "catalog MarkInfo does not declare the document tagged"
	}
	return r
}

// CheckAltText requires every Figure to carry an alt attribute. An empty
// alt marks the figure as possibly decorative, which a human must confirm.
func CheckAltText(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleAltText}
	if doc.StructTree == nil {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	doc.StructTree.Walk(func(e *semantic.StructureElement) {
		if r.Verdict == Fail || e.Tag != semantic.TagFigure {
			return
		}
		if !e.HasAlt {
			r.Verdict = Fail
			r.Detail = fmt.Sprintf("figure on page %d has no alternative text attribute", e.PageIndex)
			r.Page = e.PageIndex
			return
		}
		if e.Alt == "" && r.Verdict == Pass {
			r.Verdict = NeedsReview
			r.Detail = fmt.Sprintf("figure on page %d carries an empty alt, confirm it is decorative", e.PageIndex)
			r.Page = e.PageIndex
		}
	})
	return r
}

// CheckTableStructure requires every Table to be rows of cells: TR
// children only, each with TH/TD children only, and a header row present.
func CheckTableStructure(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleTableStructure}
	if doc.StructTree == nil {
		r.Verdict = Fail
		r.Detail = "document has no structure tree"
		return r
	}
	doc.StructTree.Walk(func(e *semantic.StructureElement) {
		if r.Verdict != Pass || e.Tag != semantic.TagTable {
			return
		}
		if len(e.Kids) == 0 {
			r.Verdict = Fail
			r.Detail = fmt.Sprintf("table on page %d has no rows", e.PageIndex)
			r.Page = e.PageIndex
			return
		}
		hasHeader := false
		for _, row := range e.Kids {
			if row.Tag != semantic.TagTR {
				r.Verdict = Fail
				r.Detail = fmt.Sprintf("table on page %d has a %s child, expected TR", e.PageIndex, row.Tag)
				r.Page = e.PageIndex
				return
			}
			for _, cell := range row.Kids {
				switch cell.Tag {
				case semantic.TagTH:
					hasHeader = true
				case semantic.TagTD:
				default:
					r.Verdict = Fail
					r.Detail = fmt.Sprintf("table row on page %d has a %s child, expected TH or TD", e.PageIndex, cell.Tag)
					r.Page = e.PageIndex
					return
				}
			}
		}
		if !hasHeader {
			r.Verdict = Fail
			r.Detail = fmt.Sprintf("table on page %d has no header cells", e.PageIndex)
			r.Page = e.PageIndex
		}
	})
	return r
}

// CheckSecurityExtraction requires the permission bit allowing assistive
// technologies to extract content.
func CheckSecurityExtraction(doc *semantic.Document) CheckResult {
	r := CheckResult{Rule: RuleSecurityExtract}
	if !doc.Permissions.ExtractAccessible {
		r.Verdict = Fail
		r.Detail = "document permissions forbid assistive-technology extraction"
	}
	return r
}
