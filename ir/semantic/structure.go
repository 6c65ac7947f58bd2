package semantic

import (
	"pdfua/coords"
	"pdfua/ir/raw"
)

// Tag is the closed set of structure types the engine emits. PDF/UA fixes
// the standard structure namespace, so the set is an exhaustive enumeration
// rather than open strings.
type Tag int

const (
	TagDocument Tag = iota
	TagH1
	TagH2
	TagH3
	TagH4
	TagH5
	TagH6
	TagP
	TagTable
	TagTR
	TagTH
	TagTD
	TagL
	TagLI
	TagFigure
	TagSpan
)

var tagNames = [...]string{
	TagDocument: "Document",
	TagH1:       "H1",
	TagH2:       "H2",
	TagH3:       "H3",
	TagH4:       "H4",
	TagH5:       "H5",
	TagH6:       "H6",
	TagP:        "P",
	TagTable:    "Table",
	TagTR:       "TR",
	TagTH:       "TH",
	TagTD:       "TD",
	TagL:        "L",
	TagLI:       "LI",
	TagFigure:   "Figure",
	TagSpan:     "Span",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "Span"
}

// ParseTag maps a structure type name to the closed set. Unknown types
// report ok=false; callers decide whether to fall back to Span.
func ParseTag(s string) (Tag, bool) {
	for t, name := range tagNames {
		if name == s {
			return Tag(t), true
		}
	}
	return TagSpan, false
}

// IsHeading reports whether the tag is one of H1-H6.
func (t Tag) IsHeading() bool { return t >= TagH1 && t <= TagH6 }

// ContentRef links a structure leaf to a marked-content region.
// PageIndex is 1-based; MCID is scoped to that page.
type ContentRef struct {
	PageIndex int
	MCID      int
}

// StructureElement is a node in the logical structure tree. A node is
// either a container (Kids) or a leaf with marked content (Content), never
// both. Parent is a traversal-only back-reference; ownership runs strictly
// top-down through Kids.
type StructureElement struct {
	Tag         Tag
	RawType     string // original /S name when it was outside the closed set
	Parent      *StructureElement
	Kids        []*StructureElement
	Content     []ContentRef
	Alt         string
	HasAlt      bool // distinguishes empty alt (decorative) from no alt
	ActualText  string
	Lang        string
	PageIndex   int // 1-based page of the element's content, 0 for pageless
	BBox        coords.Rect
	OriginalRef raw.ObjectRef
}

// IsContainer reports whether the node holds child elements.
func (e *StructureElement) IsContainer() bool { return len(e.Kids) > 0 }

// IsLeaf reports whether the node references marked content.
func (e *StructureElement) IsLeaf() bool { return len(e.Content) > 0 }

// AppendKid adds a child element and sets its parent back-reference.
func (e *StructureElement) AppendKid(kid *StructureElement) {
	kid.Parent = e
	e.Kids = append(e.Kids, kid)
}

// Walk visits the element and all descendants depth-first.
func (e *StructureElement) Walk(fn func(*StructureElement)) {
	if e == nil {
		return
	}
	fn(e)
	for _, kid := range e.Kids {
		kid.Walk(fn)
	}
}

// StructureTree is the logical structure root. Kids are the direct children
// of StructTreeRoot as found in the file; a conformant tree has exactly one
// Document child, but malformed inputs are representable so the validator
// can report them.
type StructureTree struct {
	Kids        []*StructureElement
	RoleMap     map[string]string
	OriginalRef raw.ObjectRef
	Dirty       bool
}

// DocumentElement returns the single Document wrapper when the tree is
// well-formed in that respect.
func (t *StructureTree) DocumentElement() (*StructureElement, bool) {
	if t == nil || len(t.Kids) != 1 || t.Kids[0].Tag != TagDocument {
		return nil, false
	}
	return t.Kids[0], true
}

// Walk visits every element in the tree depth-first.
func (t *StructureTree) Walk(fn func(*StructureElement)) {
	if t == nil {
		return
	}
	for _, kid := range t.Kids {
		kid.Walk(fn)
	}
}

// LeavesByPage collects content references grouped by 1-based page index.
func (t *StructureTree) LeavesByPage() map[int][]ContentRef {
	out := make(map[int][]ContentRef)
	t.Walk(func(e *StructureElement) {
		for _, ref := range e.Content {
			out[ref.PageIndex] = append(out[ref.PageIndex], ref)
		}
	})
	return out
}
