package semantic

import (
	"context"

	"pdfua/coords"
	"pdfua/ir/raw"
)

// Document is the semantic representation of a PDF while it is being
// repaired. One Document graph is built per engine call and discarded after
// serialization; nothing here is shared across invocations.
type Document struct {
	Pages       []*Page
	Info        *DocumentInfo
	Metadata    *XMPMetadata
	Lang        string
	Marked      bool
	StructTree  *StructureTree
	Permissions raw.Permissions
	Encrypted   bool
	CatalogRef  raw.ObjectRef
	Dirty       bool
}

// PageByIndex returns the page with the given 1-based index.
func (d *Document) PageByIndex(index int) *Page {
	if index < 1 || index > len(d.Pages) {
		return nil
	}
	return d.Pages[index-1]
}

// Page models a single PDF page. Index is 1-based; it participates in
// reading-order tie-breaks and report diagnostics.
type Page struct {
	Index         int
	MediaBox      coords.Rect
	Rotate        int // degrees: 0/90/180/270
	Resources     *Resources
	Contents      []ContentStream
	Annotations   []*Annotation
	Tabs          string // /Tabs: "S" for structure order
	StructParents int    // /StructParents key, -1 when absent
	OriginalRef   raw.ObjectRef
	Dirty         bool
}

// RawContent concatenates the page's decoded content streams. Streams split
// across multiple parts form one logical stream, so they are joined with a
// separating newline.
func (p *Page) RawContent() []byte {
	switch len(p.Contents) {
	case 0:
		return nil
	case 1:
		return p.Contents[0].Raw
	}
	var out []byte
	for i, cs := range p.Contents {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, cs.Raw...)
	}
	return out
}

// SetContent replaces the page's content with a single rewritten stream.
func (p *Page) SetContent(data []byte) {
	p.Contents = []ContentStream{{Raw: data}}
	p.Dirty = true
}

// ContentStream holds one decoded content stream.
type ContentStream struct {
	Raw         []byte
	OriginalRef raw.ObjectRef
}

// Resources holds the page resources the engine inspects.
type Resources struct {
	Fonts       map[string]*Font
	XObjects    map[string]*XObject
	OriginalRef raw.ObjectRef
}

// Font carries what byte-to-text decoding and width lookup need.
type Font struct {
	Subtype      string // Type1, TrueType, Type0, Type3
	BaseFont     string
	Encoding     string // base encoding name, or Identity-H for CID fonts
	Differences  []EncodingDifference
	FirstChar    int
	Widths       []float64 // glyph widths in 1/1000 em, indexed from FirstChar
	DefaultWidth float64
	ToUnicode    []byte // raw ToUnicode CMap stream
	FontFile     []byte // embedded font program
	FontFileType string // FontFile, FontFile2, FontFile3
	Flags        int
	OriginalRef  raw.ObjectRef
}

const fontFlagForceBold = 1 << 18

// IsBold reports whether the font renders bold, from the descriptor flag or
// the style suffix of the base font name.
func (f *Font) IsBold() bool {
	if f == nil {
		return false
	}
	if f.Flags&fontFlagForceBold != 0 {
		return true
	}
	name := f.BaseFont
	for i := 0; i+4 <= len(name); i++ {
		if name[i] == 'B' || name[i] == 'b' {
			s := name[i:]
			if len(s) >= 4 && (s[:4] == "Bold" || s[:4] == "bold") {
				return true
			}
		}
	}
	return false
}

// EncodingDifference maps one character code to a glyph name.
type EncodingDifference struct {
	Code int
	Name string
}

// XObject describes a referenced object; the engine only needs to know
// enough to treat image XObjects as figure content.
type XObject struct {
	Subtype     string // Image or Form
	Width       int
	Height      int
	BBox        coords.Rect
	OriginalRef raw.ObjectRef
}

// Annotation represents a page annotation. Widgets participate in tab-order
// repair; links are checked for descriptive text.
type Annotation struct {
	Subtype     string
	Rect        coords.Rect
	Contents    string
	FieldType   string // /FT for widgets
	OriginalRef raw.ObjectRef
}

// DocumentInfo models /Info dictionary values.
type DocumentInfo struct {
	Title       string
	Author      string
	Subject     string
	Creator     string
	Producer    string
	OriginalRef raw.ObjectRef
	Dirty       bool
}

// XMPMetadata holds the raw XMP packet from the catalog's /Metadata stream.
type XMPMetadata struct {
	Raw         []byte
	OriginalRef raw.ObjectRef
	Dirty       bool
}

// Builder produces a semantic Document from raw IR.
type Builder interface {
	Build(ctx context.Context, doc *raw.Document) (*Document, error)
}
