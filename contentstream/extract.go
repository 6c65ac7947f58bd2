package contentstream

import (
	"math"

	"pdfua/coords"
	"pdfua/fonts"
	"pdfua/ir/raw"
	"pdfua/ir/semantic"
)

// Color is a fill color reduced to RGB. Gray and CMYK operands are
// converted on the way in.
type Color struct {
	R, G, B float64
}

// TextRun is the text produced by one show-text operation, positioned in
// page space.
type TextRun struct {
	OpIndex  int
	Text     string
	Resolved bool
	FontName string
	Font     *semantic.Font
	Size     float64
	Bold     bool
	Fill     Color
	// FillOpIndex is the operation that set the fill color, -1 when the
	// run uses the default black.
	FillOpIndex int
	BBox        coords.Rect
}

// FillRect is a filled path approximated by its bounding box, kept for
// background color estimation.
type FillRect struct {
	OpIndex int
	Rect    coords.Rect
	Color   Color
}

type gstate struct {
	ctm       coords.Matrix
	fill      Color
	fillOp    int
	fontName  string
	font      *semantic.Font
	dec       *fonts.Decoder
	size      float64
	charSpace float64
	wordSpace float64
	hscale    float64
	leading   float64
	rise      float64
}

// Extraction is what a content stream contributes to tagging and repair
// decisions: positioned text runs and filled regions.
type Extraction struct {
	Runs  []TextRun
	Fills []FillRect
}

// Extract simulates the graphics and text state machines over the
// operations and collects text runs and fill rectangles. Operators outside
// that scope are ignored. Fonts come from the page resources; runs whose
// bytes cannot be mapped to Unicode are kept but flagged unresolved.
func Extract(ops []Operation, res *semantic.Resources) *Extraction {
	ex := &Extraction{}
	gs := gstate{ctm: coords.Identity(), hscale: 1, fillOp: -1}
	var stack []gstate
	decoders := map[string]*fonts.Decoder{}

	var tm, tlm coords.Matrix
	inText := false
	var pathBBox coords.Rect
	pathStarted := false

	num := func(op *Operation, i int) float64 {
		if i < 0 || i >= len(op.Operands) {
			return 0
		}
		if n, ok := op.Operands[i].(raw.NumberObj); ok {
			return n.Float()
		}
		return 0
	}
	markPoint := func(x, y float64) {
		p := gs.ctm.Transform(coords.Point{X: x, Y: y})
		if !pathStarted {
			pathBBox = coords.Rect{LLX: p.X, LLY: p.Y, URX: p.X, URY: p.Y}
			pathStarted = true
			return
		}
		pathBBox.LLX = math.Min(pathBBox.LLX, p.X)
		pathBBox.LLY = math.Min(pathBBox.LLY, p.Y)
		pathBBox.URX = math.Max(pathBBox.URX, p.X)
		pathBBox.URY = math.Max(pathBBox.URY, p.Y)
	}

	for i := range ops {
		op := &ops[i]
		switch op.Operator {
		case "q":
			stack = append(stack, gs)
		case "Q":
			if n := len(stack); n > 0 {
				gs = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			m := coords.Matrix{num(op, 0), num(op, 1), num(op, 2), num(op, 3), num(op, 4), num(op, 5)}
			gs.ctm = m.Multiply(gs.ctm)

		case "g":
			v := num(op, 0)
			gs.fill = Color{v, v, v}
			gs.fillOp = i
		case "rg":
			gs.fill = Color{num(op, 0), num(op, 1), num(op, 2)}
			gs.fillOp = i
		case "k":
			gs.fill = cmykToRGB(num(op, 0), num(op, 1), num(op, 2), num(op, 3))
			gs.fillOp = i
		case "sc", "scn":
			switch countNumbers(op) {
			case 1:
				v := num(op, 0)
				gs.fill = Color{v, v, v}
				gs.fillOp = i
			case 3:
				gs.fill = Color{num(op, 0), num(op, 1), num(op, 2)}
				gs.fillOp = i
			case 4:
				gs.fill = cmykToRGB(num(op, 0), num(op, 1), num(op, 2), num(op, 3))
				gs.fillOp = i
			}

		case "m", "l":
			markPoint(num(op, 0), num(op, 1))
		case "c":
			markPoint(num(op, 0), num(op, 1))
			markPoint(num(op, 2), num(op, 3))
			markPoint(num(op, 4), num(op, 5))
		case "v", "y":
			markPoint(num(op, 0), num(op, 1))
			markPoint(num(op, 2), num(op, 3))
		case "re":
			x, y, w, h := num(op, 0), num(op, 1), num(op, 2), num(op, 3)
			markPoint(x, y)
			markPoint(x+w, y+h)
		case "f", "F", "f*", "B", "B*", "b", "b*":
			if pathStarted {
				ex.Fills = append(ex.Fills, FillRect{OpIndex: i, Rect: pathBBox, Color: gs.fill})
			}
			pathStarted = false
		case "S", "s", "n":
			pathStarted = false

		case "BT":
			tm, tlm = coords.Identity(), coords.Identity()
			inText = true
		case "ET":
			inText = false
		case "Tf":
			if name, ok := opName(op, 0); ok {
				gs.fontName = name
				gs.font = nil
				if res != nil {
					gs.font = res.Fonts[name]
				}
				dec, ok := decoders[name]
				if !ok {
					dec = fonts.NewDecoder(gs.font)
					decoders[name] = dec
				}
				gs.dec = dec
			}
			gs.size = num(op, 1)
		case "Tc":
			gs.charSpace = num(op, 0)
		case "Tw":
			gs.wordSpace = num(op, 0)
		case "Tz":
			gs.hscale = num(op, 0) / 100
		case "TL":
			gs.leading = num(op, 0)
		case "Ts":
			gs.rise = num(op, 0)
		case "Td":
			tlm = coords.Translate(num(op, 0), num(op, 1)).Multiply(tlm)
			tm = tlm
		case "TD":
			gs.leading = -num(op, 1)
			tlm = coords.Translate(num(op, 0), num(op, 1)).Multiply(tlm)
			tm = tlm
		case "Tm":
			tlm = coords.Matrix{num(op, 0), num(op, 1), num(op, 2), num(op, 3), num(op, 4), num(op, 5)}
			tm = tlm
		case "T*":
			tlm = coords.Translate(0, -gs.leading).Multiply(tlm)
			tm = tlm

		case "Tj", "TJ", "'", "\"":
			if !inText {
				break
			}
			if op.Operator == "'" || op.Operator == "\"" {
				if op.Operator == "\"" {
					gs.wordSpace = num(op, 0)
					gs.charSpace = num(op, 1)
				}
				tlm = coords.Translate(0, -gs.leading).Multiply(tlm)
				tm = tlm
			}
			run, tx := showText(op, i, &gs, tm)
			if run != nil {
				ex.Runs = append(ex.Runs, *run)
			}
			tm = coords.Translate(tx, 0).Multiply(tm)
		}
	}
	return ex
}

// showText decodes one show operation and returns the run plus the total
// advance in unscaled text space.
func showText(op *Operation, opIndex int, gs *gstate, tm coords.Matrix) (*TextRun, float64) {
	var text []rune
	resolved := true
	any := false
	var tx float64

	show := func(b []byte) {
		if gs.dec == nil {
			resolved = false
			return
		}
		for _, g := range gs.dec.Decode(b) {
			any = true
			if g.Resolved {
				text = append(text, []rune(g.Text)...)
			} else {
				resolved = false
				text = append(text, '�')
			}
			adv := g.Width/1000*gs.size + gs.charSpace
			if g.Code == 32 && gs.font != nil && gs.font.Subtype != "Type0" {
				adv += gs.wordSpace
			}
			tx += adv * gs.hscale
		}
	}

	switch op.Operator {
	case "Tj":
		if s, ok := opString(op, 0); ok {
			show(s)
		}
	case "'":
		if s, ok := opString(op, 0); ok {
			show(s)
		}
	case "\"":
		if s, ok := opString(op, 2); ok {
			show(s)
		}
	case "TJ":
		arr, ok := opArray(op, 0)
		if !ok {
			return nil, 0
		}
		for _, item := range arr.Items {
			switch v := item.(type) {
			case raw.StringObj:
				show(v.Bytes)
			case raw.NumberObj:
				tx -= v.Float() / 1000 * gs.size * gs.hscale
			}
		}
	}
	if !any {
		return nil, tx
	}

	trm := coords.Matrix{gs.size * gs.hscale, 0, 0, gs.size, 0, gs.rise}.Multiply(tm).Multiply(gs.ctm)
	local := coords.Rect{LLX: 0, LLY: -0.25, URX: tx / (gs.size * gs.hscale), URY: 0.75}
	if gs.size == 0 || gs.hscale == 0 {
		local = coords.Rect{}
	}
	bbox := trm.TransformRect(local)

	// effective size is the rendered glyph height in device space
	unit := trm.Transform(coords.Point{X: 0, Y: 1})
	origin := trm.Transform(coords.Point{X: 0, Y: 0})
	effSize := math.Hypot(unit.X-origin.X, unit.Y-origin.Y)

	return &TextRun{
		OpIndex:     opIndex,
		Text:        string(text),
		Resolved:    resolved,
		FontName:    gs.fontName,
		Font:        gs.font,
		Size:        effSize,
		Bold:        gs.font != nil && gs.font.IsBold(),
		Fill:        gs.fill,
		FillOpIndex: gs.fillOp,
		BBox:        bbox,
	}, tx
}

// NewFillColorOp builds an rg operation setting the fill color. Channels
// are rounded to four decimals, plenty for 8-bit color fidelity.
func NewFillColorOp(c Color) Operation {
	round := func(v float64) float64 { return math.Round(v*10000) / 10000 }
	return Operation{
		Operator: "rg",
		Operands: []raw.Object{
			raw.NumberFloat(round(c.R)),
			raw.NumberFloat(round(c.G)),
			raw.NumberFloat(round(c.B)),
		},
	}
}

func cmykToRGB(c, m, y, k float64) Color {
	return Color{
		R: (1 - c) * (1 - k),
		G: (1 - m) * (1 - k),
		B: (1 - y) * (1 - k),
	}
}

func countNumbers(op *Operation) int {
	n := 0
	for _, o := range op.Operands {
		if _, ok := o.(raw.NumberObj); ok {
			n++
		}
	}
	return n
}

func opName(op *Operation, i int) (string, bool) {
	if i >= len(op.Operands) {
		return "", false
	}
	n, ok := op.Operands[i].(raw.NameObj)
	return n.Val, ok
}

func opString(op *Operation, i int) ([]byte, bool) {
	if i >= len(op.Operands) {
		return nil, false
	}
	s, ok := op.Operands[i].(raw.StringObj)
	return s.Bytes, ok
}

func opArray(op *Operation, i int) (*raw.ArrayObj, bool) {
	if i >= len(op.Operands) {
		return nil, false
	}
	a, ok := op.Operands[i].(*raw.ArrayObj)
	return a, ok
}
