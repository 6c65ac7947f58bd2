// Package contentstream tokenizes, inspects, and rewrites PDF page content
// streams. Rewrites are splice-based: untouched operations are re-emitted
// byte for byte from the source stream.
package contentstream

import (
	"bytes"
	"fmt"
	"strconv"

	"pdfua/ir/raw"
	"pdfua/scanner"
)

// Kind groups operators by what the engine needs to know about them.
type Kind int

const (
	KindOther Kind = iota
	KindTextShow
	KindPathPaint
	KindColorSet
	KindMarkedContentBegin
	KindMarkedContentEnd
	KindInlineImage
	KindXObject
)

// Operation is one operator with its operands. Raw holds the original
// source bytes; it is nil for operations built or modified in memory,
// which are rendered from Operands instead.
type Operation struct {
	Operator   string
	Operands   []raw.Object
	Raw        []byte
	InlineData []byte
}

var kinds = map[string]Kind{
	"Tj": KindTextShow, "TJ": KindTextShow, "'": KindTextShow, "\"": KindTextShow,
	"S": KindPathPaint, "s": KindPathPaint, "f": KindPathPaint, "F": KindPathPaint,
	"f*": KindPathPaint, "B": KindPathPaint, "B*": KindPathPaint,
	"b": KindPathPaint, "b*": KindPathPaint, "n": KindPathPaint,
	"g": KindColorSet, "rg": KindColorSet, "k": KindColorSet,
	"G": KindColorSet, "RG": KindColorSet, "K": KindColorSet,
	"sc": KindColorSet, "scn": KindColorSet, "cs": KindColorSet,
	"SC": KindColorSet, "SCN": KindColorSet, "CS": KindColorSet,
	"BMC": KindMarkedContentBegin, "BDC": KindMarkedContentBegin,
	"EMC": KindMarkedContentEnd,
	"BI":  KindInlineImage,
	"Do":  KindXObject,
}

func (op *Operation) Kind() Kind { return kinds[op.Operator] }

// MalformedError reports a content stream the tokenizer could not make
// sense of. The page it belongs to is skipped, not the document.
type MalformedError struct {
	Offset int64
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed content stream at offset %d: %s", e.Offset, e.Reason)
}

const maxOperands = 64

// operandSpecs gives the operand signature per operator, one letter per
// operand: n number, s string, m name, a array, p name or dict. Color
// setters with variable signatures are handled separately.
var operandSpecs = map[string]string{
	"w": "n", "J": "n", "j": "n", "M": "n", "d": "an", "ri": "m", "i": "n", "gs": "m",
	"q": "", "Q": "", "cm": "nnnnnn",
	"m": "nn", "l": "nn", "c": "nnnnnn", "v": "nnnn", "y": "nnnn", "h": "", "re": "nnnn",
	"S": "", "s": "", "f": "", "F": "", "f*": "", "B": "", "B*": "", "b": "", "b*": "", "n": "",
	"W": "", "W*": "",
	"BT": "", "ET": "",
	"Tc": "n", "Tw": "n", "Tz": "n", "TL": "n", "Tf": "mn", "Tr": "n", "Ts": "n",
	"Td": "nn", "TD": "nn", "Tm": "nnnnnn", "T*": "",
	"Tj": "s", "TJ": "a", "'": "s", "\"": "nns",
	"d0": "nn", "d1": "nnnnnn",
	"CS": "m", "cs": "m",
	"G": "n", "g": "n", "RG": "nnn", "rg": "nnn", "K": "nnnn", "k": "nnnn",
	"sh": "m", "Do": "m",
	"MP": "m", "DP": "mp", "BMC": "m", "BDC": "mp", "EMC": "",
	"BX": "", "EX": "",
}

func operandIs(obj raw.Object, want byte) bool {
	switch want {
	case 'n':
		_, ok := obj.(raw.NumberObj)
		return ok
	case 's':
		_, ok := obj.(raw.StringObj)
		return ok
	case 'm':
		_, ok := obj.(raw.NameObj)
		return ok
	case 'a':
		_, ok := obj.(*raw.ArrayObj)
		return ok
	case 'p':
		switch obj.(type) {
		case raw.NameObj, *raw.DictObj:
			return true
		}
	}
	return false
}

// checkOperands validates a known operator's operand count and types.
// Unknown operators pass through unchecked; viewers ignore them and so
// does the rewriter.
func checkOperands(operator string, operands []raw.Object, at int64) error {
	spec, ok := operandSpecs[operator]
	if !ok {
		switch operator {
		case "SC", "sc", "SCN", "scn":
			return checkColorOperands(operator, operands, at)
		}
		return nil
	}
	if len(operands) != len(spec) {
		return &MalformedError{Offset: at, Reason: fmt.Sprintf("%s takes %d operands, got %d", operator, len(spec), len(operands))}
	}
	for i := 0; i < len(spec); i++ {
		if !operandIs(operands[i], spec[i]) {
			return &MalformedError{Offset: at, Reason: fmt.Sprintf("%s operand %d has the wrong type", operator, i)}
		}
	}
	return nil
}

// checkColorOperands handles SC/SCN and their lowercase forms: one to
// four numeric components, SCN optionally followed by a pattern name.
func checkColorOperands(operator string, operands []raw.Object, at int64) error {
	comps := operands
	named := false
	if operator == "SCN" || operator == "scn" {
		if n := len(comps); n > 0 {
			if _, ok := comps[n-1].(raw.NameObj); ok {
				comps = comps[:n-1]
				named = true
			}
		}
	}
	if len(comps) > 4 || (len(comps) == 0 && !named) {
		return &MalformedError{Offset: at, Reason: fmt.Sprintf("%s takes 1 to 4 color components, got %d", operator, len(comps))}
	}
	for i, c := range comps {
		if _, ok := c.(raw.NumberObj); !ok {
			return &MalformedError{Offset: at, Reason: fmt.Sprintf("%s operand %d has the wrong type", operator, i)}
		}
	}
	return nil
}

// Tokenize splits a decoded content stream into operations, preserving the
// source bytes of each so untouched operations survive rewrites unchanged.
func Tokenize(data []byte) ([]Operation, error) {
	s := scanner.New(data)
	var ops []Operation
	var operands []raw.Object
	opStart := int64(-1)

	for {
		pos := s.Position()
		tok, err := s.Next()
		if err != nil {
			return nil, &MalformedError{Offset: pos, Reason: err.Error()}
		}
		if tok.Type == scanner.TokenEOF {
			if len(operands) > 0 {
				return nil, &MalformedError{Offset: opStart, Reason: "trailing operands without operator"}
			}
			return ops, nil
		}
		if opStart < 0 {
			opStart = tok.Pos
		}

		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Text {
			case "true":
				operands = append(operands, raw.Bool(true))
			case "false":
				operands = append(operands, raw.Bool(false))
			case "null":
				operands = append(operands, raw.NullObj{})
			case "BI":
				op, err := readInlineImage(s, data, opStart)
				if err != nil {
					return nil, err
				}
				ops = append(ops, *op)
				operands, opStart = nil, -1
			default:
				if err := checkOperands(tok.Text, operands, opStart); err != nil {
					return nil, err
				}
				ops = append(ops, Operation{
					Operator: tok.Text,
					Operands: operands,
					Raw:      data[opStart:s.Position()],
				})
				operands, opStart = nil, -1
			}
		default:
			obj, err := operandFromToken(s, tok)
			if err != nil {
				return nil, &MalformedError{Offset: tok.Pos, Reason: err.Error()}
			}
			operands = append(operands, obj)
			if len(operands) > maxOperands {
				return nil, &MalformedError{Offset: opStart, Reason: "operand list too long"}
			}
		}
	}
}

func operandFromToken(s *scanner.Scanner, tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameLiteral(tok.Text), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(int64(tok.Num)), nil
		}
		return raw.NumberFloat(tok.Num), nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.IsHex}, nil
	case scanner.TokenArrayOpen:
		arr := &raw.ArrayObj{}
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenArrayClose {
				return arr, nil
			}
			if t.Type == scanner.TokenEOF {
				return nil, fmt.Errorf("unterminated array")
			}
			item, err := operandFromToken(s, t)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, item)
		}
	case scanner.TokenDictOpen:
		dict := raw.Dict()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenDictClose {
				return dict, nil
			}
			if t.Type != scanner.TokenName {
				return nil, fmt.Errorf("dictionary key is not a name")
			}
			vt, err := s.Next()
			if err != nil {
				return nil, err
			}
			val, err := operandFromToken(s, vt)
			if err != nil {
				return nil, err
			}
			dict.Set(raw.NameLiteral(t.Text), val)
		}
	case scanner.TokenKeyword:
		switch tok.Text {
		case "true":
			return raw.Bool(true), nil
		case "false":
			return raw.Bool(false), nil
		case "null":
			return raw.NullObj{}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", tok.Text)
}

// readInlineImage consumes the dict entries after BI, the binary payload
// after ID, and the closing EI.
func readInlineImage(s *scanner.Scanner, data []byte, start int64) (*Operation, error) {
	dict := raw.Dict()
	for {
		t, err := s.Next()
		if err != nil {
			return nil, &MalformedError{Offset: start, Reason: "inline image: " + err.Error()}
		}
		if t.Type == scanner.TokenKeyword && t.Text == "ID" {
			break
		}
		if t.Type != scanner.TokenName {
			return nil, &MalformedError{Offset: t.Pos, Reason: "inline image key is not a name"}
		}
		vt, err := s.Next()
		if err != nil {
			return nil, &MalformedError{Offset: start, Reason: "inline image: " + err.Error()}
		}
		val, err := operandFromToken(s, vt)
		if err != nil {
			return nil, &MalformedError{Offset: vt.Pos, Reason: err.Error()}
		}
		dict.Set(raw.NameLiteral(t.Text), val)
	}
	// one whitespace byte separates ID from the payload
	payloadStart := s.Position() + 1
	if payloadStart > int64(len(data)) {
		return nil, &MalformedError{Offset: start, Reason: "inline image truncated"}
	}
	eiPos := int64(findInlineEnd(data, int(payloadStart)))
	if eiPos < 0 {
		return nil, &MalformedError{Offset: start, Reason: "inline image missing EI"}
	}
	if err := s.Seek(eiPos + 2); err != nil {
		return nil, &MalformedError{Offset: start, Reason: "inline image truncated"}
	}
	payloadEnd := eiPos
	if payloadEnd > payloadStart && isWhite(data[payloadEnd-1]) {
		payloadEnd--
	}
	return &Operation{
		Operator:   "BI",
		Operands:   []raw.Object{dict},
		Raw:        data[start : eiPos+2],
		InlineData: data[payloadStart:payloadEnd],
	}, nil
}

// findInlineEnd locates the EI keyword terminating an inline image payload.
func findInlineEnd(data []byte, from int) int {
	for i := from; i+1 < len(data); i++ {
		if data[i] != 'E' || data[i+1] != 'I' {
			continue
		}
		if i > from && !isWhite(data[i-1]) {
			continue
		}
		if i+2 < len(data) && !isWhite(data[i+2]) && !isDelim(data[i+2]) {
			continue
		}
		return i
	}
	return -1
}

func isWhite(c byte) bool {
	return c == 0 || c == '\t' || c == '\n' || c == '\f' || c == '\r' || c == ' '
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// Serialize re-emits operations as a content stream. Operations with source
// bytes are copied verbatim; the rest are rendered from their operands.
func Serialize(ops []Operation) []byte {
	var buf bytes.Buffer
	for i := range ops {
		if i > 0 {
			buf.WriteByte('\n')
		}
		ops[i].writeTo(&buf)
	}
	return buf.Bytes()
}

func (op *Operation) writeTo(buf *bytes.Buffer) {
	if op.Raw != nil {
		buf.Write(op.Raw)
		return
	}
	for _, operand := range op.Operands {
		renderObject(buf, operand)
		buf.WriteByte(' ')
	}
	buf.WriteString(op.Operator)
}

// Bytes renders one operation, preferring its original source bytes.
func (op *Operation) Bytes() []byte {
	var buf bytes.Buffer
	op.writeTo(&buf)
	return buf.Bytes()
}

func renderObject(buf *bytes.Buffer, obj raw.Object) {
	switch v := obj.(type) {
	case raw.NameObj:
		buf.WriteByte('/')
		buf.WriteString(v.Val)
	case raw.NumberObj:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case raw.BoolObj:
		buf.WriteString(strconv.FormatBool(v.V))
	case raw.NullObj:
		buf.WriteString("null")
	case raw.StringObj:
		if v.Hex {
			buf.WriteByte('<')
			for _, c := range v.Bytes {
				fmt.Fprintf(buf, "%02X", c)
			}
			buf.WriteByte('>')
			return
		}
		buf.WriteByte('(')
		for _, c := range v.Bytes {
			switch c {
			case '(', ')', '\\':
				buf.WriteByte('\\')
				buf.WriteByte(c)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			default:
				buf.WriteByte(c)
			}
		}
		buf.WriteByte(')')
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			renderObject(buf, item)
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		buf.WriteString("<<")
		for _, key := range v.Keys() {
			buf.WriteByte('/')
			buf.WriteString(key.Value())
			buf.WriteByte(' ')
			val, _ := v.Get(key)
			renderObject(buf, val)
		}
		buf.WriteString(">>")
	}
}
