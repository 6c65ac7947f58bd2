// Package fonts resolves PDF font programs and encodings into Unicode text
// and advance widths. Resolution is fail-soft: bytes that cannot be mapped
// come back flagged unresolved instead of aborting the caller.
package fonts

import (
	"strconv"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"pdfua/ir/semantic"
)

// Glyph is one decoded code from a show-text string. Width is in
// thousandths of an em. Text is empty when the code has no known mapping.
type Glyph struct {
	Code     int
	Text     string
	Width    float64
	Resolved bool
}

// Decoder maps the byte strings of show-text operators through a specific
// font's encoding.
type Decoder struct {
	font    *semantic.Font
	twoByte bool
	table   [256]rune
	toUni   map[int]string

	sfntFont   *sfnt.Font
	sfntBuf    sfnt.Buffer
	unitsPerEm sfnt.Units
}

// NewDecoder builds a decoder for the font. It never fails: a font with an
// unusable encoding still decodes, marking every glyph unresolved.
func NewDecoder(f *semantic.Font) *Decoder {
	d := &Decoder{font: f}
	if f == nil {
		return d
	}
	d.twoByte = f.Subtype == "Type0"

	switch f.Encoding {
	case "WinAnsiEncoding":
		d.table = WinAnsiEncoding
	case "MacRomanEncoding":
		d.table = MacRomanEncoding
	default:
		d.table = StandardEncoding
	}
	for _, diff := range f.Differences {
		if diff.Code < 0 || diff.Code > 255 {
			continue
		}
		if r, ok := MapGlyphName(diff.Name); ok {
			d.table[diff.Code] = r
		} else {
			d.table[diff.Code] = 0
		}
	}

	if len(f.ToUnicode) > 0 {
		d.toUni = parseToUnicode(f.ToUnicode)
	}

	if len(f.FontFile) > 0 && (f.FontFileType == "FontFile2" || f.FontFileType == "FontFile3") {
		if sf, err := sfnt.Parse(f.FontFile); err == nil {
			if upm := sf.UnitsPerEm(); upm > 0 {
				d.sfntFont = sf
				d.unitsPerEm = upm
			}
		}
	}
	return d
}

// Decode splits a show-text byte string into glyphs. Two-byte codes are
// assumed for Type0 fonts, single-byte codes otherwise.
func (d *Decoder) Decode(b []byte) []Glyph {
	if d.twoByte {
		glyphs := make([]Glyph, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			code := int(b[i])<<8 | int(b[i+1])
			glyphs = append(glyphs, d.glyph(code))
		}
		return glyphs
	}
	glyphs := make([]Glyph, 0, len(b))
	for _, c := range b {
		glyphs = append(glyphs, d.glyph(int(c)))
	}
	return glyphs
}

func (d *Decoder) glyph(code int) Glyph {
	g := Glyph{Code: code, Width: d.width(code)}
	if s, ok := d.toUni[code]; ok {
		g.Text = s
		g.Resolved = true
		return g
	}
	if !d.twoByte && code >= 0 && code < 256 {
		if r := d.table[code]; r != 0 {
			g.Text = string(r)
			g.Resolved = true
			return g
		}
	}
	if d.twoByte && d.font != nil && d.font.Encoding == "Identity-H" && d.toUni == nil {
		// no CMap: codes are glyph indexes with no reverse mapping
		return g
	}
	return g
}

func (d *Decoder) width(code int) float64 {
	if d.font == nil {
		return 500
	}
	if !d.twoByte {
		idx := code - d.font.FirstChar
		if idx >= 0 && idx < len(d.font.Widths) {
			return d.font.Widths[idx]
		}
		return d.font.DefaultWidth
	}
	if d.sfntFont != nil {
		ppem := fixed.Int26_6(d.unitsPerEm << 6)
		adv, err := d.sfntFont.GlyphAdvance(&d.sfntBuf, sfnt.GlyphIndex(code), ppem, xfont.HintingNone)
		if err == nil {
			return float64(adv) / 64 * 1000 / float64(d.unitsPerEm)
		}
	}
	return d.font.DefaultWidth
}

// parseToUnicode reads the bfchar and bfrange sections of a ToUnicode CMap.
// The surrounding CMap syntax is PostScript but these sections are regular
// enough that token scanning suffices.
func parseToUnicode(data []byte) map[int]string {
	m := map[int]string{}
	toks := cmapTokens(data)
	for i := 0; i < len(toks); i++ {
		switch toks[i].kw {
		case "beginbfchar":
			for i++; i < len(toks) && toks[i].kw != "endbfchar"; i += 2 {
				if i+1 >= len(toks) || toks[i].hex == nil || toks[i+1].hex == nil {
					break
				}
				m[hexCode(toks[i].hex)] = hexText(toks[i+1].hex)
			}
		case "beginbfrange":
			for i++; i < len(toks) && toks[i].kw != "endbfrange"; {
				if i+2 >= len(toks) || toks[i].hex == nil || toks[i+1].hex == nil {
					break
				}
				lo, hi := hexCode(toks[i].hex), hexCode(toks[i+1].hex)
				if hi < lo || hi-lo > 65535 {
					break
				}
				switch {
				case toks[i+2].hex != nil:
					base := toks[i+2].hex
					for c := lo; c <= hi; c++ {
						m[c] = incrementedHexText(base, c-lo)
					}
					i += 3
				case toks[i+2].kw == "[":
					i += 3
					for c := lo; c <= hi && i < len(toks) && toks[i].hex != nil; c, i = c+1, i+1 {
						m[c] = hexText(toks[i].hex)
					}
					if i < len(toks) && toks[i].kw == "]" {
						i++
					}
				default:
					i += 3
				}
			}
		}
	}
	return m
}

type cmapToken struct {
	kw  string
	hex []byte
}

func cmapTokens(data []byte) []cmapToken {
	var toks []cmapToken
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '<':
			j := i + 1
			for j < len(data) && data[j] != '>' {
				j++
			}
			toks = append(toks, cmapToken{hex: decodeHex(data[i+1 : j])})
			i = j + 1
		case c == '[' || c == ']':
			toks = append(toks, cmapToken{kw: string(c)})
			i++
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			j := i
			for j < len(data) && (data[j] >= 'a' && data[j] <= 'z' || data[j] >= 'A' && data[j] <= 'Z' || data[j] >= '0' && data[j] <= '9') {
				j++
			}
			toks = append(toks, cmapToken{kw: string(data[i:j])})
			i = j
		default:
			i++
		}
	}
	return toks
}

func decodeHex(b []byte) []byte {
	clean := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, 0, len(clean)/2)
	for i := 0; i+1 < len(clean); i += 2 {
		v, err := strconv.ParseUint(string(clean[i:i+2]), 16, 8)
		if err != nil {
			return nil
		}
		out = append(out, byte(v))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hexCode(b []byte) int {
	code := 0
	for _, c := range b {
		code = code<<8 | int(c)
	}
	return code
}

// hexText interprets destination bytes as UTF-16BE code units.
func hexText(b []byte) string {
	runes := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := rune(b[i])<<8 | rune(b[i+1])
		if u >= 0xD800 && u <= 0xDBFF && i+3 < len(b) {
			low := rune(b[i+2])<<8 | rune(b[i+3])
			if low >= 0xDC00 && low <= 0xDFFF {
				runes = append(runes, 0x10000+(u-0xD800)<<10+(low-0xDC00))
				i += 2
				continue
			}
		}
		runes = append(runes, u)
	}
	return string(runes)
}

func incrementedHexText(base []byte, delta int) string {
	if len(base) < 2 {
		return ""
	}
	b := make([]byte, len(base))
	copy(b, base)
	last := (int(b[len(b)-2])<<8 | int(b[len(b)-1])) + delta
	b[len(b)-2] = byte(last >> 8)
	b[len(b)-1] = byte(last)
	return hexText(b)
}
