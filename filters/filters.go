package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"pdfua/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefault returns a pipeline with every filter the engine supports and
// the default decode limits.
func NewDefault() *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, DefaultLimits())
}

type Limits struct {
	MaxDecompressedSize int64
}

func DefaultLimits() Limits {
	return Limits{MaxDecompressedSize: 256 << 20}
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies the named filter chain in order. Abbreviated filter names
// (Fl, AHx, A85, LZW, RL) are accepted as inline-image content streams use them.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(expandAbbrev(name))
		if dec == nil {
			return nil, errors.New("filters: unknown filter " + name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("filters: %s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("filters: decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

func expandAbbrev(name string) string {
	switch name {
	case "Fl":
		return "FlateDecode"
	case "AHx":
		return "ASCIIHexDecode"
	case "A85":
		return "ASCII85Decode"
	case "LZW":
		return "LZWDecode"
	case "RL":
		return "RunLengthDecode"
	}
	return name
}

// FlateDecode

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return applyPredictor(out, params)
}

// LZWDecode

type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	// EarlyChange=1 streams may produce a spurious trailing error after the
	// final code; tolerate it and keep what decoded.
	lr := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer lr.Close()
	out, err := io.ReadAll(lr)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return applyPredictor(out, params)
}

// ASCII85Decode

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	in = bytes.TrimSuffix(bytes.TrimSpace(in), []byte("~>"))
	out := make([]byte, stdascii85.MaxEncodedLen(len(in)))
	n, _, err := stdascii85.Decode(out, in, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// ASCIIHexDecode

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	if i := bytes.IndexByte(in, '>'); i >= 0 {
		in = in[:i]
	}
	clean := make([]byte, 0, len(in))
	for _, c := range in {
		switch c {
		case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		default:
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	if _, err := hex.Decode(out, clean); err != nil {
		return nil, err
	}
	return out, nil
}

// RunLengthDecode

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }
func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out []byte
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(in) {
				return nil, errors.New("runlength: truncated literal run")
			}
			out = append(out, in[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(in) {
				return nil, errors.New("runlength: truncated repeat run")
			}
			for j := 0; j < 257-n; j++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	return out, nil
}

// applyPredictor reverses PNG (10-15) and TIFF (2) predictors declared in
// /DecodeParms. Predictor 1 or no parms passes through.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	pred, ok := raw.DictGetInt(params, "Predictor")
	if !ok || pred <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := raw.DictGetInt(params, "Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := raw.DictGetInt(params, "BitsPerComponent"); ok {
		bpc = v
	}
	columns := int64(1)
	if v, ok := raw.DictGetInt(params, "Columns"); ok {
		columns = v
	}
	bpp := int((colors*bpc + 7) / 8)
	rowLen := int((colors*bpc*columns + 7) / 8)
	if rowLen <= 0 || bpp <= 0 {
		return nil, errors.New("predictor: bad parameters")
	}

	if pred == 2 {
		if bpc != 8 {
			return data, nil // sub-byte TIFF prediction not supported
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		}
		return data, nil
	}

	// PNG predictors: each row prefixed by a filter-type byte.
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, errors.New("predictor: data not a multiple of row size")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		row := append([]byte{}, data[r*stride+1:(r+1)*stride]...)
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := range row {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := range row {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("predictor: unknown PNG filter %d", ft)
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
