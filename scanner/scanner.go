package scanner

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenName       TokenType = iota // '/Name'
	TokenNumber                      // numeric value
	TokenString                      // literal '(...)' or hex '<...>' string
	TokenDictOpen                    // '<<'
	TokenDictClose                   // '>>'
	TokenArrayOpen                   // '['
	TokenArrayClose                  // ']'
	TokenKeyword                     // obj, endobj, stream, R, true, false, null, ...
	TokenEOF
)

type Token struct {
	Type  TokenType
	Text  string  // names and keywords
	Num   float64 // numbers
	IsInt bool
	Bytes []byte // string payload (decoded)
	IsHex bool
	Pos   int64
}

// ErrUnexpectedEOF is returned when input ends inside a token.
var ErrUnexpectedEOF = errors.New("scanner: unexpected end of input")

// Scanner is a byte-level PDF lexer over an in-memory buffer.
type Scanner struct {
	data []byte
	pos  int64
}

// New returns a scanner over the full input. PDF xref offsets address
// absolute file positions, so the whole buffer is kept addressable.
func New(data []byte) *Scanner { return &Scanner{data: data} }

// NewFromReaderAt reads size bytes from r and returns a scanner.
func NewFromReaderAt(r io.ReaderAt, size int64) (*Scanner, error) {
	data := make([]byte, size)
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scanner: read input: %w", err)
	}
	return New(data), nil
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("scanner: seek offset %d out of range", offset)
	}
	s.pos = offset
	return nil
}

// Data exposes the underlying buffer for offset-addressed reads (stream
// payloads, brute-force xref repair).
func (s *Scanner) Data() []byte { return s.data }

func isWhitespace(b byte) bool {
	switch b {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(b byte) bool { return !isWhitespace(b) && !isDelimiter(b) }

func (s *Scanner) skipWhitespace() {
	for s.pos < int64(len(s.data)) {
		b := s.data[s.pos]
		if isWhitespace(b) {
			s.pos++
			continue
		}
		if b == '%' { // comment runs to end of line
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

// Next returns the next token. At end of input it returns TokenEOF.
func (s *Scanner) Next() (Token, error) {
	s.skipWhitespace()
	if s.pos >= int64(len(s.data)) {
		return Token{Type: TokenEOF, Pos: s.pos}, nil
	}
	start := s.pos
	b := s.data[s.pos]
	switch {
	case b == '/':
		return s.scanName(start)
	case b == '(':
		return s.scanLiteralString(start)
	case b == '<':
		if s.pos+1 < int64(len(s.data)) && s.data[s.pos+1] == '<' {
			s.pos += 2
			return Token{Type: TokenDictOpen, Pos: start}, nil
		}
		return s.scanHexString(start)
	case b == '>':
		if s.pos+1 < int64(len(s.data)) && s.data[s.pos+1] == '>' {
			s.pos += 2
			return Token{Type: TokenDictClose, Pos: start}, nil
		}
		return Token{}, fmt.Errorf("scanner: stray '>' at %d", start)
	case b == '[':
		s.pos++
		return Token{Type: TokenArrayOpen, Pos: start}, nil
	case b == ']':
		s.pos++
		return Token{Type: TokenArrayClose, Pos: start}, nil
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return s.scanNumber(start)
	case isRegular(b):
		return s.scanKeyword(start)
	}
	return Token{}, fmt.Errorf("scanner: unexpected byte %q at %d", b, start)
}

func (s *Scanner) scanName(start int64) (Token, error) {
	s.pos++ // consume '/'
	var out []byte
	for s.pos < int64(len(s.data)) && isRegular(s.data[s.pos]) {
		c := s.data[s.pos]
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			hi := hexVal(s.data[s.pos+1])
			lo := hexVal(s.data[s.pos+2])
			if hi >= 0 && lo >= 0 {
				out = append(out, byte(hi<<4|lo))
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
	}
	return Token{Type: TokenName, Text: string(out), Pos: start}, nil
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	}
	return -1
}

func (s *Scanner) scanNumber(start int64) (Token, error) {
	end := s.pos
	isInt := true
	for end < int64(len(s.data)) {
		c := s.data[end]
		if c == '.' {
			isInt = false
		} else if c != '+' && c != '-' && (c < '0' || c > '9') {
			break
		}
		end++
	}
	text := string(s.data[s.pos:end])
	s.pos = end
	val, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, fmt.Errorf("scanner: bad number %q at %d", text, start)
	}
	return Token{Type: TokenNumber, Num: val, IsInt: isInt, Pos: start}, nil
}

func (s *Scanner) scanLiteralString(start int64) (Token, error) {
	s.pos++ // consume '('
	var out []byte
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= int64(len(s.data)) {
				return Token{}, ErrUnexpectedEOF
			}
			e := s.data[s.pos]
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\r':
				if s.pos+1 < int64(len(s.data)) && s.data[s.pos+1] == '\n' {
					s.pos++
				}
			case '\n':
				// line continuation: emit nothing
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos+1 < int64(len(s.data)); i++ {
						n := s.data[s.pos+1]
						if n < '0' || n > '7' {
							break
						}
						v = v*8 + int(n-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
			s.pos++
		case '(':
			depth++
			out = append(out, c)
			s.pos++
		case ')':
			depth--
			s.pos++
			if depth == 0 {
				return Token{Type: TokenString, Bytes: out, Pos: start}, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
			s.pos++
		}
	}
	return Token{}, ErrUnexpectedEOF
}

func (s *Scanner) scanHexString(start int64) (Token, error) {
	s.pos++ // consume '<'
	var out []byte
	hi := -1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			if hi >= 0 { // odd digit count: final digit padded with zero
				out = append(out, byte(hi<<4))
			}
			return Token{Type: TokenString, Bytes: out, IsHex: true, Pos: start}, nil
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		v := hexVal(c)
		if v < 0 {
			return Token{}, fmt.Errorf("scanner: bad hex digit %q at %d", c, s.pos)
		}
		if hi < 0 {
			hi = v
		} else {
			out = append(out, byte(hi<<4|v))
			hi = -1
		}
		s.pos++
	}
	return Token{}, ErrUnexpectedEOF
}

func (s *Scanner) scanKeyword(start int64) (Token, error) {
	end := s.pos
	for end < int64(len(s.data)) && isRegular(s.data[end]) {
		end++
	}
	text := string(s.data[s.pos:end])
	s.pos = end
	return Token{Type: TokenKeyword, Text: text, Pos: start}, nil
}

// ReadStreamData returns count bytes of stream payload starting after the
// 'stream' keyword's end-of-line marker at the current position.
func (s *Scanner) ReadStreamData(count int64) ([]byte, error) {
	// stream keyword is followed by CRLF or LF
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	if count < 0 || s.pos+count > int64(len(s.data)) {
		return nil, ErrUnexpectedEOF
	}
	data := s.data[s.pos : s.pos+count]
	s.pos += count
	return data, nil
}

// FindStreamEnd scans forward for the 'endstream' keyword, used when the
// /Length entry is wrong or indirect and unresolvable.
func (s *Scanner) FindStreamEnd() (int64, bool) {
	idx := indexFrom(s.data, s.pos, []byte("endstream"))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

func indexFrom(data []byte, from int64, sep []byte) int64 {
	for i := from; i+int64(len(sep)) <= int64(len(data)); i++ {
		match := true
		for j := range sep {
			if data[i+int64(j)] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
