package parser

import (
	"errors"
	"fmt"

	"pdfua/ir/raw"
	"pdfua/scanner"
)

// maxParseDepth bounds nesting of arrays/dictionaries.
const maxParseDepth = 64

var errDepth = errors.New("parser: object nesting too deep")

// parseObject reads one object from the scanner. Indirect references
// ("N G R") are assembled by lookahead over number tokens.
func parseObject(s *scanner.Scanner, depth int) (raw.Object, error) {
	if depth > maxParseDepth {
		return nil, errDepth
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return parseFromToken(s, tok, depth)
}

func parseFromToken(s *scanner.Scanner, tok scanner.Token, depth int) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			if ref, ok := tryReference(s, tok); ok {
				return ref, nil
			}
			return raw.NumberInt(int64(tok.Num)), nil
		}
		return raw.NumberFloat(tok.Num), nil
	case scanner.TokenName:
		return raw.NameLiteral(tok.Text), nil
	case scanner.TokenString:
		if tok.IsHex {
			return raw.HexStr(tok.Bytes), nil
		}
		return raw.Str(tok.Bytes), nil
	case scanner.TokenArrayOpen:
		return parseArray(s, depth+1)
	case scanner.TokenDictOpen:
		return parseDict(s, depth+1)
	case scanner.TokenKeyword:
		switch tok.Text {
		case "true":
			return raw.Bool(true), nil
		case "false":
			return raw.Bool(false), nil
		case "null":
			return raw.NullObj{}, nil
		}
		return nil, fmt.Errorf("parser: unexpected keyword %q at %d", tok.Text, tok.Pos)
	case scanner.TokenEOF:
		return nil, fmt.Errorf("parser: unexpected end of input at %d", tok.Pos)
	}
	return nil, fmt.Errorf("parser: unexpected token at %d", tok.Pos)
}

// tryReference checks whether the integer token begins "N G R". The scanner
// position is restored when it does not.
func tryReference(s *scanner.Scanner, numTok scanner.Token) (raw.Object, bool) {
	save := s.Position()
	genTok, err := s.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		s.Seek(save)
		return nil, false
	}
	rTok, err := s.Next()
	if err != nil || rTok.Type != scanner.TokenKeyword || rTok.Text != "R" {
		s.Seek(save)
		return nil, false
	}
	return raw.Ref(int(numTok.Num), int(genTok.Num)), true
}

func parseArray(s *scanner.Scanner, depth int) (raw.Object, error) {
	if depth > maxParseDepth {
		return nil, errDepth
	}
	arr := raw.NewArray()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenArrayClose {
			return arr, nil
		}
		if tok.Type == scanner.TokenEOF {
			return nil, errors.New("parser: unterminated array")
		}
		item, err := parseFromToken(s, tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(s *scanner.Scanner, depth int) (raw.Object, error) {
	if depth > maxParseDepth {
		return nil, errDepth
	}
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictClose {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("parser: dictionary key must be a name at %d", tok.Pos)
		}
		val, err := parseObject(s, depth+1)
		if err != nil {
			return nil, err
		}
		dict.Set(raw.NameLiteral(tok.Text), val)
	}
}
