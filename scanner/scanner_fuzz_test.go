package scanner

import "testing"

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /Page >>"))
	f.Add([]byte("[ 1 2 3 ]"))
	f.Add([]byte("(Hello \\(World\\))"))
	f.Add([]byte("<AABBCC>"))
	f.Add([]byte("/Name#20Escape 3.14 true null"))
	f.Add([]byte("1 0 obj << /Length 4 >> stream\nABCD\nendstream endobj"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := New(data)
		for i := 0; i < len(data)+16; i++ {
			tok, err := s.Next()
			if err != nil {
				break
			}
			if tok.Type == TokenEOF {
				break
			}
		}
	})
}
