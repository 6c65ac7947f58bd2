package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"pdfua/ir/raw"
	"pdfua/ir/semantic"
	"pdfua/observability"
)

type writerImpl struct {
	cfg Config
}

func (w *writerImpl) Write(ctx context.Context, rawDoc *raw.Document, doc *semantic.Document, out io.Writer) error {
	if rawDoc == nil || rawDoc.Trailer == nil {
		return fmt.Errorf("writer: document has no trailer")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	build, err := w.rebuild(rawDoc, doc)
	if err != nil {
		return fmt.Errorf("writer: rebuild: %w", err)
	}

	// serialize fully in memory so a failure never leaves partial output
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + w.cfg.Version + "\n")
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	refs := make([]raw.ObjectRef, 0, len(build.objects))
	for ref := range build.objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})

	offsets := make(map[int]int64, len(refs))
	maxNum := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		offsets[ref.Num] = int64(buf.Len())
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		writeObject(&buf, build.objects[ref])
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := int64(buf.Len())
	size := maxNum + 1
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, genOf(refs, num))
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	trailer.Set(raw.NameLiteral("Root"), raw.RefObj{R: build.root})
	if build.info.Num != 0 {
		trailer.Set(raw.NameLiteral("Info"), raw.RefObj{R: build.info})
	}
	if id, ok := rawDoc.Trailer.Get(raw.NameLiteral("ID")); ok {
		trailer.Set(raw.NameLiteral("ID"), id)
	}
	buf.WriteString("trailer\n")
	writeObject(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	w.cfg.Logger.Debug("document serialized",
		observability.Int("objects", len(refs)),
		observability.Int("bytes", buf.Len()))
	_, err = out.Write(buf.Bytes())
	return err
}

func genOf(refs []raw.ObjectRef, num int) int {
	for _, r := range refs {
		if r.Num == num {
			return r.Gen
		}
	}
	return 0
}

// writeObject renders any raw object in file syntax. Dictionary keys are
// emitted in sorted order so output is reproducible.
func writeObject(buf *bytes.Buffer, obj raw.Object) {
	switch v := obj.(type) {
	case nil:
		buf.WriteString("null")
	case raw.NameObj:
		writeName(buf, v.Val)
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
	case raw.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case raw.StringObj:
		writeString(buf, v)
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, item)
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		writeDict(buf, v)
	case *raw.StreamObj:
		dict := cloneDict(v.Dict)
		dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(v.Data))))
		writeDict(buf, dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	}
}

func writeDict(buf *bytes.Buffer, d *raw.DictObj) {
	keys := make([]string, 0, d.Len())
	for _, k := range d.Keys() {
		keys = append(keys, k.Value())
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, key := range keys {
		writeName(buf, key)
		buf.WriteByte(' ')
		val, _ := d.Get(raw.NameLiteral(key))
		writeObject(buf, val)
		buf.WriteByte(' ')
	}
	buf.WriteString(">>")
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 32 || c >= 127 || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeString(buf *bytes.Buffer, s raw.StringObj) {
	if s.Hex {
		buf.WriteByte('<')
		for _, c := range s.Bytes {
			fmt.Fprintf(buf, "%02X", c)
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Bytes {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

func cloneDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if d == nil {
		return out
	}
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out.Set(k, v)
	}
	return out
}
