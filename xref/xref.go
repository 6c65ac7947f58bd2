package xref

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EntryKind distinguishes how an object is stored.
type EntryKind int

const (
	KindFree EntryKind = iota
	KindInFile
	KindInStream
)

// Entry locates one indirect object.
type Entry struct {
	Kind      EntryKind
	Offset    int64 // KindInFile: absolute byte offset
	Gen       int
	StreamNum int // KindInStream: object stream number
	StreamIdx int // KindInStream: index within the stream
}

// Table accumulates xref entries across the /Prev chain. The first
// definition of an object number wins, since newer sections are parsed first.
type Table struct {
	entries map[int]Entry
}

func NewTable() *Table { return &Table{entries: make(map[int]Entry)} }

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects returns the known object numbers in ascending order.
func (t *Table) Objects() []int {
	nums := make([]int, 0, len(t.entries))
	for n := range t.entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (t *Table) add(objNum int, e Entry) {
	if _, exists := t.entries[objNum]; !exists {
		t.entries[objNum] = e
	}
}

func (t *Table) Len() int { return len(t.entries) }

// FindStartXref locates the startxref offset near the end of the file.
func FindStartXref(data []byte) (int64, error) {
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("xref: startxref not found")
	}
	rest := tail[idx+len("startxref"):]
	sc := bufio.NewScanner(bytes.NewReader(rest))
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		val, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("xref: parse startxref: %w", err)
		}
		if val < 0 || val >= int64(len(data)) {
			return 0, fmt.Errorf("xref: offset out of range: %d", val)
		}
		return val, nil
	}
	return 0, errors.New("xref: startxref value missing")
}

// IsClassicTable reports whether the bytes at offset begin a classic
// "xref" section rather than an xref stream object.
func IsClassicTable(data []byte, offset int64) bool {
	rest := data[offset:]
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\r' || rest[0] == '\n' || rest[0] == '\t') {
		rest = rest[1:]
	}
	return bytes.HasPrefix(rest, []byte("xref"))
}

// ParseTable parses a classic xref section at offset into tbl and returns
// the byte offset of the trailer dictionary that follows it.
func ParseTable(data []byte, offset int64, tbl *Table) (int64, error) {
	pos := offset
	line, next := readLine(data, pos)
	if strings.TrimSpace(line) != "xref" {
		return 0, errors.New("xref: keyword not found at offset")
	}
	pos = next
	for {
		line, next = readLine(data, pos)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			pos = next
			continue
		}
		if strings.HasPrefix(trimmed, "trailer") {
			return pos + int64(strings.Index(line, "trailer")) + int64(len("trailer")), nil
		}
		parts := strings.Fields(trimmed)
		if len(parts) != 2 {
			return 0, fmt.Errorf("xref: invalid subsection header %q", trimmed)
		}
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("xref: parse subsection start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("xref: parse subsection count: %w", err)
		}
		pos = next
		for i := 0; i < count; i++ {
			// entries are fixed 20-byte records
			if pos+20 > int64(len(data)) {
				return 0, errors.New("xref: truncated entry")
			}
			rec := string(data[pos : pos+20])
			pos += 20
			fields := strings.Fields(rec)
			if len(fields) < 3 {
				return 0, fmt.Errorf("xref: malformed entry %q", rec)
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("xref: entry offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, fmt.Errorf("xref: entry gen: %w", err)
			}
			switch fields[2] {
			case "n":
				tbl.add(start+i, Entry{Kind: KindInFile, Offset: off, Gen: gen})
			case "f":
				tbl.add(start+i, Entry{Kind: KindFree, Gen: gen})
			default:
				return 0, fmt.Errorf("xref: unknown entry type %q", fields[2])
			}
		}
	}
}

func readLine(data []byte, pos int64) (string, int64) {
	start := pos
	for pos < int64(len(data)) && data[pos] != '\n' && data[pos] != '\r' {
		pos++
	}
	line := string(data[start:pos])
	if pos < int64(len(data)) && data[pos] == '\r' {
		pos++
	}
	if pos < int64(len(data)) && data[pos] == '\n' {
		pos++
	}
	return line, pos
}

// AddStreamEntries decodes the packed entries of an xref stream (already
// filter-decoded) described by /W widths and /Index ranges.
func AddStreamEntries(decoded []byte, w []int, index []int, tbl *Table) error {
	if len(w) < 3 {
		return errors.New("xref: /W must have three elements")
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen <= 0 {
		return errors.New("xref: zero-width entries")
	}
	if len(index) == 0 {
		index = []int{0, len(decoded) / rowLen}
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(decoded) {
				return errors.New("xref: truncated stream entries")
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			f1 := int64(1) // default type when W[0]==0
			if w[0] > 0 {
				f1 = beInt(row[:w[0]])
			}
			f2 := beInt(row[w[0] : w[0]+w[1]])
			f3 := beInt(row[w[0]+w[1]:])
			num := start + j
			switch f1 {
			case 0:
				tbl.add(num, Entry{Kind: KindFree, Gen: int(f3)})
			case 1:
				tbl.add(num, Entry{Kind: KindInFile, Offset: f2, Gen: int(f3)})
			case 2:
				tbl.add(num, Entry{Kind: KindInStream, StreamNum: int(f2), StreamIdx: int(f3)})
			}
		}
	}
	return nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// Repair scans the buffer for indirect object headers and rebuilds a table
// from what it finds. Later definitions of an object number win, matching
// the incremental-update convention that later bodies supersede earlier ones.
func Repair(data []byte) *Table {
	tbl := NewTable()
	for i := 0; i+4 < len(data); i++ {
		if !bytes.HasPrefix(data[i:], []byte("obj")) {
			continue
		}
		// walk backwards over "N G " preceding the keyword
		j := i - 1
		for j >= 0 && data[j] == ' ' {
			j--
		}
		genEnd := j + 1
		for j >= 0 && data[j] >= '0' && data[j] <= '9' {
			j--
		}
		genStart := j + 1
		if genStart == genEnd {
			continue
		}
		for j >= 0 && data[j] == ' ' {
			j--
		}
		numEnd := j + 1
		for j >= 0 && data[j] >= '0' && data[j] <= '9' {
			j--
		}
		numStart := j + 1
		if numStart == numEnd {
			continue
		}
		if j >= 0 && data[j] != '\n' && data[j] != '\r' && data[j] != ' ' {
			continue
		}
		num, err1 := strconv.Atoi(string(data[numStart:numEnd]))
		gen, err2 := strconv.Atoi(string(data[genStart:genEnd]))
		if err1 != nil || err2 != nil {
			continue
		}
		tbl.entries[num] = Entry{Kind: KindInFile, Offset: int64(numStart), Gen: gen}
	}
	return tbl
}
