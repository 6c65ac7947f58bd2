package contentstream

import (
	"fmt"
	"sort"

	"pdfua/ir/raw"
)

// Region is a half-open range of operation indexes [Start, End) to wrap in
// a marked-content sequence carrying an MCID.
type Region struct {
	Start int
	End   int
	Tag   string
	MCID  int
}

// Wrap returns a new operation list with each region bracketed by BDC and
// EMC. The input list is not modified and operations inside and outside
// regions keep their source bytes. Regions must be within bounds and
// non-overlapping.
func Wrap(ops []Operation, regions []Region) ([]Operation, error) {
	if len(regions) == 0 {
		out := make([]Operation, len(ops))
		copy(out, ops)
		return out, nil
	}
	sorted := make([]Region, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, r := range sorted {
		if r.Start < 0 || r.End > len(ops) || r.Start >= r.End {
			return nil, fmt.Errorf("contentstream: region %d out of range [%d,%d)", i, r.Start, r.End)
		}
		if i > 0 && r.Start < sorted[i-1].End {
			return nil, fmt.Errorf("contentstream: regions %d and %d overlap", i-1, i)
		}
	}

	out := make([]Operation, 0, len(ops)+2*len(sorted))
	next := 0
	for _, r := range sorted {
		out = append(out, ops[next:r.Start]...)
		props := raw.Dict()
		props.Set(raw.NameLiteral("MCID"), raw.NumberInt(int64(r.MCID)))
		out = append(out, Operation{
			Operator: "BDC",
			Operands: []raw.Object{raw.NameLiteral(r.Tag), props},
		})
		out = append(out, ops[r.Start:r.End]...)
		out = append(out, Operation{Operator: "EMC"})
		next = r.End
	}
	out = append(out, ops[next:]...)
	return out, nil
}

// Coverage describes how a stream's content relates to marked-content
// sequences: the MCIDs present, per operation whether it sits inside a
// sequence that carries an MCID, and which MCID encloses it.
type Coverage struct {
	MCIDs   []int
	Covered []bool
	// OpMCID is the innermost enclosing MCID per operation, -1 outside
	// any MCID-carrying sequence.
	OpMCID []int
}

// InspectCoverage walks the marked-content nesting of the operations.
// Unbalanced EMCs are tolerated at depth zero.
func InspectCoverage(ops []Operation) Coverage {
	cov := Coverage{
		Covered: make([]bool, len(ops)),
		OpMCID:  make([]int, len(ops)),
	}
	// stack of MCIDs, -1 for sequences without one
	var stack []int
	inMCID := 0
	current := -1
	for i := range ops {
		op := &ops[i]
		cov.OpMCID[i] = current
		switch op.Kind() {
		case KindMarkedContentBegin:
			mcid := -1
			if op.Operator == "BDC" && len(op.Operands) >= 2 {
				if props, ok := op.Operands[1].(*raw.DictObj); ok {
					if v, ok := raw.DictGetInt(props, "MCID"); ok {
						mcid = int(v)
						cov.MCIDs = append(cov.MCIDs, mcid)
					}
				}
			}
			stack = append(stack, mcid)
			if mcid >= 0 {
				inMCID++
				current = mcid
			}
		case KindMarkedContentEnd:
			if n := len(stack); n > 0 {
				if stack[n-1] >= 0 {
					inMCID--
				}
				stack = stack[:n-1]
			}
			current = -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j] >= 0 {
					current = stack[j]
					break
				}
			}
		default:
			cov.Covered[i] = inMCID > 0
			cov.OpMCID[i] = current
		}
	}
	return cov
}
