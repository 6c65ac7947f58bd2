// Package contrast checks and repairs text contrast against the WCAG 2.x
// thresholds: 4.5:1 for normal text, 3:1 for large text (18pt and up, or
// bold at 14pt and up). Repairs preserve hue and step only the lightness
// of the text fill color; the background is never touched.
package contrast

import (
	"math"

	"pdfua/contentstream"
	"pdfua/observability"
)

const (
	RatioNormal = 4.5
	RatioLarge  = 3.0

	largeSize     = 18.0
	largeBoldSize = 14.0

	// lightness step per iteration, and the cap after which the run is
	// handed to review instead of being forced to black or white
	step     = 0.05
	maxSteps = 20
)

// Options configures a repair pass.
type Options struct {
	Logger observability.Logger
}

// Fix is one rewritten fill color.
type Fix struct {
	OpIndex int
	Old     contentstream.Color
	New     contentstream.Color
	Ratio   float64
}

// Review is a run whose contrast could not be brought to threshold within
// the stepping cap.
type Review struct {
	OpIndex int
	Ratio   float64
	Needed  float64
}

// Result is the outcome of a page pass.
type Result struct {
	Fixes  []Fix
	Review []Review
}

// Threshold returns the required ratio for a run's effective size and
// weight.
func Threshold(size float64, bold bool) float64 {
	if size >= largeSize || (bold && size >= largeBoldSize) {
		return RatioLarge
	}
	return RatioNormal
}

// Luminance is WCAG relative luminance for an sRGB color with channels
// in [0,1].
func Luminance(c contentstream.Color) float64 {
	lin := func(v float64) float64 {
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(clamp(c.R)) + 0.7152*lin(clamp(c.G)) + 0.0722*lin(clamp(c.B))
}

// Ratio is the WCAG contrast ratio between two colors, always >= 1.
func Ratio(a, b contentstream.Color) float64 {
	la, lb := Luminance(a), Luminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

// Repair checks every resolved text run on a page and rewrites failing
// fill colors. The background for a run is the most recent fill whose
// rectangle contains the run's center, white when there is none. Runs
// whose fill color was never set by an operator render black and cannot
// fail against any background lighter than mid-gray, but are checked all
// the same.
func Repair(ex *contentstream.Extraction, opts Options) *Result {
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	res := &Result{}
	fixed := map[int]contentstream.Color{}

	for _, run := range ex.Runs {
		bg := background(ex.Fills, run)
		fg := run.Fill
		if c, ok := fixed[run.FillOpIndex]; ok {
			fg = c
		}
		need := Threshold(run.Size, run.Bold)
		have := Ratio(fg, bg)
		if have >= need {
			continue
		}
		if run.FillOpIndex < 0 {
			// default black already; nothing to rewrite
			res.Review = append(res.Review, Review{OpIndex: run.OpIndex, Ratio: have, Needed: need})
			continue
		}
		repaired, ratio, ok := Adjust(fg, bg, need)
		if !ok {
			res.Review = append(res.Review, Review{OpIndex: run.OpIndex, Ratio: ratio, Needed: need})
			continue
		}
		fixed[run.FillOpIndex] = repaired
		res.Fixes = append(res.Fixes, Fix{
			OpIndex: run.FillOpIndex,
			Old:     run.Fill,
			New:     repaired,
			Ratio:   ratio,
		})
		log.Info("contrast repaired",
			observability.Int("op", run.FillOpIndex),
			observability.Float64("was", have),
			observability.Float64("now", ratio))
	}
	return res
}

// Adjust steps the foreground lightness away from the background until the
// ratio meets need. Hue and saturation are preserved. Each step can only
// raise the ratio, so the loop is monotonic; ok is false when the cap runs
// out first.
func Adjust(fg, bg contentstream.Color, need float64) (out contentstream.Color, ratio float64, ok bool) {
	h, s, l := rgbToHSL(fg)
	darken := Luminance(fg) <= Luminance(bg)

	best := fg
	bestRatio := Ratio(fg, bg)
	for i := 0; i < maxSteps; i++ {
		if darken {
			l -= step
		} else {
			l += step
		}
		l = clamp(l)
		candidate := hslToRGB(h, s, l)
		r := Ratio(candidate, bg)
		if r > bestRatio {
			best, bestRatio = candidate, r
		}
		if bestRatio >= need {
			return best, bestRatio, true
		}
		if l == 0 || l == 1 {
			break
		}
	}
	return best, bestRatio, false
}

// Apply rewrites the fixed color operators in place: the operation becomes
// an rg with the repaired color and loses its source bytes so it is
// re-rendered.
func Apply(ops []contentstream.Operation, fixes []Fix) {
	for _, fix := range fixes {
		if fix.OpIndex < 0 || fix.OpIndex >= len(ops) {
			continue
		}
		op := &ops[fix.OpIndex]
		if op.Kind() != contentstream.KindColorSet {
			continue
		}
		*op = contentstream.NewFillColorOp(fix.New)
	}
}

// background picks the most recent fill drawn before the run that covers
// the run's center. Pages with no covering fill are assumed white.
func background(fills []contentstream.FillRect, run contentstream.TextRun) contentstream.Color {
	bg := contentstream.Color{R: 1, G: 1, B: 1}
	center := run.BBox.Center()
	for _, f := range fills {
		if f.OpIndex > run.OpIndex {
			break
		}
		if f.Rect.Contains(center) {
			bg = f.Color
		}
	}
	return bg
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rgbToHSL(c contentstream.Color) (h, s, l float64) {
	r, g, b := clamp(c.R), clamp(c.G), clamp(c.B)
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2
	if max == min {
		return 0, 0, l
	}
	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}
	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h /= 6
	return h, s, l
}

func hslToRGB(h, s, l float64) contentstream.Color {
	if s == 0 {
		return contentstream.Color{R: l, G: l, B: l}
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return contentstream.Color{
		R: hueToChannel(p, q, h+1.0/3),
		G: hueToChannel(p, q, h),
		B: hueToChannel(p, q, h-1.0/3),
	}
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
