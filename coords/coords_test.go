package coords

import (
	"math"
	"testing"
)

func TestMatrixMultiply(t *testing.T) {
	got := Scale(2, 3).Multiply(Translate(10, 20))
	want := Matrix{2, 0, 0, 3, 10, 20}
	if got != want {
		t.Errorf("scale then translate = %v, want %v", got, want)
	}

	// order matters: translating first scales the offset too
	got = Translate(10, 20).Multiply(Scale(2, 3))
	want = Matrix{2, 0, 0, 3, 20, 60}
	if got != want {
		t.Errorf("translate then scale = %v, want %v", got, want)
	}
}

func TestMatrixTransform(t *testing.T) {
	p := Translate(5, 7).Transform(Point{X: 1, Y: 2})
	if p != (Point{X: 6, Y: 9}) {
		t.Errorf("translated point = %v", p)
	}
	p = Scale(2, 2).Transform(Point{X: 3, Y: 4})
	if p != (Point{X: 6, Y: 8}) {
		t.Errorf("scaled point = %v", p)
	}
}

func TestMatrixInverse(t *testing.T) {
	m := Scale(2, 4).Multiply(Translate(10, 20))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	p := inv.Transform(m.Transform(Point{X: 3, Y: 5}))
	if math.Abs(p.X-3) > 1e-9 || math.Abs(p.Y-5) > 1e-9 {
		t.Errorf("round trip point = %v", p)
	}

	if _, err := (Matrix{0, 0, 0, 0, 1, 2}).Inverse(); err == nil {
		t.Error("singular matrix should not invert")
	}
}

func TestRotate(t *testing.T) {
	p := Rotate(math.Pi / 2).Transform(Point{X: 1, Y: 0})
	if math.Abs(p.X) > 1e-9 || math.Abs(p.Y-1) > 1e-9 {
		t.Errorf("quarter turn of (1,0) = %v", p)
	}
}

func TestRectBasics(t *testing.T) {
	r := Rect{LLX: 10, LLY: 20, URX: 110, URY: 70}
	if r.Width() != 100 || r.Height() != 50 {
		t.Errorf("size = %v x %v", r.Width(), r.Height())
	}
	if r.Center() != (Point{X: 60, Y: 45}) {
		t.Errorf("center = %v", r.Center())
	}
	if !r.Contains(Point{X: 10, Y: 70}) {
		t.Error("boundary point should be inside")
	}
	if r.Contains(Point{X: 9, Y: 45}) {
		t.Error("outside point reported inside")
	}
}

func TestRectUnion(t *testing.T) {
	a := Rect{LLX: 0, LLY: 0, URX: 10, URY: 10}
	b := Rect{LLX: 5, LLY: -5, URX: 20, URY: 8}
	if got := a.Union(b); got != (Rect{LLX: 0, LLY: -5, URX: 20, URY: 10}) {
		t.Errorf("union = %+v", got)
	}
	if got := a.Union(Rect{}); got != a {
		t.Errorf("union with empty = %+v", got)
	}
	if got := (Rect{}).Union(b); got != b {
		t.Errorf("empty union = %+v", got)
	}
}

func TestVerticalOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want float64
	}{
		{"identical", Rect{LLY: 0, URY: 10}, Rect{LLY: 0, URY: 10}, 1},
		{"disjoint", Rect{LLY: 0, URY: 10}, Rect{LLY: 20, URY: 30}, 0},
		{"half of shorter", Rect{LLY: 0, URY: 10}, Rect{LLY: 5, URY: 25}, 0.5},
		{"touching", Rect{LLY: 0, URY: 10}, Rect{LLY: 10, URY: 20}, 0},
	}
	for _, tt := range tests {
		if got := tt.a.VerticalOverlap(tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: overlap = %v, want %v", tt.name, got, tt.want)
		}
		if got := tt.b.VerticalOverlap(tt.a); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s reversed: overlap = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTransformRect(t *testing.T) {
	r := Rect{LLX: 1, LLY: 2, URX: 3, URY: 4}
	if got := Scale(2, 2).TransformRect(r); got != (Rect{LLX: 2, LLY: 4, URX: 6, URY: 8}) {
		t.Errorf("scaled rect = %+v", got)
	}

	// rotation re-normalizes the corners into a bounding box
	got := Rotate(math.Pi / 2).TransformRect(Rect{LLX: 0, LLY: 0, URX: 2, URY: 1})
	want := Rect{LLX: -1, LLY: 0, URX: 0, URY: 2}
	const eps = 1e-9
	if math.Abs(got.LLX-want.LLX) > eps || math.Abs(got.LLY-want.LLY) > eps ||
		math.Abs(got.URX-want.URX) > eps || math.Abs(got.URY-want.URY) > eps {
		t.Errorf("rotated rect = %+v, want %+v", got, want)
	}
}
