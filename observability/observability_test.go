package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "repair")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("pages", 3)
	span.SetError(nil)
	span.Finish()
}

func TestFields(t *testing.T) {
	err := errors.New("boom")
	cases := []struct {
		f    Field
		key  string
		want interface{}
	}{
		{String("name", "report.pdf"), "name", "report.pdf"},
		{Int("pages", 12), "pages", 12},
		{Float64("ratio", 4.5), "ratio", 4.5},
		{Error("err", err), "err", err},
	}
	for _, c := range cases {
		if c.f.Key() != c.key {
			t.Errorf("Key() = %q, want %q", c.f.Key(), c.key)
		}
		if c.f.Value() != c.want {
			t.Errorf("Value() = %v, want %v", c.f.Value(), c.want)
		}
	}
}

func TestStdLoggerWith(t *testing.T) {
	base := NewStdLogger()
	child := base.With(String("doc", "a.pdf"))
	if child == nil {
		t.Fatal("With returned nil")
	}
	std, ok := child.(*StdLogger)
	if !ok {
		t.Fatalf("With returned %T, want *StdLogger", child)
	}
	if len(std.bound) != 1 || std.bound[0].Key() != "doc" {
		t.Fatalf("bound fields = %v", std.bound)
	}
	if len(base.bound) != 0 {
		t.Fatal("With mutated the parent logger")
	}
}
