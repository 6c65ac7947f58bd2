package recovery

import (
	"context"
	"errors"
	"testing"
)

func TestStrictFailsImmediately(t *testing.T) {
	s := Strict{}
	if got := s.OnError(context.Background(), errors.New("boom"), Location{}); got != ActionFail {
		t.Errorf("action = %v, want fail", got)
	}
}

func TestLenientBoundedSkips(t *testing.T) {
	l := &Lenient{MaxSkips: 2}
	err := errors.New("bad object")
	for i := 0; i < 2; i++ {
		if got := l.OnError(context.Background(), err, Location{ObjectNum: i}); got != ActionSkip {
			t.Fatalf("skip %d: action = %v", i, got)
		}
	}
	if l.Skipped() != 2 {
		t.Errorf("skipped = %d, want 2", l.Skipped())
	}
	if got := l.OnError(context.Background(), err, Location{}); got != ActionFail {
		t.Errorf("over budget: action = %v, want fail", got)
	}
}

func TestLenientUnbounded(t *testing.T) {
	l := &Lenient{}
	for i := 0; i < 100; i++ {
		if got := l.OnError(context.Background(), errors.New("x"), Location{}); got != ActionSkip {
			t.Fatalf("action = %v, want skip", got)
		}
	}
}
