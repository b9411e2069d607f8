package ranges

import (
	"errors"
	"testing"
)

func TestClipStepped(t *testing.T) {
	bb := Stepped(0, 62, 2)
	if got := bb.Clip(31, true); got != 30 && got != 32 {
		t.Fatalf("expected 30 or 32, got %v", got)
	}
	if got := bb.Clip(-5, true); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := bb.Clip(100, true); got != 62 {
		t.Fatalf("expected 62, got %v", got)
	}
	if got := bb.Clip(33.1, true); got != 34 {
		t.Fatalf("expected 34, got %v", got)
	}
	if got := bb.Clip(33.9, false); got != 32 {
		t.Fatalf("expected floor to 32, got %v", got)
	}
}

func TestClipStopOffGrid(t *testing.T) {
	r := Stepped(0, 7, 2)
	for _, v := range []float64{7, 6.9, 100} {
		if got := r.Clip(v, true); got != 6 || !r.Contains(got) {
			t.Fatalf("Clip(%v) = %v, want 6", v, got)
		}
	}
	if r.Stop() != 6 {
		t.Fatalf("expected highest admissible value 6, got %v", r.Stop())
	}
	if r.Contains(7) {
		t.Fatal("7 is not on the step grid")
	}
	gapped := MustNew(Range{Start: 0, Stop: 7, Step: 2}, Range{Start: 10, Stop: 10})
	if got := gapped.Clip(7.5, true); got != 6 {
		t.Fatalf("expected 6 from the lower range, got %v", got)
	}
}

func TestClipDiscretePoints(t *testing.T) {
	bw := Points(1.75e6, 2.5e6, 3.5e6, 5e6)
	tests := []struct {
		in, want float64
	}{
		{0, 1.75e6},
		{2.0e6, 1.75e6},
		{2.2e6, 2.5e6},
		{4.3e6, 5e6},
		{9e6, 5e6},
	}
	for _, tt := range tests {
		if got := bw.Clip(tt.in, true); got != tt.want {
			t.Errorf("Clip(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClipGapBetweenRanges(t *testing.T) {
	rs := MustNew(Range{Start: 225001, Stop: 300000}, Range{Start: 900001, Stop: 3.2e6})
	if got := rs.Clip(400000, true); got != 300000 {
		t.Fatalf("expected lower edge, got %v", got)
	}
	if got := rs.Clip(800000, true); got != 900001 {
		t.Fatalf("expected upper edge, got %v", got)
	}
	if got := rs.Clip(1.5e6, true); got != 1.5e6 {
		t.Fatalf("continuous value changed: %v", got)
	}
}

func TestNewRejectsOverlap(t *testing.T) {
	_, err := New(Range{Start: 0, Stop: 10}, Range{Start: 5, Stop: 20})
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
	if _, err := New(Range{Start: 10, Stop: 0}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestValuesAndContains(t *testing.T) {
	lna := Stepped(0, 6, 3)
	vals := lna.Values()
	if len(vals) != 3 || vals[0] != 0 || vals[1] != 3 || vals[2] != 6 {
		t.Fatalf("unexpected values %v", vals)
	}
	if !lna.Contains(3) || lna.Contains(4) {
		t.Fatal("contains mismatch for stepped range")
	}
	if lna.Start() != 0 || lna.Stop() != 6 {
		t.Fatalf("unexpected bounds %v..%v", lna.Start(), lna.Stop())
	}
	var empty RangeSet
	if !empty.Empty() || empty.Clip(7, true) != 7 {
		t.Fatal("empty set should pass values through")
	}
}
