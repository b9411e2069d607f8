package dsp

import (
	"math"
	"testing"
)

func tone(n int, cyclesPerFrame, amp float64) []complex64 {
	data := make([]complex64, n)
	for i := range data {
		phase := 2 * math.Pi * cyclesPerFrame * float64(i) / float64(n)
		data[i] = complex64(complex(amp*math.Cos(phase), amp*math.Sin(phase)))
	}
	return data
}

func TestFFTAndDBFS(t *testing.T) {
	n := 8
	fft, db := FFTAndDBFS(tone(n, 1, 1))
	if len(fft) != n || len(db) != n {
		t.Fatalf("unexpected lengths")
	}
	maxIdx := 0
	for i := range db {
		if db[i] > db[maxIdx] {
			maxIdx = i
		}
	}
	if expected := n/2 + 1; maxIdx != expected {
		t.Fatalf("expected peak at %d got %d", expected, maxIdx)
	}
	if math.Abs(db[maxIdx]) > 0.5 {
		t.Fatalf("full-scale tone should be near 0 dBFS, got %.2f", db[maxIdx])
	}
	for _, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
	if in[0] != 0 {
		t.Fatal("FFTShift modified its input")
	}
	if odd := FFTShift([]float64{0, 1, 2}); odd[0] != 1 || odd[2] != 0 {
		t.Fatalf("odd shift %v", odd)
	}
}

func TestBinOffset(t *testing.T) {
	if got := BinOffset(4, 8, 8000); got != 0 {
		t.Fatalf("DC bin offset %v", got)
	}
	if got := BinOffset(5.5, 8, 8000); got != 1500 {
		t.Fatalf("expected 1500 Hz, got %v", got)
	}
}
