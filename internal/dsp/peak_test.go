package dsp

import (
	"errors"
	"math"
	"testing"
)

func TestFindPeakInterpolates(t *testing.T) {
	size := 1024
	// 100.25 cycles per frame puts the carrier between bins.
	_, db := FFTAndDBFS(tone(size, 100.25, 1))
	p, err := FindPeak(db, 2)
	if err != nil {
		t.Fatalf("peak: %v", err)
	}
	if math.Abs(p.Bin-float64(size/2)-100.25) > 0.1 {
		t.Fatalf("expected bin %.2f, got %.3f", float64(size/2)+100.25, p.Bin)
	}
}

func TestFindPeakSkipsDC(t *testing.T) {
	spectrum := []float64{-90, -80, -90, -90, 0, -90, -90, -90}
	p, err := FindPeak(spectrum, 1)
	if err != nil {
		t.Fatalf("peak: %v", err)
	}
	if math.Round(p.Bin) != 1 {
		t.Fatalf("expected bin near 1, got %v", p.Bin)
	}
	if _, err := FindPeak([]float64{0, 0}, 0); !errors.Is(err, ErrNoPeak) {
		t.Fatalf("expected ErrNoPeak, got %v", err)
	}
	if _, err := FindPeak([]float64{-90, 0, -90}, 1); !errors.Is(err, ErrNoPeak) {
		t.Fatalf("expected ErrNoPeak when everything is masked, got %v", err)
	}
}

func TestNoiseFloor(t *testing.T) {
	if got := NoiseFloor([]float64{-100, -90, 0, -95, -92}); got != -92 {
		t.Fatalf("expected median -92, got %v", got)
	}
}

func TestPPMError(t *testing.T) {
	if got := PPMError(162.4003e6, 162.4e6, 162.4e6); math.Abs(got-1.847) > 0.01 {
		t.Fatalf("unexpected ppm %v", got)
	}
	ref, ok := NearestReference(162.437e6, []float64{162.4e6, 162.425e6, 162.45e6})
	if !ok || ref != 162.425e6 {
		t.Fatalf("nearest reference %v %v", ref, ok)
	}
	if _, ok := NearestReference(1, nil); ok {
		t.Fatal("expected no reference")
	}
}
