package dsp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var ErrNoPeak = errors.New("no spectral peak")

// Peak is a spectral maximum with sub-bin resolution.
type Peak struct {
	Bin float64 // fractional index into the shifted spectrum
	DB  float64
}

// FindPeak locates the strongest bin of a shifted dB spectrum, ignoring
// dcGuard bins on each side of DC where LO leakage sits, and refines its
// position by fitting a parabola through the neighbouring bins.
func FindPeak(spectrum []float64, dcGuard int) (Peak, error) {
	n := len(spectrum)
	if n < 3 {
		return Peak{}, ErrNoPeak
	}
	masked := make([]float64, n)
	copy(masked, spectrum)
	for i := n/2 - dcGuard; i <= n/2+dcGuard; i++ {
		if i >= 0 && i < n {
			masked[i] = math.Inf(-1)
		}
	}
	idx := floats.MaxIdx(masked)
	if math.IsInf(masked[idx], -1) {
		return Peak{}, ErrNoPeak
	}
	p := Peak{Bin: float64(idx), DB: spectrum[idx]}
	if idx == 0 || idx == n-1 {
		return p, nil
	}
	l, c, r := spectrum[idx-1], spectrum[idx], spectrum[idx+1]
	if math.IsInf(l, 0) || math.IsInf(r, 0) {
		return p, nil
	}
	den := l - 2*c + r
	if den == 0 {
		return p, nil
	}
	delta := 0.5 * (l - r) / den
	p.Bin += delta
	p.DB = c - 0.25*(l-r)*delta
	return p, nil
}

// NoiseFloor is the median of the spectrum in dB.
func NoiseFloor(spectrum []float64) float64 {
	if len(spectrum) == 0 {
		return math.Inf(-1)
	}
	sorted := make([]float64, len(spectrum))
	copy(sorted, spectrum)
	floats.Argsort(sorted, make([]int, len(sorted)))
	return sorted[len(sorted)/2]
}
