package dsp

import "math"

// PPMError is the frequency correction, in parts per million, that moves a
// carrier observed at measured back to expected when the receiver is tuned
// to center.
func PPMError(measured, expected, center float64) float64 {
	if center == 0 {
		return 0
	}
	return (measured - expected) / center * 1e6
}

// NearestReference returns the reference frequency closest to f.
func NearestReference(f float64, refs []float64) (float64, bool) {
	if len(refs) == 0 {
		return 0, false
	}
	best, df := refs[0], math.Abs(f-refs[0])
	for _, r := range refs[1:] {
		if d := math.Abs(f - r); d < df {
			best, df = r, d
		}
	}
	return best, true
}
