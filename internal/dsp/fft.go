// Package dsp holds the spectral helpers used for frequency calibration.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift[T any](data []T) []T {
	n := len(data)
	if n == 0 {
		return []T{}
	}
	half := n / 2
	shifted := make([]T, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}

// FFTAndDBFS performs an FFT on the provided samples, applies a Hamming
// window, normalizes by the window sum and converts the magnitude to dBFS.
// Samples are expected in the [-1, 1) range produced by the IQ decoder.
func FFTAndDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win := Hamming(len(samples))
	windowed := ApplyWindow(nil, samples, win)
	fft := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	norm := complex(WindowSum(win), 0)
	for i := range fft {
		fft[i] /= norm
	}
	shifted := FFTShift(fft)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		dbfs[i] = magToDB(cmplx.Abs(v))
	}
	return shifted, dbfs
}

func magToDB(mag float64) float64 {
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

// BinOffset is the baseband frequency of bin i of a shifted spectrum of n bins.
func BinOffset(i float64, n int, sampleRate float64) float64 {
	return (i - float64(n/2)) * sampleRate / float64(n)
}
