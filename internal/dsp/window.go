package dsp

import "math"

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	return cosineWindow(n, 0.54, 0.46)
}

// Hann returns a Hann window of length n. Its lower sidelobes suit the narrow
// carriers measured during calibration.
func Hann(n int) []float64 {
	return cosineWindow(n, 0.5, 0.5)
}

func cosineWindow(n int, a0, a1 float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := 0; i < n; i++ {
		win[i] = a0 - a1*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// WindowSum is the coherent gain used to normalise windowed spectra.
func WindowSum(window []float64) float64 {
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum
}

// ApplyWindow multiplies the input complex samples with the provided window
// into dst, which is grown as needed and returned.
// The window length must match the input length.
func ApplyWindow(dst []complex128, samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return dst[:0]
	}
	if cap(dst) < len(samples) {
		dst = make([]complex128, len(samples))
	}
	dst = dst[:len(samples)]
	for i, v := range samples {
		dst[i] = complex(float64(real(v))*window[i], float64(imag(v))*window[i])
	}
	return dst
}
