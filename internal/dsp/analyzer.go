package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Analyzer averages power spectra over many frames. The Hann window, FFT plan
// and scratch buffers are created once per size and reused for every frame.
type Analyzer struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
	windowed  []complex128
	coeffs    []complex128
	frame     []float64
	power     []float64
	frames    int
}

// NewAnalyzer builds an analyzer for frames of size samples.
func NewAnalyzer(size int) *Analyzer {
	a := &Analyzer{}
	a.resize(size)
	return a
}

func (a *Analyzer) resize(size int) {
	a.size = size
	a.window = Hann(size)
	a.windowSum = WindowSum(a.window)
	a.fft = fourier.NewCmplxFFT(size)
	a.windowed = make([]complex128, size)
	a.coeffs = make([]complex128, size)
	a.frame = make([]float64, size)
	a.power = make([]float64, size)
	a.frames = 0
}

// UpdateSize recreates cached resources for a new frame size and discards
// the accumulated average.
func (a *Analyzer) UpdateSize(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resize(size)
}

// Size returns the frame size.
func (a *Analyzer) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Frames returns the number of frames accumulated since the last Reset.
func (a *Analyzer) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Add accumulates the power spectrum of one frame.
func (a *Analyzer) Add(frame []complex64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(frame) != a.size {
		return fmt.Errorf("frame has %d samples, analyzer expects %d", len(frame), a.size)
	}
	a.windowed = ApplyWindow(a.windowed, frame, a.window)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)
	for i, c := range a.coeffs {
		m := cmplx.Abs(c) / a.windowSum
		a.frame[i] = m * m
	}
	floats.Add(a.power, a.frame)
	a.frames++
	return nil
}

// Average returns the mean power per bin in dBFS, shifted so DC sits at
// index Size()/2.
func (a *Analyzer) Average() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, a.size)
	if a.frames == 0 {
		for i := range out {
			out[i] = math.Inf(-1)
		}
		return out
	}
	copy(out, a.power)
	floats.Scale(1/float64(a.frames), out)
	for i, p := range out {
		if p == 0 {
			out[i] = math.Inf(-1)
			continue
		}
		out[i] = 10 * math.Log10(p)
	}
	return FFTShift(out)
}

// Reset discards the accumulated frames.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.power {
		a.power[i] = 0
	}
	a.frames = 0
}
