package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/iqsource/internal/dsp"
)

var ErrNoCarrier = errors.New("no reference carrier above the noise floor")

// NOAAWeather lists the NOAA weather radio channels, continuous carriers
// that make good frequency references in North America.
var NOAAWeather = []float64{162.400e6, 162.425e6, 162.450e6, 162.475e6, 162.500e6, 162.525e6, 162.550e6}

// CalibrationConfig selects the reference carriers and the measurement.
// Zero values pick defaults suited to the NOAA weather channels.
type CalibrationConfig struct {
	References []float64
	Center     float64
	SampleRate float64
	FFTSize    int
	Frames     int
	// DCGuard bins around DC are ignored to skip LO leakage.
	DCGuard int
	// MinSNR is how far, in dB, the carrier must rise above the median bin.
	MinSNR float64
	// Tolerance ends the search once the residual error is below it, in ppm.
	Tolerance  float64
	Iterations int
	Channel    int
}

func (c CalibrationConfig) withDefaults() CalibrationConfig {
	if len(c.References) == 0 {
		c.References = NOAAWeather
	}
	if c.Center == 0 {
		c.Center = 162.0e6
	}
	if c.SampleRate == 0 {
		c.SampleRate = 2.048e6
	}
	if c.FFTSize == 0 {
		c.FFTSize = 8192
	}
	if c.Frames == 0 {
		c.Frames = 100
	}
	if c.DCGuard == 0 {
		c.DCGuard = 2
	}
	if c.MinSNR == 0 {
		c.MinSNR = 10
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1
	}
	if c.Iterations == 0 {
		c.Iterations = 3
	}
	return c
}

// CalibrationResult reports the correction left applied to the channel.
type CalibrationResult struct {
	PPM        float64 // correction now in effect
	Residual   float64 // error measured in the last pass, in ppm
	Reference  float64
	Measured   float64
	SNR        float64
	Iterations int
}

// Calibrate tunes near a known carrier, averages power spectra, estimates the
// local oscillator error and applies it with SetFreqCorr. The source is
// started if needed; its previous rate and frequency are restored afterwards.
func Calibrate(ctx context.Context, src Source, cfg CalibrationConfig) (CalibrationResult, error) {
	cfg = cfg.withDefaults()
	caps, err := src.Channel(cfg.Channel)
	if err != nil {
		return CalibrationResult{}, err
	}
	prevRate, prevFreq := caps.SampleRate(), caps.CenterFreq()
	defer func() {
		caps.SetSampleRate(prevRate)
		caps.SetCenterFreq(prevFreq)
	}()

	rate, err := caps.SetSampleRate(cfg.SampleRate)
	if err != nil {
		return CalibrationResult{}, err
	}
	center, err := caps.SetCenterFreq(cfg.Center)
	if err != nil {
		return CalibrationResult{}, err
	}
	if err := src.Start(); err != nil {
		return CalibrationResult{}, err
	}

	analyzer := dsp.NewAnalyzer(cfg.FFTSize)
	frame := make([]complex64, cfg.FFTSize)
	var res CalibrationResult
	for res.Iterations < cfg.Iterations {
		res.Iterations++
		if err := drain(ctx, src, frame); err != nil {
			return res, err
		}
		analyzer.Reset()
		for i := 0; i < cfg.Frames; i++ {
			if err := src.PullContext(ctx, frame); err != nil {
				return res, fmt.Errorf("calibration capture: %w", err)
			}
			if err := analyzer.Add(frame); err != nil {
				return res, err
			}
		}
		spectrum := analyzer.Average()
		peak, err := dsp.FindPeak(spectrum, cfg.DCGuard)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrNoCarrier, err)
		}
		res.SNR = peak.DB - dsp.NoiseFloor(spectrum)
		if res.SNR < cfg.MinSNR {
			return res, fmt.Errorf("%w: %.1f dB", ErrNoCarrier, res.SNR)
		}
		res.Measured = center + dsp.BinOffset(peak.Bin, cfg.FFTSize, rate)
		res.Reference, _ = dsp.NearestReference(res.Measured, cfg.References)
		res.Residual = dsp.PPMError(res.Measured, res.Reference, center)

		ppm, err := caps.SetFreqCorr(caps.FreqCorr() + res.Residual)
		if err != nil {
			return res, err
		}
		res.PPM = ppm
		if math.Abs(res.Residual) < cfg.Tolerance {
			break
		}
	}
	return res, nil
}

// drain discards what was queued before the last retune, plus one frame the
// producer may have been filling at the time.
func drain(ctx context.Context, src Source, scratch []complex64) error {
	left := src.Stats().Len + len(scratch)
	for left > 0 {
		n := min(left, len(scratch))
		if err := src.PullContext(ctx, scratch[:n]); err != nil {
			return fmt.Errorf("calibration drain: %w", err)
		}
		left -= n
	}
	return nil
}
