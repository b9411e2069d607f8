// Package device models hardware-constrained receiver parameters. Every write
// is clipped to the admissible values, sent to the hardware and committed only
// after the hardware accepts it.
package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rjboer/iqsource/internal/ranges"
)

// Hardware is the set of vendor write primitives a backend provides.
type Hardware interface {
	SetSampleRate(rate float64) error
	// SetCenterFreq receives the ppm-corrected frequency.
	SetCenterFreq(hz float64) error
	SetGain(stage string, value float64) error
	SetGainMode(automatic bool) error
	SetBandwidth(hz float64) error
	SetAntenna(name string) error
}

// State is a snapshot of the committed device parameters.
type State struct {
	SampleRate  float64            `json:"sample_rate"`
	CenterFreq  float64            `json:"center_freq"`
	FreqCorrPPM float64            `json:"freq_corr_ppm"`
	Bandwidth   float64            `json:"bandwidth"`
	Gains       map[string]float64 `json:"gains"`
	AutoGain    bool               `json:"auto_gain"`
	Antenna     string             `json:"antenna"`
}

// Capabilities owns the device state of one channel.
type Capabilities struct {
	profile Profile
	hw      Hardware

	mu    sync.Mutex
	state State

	// autoBW is set while the bandwidth was requested as 0.
	autoBW bool
	tuned  bool
}

// New validates the profile and drives the hardware to its defaults through
// the regular setters. Any rejected default aborts construction.
func New(profile Profile, hw Hardware) (*Capabilities, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	c := &Capabilities{
		profile: profile,
		hw:      hw,
		state:   State{Gains: make(map[string]float64, len(profile.Stages))},
	}
	d := profile.Defaults

	rate := d.SampleRate
	if rate == 0 {
		rate = profile.SampleRates.Start()
	}
	if _, err := c.SetSampleRate(rate); err != nil {
		return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
	}
	freq := d.CenterFreq
	if freq == 0 {
		fr := profile.FreqRange(c.state.SampleRate)
		freq = (fr.Start() + fr.Stop()) / 2
	}
	if _, err := c.SetCenterFreq(freq); err != nil {
		return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
	}
	if _, err := c.SetBandwidth(d.Bandwidth); err != nil {
		return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
	}
	for _, s := range profile.Stages {
		g, ok := d.Gains[s.Name]
		if !ok {
			g = s.Range.Start()
		}
		if _, err := c.SetStageGain(s.Name, g); err != nil {
			return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
		}
	}
	if _, err := c.SetGainMode(d.AutoGain); err != nil {
		return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
	}
	ant := d.Antenna
	if ant == "" {
		ant = profile.Antennas[0]
	}
	if _, err := c.SetAntenna(ant); err != nil {
		return nil, fmt.Errorf("%s defaults: %w", profile.Name, err)
	}
	return c, nil
}

func (c *Capabilities) Profile() Profile { return c.profile }

// State returns a copy of the committed parameters.
func (c *Capabilities) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Gains = make(map[string]float64, len(c.state.Gains))
	for k, v := range c.state.Gains {
		s.Gains[k] = v
	}
	return s
}

func (c *Capabilities) SampleRates() ranges.RangeSet { return c.profile.SampleRates }

func (c *Capabilities) SampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SampleRate
}

// SetSampleRate clips rate to the supported rates and returns the committed
// value. An automatic bandwidth is recomputed for the new rate, and a center
// frequency left outside the rate-dependent tuning range is moved back inside.
// The returned rate is committed even when one of those follow-up writes is
// rejected; the rejection is returned alongside it.
func (c *Capabilities) SetSampleRate(rate float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.profile.SampleRates.Clip(rate, true)
	if err := c.hw.SetSampleRate(v); err != nil {
		return c.state.SampleRate, rejected("set sample rate", v, err)
	}
	c.state.SampleRate = v

	var errs []error
	if c.autoBW {
		if _, err := c.setBandwidthLocked(0); err != nil {
			errs = append(errs, err)
		}
	}
	if c.tuned && !c.profile.FreqRange(v).Contains(c.state.CenterFreq) {
		if _, err := c.setCenterFreqLocked(c.state.CenterFreq); err != nil {
			errs = append(errs, err)
		}
	}
	return v, errors.Join(errs...)
}

// FreqRange is evaluated at the current sample rate.
func (c *Capabilities) FreqRange() ranges.RangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.FreqRange(c.state.SampleRate)
}

// CenterFreq reports the requested frequency, without ppm correction.
func (c *Capabilities) CenterFreq() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CenterFreq
}

// SetCenterFreq tunes to hz. The hardware receives the frequency corrected by
// the current ppm value.
func (c *Capabilities) SetCenterFreq(hz float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCenterFreqLocked(hz)
}

func (c *Capabilities) setCenterFreqLocked(hz float64) (float64, error) {
	v := c.profile.FreqRange(c.state.SampleRate).Clip(hz, true)
	if err := c.hw.SetCenterFreq(Corrected(v, c.state.FreqCorrPPM)); err != nil {
		return c.state.CenterFreq, rejected("set center freq", v, err)
	}
	c.state.CenterFreq = v
	c.tuned = true
	return v, nil
}

// Corrected applies a ppm frequency correction.
func Corrected(hz, ppm float64) float64 { return hz * (1 + ppm*1e-6) }

func (c *Capabilities) FreqCorr() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.FreqCorrPPM
}

// SetFreqCorr re-tunes the current frequency with the new correction. The
// correction is kept only if the re-tune succeeds.
func (c *Capabilities) SetFreqCorr(ppm float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hw.SetCenterFreq(Corrected(c.state.CenterFreq, ppm)); err != nil {
		return c.state.FreqCorrPPM, rejected("set freq corr", ppm, err)
	}
	c.state.FreqCorrPPM = ppm
	return ppm, nil
}

func (c *Capabilities) BandwidthRange() ranges.RangeSet { return c.profile.Bandwidths }

func (c *Capabilities) Bandwidth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Bandwidth
}

// SetBandwidth selects a filter bandwidth. Zero picks AutoBandwidth times the
// current sample rate and keeps following the rate until a fixed bandwidth is
// set; the result is snapped to the nearest supported filter.
func (c *Capabilities) SetBandwidth(hz float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setBandwidthLocked(hz)
}

func (c *Capabilities) setBandwidthLocked(hz float64) (float64, error) {
	auto := hz == 0
	if auto {
		hz = c.profile.AutoBandwidth * c.state.SampleRate
	}
	v := c.profile.Bandwidths.Clip(hz, true)
	if err := c.hw.SetBandwidth(v); err != nil {
		return c.state.Bandwidth, rejected("set bandwidth", v, err)
	}
	c.state.Bandwidth = v
	c.autoBW = auto
	return v, nil
}

// GainNames lists the gain stages in declaration order.
func (c *Capabilities) GainNames() []string {
	names := make([]string, len(c.profile.Stages))
	for i, s := range c.profile.Stages {
		names[i] = s.Name
	}
	return names
}

// GainRange is the range of the primary stage.
func (c *Capabilities) GainRange() ranges.RangeSet {
	s, _ := c.profile.stage(c.profile.PrimaryStage)
	return s.Range
}

func (c *Capabilities) StageGainRange(name string) (ranges.RangeSet, error) {
	s, ok := c.profile.stage(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownGainStage, name)
	}
	return s.Range, nil
}

// Gain reports the primary stage gain.
func (c *Capabilities) Gain() float64 {
	g, _ := c.StageGain(c.profile.PrimaryStage)
	return g
}

// SetGain sets the primary stage gain.
func (c *Capabilities) SetGain(db float64) (float64, error) {
	return c.SetStageGain(c.profile.PrimaryStage, db)
}

func (c *Capabilities) StageGain(name string) (float64, error) {
	if _, ok := c.profile.stage(name); !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownGainStage, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Gains[name], nil
}

func (c *Capabilities) SetStageGain(name string, db float64) (float64, error) {
	s, ok := c.profile.stage(name)
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownGainStage, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := s.Range.Clip(db, true)
	if err := c.hw.SetGain(name, v); err != nil {
		return c.state.Gains[name], rejected("set "+name+" gain", v, err)
	}
	c.state.Gains[name] = v
	return v, nil
}

func (c *Capabilities) GainMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.AutoGain
}

// SetGainMode toggles automatic gain. Devices without hardware AGC only
// record the flag.
func (c *Capabilities) SetGainMode(automatic bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile.HardwareAGC {
		if err := c.hw.SetGainMode(automatic); err != nil {
			return c.state.AutoGain, rejected("set gain mode", automatic, err)
		}
	}
	c.state.AutoGain = automatic
	return automatic, nil
}

func (c *Capabilities) Antennas() []string { return slices.Clone(c.profile.Antennas) }

func (c *Capabilities) Antenna() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Antenna
}

func (c *Capabilities) SetAntenna(name string) (string, error) {
	if !slices.Contains(c.profile.Antennas, name) {
		return c.Antenna(), fmt.Errorf("%w %q", ErrUnknownAntenna, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hw.SetAntenna(name); err != nil {
		return c.state.Antenna, rejected("set antenna", name, err)
	}
	c.state.Antenna = name
	return name, nil
}
