package device

import (
	"fmt"

	"github.com/rjboer/iqsource/internal/ranges"
)

// StageSpec declares one named gain element and its admissible values.
type StageSpec struct {
	Name  string
	Range ranges.RangeSet
}

// Defaults seed the device state at construction. Zero values select the
// generic defaults: minimum sample rate, centre of the frequency range,
// automatic bandwidth, the lowest gain of each stage and the first antenna.
type Defaults struct {
	SampleRate float64
	CenterFreq float64
	Bandwidth  float64
	Gains      map[string]float64
	AutoGain   bool
	Antenna    string
}

// Profile holds the hardware-model constants of a device family. It is fixed
// for the lifetime of a Capabilities value.
type Profile struct {
	Name        string
	SampleRates ranges.RangeSet
	// FreqRange may depend on the current sample rate.
	FreqRange  func(rate float64) ranges.RangeSet
	Bandwidths ranges.RangeSet
	// AutoBandwidth is the fraction of the sample rate chosen when a
	// bandwidth of zero is requested.
	AutoBandwidth float64
	Stages        []StageSpec
	PrimaryStage  string
	Antennas      []string
	HardwareAGC   bool
	Defaults      Defaults
}

// Validate checks that the profile is internally consistent.
func (p Profile) Validate() error {
	if p.SampleRates.Empty() {
		return fmt.Errorf("%w: profile %q has no sample rates", ErrConfiguration, p.Name)
	}
	if p.FreqRange == nil {
		return fmt.Errorf("%w: profile %q has no frequency range", ErrConfiguration, p.Name)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: profile %q has no gain stages", ErrConfiguration, p.Name)
	}
	if _, ok := p.stage(p.PrimaryStage); !ok {
		return fmt.Errorf("%w: profile %q primary stage %q", ErrUnknownGainStage, p.Name, p.PrimaryStage)
	}
	seen := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if seen[s.Name] {
			return fmt.Errorf("%w: profile %q declares stage %q twice", ErrConfiguration, p.Name, s.Name)
		}
		seen[s.Name] = true
	}
	for name := range p.Defaults.Gains {
		if !seen[name] {
			return fmt.Errorf("%w: profile %q default for %q", ErrUnknownGainStage, p.Name, name)
		}
	}
	if len(p.Antennas) == 0 {
		return fmt.Errorf("%w: profile %q has no antennas", ErrConfiguration, p.Name)
	}
	return nil
}

func (p Profile) stage(name string) (StageSpec, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSpec{}, false
}
