package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/devargs"
	"github.com/rjboer/iqsource/internal/iq"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/ranges"
	"github.com/rjboer/iqsource/internal/stream"
)

var mockBackend = backend{
	name: "mock",
	defaults: Config{
		Buffers:  15,
		BufLen:   16384,
		Prime:    1,
		Overflow: stream.DropOldest,
	},
	open: openMock,
}

// mockSignal is read from the device arguments:
//
//	tone=162.55e6   absolute carrier frequency; the LO error below applies
//	offset=100e3    carrier relative to the LO when tone is not set
//	ppm=-12         crystal error of the simulated receiver
//	amplitude=0.5   carrier amplitude relative to full scale
//	noise=0.01      standard deviation of the added noise
//	seed=1          noise generator seed
//	limit=0         buffers before the stream ends on its own (0 = never)
//	pace=1          produce in real time
type mockSignal struct {
	tone      float64
	offset    float64
	ppm       float64
	amplitude float64
	noise     float64
	seed      int64
	limit     int
	pace      bool
}

func parseMockSignal(a devargs.Args) (mockSignal, error) {
	var (
		s    mockSignal
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	float := func(key string, def float64) float64 {
		v, err := a.Float(key, def)
		collect(err)
		return v
	}
	s.tone = float("tone", 0)
	s.offset = float("offset", 100e3)
	s.ppm = float("ppm", 0)
	s.amplitude = float("amplitude", 0.5)
	s.noise = float("noise", 0.01)
	seed, err := a.Int("seed", 1)
	collect(err)
	s.seed = int64(seed)
	s.limit, err = a.Int("limit", 0)
	collect(err)
	s.pace, err = a.Bool("pace", true)
	collect(err)
	if err := errors.Join(errs...); err != nil {
		return s, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	return s, nil
}

func mockProfile() device.Profile {
	return device.Profile{
		Name:        "mock",
		SampleRates: ranges.Stepped(250e3, 10e6, 1),
		FreqRange: func(float64) ranges.RangeSet {
			return ranges.Span(1e6, 6e9)
		},
		Bandwidths:    ranges.Span(200e3, 10e6),
		AutoBandwidth: 0.8,
		Stages:        []device.StageSpec{{Name: "RF", Range: ranges.Stepped(0, 50, 1)}},
		PrimaryStage:  "RF",
		Antennas:      []string{"RX"},
		HardwareAGC:   true,
		Defaults: device.Defaults{
			SampleRate: 2.048e6,
			CenterFreq: 100e6,
		},
	}
}

// mockHardware remembers what the receiver was told, so that the generator
// can render the carrier where a real tuner would put it.
type mockHardware struct {
	mu   sync.Mutex
	rate float64
	lo   float64
}

func (h *mockHardware) SetSampleRate(rate float64) error {
	h.mu.Lock()
	h.rate = rate
	h.mu.Unlock()
	return nil
}

func (h *mockHardware) SetCenterFreq(hz float64) error {
	h.mu.Lock()
	h.lo = hz
	h.mu.Unlock()
	return nil
}

func (h *mockHardware) SetGain(string, float64) error { return nil }
func (h *mockHardware) SetGainMode(bool) error        { return nil }
func (h *mockHardware) SetBandwidth(float64) error    { return nil }
func (h *mockHardware) SetAntenna(string) error       { return nil }

func (h *mockHardware) params() (rate, lo float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate, h.lo
}

// mockSource synthesizes a carrier plus noise, encodes it as HackRF bytes
// and feeds it through the regular ingest path on a paced goroutine.
type mockSource struct {
	*pipeline
	hw     *mockHardware
	caps   *device.Capabilities
	sig    mockSignal
	enc    *iq.Decoder
	bufLen int

	stop chan struct{}
	done chan struct{}
}

func openMock(_ context.Context, cfg Config, o *options) (Source, error) {
	sig, err := parseMockSignal(cfg.Args)
	if err != nil {
		return nil, err
	}
	if cfg.BufLen%iq.FormatS8LE.Stride() != 0 {
		return nil, fmt.Errorf("%w: mock buflen must be even", device.ErrConfiguration)
	}
	enc, err := iq.NewDecoder(iq.FormatS8LE)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(logging.Backend("mock"))
	slabLen := cfg.BufLen / iq.FormatS8LE.Stride()
	p, err := newPipeline(pipelineConfig{
		name: "mock",
		queue: stream.Config{
			Mode:     stream.ModeRing,
			Slabs:    cfg.Buffers,
			SlabLen:  slabLen,
			Overflow: cfg.Overflow,
		},
		format: iq.FormatS8LE,
		bufLen: cfg.BufLen,
		prime:  cfg.Prime * slabLen,
	}, &options{logger: logger, notifier: o.notifier})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	hw := &mockHardware{}
	caps, err := device.New(mockProfile(), hw)
	if err != nil {
		p.shutdown(nil)
		return nil, err
	}
	s := &mockSource{pipeline: p, hw: hw, caps: caps, sig: sig, enc: enc, bufLen: cfg.BufLen}
	p.prod = s
	return s, nil
}

func (s *mockSource) startProducer() error {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.generate(s.stop, s.done)
	return nil
}

func (s *mockSource) stopProducer() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *mockSource) generate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	rng := rand.New(rand.NewSource(s.sig.seed))
	samples := make([]complex64, s.bufLen/iq.FormatS8LE.Stride())
	raw := make([]byte, s.bufLen)
	var (
		phase float64
		sent  int
	)
	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if s.sig.limit > 0 && sent >= s.sig.limit {
			s.ingest.Terminate()
			return
		}
		rate, lo := s.hw.params()
		offset := s.sig.offset
		if s.sig.tone != 0 {
			offset = s.sig.tone - lo*(1+s.sig.ppm*1e-6)
		}
		step := 2 * math.Pi * offset / rate
		for i := range samples {
			sin, cos := math.Sincos(phase)
			re := s.sig.amplitude*cos + rng.NormFloat64()*s.sig.noise
			im := s.sig.amplitude*sin + rng.NormFloat64()*s.sig.noise
			samples[i] = complex(float32(re), float32(im))
			phase += step
		}
		phase = math.Mod(phase, 2*math.Pi)
		s.enc.Encode(raw, samples)
		s.ingest.Write(raw)
		sent++

		if !s.sig.pace {
			continue
		}
		next = next.Add(time.Duration(float64(len(samples)) / rate * float64(time.Second)))
		if wait := time.Until(next); wait > 0 {
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
		} else {
			next = time.Now()
		}
	}
}

func (s *mockSource) Channel(i int) (*device.Capabilities, error) {
	if i != 0 {
		return nil, channelOutOfRange(i)
	}
	return s.caps, nil
}

func (s *mockSource) Close() error { return s.shutdown(nil) }
