package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/iq"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/ranges"
	"github.com/rjboer/iqsource/internal/stream"
)

const (
	hackrfBufLen  = 16 * 32 * 512 // bytes per USB transfer, a multiple of 512
	hackrfBufNum  = 15
	hackrfPrime   = 3
	hackrfAmpGain = 14
)

// HackRFInfo is one entry of the driver's device list.
type HackRFInfo struct {
	Serial string
	Board  string // USB board name, e.g. "One"
}

// HackRFDriver is the process-wide part of libhackrf. Implementations must
// be comparable; the library reference count is kept per driver value.
type HackRFDriver interface {
	Init() error
	Exit() error
	List() ([]HackRFInfo, error)
	// Open opens the device whose serial number ends in serial, or the first
	// device when serial is empty.
	Open(serial string) (HackRFDevice, error)
}

// HackRFDevice is an open HackRF handle.
type HackRFDevice interface {
	BoardName() (string, error)
	Version() (string, error)
	SetSampleRate(hz float64) error
	SetFreq(hz uint64) error
	SetAmpEnable(on bool) error
	SetLNAGain(db uint32) error
	SetVGAGain(db uint32) error
	SetBasebandFilterBandwidth(hz uint32) error
	SetAntennaEnable(on bool) error
	// StartRX delivers every USB transfer to cb on the driver's transfer
	// thread until StopRX.
	StartRX(cb func(buf []byte) error) error
	StopRX() error
	Close() error
}

var hackrfBackend = backend{
	name: "hackrf",
	defaults: Config{
		Buffers:  hackrfBufNum,
		BufLen:   hackrfBufLen,
		Prime:    hackrfPrime,
		Overflow: stream.DropOldest,
	},
	open:    openHackRF,
	devices: hackrfDevices,
}

var (
	hackrfLibsMu sync.Mutex
	hackrfLibs   = make(map[HackRFDriver]*device.Library)
)

// hackrfLibrary returns the init/exit reference count shared by every
// device opened through d.
func hackrfLibrary(d HackRFDriver) *device.Library {
	hackrfLibsMu.Lock()
	defer hackrfLibsMu.Unlock()
	lib, ok := hackrfLibs[d]
	if !ok {
		lib = device.NewLibrary("libhackrf", d.Init, d.Exit)
		hackrfLibs[d] = lib
	}
	return lib
}

func hackrfProfile() device.Profile {
	return device.Profile{
		Name:        "hackrf",
		SampleRates: ranges.Points(8e6, 10e6, 12.5e6, 16e6, 20e6),
		FreqRange: func(rate float64) ranges.RangeSet {
			return ranges.Span(rate/2, 7250e6-rate/2)
		},
		Bandwidths: ranges.Points(
			1.75e6, 2.5e6, 3.5e6, 5e6, 5.5e6, 6e6, 7e6, 8e6,
			9e6, 10e6, 12e6, 14e6, 15e6, 20e6, 24e6, 28e6),
		AutoBandwidth: 0.75,
		Stages: []device.StageSpec{
			{Name: "RF", Range: ranges.Stepped(0, hackrfAmpGain, hackrfAmpGain)},
			{Name: "IF", Range: ranges.Stepped(0, 40, 8)},
			{Name: "BB", Range: ranges.Stepped(0, 62, 2)},
		},
		PrimaryStage: "RF",
		Antennas:     []string{"TX/RX"},
		Defaults: device.Defaults{
			Gains: map[string]float64{"RF": 0, "IF": 16, "BB": 20},
		},
	}
}

// hackrfHardware maps capability writes onto libhackrf calls.
type hackrfHardware struct {
	dev HackRFDevice
}

func (h hackrfHardware) SetSampleRate(rate float64) error { return h.dev.SetSampleRate(rate) }

func (h hackrfHardware) SetCenterFreq(hz float64) error {
	return h.dev.SetFreq(uint64(math.Round(hz)))
}

func (h hackrfHardware) SetGain(stage string, v float64) error {
	switch stage {
	case "RF":
		return h.dev.SetAmpEnable(v >= hackrfAmpGain)
	case "IF":
		return h.dev.SetLNAGain(uint32(v))
	case "BB":
		return h.dev.SetVGAGain(uint32(v))
	}
	return fmt.Errorf("%w: %s", device.ErrUnknownGainStage, stage)
}

// SetGainMode is accepted and remembered; the HackRF has no AGC.
func (h hackrfHardware) SetGainMode(bool) error { return nil }

func (h hackrfHardware) SetBandwidth(hz float64) error {
	return h.dev.SetBasebandFilterBandwidth(uint32(hz))
}

// SetAntenna accepts the single fixed port.
func (h hackrfHardware) SetAntenna(string) error { return nil }

type hackrfSource struct {
	*pipeline
	dev  HackRFDevice
	caps *device.Capabilities
	lib  *device.Library
}

func openHackRF(_ context.Context, cfg Config, o *options) (Source, error) {
	drv := o.hackrf
	if drv == nil {
		return nil, fmt.Errorf("%w: no hackrf driver configured", device.ErrDeviceUnavailable)
	}
	lib := hackrfLibrary(drv)
	if err := lib.Acquire(); err != nil {
		return nil, err
	}
	src, err := newHackRF(drv, cfg, o)
	if err != nil {
		lib.Release()
		return nil, err
	}
	src.lib = lib
	return src, nil
}

func newHackRF(drv HackRFDriver, cfg Config, o *options) (*hackrfSource, error) {
	serial, err := resolveHackRF(drv, cfg.Device)
	if err != nil {
		return nil, err
	}
	dev, err := drv.Open(serial)
	if err != nil {
		return nil, fmt.Errorf("%w: open hackrf %q: %w", device.ErrDeviceUnavailable, cfg.Device, err)
	}
	fail := func(err error) (*hackrfSource, error) {
		dev.Close()
		return nil, err
	}

	board, err := dev.BoardName()
	if err != nil {
		return fail(fmt.Errorf("read hackrf board id: %w", err))
	}
	version, err := dev.Version()
	if err != nil {
		return fail(fmt.Errorf("read hackrf version: %w", err))
	}
	logger := o.logger.With(logging.Backend("hackrf"), logging.Device(cfg.Device))
	logger.Info("using HackRF", logging.Field{Key: "board", Value: board}, logging.Field{Key: "firmware", Value: version})

	bufLen := cfg.BufLen
	if bufLen%512 != 0 {
		logger.Warn("buflen is not a multiple of 512, using default", logging.Field{Key: "buflen", Value: bufLen})
		bufLen = hackrfBufLen
	}
	if cfg.Buffers != hackrfBufNum || bufLen != hackrfBufLen {
		logger.Info("using custom buffers", logging.Field{Key: "buffers", Value: cfg.Buffers}, logging.Field{Key: "buflen", Value: bufLen})
	}

	if cfg.BiasSet {
		if err := dev.SetAntennaEnable(cfg.Bias); err != nil {
			logger.Warn("failed to apply antenna bias voltage", logging.Field{Key: "bias", Value: cfg.Bias}, logging.Err(err))
		} else {
			logger.Info("antenna bias voltage", logging.Field{Key: "enabled", Value: cfg.Bias})
		}
	}

	slabLen := bufLen / iq.FormatS8LE.Stride()
	name := "hackrf"
	if cfg.Device != "" {
		name += ":" + cfg.Device
	}
	p, err := newPipeline(pipelineConfig{
		name: name,
		queue: stream.Config{
			Mode:     stream.ModeRing,
			Slabs:    cfg.Buffers,
			SlabLen:  slabLen,
			Overflow: cfg.Overflow,
		},
		format: iq.FormatS8LE,
		bufLen: bufLen,
		prime:  cfg.Prime * slabLen,
	}, &options{logger: logger, notifier: o.notifier})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", device.ErrConfiguration, err))
	}
	caps, err := device.New(hackrfProfile(), hackrfHardware{dev: dev})
	if err != nil {
		p.shutdown(nil)
		return fail(err)
	}
	s := &hackrfSource{pipeline: p, dev: dev, caps: caps}
	p.prod = s
	return s, nil
}

// resolveHackRF turns the hackrf argument into a serial for Open. A single
// character is a device index; anything longer is a serial number suffix.
func resolveHackRF(drv HackRFDriver, value string) (string, error) {
	if len(value) != 1 {
		return value, nil
	}
	idx, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a hackrf device index", device.ErrConfiguration, value)
	}
	list, err := drv.List()
	if err != nil {
		return "", fmt.Errorf("%w: list hackrf devices: %w", device.ErrDeviceUnavailable, err)
	}
	if idx >= len(list) {
		return "", fmt.Errorf("%w: hackrf index %d: only %d devices", device.ErrDeviceUnavailable, idx, len(list))
	}
	return list[idx].Serial, nil
}

func (s *hackrfSource) startProducer() error {
	return s.dev.StartRX(func(buf []byte) error {
		s.ingest.Write(buf)
		return nil
	})
}

func (s *hackrfSource) stopProducer() error { return s.dev.StopRX() }

func (s *hackrfSource) Channel(i int) (*device.Capabilities, error) {
	if i != 0 {
		return nil, channelOutOfRange(i)
	}
	return s.caps, nil
}

func (s *hackrfSource) Close() error {
	return s.shutdown(func() error {
		err := s.dev.Close()
		if s.lib != nil {
			err = errors.Join(err, s.lib.Release())
		}
		return err
	})
}

func hackrfDevices(_ context.Context, o *options) []string {
	if o.hackrf == nil {
		return nil
	}
	lib := hackrfLibrary(o.hackrf)
	if err := lib.Acquire(); err != nil {
		o.logger.Warn("hackrf enumeration failed", logging.Err(err))
		return nil
	}
	defer lib.Release()

	list, err := o.hackrf.List()
	if err != nil {
		o.logger.Warn("hackrf enumeration failed", logging.Err(err))
		return nil
	}
	out := make([]string, 0, len(list))
	for _, info := range list {
		label := "HackRF " + info.Board
		args := "hackrf"
		if serial := info.Serial; serial != "" {
			if len(serial) > 6 {
				serial = serial[len(serial)-6:]
			}
			args += "=" + serial
			label += " " + serial
		}
		out = append(out, args+",label='"+strings.TrimSpace(label)+"'")
	}
	return out
}
