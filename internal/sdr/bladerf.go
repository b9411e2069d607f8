package sdr

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/iq"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/ranges"
	"github.com/rjboer/iqsource/internal/stream"
)

const (
	bladerfBlockSamples = 1024
	bladerfFIFO         = 1 << 20
)

// BladeRFInfo is one entry of the driver's device list.
type BladeRFInfo struct {
	Index  int
	Serial string
}

// BladeRFDriver opens bladeRF devices by instance number (/dev/bladerfN).
type BladeRFDriver interface {
	List() ([]BladeRFInfo, error)
	Open(index int) (BladeRFDevice, error)
}

// BladeRFDevice is an open libbladeRF handle.
type BladeRFDevice interface {
	LoadFPGA(path string) error
	FlashFirmware(path string) error
	Serial() (string, error)
	FirmwareVersion() (string, error)
	FPGAVersion() (string, error)
	FPGAConfigured() (bool, error)
	EnableRX(on bool) error
	SetSampleRate(hz uint32) (actual uint32, err error)
	SetFrequency(hz uint32) error
	SetLNAGain(db int) error
	SetRXVGA1(db int) error
	SetRXVGA2(db int) error
	SetBandwidth(hz uint32) (actual uint32, err error)
	// ReadC16 fills buf with SC16Q11 words, two per sample, and returns the
	// number of samples read. It must return within the driver's timeout.
	ReadC16(buf []byte) (int, error)
	Close() error
}

var bladerfBackend = backend{
	name: "bladerf",
	defaults: Config{
		Buffers:  1,
		BufLen:   bladerfBlockSamples * 4,
		FIFO:     bladerfFIFO,
		Overflow: stream.DropIncoming,
	},
	open:    openBladeRF,
	devices: bladerfDevices,
}

func bladerfProfile() device.Profile {
	return device.Profile{
		Name:        "bladerf",
		SampleRates: ranges.Stepped(160e3, 40e6, 1),
		FreqRange: func(float64) ranges.RangeSet {
			return ranges.Span(300e6, 3.8e9)
		},
		Bandwidths: ranges.Points(
			1.5e6, 1.75e6, 2.5e6, 2.75e6, 3e6, 3.84e6, 5e6, 5.5e6,
			6e6, 7e6, 8.75e6, 10e6, 12e6, 14e6, 20e6, 28e6),
		AutoBandwidth: 0.75,
		Stages: []device.StageSpec{
			{Name: "LNA", Range: ranges.Stepped(0, 6, 3)},
			{Name: "VGA1", Range: ranges.Stepped(5, 30, 1)},
			{Name: "VGA2", Range: ranges.Stepped(0, 60, 3)},
		},
		PrimaryStage: "LNA",
		Antennas:     []string{"RX"},
		Defaults: device.Defaults{
			Gains: map[string]float64{"LNA": 3, "VGA1": 20, "VGA2": 0},
		},
	}
}

type bladerfHardware struct {
	dev BladeRFDevice
}

func (h bladerfHardware) SetSampleRate(rate float64) error {
	_, err := h.dev.SetSampleRate(uint32(math.Round(rate)))
	return err
}

func (h bladerfHardware) SetCenterFreq(hz float64) error {
	return h.dev.SetFrequency(uint32(math.Round(hz)))
}

func (h bladerfHardware) SetGain(stage string, v float64) error {
	switch stage {
	case "LNA":
		return h.dev.SetLNAGain(int(v))
	case "VGA1":
		return h.dev.SetRXVGA1(int(v))
	case "VGA2":
		return h.dev.SetRXVGA2(int(v))
	}
	return fmt.Errorf("%w: %s", device.ErrUnknownGainStage, stage)
}

func (h bladerfHardware) SetGainMode(bool) error { return nil }

func (h bladerfHardware) SetBandwidth(hz float64) error {
	_, err := h.dev.SetBandwidth(uint32(hz))
	return err
}

func (h bladerfHardware) SetAntenna(string) error { return nil }

// bladerfSource runs one read task per device. The task owns the handle
// while streaming and feeds a FIFO through the shared ingest path.
type bladerfSource struct {
	*pipeline
	dev    BladeRFDevice
	caps   *device.Capabilities
	raw    []byte
	logger logging.Logger

	stop chan struct{}
	done chan struct{}
}

func openBladeRF(_ context.Context, cfg Config, o *options) (Source, error) {
	if o.bladerf == nil {
		return nil, fmt.Errorf("%w: no bladerf driver configured", device.ErrDeviceUnavailable)
	}
	index := 0
	if cfg.Device != "" {
		n, err := strconv.Atoi(cfg.Device)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q is not a bladerf device number", device.ErrConfiguration, cfg.Device)
		}
		index = n
	}
	if cfg.BufLen%iq.FormatC12.Stride() != 0 {
		return nil, fmt.Errorf("%w: bladerf buflen must be a multiple of %d", device.ErrConfiguration, iq.FormatC12.Stride())
	}
	logger := o.logger.With(logging.Backend("bladerf"), logging.Device(index))

	dev, err := o.bladerf.Open(index)
	if err != nil {
		return nil, fmt.Errorf("%w: open /dev/bladerf%d: %w", device.ErrDeviceUnavailable, index, err)
	}
	fail := func(err error) (Source, error) {
		dev.Close()
		return nil, err
	}

	if cfg.FPGA != "" {
		logger.Info("loading FPGA bitstream", logging.Field{Key: "path", Value: cfg.FPGA})
		if err := dev.LoadFPGA(cfg.FPGA); err != nil {
			logger.Warn("FPGA load failed", logging.Err(err))
		}
	}
	if cfg.Firmware != "" {
		logger.Info("flashing firmware image", logging.Field{Key: "path", Value: cfg.Firmware})
		if err := dev.FlashFirmware(cfg.Firmware); err != nil {
			logger.Warn("firmware flash failed", logging.Err(err))
		} else {
			logger.Info("firmware flashed, power cycle the device to use it")
		}
	}
	fields := []logging.Field{}
	if sn, err := dev.Serial(); err == nil {
		fields = append(fields, logging.Field{Key: "serial", Value: sn})
	}
	if v, err := dev.FirmwareVersion(); err == nil {
		fields = append(fields, logging.Field{Key: "firmware", Value: v})
	}
	if v, err := dev.FPGAVersion(); err == nil {
		fields = append(fields, logging.Field{Key: "fpga", Value: v})
	}
	logger.Info("using bladeRF", fields...)
	if ok, err := dev.FPGAConfigured(); err == nil && !ok {
		logger.Error("the FPGA is not configured, use fpga=/path/to/the/bitstream.rbf to load it")
	}

	p, err := newPipeline(pipelineConfig{
		name: fmt.Sprintf("bladerf:%d", index),
		queue: stream.Config{
			Mode:     stream.ModeFIFO,
			Capacity: cfg.FIFO,
			Overflow: cfg.Overflow,
		},
		format: iq.FormatC12,
		bufLen: cfg.BufLen,
		prime:  cfg.Prime * cfg.BufLen / iq.FormatC12.Stride(),
	}, &options{logger: logger, notifier: o.notifier})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", device.ErrConfiguration, err))
	}
	caps, err := device.New(bladerfProfile(), bladerfHardware{dev: dev})
	if err != nil {
		p.shutdown(nil)
		return fail(err)
	}
	s := &bladerfSource{
		pipeline: p,
		dev:      dev,
		caps:     caps,
		raw:      make([]byte, cfg.BufLen),
		logger:   logger,
	}
	p.prod = s
	return s, nil
}

func (s *bladerfSource) startProducer() error {
	if err := s.dev.EnableRX(true); err != nil {
		return fmt.Errorf("enable rx module: %w", err)
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readTask(s.stop, s.done)
	return nil
}

func (s *bladerfSource) stopProducer() error {
	close(s.stop)
	<-s.done
	return nil
}

// readTask reads blocks until stopped. A failed read ends the stream so a
// blocked consumer sees io.EOF.
func (s *bladerfSource) readTask(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := s.dev.EnableRX(false); err != nil {
			s.logger.Warn("disable rx module", logging.Err(err))
		}
	}()
	want := len(s.raw) / iq.FormatC12.Stride()
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := s.dev.ReadC16(s.raw)
		if err != nil {
			s.logger.Error("failed to read samples", logging.Err(err))
			s.ingest.Terminate()
			return
		}
		if n != want {
			s.logger.Warn("dropping sample block of unexpected size", logging.Field{Key: "samples", Value: n}, logging.Field{Key: "want", Value: want})
			continue
		}
		s.ingest.Write(s.raw)
	}
}

func (s *bladerfSource) Channel(i int) (*device.Capabilities, error) {
	if i != 0 {
		return nil, channelOutOfRange(i)
	}
	return s.caps, nil
}

func (s *bladerfSource) Close() error {
	return s.shutdown(s.dev.Close)
}

func bladerfDevices(_ context.Context, o *options) []string {
	if o.bladerf == nil {
		return nil
	}
	list, err := o.bladerf.List()
	if err != nil {
		o.logger.Warn("bladerf enumeration failed", logging.Err(err))
		return nil
	}
	out := make([]string, 0, len(list))
	for _, info := range list {
		label := "bladeRF"
		if info.Serial != "" {
			label += " SN " + info.Serial
		}
		out = append(out, fmt.Sprintf("bladerf=%d,label='%s'", info.Index, label))
	}
	return out
}
