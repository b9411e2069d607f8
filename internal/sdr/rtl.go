package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/iq"
	"github.com/rjboer/iqsource/internal/launch"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/mdns"
	"github.com/rjboer/iqsource/internal/ranges"
	"github.com/rjboer/iqsource/internal/rtltcp"
	"github.com/rjboer/iqsource/internal/stream"
)

const (
	rtlBufLen      = 16 * 32 * 512
	rtlBufNum      = 15
	rtlDefaultPort = 1234
	rtlBrowseTime  = 2 * time.Second
)

// Tuner gain steps in tenths of a dB, as reported by librtlsdr.
var rtlGainTables = map[string][]float64{
	"E4000":  {-10, 15, 40, 65, 90, 115, 140, 165, 190, 215, 240, 290, 340, 420},
	"FC0012": {-99, -40, 71, 179, 192},
	"FC0013": {-99, -73, -65, -63, -60, -58, -54, 58, 61, 63, 65, 67, 68, 70, 71, 179, 181, 182, 184, 186, 188, 191, 197},
	"FC2580": {0},
	"R820T":  {0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496},
}

func rtlGains(tuner string) ranges.RangeSet {
	table, ok := rtlGainTables[tuner]
	if !ok {
		table = rtlGainTables["R820T"]
	}
	db := make([]float64, len(table))
	for i, t := range table {
		db[i] = t / 10
	}
	return ranges.Points(db...)
}

func rtlProfile(tuner string) device.Profile {
	return device.Profile{
		Name: "rtl",
		SampleRates: ranges.MustNew(
			ranges.Range{Start: 225001, Stop: 300000, Step: 1},
			ranges.Range{Start: 900001, Stop: 3.2e6, Step: 1},
		),
		FreqRange: func(float64) ranges.RangeSet {
			return ranges.Span(24e6, 1766e6)
		},
		Stages:       []device.StageSpec{{Name: "LNA", Range: rtlGains(tuner)}},
		PrimaryStage: "LNA",
		Antennas:     []string{"RX"},
		HardwareAGC:  true,
		Defaults: device.Defaults{
			SampleRate: 2.048e6,
			CenterFreq: 100e6,
		},
	}
}

// rtlTransport is the control and data path of an RTL2832U, either over
// rtl_tcp or through librtlsdr directly.
type rtlTransport interface {
	Tuner() string
	SetSampleRate(hz uint32) error
	SetCenterFreq(hz uint32) error
	SetTunerGainMode(manual bool) error
	SetTunerGain(tenths int) error
	SetBiasTee(on bool) error
	// Stream delivers raw U8 buffers to write until Cancel is called or the
	// transport fails. A cancelled stream returns nil.
	Stream(write func([]byte)) error
	Cancel() error
	Close() error
}

type rtlHardware struct {
	t rtlTransport
}

func (h rtlHardware) SetSampleRate(rate float64) error {
	return h.t.SetSampleRate(uint32(math.Round(rate)))
}

func (h rtlHardware) SetCenterFreq(hz float64) error {
	return h.t.SetCenterFreq(uint32(math.Round(hz)))
}

func (h rtlHardware) SetGain(stage string, v float64) error {
	if stage != "LNA" {
		return fmt.Errorf("%w: %s", device.ErrUnknownGainStage, stage)
	}
	return h.t.SetTunerGain(int(math.Round(v * 10)))
}

func (h rtlHardware) SetGainMode(automatic bool) error {
	return h.t.SetTunerGainMode(!automatic)
}

// SetBandwidth is accepted; the tuner filter follows the sample rate.
func (h rtlHardware) SetBandwidth(float64) error { return nil }

func (h rtlHardware) SetAntenna(string) error { return nil }

// tcpTransport streams from an rtl_tcp server, optionally one we started.
type tcpTransport struct {
	client    *rtltcp.Client
	helper    launch.Process
	buf       []byte
	fill      int // bytes of buf read before the last cancel
	cancelled atomic.Bool
	announce  interface{ Shutdown() }
}

func (t *tcpTransport) Tuner() string                 { return t.client.Info().TunerName() }
func (t *tcpTransport) SetSampleRate(hz uint32) error { return t.client.SetSampleRate(hz) }
func (t *tcpTransport) SetCenterFreq(hz uint32) error { return t.client.SetCenterFreq(hz) }
func (t *tcpTransport) SetTunerGain(tenths int) error { return t.client.SetGain(int32(tenths)) }
func (t *tcpTransport) SetBiasTee(on bool) error      { return t.client.SetBiasTee(on) }
func (t *tcpTransport) SetTunerGainMode(manual bool) error {
	return t.client.SetGainMode(!manual)
}

func (t *tcpTransport) Stream(write func([]byte)) error {
	t.cancelled.Store(false)
	if err := t.client.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	for {
		n, err := io.ReadFull(t.client, t.buf[t.fill:])
		t.fill += n
		if err != nil {
			if t.cancelled.Load() {
				return nil
			}
			return fmt.Errorf("read rtl_tcp stream: %w", err)
		}
		write(t.buf)
		t.fill = 0
	}
}

func (t *tcpTransport) Cancel() error {
	t.cancelled.Store(true)
	return t.client.SetReadDeadline(time.Now())
}

func (t *tcpTransport) Close() error {
	if t.announce != nil {
		t.announce.Shutdown()
	}
	err := t.client.Close()
	if t.helper != nil {
		err = errors.Join(err, t.helper.Close())
	}
	return err
}

// openRTLUSB is set when the module is built with librtlsdr support.
var (
	openRTLUSB func(cfg Config) (rtlTransport, error)
	listRTLUSB func() []string
)

var rtlBackend = backend{
	name: "rtl",
	defaults: Config{
		Buffers:  rtlBufNum,
		BufLen:   rtlBufLen,
		Overflow: stream.DropOldest,
	},
	open: openRTL,
	devices: func(context.Context, *options) []string {
		if listRTLUSB == nil {
			return nil
		}
		return listRTLUSB()
	},
}

var rtltcpBackend = backend{
	name: "rtltcp",
	defaults: Config{
		Buffers:  rtlBufNum,
		BufLen:   rtlBufLen,
		Overflow: stream.DropOldest,
	},
	open:    openRTLTCP,
	devices: rtltcpDevices,
}

// openRTL opens a local dongle. With spawn=local or ssh=host an rtl_tcp
// helper is started for it and the stream is read over TCP; advertise=name
// announces that helper over mDNS, usually together with listen=0.0.0.0.
func openRTL(ctx context.Context, cfg Config, o *options) (Source, error) {
	logger := o.logger.With(logging.Backend("rtl"), logging.Device(cfg.Device))
	port, err := cfg.Args.Int("port", rtlDefaultPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	spec := launch.Spec{
		Binary:  cfg.Args.String("rtl_tcp", ""),
		Device:  cfg.Device,
		Address: cfg.Args.String("listen", ""),
		Port:    port,
	}

	var helper launch.Process
	switch {
	case cfg.Spawn == "local":
		helper, err = launch.StartLocal(ctx, spec, logger)
	case cfg.SSH.Host != "":
		helper, err = launch.StartRemote(ctx, cfg.SSH, spec, logger)
	case openRTLUSB != nil:
		t, err := openRTLUSB(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)
		}
		return newRTL("rtl:"+cfg.Device, t, cfg, logger, o)
	default:
		return nil, fmt.Errorf("%w: built without librtlsdr, use spawn=local, ssh=host or rtltcp=host:port", device.ErrDeviceUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: launch rtl_tcp: %w", device.ErrDeviceUnavailable, err)
	}
	client, err := rtltcp.Dial(ctx, helper.Addr(), rtltcp.DialConfig{})
	if err != nil {
		helper.Close()
		return nil, fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)
	}
	t := &tcpTransport{client: client, helper: helper, buf: make([]byte, cfg.BufLen)}
	if name := cfg.Args.String("advertise", ""); name != "" {
		srv, err := mdns.Advertise(name, port, []string{"device=" + cfg.Device})
		if err != nil {
			logger.Warn("mdns advertisement failed", logging.Err(err))
		} else {
			logger.Info("advertising rtl_tcp", logging.Field{Key: "instance", Value: name})
			t.announce = srv
		}
	}
	return newRTL("rtl:"+cfg.Device, t, cfg, logger, o)
}

// openRTLTCP connects to a running rtl_tcp server. Without an address the
// server is found by mDNS when mdns is set, otherwise the default local port
// is used.
func openRTLTCP(ctx context.Context, cfg Config, o *options) (Source, error) {
	addr := cfg.Device
	if addr == "" && cfg.MDNS {
		hosts, err := discover(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("%w: mdns: %w", device.ErrDeviceUnavailable, err)
		}
		if len(hosts) == 0 {
			return nil, fmt.Errorf("%w: no rtl_tcp servers advertised", device.ErrDeviceUnavailable)
		}
		addr = hosts[0].Addr()
	}
	if addr == "" {
		addr = net.JoinHostPort("127.0.0.1", fmt.Sprint(rtlDefaultPort))
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(rtlDefaultPort))
	}
	logger := o.logger.With(logging.Backend("rtltcp"), logging.Device(addr))

	client, err := rtltcp.Dial(ctx, addr, rtltcp.DialConfig{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)
	}
	t := &tcpTransport{client: client, buf: make([]byte, cfg.BufLen)}
	return newRTL("rtltcp:"+addr, t, cfg, logger, o)
}

func discover(ctx context.Context, o *options) ([]mdns.Host, error) {
	if o.discovery != nil {
		return o.discovery(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, rtlBrowseTime)
	defer cancel()
	return mdns.DiscoverRTLTCP(ctx)
}

type rtlSource struct {
	*pipeline
	t      rtlTransport
	caps   *device.Capabilities
	logger logging.Logger
	done   chan struct{}
}

func newRTL(name string, t rtlTransport, cfg Config, logger logging.Logger, o *options) (Source, error) {
	if cfg.BufLen%iq.FormatU8.Stride() != 0 {
		t.Close()
		return nil, fmt.Errorf("%w: rtl buflen must be even", device.ErrConfiguration)
	}
	logger.Info("using RTL2832U", logging.Field{Key: "tuner", Value: t.Tuner()})
	if cfg.BiasSet {
		if err := t.SetBiasTee(cfg.Bias); err != nil {
			logger.Warn("failed to apply bias tee", logging.Field{Key: "bias", Value: cfg.Bias}, logging.Err(err))
		}
	}
	slabLen := cfg.BufLen / iq.FormatU8.Stride()
	p, err := newPipeline(pipelineConfig{
		name: name,
		queue: stream.Config{
			Mode:     stream.ModeRing,
			Slabs:    cfg.Buffers,
			SlabLen:  slabLen,
			Overflow: cfg.Overflow,
		},
		format: iq.FormatU8,
		bufLen: cfg.BufLen,
		prime:  cfg.Prime * slabLen,
	}, &options{logger: logger, notifier: o.notifier})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	caps, err := device.New(rtlProfile(t.Tuner()), rtlHardware{t: t})
	if err != nil {
		p.shutdown(nil)
		t.Close()
		return nil, err
	}
	s := &rtlSource{pipeline: p, t: t, caps: caps, logger: logger}
	p.prod = s
	return s, nil
}

func (s *rtlSource) startProducer() error {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		err := s.t.Stream(func(b []byte) { s.ingest.Write(b) })
		if err != nil {
			s.logger.Error("stream failed", logging.Err(err))
			s.ingest.Terminate()
		}
	}()
	return nil
}

func (s *rtlSource) stopProducer() error {
	err := s.t.Cancel()
	<-s.done
	return err
}

func (s *rtlSource) Channel(i int) (*device.Capabilities, error) {
	if i != 0 {
		return nil, channelOutOfRange(i)
	}
	return s.caps, nil
}

func (s *rtlSource) Close() error {
	return s.shutdown(s.t.Close)
}

// rtltcpDevices lists advertised rtl_tcp servers when a discovery function
// was supplied; browsing blocks, so it is never done implicitly.
func rtltcpDevices(ctx context.Context, o *options) []string {
	if o.discovery == nil {
		return nil
	}
	hosts, err := o.discovery(ctx)
	if err != nil {
		o.logger.Warn("rtl_tcp discovery failed", logging.Err(err))
		return nil
	}
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, fmt.Sprintf("rtltcp=%s,label='rtl_tcp %s'", h.Addr(), h.Instance))
	}
	return out
}
