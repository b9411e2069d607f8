// Package sdr exposes heterogeneous receivers as pull-based IQ sources. Each
// backend couples a vendor transport to a stream.Queue and a
// device.Capabilities describing its tunable parameters.
package sdr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/mdns"
	"github.com/rjboer/iqsource/internal/stream"
)

// Source is a receiver streaming complex baseband samples.
type Source interface {
	// Start begins streaming. Calling Start on a running source is a no-op.
	Start() error
	// Stop ends streaming and wakes a blocked Pull. It is idempotent.
	Stop() error
	// Pull fills dst completely or returns io.EOF once the stream has ended.
	Pull(dst []complex64) error
	PullContext(ctx context.Context, dst []complex64) error
	NumChannels() int
	Channel(i int) (*device.Capabilities, error)
	Stats() stream.Stats
	Close() error
}

// Option customises Open and Devices.
type Option func(*options)

type options struct {
	logger    logging.Logger
	notifier  stream.Notifier
	hackrf    HackRFDriver
	bladerf   BladeRFDriver
	discovery func(ctx context.Context) ([]mdns.Host, error)
}

func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithNotifier routes overrun and termination events to n. A
// *telemetry.Hub also gets the queue statistics of every opened source.
func WithNotifier(n stream.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithHackRFDriver supplies the libhackrf binding used by the hackrf backend.
func WithHackRFDriver(d HackRFDriver) Option { return func(o *options) { o.hackrf = d } }

// WithBladeRFDriver supplies the libbladeRF binding used by the bladerf backend.
func WithBladeRFDriver(d BladeRFDriver) Option { return func(o *options) { o.bladerf = d } }

// WithDiscovery replaces the mDNS browse used to find rtl_tcp servers.
func WithDiscovery(fn func(ctx context.Context) ([]mdns.Host, error)) Option {
	return func(o *options) { o.discovery = fn }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

// backend is one entry of the vendor registry.
type backend struct {
	name     string
	defaults Config
	open     func(ctx context.Context, cfg Config, o *options) (Source, error)
	devices  func(ctx context.Context, o *options) []string
}

var backends = []backend{hackrfBackend, bladerfBackend, rtlBackend, rtltcpBackend, mockBackend}

func lookupBackend(name string) (backend, bool) {
	for _, b := range backends {
		if b.name == name {
			return b, true
		}
	}
	return backend{}, false
}

// Open parses a device argument string such as "hackrf=1a2b3c,buffers=32"
// and opens the selected receiver. Without a vendor key the first enumerated
// device is used.
func Open(ctx context.Context, args string, opts ...Option) (Source, error) {
	o := buildOptions(opts)
	cfg, err := parseConfig(args)
	if errors.Is(err, errNoVendor) {
		found := Devices(ctx, opts...)
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: no receivers found", device.ErrDeviceUnavailable)
		}
		o.logger.Info("using first available receiver", logging.Device(found[0]))
		cfg, err = parseConfig(found[0] + "," + args)
	}
	if err != nil {
		return nil, err
	}
	b, _ := lookupBackend(cfg.Vendor)
	src, err := b.open(ctx, cfg, o)
	if err != nil {
		if !errors.Is(err, device.ErrConfiguration) && !errors.Is(err, device.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, err)
		}
		o.logger.Error("open failed", logging.Backend(cfg.Vendor), logging.Device(cfg.Device), logging.Err(err))
		return nil, err
	}
	if caps, err := src.Channel(0); err == nil {
		o.logger.Debug("receiver ready",
			logging.Backend(cfg.Vendor),
			logging.Device(cfg.Device),
			logging.Hz("rate", caps.SampleRate()),
			logging.Hz("center", caps.CenterFreq()),
		)
	}
	return src, nil
}

// Devices enumerates the receivers every backend can see. Each entry is an
// argument string accepted by Open.
func Devices(ctx context.Context, opts ...Option) []string {
	o := buildOptions(opts)
	var out []string
	for _, b := range backends {
		if b.devices == nil {
			continue
		}
		out = append(out, b.devices(ctx, o)...)
	}
	return out
}

func channelOutOfRange(i int) error {
	return fmt.Errorf("%w: channel %d out of range", device.ErrConfiguration, i)
}
