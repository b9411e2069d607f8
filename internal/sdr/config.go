package sdr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rjboer/iqsource/internal/device"
	"github.com/rjboer/iqsource/internal/devargs"
	"github.com/rjboer/iqsource/internal/launch"
	"github.com/rjboer/iqsource/internal/stream"
)

var errNoVendor = fmt.Errorf("%w: no vendor key", device.ErrConfiguration)

const (
	maxBuffers = 4096
	maxBufLen  = 64 << 20
)

// Config is the validated form of a device argument string.
type Config struct {
	Vendor string
	// Device is the value of the vendor key: an index, a serial number or an
	// address depending on the backend.
	Device string
	Label  string

	Buffers  int // ring slabs
	BufLen   int // bytes per transport buffer
	Prime    int // slabs queued before the first pull
	FIFO     int // FIFO capacity in samples
	Overflow stream.Overflow

	Bias     bool
	BiasSet  bool
	FPGA     string
	Firmware string

	Spawn string // "local" starts rtl_tcp on this host
	SSH   launch.SSHConfig
	MDNS  bool

	// Args keeps every key, including backend specific ones.
	Args devargs.Args
}

func parseConfig(s string) (Config, error) {
	a, err := devargs.Parse(s)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	var b *backend
	for i := range backends {
		if !a.Has(backends[i].name) {
			continue
		}
		if b != nil {
			return Config{}, fmt.Errorf("%w: both %s and %s given", device.ErrConfiguration, b.name, backends[i].name)
		}
		b = &backends[i]
	}
	if b == nil {
		if v, ok := a["vendor"]; ok {
			return Config{}, fmt.Errorf("%w: unknown vendor %q", device.ErrConfiguration, v)
		}
		return Config{}, errNoVendor
	}
	base := b.defaults

	cfg := Config{
		Vendor:   b.name,
		Device:   a.String(b.name, ""),
		Label:    a.String("label", ""),
		FPGA:     a.String("fpga", ""),
		Firmware: a.String("fw", ""),
		Spawn:    a.String("spawn", ""),
		Overflow: base.Overflow,
		Args:     a,
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var e error
	cfg.Buffers, e = a.Int("buffers", 0)
	collect(e)
	cfg.BufLen, e = a.Int("buflen", 0)
	collect(e)
	cfg.FIFO, e = a.Int("fifo", 0)
	collect(e)
	cfg.Prime, e = a.Int("prime", base.Prime)
	collect(e)
	cfg.BiasSet = a.Has("bias")
	cfg.Bias, e = a.Bool("bias", false)
	collect(e)
	cfg.MDNS, e = a.Bool("mdns", false)
	collect(e)
	switch v := a.String("overflow", ""); v {
	case "":
	case "oldest":
		cfg.Overflow = stream.DropOldest
	case "incoming":
		cfg.Overflow = stream.DropIncoming
	default:
		collect(fmt.Errorf("overflow=%q must be oldest or incoming", v))
	}
	if a.Has("ssh") {
		ssh, err := parseSSH(a.String("ssh", ""))
		collect(err)
		ssh.KeyPath = a.String("ssh_key", "")
		ssh.Password = a.String("ssh_password", "")
		cfg.SSH = ssh
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	return validateConfig(cfg, base)
}

// validateConfig fills unset sizes from base and checks the result.
func validateConfig(cfg Config, base Config) (Config, error) {
	if cfg.Buffers == 0 {
		cfg.Buffers = base.Buffers
	}
	if cfg.BufLen == 0 {
		cfg.BufLen = base.BufLen
	}
	if cfg.FIFO == 0 {
		cfg.FIFO = base.FIFO
	}
	if cfg.Buffers < 1 || cfg.Buffers > maxBuffers {
		return Config{}, fmt.Errorf("%w: buffers must be between 1 and %d", device.ErrConfiguration, maxBuffers)
	}
	if cfg.BufLen < 1 || cfg.BufLen > maxBufLen {
		return Config{}, fmt.Errorf("%w: buflen must be between 1 and %d", device.ErrConfiguration, maxBufLen)
	}
	if cfg.FIFO < 0 {
		return Config{}, fmt.Errorf("%w: fifo must be positive", device.ErrConfiguration)
	}
	if cfg.Prime < 0 {
		return Config{}, fmt.Errorf("%w: prime must not be negative", device.ErrConfiguration)
	}
	if cfg.Spawn != "" && cfg.Spawn != "local" {
		return Config{}, fmt.Errorf("%w: spawn=%q is not supported", device.ErrConfiguration, cfg.Spawn)
	}
	return cfg, nil
}

// parseSSH reads "[user@]host[:port]".
func parseSSH(s string) (launch.SSHConfig, error) {
	var cfg launch.SSHConfig
	if user, rest, ok := strings.Cut(s, "@"); ok {
		cfg.User, s = user, rest
	}
	if host, port, ok := strings.Cut(s, ":"); ok {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return cfg, fmt.Errorf("ssh port %q is invalid", port)
		}
		cfg.Port, s = p, host
	}
	if s == "" {
		return cfg, errors.New("ssh host is empty")
	}
	cfg.Host = s
	return cfg, nil
}
