// Package rtltcp is a client for the rtl_tcp spectrum server protocol: a
// 12-byte dongle header followed by a raw stream of unsigned 8-bit IQ pairs,
// controlled by 5-byte big-endian commands.
package rtltcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

var ErrBadMagic = errors.New("rtl_tcp: bad dongle magic")

var dongleMagic = [...]byte{'R', 'T', 'L', '0'}

// DongleInfo is the header sent by the server on connection.
type DongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32
}

// Valid checks the received magic number matches 'RTL0'.
func (d DongleInfo) Valid() bool {
	return d.Magic == dongleMagic
}

// TunerName maps the tuner code to the librtlsdr tuner type.
func (d DongleInfo) TunerName() string {
	switch d.Tuner {
	case 1:
		return "E4000"
	case 2:
		return "FC0012"
	case 3:
		return "FC0013"
	case 4:
		return "FC2580"
	case 5:
		return "R820T"
	case 6:
		return "R828D"
	default:
		return "unknown"
	}
}

// NewDongleInfo builds a valid header, used by servers and tests.
func NewDongleInfo(tuner, gainCount uint32) DongleInfo {
	return DongleInfo{Magic: dongleMagic, Tuner: tuner, GainCount: gainCount}
}

// Command codes defined in rtl_tcp.c.
const (
	CmdCenterFreq uint8 = iota + 1
	CmdSampleRate
	CmdTunerGainMode
	CmdTunerGain
	CmdFreqCorrection
	CmdTunerIFGain
	CmdTestMode
	CmdAGCMode
	CmdDirectSampling
	CmdOffsetTuning
	CmdRTLXtalFreq
	CmdTunerXtalFreq
	CmdGainByIndex
	CmdBiasTee
)

// Command is one control message.
type Command struct {
	Code      uint8
	Parameter uint32
}

// ReadCommand decodes the next command from r.
func ReadCommand(r io.Reader) (Command, error) {
	var c Command
	err := binary.Read(r, binary.BigEndian, &c)
	return c, err
}

// DialConfig controls connection retries. Zero values pick defaults.
type DialConfig struct {
	Timeout         time.Duration
	Retries         uint64
	InitialInterval time.Duration
}

func (c DialConfig) withDefaults() DialConfig {
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Retries == 0 {
		c.Retries = 10
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	return c
}

// Client is a connection to an rtl_tcp server. Reads and commands may be
// issued from different goroutines.
type Client struct {
	conn net.Conn
	info DongleInfo
	wmu  sync.Mutex
}

// Dial connects to addr, retrying with exponential backoff while the server
// is not yet listening. A server answering with a bad header is not retried.
func Dial(ctx context.Context, addr string, cfg DialConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.Retries), ctx)

	var client *Client
	op := func() error {
		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		c, err := NewClient(conn)
		if err != nil {
			conn.Close()
			if errors.Is(err, ErrBadMagic) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return client, nil
}

// NewClient reads the dongle header from an established connection.
func NewClient(conn net.Conn) (*Client, error) {
	var info DongleInfo
	if err := binary.Read(conn, binary.BigEndian, &info); err != nil {
		return nil, fmt.Errorf("read dongle information: %w", err)
	}
	if !info.Valid() {
		return nil, fmt.Errorf("%w %q", ErrBadMagic, info.Magic[:])
	}
	return &Client{conn: conn, info: info}, nil
}

func (c *Client) Info() DongleInfo { return c.info }

// Read returns raw unsigned 8-bit IQ bytes.
func (c *Client) Read(p []byte) (int, error) { return c.conn.Read(p) }

func (c *Client) Close() error { return c.conn.Close() }

// SetReadDeadline bounds pending and future reads; a past deadline unblocks
// a reader waiting for data.
func (c *Client) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *Client) do(code uint8, v uint32) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return binary.Write(c.conn, binary.BigEndian, Command{code, v})
}

func boolParam(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// SetCenterFreq tunes to freq Hz.
func (c *Client) SetCenterFreq(freq uint32) error { return c.do(CmdCenterFreq, freq) }

// SetSampleRate sets the sample rate in Hz.
func (c *Client) SetSampleRate(rate uint32) error { return c.do(CmdSampleRate, rate) }

// SetGainMode enables tuner AGC when automatic is true. The wire value is
// inverted: 1 selects manual gain.
func (c *Client) SetGainMode(automatic bool) error {
	return c.do(CmdTunerGainMode, boolParam(!automatic))
}

// SetGain sets the tuner gain in tenths of dB (197 => 19.7dB).
func (c *Client) SetGain(tenths int32) error { return c.do(CmdTunerGain, uint32(tenths)) }

// SetFreqCorrection sets the frequency correction in ppm.
func (c *Client) SetFreqCorrection(ppm int32) error { return c.do(CmdFreqCorrection, uint32(ppm)) }

// SetTunerIFGain sets the gain of one tuner IF stage in tenths of dB.
func (c *Client) SetTunerIFGain(stage uint16, tenths int16) error {
	return c.do(CmdTunerIFGain, uint32(stage)<<16|uint32(uint16(tenths)))
}

// SetAGCMode enables the RTL2832 digital AGC.
func (c *Client) SetAGCMode(on bool) error { return c.do(CmdAGCMode, boolParam(on)) }

// SetDirectSampling: 0 disabled, 1 I branch, 2 Q branch.
func (c *Client) SetDirectSampling(mode uint32) error { return c.do(CmdDirectSampling, mode) }

func (c *Client) SetOffsetTuning(on bool) error { return c.do(CmdOffsetTuning, boolParam(on)) }

// SetGainByIndex selects an entry of the tuner gain table.
func (c *Client) SetGainByIndex(idx uint32) error {
	if idx >= c.info.GainCount {
		return fmt.Errorf("invalid gain index %d (tuner has %d)", idx, c.info.GainCount)
	}
	return c.do(CmdGainByIndex, idx)
}

// SetBiasTee powers the antenna port on dongles that support it.
func (c *Client) SetBiasTee(on bool) error { return c.do(CmdBiasTee, boolParam(on)) }
