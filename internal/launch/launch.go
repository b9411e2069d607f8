// Package launch starts rtl_tcp helper processes, either locally under a
// pseudo-terminal or on a remote host over SSH, and waits until they listen.
package launch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/iqsource/internal/logging"
)

var ErrExited = errors.New("rtl_tcp exited before listening")

// Spec describes the rtl_tcp invocation.
type Spec struct {
	Binary     string
	Device     string // index or serial number
	Address    string // listen address
	Port       int
	SampleRate int
	// ReadyTimeout bounds the wait for the "listening" banner. When it
	// expires the process is assumed ready, as rtl_tcp builds differ in what
	// they print.
	ReadyTimeout time.Duration
}

func (s Spec) withDefaults() Spec {
	if s.Binary == "" {
		s.Binary = "rtl_tcp"
	}
	if s.Address == "" {
		s.Address = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 1234
	}
	if s.ReadyTimeout == 0 {
		s.ReadyTimeout = 2 * time.Second
	}
	return s
}

// Args returns the rtl_tcp command line arguments.
func (s Spec) Args() []string {
	s = s.withDefaults()
	args := []string{"-a", s.Address, "-p", strconv.Itoa(s.Port)}
	if s.Device != "" {
		args = append(args, "-d", s.Device)
	}
	if s.SampleRate > 0 {
		args = append(args, "-s", strconv.Itoa(s.SampleRate))
	}
	return args
}

// CommandLine renders the invocation for a remote shell.
func (s Spec) CommandLine() string {
	s = s.withDefaults()
	parts := []string{"exec", shellQuote(s.Binary)}
	for _, a := range s.Args() {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Process is a running rtl_tcp server.
type Process interface {
	// Addr is the host:port clients should connect to.
	Addr() string
	Close() error
}

// waitReady copies output lines to the logger until the banner shows up,
// the output ends, the timeout passes or ctx is done. Output keeps being
// drained afterwards so the helper never blocks on a full terminal.
func waitReady(ctx context.Context, out io.Reader, timeout time.Duration, logger logging.Logger) error {
	ready := make(chan struct{}, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		sc := bufio.NewScanner(out)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			logger.Debug("rtl_tcp output", logging.Field{Key: "line", Value: line})
			if strings.Contains(line, "listening") {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-exited:
		select {
		case <-ready:
			return nil
		default:
		}
		return ErrExited
	case <-timer.C:
		logger.Warn("rtl_tcp banner not seen, assuming ready", logging.Field{Key: "timeout", Value: timeout})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// shellQuote returns a value wrapped in single quotes with embedded quotes escaped
// for safe shell usage.
func shellQuote(value string) string {
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return fmt.Sprintf("'%s'", escaped)
}
