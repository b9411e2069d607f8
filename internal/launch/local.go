package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/kr/pty"

	"github.com/rjboer/iqsource/internal/logging"
)

// Local is an rtl_tcp process started on this host. It runs under a
// pseudo-terminal so that its output is line buffered.
type Local struct {
	cmd  *exec.Cmd
	fpty *os.File
	addr string

	closeOnce sync.Once
	closeErr  error
}

// StartLocal runs spec.Binary with the rtl_tcp arguments and waits until it
// is listening.
func StartLocal(ctx context.Context, spec Spec, logger logging.Logger) (*Local, error) {
	spec = spec.withDefaults()
	logger = logging.OrDefault(logger).With(logging.Subsystem("launch"))

	cmd := exec.Command(spec.Binary, spec.Args()...)
	fpty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	l := &Local{cmd: cmd, fpty: fpty, addr: hostPort(spec.Address, spec.Port)}
	logger.Info("started rtl_tcp", logging.Field{Key: "pid", Value: cmd.Process.Pid}, logging.Addr(l.addr))

	if err := waitReady(ctx, fpty, spec.ReadyTimeout, logger); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) Addr() string { return l.addr }

// Close kills the process and reaps it.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		if l.cmd.ProcessState == nil {
			l.cmd.Process.Kill()
		}
		l.fpty.Close()
		if err := l.cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				l.closeErr = err
			}
		}
	})
	return l.closeErr
}
