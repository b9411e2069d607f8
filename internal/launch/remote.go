package launch

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rjboer/iqsource/internal/logging"
)

// SSHConfig holds the credentials for the host running rtl_tcp.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
}

func (c SSHConfig) withDefaults() SSHConfig {
	if c.User == "" {
		c.User = "root"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	return c
}

// Remote is an rtl_tcp process started over SSH. Closing the session hangs
// up its terminal, which stops the process.
type Remote struct {
	client  *ssh.Client
	session *ssh.Session
	addr    string

	closeOnce sync.Once
}

// StartRemote starts rtl_tcp on cfg.Host. Unless spec.Address is set the
// server listens on all interfaces so this host can reach it.
func StartRemote(ctx context.Context, cfg SSHConfig, spec Spec, logger logging.Logger) (*Remote, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required to launch rtl_tcp remotely")
	}
	cfg = cfg.withDefaults()
	if spec.Address == "" {
		spec.Address = "0.0.0.0"
	}
	spec = spec.withDefaults()
	logger = logging.OrDefault(logger).With(
		logging.Subsystem("launch"),
		logging.Field{Key: "host", Value: cfg.Host},
	)

	client, err := dialSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	r := &Remote{client: client, session: session, addr: hostPort(cfg.Host, spec.Port)}

	if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		r.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	out, err := session.StdoutPipe()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	cmdline := spec.CommandLine()
	if err := session.Start(cmdline); err != nil {
		r.Close()
		return nil, fmt.Errorf("start remote rtl_tcp: %w", err)
	}
	logger.Info("started remote rtl_tcp", logging.Field{Key: "command", Value: cmdline}, logging.Addr(r.addr))

	if err := waitReady(ctx, out, spec.ReadyTimeout, logger); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Remote) Addr() string { return r.addr }

func (r *Remote) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.session.Signal(ssh.SIGTERM)
		r.session.Close()
		err = r.client.Close()
	})
	return err
}

func dialSSH(ctx context.Context, cfg SSHConfig) (*ssh.Client, error) {
	auth := []ssh.AuthMethod{}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := hostPort(cfg.Host, cfg.Port)
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}
