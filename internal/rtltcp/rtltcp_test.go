package rtltcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// serve accepts connections and hands each to handle in its own goroutine.
func serve(t *testing.T, handle func(n int, conn net.Conn)) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(accepted.Add(1))
			go handle(n, conn)
		}
	}()
	return ln.Addr().String(), &accepted
}

func writeHeader(conn net.Conn, info DongleInfo) {
	binary.Write(conn, binary.BigEndian, info)
}

func TestDialReadsHeaderAndData(t *testing.T) {
	payload := []byte{127, 128, 0, 255}
	addr, _ := serve(t, func(_ int, conn net.Conn) {
		defer conn.Close()
		writeHeader(conn, NewDongleInfo(5, 29))
		conn.Write(payload)
	})

	c, err := Dial(context.Background(), addr, DialConfig{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if c.Info().TunerName() != "R820T" || c.Info().GainCount != 29 {
		t.Fatalf("unexpected dongle info %+v", c.Info())
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

func TestCommandsOnTheWire(t *testing.T) {
	cmds := make(chan Command, 16)
	addr, _ := serve(t, func(_ int, conn net.Conn) {
		defer conn.Close()
		writeHeader(conn, NewDongleInfo(5, 29))
		for {
			c, err := ReadCommand(conn)
			if err != nil {
				return
			}
			cmds <- c
		}
	})
	c, err := Dial(context.Background(), addr, DialConfig{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	c.SetCenterFreq(100_000_000)
	c.SetSampleRate(2_048_000)
	c.SetGainMode(true)
	c.SetGain(197)
	c.SetFreqCorrection(-12)
	c.SetAGCMode(true)
	c.SetBiasTee(false)
	c.SetTunerIFGain(2, -30)

	want := []Command{
		{CmdCenterFreq, 100_000_000},
		{CmdSampleRate, 2_048_000},
		{CmdTunerGainMode, 0},
		{CmdTunerGain, 197},
		{CmdFreqCorrection, uint32(0xfffffff4)},
		{CmdAGCMode, 1},
		{CmdBiasTee, 0},
		{CmdTunerIFGain, 2<<16 | 0xffe2},
	}
	for i, w := range want {
		select {
		case got := <-cmds:
			if got != w {
				t.Fatalf("command %d: got %+v want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d not received", i)
		}
	}
	if err := c.SetGainByIndex(29); err == nil {
		t.Fatal("expected out of range gain index error")
	}
}

func TestCommandEncoding(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, Command{CmdSampleRate, 0x01020304})
	if !bytes.Equal(buf.Bytes(), []byte{2, 1, 2, 3, 4}) {
		t.Fatalf("unexpected encoding % x", buf.Bytes())
	}
}

func TestDialRetriesUntilHeader(t *testing.T) {
	addr, accepted := serve(t, func(n int, conn net.Conn) {
		defer conn.Close()
		if n < 3 {
			return
		}
		writeHeader(conn, NewDongleInfo(1, 14))
		time.Sleep(100 * time.Millisecond)
	})
	c, err := Dial(context.Background(), addr, DialConfig{InitialInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()
	if accepted.Load() != 3 {
		t.Fatalf("expected 3 connection attempts, got %d", accepted.Load())
	}
}

func TestDialBadMagicIsPermanent(t *testing.T) {
	addr, accepted := serve(t, func(_ int, conn net.Conn) {
		defer conn.Close()
		conn.Write([]byte("HTTP/1.1 400"))
	})
	_, err := Dial(context.Background(), addr, DialConfig{InitialInterval: 5 * time.Millisecond})
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	if accepted.Load() != 1 {
		t.Fatalf("bad magic was retried %d times", accepted.Load())
	}
}

func TestDialGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	_, err = Dial(context.Background(), addr, DialConfig{Retries: 2, InitialInterval: time.Millisecond})
	if err == nil {
		t.Fatal("expected dial failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, addr, DialConfig{}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
