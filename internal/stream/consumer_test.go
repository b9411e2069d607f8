package stream

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestConsumerPrimesBeforeFirstPull(t *testing.T) {
	q := newTestQueue(t, Config{Mode: ModeRing, Slabs: 4, SlabLen: 8})
	c := NewConsumer(q, 24)
	done := make(chan error, 1)
	go func() { done <- c.Pull(make([]complex64, 4)) }()

	q.TryPush(ramp(0, 16))
	select {
	case err := <-done:
		t.Fatalf("pull returned before priming completed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	q.TryPush(ramp(16, 8))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pull did not return after priming")
	}

	// Primed consumers pull as soon as enough samples exist.
	out := make([]complex64, 20)
	if err := c.Pull(out); err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if out[0] != ramp(4, 1)[0] {
		t.Fatalf("unexpected first sample %v", out[0])
	}
}

func TestConsumerResetRearmsPriming(t *testing.T) {
	q := newTestQueue(t, Config{Mode: ModeFIFO, Capacity: 32})
	c := NewConsumer(q, 16)
	q.TryPush(ramp(0, 16))
	if err := c.Pull(make([]complex64, 16)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	q.Terminate()
	if err := c.Pull(make([]complex64, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after terminate, got %v", err)
	}

	c.Reset()
	q.TryPush(ramp(0, 8))
	done := make(chan error, 1)
	go func() { done <- c.Pull(make([]complex64, 4)) }()
	select {
	case err := <-done:
		t.Fatalf("pull skipped priming after reset: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	q.TryPush(ramp(8, 8))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pull did not complete after reset priming")
	}
}

func TestConsumerPrimeCappedAtCapacity(t *testing.T) {
	q := newTestQueue(t, Config{Mode: ModeFIFO, Capacity: 8})
	c := NewConsumer(q, 1000)
	q.TryPush(ramp(0, 8))
	done := make(chan error, 1)
	go func() { done <- c.Pull(make([]complex64, 8)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("priming larger than capacity never completed")
	}
}
