// Package stream bridges an asynchronous sample producer (a hardware transport
// callback or a read task) to a synchronous consumer that asks for an exact
// number of samples per call.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrInvalidConfig = errors.New("invalid queue configuration")

// Mode selects the storage strategy of a Queue.
type Mode int

const (
	// ModeRing keeps a fixed ring of equally sized slabs reused in place.
	ModeRing Mode = iota
	// ModeFIFO keeps a single capacity-bounded sample sequence.
	ModeFIFO
)

func (m Mode) String() string {
	switch m {
	case ModeRing:
		return "ring"
	case ModeFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Overflow decides which samples are lost when the queue is full.
type Overflow int

const (
	// DropOldest evicts queued data so the newest samples are kept.
	DropOldest Overflow = iota
	// DropIncoming truncates the push that does not fit.
	DropIncoming
)

func (o Overflow) String() string {
	if o == DropIncoming {
		return "incoming"
	}
	return "oldest"
}

// Config sizes a Queue. Ring mode uses Slabs*SlabLen samples, FIFO mode uses
// Capacity samples.
type Config struct {
	Mode     Mode
	Slabs    int
	SlabLen  int
	Capacity int
	Overflow Overflow
}

// Validate checks the sizing for the selected mode.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRing:
		if c.Slabs <= 0 || c.SlabLen <= 0 {
			return fmt.Errorf("%w: ring needs positive slab count and length (got %d x %d)", ErrInvalidConfig, c.Slabs, c.SlabLen)
		}
	case ModeFIFO:
		if c.Capacity <= 0 {
			return fmt.Errorf("%w: fifo capacity must be positive (got %d)", ErrInvalidConfig, c.Capacity)
		}
	default:
		return fmt.Errorf("%w: mode %d", ErrInvalidConfig, c.Mode)
	}
	if c.Overflow != DropOldest && c.Overflow != DropIncoming {
		return fmt.Errorf("%w: overflow policy %d", ErrInvalidConfig, c.Overflow)
	}
	return nil
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Mode       string `json:"mode"`
	Len        int    `json:"len"`
	Cap        int    `json:"cap"`
	Overruns   uint64 `json:"overruns"`
	Dropped    uint64 `json:"dropped"`
	Pushed     uint64 `json:"pushed"`
	Popped     uint64 `json:"popped"`
	Terminated bool   `json:"terminated"`
}

// store is the storage strategy behind a Queue. All methods run with the
// queue mutex held.
type store interface {
	// push copies as much of src as the policy admits. It returns the number
	// of samples accepted, samples lost and overrun events raised.
	push(src []complex64) (accepted, dropped int, overruns uint64)
	// pop copies up to len(dst) queued samples into dst.
	pop(dst []complex64) int
	len() int
	cap() int
	reset()
}

// Queue is the shared buffer between one producer and one consumer. Metadata
// changes happen in a short critical section; the consumer sleeps on a
// one-slot signal channel so that the producer never blocks.
type Queue struct {
	mode  Mode
	mu    sync.Mutex
	store store

	signal chan struct{}
	done   chan struct{}

	terminated bool
	overruns   uint64
	dropped    uint64
	pushed     uint64
	popped     uint64
}

// NewQueue preallocates all sample storage.
func NewQueue(cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		mode:   cfg.Mode,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	switch cfg.Mode {
	case ModeRing:
		q.store = newRingStore(cfg.Slabs, cfg.SlabLen, cfg.Overflow)
	case ModeFIFO:
		q.store = newFIFOStore(cfg.Capacity, cfg.Overflow)
	}
	return q, nil
}

func (q *Queue) Mode() Mode { return q.mode }

// TryPush enqueues samples without waiting. overran reports that samples were
// lost to the overflow policy during this call.
func (q *Queue) TryPush(samples []complex64) (accepted int, overran bool) {
	if len(samples) == 0 {
		return 0, false
	}
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return 0, false
	}
	accepted, dropped, overruns := q.store.push(samples)
	q.pushed += uint64(accepted)
	q.dropped += uint64(dropped)
	q.overruns += overruns
	q.mu.Unlock()

	if accepted > 0 {
		q.wake()
	}
	return accepted, overruns > 0
}

// CountOverrun records an overrun that happened before samples reached the
// queue, such as a malformed transport buffer.
func (q *Queue) CountOverrun(droppedSamples int) {
	q.mu.Lock()
	q.overruns++
	q.dropped += uint64(droppedSamples)
	q.mu.Unlock()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// PopExact fills dst completely, blocking until enough samples arrive. It
// returns io.EOF once the queue is terminated.
func (q *Queue) PopExact(dst []complex64) error {
	return q.PopExactContext(context.Background(), dst)
}

// PopExactContext is PopExact with an external deadline or cancellation.
func (q *Queue) PopExactContext(ctx context.Context, dst []complex64) error {
	if len(dst) == 0 {
		return nil
	}
	if len(dst) > q.Cap() {
		return q.popIncremental(ctx, dst)
	}
	for {
		q.mu.Lock()
		if q.terminated {
			q.mu.Unlock()
			return io.EOF
		}
		if q.store.len() >= len(dst) {
			n := q.store.pop(dst)
			q.popped += uint64(n)
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()
		if err := q.sleep(ctx); err != nil {
			return err
		}
	}
}

// popIncremental serves requests larger than the queue can ever hold by
// draining whatever is available on every wakeup.
func (q *Queue) popIncremental(ctx context.Context, dst []complex64) error {
	filled := 0
	for filled < len(dst) {
		q.mu.Lock()
		if q.terminated {
			q.mu.Unlock()
			return io.EOF
		}
		n := q.store.pop(dst[filled:])
		q.popped += uint64(n)
		q.mu.Unlock()
		filled += n
		if filled == len(dst) {
			return nil
		}
		if err := q.sleep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitFill blocks until at least n samples are queued. n is capped at the
// queue capacity.
func (q *Queue) WaitFill(ctx context.Context, n int) error {
	if c := q.Cap(); n > c {
		n = c
	}
	for {
		q.mu.Lock()
		if q.terminated {
			q.mu.Unlock()
			return io.EOF
		}
		have := q.store.len()
		q.mu.Unlock()
		if have >= n {
			return nil
		}
		if err := q.sleep(ctx); err != nil {
			return err
		}
	}
}

func (q *Queue) sleep(ctx context.Context) error {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()
	select {
	case <-q.signal:
		return nil
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate marks the stream finished and wakes every waiting consumer.
// Calling it again is a no-op.
func (q *Queue) Terminate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return
	}
	q.terminated = true
	close(q.done)
}

// Reset discards queued samples and reopens a terminated queue. Counters are
// kept.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store.reset()
	if q.terminated {
		q.terminated = false
		q.done = make(chan struct{})
	}
	select {
	case <-q.signal:
	default:
	}
}

func (q *Queue) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.len()
}

func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.cap()
}

func (q *Queue) Overruns() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Mode:       q.mode.String(),
		Len:        q.store.len(),
		Cap:        q.store.cap(),
		Overruns:   q.overruns,
		Dropped:    q.dropped,
		Pushed:     q.pushed,
		Popped:     q.popped,
		Terminated: q.terminated,
	}
}
