package stream

import (
	"sync"
	"testing"

	"github.com/rjboer/iqsource/internal/iq"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(Event) { c.n++ }

func newTestIngest(t *testing.T, cfg Config, format iq.Format, maxBytes int, n Notifier) (*Ingest, *Queue) {
	t.Helper()
	q := newTestQueue(t, cfg)
	dec, err := iq.NewDecoder(format)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return NewIngest("test", q, dec, maxBytes, n), q
}

func TestIngestDecodesInChunks(t *testing.T) {
	in, q := newTestIngest(t, Config{Mode: ModeFIFO, Capacity: 64}, iq.FormatS8LE, 8, nil)
	raw := make([]byte, 40)
	for i := range raw {
		raw[i] = byte(i)
	}
	if got := in.Write(raw); got != 20 {
		t.Fatalf("expected 20 samples accepted, got %d", got)
	}
	out := make([]complex64, 20)
	if err := q.PopExact(out); err != nil {
		t.Fatalf("pop: %v", err)
	}
	for i, s := range out {
		want := complex(float32(2*i)/128, float32(2*i+1)/128)
		if s != want {
			t.Fatalf("sample %d got %v want %v", i, s, want)
		}
	}
}

func TestIngestReportsOneOverrunPerBuffer(t *testing.T) {
	rec := &recordingNotifier{}
	in, q := newTestIngest(t, Config{Mode: ModeRing, Slabs: 2, SlabLen: 4}, iq.FormatS8LE, 4, rec)
	in.Write(make([]byte, 16))
	if rec.count(EventOverrun) != 0 {
		t.Fatal("unexpected overrun while filling")
	}
	// Eight samples decoded two at a time evict two slabs.
	in.Write(make([]byte, 16))
	if got := rec.count(EventOverrun); got != 1 {
		t.Fatalf("expected one overrun event, got %d", got)
	}
	if q.Overruns() != 2 {
		t.Fatalf("expected two slab evictions counted, got %d", q.Overruns())
	}
}

func TestIngestDropsMalformedBuffer(t *testing.T) {
	rec := &recordingNotifier{}
	in, q := newTestIngest(t, Config{Mode: ModeFIFO, Capacity: 64}, iq.FormatC12, 64, rec)
	if got := in.Write(make([]byte, 7)); got != 0 {
		t.Fatalf("malformed buffer accepted %d samples", got)
	}
	if q.Len() != 0 {
		t.Fatalf("malformed buffer reached the queue")
	}
	if q.Overruns() != 1 || rec.count(EventMalformed) != 1 {
		t.Fatalf("expected one malformed overrun, got %d counted, %d events", q.Overruns(), rec.count(EventMalformed))
	}
	if got := in.Write(make([]byte, 8)); got != 2 {
		t.Fatalf("valid buffer after malformed one accepted %d", got)
	}
}

func TestIngestTerminateNotifiesOnce(t *testing.T) {
	rec := &recordingNotifier{}
	in, q := newTestIngest(t, Config{Mode: ModeFIFO, Capacity: 8}, iq.FormatU8, 8, rec)
	in.Terminate()
	in.Terminate()
	if !q.Terminated() {
		t.Fatal("queue not terminated")
	}
	if got := rec.count(EventTerminated); got != 1 {
		t.Fatalf("expected one terminated event, got %d", got)
	}
	if got := in.Write([]byte{1, 2}); got != 0 {
		t.Fatalf("write after terminate accepted %d", got)
	}
}

func TestIngestWriteDoesNotAllocate(t *testing.T) {
	n := &countingNotifier{}
	in, _ := newTestIngest(t, Config{Mode: ModeRing, Slabs: 2, SlabLen: 128}, iq.FormatS8LE, 256, n)
	raw := make([]byte, 512)
	allocs := testing.AllocsPerRun(50, func() {
		in.Write(raw)
	})
	if allocs != 0 {
		t.Fatalf("expected zero allocations, got %v", allocs)
	}
	if n.n == 0 {
		t.Fatal("expected overrun notifications while ring is saturated")
	}
	if in.Buffers() == 0 {
		t.Fatal("buffer counter not advanced")
	}
}
