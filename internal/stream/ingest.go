package stream

import (
	"sync/atomic"

	"github.com/rjboer/iqsource/internal/iq"
)

// EventKind classifies stream notifications.
type EventKind int

const (
	EventOverrun EventKind = iota
	EventMalformed
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventOverrun:
		return "overrun"
	case EventMalformed:
		return "malformed"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is passed by value so that notifying never allocates.
type Event struct {
	Source   string
	Kind     EventKind
	Seq      uint64
	Dropped  int
	Overruns uint64
}

// Notifier receives stream events from the producer context. Implementations
// must return immediately and must not allocate.
type Notifier interface {
	Notify(ev Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// Ingest is the producer-side adapter called with raw transport buffers.
type Ingest struct {
	source  string
	queue   *Queue
	dec     *iq.Decoder
	scratch []complex64
	notify  Notifier
	seq     atomic.Uint64
	buffers atomic.Uint64
}

// NewIngest preallocates room for maxBytes of raw data per decode pass. Larger
// buffers are decoded in several passes.
func NewIngest(source string, q *Queue, dec *iq.Decoder, maxBytes int, notify Notifier) *Ingest {
	if notify == nil {
		notify = NopNotifier{}
	}
	n := maxBytes / dec.Format().Stride()
	if n <= 0 {
		n = 1
	}
	return &Ingest{
		source:  source,
		queue:   q,
		dec:     dec,
		scratch: make([]complex64, n),
		notify:  notify,
	}
}

// Write decodes raw and enqueues the samples. It never blocks on the consumer,
// never allocates and never panics; a buffer that cannot be processed is
// dropped and reported as an overrun. It returns the samples accepted.
// Write must be called from a single producer context.
func (in *Ingest) Write(raw []byte) (accepted int) {
	defer func() {
		if recover() != nil {
			in.queue.CountOverrun(in.dec.Samples(raw))
			in.emit(EventMalformed, in.dec.Samples(raw))
			accepted = 0
		}
	}()
	in.buffers.Add(1)

	stride := in.dec.Format().Stride()
	if len(raw)%stride != 0 {
		in.queue.CountOverrun(len(raw) / stride)
		in.emit(EventMalformed, len(raw)/stride)
		return 0
	}

	overran := false
	for len(raw) > 0 {
		chunk := raw
		if limit := len(in.scratch) * stride; len(chunk) > limit {
			chunk = chunk[:limit]
		}
		n, err := in.dec.Decode(in.scratch, chunk)
		if err != nil {
			in.queue.CountOverrun(len(raw) / stride)
			in.emit(EventMalformed, len(raw)/stride)
			return accepted
		}
		a, o := in.queue.TryPush(in.scratch[:n])
		accepted += a
		overran = overran || o
		raw = raw[len(chunk):]
	}
	if overran {
		in.emit(EventOverrun, 0)
	}
	return accepted
}

func (in *Ingest) emit(kind EventKind, dropped int) {
	in.notify.Notify(Event{
		Source:   in.source,
		Kind:     kind,
		Seq:      in.seq.Add(1),
		Dropped:  dropped,
		Overruns: in.queue.Overruns(),
	})
}

// Terminate ends the stream and tells the notifier about it.
func (in *Ingest) Terminate() {
	if in.queue.Terminated() {
		return
	}
	in.queue.Terminate()
	in.emit(EventTerminated, 0)
}

// Buffers is the number of transport buffers seen.
func (in *Ingest) Buffers() uint64 { return in.buffers.Load() }
