package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/stream"
)

// Config is the runtime configuration of the hub.
type Config struct {
	EventBuffer  int `json:"eventBuffer"`
	HistoryLimit int `json:"historyLimit"`
}

const (
	minEventBuffer  = 16
	maxEventBuffer  = 1 << 16
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
)

func defaultConfig() Config {
	return Config{
		EventBuffer:  256,
		HistoryLimit: 500,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.EventBuffer == 0 || base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = base.EventBuffer
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.EventBuffer < minEventBuffer || cfg.EventBuffer > maxEventBuffer {
		return Config{}, fmt.Errorf("event buffer must be between %d and %d", minEventBuffer, maxEventBuffer)
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Record is a stream event as kept in history.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Seq       uint64    `json:"seq"`
	Dropped   int       `json:"dropped"`
	Overruns  uint64    `json:"overruns"`
}

// StreamStatus combines live queue statistics with event counts.
type StreamStatus struct {
	Name      string       `json:"name"`
	Queue     stream.Stats `json:"queue"`
	Overruns  int          `json:"overrunEvents"`
	Malformed int          `json:"malformedEvents"`
	LastEvent *time.Time   `json:"lastEvent,omitempty"`
}

type sourceEntry struct {
	stats     func() stream.Stats
	overruns  int
	malformed int
	last      time.Time
}

// Hub receives stream events from producer contexts, keeps a bounded history
// and fans records out to reporters and subscribers. Notify never blocks;
// events that do not fit the buffer are counted as missed.
type Hub struct {
	events chan stream.Event
	missed atomic.Uint64
	logger logging.Logger

	mu           sync.RWMutex
	history      []Record
	historyLimit int
	sources      map[string]*sourceEntry
	reporters    MultiReporter
	subscribers  map[chan Record]struct{}
	config       Config
	started      time.Time
}

// NewHub builds a hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		events:       make(chan stream.Event, cfg.EventBuffer),
		logger:       logging.OrDefault(logger).With(logging.Subsystem("telemetry")),
		historyLimit: cfg.HistoryLimit,
		sources:      make(map[string]*sourceEntry),
		subscribers:  make(map[chan Record]struct{}),
		config:       cfg,
		started:      time.Now(),
	}
}

// Notify implements stream.Notifier.
func (h *Hub) Notify(ev stream.Event) {
	select {
	case h.events <- ev:
	default:
		h.missed.Add(1)
	}
}

// Missed is the number of events dropped because the buffer was full.
func (h *Hub) Missed() uint64 { return h.missed.Load() }

// AddReporter registers an additional destination for records.
func (h *Hub) AddReporter(r Reporter) {
	h.mu.Lock()
	h.reporters = append(h.reporters, r)
	h.mu.Unlock()
}

// Register exposes the queue statistics of a named stream. The returned
// function removes it again.
func (h *Hub) Register(name string, stats func() stream.Stats) func() {
	h.mu.Lock()
	h.sources[name] = &sourceEntry{stats: stats}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.sources, name)
		h.mu.Unlock()
	}
}

// Run drains events until ctx is done. Pending events are flushed before it
// returns.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-h.events:
			h.record(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-h.events:
					h.record(ev)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (h *Hub) record(ev stream.Event) {
	rec := Record{
		Timestamp: time.Now(),
		Source:    ev.Source,
		Kind:      ev.Kind.String(),
		Seq:       ev.Seq,
		Dropped:   ev.Dropped,
		Overruns:  ev.Overruns,
	}

	h.mu.Lock()
	h.history = append(h.history, rec)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	if src, ok := h.sources[ev.Source]; ok {
		switch ev.Kind {
		case stream.EventOverrun:
			src.overruns++
		case stream.EventMalformed:
			src.malformed++
		}
		src.last = rec.Timestamp
	}
	for ch := range h.subscribers {
		select {
		case ch <- rec:
		default:
		}
	}
	reporters := h.reporters
	h.mu.Unlock()

	reporters.Report(rec)
}

// History returns a copy of stored records.
func (h *Hub) History() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.history))
	copy(out, h.history)
	return out
}

// Streams reports every registered stream, sorted by name.
func (h *Hub) Streams() []StreamStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StreamStatus, 0, len(h.sources))
	for name, src := range h.sources {
		st := StreamStatus{
			Name:      name,
			Queue:     src.stats(),
			Overruns:  src.overruns,
			Malformed: src.malformed,
		}
		if !src.last.IsZero() {
			last := src.last
			st.LastEvent = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live records.
func (h *Hub) Subscribe() (chan Record, func()) {
	ch := make(chan Record, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// applyConfig changes the history limit. The event buffer size is fixed at
// construction.
func (h *Hub) applyConfig(cfg Config) {
	cfg.EventBuffer = h.config.EventBuffer
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

// Health summarises the hub and the process.
type Health struct {
	Status  string        `json:"status"`
	Streams int           `json:"streams"`
	Missed  uint64        `json:"missedEvents"`
	Process ProcessHealth `json:"process"`
}

type ProcessHealth struct {
	Uptime       float64 `json:"uptimeSeconds"`
	NumGoroutine int     `json:"numGoroutine"`
}

// HealthSnapshot is "idle" with no streams registered, "degraded" when a
// stream has terminated or events were missed, "ok" otherwise.
func (h *Hub) HealthSnapshot() Health {
	streams := h.Streams()
	status := "ok"
	switch {
	case len(streams) == 0:
		status = "idle"
	case h.Missed() > 0:
		status = "degraded"
	default:
		for _, s := range streams {
			if s.Queue.Terminated {
				status = "degraded"
				break
			}
		}
	}
	return Health{
		Status:  status,
		Streams: len(streams),
		Missed:  h.Missed(),
		Process: ProcessHealth{
			Uptime:       time.Since(h.started).Seconds(),
			NumGoroutine: runtime.NumGoroutine(),
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Hub) handleStreams(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.Streams())
	}
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.History())
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.HealthSnapshot())
	}
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	cfg = h.config
	h.mu.Unlock()

	writeJSON(w, cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	for _, rec := range h.History() {
		writeEvent(w, rec)
	}
	flusher.Flush()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, rec)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rec Record) {
	payload, _ := json.Marshal(rec)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

// Handler routes the hub's JSON endpoints.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", h.handleStreams)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/events/live", h.handleLive)
	mux.HandleFunc("/api/health", h.handleHealth)
	mux.HandleFunc("/api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	return mux
}
