package sdr

import (
	"context"
	"errors"
	"sync"

	"github.com/rjboer/iqsource/internal/iq"
	"github.com/rjboer/iqsource/internal/logging"
	"github.com/rjboer/iqsource/internal/stream"
	"github.com/rjboer/iqsource/internal/telemetry"
)

var ErrClosed = errors.New("source closed")

// producer is the transport half of a backend: it starts and stops whatever
// feeds the pipeline's Ingest.
type producer interface {
	startProducer() error
	stopProducer() error
}

// pipeline is the stream side shared by every backend. The producer writes
// raw buffers through ingest; the consumer pulls exact sample counts.
type pipeline struct {
	name     string
	queue    *stream.Queue
	ingest   *stream.Ingest
	consumer *stream.Consumer
	logger   logging.Logger
	prod     producer

	unregister func()
	cancelHub  context.CancelFunc
	hubDone    chan struct{}

	mu      sync.Mutex
	running bool
	started bool
	closed  bool
}

type pipelineConfig struct {
	name   string
	queue  stream.Config
	format iq.Format
	bufLen int // largest raw buffer the transport delivers, in bytes
	prime  int // samples
}

func newPipeline(pc pipelineConfig, o *options) (*pipeline, error) {
	q, err := stream.NewQueue(pc.queue)
	if err != nil {
		return nil, err
	}
	dec, err := iq.NewDecoder(pc.format)
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		name:     pc.name,
		queue:    q,
		consumer: stream.NewConsumer(q, pc.prime),
		logger:   o.logger.With(logging.Source(pc.name)),
	}

	notify := o.notifier
	if notify == nil {
		hub := telemetry.NewHub(0, o.logger)
		hub.AddReporter(telemetry.NewStdoutReporter(o.logger))
		ctx, cancel := context.WithCancel(context.Background())
		p.cancelHub, p.hubDone = cancel, make(chan struct{})
		go func() {
			defer close(p.hubDone)
			hub.Run(ctx)
		}()
		notify = hub
	}
	if hub, ok := notify.(*telemetry.Hub); ok {
		p.unregister = hub.Register(pc.name, q.Stats)
	}
	p.ingest = stream.NewIngest(pc.name, q, dec, pc.bufLen, notify)
	return p, nil
}

// Start starts the producer. A source whose stream ended on its own, for
// example after a transport failure, is restarted.
func (p *pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.running {
		if !p.queue.Terminated() {
			return nil
		}
		if err := p.stopLocked(); err != nil {
			return err
		}
	}
	if p.started {
		p.consumer.Reset()
	}
	if err := p.prod.startProducer(); err != nil {
		p.logger.Error("start failed", logging.Err(err))
		return err
	}
	p.running, p.started = true, true
	p.logger.Debug("streaming started")
	return nil
}

func (p *pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *pipeline) stopLocked() error {
	if !p.running {
		return nil
	}
	p.running = false
	p.ingest.Terminate()
	if err := p.prod.stopProducer(); err != nil {
		p.logger.Warn("stop failed", logging.Err(err))
		return err
	}
	p.logger.Debug("streaming stopped")
	return nil
}

func (p *pipeline) Pull(dst []complex64) error { return p.consumer.Pull(dst) }

func (p *pipeline) PullContext(ctx context.Context, dst []complex64) error {
	return p.consumer.PullContext(ctx, dst)
}

func (p *pipeline) Stats() stream.Stats { return p.queue.Stats() }

func (p *pipeline) NumChannels() int { return 1 }

// shutdown stops streaming and releases the telemetry registration. release
// closes the device and runs once.
func (p *pipeline) shutdown(release func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.stopLocked()
	// A source that never ran still wakes consumers blocked on it.
	p.ingest.Terminate()
	if release != nil {
		err = errors.Join(err, release())
	}
	if p.unregister != nil {
		p.unregister()
	}
	if p.cancelHub != nil {
		p.cancelHub()
		<-p.hubDone
	}
	return err
}
