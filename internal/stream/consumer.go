package stream

import (
	"context"
	"sync"
)

// Consumer is the pull side of a Queue. The first pull after construction or
// Reset waits until prime samples are queued, which absorbs transport jitter
// before the consumer starts pacing.
type Consumer struct {
	queue *Queue
	prime int

	mu     sync.Mutex
	primed bool
}

func NewConsumer(q *Queue, prime int) *Consumer {
	return &Consumer{queue: q, prime: prime}
}

// Pull fills dst exactly or returns io.EOF when the stream has ended.
func (c *Consumer) Pull(dst []complex64) error {
	return c.PullContext(context.Background(), dst)
}

// PullContext is Pull bounded by ctx.
func (c *Consumer) PullContext(ctx context.Context, dst []complex64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.primed && c.prime > 0 {
		if err := c.queue.WaitFill(ctx, c.prime); err != nil {
			return err
		}
	}
	c.primed = true
	return c.queue.PopExactContext(ctx, dst)
}

// Reset re-arms priming for a restarted stream and clears the queue.
func (c *Consumer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue.Reset()
	c.primed = false
}

func (c *Consumer) Queue() *Queue { return c.queue }
