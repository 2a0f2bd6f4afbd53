package events

import (
	"context"
	"sync"
	"time"
)

// Default limits for a Channel.
const (
	DefaultCapacity = 1024
	MaxOutputChunk  = 64 * 1024
)

// Stats reports channel counters.
type Stats struct {
	Emitted   uint64
	Delivered uint64
	Coalesced uint64
	Dropped   uint64
	Queued    int
}

// Channel is a bounded, coalescing queue of events.
type Channel struct {
	mu       sync.Mutex
	queue    []Event
	outputs  int
	capacity int
	closed   bool
	notify   chan struct{}

	seq   uint64
	stats Stats

	now func() time.Time
}

// NewChannel creates a channel holding at most capacity output events.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Emit enqueues ev. It never blocks. It reports false if the channel is closed.
func (c *Channel) Emit(ev Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	c.stats.Emitted++
	if ev.Kind == KindOutput && c.coalesceLocked(ev) {
		c.mu.Unlock()
		c.signal()
		return true
	}

	if ev.Kind == KindOutput {
		if c.outputs >= c.capacity {
			c.dropOldestOutputLocked()
		}
		c.outputs++
	}

	c.seq++
	ev.Seq = c.seq
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	c.signal()
	return true
}

// coalesceLocked appends ev's text to the tail event when both are output on
// the same stream.
func (c *Channel) coalesceLocked(ev Event) bool {
	if len(c.queue) == 0 || ev.Output == nil {
		return false
	}
	tail := &c.queue[len(c.queue)-1]
	if tail.Kind != KindOutput || tail.Output == nil || tail.Output.Stream != ev.Output.Stream {
		return false
	}
	if len(tail.Output.Text)+len(ev.Output.Text) > MaxOutputChunk {
		return false
	}
	merged := *tail.Output
	merged.Text += ev.Output.Text
	tail.Output = &merged
	c.stats.Coalesced++
	return true
}

func (c *Channel) dropOldestOutputLocked() {
	for i, queued := range c.queue {
		if queued.Kind != KindOutput {
			continue
		}
		copy(c.queue[i:], c.queue[i+1:])
		c.queue[len(c.queue)-1] = Event{}
		c.queue = c.queue[:len(c.queue)-1]
		c.outputs--
		c.stats.Dropped++
		return
	}
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// TryNext removes and returns the oldest event without blocking.
func (c *Channel) TryNext() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Channel) popLocked() (Event, bool) {
	if len(c.queue) == 0 {
		return Event{}, false
	}
	ev := c.queue[0]
	c.queue[0] = Event{}
	c.queue = c.queue[1:]
	if ev.Kind == KindOutput {
		c.outputs--
	}
	c.stats.Delivered++
	return ev, true
}

// Next blocks until an event is available, ctx is done or the channel is
// closed and drained.
func (c *Channel) Next(ctx context.Context) (Event, error) {
	for {
		c.mu.Lock()
		ev, ok := c.popLocked()
		closed := c.closed
		remaining := len(c.queue)
		c.mu.Unlock()

		if ok {
			if remaining > 0 {
				c.signal()
			}
			return ev, nil
		}
		if closed {
			c.signal()
			return Event{}, ErrChannelClosed
		}

		select {
		case <-c.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Queued = len(c.queue)
	return s
}

// Close stops accepting events. Queued events can still be read.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}
