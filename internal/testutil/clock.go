package testutil

import (
	"container/heap"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// VirtualClock is the fake engine's discrete-event clock.
//
// It holds the current virtual time and a queue of pending events ordered by
// timestamp, then by scheduling order. Time only moves forward.
type VirtualClock struct {
	now   sim.Timestamp
	seq   uint64
	queue eventQueue
}

// NewVirtualClock creates a clock at virtual time 0 with no pending events.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() sim.Timestamp {
	return c.now
}

// Schedule queues fn to run at ts. Timestamps in the past are clamped to now.
func (c *VirtualClock) Schedule(ts sim.Timestamp, fn func()) {
	if ts < c.now {
		ts = c.now
	}
	c.seq++
	heap.Push(&c.queue, &event{at: ts, seq: c.seq, fn: fn})
}

// Pending returns the number of queued events.
func (c *VirtualClock) Pending() int {
	return c.queue.Len()
}

// Next returns the timestamp of the earliest queued event.
func (c *VirtualClock) Next() (sim.Timestamp, bool) {
	if c.queue.Len() == 0 {
		return 0, false
	}
	return c.queue[0].at, true
}

// RunUntil processes every event due at or before ts and leaves the clock at ts.
// Returns false without doing anything when ts lies in the past.
func (c *VirtualClock) RunUntil(ts sim.Timestamp) bool {
	if ts < c.now {
		return false
	}
	for c.queue.Len() > 0 && c.queue[0].at <= ts {
		c.pop()
	}
	c.now = ts
	return true
}

// RunNext processes all events at the earliest pending time point if that
// point is not after upperBound. Otherwise the clock moves to upperBound.
// Returns whether any event was processed.
func (c *VirtualClock) RunNext(upperBound sim.Timestamp) bool {
	next, ok := c.Next()
	if !ok || next > upperBound {
		if upperBound > c.now {
			c.now = upperBound
		}
		return false
	}
	for c.queue.Len() > 0 && c.queue[0].at == next {
		c.pop()
	}
	return true
}

// Reset drops all pending events and rewinds to 0.
func (c *VirtualClock) Reset() {
	c.now = 0
	c.seq = 0
	c.queue = nil
}

func (c *VirtualClock) pop() {
	ev := heap.Pop(&c.queue).(*event)
	if ev.at > c.now {
		c.now = ev.at
	}
	ev.fn()
}

type event struct {
	at  sim.Timestamp
	seq uint64
	fn  func()
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}
