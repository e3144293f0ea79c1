// Package scheduler advances the engine's virtual time.
//
// Every operation opens its own active context on the handle, so an engine
// error raised while time advances is returned by that operation.
package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// Scheduler drives the virtual scheduler of one engine.
type Scheduler struct {
	h *sim.Handle
}

// New returns a scheduler bound to h.
func New(h *sim.Handle) *Scheduler {
	return &Scheduler{h: h}
}

// Now returns the current virtual time.
func (s *Scheduler) Now() (sim.Timestamp, error) {
	return sim.Call(s.h, func(c *sim.Context) sim.Timestamp {
		return c.Engine().SchedNow()
	})
}

// AdvanceTo runs the engine until virtual time reaches ts. Whether ts must lie
// in the future is decided by the engine.
func (s *Scheduler) AdvanceTo(ts sim.Timestamp) error {
	return s.h.Do(func(c *sim.Context) error {
		sim.Logger().Debug("advance", zap.Stringer("to", ts))
		c.Engine().SchedRunUntil(ts)
		return nil
	})
}

// AdvanceToNextEvent runs the engine until its next scheduled event or
// deadline, whichever comes first. Reports whether an event was processed.
func (s *Scheduler) AdvanceToNextEvent(deadline sim.Timestamp) (bool, error) {
	return sim.Call(s.h, func(c *sim.Context) bool {
		return c.Engine().SchedRunUntilNextTimePoint(deadline)
	})
}

// AdvanceBy runs the engine for d of virtual time.
func (s *Scheduler) AdvanceBy(d time.Duration) error {
	return s.h.Do(func(c *sim.Context) error {
		e := c.Engine()
		ts := e.SchedNow().Add(d)
		sim.Logger().Debug("advance", zap.Duration("by", d), zap.Stringer("to", ts))
		e.SchedRunUntil(ts)
		return nil
	})
}

// PollUntil advances event by event until done reports true or timeout of
// virtual time has elapsed. It never waits in wall-clock time.
//
// done is evaluated before the first advance and after every processed
// event. Returns the final value of done.
func (s *Scheduler) PollUntil(timeout time.Duration, done func() bool) (bool, error) {
	now, err := s.Now()
	if err != nil {
		return false, err
	}
	deadline := now.Add(timeout)

	for !done() {
		processed, err := s.AdvanceToNextEvent(deadline)
		if err != nil {
			return false, err
		}
		if !processed {
			return done(), nil
		}
	}
	return true, nil
}
