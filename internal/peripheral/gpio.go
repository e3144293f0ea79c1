package peripheral

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/scheduler"
	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/waveform"
)

// GPIO is a view over one simulated pin.
type GPIO struct {
	h     *sim.Handle
	sched *scheduler.Scheduler
	index int
	name  string

	// edge is non-nil while an edge callback is registered.
	edge *sim.Trampoline[int32]
}

// NewGPIO binds the pin at index.
func NewGPIO(h *sim.Handle, index int) (*GPIO, error) {
	g := &GPIO{h: h, sched: scheduler.New(h), index: index}
	err := h.Do(func(c *sim.Context) error {
		name, err := resolveName(c, sim.KindGPIO, index)
		g.name = name
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the engine's name for this pin.
func (g *GPIO) Name() string { return g.name }

// Index returns the engine index of this pin.
func (g *GPIO) Index() int { return g.index }

// State returns the pin's current output level.
func (g *GPIO) State() (bool, error) {
	return sim.Call(g.h, func(c *sim.Context) bool {
		return c.Engine().GpioOutputState(g.index)
	})
}

// SetInput drives the pin's input level.
func (g *GPIO) SetInput(state bool) error {
	return g.h.Do(func(c *sim.Context) error {
		c.Engine().SetGpioInputState(g.index, state)
		return nil
	})
}

// RegisterEdgeCallback installs fn as the pin's edge listener. At most one
// listener may be registered per pin; a second registration fails with a
// duplicate-registration error. Edge codes the engine reports that are
// neither rising nor falling are dropped.
func (g *GPIO) RegisterEdgeCallback(fn func(edge waveform.Edge)) error {
	if g.edge != nil {
		return sim.NewDuplicateRegistrationError(sim.KindGPIO, g.name, g.index)
	}

	tr := sim.NewTrampoline(func(code int32) {
		edge, ok := waveform.EdgeFromCode(code)
		if !ok {
			sim.Logger().Warn("unknown edge code dropped",
				zap.String("gpio", g.name), zap.Int32("code", code))
			return
		}
		fn(edge)
	})

	err := g.h.Do(func(c *sim.Context) error {
		c.Engine().SetGpioEdgeCallback(g.index, tr.Call)
		return nil
	})
	if err != nil {
		tr.Release()
		// The engine may have taken the callback before it failed.
		if clearErr := g.h.Do(func(c *sim.Context) error {
			c.Engine().ClearGpioEdgeCallback(g.index)
			return nil
		}); clearErr != nil {
			return errors.Join(err, clearErr)
		}
		return err
	}

	g.edge = tr
	sim.Logger().Debug("edge callback registered", zap.String("gpio", g.name))
	return nil
}

// ClearEdgeCallback removes the pin's edge listener. Clearing a pin with no
// listener is a no-op. The local registration is dropped even if the engine
// reports an error.
func (g *GPIO) ClearEdgeCallback() error {
	if g.edge == nil {
		return nil
	}
	g.edge.Release()
	g.edge = nil

	return g.h.Do(func(c *sim.Context) error {
		c.Engine().ClearGpioEdgeCallback(g.index)
		return nil
	})
}

// Close clears any registered edge listener.
func (g *GPIO) Close() error {
	return g.ClearEdgeCallback()
}

// EdgeMonitor collects timestamped edges while its session is open.
type EdgeMonitor struct {
	g      *GPIO
	events []waveform.Event
	closed bool
}

// Edges returns a copy of the edges recorded so far.
func (m *EdgeMonitor) Edges() []waveform.Event {
	out := make([]waveform.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *EdgeMonitor) record(edge waveform.Edge) {
	if m.closed {
		return
	}
	// Runs inside the engine's advance; reading the time opens a child scope.
	now, err := sim.Call(m.g.h, func(c *sim.Context) sim.Timestamp {
		return c.Engine().SchedNow()
	})
	if err != nil {
		sim.Logger().Warn("edge dropped: cannot read virtual time",
			zap.String("gpio", m.g.name), zap.Error(err))
		return
	}
	m.events = append(m.events, waveform.Event{At: now, Edge: edge})
}

// WithEdgeMonitor runs fn while every edge on the pin is recorded, and returns
// the recorded edges in order. The edge callback is cleared when fn returns,
// even if fn fails or panics. Edges recorded before a failure are still returned.
func (g *GPIO) WithEdgeMonitor(fn func(m *EdgeMonitor) error) ([]waveform.Event, error) {
	m := &EdgeMonitor{g: g}
	if err := g.RegisterEdgeCallback(m.record); err != nil {
		return nil, err
	}

	var bodyErr error
	func() {
		defer func() {
			m.closed = true
			if err := g.ClearEdgeCallback(); err != nil {
				bodyErr = errors.Join(bodyErr, err)
			}
		}()
		bodyErr = fn(m)
	}()

	return m.events, bodyErr
}

// MonitorEdges records the pin's edges while the scheduler advances by d.
func (g *GPIO) MonitorEdges(d time.Duration) ([]waveform.Event, error) {
	return g.WithEdgeMonitor(func(*EdgeMonitor) error {
		return g.sched.AdvanceBy(d)
	})
}
