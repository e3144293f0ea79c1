package peripheral

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/scheduler"
	"github.com/DirkWillem/HAL2/internal/sim"
)

// SPIMaster is a view over one simulated SPI master.
//
// Both engine callbacks are registered at construction. MOSI bytes are
// forwarded to the handler set with SetMosiCallback when there is one and
// buffered otherwise. Setting a handler discards bytes buffered before it.
type SPIMaster struct {
	h     *sim.Handle
	sched *scheduler.Scheduler
	index int
	name  string

	hint *sim.Trampoline[uint64]
	mosi *sim.Trampoline[[]byte]

	onHint func(size uint64)
	onMosi func(data []byte)
	buf    []byte
}

// NewSPIMaster binds the SPI master at index and registers its callbacks.
func NewSPIMaster(h *sim.Handle, index int) (*SPIMaster, error) {
	s := &SPIMaster{h: h, sched: scheduler.New(h), index: index}
	s.hint = sim.NewTrampoline(s.dispatchHint)
	s.mosi = sim.NewTrampoline(s.dispatchMosi)

	err := h.Do(func(c *sim.Context) error {
		name, err := resolveName(c, sim.KindSPIMaster, index)
		if err != nil {
			return err
		}
		s.name = name

		e := c.Engine()
		if !e.SetSpiMisoSizeHintCallback(index, s.hint.Call) {
			return sim.NewRejectedError(sim.KindSPIMaster, index, "set MISO size hint callback")
		}
		if !e.SetSpiMosiCallback(index, s.mosi.Call) {
			e.ClearSpiMisoSizeHintCallback(index)
			return sim.NewRejectedError(sim.KindSPIMaster, index, "set MOSI callback")
		}
		return nil
	})
	if err != nil {
		s.hint.Release()
		s.mosi.Release()
		return nil, err
	}

	sim.Logger().Debug("spi master bound", zap.String("name", s.name), zap.Int("index", index))
	return s, nil
}

// Name returns the engine's name for this SPI master.
func (s *SPIMaster) Name() string { return s.name }

// Index returns the engine index of this SPI master.
func (s *SPIMaster) Index() int { return s.index }

// SetMisoSizeHintCallback sets the handler told how many bytes the engine is
// about to clock in. nil removes it.
func (s *SPIMaster) SetMisoSizeHintCallback(fn func(size uint64)) {
	s.onHint = fn
}

// SetMosiCallback switches MOSI delivery to fn and discards buffered bytes.
// nil switches back to buffering.
func (s *SPIMaster) SetMosiCallback(fn func(data []byte)) {
	if fn != nil && len(s.buf) > 0 {
		sim.Logger().Debug("buffered MOSI bytes discarded",
			zap.String("spi", s.name), zap.Int("bytes", len(s.buf)))
		s.buf = nil
	}
	s.onMosi = fn
}

// SimulateMISO injects data on MISO at the current virtual time.
func (s *SPIMaster) SimulateMISO(data []byte) error {
	return s.h.Do(func(c *sim.Context) error {
		e := c.Engine()
		return s.simulateMiso(e, e.SchedNow(), data)
	})
}

// SimulateMISOAt injects data on MISO at virtual time ts.
func (s *SPIMaster) SimulateMISOAt(ts sim.Timestamp, data []byte) error {
	return s.h.Do(func(c *sim.Context) error {
		return s.simulateMiso(c.Engine(), ts, data)
	})
}

func (s *SPIMaster) simulateMiso(e sim.Engine, ts sim.Timestamp, data []byte) error {
	if !e.SpiSimulateMiso(s.index, ts, data) {
		return sim.NewRejectedError(sim.KindSPIMaster, s.index, "simulate MISO")
	}
	return nil
}

// DrainMOSI returns and clears the buffered MOSI bytes.
func (s *SPIMaster) DrainMOSI() []byte {
	out := s.buf
	s.buf = nil
	if out == nil {
		return []byte{}
	}
	return out
}

// ReceiveMOSI waits up to timeout of virtual time for MOSI bytes and drains
// the buffer. Bytes already buffered are returned without advancing. While a
// MOSI handler is set nothing is buffered and the call times out empty.
func (s *SPIMaster) ReceiveMOSI(timeout time.Duration) ([]byte, error) {
	if _, err := s.sched.PollUntil(timeout, func() bool { return len(s.buf) > 0 }); err != nil {
		return nil, err
	}
	return s.DrainMOSI(), nil
}

// Close unregisters both callbacks. Safe to call more than once.
func (s *SPIMaster) Close() error {
	if s.mosi.Released() {
		return nil
	}
	s.hint.Release()
	s.mosi.Release()
	s.onHint = nil
	s.onMosi = nil

	return s.h.Do(func(c *sim.Context) error {
		e := c.Engine()
		var errs []error
		if !e.ClearSpiMisoSizeHintCallback(s.index) {
			errs = append(errs, sim.NewRejectedError(sim.KindSPIMaster, s.index, "clear MISO size hint callback"))
		}
		if !e.ClearSpiMosiCallback(s.index) {
			errs = append(errs, sim.NewRejectedError(sim.KindSPIMaster, s.index, "clear MOSI callback"))
		}
		return errors.Join(errs...)
	})
}

func (s *SPIMaster) dispatchHint(size uint64) {
	if s.onHint != nil {
		s.onHint(size)
	}
}

func (s *SPIMaster) dispatchMosi(data []byte) {
	if s.onMosi != nil {
		s.onMosi(data)
		return
	}
	s.buf = append(s.buf, data...)
}
