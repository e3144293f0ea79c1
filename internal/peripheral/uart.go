package peripheral

import (
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/scheduler"
	"github.com/DirkWillem/HAL2/internal/sim"
)

// UART is a request/response view over one simulated UART.
//
// Bytes transmitted by the firmware are collected in a receive buffer by a
// callback registered at construction. Receive clears that buffer and polls
// the scheduler until bytes arrive or the timeout elapses.
type UART struct {
	h     *sim.Handle
	sched *scheduler.Scheduler
	index int
	name  string

	rx *sim.Trampoline[[]byte]
	// buf holds bytes transmitted by the firmware since the last Receive.
	buf []byte
}

// NewUART binds the UART at index and registers its transmit callback.
func NewUART(h *sim.Handle, index int) (*UART, error) {
	u := &UART{h: h, sched: scheduler.New(h), index: index}
	u.rx = sim.NewTrampoline(u.onTransmit)

	err := h.Do(func(c *sim.Context) error {
		name, err := resolveName(c, sim.KindUART, index)
		if err != nil {
			return err
		}
		u.name = name
		if !c.Engine().SetUartTransmitCallback(index, u.rx.Call) {
			return sim.NewRejectedError(sim.KindUART, index, "set transmit callback")
		}
		return nil
	})
	if err != nil {
		u.rx.Release()
		return nil, err
	}

	sim.Logger().Debug("uart bound", zap.String("name", u.name), zap.Int("index", index))
	return u, nil
}

// Name returns the engine's name for this UART.
func (u *UART) Name() string { return u.name }

// Index returns the engine index of this UART.
func (u *UART) Index() int { return u.index }

// Transmit sends data to the firmware at the current virtual time.
func (u *UART) Transmit(data []byte) error {
	return u.h.Do(func(c *sim.Context) error {
		e := c.Engine()
		return u.simulateReceive(e, e.SchedNow(), data)
	})
}

// TransmitAt sends data to the firmware at virtual time ts.
func (u *UART) TransmitAt(ts sim.Timestamp, data []byte) error {
	return u.h.Do(func(c *sim.Context) error {
		return u.simulateReceive(c.Engine(), ts, data)
	})
}

func (u *UART) simulateReceive(e sim.Engine, ts sim.Timestamp, data []byte) error {
	if !e.UartSimulateReceive(u.index, ts, data) {
		return sim.NewRejectedError(sim.KindUART, u.index, "simulate receive")
	}
	sim.Logger().Debug("uart transmit",
		zap.String("name", u.name), zap.Stringer("at", ts), zap.Int("bytes", len(data)))
	return nil
}

// Receive returns the bytes the firmware transmits within timeout of virtual
// time. It returns as soon as at least one chunk arrived. An empty result
// means the timeout elapsed.
func (u *UART) Receive(timeout time.Duration) ([]byte, error) {
	u.buf = u.buf[:0]
	if _, err := u.sched.PollUntil(timeout, func() bool { return len(u.buf) > 0 }); err != nil {
		return nil, err
	}
	out := make([]byte, len(u.buf))
	copy(out, u.buf)
	u.buf = u.buf[:0]
	return out, nil
}

// Close unregisters the transmit callback. Safe to call more than once.
func (u *UART) Close() error {
	if u.rx.Released() {
		return nil
	}
	u.rx.Release()
	return u.h.Do(func(c *sim.Context) error {
		c.Engine().SetUartTransmitCallback(u.index, nil)
		return nil
	})
}

func (u *UART) onTransmit(data []byte) {
	u.buf = append(u.buf, data...)
}
