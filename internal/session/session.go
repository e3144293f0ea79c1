// Package session is the composition root of a simulation run.
//
// A Session owns the engine handle for its whole lifetime. Open initializes
// the application and starts the scheduler inside one active context; Close
// releases every adapter's callbacks, shuts the scheduler down and
// deinitializes the application inside another.
//
// Peripherals are looked up by name or index. Adapters are cached per index,
// so asking for the same peripheral twice returns the same adapter and its
// callback registrations are shared.
package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/peripheral"
	"github.com/DirkWillem/HAL2/internal/scheduler"
	"github.com/DirkWillem/HAL2/internal/sim"
)

// DefaultShutdownTimeout bounds the scheduler shutdown on Close.
const DefaultShutdownTimeout = time.Millisecond

// Options configures a Session.
type Options struct {
	// ShutdownTimeout is passed to the scheduler shutdown. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Expect lists peripheral names that must exist, per kind. Open fails
	// with a not-found error if one is missing.
	Expect map[sim.Kind][]string
}

// Session is one running simulated application.
type Session struct {
	h     *sim.Handle
	sched *scheduler.Scheduler
	opts  Options

	uarts map[int]*peripheral.UART
	gpios map[int]*peripheral.GPIO
	spis  map[int]*peripheral.SPIMaster

	closed bool
}

// Open takes ownership of e, initializes the application and starts its scheduler.
func Open(e sim.Engine, opts Options) (*Session, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	h := sim.NewHandle(e)
	s := &Session{
		h:     h,
		sched: scheduler.New(h),
		opts:  opts,
		uarts: make(map[int]*peripheral.UART),
		gpios: make(map[int]*peripheral.GPIO),
		spis:  make(map[int]*peripheral.SPIMaster),
	}

	err := h.Do(func(c *sim.Context) error {
		e := c.Engine()
		e.AppInit()
		e.SchedStart()
		return nil
	})
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("start application: %w", err)
	}
	sim.Logger().Debug("session opened")

	if err := s.verify(); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func (s *Session) verify() error {
	for _, kind := range sim.Kinds {
		for _, name := range s.opts.Expect[kind] {
			if _, err := peripheral.Lookup(s.h, kind, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Handle returns the engine handle owned by the session.
func (s *Session) Handle() *sim.Handle { return s.h }

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Now returns the current virtual time.
func (s *Session) Now() (sim.Timestamp, error) { return s.sched.Now() }

// Peripherals returns the names of every peripheral of kind, in index order.
func (s *Session) Peripherals(kind sim.Kind) ([]string, error) {
	return peripheral.Names(s.h, kind)
}

// UART returns the UART with the given name.
func (s *Session) UART(name string) (*peripheral.UART, error) {
	index, err := peripheral.Lookup(s.h, sim.KindUART, name)
	if err != nil {
		return nil, err
	}
	return s.UARTAt(index)
}

// UARTAt returns the UART at index.
func (s *Session) UARTAt(index int) (*peripheral.UART, error) {
	return cached(s.uarts, index, func() (*peripheral.UART, error) {
		return peripheral.NewUART(s.h, index)
	})
}

// GPIO returns the pin with the given name.
func (s *Session) GPIO(name string) (*peripheral.GPIO, error) {
	index, err := peripheral.Lookup(s.h, sim.KindGPIO, name)
	if err != nil {
		return nil, err
	}
	return s.GPIOAt(index)
}

// GPIOAt returns the pin at index.
func (s *Session) GPIOAt(index int) (*peripheral.GPIO, error) {
	return cached(s.gpios, index, func() (*peripheral.GPIO, error) {
		return peripheral.NewGPIO(s.h, index)
	})
}

// SPIMaster returns the SPI master with the given name.
func (s *Session) SPIMaster(name string) (*peripheral.SPIMaster, error) {
	index, err := peripheral.Lookup(s.h, sim.KindSPIMaster, name)
	if err != nil {
		return nil, err
	}
	return s.SPIMasterAt(index)
}

// SPIMasterAt returns the SPI master at index.
func (s *Session) SPIMasterAt(index int) (*peripheral.SPIMaster, error) {
	return cached(s.spis, index, func() (*peripheral.SPIMaster, error) {
		return peripheral.NewSPIMaster(s.h, index)
	})
}

func cached[T any](m map[int]T, index int, create func() (T, error)) (T, error) {
	if a, ok := m[index]; ok {
		return a, nil
	}
	a, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	m[index] = a
	return a, nil
}

type closer interface{ Close() error }

// Close releases every adapter, shuts the scheduler down and deinitializes
// the application. The handle is invalid afterwards. Calling Close again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	closeAll(&errs, s.uarts)
	closeAll(&errs, s.gpios)
	closeAll(&errs, s.spis)

	timeout := sim.Microseconds(s.opts.ShutdownTimeout)
	if err := s.h.Do(func(c *sim.Context) error {
		e := c.Engine()
		e.SchedShutdown(timeout)
		e.AppDeinit()
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("stop application: %w", err))
	}

	if err := s.h.Close(); err != nil {
		errs = append(errs, err)
	}
	sim.Logger().Debug("session closed", zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

func closeAll[T closer](errs *[]error, m map[int]T) {
	for _, index := range slices.Sorted(maps.Keys(m)) {
		if err := m[index].Close(); err != nil {
			*errs = append(*errs, err)
		}
	}
}
