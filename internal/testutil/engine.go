package testutil

import (
	"fmt"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// Raw edge codes reported by the engine's GPIO edge callback.
const (
	EdgeCodeRising  int32 = 0
	EdgeCodeFalling int32 = 1
)

// UARTFirmware models the firmware side of a UART: it is invoked when the
// engine delivers bytes injected with Uart_SimulateReceive.
type UARTFirmware func(e *FakeEngine, index int, data []byte)

// SPIFirmware models the firmware side of an SPI master: it is invoked when
// MISO bytes injected with Spi_SimulateSpiMasterMiso are clocked in.
type SPIFirmware func(e *FakeEngine, index int, miso []byte)

// FakeGPIO is one simulated pin.
type FakeGPIO struct {
	Name    string
	Output  bool
	Input   bool
	OnInput func(e *FakeEngine, state bool)

	edgeCb sim.EdgeCallback
}

// FakeUART is one simulated UART.
type FakeUART struct {
	Name     string
	Firmware UARTFirmware

	// Received lists every chunk delivered to the firmware, in order.
	Received [][]byte

	txCb sim.BytesCallback
}

// FakeSPI is one simulated SPI master.
type FakeSPI struct {
	Name     string
	Firmware SPIFirmware

	hintCb sim.SizeHintCallback
	mosiCb sim.BytesCallback
}

// FakeEngine is a deterministic, pure-Go implementation of sim.Engine.
//
// It runs a discrete-event scheduler over a VirtualClock. Firmware behaviour
// is scripted per peripheral; injections at the current time are delivered
// synchronously, later ones are queued. Invalid indices and timestamps in the
// past are reported through the error callback, as a real engine would.
type FakeEngine struct {
	clock *VirtualClock

	errCb sim.ErrorCallback

	gpios []*FakeGPIO
	uarts []*FakeUART
	spis  []*FakeSPI

	onStart []func(e *FakeEngine)

	initialized bool
	started     bool

	calls   []string
	unheard []string
}

// Option configures a FakeEngine.
type Option func(e *FakeEngine)

// NewFakeEngine creates a fake engine with the given peripherals.
func NewFakeEngine(opts ...Option) *FakeEngine {
	e := &FakeEngine{clock: NewVirtualClock()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithGPIO adds a pin.
func WithGPIO(name string) Option {
	return func(e *FakeEngine) {
		e.gpios = append(e.gpios, &FakeGPIO{Name: name})
	}
}

// WithInputFollower adds a pin whose output mirrors its input level after latency microseconds.
func WithInputFollower(name string, latency sim.Timestamp) Option {
	return func(e *FakeEngine) {
		index := len(e.gpios)
		e.gpios = append(e.gpios, &FakeGPIO{
			Name: name,
			OnInput: func(e *FakeEngine, state bool) {
				e.After(latency, func() { e.DriveOutput(index, state) })
			},
		})
	}
}

// WithSquareWave adds a pin that toggles once the scheduler starts: high for
// high microseconds, then low for the remainder of period.
func WithSquareWave(name string, period, high sim.Timestamp) Option {
	return func(e *FakeEngine) {
		index := len(e.gpios)
		e.gpios = append(e.gpios, &FakeGPIO{Name: name})
		e.onStart = append(e.onStart, func(e *FakeEngine) {
			var rise func()
			rise = func() {
				e.DriveOutput(index, true)
				e.After(high, func() { e.DriveOutput(index, false) })
				e.After(period, rise)
			}
			rise()
		})
	}
}

// WithUART adds a UART driven by fw (may be nil).
func WithUART(name string, fw UARTFirmware) Option {
	return func(e *FakeEngine) {
		e.uarts = append(e.uarts, &FakeUART{Name: name, Firmware: fw})
	}
}

// WithSPIMaster adds an SPI master driven by fw (may be nil).
func WithSPIMaster(name string, fw SPIFirmware) Option {
	return func(e *FakeEngine) {
		e.spis = append(e.spis, &FakeSPI{Name: name, Firmware: fw})
	}
}

// UARTEcho returns firmware that transmits every received chunk back after latency microseconds.
func UARTEcho(latency sim.Timestamp) UARTFirmware {
	return func(e *FakeEngine, index int, data []byte) {
		e.After(latency, func() { e.UARTTransmit(index, data) })
	}
}

// SPILoopback returns firmware that announces the transfer size and clocks
// the MISO bytes straight back out on MOSI.
func SPILoopback() SPIFirmware {
	return func(e *FakeEngine, index int, miso []byte) {
		e.SPISizeHint(index, uint64(len(miso)))
		e.SPITransfer(index, miso)
	}
}

// Firmware-facing helpers.

// Now returns the current virtual time.
func (e *FakeEngine) Now() sim.Timestamp {
	return e.clock.Now()
}

// After schedules fn delay microseconds from now.
func (e *FakeEngine) After(delay sim.Timestamp, fn func()) {
	e.clock.Schedule(e.clock.Now()+delay, fn)
}

// At schedules fn at ts.
func (e *FakeEngine) At(ts sim.Timestamp, fn func()) {
	e.clock.Schedule(ts, fn)
}

// ReportError invokes the registered error callback. Messages reported with no
// callback registered are kept and returned by Unheard.
func (e *FakeEngine) ReportError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.errCb == nil {
		e.unheard = append(e.unheard, msg)
		return
	}
	e.errCb(msg)
}

// DriveOutput sets a pin's output level and fires its edge callback on change.
func (e *FakeEngine) DriveOutput(index int, level bool) {
	g := e.gpios[index]
	if g.Output == level {
		return
	}
	g.Output = level
	if g.edgeCb == nil {
		return
	}
	if level {
		g.edgeCb(EdgeCodeRising)
	} else {
		g.edgeCb(EdgeCodeFalling)
	}
}

// RawEdge fires the edge callback of a pin with an arbitrary code.
func (e *FakeEngine) RawEdge(index int, code int32) {
	if cb := e.gpios[index].edgeCb; cb != nil {
		cb(code)
	}
}

// UARTTransmit delivers bytes sent by the firmware to the transmit callback.
func (e *FakeEngine) UARTTransmit(index int, data []byte) {
	if cb := e.uarts[index].txCb; cb != nil {
		cb(append([]byte(nil), data...))
	}
}

// SPISizeHint announces an upcoming MISO transfer.
func (e *FakeEngine) SPISizeHint(index int, size uint64) {
	if cb := e.spis[index].hintCb; cb != nil {
		cb(size)
	}
}

// SPITransfer delivers bytes clocked out on MOSI.
func (e *FakeEngine) SPITransfer(index int, data []byte) {
	if cb := e.spis[index].mosiCb; cb != nil {
		cb(append([]byte(nil), data...))
	}
}

// Inspection helpers for tests.

// Calls returns the entry points invoked so far, in order, excluding error
// callback bookkeeping.
func (e *FakeEngine) Calls() []string { return e.calls }

// Unheard returns error messages reported while no callback was registered.
func (e *FakeEngine) Unheard() []string { return e.unheard }

// ErrorCallbackRegistered reports whether an error listener is installed.
func (e *FakeEngine) ErrorCallbackRegistered() bool { return e.errCb != nil }

// Initialized reports whether App_Init ran without a matching App_DeInit.
func (e *FakeEngine) Initialized() bool { return e.initialized }

// Started reports whether the scheduler is running.
func (e *FakeEngine) Started() bool { return e.started }

// GPIO returns the pin at index.
func (e *FakeEngine) GPIO(index int) *FakeGPIO { return e.gpios[index] }

// UART returns the UART at index.
func (e *FakeEngine) UART(index int) *FakeUART { return e.uarts[index] }

// HasEdgeCallback reports whether an edge callback is registered on a pin.
func (e *FakeEngine) HasEdgeCallback(index int) bool { return e.gpios[index].edgeCb != nil }

// EdgeCallback returns the edge callback currently registered on a pin.
func (e *FakeEngine) EdgeCallback(index int) sim.EdgeCallback { return e.gpios[index].edgeCb }

// HasMosiCallback reports whether a MOSI callback is registered on an SPI master.
func (e *FakeEngine) HasMosiCallback(index int) bool { return e.spis[index].mosiCb != nil }

// HasTransmitCallback reports whether a transmit callback is registered on a UART.
func (e *FakeEngine) HasTransmitCallback(index int) bool { return e.uarts[index].txCb != nil }

// sim.Engine implementation.

func (e *FakeEngine) AppInit() {
	e.calls = append(e.calls, "App_Init")
	if e.initialized {
		e.ReportError("application already initialized")
		return
	}
	e.initialized = true
}

func (e *FakeEngine) AppDeinit() {
	e.calls = append(e.calls, "App_DeInit")
	e.initialized = false
}

func (e *FakeEngine) SchedStart() {
	e.calls = append(e.calls, "Sched_Start")
	if !e.initialized {
		e.ReportError("scheduler started before application init")
		return
	}
	e.started = true
	for _, fn := range e.onStart {
		fn(e)
	}
}

func (e *FakeEngine) SchedShutdown(timeout sim.Timestamp) {
	e.calls = append(e.calls, fmt.Sprintf("Sched_Shutdown(%d)", uint64(timeout)))
	e.started = false
	now := e.clock.Now()
	e.clock = NewVirtualClock()
	e.clock.now = now
}

func (e *FakeEngine) SchedRunUntil(ts sim.Timestamp) {
	if !e.clock.RunUntil(ts) {
		e.ReportError("cannot run until %d: virtual time is already %d", uint64(ts), uint64(e.clock.Now()))
	}
}

func (e *FakeEngine) SchedRunUntilNextTimePoint(upperBound sim.Timestamp) bool {
	return e.clock.RunNext(upperBound)
}

func (e *FakeEngine) SchedNow() sim.Timestamp {
	return e.clock.Now()
}

func (e *FakeEngine) SetErrorCallback(cb sim.ErrorCallback) {
	e.errCb = cb
}

func (e *FakeEngine) ClearErrorCallback() {
	e.errCb = nil
}

func (e *FakeEngine) PeripheralCount(kind sim.Kind) int {
	switch kind {
	case sim.KindGPIO:
		return len(e.gpios)
	case sim.KindUART:
		return len(e.uarts)
	case sim.KindSPIMaster:
		return len(e.spis)
	}
	return 0
}

func (e *FakeEngine) PeripheralName(kind sim.Kind, index int) string {
	if !e.checkIndex(kind, index) {
		return ""
	}
	switch kind {
	case sim.KindGPIO:
		return e.gpios[index].Name
	case sim.KindUART:
		return e.uarts[index].Name
	default:
		return e.spis[index].Name
	}
}

func (e *FakeEngine) SetGpioInputState(index int, state bool) {
	if !e.checkIndex(sim.KindGPIO, index) {
		return
	}
	g := e.gpios[index]
	g.Input = state
	if g.OnInput != nil {
		g.OnInput(e, state)
	}
}

func (e *FakeEngine) GpioOutputState(index int) bool {
	if !e.checkIndex(sim.KindGPIO, index) {
		return false
	}
	return e.gpios[index].Output
}

func (e *FakeEngine) SetGpioEdgeCallback(index int, cb sim.EdgeCallback) {
	if e.checkIndex(sim.KindGPIO, index) {
		e.gpios[index].edgeCb = cb
	}
}

func (e *FakeEngine) ClearGpioEdgeCallback(index int) {
	if e.checkIndex(sim.KindGPIO, index) {
		e.gpios[index].edgeCb = nil
	}
}

func (e *FakeEngine) UartSimulateReceive(index int, ts sim.Timestamp, data []byte) bool {
	if !e.checkIndex(sim.KindUART, index) || !e.checkFuture(ts) {
		return false
	}
	u := e.uarts[index]
	chunk := append([]byte(nil), data...)
	e.deliver(ts, func() {
		u.Received = append(u.Received, chunk)
		if u.Firmware != nil {
			u.Firmware(e, index, chunk)
		}
	})
	return true
}

func (e *FakeEngine) SetUartTransmitCallback(index int, cb sim.BytesCallback) bool {
	if !e.checkIndex(sim.KindUART, index) {
		return false
	}
	e.uarts[index].txCb = cb
	return true
}

func (e *FakeEngine) SpiSimulateMiso(index int, ts sim.Timestamp, data []byte) bool {
	if !e.checkIndex(sim.KindSPIMaster, index) || !e.checkFuture(ts) {
		return false
	}
	s := e.spis[index]
	chunk := append([]byte(nil), data...)
	e.deliver(ts, func() {
		if s.Firmware != nil {
			s.Firmware(e, index, chunk)
		}
	})
	return true
}

func (e *FakeEngine) SetSpiMisoSizeHintCallback(index int, cb sim.SizeHintCallback) bool {
	if !e.checkIndex(sim.KindSPIMaster, index) {
		return false
	}
	e.spis[index].hintCb = cb
	return true
}

func (e *FakeEngine) ClearSpiMisoSizeHintCallback(index int) bool {
	return e.SetSpiMisoSizeHintCallback(index, nil)
}

func (e *FakeEngine) SetSpiMosiCallback(index int, cb sim.BytesCallback) bool {
	if !e.checkIndex(sim.KindSPIMaster, index) {
		return false
	}
	e.spis[index].mosiCb = cb
	return true
}

func (e *FakeEngine) ClearSpiMosiCallback(index int) bool {
	return e.SetSpiMosiCallback(index, nil)
}

func (e *FakeEngine) deliver(ts sim.Timestamp, fn func()) {
	if ts <= e.clock.Now() {
		fn()
		return
	}
	e.clock.Schedule(ts, fn)
}

func (e *FakeEngine) checkIndex(kind sim.Kind, index int) bool {
	if index < 0 || index >= e.PeripheralCount(kind) {
		e.ReportError("%s index %d out of range", kind, index)
		return false
	}
	return true
}

func (e *FakeEngine) checkFuture(ts sim.Timestamp) bool {
	if ts < e.clock.Now() {
		e.ReportError("timestamp %d lies in the past (now %d)", uint64(ts), uint64(e.clock.Now()))
		return false
	}
	return true
}

var _ sim.Engine = (*FakeEngine)(nil)
