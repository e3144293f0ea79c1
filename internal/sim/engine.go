package sim

import "fmt"

// Kind identifies a peripheral class exposed by the engine.
type Kind int

const (
	KindGPIO Kind = iota
	KindUART
	KindSPIMaster
)

// String returns the human-readable peripheral class name.
func (k Kind) String() string {
	switch k {
	case KindGPIO:
		return "GPIO"
	case KindUART:
		return "UART"
	case KindSPIMaster:
		return "SPI master"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kinds lists every peripheral class in lookup order.
var Kinds = []Kind{KindGPIO, KindUART, KindSPIMaster}

// Callback signatures accepted by the engine. All of them are invoked
// synchronously on the call stack of the entry point that advanced time.
type (
	ErrorCallback    = func(msg string)
	EdgeCallback     = func(code int32)
	BytesCallback    = func(data []byte)
	SizeHintCallback = func(size uint64)
)

// Engine is the entry-point table of a loaded simulation engine.
//
// Implementations translate each method to exactly one engine call. Byte
// slices passed to callbacks are only valid for the duration of the callback.
// Passing a nil callback to a Set*Callback method clears that slot.
type Engine interface {
	AppInit()
	AppDeinit()

	SchedStart()
	SchedShutdown(timeout Timestamp)
	SchedRunUntil(ts Timestamp)
	SchedRunUntilNextTimePoint(upperBound Timestamp) bool
	SchedNow() Timestamp

	SetErrorCallback(cb ErrorCallback)
	ClearErrorCallback()

	PeripheralCount(kind Kind) int
	PeripheralName(kind Kind, index int) string

	SetGpioInputState(index int, state bool)
	GpioOutputState(index int) bool
	SetGpioEdgeCallback(index int, cb EdgeCallback)
	ClearGpioEdgeCallback(index int)

	UartSimulateReceive(index int, ts Timestamp, data []byte) bool
	SetUartTransmitCallback(index int, cb BytesCallback) bool

	SpiSimulateMiso(index int, ts Timestamp, data []byte) bool
	SetSpiMisoSizeHintCallback(index int, cb SizeHintCallback) bool
	ClearSpiMisoSizeHintCallback(index int) bool
	SetSpiMosiCallback(index int, cb BytesCallback) bool
	ClearSpiMosiCallback(index int) bool
}
