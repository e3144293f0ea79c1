package wasmengine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// maxNameLength bounds peripheral names read from guest memory.
const maxNameLength = 256

var (
	countExports = map[sim.Kind]string{
		sim.KindGPIO:      "Gpio_GetGpioCount",
		sim.KindUART:      "Uart_GetUartCount",
		sim.KindSPIMaster: "Spi_GetSpiMasterCount",
	}
	nameExports = map[sim.Kind]string{
		sim.KindGPIO:      "Gpio_GetGpioName",
		sim.KindUART:      "Uart_GetUartName",
		sim.KindSPIMaster: "Spi_GetSpiMasterName",
	}
)

// Engine is one instantiated engine module. It implements sim.Engine.
//
// A trap in any entry point is reported through the error callback, so it
// surfaces at the exit of the enclosing context like any other engine error.
type Engine struct {
	ctx  context.Context
	inst api.Module

	fns   map[string]api.Function
	depth int

	errCb   sim.ErrorCallback
	edges   map[int]sim.EdgeCallback
	uartTx  map[int]sim.BytesCallback
	spiHint map[int]sim.SizeHintCallback
	spiMosi map[int]sim.BytesCallback
}

func newEngine() *Engine {
	return &Engine{
		fns:     make(map[string]api.Function, len(entryPoints)),
		edges:   make(map[int]sim.EdgeCallback),
		uartTx:  make(map[int]sim.BytesCallback),
		spiHint: make(map[int]sim.SizeHintCallback),
		spiMosi: make(map[int]sim.BytesCallback),
	}
}

func (e *Engine) bind(inst api.Module) {
	e.inst = inst
	for _, ep := range entryPoints {
		e.fns[ep.name] = inst.ExportedFunction(ep.name)
	}
}

// Close releases the instance.
func (e *Engine) Close() error {
	return e.inst.Close(e.ctx)
}

// call invokes an export. Calls made from inside a callback use a fresh
// function handle: an api.Function must not be re-entered.
func (e *Engine) call(name string, params ...uint64) []uint64 {
	fn := e.fns[name]
	if e.depth > 0 {
		fn = e.inst.ExportedFunction(name)
	}

	e.depth++
	results, err := fn.Call(e.ctx, params...)
	e.depth--

	if err != nil {
		e.report(errors.Wrapf(err, "%s trapped", name).Error())
		return nil
	}
	return results
}

func (e *Engine) callBool(name string, params ...uint64) bool {
	res := e.call(name, params...)
	return len(res) > 0 && api.DecodeI32(res[0]) != 0
}

func (e *Engine) report(msg string) {
	if e.errCb == nil {
		sim.Logger().Warn("engine error with no listener", zap.String("message", msg))
		return
	}
	e.errCb(msg)
}

// alloc copies data into guest memory and returns its address. free must be
// called with the address once the engine no longer needs it.
func (e *Engine) alloc(data []byte) (uint32, bool) {
	res := e.call("Sil_Alloc", api.EncodeI32(int32(len(data))))
	if len(res) == 0 {
		return 0, false
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 && len(data) > 0 {
		e.report("Sil_Alloc returned null")
		return 0, false
	}
	if !e.inst.Memory().Write(ptr, data) {
		e.report(errors.Errorf("Sil_Alloc returned out-of-bounds buffer %#x", ptr).Error())
		e.free(ptr)
		return 0, false
	}
	return ptr, true
}

func (e *Engine) free(ptr uint32) {
	e.call("Sil_Free", api.EncodeU32(ptr))
}

func encodeBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (e *Engine) AppInit() {
	e.call("App_Init")
}

func (e *Engine) AppDeinit() {
	e.call("App_DeInit")
}

func (e *Engine) SchedStart() {
	e.call("Sched_Start")
}

func (e *Engine) SchedShutdown(timeout sim.Timestamp) {
	e.call("Sched_Shutdown", uint64(timeout))
}

func (e *Engine) SchedRunUntil(ts sim.Timestamp) {
	e.call("Sched_RunUntil", uint64(ts))
}

func (e *Engine) SchedRunUntilNextTimePoint(upperBound sim.Timestamp) bool {
	return e.callBool("Sched_RunUntilNextTimePoint", uint64(upperBound))
}

func (e *Engine) SchedNow() sim.Timestamp {
	res := e.call("Sched_Now")
	if len(res) == 0 {
		return 0
	}
	return sim.Timestamp(res[0])
}

func (e *Engine) SetErrorCallback(cb sim.ErrorCallback) {
	if cb == nil {
		e.ClearErrorCallback()
		return
	}
	e.errCb = cb
	e.call("SetErrorCallback")
}

func (e *Engine) ClearErrorCallback() {
	e.call("ClearErrorCallback")
	e.errCb = nil
}

func (e *Engine) PeripheralCount(kind sim.Kind) int {
	name, ok := countExports[kind]
	if !ok {
		return 0
	}
	res := e.call(name)
	if len(res) == 0 {
		return 0
	}
	return int(api.DecodeI32(res[0]))
}

func (e *Engine) PeripheralName(kind sim.Kind, index int) string {
	export, ok := nameExports[kind]
	if !ok {
		return ""
	}
	res := e.call(export, api.EncodeI32(int32(index)))
	if len(res) == 0 {
		return ""
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return ""
	}
	name, ok := readCString(e.inst.Memory(), ptr, maxNameLength)
	if !ok {
		e.report(errors.Errorf("%s name at %#x out of bounds", kind, ptr).Error())
		return ""
	}
	return name
}

func (e *Engine) SetGpioInputState(index int, state bool) {
	e.call("Gpio_SetInputPinState", api.EncodeI32(int32(index)), encodeBool(state))
}

func (e *Engine) GpioOutputState(index int) bool {
	return e.callBool("Gpio_GetOutputPinState", api.EncodeI32(int32(index)))
}

func (e *Engine) SetGpioEdgeCallback(index int, cb sim.EdgeCallback) {
	if cb == nil {
		e.ClearGpioEdgeCallback(index)
		return
	}
	e.edges[index] = cb
	e.call("Gpio_SetOutputPinEdgeCallback", api.EncodeI32(int32(index)))
}

func (e *Engine) ClearGpioEdgeCallback(index int) {
	e.call("Gpio_ClearOutputPinEdgeCallback", api.EncodeI32(int32(index)))
	delete(e.edges, index)
}

func (e *Engine) UartSimulateReceive(index int, ts sim.Timestamp, data []byte) bool {
	return e.inject("Uart_SimulateReceive", index, ts, data)
}

func (e *Engine) SetUartTransmitCallback(index int, cb sim.BytesCallback) bool {
	ok := e.callBool("Uart_SetTransmitCallback", api.EncodeI32(int32(index)), encodeBool(cb != nil))
	if !ok {
		return false
	}
	if cb == nil {
		delete(e.uartTx, index)
	} else {
		e.uartTx[index] = cb
	}
	return true
}

func (e *Engine) SpiSimulateMiso(index int, ts sim.Timestamp, data []byte) bool {
	return e.inject("Spi_SimulateSpiMasterMiso", index, ts, data)
}

func (e *Engine) SetSpiMisoSizeHintCallback(index int, cb sim.SizeHintCallback) bool {
	if cb == nil {
		return e.ClearSpiMisoSizeHintCallback(index)
	}
	if !e.callBool("Spi_SetSpiMasterMisoSizeHintCallback", api.EncodeI32(int32(index))) {
		return false
	}
	e.spiHint[index] = cb
	return true
}

func (e *Engine) ClearSpiMisoSizeHintCallback(index int) bool {
	delete(e.spiHint, index)
	return e.callBool("Spi_ClearSpiMasterMisoSizeHintCallback", api.EncodeI32(int32(index)))
}

func (e *Engine) SetSpiMosiCallback(index int, cb sim.BytesCallback) bool {
	if cb == nil {
		return e.ClearSpiMosiCallback(index)
	}
	if !e.callBool("Spi_SetSpiMasterMosiCallback", api.EncodeI32(int32(index))) {
		return false
	}
	e.spiMosi[index] = cb
	return true
}

func (e *Engine) ClearSpiMosiCallback(index int) bool {
	delete(e.spiMosi, index)
	return e.callBool("Spi_ClearSpiMasterMosiCallback", api.EncodeI32(int32(index)))
}

// inject passes data to a simulate-receive style export. The engine copies
// the buffer before returning, so it is freed right after the call.
func (e *Engine) inject(export string, index int, ts sim.Timestamp, data []byte) bool {
	ptr, ok := e.alloc(data)
	if !ok {
		return false
	}
	defer e.free(ptr)
	return e.callBool(export,
		api.EncodeI32(int32(index)),
		uint64(ts),
		api.EncodeU32(ptr),
		api.EncodeU32(uint32(len(data))),
	)
}

var _ sim.Engine = (*Engine)(nil)
