package wasmengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/DirkWillem/HAL2/internal/sim"
)

func TestCompile_InvalidBytes(t *testing.T) {
	_, err := Compile(context.Background(), []byte("not wasm"), Options{})
	assert.ErrorContains(t, err, "compile engine module")
}

func TestCompile_MissingExports(t *testing.T) {
	_, err := Compile(context.Background(), []byte("\x00asm\x01\x00\x00\x00"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid engine module: missing exports: memory, App_Init, App_DeInit")
	assert.Contains(t, err.Error(), "Sil_Free")
	assert.NotContains(t, err.Error(), "wrong signature")
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	m := newTestModule()
	m.omit["Sil_Free"] = true
	m.sigs["Sched_Now"] = []api.ValueType{i32}

	_, err := Compile(context.Background(), m.encode(), Options{})
	assert.EqualError(t, err, "invalid engine module: missing exports: Sil_Free; wrong signature: Sched_Now")
}

// echoModule is a small firmware stand-in: one GPIO that reports a rising edge
// as soon as its callback is set, one UART that transmits whatever it
// receives, and an App_Init that traps.
func echoModule() *testModule {
	m := newTestModule()
	m.data[16] = []byte("LED\x00")
	m.data[32] = []byte("UART1\x00")
	m.data[48] = []byte("boom")

	m.overrides["App_Init"] = []byte{opUnreachable}
	m.overrides["Sched_Start"] = concat(i32Const(48), i32Const(4), call(callError))
	m.overrides["Sched_Now"] = []byte{opI64Const, 42}

	m.overrides["Gpio_GetGpioCount"] = i32Const(1)
	m.overrides["Gpio_GetGpioName"] = i32Const(16)
	m.overrides["Gpio_SetOutputPinEdgeCallback"] = concat(localGet(0), i32Const(1), call(callGpioEdge))

	m.overrides["Uart_GetUartCount"] = i32Const(1)
	m.overrides["Uart_GetUartName"] = i32Const(32)
	m.overrides["Uart_SetTransmitCallback"] = i32Const(1)
	m.overrides["Uart_SimulateReceive"] = concat(
		localGet(0), localGet(2), localGet(3), call(callUartTransmit),
		i32Const(1),
	)

	m.overrides["Sil_Alloc"] = i32Const(1024)
	return m
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()

	mod, err := Compile(ctx, echoModule().encode(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Close(ctx) })

	e, err := mod.Instantiate(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_Peripherals(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, 1, e.PeripheralCount(sim.KindGPIO))
	assert.Equal(t, "LED", e.PeripheralName(sim.KindGPIO, 0))
	assert.Equal(t, 1, e.PeripheralCount(sim.KindUART))
	assert.Equal(t, "UART1", e.PeripheralName(sim.KindUART, 0))
	assert.Equal(t, 0, e.PeripheralCount(sim.KindSPIMaster))
	assert.Equal(t, sim.Timestamp(42), e.SchedNow())
}

func TestEngine_ErrorsReachCallback(t *testing.T) {
	e := newTestEngine(t)

	var errs []string
	e.SetErrorCallback(func(msg string) { errs = append(errs, msg) })

	e.AppInit()
	e.SchedStart()

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "App_Init trapped")
	assert.Equal(t, "boom", errs[1])

	e.ClearErrorCallback()
	assert.NotPanics(t, e.AppInit)
	assert.Len(t, errs, 2)
}

func TestEngine_GpioEdgeCallback(t *testing.T) {
	e := newTestEngine(t)

	var edges []int32
	e.SetGpioEdgeCallback(0, func(code int32) { edges = append(edges, code) })
	assert.Equal(t, []int32{1}, edges)

	e.ClearGpioEdgeCallback(0)
	assert.Empty(t, e.edges)
}

func TestEngine_UartRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	var sent [][]byte
	require.True(t, e.SetUartTransmitCallback(0, func(data []byte) { sent = append(sent, data) }))

	assert.True(t, e.UartSimulateReceive(0, 5, []byte{0x01, 0x02, 0x03}))
	assert.True(t, e.UartSimulateReceive(0, 6, []byte("hi")))
	assert.Equal(t, [][]byte{{0x01, 0x02, 0x03}, []byte("hi")}, sent)

	require.True(t, e.SetUartTransmitCallback(0, nil))
	assert.True(t, e.UartSimulateReceive(0, 7, []byte{0xff}))
	assert.Len(t, sent, 2)
}

func TestEngine_InstancesAreIndependent(t *testing.T) {
	ctx := context.Background()
	mod, err := Compile(ctx, echoModule().encode(), Options{})
	require.NoError(t, err)
	defer mod.Close(ctx)

	a, err := mod.Instantiate(ctx)
	require.NoError(t, err)
	b, err := mod.Instantiate(ctx)
	require.NoError(t, err)

	var fromA, fromB int
	a.SetUartTransmitCallback(0, func([]byte) { fromA++ })
	b.SetUartTransmitCallback(0, func([]byte) { fromB++ })

	a.UartSimulateReceive(0, 0, []byte{1})
	assert.Equal(t, 1, fromA)
	assert.Equal(t, 0, fromB)

	require.NoError(t, a.Close())
	b.UartSimulateReceive(0, 0, []byte{1})
	assert.Equal(t, 1, fromB)
	require.NoError(t, b.Close())
}
