// Package wasmengine runs a simulation engine compiled to WebAssembly.
//
// The engine module exports the SIL entry-point table under its C names
// (App_Init, Sched_RunUntil, Uart_SimulateReceive, ...) plus Sil_Alloc and
// Sil_Free for byte buffers. Callbacks travel the other way through host
// functions in the "sil" import module. Firmware output written through WASI
// goes to the configured writers.
//
// A Module is compiled once; each Instantiate yields an independent Engine
// with fresh firmware state.
package wasmengine

import (
	"context"
	"io"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// HostModule is the import module name under which callbacks are provided.
const HostModule = "sil"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type signature struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// entryPoints lists every export an engine module must provide.
var entryPoints = []signature{
	{name: "App_Init"},
	{name: "App_DeInit"},
	{name: "Sched_Start"},
	{name: "Sched_Shutdown", params: []api.ValueType{i64}},
	{name: "Sched_RunUntil", params: []api.ValueType{i64}},
	{name: "Sched_RunUntilNextTimePoint", params: []api.ValueType{i64}, results: []api.ValueType{i32}},
	{name: "Sched_Now", results: []api.ValueType{i64}},
	{name: "SetErrorCallback"},
	{name: "ClearErrorCallback"},

	{name: "Gpio_GetGpioCount", results: []api.ValueType{i32}},
	{name: "Gpio_GetGpioName", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Gpio_SetInputPinState", params: []api.ValueType{i32, i32}},
	{name: "Gpio_GetOutputPinState", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Gpio_SetOutputPinEdgeCallback", params: []api.ValueType{i32}},
	{name: "Gpio_ClearOutputPinEdgeCallback", params: []api.ValueType{i32}},

	{name: "Uart_GetUartCount", results: []api.ValueType{i32}},
	{name: "Uart_GetUartName", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Uart_SimulateReceive", params: []api.ValueType{i32, i64, i32, i32}, results: []api.ValueType{i32}},
	{name: "Uart_SetTransmitCallback", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},

	{name: "Spi_GetSpiMasterCount", results: []api.ValueType{i32}},
	{name: "Spi_GetSpiMasterName", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Spi_SimulateSpiMasterMiso", params: []api.ValueType{i32, i64, i32, i32}, results: []api.ValueType{i32}},
	{name: "Spi_SetSpiMasterMisoSizeHintCallback", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Spi_ClearSpiMasterMisoSizeHintCallback", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Spi_SetSpiMasterMosiCallback", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Spi_ClearSpiMasterMosiCallback", params: []api.ValueType{i32}, results: []api.ValueType{i32}},

	{name: "Sil_Alloc", params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	{name: "Sil_Free", params: []api.ValueType{i32}},
}

// Options configures engine instances.
type Options struct {
	// Stdout and Stderr receive firmware output written through WASI.
	// Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Module is a compiled engine module.
type Module struct {
	r        wazero.Runtime
	compiled wazero.CompiledModule
	opts     Options
}

// Compile validates and compiles an engine module. It fails if any entry
// point is missing or has the wrong signature, naming all of them.
func Compile(ctx context.Context, wasm []byte, opts Options) (*Module, error) {
	r := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(err, "instantiate WASI")
	}
	if err := instantiateHost(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(err, "instantiate host module")
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(err, "compile engine module")
	}

	if err := checkExports(compiled.ExportedFunctions(), len(compiled.ExportedMemories()) > 0); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	return &Module{r: r, compiled: compiled, opts: opts}, nil
}

func checkExports(exported map[string]api.FunctionDefinition, hasMemory bool) error {
	var missing, mismatched []string
	if !hasMemory {
		missing = append(missing, "memory")
	}
	for _, ep := range entryPoints {
		def, ok := exported[ep.name]
		if !ok {
			missing = append(missing, ep.name)
			continue
		}
		if !slices.Equal(def.ParamTypes(), ep.params) || !slices.Equal(def.ResultTypes(), ep.results) {
			mismatched = append(mismatched, ep.name)
		}
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing exports: "+strings.Join(missing, ", "))
	}
	if len(mismatched) > 0 {
		parts = append(parts, "wrong signature: "+strings.Join(mismatched, ", "))
	}
	if len(parts) > 0 {
		return errors.Errorf("invalid engine module: %s", strings.Join(parts, "; "))
	}
	return nil
}

// Instantiate creates an engine with fresh state.
func (m *Module) Instantiate(ctx context.Context) (*Engine, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(m.opts.Stdout).
		WithStderr(m.opts.Stderr).
		WithStartFunctions("_initialize")

	e := newEngine()
	e.ctx = context.WithValue(ctx, engineKey{}, e)

	inst, err := m.r.InstantiateModule(e.ctx, m.compiled, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "instantiate engine module")
	}
	e.bind(inst)
	return e, nil
}

// Close releases the runtime and every engine instantiated from it.
func (m *Module) Close(ctx context.Context) error {
	return m.r.Close(ctx)
}
