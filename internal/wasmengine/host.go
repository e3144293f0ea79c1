package wasmengine

import (
	"bytes"
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// engineKey carries the *Engine a guest call was made for.
type engineKey struct{}

func fromContext(ctx context.Context) *Engine {
	e, _ := ctx.Value(engineKey{}).(*Engine)
	return e
}

// instantiateHost registers the "sil" callback imports. Each host function
// looks up the engine from the calling context and dispatches to the Go
// callback registered for the slot, if any.
func instantiateHost(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, n uint32) {
			e := fromContext(ctx)
			if e == nil {
				return
			}
			msg, ok := read(m, ptr, n)
			if !ok {
				msg = []byte("error message out of bounds")
			}
			e.report(string(msg))
		}).
		Export("error").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, index, edge int32) {
			if e := fromContext(ctx); e != nil {
				if cb := e.edges[int(index)]; cb != nil {
					cb(edge)
				}
			}
		}).
		Export("gpio_edge").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, index int32, ptr, n uint32) {
			e := fromContext(ctx)
			if e == nil {
				return
			}
			if cb := e.uartTx[int(index)]; cb != nil {
				if data, ok := read(m, ptr, n); ok {
					cb(data)
				} else {
					e.report("uart_transmit buffer out of bounds")
				}
			}
		}).
		Export("uart_transmit").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, index int32, size uint64) {
			if e := fromContext(ctx); e != nil {
				if cb := e.spiHint[int(index)]; cb != nil {
					cb(size)
				}
			}
		}).
		Export("spi_miso_size_hint").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, index int32, ptr, n uint32) {
			e := fromContext(ctx)
			if e == nil {
				return
			}
			if cb := e.spiMosi[int(index)]; cb != nil {
				if data, ok := read(m, ptr, n); ok {
					cb(data)
				} else {
					e.report("spi_mosi buffer out of bounds")
				}
			}
		}).
		Export("spi_mosi").
		Instantiate(ctx)
	return err
}

// read copies n bytes of guest memory. The copy stays valid if a callback
// re-enters the guest and memory grows.
func read(m api.Module, ptr, n uint32) ([]byte, bool) {
	mem := m.Memory()
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(ptr, n)
	if !ok {
		return nil, false
	}
	return bytes.Clone(view), true
}

// readCString reads a NUL-terminated string of at most limit bytes.
func readCString(mem api.Memory, ptr uint32, limit int) (string, bool) {
	if mem == nil {
		return "", false
	}
	var buf []byte
	for i := range uint32(limit) {
		b, ok := mem.ReadByte(ptr + i)
		if !ok {
			return "", false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
	sim.Logger().Warn("peripheral name not terminated", zap.Uint32("ptr", ptr), zap.Int("limit", limit))
	return string(buf), true
}
