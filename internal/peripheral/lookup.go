// Package peripheral provides synchronous adapters over the engine's UART,
// SPI master and GPIO models.
//
// Each adapter registers its engine callbacks once, inside one active
// context, when it is constructed. Every later operation opens its own
// short-lived context. Byte- and edge-level callbacks fire synchronously while
// the scheduler advances, so receive operations are expressed as polls over
// virtual time rather than waits.
//
// Adapters hold a reference to the owning handle and must be closed before it.
package peripheral

import (
	"github.com/DirkWillem/HAL2/internal/sim"
)

// Lookup resolves a peripheral name to its index. Names are matched exactly
// and case-sensitively against the names reported by the engine.
func Lookup(h *sim.Handle, kind sim.Kind, name string) (int, error) {
	index := -1
	err := h.Do(func(c *sim.Context) error {
		e := c.Engine()
		for i, n := 0, e.PeripheralCount(kind); i < n; i++ {
			if e.PeripheralName(kind, i) == name {
				index = i
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	if index < 0 {
		return -1, sim.NewNotFoundError(kind, name)
	}
	return index, nil
}

// Names returns the names of every peripheral of kind, in index order.
func Names(h *sim.Handle, kind sim.Kind) ([]string, error) {
	return sim.Call(h, func(c *sim.Context) []string {
		e := c.Engine()
		n := e.PeripheralCount(kind)
		names := make([]string, n)
		for i := range names {
			names[i] = e.PeripheralName(kind, i)
		}
		return names
	})
}

// resolveName validates index and returns the peripheral's name. It must be
// called inside an open context.
func resolveName(c *sim.Context, kind sim.Kind, index int) (string, error) {
	e := c.Engine()
	if index < 0 || index >= e.PeripheralCount(kind) {
		return "", sim.NewIndexNotFoundError(kind, index)
	}
	return e.PeripheralName(kind, index), nil
}
