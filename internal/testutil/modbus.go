package testutil

import (
	"github.com/DirkWillem/HAL2/internal/modbus"
	"github.com/DirkWillem/HAL2/internal/sim"
)

// ModbusFirmware returns UART firmware that answers MODBUS RTU requests from
// slave after latency microseconds. Responses are transmitted in two chunks,
// header first, so clients must reassemble frames.
func ModbusFirmware(slave *modbus.Slave, latency sim.Timestamp) UARTFirmware {
	return func(e *FakeEngine, index int, data []byte) {
		resp := slave.Handle(data)
		if len(resp) == 0 {
			return
		}
		split := min(3, len(resp))
		e.After(latency, func() { e.UARTTransmit(index, resp[:split]) })
		e.After(latency+latency/2+1, func() { e.UARTTransmit(index, resp[split:]) })
	}
}
