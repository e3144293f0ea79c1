// Package harness runs SIL test scenarios against a simulated application.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: uart_echo
//	description: "Firmware echoes every byte it receives"
//	run_id: optional-fixed-id
//	steps:
//	  - wait: "wait for 10 milliseconds"
//	  - uart_transmit: {uart: UART1, data: "01 02 03"}
//	  - uart_receive:  {uart: UART1, timeout: 1ms, expect: "010203"}
//	  - gpio_set:      {gpio: BUTTON, state: true}
//	  - gpio_state:    {gpio: LED, expect: true}
//	  - gpio_monitor:
//	      gpio: PWM
//	      duration: 10ms
//	      frequency: {min: 990, max: 1010}
//	      duty_cycle: {min: 0.24, max: 0.26}
//	      min_periods: 5
//	  - spi_miso:      {spi: SPI1, data: "cafe"}
//	  - spi_mosi:      {spi: SPI1, expect: "cafe"}
//	  - modbus_write:  {register: 16, value: 42}
//	  - modbus_read:   {register: 16, expect: [42]}
//
// Each step sets exactly one action. Durations accept Go syntax ("1.5ms")
// or a phrase ("wait for 3 seconds"). Byte strings are hex.
//
// # Step Types
//
//   - wait: advances virtual time
//   - uart_transmit, uart_receive: bytes into and out of the firmware's UART
//   - gpio_set, gpio_state: drive an input pin, check an output pin
//   - gpio_monitor: record output edges and check square-wave statistics
//   - spi_miso, spi_mosi: bytes into and out of an SPI master
//   - modbus_write, modbus_read: MODBUS RTU over the bench's MODBUS UART
//
// # Traces
//
// Every executed step appends one trace event stamped with virtual time.
// With a fixed run ID, the same scenario against the same firmware yields a
// byte-identical canonical trace; RunWithGolden compares it with
// testdata/golden/{name}.golden.
package harness
