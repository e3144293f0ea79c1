package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a SIL test scenario: an ordered list of steps run against
// one freshly started application.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is an optional fixed run ID for deterministic traces.
	// If empty, the harness generates one.
	RunID string `yaml:"run_id,omitempty"`

	// Steps run in order. Exactly one action is set per step.
	Steps []Step `yaml:"steps"`
}

// Step type constants. They double as the step name in traces.
const (
	StepWait         = "wait"
	StepUARTTransmit = "uart_transmit"
	StepUARTReceive  = "uart_receive"
	StepGPIOSet      = "gpio_set"
	StepGPIOState    = "gpio_state"
	StepGPIOMonitor  = "gpio_monitor"
	StepSPIMISO      = "spi_miso"
	StepSPIMOSI      = "spi_mosi"
	StepModbusWrite  = "modbus_write"
	StepModbusRead   = "modbus_read"
)

// Step is one scenario action.
type Step struct {
	Wait         *Duration         `yaml:"wait,omitempty"`
	UARTTransmit *UARTTransmitStep `yaml:"uart_transmit,omitempty"`
	UARTReceive  *UARTReceiveStep  `yaml:"uart_receive,omitempty"`
	GPIOSet      *GPIOSetStep      `yaml:"gpio_set,omitempty"`
	GPIOState    *GPIOStateStep    `yaml:"gpio_state,omitempty"`
	GPIOMonitor  *GPIOMonitorStep  `yaml:"gpio_monitor,omitempty"`
	SPIMISO      *SPIMISOStep      `yaml:"spi_miso,omitempty"`
	SPIMOSI      *SPIMOSIStep      `yaml:"spi_mosi,omitempty"`
	ModbusWrite  *ModbusWriteStep  `yaml:"modbus_write,omitempty"`
	ModbusRead   *ModbusReadStep   `yaml:"modbus_read,omitempty"`
}

// Type returns the step type constant of the single action that is set.
func (s Step) Type() (string, error) {
	set := make([]string, 0, 1)
	add := func(name string, present bool) {
		if present {
			set = append(set, name)
		}
	}
	add(StepWait, s.Wait != nil)
	add(StepUARTTransmit, s.UARTTransmit != nil)
	add(StepUARTReceive, s.UARTReceive != nil)
	add(StepGPIOSet, s.GPIOSet != nil)
	add(StepGPIOState, s.GPIOState != nil)
	add(StepGPIOMonitor, s.GPIOMonitor != nil)
	add(StepSPIMISO, s.SPIMISO != nil)
	add(StepSPIMOSI, s.SPIMOSI != nil)
	add(StepModbusWrite, s.ModbusWrite != nil)
	add(StepModbusRead, s.ModbusRead != nil)

	switch len(set) {
	case 0:
		return "", fmt.Errorf("no action set")
	case 1:
		return set[0], nil
	}
	return "", fmt.Errorf("more than one action set: %s", strings.Join(set, ", "))
}

// UARTTransmitStep sends bytes to the firmware.
type UARTTransmitStep struct {
	UART string   `yaml:"uart"`
	Data HexBytes `yaml:"data"`
}

// UARTReceiveStep waits for bytes from the firmware.
type UARTReceiveStep struct {
	UART string `yaml:"uart"`

	// Timeout defaults to the bench receive timeout.
	Timeout *Duration `yaml:"timeout,omitempty"`

	// Expect, if set, must equal the received bytes. An empty expectation
	// asserts that nothing arrived.
	Expect *HexBytes `yaml:"expect,omitempty"`
}

// GPIOSetStep drives a GPIO input pin.
type GPIOSetStep struct {
	GPIO  string `yaml:"gpio"`
	State bool   `yaml:"state"`
}

// GPIOStateStep checks the level of a GPIO output pin.
type GPIOStateStep struct {
	GPIO   string `yaml:"gpio"`
	Expect bool   `yaml:"expect"`
}

// GPIOMonitorStep records edges on a GPIO output for a while and checks the
// resulting square-wave statistics.
type GPIOMonitorStep struct {
	GPIO       string   `yaml:"gpio"`
	Duration   Duration `yaml:"duration"`
	Frequency  *Range   `yaml:"frequency,omitempty"`
	DutyCycle  *Range   `yaml:"duty_cycle,omitempty"`
	MinPeriods int      `yaml:"min_periods,omitempty"`
}

// SPIMISOStep queues bytes the firmware will clock in.
type SPIMISOStep struct {
	SPI  string   `yaml:"spi"`
	Data HexBytes `yaml:"data"`
}

// SPIMOSIStep waits for bytes the firmware clocks out.
type SPIMOSIStep struct {
	SPI     string    `yaml:"spi"`
	Timeout *Duration `yaml:"timeout,omitempty"`
	Expect  *HexBytes `yaml:"expect,omitempty"`
}

// ModbusWriteStep writes one holding register.
type ModbusWriteStep struct {
	// Unit overrides the bench MODBUS unit address.
	Unit     *uint8 `yaml:"unit,omitempty"`
	Register uint16 `yaml:"register"`
	Value    uint16 `yaml:"value"`
}

// ModbusReadStep reads holding registers.
type ModbusReadStep struct {
	Unit     *uint8 `yaml:"unit,omitempty"`
	Register uint16 `yaml:"register"`

	// Count defaults to len(Expect), or 1.
	Count  uint16   `yaml:"count,omitempty"`
	Expect []uint16 `yaml:"expect,omitempty"`
}

func (s *ModbusReadStep) count() uint16 {
	if s.Count > 0 {
		return s.Count
	}
	if len(s.Expect) > 0 {
		return uint16(len(s.Expect))
	}
	return 1
}

// Range is an inclusive bound on a measurement. Either end may be omitted.
type Range struct {
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
}

// Contains reports whether v lies within the range.
func (r *Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r *Range) String() string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = strconv.FormatFloat(*r.Min, 'g', -1, 64)
	}
	if r.Max != nil {
		hi = strconv.FormatFloat(*r.Max, 'g', -1, 64)
	}
	return "[" + lo + ", " + hi + "]"
}

// HexBytes is a byte string written as hex in scenario files. Whitespace
// between digits is ignored, so "de ad be ef" and "deadbeef" are equal.
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid hex %q: %w", value.Line, s, err)
	}
	*b = decoded
	return nil
}

// Duration is a span of virtual time. Scenario files accept Go durations
// ("10ms", "1.5s") and phrases in the style of "wait for 10 milliseconds".
type Duration time.Duration

var waitPhrase = regexp.MustCompile(`^(?:I )?wait for (\d+) (seconds?|milliseconds?|microseconds?)$`)

// ParseDuration parses a Go duration or a wait phrase.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := waitPhrase.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		unit := time.Microsecond
		switch strings.TrimSuffix(m[2], "s") {
		case "second":
			unit = time.Second
		case "millisecond":
			unit = time.Millisecond
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// validateStep validates a single step based on its type.
func validateStep(s *Step) error {
	typ, err := s.Type()
	if err != nil {
		return err
	}

	required := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required", typ, field)
		}
		return nil
	}

	switch typ {
	case StepUARTTransmit:
		return required("uart", s.UARTTransmit.UART)
	case StepUARTReceive:
		return required("uart", s.UARTReceive.UART)
	case StepGPIOSet:
		return required("gpio", s.GPIOSet.GPIO)
	case StepGPIOState:
		return required("gpio", s.GPIOState.GPIO)
	case StepGPIOMonitor:
		if err := required("gpio", s.GPIOMonitor.GPIO); err != nil {
			return err
		}
		if s.GPIOMonitor.Duration <= 0 {
			return fmt.Errorf("%s: duration must be positive", typ)
		}
		if s.GPIOMonitor.MinPeriods < 0 {
			return fmt.Errorf("%s: min_periods must not be negative", typ)
		}
	case StepSPIMISO:
		return required("spi", s.SPIMISO.SPI)
	case StepSPIMOSI:
		return required("spi", s.SPIMOSI.SPI)
	case StepModbusRead:
		if n := s.ModbusRead.count(); n > 125 {
			return fmt.Errorf("%s: count %d exceeds 125", typ, n)
		}
		if s.ModbusRead.Count > 0 && len(s.ModbusRead.Expect) > 0 && int(s.ModbusRead.Count) != len(s.ModbusRead.Expect) {
			return fmt.Errorf("%s: count %d does not match %d expected values", typ, s.ModbusRead.Count, len(s.ModbusRead.Expect))
		}
	}
	return nil
}
