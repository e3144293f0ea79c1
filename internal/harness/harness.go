package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/config"
	"github.com/DirkWillem/HAL2/internal/modbus"
	"github.com/DirkWillem/HAL2/internal/session"
	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/trace"
	"github.com/DirkWillem/HAL2/internal/waveform"
)

// DefaultReceiveTimeout bounds receive steps that name no timeout.
const DefaultReceiveTimeout = 100 * time.Millisecond

// EngineFactory creates a fresh engine instance for one scenario run.
type EngineFactory func() (sim.Engine, error)

// Options configures a scenario run.
type Options struct {
	// Engine creates the engine the scenario runs against. Required.
	Engine EngineFactory

	// Session configures the session wrapping the engine.
	Session session.Options

	// ReceiveTimeout is the default timeout of uart_receive and spi_mosi steps.
	ReceiveTimeout time.Duration

	// Modbus binds modbus_* steps to a UART. Nil disables them.
	Modbus *config.Modbus

	// RunIDs generates the run ID when the scenario has none.
	// Defaults to trace.UUIDv7Generator.
	RunIDs trace.RunIDGenerator
}

// OptionsFromBench derives run options from a bench configuration.
func OptionsFromBench(b *config.Bench, engine EngineFactory) Options {
	return Options{
		Engine: engine,
		Session: session.Options{
			ShutdownTimeout: b.ShutdownTimeout,
			Expect:          b.Peripherals,
		},
		ReceiveTimeout: b.ReceiveTimeout,
		Modbus:         b.Modbus,
	}
}

// Harness executes the steps of one scenario against an open session.
type Harness struct {
	sess   *session.Session
	opts   Options
	rec    trace.Recorder
	client *modbus.Client
	at     sim.Timestamp
}

// mismatchError is a failed expectation. The scenario continues after it.
type mismatchError struct {
	msg string
}

func (e *mismatchError) Error() string { return e.msg }

func mismatch(format string, args ...any) error {
	return &mismatchError{msg: fmt.Sprintf(format, args...)}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh engine from opts.Engine, wrapped in its
// own session. Every executed step appends one trace event stamped with the
// virtual time at which the step finished.
//
// Failed expectations and MODBUS protocol errors fail the scenario but the
// remaining steps still run. A failure of the simulation itself (an engine
// error, an unknown peripheral, a closed handle) fails the scenario and skips
// the remaining steps. The returned error is reserved for failures to set the
// run up at all.
func Run(scenario *Scenario, opts Options) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if opts.Engine == nil {
		return nil, errors.New("no engine factory configured")
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}

	runID := scenario.RunID
	if runID == "" {
		gen := opts.RunIDs
		if gen == nil {
			gen = trace.UUIDv7Generator{}
		}
		runID = gen.Generate()
	}

	eng, err := opts.Engine()
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	sess, err := session.Open(eng, opts.Session)
	if err != nil {
		_ = closeEngine(eng)
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	logger := sim.Logger().With(zap.String("scenario", scenario.Name), zap.String("run_id", runID))
	logger.Info("scenario started", zap.Int("steps", len(scenario.Steps)))

	h := &Harness{sess: sess, opts: opts}
	result := NewResult()
	h.executeSteps(logger, scenario.Steps, result)

	if err := sess.Close(); err != nil {
		result.AddError(fmt.Sprintf("close session: %v", err))
	}
	if err := closeEngine(eng); err != nil {
		result.AddError(fmt.Sprintf("close engine: %v", err))
	}

	result.Trace = trace.Trace{
		RunID:    runID,
		Scenario: scenario.Name,
		Passed:   result.Pass,
		Events:   h.rec.Events(),
	}
	logger.Info("scenario finished", zap.Bool("pass", result.Pass), zap.Int("errors", len(result.Errors)))
	return result, nil
}

// closeEngine releases engines that hold resources, such as a wasm instance.
func closeEngine(eng sim.Engine) error {
	if c, ok := eng.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// executeSteps runs steps in order, recording one event per executed step.
func (h *Harness) executeSteps(logger *zap.Logger, steps []Step, result *Result) {
	for i, step := range steps {
		typ, err := step.Type()
		if err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i+1, err))
			return
		}

		target, fields, err := h.execute(typ, &step)
		if now, nowErr := h.sess.Now(); nowErr == nil {
			h.at = now
		}
		h.rec.Record(h.at, typ, target, fields, err)

		if err == nil {
			logger.Debug("step completed", zap.Int("step", i+1), zap.String("type", typ), zap.Stringer("at", h.at))
			continue
		}

		result.AddError(fmt.Sprintf("step %d (%s): %v", i+1, typ, err))
		var simErr *sim.Error
		if errors.As(err, &simErr) {
			logger.Warn("aborting scenario", zap.Int("step", i+1), zap.String("type", typ), zap.Error(err))
			return
		}
		logger.Info("step failed", zap.Int("step", i+1), zap.String("type", typ), zap.Error(err))
	}
}

func (h *Harness) execute(typ string, s *Step) (string, trace.Fields, error) {
	switch typ {
	case StepWait:
		return h.wait(time.Duration(*s.Wait))
	case StepUARTTransmit:
		return h.uartTransmit(s.UARTTransmit)
	case StepUARTReceive:
		return h.uartReceive(s.UARTReceive)
	case StepGPIOSet:
		return h.gpioSet(s.GPIOSet)
	case StepGPIOState:
		return h.gpioState(s.GPIOState)
	case StepGPIOMonitor:
		return h.gpioMonitor(s.GPIOMonitor)
	case StepSPIMISO:
		return h.spiMISO(s.SPIMISO)
	case StepSPIMOSI:
		return h.spiMOSI(s.SPIMOSI)
	case StepModbusWrite:
		return h.modbusWrite(s.ModbusWrite)
	case StepModbusRead:
		return h.modbusRead(s.ModbusRead)
	}
	return "", nil, fmt.Errorf("unknown step type %q", typ)
}

func (h *Harness) wait(d time.Duration) (string, trace.Fields, error) {
	fields := trace.Fields{"duration_us": int64(sim.Microseconds(d))}
	return "", fields, h.sess.Scheduler().AdvanceBy(d)
}

func (h *Harness) uartTransmit(s *UARTTransmitStep) (string, trace.Fields, error) {
	fields := trace.Fields{"data": trace.Hex(s.Data)}
	u, err := h.sess.UART(s.UART)
	if err != nil {
		return s.UART, fields, err
	}
	return s.UART, fields, u.Transmit(s.Data)
}

func (h *Harness) uartReceive(s *UARTReceiveStep) (string, trace.Fields, error) {
	timeout := h.timeout(s.Timeout)
	fields := trace.Fields{"timeout_us": int64(sim.Microseconds(timeout))}
	u, err := h.sess.UART(s.UART)
	if err != nil {
		return s.UART, fields, err
	}
	got, err := u.Receive(timeout)
	if err != nil {
		return s.UART, fields, err
	}
	fields["data"] = trace.Hex(got)
	return s.UART, fields, expectBytes(got, s.Expect)
}

func (h *Harness) gpioSet(s *GPIOSetStep) (string, trace.Fields, error) {
	fields := trace.Fields{"state": s.State}
	g, err := h.sess.GPIO(s.GPIO)
	if err != nil {
		return s.GPIO, fields, err
	}
	return s.GPIO, fields, g.SetInput(s.State)
}

func (h *Harness) gpioState(s *GPIOStateStep) (string, trace.Fields, error) {
	g, err := h.sess.GPIO(s.GPIO)
	if err != nil {
		return s.GPIO, nil, err
	}
	state, err := g.State()
	if err != nil {
		return s.GPIO, nil, err
	}
	fields := trace.Fields{"state": state}
	if state != s.Expect {
		return s.GPIO, fields, mismatch("output is %t, expected %t", state, s.Expect)
	}
	return s.GPIO, fields, nil
}

func (h *Harness) gpioMonitor(s *GPIOMonitorStep) (string, trace.Fields, error) {
	d := time.Duration(s.Duration)
	fields := trace.Fields{"duration_us": int64(sim.Microseconds(d))}
	g, err := h.sess.GPIO(s.GPIO)
	if err != nil {
		return s.GPIO, fields, err
	}
	edges, err := g.MonitorEdges(d)
	fields["edges"] = int64(len(edges))
	if err != nil {
		return s.GPIO, fields, err
	}

	wave, ok := waveform.Analyze(edges)
	if !ok {
		if s.Frequency != nil || s.DutyCycle != nil || s.MinPeriods > 0 {
			return s.GPIO, fields, mismatch("%d edges recorded, at least 3 are needed to measure a square wave", len(edges))
		}
		return s.GPIO, fields, nil
	}
	fields["frequency"] = trace.Float(wave.MeanFrequency)
	fields["duty_cycle"] = trace.Float(wave.MeanDutyCycle)
	fields["periods"] = int64(wave.FullPeriods)

	var failed []string
	if s.Frequency != nil && !s.Frequency.Contains(wave.MeanFrequency) {
		failed = append(failed, fmt.Sprintf("frequency %s Hz outside %s", trace.Float(wave.MeanFrequency), s.Frequency))
	}
	if s.DutyCycle != nil && !s.DutyCycle.Contains(wave.MeanDutyCycle) {
		failed = append(failed, fmt.Sprintf("duty cycle %s outside %s", trace.Float(wave.MeanDutyCycle), s.DutyCycle))
	}
	if wave.FullPeriods < s.MinPeriods {
		failed = append(failed, fmt.Sprintf("%d full periods, expected at least %d", wave.FullPeriods, s.MinPeriods))
	}
	if len(failed) > 0 {
		return s.GPIO, fields, mismatch("%s", strings.Join(failed, "; "))
	}
	return s.GPIO, fields, nil
}

func (h *Harness) spiMISO(s *SPIMISOStep) (string, trace.Fields, error) {
	fields := trace.Fields{"data": trace.Hex(s.Data)}
	m, err := h.sess.SPIMaster(s.SPI)
	if err != nil {
		return s.SPI, fields, err
	}
	return s.SPI, fields, m.SimulateMISO(s.Data)
}

func (h *Harness) spiMOSI(s *SPIMOSIStep) (string, trace.Fields, error) {
	timeout := h.timeout(s.Timeout)
	fields := trace.Fields{"timeout_us": int64(sim.Microseconds(timeout))}
	m, err := h.sess.SPIMaster(s.SPI)
	if err != nil {
		return s.SPI, fields, err
	}
	got, err := m.ReceiveMOSI(timeout)
	if err != nil {
		return s.SPI, fields, err
	}
	fields["data"] = trace.Hex(got)
	return s.SPI, fields, expectBytes(got, s.Expect)
}

func (h *Harness) modbusWrite(s *ModbusWriteStep) (string, trace.Fields, error) {
	client, unit, err := h.modbus(s.Unit)
	fields := trace.Fields{
		"unit":     int64(unit),
		"register": int64(s.Register),
		"value":    int64(s.Value),
	}
	if err != nil {
		return h.modbusTarget(), fields, err
	}
	return h.modbusTarget(), fields, client.WriteRegister(unit, s.Register, s.Value)
}

func (h *Harness) modbusRead(s *ModbusReadStep) (string, trace.Fields, error) {
	count := s.count()
	client, unit, err := h.modbus(s.Unit)
	fields := trace.Fields{
		"unit":     int64(unit),
		"register": int64(s.Register),
		"count":    int64(count),
	}
	if err != nil {
		return h.modbusTarget(), fields, err
	}

	regs, err := client.ReadHoldingRegisters(unit, s.Register, count)
	if err != nil {
		return h.modbusTarget(), fields, err
	}
	values := make([]any, len(regs))
	for i, r := range regs {
		values[i] = int64(r)
	}
	fields["values"] = values

	if len(s.Expect) > 0 && !slices.Equal(regs, s.Expect) {
		return h.modbusTarget(), fields, mismatch("registers %v, expected %v", regs, s.Expect)
	}
	return h.modbusTarget(), fields, nil
}

// modbus returns the MODBUS client, creating it on first use, and the unit
// address for a step.
func (h *Harness) modbus(override *uint8) (*modbus.Client, byte, error) {
	if h.opts.Modbus == nil {
		var unit byte
		if override != nil {
			unit = *override
		}
		return nil, unit, errors.New("no modbus binding configured")
	}

	unit := h.opts.Modbus.Unit
	if override != nil {
		unit = *override
	}
	if h.client == nil {
		u, err := h.sess.UART(h.opts.Modbus.UART)
		if err != nil {
			return nil, unit, err
		}
		h.client = modbus.NewClient(u, h.opts.Modbus.Timeout)
	}
	return h.client, unit, nil
}

func (h *Harness) modbusTarget() string {
	if h.opts.Modbus == nil {
		return ""
	}
	return h.opts.Modbus.UART
}

func (h *Harness) timeout(d *Duration) time.Duration {
	if d == nil {
		return h.opts.ReceiveTimeout
	}
	return time.Duration(*d)
}

func expectBytes(got []byte, want *HexBytes) error {
	if want == nil || bytes.Equal(got, *want) {
		return nil
	}
	if len(got) == 0 {
		return mismatch("nothing received, expected %s", trace.Hex(*want))
	}
	return mismatch("received %s, expected %s", trace.Hex(got), trace.Hex(*want))
}
