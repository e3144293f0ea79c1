// Package modbus implements a MODBUS RTU client that talks to simulated
// firmware over a UART adapter.
//
// Framing, CRC and PDU handling come from github.com/goburrow/modbus. This
// package supplies the transporter that moves frames over the UART in virtual
// time and reassembles responses that arrive in several chunks.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	goburrow "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// Function codes.
const (
	FuncReadHoldingRegisters byte = goburrow.FuncCodeReadHoldingRegisters
	FuncWriteSingleRegister  byte = goburrow.FuncCodeWriteSingleRegister

	exceptionBit byte = 0x80
)

// DefaultTimeout bounds the wait for each response chunk.
const DefaultTimeout = time.Second

var (
	// ErrTimeout is returned when no complete response arrived in time.
	ErrTimeout = errors.New("modbus: response timeout")

	// ErrInvalidResponse is returned for malformed or mismatched responses.
	ErrInvalidResponse = errors.New("modbus: invalid response")
)

// ExceptionError is an exception response from the slave.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return (&goburrow.ModbusError{FunctionCode: e.Function, ExceptionCode: e.Code}).Error()
}

// Transport is the byte channel a Client talks over. *peripheral.UART implements it.
type Transport interface {
	Transmit(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// Client issues MODBUS RTU requests. Requests are strictly sequential.
type Client struct {
	rtu *goburrow.RTUClientHandler
	tr  *transporter
	mb  goburrow.Client
}

// NewClient returns a client over t. A zero timeout means DefaultTimeout.
func NewClient(t Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// The handler is used only as the RTU packager; its serial port is never opened.
	rtu := goburrow.NewRTUClientHandler("")
	tr := &transporter{t: t, timeout: timeout}
	return &Client{rtu: rtu, tr: tr, mb: goburrow.NewClient2(rtu, tr)}
}

// ReadHoldingRegisters reads count registers starting at addr.
func (c *Client) ReadHoldingRegisters(unit byte, addr, count uint16) ([]uint16, error) {
	if count == 0 || count > 125 {
		return nil, fmt.Errorf("modbus: register count %d out of range 1..125", count)
	}

	c.begin(unit)
	data, err := c.mb.ReadHoldingRegisters(addr, count)
	if err != nil {
		return nil, c.fail(FuncReadHoldingRegisters, err)
	}
	if len(data) != 2*int(count) {
		return nil, fmt.Errorf("%w: expected %d registers, got %d data bytes", ErrInvalidResponse, count, len(data))
	}

	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return regs, nil
}

// WriteRegister writes value to the register at addr.
func (c *Client) WriteRegister(unit byte, addr, value uint16) error {
	c.begin(unit)
	if _, err := c.mb.WriteSingleRegister(addr, value); err != nil {
		return c.fail(FuncWriteSingleRegister, err)
	}
	return nil
}

func (c *Client) begin(unit byte) {
	c.rtu.SlaveId = unit
	c.tr.err = nil
}

// fail maps an error from the protocol client onto this package's errors.
func (c *Client) fail(fn byte, err error) error {
	if c.tr.err != nil {
		return c.tr.err
	}
	var me *goburrow.ModbusError
	if errors.As(err, &me) && me.FunctionCode == fn|exceptionBit {
		return &ExceptionError{Function: fn, Code: me.ExceptionCode}
	}
	return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
}

// transporter sends request frames over a Transport and collects the response
// frame, which the firmware may deliver in several chunks.
type transporter struct {
	t       Transport
	timeout time.Duration

	// err is the failure of the last Send, kept so that Client can return it
	// unchanged.
	err error
}

// Send implements goburrow.Transporter.
func (tr *transporter) Send(req []byte) ([]byte, error) {
	resp, err := tr.roundTrip(req)
	tr.err = err
	return resp, err
}

func (tr *transporter) roundTrip(req []byte) ([]byte, error) {
	sim.Logger().Debug("modbus request", zap.Uint8("unit", req[0]), zap.Uint8("function", req[1]), zap.Binary("frame", req))

	if err := tr.t.Transmit(req); err != nil {
		return nil, fmt.Errorf("modbus: send request: %w", err)
	}

	var buf []byte
	for {
		want, known := expectedLength(buf)
		if known && len(buf) >= want {
			return buf[:want], nil
		}
		chunk, err := tr.t.Receive(tr.timeout)
		if err != nil {
			return nil, fmt.Errorf("modbus: receive response: %w", err)
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("%w after %d bytes", ErrTimeout, len(buf))
		}
		buf = append(buf, chunk...)
	}
}

// expectedLength returns the length of the response frame starting in buf
// once enough of its header is known.
func expectedLength(buf []byte) (int, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	fn := buf[1]
	switch {
	case fn&exceptionBit != 0:
		return 5, true
	case fn == FuncWriteSingleRegister:
		return 8, true
	case fn == FuncReadHoldingRegisters:
		if len(buf) < 3 {
			return 0, false
		}
		return 5 + int(buf[2]), true
	}
	// Unknown function: take what arrived in the first chunk.
	return len(buf), true
}

// encodeFrame builds an RTU frame for unit: address, function code, data and CRC.
func encodeFrame(unit, fn byte, data []byte) ([]byte, error) {
	p := goburrow.NewRTUClientHandler("")
	p.SlaveId = unit
	return p.Encode(&goburrow.ProtocolDataUnit{FunctionCode: fn, Data: data})
}

// decodeFrame checks the CRC of an RTU frame and splits off its PDU.
func decodeFrame(frame []byte) (*goburrow.ProtocolDataUnit, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrInvalidResponse, len(frame))
	}
	return goburrow.NewRTUClientHandler("").Decode(frame)
}
