package modbus

import (
	"encoding/binary"

	goburrow "github.com/goburrow/modbus"
)

// Exception codes returned by Slave.
const (
	ExceptionIllegalFunction    byte = goburrow.ExceptionCodeIllegalFunction
	ExceptionIllegalDataAddress byte = goburrow.ExceptionCodeIllegalDataAddress
	ExceptionIllegalDataValue   byte = goburrow.ExceptionCodeIllegalDataValue
)

// Slave is an in-memory register bank answering RTU requests for one unit.
// It backs scripted firmware in simulations that have no MODBUS stack of their own.
type Slave struct {
	Unit      byte
	Registers map[uint16]uint16
}

// NewSlave creates a slave with the given initial holding registers.
func NewSlave(unit byte, regs map[uint16]uint16) *Slave {
	if regs == nil {
		regs = make(map[uint16]uint16)
	}
	return &Slave{Unit: unit, Registers: regs}
}

// Handle answers one request frame. It returns nil for frames that must not
// be answered: bad CRC or a different unit.
func (s *Slave) Handle(req []byte) []byte {
	pdu, err := decodeFrame(req)
	if err != nil || req[0] != s.Unit {
		return nil
	}
	fn, body := pdu.FunctionCode, pdu.Data

	switch fn {
	case FuncReadHoldingRegisters:
		if len(body) != 4 {
			return s.exception(fn, ExceptionIllegalDataValue)
		}
		addr := binary.BigEndian.Uint16(body)
		count := binary.BigEndian.Uint16(body[2:])
		if count == 0 || count > 125 {
			return s.exception(fn, ExceptionIllegalDataValue)
		}
		data := []byte{byte(2 * count)}
		for i := uint16(0); i < count; i++ {
			v, ok := s.Registers[addr+i]
			if !ok {
				return s.exception(fn, ExceptionIllegalDataAddress)
			}
			data = binary.BigEndian.AppendUint16(data, v)
		}
		return s.frame(fn, data)

	case FuncWriteSingleRegister:
		if len(body) != 4 {
			return s.exception(fn, ExceptionIllegalDataValue)
		}
		addr := binary.BigEndian.Uint16(body)
		if _, ok := s.Registers[addr]; !ok {
			return s.exception(fn, ExceptionIllegalDataAddress)
		}
		s.Registers[addr] = binary.BigEndian.Uint16(body[2:])
		return s.frame(fn, body)
	}
	return s.exception(fn, ExceptionIllegalFunction)
}

func (s *Slave) exception(fn, code byte) []byte {
	return s.frame(fn|exceptionBit, []byte{code})
}

// frame encodes a response. Responses never exceed the RTU frame limit, so
// encoding cannot fail.
func (s *Slave) frame(fn byte, data []byte) []byte {
	f, err := encodeFrame(s.Unit, fn, data)
	if err != nil {
		panic(err)
	}
	return f
}
