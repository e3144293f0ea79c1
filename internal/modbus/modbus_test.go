package modbus_test

import (
	"errors"
	"testing"
	"time"

	goburrow "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DirkWillem/HAL2/internal/modbus"
	"github.com/DirkWillem/HAL2/internal/peripheral"
	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/testutil"
)

// frame encodes an RTU frame the way a real slave would.
func frame(t *testing.T, unit, fn byte, data []byte) []byte {
	t.Helper()
	p := goburrow.NewRTUClientHandler("")
	p.SlaveId = unit
	adu, err := p.Encode(&goburrow.ProtocolDataUnit{FunctionCode: fn, Data: data})
	require.NoError(t, err)
	return adu
}

func TestClient_RequestFrame(t *testing.T) {
	// Read 10 holding registers from unit 1 at 0x0000.
	tr := &scriptedTransport{}
	c := modbus.NewClient(tr, 0)

	_, err := c.ReadHoldingRegisters(1, 0, 10)

	assert.ErrorIs(t, err, modbus.ErrTimeout)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0a, 0xc5, 0xcd}, tr.sent[0])
}

func newClient(t *testing.T, slave *modbus.Slave) (*modbus.Client, *testutil.FakeEngine) {
	t.Helper()
	e := testutil.NewFakeEngine(testutil.WithUART("UART1", testutil.ModbusFirmware(slave, 200)))
	u, err := peripheral.NewUART(sim.NewHandle(e), 0)
	require.NoError(t, err)
	return modbus.NewClient(u, 10*time.Millisecond), e
}

func TestClient_ReadHoldingRegisters(t *testing.T) {
	slave := modbus.NewSlave(1, map[uint16]uint16{10: 0x1234, 11: 0xabcd, 12: 7})
	c, e := newClient(t, slave)

	regs, err := c.ReadHoldingRegisters(1, 10, 3)

	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0xabcd, 7}, regs)
	assert.Greater(t, e.Now(), sim.Timestamp(200), "response spans two UART chunks")
}

func TestClient_WriteThenRead(t *testing.T) {
	slave := modbus.NewSlave(5, map[uint16]uint16{0: 0})
	c, _ := newClient(t, slave)

	require.NoError(t, c.WriteRegister(5, 0, 4242))
	assert.Equal(t, uint16(4242), slave.Registers[0])

	regs, err := c.ReadHoldingRegisters(5, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{4242}, regs)
}

func TestClient_ExceptionResponse(t *testing.T) {
	slave := modbus.NewSlave(1, map[uint16]uint16{0: 1})
	c, _ := newClient(t, slave)

	_, err := c.ReadHoldingRegisters(1, 100, 1)

	var exc *modbus.ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, modbus.ExceptionIllegalDataAddress, exc.Code)
	assert.Equal(t, modbus.FuncReadHoldingRegisters, exc.Function)
	assert.Contains(t, err.Error(), "illegal data address")
}

func TestClient_UnexpectedFunctionInResponse(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{frame(t, 1, 0x05, []byte{0, 1, 0xff, 0})}}
	c := modbus.NewClient(tr, 0)

	err := c.WriteRegister(1, 1, 2)

	assert.ErrorIs(t, err, modbus.ErrInvalidResponse)
	var exc *modbus.ExceptionError
	assert.False(t, errors.As(err, &exc))
}

func TestClient_TimeoutWhenUnitDoesNotAnswer(t *testing.T) {
	slave := modbus.NewSlave(1, map[uint16]uint16{0: 1})
	c, e := newClient(t, slave)

	err := c.WriteRegister(9, 0, 1)

	assert.ErrorIs(t, err, modbus.ErrTimeout)
	assert.GreaterOrEqual(t, e.Now(), sim.Timestamp(10_000))
}

func TestClient_RejectsCountOutOfRange(t *testing.T) {
	c, _ := newClient(t, modbus.NewSlave(1, nil))

	_, err := c.ReadHoldingRegisters(1, 0, 0)
	assert.Error(t, err)
	_, err = c.ReadHoldingRegisters(1, 0, 126)
	assert.Error(t, err)
}

type scriptedTransport struct {
	sent      [][]byte
	responses [][]byte
}

func (s *scriptedTransport) Transmit(data []byte) error {
	s.sent = append(s.sent, data)
	return nil
}

func (s *scriptedTransport) Receive(time.Duration) ([]byte, error) {
	if len(s.responses) == 0 {
		return nil, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func TestClient_CorruptResponse(t *testing.T) {
	resp := frame(t, 1, modbus.FuncWriteSingleRegister, []byte{0, 1, 0, 2})
	resp[len(resp)-1] ^= 0x55
	tr := &scriptedTransport{responses: [][]byte{resp}}
	c := modbus.NewClient(tr, 0)

	err := c.WriteRegister(1, 1, 2)

	assert.ErrorIs(t, err, modbus.ErrInvalidResponse)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, frame(t, 1, modbus.FuncWriteSingleRegister, []byte{0, 1, 0, 2}), tr.sent[0])
}

func TestClient_WrongUnitInResponse(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{frame(t, 2, modbus.FuncWriteSingleRegister, []byte{0, 1, 0, 2})}}
	c := modbus.NewClient(tr, 0)

	err := c.WriteRegister(1, 1, 2)

	assert.ErrorIs(t, err, modbus.ErrInvalidResponse)
}

func TestSlave_IgnoresOtherUnitsAndBadFrames(t *testing.T) {
	s := modbus.NewSlave(1, map[uint16]uint16{0: 1})

	assert.Nil(t, s.Handle(frame(t, 2, modbus.FuncReadHoldingRegisters, []byte{0, 0, 0, 1})))
	assert.Nil(t, s.Handle([]byte{1, 3}))

	corrupt := frame(t, 1, modbus.FuncReadHoldingRegisters, []byte{0, 0, 0, 1})
	corrupt[2] ^= 0xff
	assert.Nil(t, s.Handle(corrupt))

	resp := s.Handle(frame(t, 1, 0x2b, nil))
	require.NotNil(t, resp)
	assert.Equal(t, byte(0x2b|0x80), resp[1])
	assert.Equal(t, modbus.ExceptionIllegalFunction, resp[2])
}
