package wasmengine

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
)

// Minimal wasm binary encoder for test modules. Only the handful of sections
// and opcodes the tests need are supported.

const (
	opUnreachable = 0x00
	opCall        = 0x10
	opLocalGet    = 0x20
	opI32Const    = 0x41
	opI64Const    = 0x42
	opEnd         = 0x0b
)

type testFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	body    []byte // without the trailing end opcode
}

type testImport struct {
	name   string
	params []api.ValueType
}

// testImports are the host callbacks test modules may call, by function index.
var testImports = []testImport{
	{name: "gpio_edge", params: []api.ValueType{i32, i32}},
	{name: "uart_transmit", params: []api.ValueType{i32, i32, i32}},
	{name: "error", params: []api.ValueType{i32, i32}},
}

const (
	callGpioEdge     = 0
	callUartTransmit = 1
	callError        = 2
)

// testModule describes an engine module: stubs for every entry point with
// per-name body overrides, plus data segments.
type testModule struct {
	overrides map[string][]byte
	sigs      map[string][]api.ValueType // result override, for wrong-signature tests
	omit      map[string]bool
	data      map[uint32][]byte
}

func newTestModule() *testModule {
	return &testModule{
		overrides: map[string][]byte{},
		sigs:      map[string][]api.ValueType{},
		omit:      map[string]bool{},
		data:      map[uint32][]byte{},
	}
}

func (m *testModule) funcs() []testFunc {
	var fns []testFunc
	for _, ep := range entryPoints {
		if m.omit[ep.name] {
			continue
		}
		fn := testFunc{name: ep.name, params: ep.params, results: ep.results}
		if r, ok := m.sigs[ep.name]; ok {
			fn.results = r
		}
		if body, ok := m.overrides[ep.name]; ok {
			fn.body = body
		} else {
			fn.body = zeroResults(fn.results)
		}
		fns = append(fns, fn)
	}
	return fns
}

func zeroResults(results []api.ValueType) []byte {
	var body []byte
	for _, r := range results {
		if r == i64 {
			body = append(body, opI64Const, 0)
		} else {
			body = append(body, opI32Const, 0)
		}
	}
	return body
}

func (m *testModule) encode() []byte {
	fns := m.funcs()

	var types [][]byte
	typeIndex := func(params, results []api.ValueType) uint32 {
		var t []byte
		t = append(t, 0x60)
		t = appendVec(t, params)
		t = appendVec(t, results)
		for i, existing := range types {
			if bytes.Equal(existing, t) {
				return uint32(i)
			}
		}
		types = append(types, t)
		return uint32(len(types) - 1)
	}

	var imports []byte
	imports = appendU32(imports, uint32(len(testImports)))
	for _, imp := range testImports {
		imports = appendName(imports, HostModule)
		imports = appendName(imports, imp.name)
		imports = append(imports, 0x00)
		imports = appendU32(imports, typeIndex(imp.params, nil))
	}

	var funcSec, exportSec, codeSec []byte
	funcSec = appendU32(funcSec, uint32(len(fns)))
	exportSec = appendU32(exportSec, uint32(len(fns)+1))
	codeSec = appendU32(codeSec, uint32(len(fns)))
	for i, fn := range fns {
		funcSec = appendU32(funcSec, typeIndex(fn.params, fn.results))

		exportSec = appendName(exportSec, fn.name)
		exportSec = append(exportSec, 0x00)
		exportSec = appendU32(exportSec, uint32(len(testImports)+i))

		body := append([]byte{0x00}, fn.body...) // no locals
		body = append(body, opEnd)
		codeSec = appendU32(codeSec, uint32(len(body)))
		codeSec = append(codeSec, body...)
	}
	exportSec = appendName(exportSec, "memory")
	exportSec = append(exportSec, 0x02, 0x00)

	var typeSec []byte
	typeSec = appendU32(typeSec, uint32(len(types)))
	for _, t := range types {
		typeSec = append(typeSec, t...)
	}

	memSec := []byte{0x01, 0x00, 0x01} // one memory, min one page

	var dataSec []byte
	dataSec = appendU32(dataSec, uint32(len(m.data)))
	for off, b := range m.data {
		dataSec = append(dataSec, 0x00, opI32Const)
		dataSec = appendS64(dataSec, int64(off))
		dataSec = append(dataSec, opEnd)
		dataSec = appendU32(dataSec, uint32(len(b)))
		dataSec = append(dataSec, b...)
	}

	out := []byte("\x00asm\x01\x00\x00\x00")
	out = appendSection(out, 1, typeSec)
	out = appendSection(out, 2, imports)
	out = appendSection(out, 3, funcSec)
	out = appendSection(out, 5, memSec)
	out = appendSection(out, 7, exportSec)
	out = appendSection(out, 10, codeSec)
	out = appendSection(out, 11, dataSec)
	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendVec(out []byte, vts []api.ValueType) []byte {
	out = appendU32(out, uint32(len(vts)))
	return append(out, vts...)
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendU32(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// i32Const returns an i32.const instruction.
func i32Const(v int32) []byte {
	return appendS64([]byte{opI32Const}, int64(v))
}

func localGet(idx uint32) []byte {
	return appendU32([]byte{opLocalGet}, idx)
}

func call(idx uint32) []byte {
	return appendU32([]byte{opCall}, idx)
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}
