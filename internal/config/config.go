// Package config loads bench configuration files.
//
// A bench file is CUE, validated against the embedded #Bench schema:
//
//	engine:           "build/blinky.wasm"
//	shutdown_timeout: "1ms"
//	receive_timeout:  "100ms"
//	modbus: {uart: "UART1", unit: 1, timeout: "1s"}
//	peripherals: {uart: ["UART1"], gpio: ["LED"]}
//
// Every field is optional; omitted timeouts take the schema defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/DirkWillem/HAL2/internal/sim"
)

//go:embed schema.cue
var schemaCUE string

// Error codes for configuration failures.
const (
	ErrCodeRead     = "C001" // bench file could not be read
	ErrCodeSyntax   = "C002" // CUE syntax or build error
	ErrCodeSchema   = "C003" // value does not satisfy #Bench
	ErrCodeDuration = "C004" // duration string could not be parsed
)

// Error is a configuration failure, with the CUE position when known.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Modbus binds a MODBUS client to a UART.
type Modbus struct {
	UART    string
	Unit    byte
	Timeout time.Duration
}

// Bench is a validated bench configuration.
type Bench struct {
	// Engine is the engine module path, absolute or relative to the working
	// directory. Empty if the file names none.
	Engine string

	ShutdownTimeout time.Duration
	ReceiveTimeout  time.Duration

	// Modbus is nil when no MODBUS binding is configured.
	Modbus *Modbus

	// Peripherals lists names the engine must expose, per kind.
	Peripherals map[sim.Kind][]string
}

// Default returns the configuration used when no bench file is given.
func Default() *Bench {
	b, err := Parse("default.cue", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema defaults are invalid: %v", err))
	}
	return b
}

// Load reads and validates the bench file at path. A relative engine path is
// resolved against the file's directory.
func Load(path string) (*Bench, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeRead, Message: err.Error()}
	}
	b, err := Parse(path, src)
	if err != nil {
		return nil, err
	}
	if b.Engine != "" && !filepath.IsAbs(b.Engine) {
		b.Engine = filepath.Join(filepath.Dir(path), b.Engine)
	}
	return b, nil
}

// raw mirrors #Bench for decoding.
type raw struct {
	Engine          string `json:"engine"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	ReceiveTimeout  string `json:"receive_timeout"`
	Modbus          *struct {
		UART    string `json:"uart"`
		Unit    int    `json:"unit"`
		Timeout string `json:"timeout"`
	} `json:"modbus"`
	Peripherals *struct {
		UART []string `json:"uart"`
		SPI  []string `json:"spi"`
		GPIO []string `json:"gpio"`
	} `json:"peripherals"`
}

// Parse validates src against #Bench. filename is used in error positions.
func Parse(filename string, src []byte) (*Bench, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(ErrCodeSyntax, err)
	}
	def := schema.LookupPath(cue.ParsePath("#Bench"))

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, cueError(ErrCodeSyntax, err)
	}

	v := def.Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	var r raw
	if err := v.Decode(&r); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	return r.bench()
}

func (r raw) bench() (*Bench, error) {
	b := &Bench{Engine: r.Engine, Peripherals: map[sim.Kind][]string{}}

	var err error
	if b.ShutdownTimeout, err = parseDuration("shutdown_timeout", r.ShutdownTimeout); err != nil {
		return nil, err
	}
	if b.ReceiveTimeout, err = parseDuration("receive_timeout", r.ReceiveTimeout); err != nil {
		return nil, err
	}

	if r.Modbus != nil {
		timeout, err := parseDuration("modbus.timeout", r.Modbus.Timeout)
		if err != nil {
			return nil, err
		}
		b.Modbus = &Modbus{UART: r.Modbus.UART, Unit: byte(r.Modbus.Unit), Timeout: timeout}
	}

	if p := r.Peripherals; p != nil {
		for kind, names := range map[sim.Kind][]string{
			sim.KindUART:      p.UART,
			sim.KindSPIMaster: p.SPI,
			sim.KindGPIO:      p.GPIO,
		} {
			if len(names) > 0 {
				b.Peripherals[kind] = names
			}
		}
	}
	return b, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &Error{Code: ErrCodeDuration, Message: fmt.Sprintf("%s: %v", field, err)}
	}
	return d, nil
}

func cueError(code string, err error) error {
	e := &Error{Code: code, Message: err.Error()}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		e.Message = errs[0].Error()
		if pos := errs[0].Position(); pos.IsValid() {
			e.Pos = pos
		}
	}
	return e
}
