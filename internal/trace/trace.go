// Package trace records what a scenario run did, step by step, in virtual time.
//
// Traces are serialized with canonical JSON so that the same run produces
// byte-identical output. Golden files and the SQLite store both depend on that.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// DomainEvent prefixes event content hashes.
const DomainEvent = "silbench/event/v1"

// Fields carries step-specific event data. Values must be strings, integers,
// booleans, []any or map[string]any of the same; floats are rejected by the
// canonical encoder, use Float to record them.
type Fields map[string]any

// Event is one recorded step.
type Event struct {
	Seq    int64         `json:"seq"`
	At     sim.Timestamp `json:"at"`
	Step   string        `json:"step"`
	Target string        `json:"target,omitempty"`
	Fields Fields        `json:"fields,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Object returns the canonical object form of the event.
func (e Event) Object() map[string]any {
	obj := map[string]any{
		"seq":  e.Seq,
		"at":   int64(e.At),
		"step": e.Step,
	}
	if e.Target != "" {
		obj["target"] = e.Target
	}
	if len(e.Fields) > 0 {
		obj["fields"] = map[string]any(e.Fields)
	}
	if e.Error != "" {
		obj["error"] = e.Error
	}
	return obj
}

// Hash returns the content hash of the event.
func (e Event) Hash() (string, error) {
	canonical, err := MarshalCanonical(e.Object())
	if err != nil {
		return "", fmt.Errorf("event %d: %w", e.Seq, err)
	}
	h := sha256.New()
	h.Write([]byte(DomainEvent))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Trace is the record of one scenario run.
type Trace struct {
	RunID    string  `json:"run_id"`
	Scenario string  `json:"scenario"`
	Passed   bool    `json:"passed"`
	Events   []Event `json:"events"`
}

// Recorder appends events with increasing sequence numbers.
type Recorder struct {
	events []Event
}

// Record appends an event and returns it.
func (r *Recorder) Record(at sim.Timestamp, step, target string, fields Fields, err error) Event {
	ev := Event{
		Seq:    int64(len(r.events) + 1),
		At:     at,
		Step:   step,
		Target: target,
		Fields: fields,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.events = append(r.events, ev)
	return ev
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	return r.events
}

// Float formats a measurement for inclusion in Fields.
func Float(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Hex formats bytes for inclusion in Fields.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}

// RunIDGenerator produces run identifiers.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 run IDs.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string, falling back to a random UUID if the
// clock source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
