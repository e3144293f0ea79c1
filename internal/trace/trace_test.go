package trace

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"strings", []string{"a", "b"}, `["a","b"]`},
		{"sorted keys", map[string]any{"zebra": 1, "alpha": 2}, `{"alpha":2,"zebra":1}`},
		{"nested", map[string]any{"z": Fields{"b": 1, "a": 2}, "a": 3}, `{"a":3,"z":{"a":2,"b":1}}`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"control chars", "a\n\x01", `"a\n\u0001"`},
		{"line separator kept", "a\u2028b", "\"a\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00 and sorts before U+E000
	// in UTF-16, although its UTF-8 encoding sorts after.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	got, err := MarshalCanonical(obj)

	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")

	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"f": 1.5})
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = MarshalCanonical(struct{}{})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Record(0, "wait", "", Fields{"duration_us": int64(1000)}, nil)
	ev := r.Record(1000, "uart_receive", "UART1", Fields{"data": Hex([]byte{0xca, 0xfe})}, errors.New("mismatch"))

	assert.Equal(t, int64(2), ev.Seq)
	assert.Equal(t, "mismatch", ev.Error)
	require.Len(t, r.Events(), 2)
	assert.Equal(t, "cafe", r.Events()[1].Fields["data"])
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	var r Recorder
	r.Record(0, "gpio_monitor", "PWM", Fields{"frequency": Float(1000), "periods": 4}, nil)
	tr := Trace{RunID: "run-1", Scenario: "pwm", Passed: true, Events: r.Events()}

	a, err := MarshalTrace(tr)
	require.NoError(t, err)
	b, err := MarshalTrace(tr)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t,
		`{"events":[{"at":0,"fields":{"frequency":"1000.000000","periods":4},"seq":1,"step":"gpio_monitor","target":"PWM"}],"passed":true,"run_id":"run-1","scenario":"pwm"}`,
		string(a))
}

func TestEvent_HashIsContentAddressed(t *testing.T) {
	a := Event{Seq: 1, At: 10, Step: "wait"}
	b := Event{Seq: 1, At: 10, Step: "wait"}
	c := Event{Seq: 1, At: 11, Step: "wait"}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, _ := b.Hash()
	hc, _ := c.Hash()

	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
	assert.Len(t, ha, 64)
}

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
