package store

import (
	"path/filepath"
	"testing"

	"github.com/DirkWillem/HAL2/internal/trace"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTrace creates a small passing trace.
func createTestTrace(runID, scenario string) trace.Trace {
	var r trace.Recorder
	r.Record(0, "uart_transmit", "UART1", trace.Fields{"data": "0102"}, nil)
	r.Record(150, "uart_receive", "UART1", trace.Fields{"data": "0102", "bytes": int64(2)}, nil)
	r.Record(10_150, "wait", "", trace.Fields{"duration_us": int64(10_000), "tags": []any{"a", int64(1)}}, nil)
	return trace.Trace{RunID: runID, Scenario: scenario, Passed: true, Events: r.Events()}
}
