package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/trace"
)

// ErrRunNotFound is returned by ReadRun for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunSummary describes a stored run without its events.
type RunSummary struct {
	ID         string
	Scenario   string
	Passed     bool
	EventCount int
	TraceHash  string
}

// ListRuns returns stored runs in insertion order. A non-empty scenario
// restricts the result to runs of that scenario.
//
// Returns an empty slice (not nil) if no runs match.
func (s *Store) ListRuns(ctx context.Context, scenario string) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, passed, event_count, trace_hash
		FROM runs
		WHERE ? = '' OR scenario = ?
		ORDER BY rowid ASC
	`, scenario, scenario)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Passed, &r.EventCount, &r.TraceHash); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun loads a run and its events ordered by seq.
func (s *Store) ReadRun(ctx context.Context, runID string) (trace.Trace, error) {
	t := trace.Trace{RunID: runID}
	err := s.db.QueryRowContext(ctx, `
		SELECT scenario, passed FROM runs WHERE id = ?
	`, runID).Scan(&t.Scenario, &t.Passed)
	if errors.Is(err, sql.ErrNoRows) {
		return trace.Trace{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return trace.Trace{}, fmt.Errorf("read run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at_us, step, target, fields, error
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return trace.Trace{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	t.Events = []trace.Event{}
	for rows.Next() {
		var (
			ev     trace.Event
			at     int64
			fields string
		)
		if err := rows.Scan(&ev.Seq, &at, &ev.Step, &ev.Target, &fields, &ev.Error); err != nil {
			return trace.Trace{}, fmt.Errorf("scan event: %w", err)
		}
		ev.At = sim.Timestamp(at)
		if ev.Fields, err = unmarshalFields(fields); err != nil {
			return trace.Trace{}, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		t.Events = append(t.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return trace.Trace{}, fmt.Errorf("iterate events: %w", err)
	}
	return t, nil
}

// StepCounts returns how many events of each step type a run recorded.
func (s *Store) StepCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, COUNT(*) FROM events WHERE run_id = ? GROUP BY step ORDER BY step
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			step string
			n    int
		)
		if err := rows.Scan(&step, &n); err != nil {
			return nil, fmt.Errorf("scan step count: %w", err)
		}
		counts[step] = n
	}
	return counts, rows.Err()
}

// unmarshalFields decodes stored fields, keeping integers as int64 so that
// they re-encode canonically.
func unmarshalFields(s string) (trace.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out, err := fromJSON(raw)
	if err != nil {
		return nil, err
	}
	return trace.Fields(out.(map[string]any)), nil
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s in stored fields", val)
		}
		return n, nil
	case []any:
		for i := range val {
			elem, err := fromJSON(val[i])
			if err != nil {
				return nil, err
			}
			val[i] = elem
		}
		return val, nil
	case map[string]any:
		for k := range val {
			elem, err := fromJSON(val[k])
			if err != nil {
				return nil, err
			}
			val[k] = elem
		}
		return val, nil
	}
	return v, nil
}
