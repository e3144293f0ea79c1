package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/DirkWillem/HAL2/internal/trace"
)

// WriteRun stores a run and all of its events in one transaction.
// Uses ON CONFLICT DO NOTHING for idempotency - writing the same run ID
// twice keeps the first copy.
func (s *Store) WriteRun(ctx context.Context, t trace.Trace) error {
	canonical, err := trace.MarshalTrace(t)
	if err != nil {
		return fmt.Errorf("write run %s: %w", t.RunID, err)
	}
	sum := sha256.Sum256(canonical)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run %s: begin: %w", t.RunID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, passed, event_count, trace_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.RunID, t.Scenario, t.Passed, len(t.Events), hex.EncodeToString(sum[:]))
	if err != nil {
		return fmt.Errorf("write run %s: %w", t.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, ev := range t.Events {
		if err := writeEvent(ctx, tx, t.RunID, ev); err != nil {
			return fmt.Errorf("write run %s: %w", t.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run %s: commit: %w", t.RunID, err)
	}
	return nil
}

func writeEvent(ctx context.Context, tx *sql.Tx, runID string, ev trace.Event) error {
	fields := []byte("{}")
	if len(ev.Fields) > 0 {
		var err error
		fields, err = trace.MarshalCanonical(ev.Fields)
		if err != nil {
			return fmt.Errorf("event %d fields: %w", ev.Seq, err)
		}
	}

	hash, err := ev.Hash()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, at_us, step, target, fields, error, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, ev.Seq, int64(ev.At), ev.Step, ev.Target, string(fields), ev.Error, hash)
	if err != nil {
		return fmt.Errorf("event %d: %w", ev.Seq, err)
	}
	return nil
}
