// Package store provides SQLite-backed durable storage for scenario run traces.
//
// The store is append-only:
//   - Runs: one row per scenario run (run ID, scenario name, outcome)
//   - Events: the run's trace events, keyed by (run_id, seq)
//
// # Ordering
//
// Events are ordered by seq, the run-local sequence number, never by wall
// time. Runs are listed in insertion order (rowid), which for UUIDv7 run IDs
// matches their creation order.
//
// # Identity
//
// Each event row carries the content hash computed by trace.Event.Hash over
// its canonical JSON form. Writing the same run twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
