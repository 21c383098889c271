// Package store persists the tracked universe, refresh timestamps, latest
// provider snapshots and per-run stage progress.
//
// Three implementations share the Store interface:
//   - Postgres: pgx pool, JSONB snapshots, batched upserts
//   - SQLite: modernc.org/sqlite, schema created on open
//   - Memory: dry runs and tests
package store
