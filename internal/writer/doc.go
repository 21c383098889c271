// Package writer batches provider snapshots before they reach the store.
//
// Payloads accumulate in memory and are flushed with one SaveSnapshots call
// once BatchSize is reached, and again when the stage calls Flush. Refresh
// timestamps are only advanced for payloads whose flush succeeded, so a
// failed flush leaves those entities stale for the next run.
package writer
