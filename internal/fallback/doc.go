// Package fallback implements the Fallback Fetch Chain.
//
// A Chain holds an ordered list of fetchers and offers two modes:
//   - FetchWithFallback: first success wins; every other outcome is recorded
//     and the chain moves on to the next fetcher
//   - QueryAll: every supporting fetcher is queried, for quorum decisions
//
// Fetchers that do not support the requested capability are skipped. A
// fetcher that panics is reported as an Error outcome; nothing escapes the
// chain as a Go error.
package fallback
