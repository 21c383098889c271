// Package scheduler runs an ordered list of stages, each under its own
// wall-clock and entity-count budget.
//
// A stage that fails, panics or runs out of budget is recorded and the run
// moves on. Budgets are cooperative: stage work polls Budget.Allow before
// each entity, so work that never polls can overrun its limit. Overruns are
// detected and logged but not corrected.
//
// The stage marked Critical is always attempted exactly once, even after a
// run-level budget or context cancellation causes other stages to be skipped.
package scheduler
