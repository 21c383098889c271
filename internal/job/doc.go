// Package job assembles a refresh run from configuration: provider adapters,
// the fallback chain, the existence validator, the store and the stage plan.
//
// A Job is built once per process and may run many times (the daemon reuses
// it daily), so adapter quotas persist across runs.
package job
