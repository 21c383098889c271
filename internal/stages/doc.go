// Package stages implements the work performed by each scheduled stage.
//
// A refresh stage fetches one capability for the stalest entities through
// the fallback chain and writes the snapshots. The existence stage asks every
// existence provider about each entity and removes those a quorum no longer
// lists. Both poll the scheduler budget through the batch runner.
package stages
