// Package batch applies a per-entity operation to a list of symbols in
// fixed-size batches with a pause between batches.
//
// The runner never aborts on a single entity: errors and panics are recorded
// in the Aggregate and the run continues. A Gate (normally the stage budget)
// is consulted before each entity and can end the run early.
package batch
