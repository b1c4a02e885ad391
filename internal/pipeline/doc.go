// Package pipeline runs an ordered list of steps against a shared execution
// state.
//
// Each step gets a bounded number of immediate attempts. Outputs from a
// successful attempt are merged into the State before the next step runs; a
// step that exhausts its attempts stops the run. Exactly one cleanup action runs
// per run: Finalize on success, Quarantine on failure. Errors and panics raised
// by step actions never escape Runner.Run; they are reported through Result.
package pipeline
