// Package history persists pipeline runs and their step attempts in SQLite.
//
// The store lives at <log_dir>/history.db. Each run gets a UUID; every step
// attempt reported by the pipeline runner is appended under that run so
// operators can see which step failed, how often it was retried, and how the
// run was archived.
package history
