// Package preflight provides readiness checks for the filesystem paths,
// executables, and local model server that videolingo depends on.
//
// These checks run in two contexts:
//   - The video processor calls RunAll before a run and refuses to start when
//     a required check fails, instead of failing halfway through a long job.
//   - The CLI "videolingo status" command renders the same results for
//     operators.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
