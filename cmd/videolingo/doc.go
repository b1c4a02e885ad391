// Package main hosts the videolingo CLI entrypoint and command graph.
//
// Commands load configuration once through commandContext, then hand off to
// the internal packages: videoflow for runs and batches, llmserver for the
// local inference server, history for the run ledger, and preflight for
// readiness checks.
package main
