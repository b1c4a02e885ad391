// Package services defines shared utilities consumed by pipeline steps and the
// local inference server supervisor.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, step names, and attempt numbers for
//     logging and history.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (configuration vs. startup vs. acquisition) with errors.Is.
//
// Use these helpers when wiring new step logic so error handling and
// observability stay uniform across the pipeline.
package services
