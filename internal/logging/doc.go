// Package logging assembles structured slog loggers and formatting helpers used
// across videolingo components.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so step code automatically tags log lines
// with run IDs, step names, and attempt numbers. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
