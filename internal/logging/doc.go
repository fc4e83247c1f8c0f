// Package logging assembles structured slog loggers used across cw.
//
// It owns the console and JSON handlers, routes records to the diagnostic log
// file and optionally mirrors them to stderr, and exposes context-aware
// helpers that tag lines with fetch targets, query runs and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
