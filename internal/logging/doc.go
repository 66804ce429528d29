// Package logging assembles structured slog loggers and formatting helpers used
// across docpipe components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and API code can tag
// log lines with document IDs, session IDs, worker steps, and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
