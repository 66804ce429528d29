// Package services defines shared error markers and context helpers used by
// the pipeline components.
//
// Key responsibilities:
//   - Context helpers that stamp document IDs, session IDs, worker steps, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the typed
//     ValidationError and TransitionError values that callers match with
//     errors.Is.
//   - Code, which turns an error chain into the stable string the HTTP layer
//     and logs report.
package services
