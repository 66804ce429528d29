// Package api defines the wire-format types shared by the HTTP API, the IPC
// socket, and remote workers, plus the callback client a worker uses to
// report back to the daemon.
//
// # Key Types
//
// ProcessingRequest: the self-contained snapshot a worker receives for one
// session. It carries the plan, every pending intent, the acting user, and
// the parent classification, so the worker never reads shared state.
//
// OutcomeRequest / LinkResultsRequest: worker callback bodies.
//
// SessionView / DocumentView: read projections for polling and listing.
//
// DaemonStatus: aggregated runtime information including dependencies and
// worker lane health.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
