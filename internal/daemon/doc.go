// Package daemon coordinates the long-running docpipe process.
//
// It wires configuration, the state store, blob storage, the session manager,
// and the workflow lanes into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon serves the HTTP API (gin, JWT bearer
// auth) that editors and remote workers call, and exposes maintenance helpers
// (ingestion, document types, grants, on-demand sweeps, token issue) for the
// IPC server.
//
// Keep orchestration here: session semantics live in internal/session and
// page edits in internal/worker.
package daemon
