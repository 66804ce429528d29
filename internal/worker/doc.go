// Package worker applies a session's pending edits to a document artifact.
//
// A Processor receives a self-contained api.ProcessingRequest and runs the
// steps in fixed order: download, backup, redact, rotate, delete, split,
// persist. It never reads pipeline state directly; results go back through a
// Reporter, which is the in-process session manager for local lanes and the
// HTTP callback client for remote workers.
package worker
