// Package ipc exposes daemon maintenance over JSON-RPC on a Unix socket and
// ships the matching client used by the docpipe CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// server wraps the daemon; every call runs under the server's context so a
// daemon shutdown cancels in-flight maintenance work.
package ipc
