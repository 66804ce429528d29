// Command docpipe is the operator CLI for the docpipe daemon.
//
// Most subcommands talk to a running docpiped over its JSON-RPC socket:
// status, documents ingest|list, types add|list, grant, sweep, and
// token issue. `config init|validate` work without a daemon, and
// `worker serve` runs a remote CloudEvents worker that reports back to the
// daemon's HTTP API.
package main
