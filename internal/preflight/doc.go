// Package preflight provides readiness checks for the filesystem paths,
// binaries, and remote endpoints docpipe depends on.
//
// The daemon includes the results in its status report and the CLI "docpipe
// status" command renders them. Checks for optional features (the CloudEvents
// sink, the filesystem blob root) only run when that feature is configured.
package preflight
