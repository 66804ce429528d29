// Package store persists the pipeline's durable state in SQLite: documents,
// their pending edit intents, processing sessions, and the append-only split
// audit.
//
// Every document status change goes through a transition method that checks
// the lifecycle rules and performs a compare-and-set inside one transaction,
// so concurrent writers are rejected instead of racing. The partial unique
// index on processing_sessions backs the one-active-session rule at the
// schema level.
package store
