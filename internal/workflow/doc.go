// Package workflow runs the daemon's background work: worker lanes that pick
// up dispatched split sessions and execute them in-process, and a sweeper that
// fails sessions whose claim has gone stale.
//
// Lanes poll the store for the oldest dispatched session, claim it (losing a
// claim race is normal and silently skipped), and hand the claimed session to
// the session manager. In-flight jobs are allowed to finish on shutdown; the
// processing deadline still bounds them.
//
// The sweeper never re-enqueues. A session that stopped making progress is
// failed with reason "stale claim" and its document returns to needs_manipulation with
// the pending intents intact, so the user can start a fresh session.
package workflow
