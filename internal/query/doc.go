// Package query executes analytical queries against the remote log service
// and tracks each run in the history store.
//
// A run moves Submitted → Scheduled → Running and ends Complete, Failed,
// Cancelled or TimedOut. Runner.Submit records the run as soon as the service
// accepts it, Poll maps one remote status read onto the state machine, and
// Wait polls on a backoff schedule until the run ends, the caller's timeout
// elapses or the context is cancelled. Abandoned runs get one best-effort
// remote stop on a deadline of their own.
package query
