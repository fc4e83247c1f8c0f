// Package retry implements the bounded exponential backoff shared by event
// fetches, follow-mode polling and query status polling.
//
// Policy computes deterministic delays, Schedule walks them with jitter and
// plugs into cenkalti/backoff, and Do retries operations whose errors are
// marked transient.
package retry
