// Package tail reads log events from one or more fetch targets and merges
// them into a single chronologically ordered, duplicate-free stream.
//
// Each target gets its own worker running a Fetcher in passes. Workers publish
// batches and a frontier into bounded per-target channels, and the Engine's
// merge loop emits the earliest queued event once no unfinished target can
// still produce something earlier. Pages within one pass are assumed to
// arrive in non-decreasing timestamp order, which is how the service returns
// them. In follow mode a target that comes back empty waits on an exponential
// schedule that resets as soon as it sees new events.
package tail
