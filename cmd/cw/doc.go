// Package main hosts the cw CLI entrypoint and command graph.
//
// The Cobra command tree covers listing log groups and streams, tailing one
// or more sources into a single time-ordered stream, running analytical
// queries with a local run history, and configuration scaffolding. The
// command context resolves configuration, the diagnostic logger and the
// remote client once per invocation so subcommands only deal with flags and
// rendering.
//
// Behaviour lives in the internal packages; commands here parse input, call
// into them and format the results.
package main
