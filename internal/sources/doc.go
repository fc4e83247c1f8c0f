// Package sources parses source specifiers and resolves them into fetch
// targets, and hosts the paginated group and stream listings used by the
// `ls` commands.
package sources
