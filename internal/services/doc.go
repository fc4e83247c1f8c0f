// Package services defines the shared error taxonomy, context helpers and the
// remote log service capability consumed by the tail, query and listing code.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper so callers can decide what
//     to retry, what to isolate and what terminates an invocation.
//   - Context helpers that stamp correlation identifiers, fetch targets and
//     query runs for logging.
//   - The LogService interface and its request/response types. Components
//     declare narrower interfaces over the same methods so tests can substitute
//     an in-memory fake.
package services
