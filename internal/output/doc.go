// Package output renders tailed events and query rows for the terminal.
//
// Event sinks write one whole line per event, either as text with optional
// coloured prefixes or as a JSON object. Query rows are always written as
// JSON objects whose keys keep the order the service returned them in.
package output
