// Package history persists query runs in a local SQLite database.
//
// Each row is addressed by its run id and the query definition id it
// executed. Upsert keeps that pair unique, moves modified_at strictly forward
// and refuses to move a finished run to another status. Soft-deleted runs stay
// in the table for audit and can be restored.
//
// The schema is embedded under migrations/ and applied with golang-migrate
// when the store opens; add a new numbered migration pair for every schema
// change rather than editing an applied one.
package history
