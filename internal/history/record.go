package history

import "time"

// Record is one persisted query run. ID identifies the run and QueryID the
// query definition it executed; a definition may have many runs.
type Record struct {
	ID             string
	QueryID        string
	Account        string
	Status         Status
	Contents       string
	RecordsTotal   *int64
	RecordsMatched *float64
	RecordsScanned *float64
	BytesScanned   *float64
	CreatedAt      time.Time
	ModifiedAt     time.Time
	DeletedAt      *time.Time
}

// Deleted reports whether the record has been soft-deleted.
func (r *Record) Deleted() bool {
	return r != nil && r.DeletedAt != nil
}

// ListOptions controls history listings.
type ListOptions struct {
	IncludeDeleted bool
	Limit          int
	Offset         int
}
