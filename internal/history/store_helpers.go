package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const recordColumns = "id, query_id, account, status, contents, records_total, records_matched, records_scanned, bytes_scanned, created_at, modified_at, deleted_at"

// timestampLayout is fixed width so that text ordering in SQL matches time
// ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id             string
		queryID        string
		account        sql.NullString
		statusStr      string
		contents       string
		recordsTotal   sql.NullInt64
		recordsMatched sql.NullFloat64
		recordsScanned sql.NullFloat64
		bytesScanned   sql.NullFloat64
		createdRaw     sql.NullString
		modifiedRaw    sql.NullString
		deletedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&queryID,
		&account,
		&statusStr,
		&contents,
		&recordsTotal,
		&recordsMatched,
		&recordsScanned,
		&bytesScanned,
		&createdRaw,
		&modifiedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:       id,
		QueryID:  queryID,
		Account:  account.String,
		Status:   Status(statusStr),
		Contents: contents,
	}
	if recordsTotal.Valid {
		v := recordsTotal.Int64
		rec.RecordsTotal = &v
	}
	rec.RecordsMatched = nullFloat(recordsMatched)
	rec.RecordsScanned = nullFloat(recordsScanned)
	rec.BytesScanned = nullFloat(bytesScanned)

	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if modified, err := parseTimeString(modifiedRaw.String); err == nil {
		rec.ModifiedAt = modified
	}
	if deletedRaw.Valid {
		if deleted, err := parseTimeString(deletedRaw.String); err == nil {
			rec.DeletedAt = &deleted
		}
	}
	return rec, nil
}

func nullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// parseTimeString accepts the stored layout as well as RFC 3339 text, which is
// how the driver renders TIMESTAMP columns it has already decoded.
func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
