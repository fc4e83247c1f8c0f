package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cw/internal/config"
	"cw/internal/services"
)

var (
	// ErrStatusRegression is returned when an upsert would move a run
	// backwards, or out of a terminal status. It wraps ErrInvalidTransition.
	ErrStatusRegression = errors.New("status regression")
	// ErrRunConflict is returned when a run id is reused for another query.
	ErrRunConflict = errors.New("run id belongs to another query")
)

// Store persists query runs in SQLite. All access goes through a single
// connection, so each write is observed whole by later reads.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the history database in the configured data
// directory and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the history database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStore, "history", "open", "create database directory", err)
	}
	if err := migrateDatabase(context.Background(), dbPath); err != nil {
		return nil, services.Wrap(services.ErrStore, "history", "open", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "history", "open", "open sqlite db", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, services.Wrap(services.ErrStore, "history", "open", fmt.Sprintf("apply pragma %q", pragma), execErr)
		}
	}

	return &Store{db: db, path: dbPath, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SQLiteVersion reports the embedded SQLite library version.
func (s *Store) SQLiteVersion(ctx context.Context) (string, error) {
	var version string
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT sqlite_version()`).Scan(&version); err != nil {
		return "", services.Wrap(services.ErrStore, "history", "sqlite version", "", err)
	}
	return version, nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return 0, false, services.Wrap(services.ErrStore, "history", "schema version", "", err)
	}
	return uint(version), dirty, nil
}

// Upsert inserts rec or updates the row addressed by (ID, QueryID). The
// stored created_at and deleted_at are kept, modified_at always moves
// strictly forward, and status only moves along the state machine (writing
// the same status again is allowed). Statistics left nil keep their stored
// values. The stored record is returned.
func (s *Store) Upsert(ctx context.Context, rec Record) (*Record, error) {
	ctx = ensureContext(ctx)
	if rec.ID == "" || rec.QueryID == "" {
		return nil, services.Wrap(services.ErrValidation, "history", "upsert", "run id and query id are required", nil)
	}
	if !rec.Status.Valid() {
		return nil, services.Wrap(services.ErrValidation, "history", "upsert", fmt.Sprintf("unknown status %q", rec.Status), nil)
	}

	var stored *Record
	err := retryOnBusy(ctx, func() error {
		var txErr error
		stored, txErr = s.upsertTx(ctx, rec)
		return txErr
	})
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, ErrStatusRegression), errors.Is(err, ErrRunConflict):
		return nil, fmt.Errorf("upsert run %s: %w", rec.ID, err)
	default:
		return nil, services.Wrap(services.ErrStore, "history", "upsert", "run "+rec.ID, err)
	}
}

func (s *Store) upsertTx(ctx context.Context, rec Record) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	existing, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM query_history WHERE id = ?`, rec.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.DeletedAt = nil
	case err != nil:
		return nil, err
	default:
		if existing.QueryID != rec.QueryID {
			return nil, fmt.Errorf("%w: run %s is recorded under %s", ErrRunConflict, rec.ID, existing.QueryID)
		}
		if existing.Status != rec.Status && !CanTransition(existing.Status, rec.Status) {
			return nil, fmt.Errorf("%w: %w: %s -> %s", ErrStatusRegression, ErrInvalidTransition, existing.Status, rec.Status)
		}
		rec.CreatedAt = existing.CreatedAt
		rec.DeletedAt = existing.DeletedAt
		if !now.After(existing.ModifiedAt) {
			now = existing.ModifiedAt.Add(time.Nanosecond)
		}
		if rec.Account == "" {
			rec.Account = existing.Account
		}
		rec.RecordsTotal = firstInt(rec.RecordsTotal, existing.RecordsTotal)
		rec.RecordsMatched = firstFloat(rec.RecordsMatched, existing.RecordsMatched)
		rec.RecordsScanned = firstFloat(rec.RecordsScanned, existing.RecordsScanned)
		rec.BytesScanned = firstFloat(rec.BytesScanned, existing.BytesScanned)
	}
	rec.ModifiedAt = now
	rec.CreatedAt = rec.CreatedAt.UTC()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO query_history (`+recordColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id, query_id) DO UPDATE SET
             account = excluded.account,
             status = excluded.status,
             contents = excluded.contents,
             records_total = excluded.records_total,
             records_matched = excluded.records_matched,
             records_scanned = excluded.records_scanned,
             bytes_scanned = excluded.bytes_scanned,
             modified_at = excluded.modified_at`,
		rec.ID,
		rec.QueryID,
		nullableString(rec.Account),
		string(rec.Status),
		rec.Contents,
		nullableInt(rec.RecordsTotal),
		nullableFloat(rec.RecordsMatched),
		nullableFloat(rec.RecordsScanned),
		nullableFloat(rec.BytesScanned),
		formatTime(rec.CreatedAt),
		formatTime(rec.ModifiedAt),
		nullableTime(rec.DeletedAt),
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get fetches a run by id, including soft-deleted runs. It returns nil, nil
// when the run is unknown.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM query_history WHERE id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "history", "get", "run "+runID, err)
	}
	return rec, nil
}

// List returns runs newest first. Soft-deleted runs are skipped unless
// opts.IncludeDeleted is set.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM query_history`
	if !opts.IncludeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return s.queryRecords(ctx, "list", query, limit, offset)
}

// ListByQuery returns the live runs of one query definition, newest first.
func (s *Store) ListByQuery(ctx context.Context, queryID string) ([]*Record, error) {
	return s.queryRecords(ctx, "list by query",
		`SELECT `+recordColumns+` FROM query_history
         WHERE query_id = ? AND deleted_at IS NULL
         ORDER BY created_at DESC, id DESC`,
		queryID,
	)
}

func (s *Store) queryRecords(ctx context.Context, operation, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "history", operation, "", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrStore, "history", operation, "scan row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStore, "history", operation, "", err)
	}
	return records, nil
}

// SoftDelete hides a run from default listings. Deleting an already deleted
// run leaves its deleted_at untouched.
func (s *Store) SoftDelete(ctx context.Context, runID string) error {
	now := formatTime(s.now())
	return s.updateOne(ctx, "soft delete", runID,
		`UPDATE query_history
         SET modified_at = CASE WHEN deleted_at IS NULL THEN MAX(modified_at, ?) ELSE modified_at END,
             deleted_at = COALESCE(deleted_at, ?)
         WHERE id = ?`,
		now, now, runID,
	)
}

// Restore undoes a soft delete. Restoring a live run is a no-op.
func (s *Store) Restore(ctx context.Context, runID string) error {
	now := formatTime(s.now())
	return s.updateOne(ctx, "restore", runID,
		`UPDATE query_history
         SET modified_at = CASE WHEN deleted_at IS NOT NULL THEN MAX(modified_at, ?) ELSE modified_at END,
             deleted_at = NULL
         WHERE id = ?`,
		now, runID,
	)
}

func (s *Store) updateOne(ctx context.Context, operation, runID, query string, args ...any) error {
	ctx = ensureContext(ctx)
	var res sql.Result
	if err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return services.Wrap(services.ErrStore, "history", operation, "run "+runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrStore, "history", operation, "rows affected", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "history", operation, "run "+runID, nil)
	}
	return nil
}

func firstInt(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
