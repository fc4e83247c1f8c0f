package history

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const lockRetryDelay = 50 * time.Millisecond

// migrateDatabase brings the schema at path up to date. Concurrent cw
// processes serialize on a sibling lock file so only one applies migrations.
func migrateDatabase(ctx context.Context, path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock database: %w", err)
	}
	if !locked {
		return errors.New("lock database: lock not acquired")
	}
	defer func() { _ = lock.Unlock() }()

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
