package testsupport

import (
	"context"
	"testing"

	"cw/internal/config"
	"cw/internal/history"
)

// MustOpenStore opens a history.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustUpsert writes rec and returns the stored copy.
func MustUpsert(t testing.TB, store *history.Store, rec history.Record) *history.Record {
	t.Helper()

	stored, err := store.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
	return stored
}
