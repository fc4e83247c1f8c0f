package history_test

import (
	"context"
	"errors"
	"testing"

	"cw/internal/history"
	"cw/internal/services"
	"cw/internal/testsupport"
)

func newRecord(id, queryID string, status history.Status) history.Record {
	return history.Record{
		ID:       id,
		QueryID:  queryID,
		Status:   status,
		Contents: "fields @timestamp, @message | limit 20",
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if store.Path() != cfg.DatabasePath() {
		t.Fatalf("path = %s, want %s", store.Path(), cfg.DatabasePath())
	}
	version, dirty, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("schema version = %d dirty=%v", version, dirty)
	}
	if v, err := store.SQLiteVersion(ctx); err != nil || v == "" {
		t.Fatalf("SQLiteVersion = %q, %v", v, err)
	}

	// Reopening an up-to-date database is a no-op.
	again, err := history.OpenPath(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestUpsertUpdatesSingleRowAndAdvancesModifiedAt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusScheduled))
	second := testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusRunning))

	if !second.ModifiedAt.After(first.ModifiedAt) {
		t.Fatalf("modified_at did not increase: %s then %s", first.ModifiedAt, second.ModifiedAt)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed: %s then %s", first.CreatedAt, second.CreatedAt)
	}

	runs, err := store.ListByQuery(ctx, "q1")
	if err != nil {
		t.Fatalf("ListByQuery: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one row, got %d", len(runs))
	}
	if runs[0].Status != history.StatusRunning {
		t.Fatalf("status = %s, want Running", runs[0].Status)
	}
	if !runs[0].ModifiedAt.Equal(second.ModifiedAt) {
		t.Fatalf("stored modified_at %s != returned %s", runs[0].ModifiedAt, second.ModifiedAt)
	}
}

func TestUpsertKeepsStatisticsAndRejectsRegression(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	total := int64(42)
	matched := 42.0
	scanned := 1000.0
	complete := newRecord("r1", "q1", history.StatusComplete)
	complete.RecordsTotal = &total
	complete.RecordsMatched = &matched
	complete.RecordsScanned = &scanned
	complete.Account = "123456789012"
	testsupport.MustUpsert(t, store, complete)

	// Re-saving a finished run with the same status is allowed and keeps
	// statistics the caller omitted.
	again := testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusComplete))
	if again.RecordsTotal == nil || *again.RecordsTotal != 42 {
		t.Fatalf("records_total lost: %v", again.RecordsTotal)
	}
	if again.Account != "123456789012" {
		t.Fatalf("account lost: %q", again.Account)
	}

	if _, err := store.Upsert(ctx, newRecord("r1", "q1", history.StatusRunning)); !errors.Is(err, history.ErrStatusRegression) {
		t.Fatalf("expected status regression, got %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.Status != history.StatusComplete || got.BytesScanned != nil {
		t.Fatalf("unexpected stored record: %+v", got)
	}
	if *got.RecordsScanned != 1000 {
		t.Fatalf("records_scanned = %v", *got.RecordsScanned)
	}
}

func TestUpsertRejectsBackwardStatusMoves(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusRunning))

	for _, back := range []history.Status{history.StatusScheduled, history.StatusSubmitted} {
		_, err := store.Upsert(ctx, newRecord("r1", "q1", back))
		if !errors.Is(err, history.ErrStatusRegression) || !errors.Is(err, history.ErrInvalidTransition) {
			t.Fatalf("Running -> %s: expected regression, got %v", back, err)
		}
	}
	got, err := store.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.Status != history.StatusRunning {
		t.Fatalf("status = %s, want Running", got.Status)
	}

	// Refreshing a live run keeps its status.
	testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusRunning))
	testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusComplete))
}

func TestUpsertRejectsRunUnderAnotherQuery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusScheduled))
	if _, err := store.Upsert(context.Background(), newRecord("r1", "q2", history.StatusScheduled)); !errors.Is(err, history.ErrRunConflict) {
		t.Fatalf("expected run conflict, got %v", err)
	}
}

func TestUpsertValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, newRecord("", "q1", history.StatusScheduled)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := store.Upsert(ctx, newRecord("r1", "q1", history.Status("Bogus"))); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSoftDeleteIsIdempotentAndHidesRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustUpsert(t, store, newRecord("r1", "q1", history.StatusComplete))
	testsupport.MustUpsert(t, store, newRecord("r2", "q1", history.StatusComplete))

	if err := store.SoftDelete(ctx, "r1"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	first, _ := store.Get(ctx, "r1")
	if first == nil || first.DeletedAt == nil {
		t.Fatalf("expected deleted_at to be set: %+v", first)
	}
	if err := store.SoftDelete(ctx, "r1"); err != nil {
		t.Fatalf("second SoftDelete: %v", err)
	}
	second, _ := store.Get(ctx, "r1")
	if !second.DeletedAt.Equal(*first.DeletedAt) {
		t.Fatalf("deleted_at changed: %s then %s", first.DeletedAt, second.DeletedAt)
	}

	live, err := store.List(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, rec := range live {
		if rec.DeletedAt != nil {
			t.Fatalf("default listing returned deleted run %s", rec.ID)
		}
	}
	if len(live) != 1 || live[0].ID != "r2" {
		t.Fatalf("unexpected live runs: %d", len(live))
	}

	all, err := store.List(ctx, history.ListOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("List(include deleted): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both runs, got %d", len(all))
	}

	if err := store.Restore(ctx, "r1"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored, _ := store.Get(ctx, "r1")
	if restored.Deleted() {
		t.Fatal("restore should clear deleted_at")
	}
}

func TestSoftDeleteUnknownRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.SoftDelete(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	rec, err := store.Get(context.Background(), "missing")
	if err != nil || rec != nil {
		t.Fatalf("Get(missing) = %v, %v", rec, err)
	}
}

func TestListOrdersNewestFirstWithPaging(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		testsupport.MustUpsert(t, store, newRecord(id, "q", history.StatusScheduled))
	}
	page, err := store.List(ctx, history.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b" || page[1].ID != "a" {
		var ids []string
		for _, rec := range page {
			ids = append(ids, rec.ID)
		}
		t.Fatalf("page = %v, want [b a]", ids)
	}
}
