package resultcache_test

import (
	"errors"
	"os"
	"testing"

	"cw/internal/resultcache"
	"cw/internal/services"
)

func TestPutThenGetPreservesRowsAndFieldOrder(t *testing.T) {
	cache, err := resultcache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows := []services.Row{
		{{Name: "@timestamp", Value: "2024-01-01 00:00:00.000"}, {Name: "@message", Value: "boot"}},
		{{Name: "count", Value: "7"}},
		{},
	}
	if err := cache.Put("run-1", rows); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !cache.Has("run-1") {
		t.Fatal("expected cached entry")
	}

	got, err := cache.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[0][0].Name != "@timestamp" || got[0][1].Value != "boot" {
		t.Fatalf("first row = %+v", got[0])
	}
	if len(got[2]) != 0 {
		t.Fatalf("empty row should stay empty, got %+v", got[2])
	}

	// The file on disk is compressed, not plain JSON.
	path, err := cache.Path("run-1")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if len(raw) < 4 || raw[0] != 0x28 || raw[1] != 0xb5 || raw[2] != 0x2f || raw[3] != 0xfd {
		t.Fatalf("expected zstd frame magic, got % x", raw[:4])
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	cache, err := resultcache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := cache.Put("r", []services.Row{{{Name: "a", Value: "1"}}, {{Name: "a", Value: "2"}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Put("r", []services.Row{{{Name: "a", Value: "3"}}}); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := cache.Get("r")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0][0].Value != "3" {
		t.Fatalf("rows = %+v", got)
	}
}

func TestGetMissingAndRemove(t *testing.T) {
	cache, err := resultcache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := cache.Get("nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := cache.Remove("nope"); err != nil {
		t.Fatalf("Remove(missing): %v", err)
	}
	if err := cache.Put("r", nil); err != nil {
		t.Fatalf("Put(nil): %v", err)
	}
	if err := cache.Remove("r"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if cache.Has("r") {
		t.Fatal("entry should be gone")
	}
}

func TestRunIDsThatAreNotFileNamesAreRejected(t *testing.T) {
	dir := t.TempDir()
	cache, err := resultcache.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows := []services.Row{{{Name: "n", Value: "1"}}}
	if err := cache.Put("a_b", rows); err != nil {
		t.Fatalf("Put(a_b): %v", err)
	}

	for _, id := range []string{"a/b", "../escape/run", "..", " run", ""} {
		if err := cache.Put(id, nil); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Put(%q): expected validation error, got %v", id, err)
		}
		if _, err := cache.Get(id); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Get(%q): expected validation error, got %v", id, err)
		}
		if cache.Has(id) {
			t.Fatalf("Has(%q) should be false", id)
		}
	}

	// a_b keeps its own rows; a/b never shared its file.
	got, err := cache.Get("a_b")
	if err != nil || len(got) != 1 || got[0][0].Value != "1" {
		t.Fatalf("Get(a_b) = %+v, %v", got, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a_b.jsonl.zst" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("cache dir entries = %v", names)
	}
}

func TestOpenRequiresDirectory(t *testing.T) {
	if _, err := resultcache.Open("  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
