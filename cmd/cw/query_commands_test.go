package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cw/internal/query"
	"cw/internal/services"
	"cw/internal/testsupport"
)

const errorsQuery = "fields @timestamp, @message\n| filter @message like /ERROR/\n"

func scriptErrorsRun(env *cliTestEnv, runID string) {
	env.fake.AddGroup("app", 0)
	env.fake.QueueQueryIDs(runID)
	env.fake.ScriptQuery(runID, testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryScheduled, services.QueryRunning, services.QueryComplete},
		Rows: []services.Row{
			{{Name: "@timestamp", Value: "2024-01-01 00:00:01.000"}, {Name: "@message", Value: "ERROR boom"}, {Name: "@ptr", Value: "p1"}},
			{{Name: "@timestamp", Value: "2024-01-01 00:00:02.000"}, {Name: "@message", Value: "ERROR again"}, {Name: "@ptr", Value: "p2"}},
		},
		Stats: &services.QueryStatistics{RecordsMatched: 2, RecordsScanned: 40, BytesScanned: 2048},
	})
}

func TestQueryFromFilePrintsRowsAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithResultCache(true))
	scriptErrorsRun(env, "r1")

	out, stderr, err := runCLI(t, env, "query", "-g", "app", "--name", "errors", writeQueryFile(t, errorsQuery))
	if err != nil {
		t.Fatalf("query: %v (stderr %s)", err, stderr)
	}
	want := `{"@timestamp":"2024-01-01 00:00:01.000","@message":"ERROR boom"}` + "\n" +
		`{"@timestamp":"2024-01-01 00:00:02.000","@message":"ERROR again"}` + "\n"
	if out != want {
		t.Fatalf("rows = %q", out)
	}
	requireContains(t, stderr, "run r1: 2 records")

	started := env.fake.Started()
	if len(started) != 1 || started[0].Query != strings.TrimSpace(errorsQuery) || started[0].Groups[0] != "app" {
		t.Fatalf("started = %+v", started)
	}
	if !started[0].End.After(started[0].Start) {
		t.Fatalf("query range = %s .. %s", started[0].Start, started[0].End)
	}

	out, _, err = runCLI(t, env, "query", "history")
	if err != nil {
		t.Fatalf("query history: %v", err)
	}
	requireContains(t, out, "r1")
	requireContains(t, out, "errors")
	requireContains(t, out, "Complete")

	out, _, err = runCLI(t, env, "query", "history", "--json")
	if err != nil {
		t.Fatalf("query history --json: %v", err)
	}
	var runs []map[string]any
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode history json: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0]["id"] != "r1" || runs[0]["query_id"] != "errors" || runs[0]["records_total"] != float64(2) {
		t.Fatalf("history json = %v", runs)
	}
	if runs[0]["account"] != "123456789012" {
		t.Fatalf("account = %v", runs[0]["account"])
	}

	out, _, err = runCLI(t, env, "query", "history", "show", "r1")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Status:    Complete")
	requireContains(t, out, "filter @message like /ERROR/")

	out, _, err = runCLI(t, env, "query", "history", "show", "r1", "--results")
	if err != nil {
		t.Fatalf("history show --results: %v", err)
	}
	if out != want {
		t.Fatalf("cached rows = %q", out)
	}
}

func TestQueryHistoryRemoveAndRestore(t *testing.T) {
	env := setupCLITestEnv(t)
	scriptErrorsRun(env, "r1")
	if _, _, err := runCLI(t, env, "query", "-g", "app", writeQueryFile(t, errorsQuery)); err != nil {
		t.Fatalf("query: %v", err)
	}

	for i := 0; i < 2; i++ {
		out, _, err := runCLI(t, env, "query", "history", "rm", "r1")
		if err != nil {
			t.Fatalf("history rm (attempt %d): %v", i+1, err)
		}
		requireContains(t, out, "Removed run r1")
	}

	out, _, err := runCLI(t, env, "query", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No query runs recorded")

	out, _, err = runCLI(t, env, "query", "history", "--all")
	if err != nil {
		t.Fatalf("history --all: %v", err)
	}
	requireContains(t, out, "r1")
	requireContains(t, out, "DELETED")

	if _, _, err := runCLI(t, env, "query", "history", "restore", "r1"); err != nil {
		t.Fatalf("history restore: %v", err)
	}
	out, _, err = runCLI(t, env, "query", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "r1")

	if _, _, err := runCLI(t, env, "query", "history", "rm", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown run, got %v", err)
	}
}

func TestQueryWithoutCacheHasNoResults(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithResultCache(true))
	scriptErrorsRun(env, "r1")

	if _, _, err := runCLI(t, env, "query", "-g", "app", "--no-cache", writeQueryFile(t, errorsQuery)); err != nil {
		t.Fatalf("query: %v", err)
	}
	_, _, err := runCLI(t, env, "query", "history", "show", "r1", "--results")
	if err == nil {
		t.Fatal("expected missing cached results to fail")
	}
	requireContains(t, err.Error(), "no cached results")
}

func TestQueryComposedInEditor(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("app", 0)
	env.editor = writeEditorStub(t, "stats count(*) by bin(5m)")

	if _, stderr, err := runCLI(t, env, "query", "-g", "app"); err != nil {
		t.Fatalf("query: %v (stderr %s)", err, stderr)
	}
	started := env.fake.Started()
	if len(started) != 1 || strings.TrimSpace(started[0].Query) != "stats count(*) by bin(5m)" {
		t.Fatalf("started = %+v", started)
	}
	requireNotContains(t, started[0].Query, "ft=lq")
}

func TestQueryFailureIsReported(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("app", 0)
	env.fake.QueueQueryIDs("r9")
	env.fake.ScriptQuery("r9", testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryFailed},
		Reason:   "unexpected symbol",
	})

	_, _, err := runCLI(t, env, "query", "-g", "app", writeQueryFile(t, "fields @message |"))
	if !errors.Is(err, query.ErrQueryFailed) {
		t.Fatalf("expected query failure, got %v", err)
	}
	requireContains(t, err.Error(), "unexpected symbol")

	out, _, err := runCLI(t, env, "query", "history", "show", "r9")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Status:    Failed")
}

func TestQueryRequiresGroup(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env, "query", writeQueryFile(t, errorsQuery))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.fake.Started()) != 0 {
		t.Fatal("no query should be started")
	}
}

func TestQueryCancelFinishedRunIsRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	scriptErrorsRun(env, "r1")
	if _, _, err := runCLI(t, env, "query", "-g", "app", writeQueryFile(t, errorsQuery)); err != nil {
		t.Fatalf("query: %v", err)
	}

	_, _, err := runCLI(t, env, "query", "cancel", "r1")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	requireContains(t, err.Error(), "already finished")
	if env.fake.StopCalls("r1") != 0 {
		t.Fatal("finished runs must not be stopped remotely")
	}
}
