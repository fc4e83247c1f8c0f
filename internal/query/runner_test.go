package query_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cw/internal/history"
	"cw/internal/logging"
	"cw/internal/query"
	"cw/internal/retry"
	"cw/internal/services"
	"cw/internal/testsupport"
)

const sampleQuery = "fields @timestamp, @message\n| filter @message like /ERROR/"

func newRunner(t *testing.T, fake *testsupport.FakeLogService, store query.Recorder, mutate ...func(*query.Options)) *query.Runner {
	t.Helper()
	opts := query.Options{
		Poll:        retry.Policy{Base: time.Millisecond, Factor: 2, Max: 4 * time.Millisecond},
		Retry:       retry.Policy{Base: time.Millisecond, Factor: 2, Max: 2 * time.Millisecond, MaxAttempts: 2},
		StopTimeout: time.Second,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return query.NewRunner(fake, store, opts, logging.NewNop())
}

func newFake() *testsupport.FakeLogService {
	fake := testsupport.NewFakeLogService()
	fake.AddGroup("app", 0)
	return fake
}

func request(queryID string) query.Request {
	end := time.Now()
	return query.Request{
		QueryID: queryID,
		Query:   sampleQuery,
		Sources: []string{"app"},
		Start:   end.Add(-time.Hour),
		End:     end,
		Limit:   100,
	}
}

func TestPollWalksScheduledRunningComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryScheduled, services.QueryRunning, services.QueryComplete},
		Rows: []services.Row{
			{{Name: "@timestamp", Value: "2026-03-10 12:00:00.000"}, {Name: "@message", Value: "ERROR one"}, {Name: "@ptr", Value: "abc"}},
			{{Name: "@timestamp", Value: "2026-03-10 12:00:01.000"}, {Name: "@message", Value: "ERROR two"}, {Name: "@ptr", Value: "def"}},
		},
		Stats: &services.QueryStatistics{RecordsMatched: 2, RecordsScanned: 500, BytesScanned: 4096},
	})
	runner := newRunner(t, fake, store)
	ctx := context.Background()

	rec, err := runner.Submit(ctx, request("q1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID != "r1" || rec.QueryID != "q1" || rec.Status != history.StatusScheduled {
		t.Fatalf("unexpected submitted record: %+v", rec)
	}
	if rec.Account != "123456789012" {
		t.Fatalf("account = %q", rec.Account)
	}

	want := []history.Status{history.StatusScheduled, history.StatusRunning, history.StatusComplete}
	for i, status := range want {
		out, err := runner.Poll(ctx, "r1")
		if err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
		stored, err := store.Get(ctx, "r1")
		if err != nil || stored == nil {
			t.Fatalf("Get after poll %d: %v", i+1, err)
		}
		if stored.Status != status {
			t.Fatalf("after poll %d status = %s, want %s", i+1, stored.Status, status)
		}
		if status != history.StatusComplete && stored.RecordsTotal != nil {
			t.Fatalf("records_total set before completion at poll %d", i+1)
		}
		if status == history.StatusComplete {
			if stored.RecordsTotal == nil || *stored.RecordsTotal != 2 {
				t.Fatalf("records_total = %v, want 2", stored.RecordsTotal)
			}
			if len(out.Rows) != 2 {
				t.Fatalf("rows = %d, want 2", len(out.Rows))
			}
			for _, row := range out.Rows {
				for _, field := range row {
					if field.Name == "@ptr" {
						t.Fatal("@ptr should be dropped from results")
					}
				}
			}
			if stored.BytesScanned == nil || *stored.BytesScanned != 4096 {
				t.Fatalf("bytes_scanned = %v", stored.BytesScanned)
			}
		}
	}

	started := fake.Started()
	if len(started) != 1 || started[0].Limit != 100 || started[0].Groups[0] != "app" {
		t.Fatalf("unexpected start request: %+v", started)
	}
}

func TestWaitTimesOutAndStopsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{Statuses: []services.QueryStatus{services.QueryRunning}})
	runner := newRunner(t, fake, store)
	ctx := context.Background()

	if _, err := runner.Submit(ctx, request("q1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, err := runner.Wait(ctx, "r1", 30*time.Millisecond)
	if !errors.Is(err, query.ErrTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if out.Record == nil || out.Record.Status != history.StatusTimedOut {
		t.Fatalf("outcome record = %+v", out.Record)
	}
	stored, _ := store.Get(ctx, "r1")
	if stored.Status != history.StatusTimedOut {
		t.Fatalf("stored status = %s, want TimedOut", stored.Status)
	}
	if calls := fake.StopCalls("r1"); calls != 1 {
		t.Fatalf("stop calls = %d, want exactly 1", calls)
	}
	if fake.Polls("r1") < 2 {
		t.Fatalf("expected repeated polling before timeout, got %d", fake.Polls("r1"))
	}
}

func TestWaitReturnsFailureReason(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryRunning, services.QueryFailed},
		Reason:   "field @foo does not exist",
	})
	runner := newRunner(t, fake, store)

	out, err := runner.Run(context.Background(), request(""), time.Minute)
	if !errors.Is(err, query.ErrQueryFailed) {
		t.Fatalf("expected query failure, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "field @foo does not exist") {
		t.Fatalf("error should carry the remote reason: %v", err)
	}
	if out.Record == nil || out.Record.Status != history.StatusFailed {
		t.Fatalf("record = %+v", out.Record)
	}
	if out.Record.QueryID != query.Fingerprint(sampleQuery) {
		t.Fatalf("query id = %s, want fingerprint", out.Record.QueryID)
	}
	if fake.StopCalls("r1") != 0 {
		t.Fatal("a failed run should not be stopped")
	}
}

func TestWaitMapsRemoteCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{Statuses: []services.QueryStatus{services.QueryTimeout}})
	runner := newRunner(t, fake, store)

	out, err := runner.Run(context.Background(), request("q1"), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Record.Status != history.StatusTimedOut {
		t.Fatalf("status = %s, want TimedOut", out.Record.Status)
	}
}

func TestWaitCancelledByCaller(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{Statuses: []services.QueryStatus{services.QueryRunning}})
	runner := newRunner(t, fake, store)

	if _, err := runner.Submit(context.Background(), request("q1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for fake.Polls("r1") < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := runner.Wait(ctx, "r1", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	stored, _ := store.Get(context.Background(), "r1")
	if stored.Status != history.StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", stored.Status)
	}
	if fake.StopCalls("r1") != 1 {
		t.Fatalf("stop calls = %d, want 1", fake.StopCalls("r1"))
	}
}

func TestCancelStopsLiveRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{Statuses: []services.QueryStatus{services.QueryRunning}})
	runner := newRunner(t, fake, store)
	ctx := context.Background()

	if _, err := runner.Submit(ctx, request("q1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := runner.Cancel(ctx, "r1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec.Status != history.StatusCancelled {
		t.Fatalf("status = %s", rec.Status)
	}
	if _, err := runner.Cancel(ctx, "r1"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("cancelling a finished run should fail validation, got %v", err)
	}
	if _, err := runner.Cancel(ctx, "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, newFake(), store)
	ctx := context.Background()

	empty := request("q1")
	empty.Query = "   "
	noSources := request("q1")
	noSources.Sources = nil
	backwards := request("q1")
	backwards.Start, backwards.End = backwards.End, backwards.Start

	for name, req := range map[string]query.Request{"empty": empty, "no sources": noSources, "backwards": backwards} {
		if _, err := runner.Submit(ctx, req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestSubmitStoreFailureStopsRemoteRun(t *testing.T) {
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{Statuses: []services.QueryStatus{services.QueryRunning}})
	runner := newRunner(t, fake, failingRecorder{})

	_, err := runner.Submit(context.Background(), request("q1"))
	if !errors.Is(err, services.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if fake.StopCalls("r1") != 1 {
		t.Fatalf("stop calls = %d, want 1", fake.StopCalls("r1"))
	}
}

func TestSubmitDoesNotRetryUnauthorizedStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.FailStart(services.Wrap(services.ErrUnauthorized, "test", "start", "expired", nil))
	runner := newRunner(t, fake, store)

	if _, err := runner.Submit(context.Background(), request("q1")); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(fake.Started()) != 0 {
		t.Fatal("no query should have started")
	}
}

func TestRunCachesCompletedResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryComplete},
		Rows:     []services.Row{{{Name: "count", Value: "7"}}},
	})
	cache := &memoryCache{}
	var progress []history.Status
	runner := newRunner(t, fake, store, func(o *query.Options) {
		o.Cache = cache
		o.OnProgress = func(p query.Progress) { progress = append(progress, p.Status) }
	})

	out, err := runner.Run(context.Background(), request("q1"), time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d", len(out.Rows))
	}
	if got := cache.get("r1"); len(got) != 1 || got[0][0].Value != "7" {
		t.Fatalf("cached rows = %+v", got)
	}
	if len(progress) < 2 || progress[0] != history.StatusScheduled || progress[len(progress)-1] != history.StatusComplete {
		t.Fatalf("progress = %v", progress)
	}
}

func TestFingerprintIgnoresWhitespace(t *testing.T) {
	a := query.Fingerprint("fields @message\n  | limit 5")
	b := query.Fingerprint("  fields @message | limit 5 ")
	if a != b || len(a) != 16 {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if a == query.Fingerprint("fields @message | limit 6") {
		t.Fatal("different queries should not share a fingerprint")
	}
}

type failingRecorder struct{}

func (failingRecorder) Upsert(context.Context, history.Record) (*history.Record, error) {
	return nil, errors.New("disk I/O error")
}

func (failingRecorder) Get(context.Context, string) (*history.Record, error) {
	return nil, nil
}

type memoryCache struct {
	mu   sync.Mutex
	rows map[string][]services.Row
}

func (c *memoryCache) Put(runID string, rows []services.Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows == nil {
		c.rows = make(map[string][]services.Row)
	}
	c.rows[runID] = rows
	return nil
}

func (c *memoryCache) get(runID string) []services.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[runID]
}

// completionStallRecorder stores records normally, then holds a Complete
// write until ctx expires, so the wait deadline passes right after the run
// finished.
type completionStallRecorder struct {
	*history.Store
}

func (r completionStallRecorder) Upsert(ctx context.Context, rec history.Record) (*history.Record, error) {
	stored, err := r.Store.Upsert(context.WithoutCancel(ctx), rec)
	if err == nil && stored.Status == history.StatusComplete {
		<-ctx.Done()
	}
	return stored, err
}

func TestWaitKeepsCompletionWhenTimeoutExpiresAfterIt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := newFake()
	fake.QueueQueryIDs("r1")
	fake.ScriptQuery("r1", testsupport.QueryScript{
		Statuses: []services.QueryStatus{services.QueryComplete},
		Rows:     []services.Row{{{Name: "count", Value: "1"}}},
	})
	runner := newRunner(t, fake, completionStallRecorder{Store: store})
	ctx := context.Background()

	if _, err := runner.Submit(ctx, request("q1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, err := runner.Wait(ctx, "r1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Record == nil || out.Record.Status != history.StatusComplete {
		t.Fatalf("outcome record = %+v, want Complete", out.Record)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(out.Rows))
	}
	if stops := fake.StopCalls("r1"); stops != 0 {
		t.Fatalf("finished run received %d stop requests", stops)
	}
}
