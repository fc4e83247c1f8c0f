package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cw/internal/history"
	"cw/internal/logging"
	"cw/internal/retry"
	"cw/internal/services"
	"cw/internal/timerange"
)

var (
	// ErrQueryFailed is returned when the remote service reports a run failed.
	ErrQueryFailed = errors.New("query failed")
	// ErrTimedOut is returned by Wait when the caller's timeout elapses first.
	ErrTimedOut = errors.New("query timed out")
)

// Backend is the remote query capability the runner needs.
type Backend interface {
	StartQuery(ctx context.Context, req services.StartQueryRequest) (string, error)
	GetQueryResults(ctx context.Context, queryID, token string) (services.QueryResults, error)
	StopQuery(ctx context.Context, queryID string) (bool, error)
	AccountID(ctx context.Context) (string, error)
}

// Recorder persists run records.
type Recorder interface {
	Upsert(ctx context.Context, rec history.Record) (*history.Record, error)
	Get(ctx context.Context, runID string) (*history.Record, error)
}

// ResultCache keeps completed result sets.
type ResultCache interface {
	Put(runID string, rows []services.Row) error
}

// Request describes one query submission.
type Request struct {
	QueryID string
	Query   string
	Sources []string
	Start   time.Time
	End     time.Time
	Limit   int
}

// Progress is reported after every status read.
type Progress struct {
	RunID   string
	Status  history.Status
	Elapsed time.Duration
	Stats   *services.QueryStatistics
}

// Outcome is the state of a run after a poll.
type Outcome struct {
	RunID  string
	Record *history.Record
	Rows   []services.Row
}

// Terminal reports whether the run has finished.
func (o Outcome) Terminal() bool {
	return o.Record != nil && o.Record.Status.Terminal()
}

// Options configures a Runner.
type Options struct {
	Poll        retry.Policy
	Retry       retry.Policy
	StopTimeout time.Duration
	Cache       ResultCache
	OnProgress  func(Progress)
	Clock       func() time.Time
	Sleep       func(context.Context, time.Duration) error
}

// Runner submits analytical queries, tracks them to completion and records
// every status change.
type Runner struct {
	backend Backend
	store   Recorder
	opts    Options
	logger  *slog.Logger
}

// NewRunner builds a runner.
func NewRunner(backend Backend, store Recorder, opts Options, logger *slog.Logger) *Runner {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Runner{
		backend: backend,
		store:   store,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "query"),
	}
}

// Submit validates req, starts the remote query and records the run as
// Scheduled. A failure to record the run stops the remote query again and is
// reported as services.ErrStore.
func (r *Runner) Submit(ctx context.Context, req Request) (*history.Record, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "query", "submit", "query text is empty", nil)
	}
	if len(req.Sources) == 0 {
		return nil, services.Wrap(services.ErrValidation, "query", "submit", "at least one log group is required", nil)
	}
	if req.End.IsZero() {
		req.End = r.opts.Clock()
	}
	if err := (timerange.Range{Start: req.Start, End: req.End}).Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "query", "submit", "time range", err)
	}
	queryID := strings.TrimSpace(req.QueryID)
	if queryID == "" {
		queryID = Fingerprint(text)
	}

	runID, err := retry.Do(ctx, r.opts.Retry, r.logger, func(ctx context.Context) (string, error) {
		return r.backend.StartQuery(ctx, services.StartQueryRequest{
			Groups: req.Sources,
			Query:  text,
			Start:  req.Start,
			End:    req.End,
			Limit:  int32(req.Limit),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}

	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	account, err := r.backend.AccountID(ctx)
	if err != nil {
		logger.Debug("account lookup failed; recording run without account", logging.Error(err))
	}

	rec, err := r.store.Upsert(ctx, history.Record{
		ID:       runID,
		QueryID:  queryID,
		Account:  account,
		Status:   history.MustTransition(history.StatusSubmitted, history.StatusScheduled),
		Contents: text,
	})
	if err != nil {
		r.stopRemote(ctx, runID)
		if !errors.Is(err, services.ErrStore) {
			err = services.Wrap(services.ErrStore, "query", "submit", "record run", err)
		}
		return nil, err
	}

	logger.Info("query submitted",
		logging.String("query_id", queryID),
		logging.Int("groups", len(req.Sources)),
		logging.Time("start", req.Start),
		logging.Time("end", req.End),
	)
	return rec, nil
}

// Poll reads the run's remote status once and records it. A completed run
// carries every result row; a failed run returns ErrQueryFailed with the
// remote reason.
func (r *Runner) Poll(ctx context.Context, runID string) (Outcome, error) {
	out := Outcome{RunID: runID}
	rec, err := r.store.Get(ctx, runID)
	if err != nil {
		return out, err
	}
	if rec == nil {
		return out, services.Wrap(services.ErrNotFound, "query", "poll", "run "+runID, nil)
	}
	out.Record = rec
	if rec.Status.Terminal() {
		return out, nil
	}

	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	results, err := r.fetchResults(ctx, runID, "")
	if err != nil {
		return out, fmt.Errorf("poll run %s: %w", runID, err)
	}

	next := rec.Status
	if mapped, ok := mapStatus(results.Status); ok && history.CanTransition(rec.Status, mapped) {
		next = mapped
	} else if results.Status != "" && mapped != rec.Status {
		logger.Debug("ignoring remote status", logging.String("remote_status", string(results.Status)), logging.String("status", string(rec.Status)))
	}

	update := *rec
	update.Status = next
	if stats := results.Statistics; stats != nil {
		update.RecordsMatched = float64Ptr(stats.RecordsMatched)
		update.RecordsScanned = float64Ptr(stats.RecordsScanned)
		update.BytesScanned = float64Ptr(stats.BytesScanned)
	}

	if next == history.StatusComplete {
		rows, err := r.collectRows(ctx, runID, results)
		if err != nil {
			return out, fmt.Errorf("poll run %s: %w", runID, err)
		}
		total := int64(len(rows))
		update.RecordsTotal = &total
		out.Rows = rows
	}

	stored, err := r.store.Upsert(ctx, update)
	if err != nil {
		if !errors.Is(err, services.ErrStore) {
			err = services.Wrap(services.ErrStore, "query", "poll", "record run", err)
		}
		return out, err
	}
	out.Record = stored

	if stored.Status != rec.Status {
		logger.Info("query status changed", logging.String("from", string(rec.Status)), logging.String("to", string(stored.Status)))
	}
	r.report(stored, results.Statistics)

	if stored.Status == history.StatusFailed {
		reason := strings.TrimSpace(results.Reason)
		if reason == "" {
			reason = "no reason reported"
		}
		return out, fmt.Errorf("%w: run %s: %s", ErrQueryFailed, runID, reason)
	}
	return out, nil
}

// Wait polls the run until it finishes. A positive timeout bounds the wait;
// when it elapses the run is recorded TimedOut and a single remote stop is
// issued. Cancelling ctx records the run Cancelled, stops it remotely and
// returns the context error.
func (r *Runner) Wait(ctx context.Context, runID string, timeout time.Duration) (Outcome, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := logging.WithContext(services.WithRunID(ctx, runID), r.logger)
	schedule := r.opts.Poll.NewSchedule()
	var last history.Status
	out := Outcome{RunID: runID}

	for {
		polled, err := r.Poll(waitCtx, runID)
		if polled.Record != nil {
			out = polled
		}
		switch {
		case err == nil && out.Terminal():
			return out, nil
		case waitCtx.Err() != nil:
		case err != nil && errors.Is(err, services.ErrRemote):
			logger.Warn("status read failed; will poll again", logging.Args(logging.ErrorAttrs(err)...)...)
		case err != nil:
			return out, err
		}
		if waitCtx.Err() != nil {
			break
		}

		if out.Record != nil && out.Record.Status != last {
			last = out.Record.Status
			schedule.Reset()
		}
		if err := r.opts.Sleep(waitCtx, schedule.NextBackOff()); err != nil {
			break
		}
	}

	if ctx.Err() != nil {
		abandoned := r.abandon(ctx, runID, history.StatusCancelled)
		if abandoned != nil {
			out.Record = abandoned
		}
		return out, ctx.Err()
	}
	abandoned := r.abandon(ctx, runID, history.StatusTimedOut)
	if abandoned != nil {
		out.Record = abandoned
	}
	logger.Warn("query exceeded timeout; stopped", logging.Duration("timeout", timeout))
	return out, fmt.Errorf("%w: run %s after %s", ErrTimedOut, runID, timeout)
}

// Cancel asks the remote service to stop a live run and records it Cancelled
// once acknowledged.
func (r *Runner) Cancel(ctx context.Context, runID string) (*history.Record, error) {
	rec, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrNotFound, "query", "cancel", "run "+runID, nil)
	}
	if rec.Status.Terminal() {
		return rec, services.Wrap(services.ErrValidation, "query", "cancel", fmt.Sprintf("run %s already finished (%s)", runID, rec.Status), nil)
	}

	acknowledged, err := retry.Do(ctx, r.opts.Retry, r.logger, func(ctx context.Context) (bool, error) {
		return r.backend.StopQuery(ctx, runID)
	})
	if err != nil {
		return rec, fmt.Errorf("stop run %s: %w", runID, err)
	}
	if !acknowledged {
		return rec, services.Wrap(services.ErrRejected, "query", "cancel", "remote service did not acknowledge stop for run "+runID, nil)
	}

	update := *rec
	update.Status = history.MustTransition(rec.Status, history.StatusCancelled)
	stored, err := r.store.Upsert(ctx, update)
	if err != nil {
		return rec, err
	}
	logging.WithContext(services.WithRunID(ctx, runID), r.logger).Info("query cancelled")
	return stored, nil
}

// Run submits req and waits for it to finish. Completed result sets are
// written to the result cache when one is configured.
func (r *Runner) Run(ctx context.Context, req Request, timeout time.Duration) (Outcome, error) {
	rec, err := r.Submit(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	r.report(rec, nil)

	out, err := r.Wait(ctx, rec.ID, timeout)
	if err != nil {
		return out, err
	}
	if r.opts.Cache != nil && out.Record != nil && out.Record.Status == history.StatusComplete {
		if err := r.opts.Cache.Put(rec.ID, out.Rows); err != nil {
			logging.WithContext(services.WithRunID(ctx, rec.ID), r.logger).Warn("result cache write failed", logging.Error(err))
		}
	}
	return out, nil
}

func (r *Runner) fetchResults(ctx context.Context, runID, token string) (services.QueryResults, error) {
	return retry.Do(ctx, r.opts.Retry, r.logger, func(ctx context.Context) (services.QueryResults, error) {
		return r.backend.GetQueryResults(ctx, runID, token)
	})
}

func (r *Runner) collectRows(ctx context.Context, runID string, first services.QueryResults) ([]services.Row, error) {
	rows := make([]services.Row, 0, len(first.Rows))
	page := first
	for {
		for _, row := range page.Rows {
			rows = append(rows, dropPointer(row))
		}
		if page.NextToken == "" {
			return rows, nil
		}
		token := page.NextToken
		next, err := r.fetchResults(ctx, runID, token)
		if err != nil {
			return nil, err
		}
		if next.NextToken == token {
			next.NextToken = ""
		}
		page = next
	}
}

// abandon stops the run with a short deadline that survives ctx being
// cancelled, then records the local status.
func (r *Runner) abandon(ctx context.Context, runID string, status history.Status) *history.Record {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.StopTimeout)
	defer cancel()

	r.stopRemote(stopCtx, runID)

	rec, err := r.store.Get(stopCtx, runID)
	if err != nil || rec == nil || rec.Status.Terminal() {
		return rec
	}
	update := *rec
	update.Status = history.MustTransition(rec.Status, status)
	stored, err := r.store.Upsert(stopCtx, update)
	if err != nil {
		r.logger.Warn("record abandoned run failed", logging.Run(runID), logging.Error(err))
		return rec
	}
	return stored
}

// stopRemote issues exactly one stop request and only logs its failure.
func (r *Runner) stopRemote(ctx context.Context, runID string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.StopTimeout)
	defer cancel()
	if _, err := r.backend.StopQuery(stopCtx, runID); err != nil {
		r.logger.Warn("remote stop failed", logging.Run(runID), logging.Error(err))
	}
}

func (r *Runner) report(rec *history.Record, stats *services.QueryStatistics) {
	if r.opts.OnProgress == nil || rec == nil {
		return
	}
	r.opts.OnProgress(Progress{
		RunID:   rec.ID,
		Status:  rec.Status,
		Elapsed: r.opts.Clock().Sub(rec.CreatedAt),
		Stats:   stats,
	})
}

func mapStatus(status services.QueryStatus) (history.Status, bool) {
	switch status {
	case services.QueryScheduled:
		return history.StatusScheduled, true
	case services.QueryRunning:
		return history.StatusRunning, true
	case services.QueryComplete:
		return history.StatusComplete, true
	case services.QueryFailed:
		return history.StatusFailed, true
	case services.QueryCancelled:
		return history.StatusCancelled, true
	case services.QueryTimeout:
		return history.StatusTimedOut, true
	default:
		return "", false
	}
}

// dropPointer removes the service's internal record pointer from a row.
func dropPointer(row services.Row) services.Row {
	out := make(services.Row, 0, len(row))
	for _, field := range row {
		if field.Name == "@ptr" {
			continue
		}
		out = append(out, field)
	}
	return out
}

func float64Ptr(v float64) *float64 {
	return &v
}
