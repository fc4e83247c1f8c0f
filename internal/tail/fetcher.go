package tail

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cw/internal/logging"
	"cw/internal/retry"
	"cw/internal/services"
	"cw/internal/sources"
)

// EventSource is the remote read capability the tail needs.
type EventSource interface {
	FilterEvents(ctx context.Context, req services.FilterRequest) (services.FilterPage, error)
}

// PassResult summarizes one fetch pass.
type PassResult struct {
	Events     int
	Duplicates int
	Latest     time.Time
}

// Fetcher reads one target in passes over [watermark, end). Each pass follows
// continuation tokens to exhaustion; the next pass restarts at the latest
// timestamp seen so far, inclusive, and the identity window collapses the
// overlap. A Fetcher is not safe for concurrent use.
type Fetcher struct {
	src       EventSource
	target    sources.Target
	filter    string
	end       time.Time
	pageLimit int32
	policy    retry.Policy
	logger    *slog.Logger

	watermark time.Time
	window    *Window
}

// NewFetcher builds a fetcher for target starting at opts.Start.
func NewFetcher(src EventSource, target sources.Target, opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		src:       src,
		target:    target,
		filter:    opts.Filter,
		end:       opts.End,
		pageLimit: int32(opts.PageLimit),
		policy:    opts.Retry,
		logger:    logger,
		watermark: opts.Start,
		window:    NewWindow(opts.Window),
	}
}

// Watermark returns the start of the next pass.
func (f *Fetcher) Watermark() time.Time {
	return f.watermark
}

// Pass runs one pass and hands each page's new events to emit, in order.
// Pages are emitted as they arrive; emit errors abort the pass.
func (f *Fetcher) Pass(ctx context.Context, emit func([]Event) error) (PassResult, error) {
	var result PassResult
	req := f.request()
	pages := 0
	for {
		page, err := retry.Do(ctx, f.policy, f.logger, func(ctx context.Context) (services.FilterPage, error) {
			return f.src.FilterEvents(ctx, req)
		})
		if err != nil {
			return result, fmt.Errorf("fetch %s: %w", f.target, err)
		}
		pages++

		batch := make([]Event, 0, len(page.Events))
		for _, remote := range page.Events {
			batch = append(batch, fromRemote(f.target.Source, remote))
		}
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Less(batch[j]) })

		fresh := batch[:0]
		for _, ev := range batch {
			if !f.window.Observe(ev.Identity()) {
				result.Duplicates++
				continue
			}
			fresh = append(fresh, ev)
			if ev.Timestamp.After(result.Latest) {
				result.Latest = ev.Timestamp
			}
		}
		if len(fresh) > 0 {
			result.Events += len(fresh)
			if err := emit(fresh); err != nil {
				return result, err
			}
		}

		if page.NextToken == "" || page.NextToken == req.Token {
			break
		}
		req.Token = page.NextToken
	}

	if result.Latest.After(f.watermark) {
		f.watermark = result.Latest
	}
	f.logger.Debug("fetch pass complete",
		logging.Int("pages", pages),
		logging.Int("events", result.Events),
		logging.Int("duplicates", result.Duplicates),
		logging.Time("watermark", f.watermark),
	)
	return result, nil
}

func (f *Fetcher) request() services.FilterRequest {
	req := services.FilterRequest{
		Group:  f.target.Source,
		Filter: f.filter,
		Start:  f.watermark,
		End:    f.end,
		Limit:  f.pageLimit,
	}
	switch {
	case f.target.SubStream == "":
	case f.target.IsPrefix:
		req.StreamPrefix = f.target.SubStream
	default:
		req.Streams = []string{f.target.SubStream}
	}
	return req
}
