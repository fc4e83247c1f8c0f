package tail

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"cw/internal/logging"
	"cw/internal/retry"
	"cw/internal/services"
	"cw/internal/sources"
)

// Options configures a tail run.
type Options struct {
	Filter        string
	Start         time.Time
	End           time.Time
	Follow        bool
	PageLimit     int
	Window        int
	BufferBatches int
	Retry         retry.Policy
	FollowPolicy  retry.Policy
	SettleDelay   time.Duration
	Clock         func() time.Time
	Sleep         func(context.Context, time.Duration) error
}

// TargetError is a failure confined to one target.
type TargetError struct {
	Target sources.Target
	Err    error
}

func (e *TargetError) Error() string {
	return e.Target.String() + ": " + e.Err.Error()
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// Stats summarizes a tail run.
type Stats struct {
	Emitted    int
	Duplicates int
	Late       int
	Failures   []TargetError
}

// Engine fans out one fetch worker per target and merges their output into a
// single stream ordered by timestamp.
type Engine struct {
	src    EventSource
	opts   Options
	logger *slog.Logger
}

// update is what a worker publishes to the merge loop. A worker never
// produces an event older than its latest frontier; a zero frontier leaves
// the previous one in place.
type update struct {
	events     []Event
	frontier   time.Time
	duplicates int
	done       bool
	err        error
}

type lane struct {
	target   sources.Target
	ch       chan update
	queue    []Event
	frontier time.Time
	done     bool
}

// NewEngine builds an engine reading from src.
func NewEngine(src EventSource, opts Options, logger *slog.Logger) *Engine {
	if opts.Window < 1 {
		opts.Window = DefaultWindow
	}
	if opts.BufferBatches < 1 {
		opts.BufferBatches = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Engine{
		src:    src,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "tail"),
	}
}

// Run tails targets until every one is exhausted (one-shot) or ctx is
// cancelled (follow), calling emit for each event in non-decreasing
// timestamp order. Cancellation or expiry of ctx is not an error. An unauthorized
// failure aborts the run; other failures are confined to their target and
// reported in Stats, unless every target fails.
func (e *Engine) Run(ctx context.Context, targets []sources.Target, emit func(Event) error) (Stats, error) {
	var stats Stats
	if len(targets) == 0 {
		return stats, services.Wrap(services.ErrValidation, "tail", "run", "no targets to tail", nil)
	}
	if e.opts.Follow && !e.opts.End.IsZero() {
		return stats, services.Wrap(services.ErrValidation, "tail", "run", "an end time cannot be combined with follow", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)

	lanes := make([]*lane, len(targets))
	for i, target := range targets {
		l := &lane{target: target, ch: make(chan update, e.opts.BufferBatches)}
		lanes[i] = l
		group.Go(func() error {
			e.work(groupCtx, target, l.ch)
			return nil
		})
	}

	err := e.merge(runCtx, lanes, emit, &stats)
	cancel()
	_ = group.Wait()

	e.logger.Debug("tail finished",
		logging.Int("emitted", stats.Emitted),
		logging.Int("duplicates", stats.Duplicates),
		logging.Int("late", stats.Late),
		logging.Int("failed_targets", len(stats.Failures)),
	)

	if err != nil {
		if ctx.Err() != nil && (services.IsCancellation(err) || errors.Is(err, context.DeadlineExceeded)) {
			return stats, nil
		}
		return stats, err
	}
	if len(stats.Failures) == len(targets) {
		errs := make([]error, 0, len(stats.Failures))
		for i := range stats.Failures {
			errs = append(errs, &stats.Failures[i])
		}
		return stats, errors.Join(errs...)
	}
	return stats, nil
}

func (e *Engine) merge(ctx context.Context, lanes []*lane, emit func(Event) error, stats *Stats) error {
	window := NewWindow(e.opts.Window)
	var last time.Time
	emittedAny := false

	for {
		var waitOn []*lane
		cand := earliest(lanes)
		if cand == nil {
			for _, l := range lanes {
				if !l.done {
					waitOn = append(waitOn, l)
				}
			}
			if len(waitOn) == 0 {
				return nil
			}
		} else {
			ts := cand.queue[0].Timestamp
			for _, l := range lanes {
				if !l.done && len(l.queue) == 0 && !l.frontier.After(ts) {
					waitOn = append(waitOn, l)
				}
			}
		}

		if len(waitOn) > 0 {
			if err := e.receive(ctx, waitOn, stats); err != nil {
				return err
			}
			continue
		}

		ev := cand.queue[0]
		cand.queue = cand.queue[1:]
		switch {
		case !window.Observe(ev.Identity()):
			stats.Duplicates++
		case emittedAny && ev.Timestamp.Before(last):
			stats.Late++
			e.logger.Warn("dropping late event older than output",
				logging.Target(cand.target.String()),
				logging.String("event_id", ev.ID),
				logging.Time("timestamp", ev.Timestamp),
				logging.Time("last_emitted", last),
			)
		default:
			if err := emit(ev); err != nil {
				return err
			}
			stats.Emitted++
			last = ev.Timestamp
			emittedAny = true
		}
	}
}

// earliest returns the lane whose queued head sorts first, or nil when every
// queue is empty.
func earliest(lanes []*lane) *lane {
	var best *lane
	for _, l := range lanes {
		if len(l.queue) == 0 {
			continue
		}
		if best == nil || l.queue[0].Less(best.queue[0]) {
			best = l
		}
	}
	return best
}

// receive blocks until one of the given lanes publishes or ctx is done.
// Lanes outside waitOn are not read, so their full channels hold back their
// workers.
func (e *Engine) receive(ctx context.Context, waitOn []*lane, stats *Stats) error {
	cases := make([]reflect.SelectCase, 0, len(waitOn)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, l := range waitOn {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.ch)})
	}
	chosen, value, ok := reflect.Select(cases)
	if chosen == 0 {
		return ctx.Err()
	}
	l := waitOn[chosen-1]
	if !ok {
		l.done = true
		return nil
	}
	return e.apply(l, value.Interface().(update), stats)
}

func (e *Engine) apply(l *lane, u update, stats *Stats) error {
	l.queue = append(l.queue, u.events...)
	if u.frontier.After(l.frontier) {
		l.frontier = u.frontier
	}
	stats.Duplicates += u.duplicates
	if u.done {
		l.done = true
	}
	if u.err == nil || services.IsCancellation(u.err) {
		return nil
	}
	if errors.Is(u.err, services.ErrUnauthorized) {
		return u.err
	}
	stats.Failures = append(stats.Failures, TargetError{Target: l.target, Err: u.err})
	attrs := append([]logging.Attr{logging.Target(l.target.String())}, logging.ErrorAttrs(u.err)...)
	e.logger.Warn("target failed; continuing with remaining targets", logging.Args(attrs...)...)
	return nil
}

func (e *Engine) work(ctx context.Context, target sources.Target, out chan<- update) {
	ctx = services.WithTarget(ctx, target.String())
	logger := logging.WithContext(ctx, e.logger)
	fetcher := NewFetcher(e.src, target, e.opts, logger)
	schedule := e.opts.FollowPolicy.NewSchedule()

	for {
		pollStart := e.opts.Clock()
		result, err := fetcher.Pass(ctx, func(batch []Event) error {
			return send(ctx, out, update{events: batch, frontier: batch[len(batch)-1].Timestamp})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = send(ctx, out, update{duplicates: result.Duplicates, done: true, err: err})
			return
		}
		if !e.opts.Follow {
			_ = send(ctx, out, update{duplicates: result.Duplicates, done: true})
			return
		}

		frontier := pollStart.Add(-e.opts.SettleDelay)
		if watermark := fetcher.Watermark(); watermark.After(frontier) {
			frontier = watermark
		}
		if err := send(ctx, out, update{frontier: frontier, duplicates: result.Duplicates}); err != nil {
			return
		}

		var wait time.Duration
		if result.Events > 0 {
			schedule.Reset()
			wait = e.opts.FollowPolicy.Delay(0)
		} else {
			wait = schedule.NextBackOff()
		}
		logger.Debug("follow poll waiting", logging.Duration("wait", wait), logging.Int("empty_polls", schedule.Misses()))
		if err := e.opts.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

func send(ctx context.Context, out chan<- update, u update) error {
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
