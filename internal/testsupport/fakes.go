package testsupport

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cw/internal/services"
)

// QueryScript drives a fake query run. Each GetQueryResults call without a
// token consumes the next status; the last status repeats once reached.
type QueryScript struct {
	Statuses []services.QueryStatus
	Rows     []services.Row
	Stats    *services.QueryStatistics
	Reason   string
}

type fakeQuery struct {
	script  QueryScript
	polls   int
	stops   int
	stopped bool
	request services.StartQueryRequest
}

// FakeLogService is an in-memory services.LogService. It is safe for
// concurrent use.
type FakeLogService struct {
	mu sync.Mutex

	account  string
	pageSize int

	groups  map[string]services.LogGroup
	streams map[string][]services.LogStream
	events  map[string][]services.RemoteEvent

	filterErrs   map[string][]error
	stickyErrs   map[string]error
	filterCalls  map[string]int
	onFilter     func(call int, req services.FilterRequest)
	totalFilters int

	queries      map[string]*fakeQuery
	nextQueryIDs []string
	queryCount   int
	startErr     error
	started      []services.StartQueryRequest
}

// NewFakeLogService returns an empty fake with a fixed account id.
func NewFakeLogService() *FakeLogService {
	return &FakeLogService{
		account:     "123456789012",
		groups:      make(map[string]services.LogGroup),
		streams:     make(map[string][]services.LogStream),
		events:      make(map[string][]services.RemoteEvent),
		filterErrs:  make(map[string][]error),
		stickyErrs:  make(map[string]error),
		filterCalls: make(map[string]int),
		queries:     make(map[string]*fakeQuery),
	}
}

// SetPageSize caps every listing, event and row page. Zero disables paging.
func (f *FakeLogService) SetPageSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = size
}

// AddGroup registers a log group. retentionDays of zero means never expire.
func (f *FakeLogService) AddGroup(name string, retentionDays int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[name] = services.LogGroup{
		Name:          name,
		ARN:           "arn:aws:logs:us-east-1:" + f.account + ":log-group:" + name,
		RetentionDays: retentionDays,
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddStream registers a stream in group with the given last event time.
func (f *FakeLogService) AddStream(group, name string, lastEvent time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[group] = append(f.streams[group], services.LogStream{
		Name:         name,
		CreatedAt:    lastEvent.Add(-time.Hour),
		FirstEventAt: lastEvent.Add(-time.Hour),
		LastEventAt:  lastEvent,
	})
}

// AddEvents appends events to group. Streams referenced by the events are
// registered when missing.
func (f *FakeLogService) AddEvents(group string, events ...services.RemoteEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		if !f.hasStreamLocked(group, ev.Stream) {
			f.streams[group] = append(f.streams[group], services.LogStream{
				Name:         ev.Stream,
				CreatedAt:    ev.Timestamp,
				FirstEventAt: ev.Timestamp,
				LastEventAt:  ev.Timestamp,
			})
		}
		f.events[group] = append(f.events[group], ev)
	}
}

// FailFilter queues one-shot errors returned by successive FilterEvents calls
// against group.
func (f *FakeLogService) FailFilter(group string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterErrs[group] = append(f.filterErrs[group], errs...)
}

// FailFilterAlways makes every FilterEvents call against group return err.
func (f *FakeLogService) FailFilterAlways(group string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stickyErrs[group] = err
}

// OnFilter installs a hook invoked before each FilterEvents call is served.
// The hook runs without the fake's lock held and may add events.
func (f *FakeLogService) OnFilter(hook func(call int, req services.FilterRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFilter = hook
}

// FilterCalls reports how many FilterEvents calls group has received.
func (f *FakeLogService) FilterCalls(group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterCalls[group]
}

// ScriptQuery installs the behavior of the query run with the given id.
func (f *FakeLogService) ScriptQuery(id string, script QueryScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queries[id]; ok {
		q.script = script
		return
	}
	f.queries[id] = &fakeQuery{script: script}
}

// QueueQueryIDs sets the ids handed out by subsequent StartQuery calls.
func (f *FakeLogService) QueueQueryIDs(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextQueryIDs = append(f.nextQueryIDs, ids...)
}

// FailStart makes StartQuery return err until cleared with nil.
func (f *FakeLogService) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Started returns the submitted query requests in order.
func (f *FakeLogService) Started() []services.StartQueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.StartQueryRequest(nil), f.started...)
}

// StopCalls reports how many StopQuery calls the run received.
func (f *FakeLogService) StopCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queries[id]; ok {
		return q.stops
	}
	return 0
}

// Polls reports how many status reads the run received.
func (f *FakeLogService) Polls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queries[id]; ok {
		return q.polls
	}
	return 0
}

func (f *FakeLogService) ListGroups(ctx context.Context, query services.GroupQuery) (services.GroupPage, error) {
	if err := ctx.Err(); err != nil {
		return services.GroupPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.groups))
	for name := range f.groups {
		switch {
		case query.Prefix != "" && !strings.HasPrefix(name, query.Prefix):
		case query.Pattern != "" && !strings.Contains(name, query.Pattern):
		default:
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start, end, next, err := f.pageLocked(query.Token, len(names))
	if err != nil {
		return services.GroupPage{}, err
	}
	page := services.GroupPage{NextToken: next}
	for _, name := range names[start:end] {
		page.Groups = append(page.Groups, f.groups[name])
	}
	return page, nil
}

func (f *FakeLogService) ListStreams(ctx context.Context, query services.StreamQuery) (services.StreamPage, error) {
	if err := ctx.Err(); err != nil {
		return services.StreamPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.groups[query.Group]; !ok {
		return services.StreamPage{}, services.Wrap(services.ErrNotFound, "fake", "list streams", "log group "+query.Group, nil)
	}
	var streams []services.LogStream
	for _, stream := range f.streams[query.Group] {
		if strings.HasPrefix(stream.Name, query.Prefix) {
			streams = append(streams, stream)
		}
	}
	if query.Prefix != "" {
		sort.Slice(streams, func(i, j int) bool { return streams[i].Name < streams[j].Name })
	} else {
		sort.SliceStable(streams, func(i, j int) bool { return streams[i].LastEventAt.After(streams[j].LastEventAt) })
	}

	start, end, next, err := f.pageLocked(query.Token, len(streams))
	if err != nil {
		return services.StreamPage{}, err
	}
	return services.StreamPage{Streams: streams[start:end], NextToken: next}, nil
}

func (f *FakeLogService) FilterEvents(ctx context.Context, req services.FilterRequest) (services.FilterPage, error) {
	if err := ctx.Err(); err != nil {
		return services.FilterPage{}, err
	}

	f.mu.Lock()
	f.totalFilters++
	call := f.totalFilters
	hook := f.onFilter
	f.mu.Unlock()
	if hook != nil {
		hook(call, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls[req.Group]++

	if queued := f.filterErrs[req.Group]; len(queued) > 0 {
		f.filterErrs[req.Group] = queued[1:]
		return services.FilterPage{}, queued[0]
	}
	if err := f.stickyErrs[req.Group]; err != nil {
		return services.FilterPage{}, err
	}
	if _, ok := f.groups[req.Group]; !ok {
		return services.FilterPage{}, services.Wrap(services.ErrNotFound, "fake", "filter events", "log group "+req.Group, nil)
	}

	var matched []services.RemoteEvent
	for _, ev := range f.events[req.Group] {
		if !req.Start.IsZero() && ev.Timestamp.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && !ev.Timestamp.Before(req.End) {
			continue
		}
		if !streamSelected(req, ev.Stream) {
			continue
		}
		if req.Filter != "" && !strings.Contains(ev.Message, req.Filter) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })

	size := f.pageSize
	if req.Limit > 0 && (size == 0 || int(req.Limit) < size) {
		size = int(req.Limit)
	}
	start, end, next, err := pageBounds(req.Token, len(matched), size)
	if err != nil {
		return services.FilterPage{}, err
	}
	return services.FilterPage{Events: append([]services.RemoteEvent(nil), matched[start:end]...), NextToken: next}, nil
}

func (f *FakeLogService) StartQuery(ctx context.Context, req services.StartQueryRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	for _, group := range req.Groups {
		if _, ok := f.groups[group]; !ok {
			return "", services.Wrap(services.ErrNotFound, "fake", "start query", "log group "+group, nil)
		}
	}

	var id string
	if len(f.nextQueryIDs) > 0 {
		id = f.nextQueryIDs[0]
		f.nextQueryIDs = f.nextQueryIDs[1:]
	} else {
		f.queryCount++
		id = fmt.Sprintf("query-%d", f.queryCount)
	}
	q, ok := f.queries[id]
	if !ok {
		q = &fakeQuery{script: QueryScript{Statuses: []services.QueryStatus{services.QueryComplete}}}
		f.queries[id] = q
	}
	q.request = req
	f.started = append(f.started, req)
	return id, nil
}

func (f *FakeLogService) GetQueryResults(ctx context.Context, queryID, token string) (services.QueryResults, error) {
	if err := ctx.Err(); err != nil {
		return services.QueryResults{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.queries[queryID]
	if !ok {
		return services.QueryResults{}, services.Wrap(services.ErrNotFound, "fake", "get query results", "query "+queryID, nil)
	}

	var status services.QueryStatus
	switch {
	case q.stopped:
		status = services.QueryCancelled
	case len(q.script.Statuses) == 0:
		status = services.QueryComplete
	default:
		idx := q.polls
		if idx >= len(q.script.Statuses) {
			idx = len(q.script.Statuses) - 1
		}
		status = q.script.Statuses[idx]
	}
	if token == "" {
		q.polls++
	}

	results := services.QueryResults{Status: status, Statistics: q.script.Stats}
	switch status {
	case services.QueryFailed:
		results.Reason = q.script.Reason
	case services.QueryComplete:
		start, end, next, err := f.pageLocked(token, len(q.script.Rows))
		if err != nil {
			return services.QueryResults{}, err
		}
		results.Rows = q.script.Rows[start:end]
		results.NextToken = next
	}
	return results, nil
}

func (f *FakeLogService) StopQuery(ctx context.Context, queryID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.queries[queryID]
	if !ok {
		return false, services.Wrap(services.ErrNotFound, "fake", "stop query", "query "+queryID, nil)
	}
	q.stops++
	if q.stopped {
		return false, nil
	}
	q.stopped = true
	return true, nil
}

func (f *FakeLogService) AccountID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.account, nil
}

func (f *FakeLogService) hasStreamLocked(group, name string) bool {
	for _, stream := range f.streams[group] {
		if stream.Name == name {
			return true
		}
	}
	return false
}

func (f *FakeLogService) pageLocked(token string, total int) (int, int, string, error) {
	return pageBounds(token, total, f.pageSize)
}

func streamSelected(req services.FilterRequest, stream string) bool {
	if len(req.Streams) > 0 {
		for _, name := range req.Streams {
			if name == stream {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(stream, req.StreamPrefix)
}

func pageBounds(token string, total, size int) (int, int, string, error) {
	start := 0
	if token != "" {
		offset, err := strconv.Atoi(strings.TrimPrefix(token, "page-"))
		if err != nil || offset < 0 || offset > total {
			return 0, 0, "", services.Wrap(services.ErrRejected, "fake", "page", "invalid token "+token, nil)
		}
		start = offset
	}
	end := total
	if size > 0 && start+size < total {
		end = start + size
	}
	next := ""
	if end < total {
		next = "page-" + strconv.Itoa(end)
	}
	return start, end, next, nil
}
