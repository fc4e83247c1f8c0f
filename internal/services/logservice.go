package services

import (
	"context"
	"time"
)

// LogGroup describes a remote log group.
type LogGroup struct {
	Name          string
	ARN           string
	RetentionDays int32
	StoredBytes   int64
	CreatedAt     time.Time
}

// LogStream describes a stream inside a log group.
type LogStream struct {
	Name         string
	CreatedAt    time.Time
	FirstEventAt time.Time
	LastEventAt  time.Time
}

// GroupQuery selects log groups. Prefix and Pattern are mutually exclusive;
// Pattern is a case-sensitive substring match.
type GroupQuery struct {
	Prefix  string
	Pattern string
	Token   string
}

// GroupPage is one page of a group listing.
type GroupPage struct {
	Groups    []LogGroup
	NextToken string
}

// StreamQuery selects streams of one group. Streams are ordered by last event
// time (most recent first) when Prefix is empty, by name otherwise.
type StreamQuery struct {
	Group  string
	Prefix string
	Token  string
}

// StreamPage is one page of a stream listing.
type StreamPage struct {
	Streams   []LogStream
	NextToken string
}

// FilterRequest describes one paginated event read. Streams and StreamPrefix
// are mutually exclusive. End is exclusive; a zero End leaves the range open.
type FilterRequest struct {
	Group        string
	Streams      []string
	StreamPrefix string
	Filter       string
	Start        time.Time
	End          time.Time
	Token        string
	Limit        int32
}

// RemoteEvent is a log record as returned by the remote service.
type RemoteEvent struct {
	Stream     string
	EventID    string
	Timestamp  time.Time
	IngestedAt time.Time
	Message    string
}

// FilterPage is one page of filtered events.
type FilterPage struct {
	Events    []RemoteEvent
	NextToken string
}

// StartQueryRequest submits an analytical query.
type StartQueryRequest struct {
	Groups []string
	Query  string
	Start  time.Time
	End    time.Time
	Limit  int32
}

// QueryStatus is the status reported by the remote service for a query run.
type QueryStatus string

const (
	QueryScheduled QueryStatus = "Scheduled"
	QueryRunning   QueryStatus = "Running"
	QueryComplete  QueryStatus = "Complete"
	QueryFailed    QueryStatus = "Failed"
	QueryCancelled QueryStatus = "Cancelled"
	QueryTimeout   QueryStatus = "Timeout"
	QueryUnknown   QueryStatus = "Unknown"
)

// QueryStatistics are the scan counters reported for a query run.
type QueryStatistics struct {
	RecordsMatched float64 `json:"records_matched"`
	RecordsScanned float64 `json:"records_scanned"`
	BytesScanned   float64 `json:"bytes_scanned"`
}

// ResultField is one named value in a result row.
type ResultField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Row is one query result row with fields in service order.
type Row []ResultField

// QueryResults is one status read of a query run, carrying result rows once
// the run completes.
type QueryResults struct {
	Status     QueryStatus
	Statistics *QueryStatistics
	Rows       []Row
	NextToken  string
	Reason     string
}

// LogService is the remote capability shared by listing, tailing and query
// execution. Implementations must be safe for concurrent use.
type LogService interface {
	ListGroups(ctx context.Context, query GroupQuery) (GroupPage, error)
	ListStreams(ctx context.Context, query StreamQuery) (StreamPage, error)
	FilterEvents(ctx context.Context, req FilterRequest) (FilterPage, error)
	StartQuery(ctx context.Context, req StartQueryRequest) (string, error)
	GetQueryResults(ctx context.Context, queryID, token string) (QueryResults, error)
	StopQuery(ctx context.Context, queryID string) (bool, error)
	AccountID(ctx context.Context) (string, error)
}
