package cloudwatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"cw/internal/config"
	"cw/internal/services"
)

// Options selects the AWS account and endpoint. Empty fields fall back to the
// SDK default chain.
type Options struct {
	Profile  string
	Region   string
	Endpoint string
	// Credentials overrides the default credential chain.
	Credentials aws.CredentialsProvider
}

// OptionsFromConfig maps the [aws] config section.
func OptionsFromConfig(section config.AWS) Options {
	return Options{
		Profile:  section.Profile,
		Region:   section.Region,
		Endpoint: section.Endpoint,
	}
}

// Client talks to CloudWatch Logs and STS. It is safe for concurrent use.
type Client struct {
	logs *cloudwatchlogs.Client
	sts  *sts.Client

	accountOnce sync.Once
	account     string
	accountErr  error
}

var _ services.LogService = (*Client)(nil)

// New loads the AWS configuration and builds a client.
func New(ctx context.Context, opts Options) (*Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if profile := strings.TrimSpace(opts.Profile); profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(profile))
	}
	if region := strings.TrimSpace(opts.Region); region != "" {
		loaders = append(loaders, awsconfig.WithRegion(region))
	}
	if opts.Credentials != nil {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(opts.Credentials))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, services.Wrap(services.ErrUnauthorized, "cloudwatch", "load config", "resolve AWS credentials and region", err)
	}
	if cfg.Region == "" {
		return nil, services.Wrap(services.ErrValidation, "cloudwatch", "load config", "no AWS region configured (set --region, [aws].region or AWS_REGION)", nil)
	}
	return NewFromAWSConfig(cfg, opts.Endpoint), nil
}

// NewFromAWSConfig builds a client from an already resolved SDK config.
func NewFromAWSConfig(cfg aws.Config, endpoint string) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	logs := cloudwatchlogs.NewFromConfig(cfg, func(o *cloudwatchlogs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	stsClient := sts.NewFromConfig(cfg, func(o *sts.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{logs: logs, sts: stsClient}
}

// ListGroups returns one page of log groups.
func (c *Client) ListGroups(ctx context.Context, query services.GroupQuery) (services.GroupPage, error) {
	input := &cloudwatchlogs.DescribeLogGroupsInput{NextToken: optional(query.Token)}
	switch {
	case query.Prefix != "":
		input.LogGroupNamePrefix = aws.String(query.Prefix)
	case query.Pattern != "":
		input.LogGroupNamePattern = aws.String(query.Pattern)
	}
	out, err := c.logs.DescribeLogGroups(ctx, input)
	if err != nil {
		return services.GroupPage{}, Classify("describe log groups", err)
	}
	page := services.GroupPage{NextToken: aws.ToString(out.NextToken)}
	for _, g := range out.LogGroups {
		page.Groups = append(page.Groups, services.LogGroup{
			Name:          aws.ToString(g.LogGroupName),
			ARN:           aws.ToString(g.Arn),
			RetentionDays: aws.ToInt32(g.RetentionInDays),
			StoredBytes:   aws.ToInt64(g.StoredBytes),
			CreatedAt:     fromMillis(g.CreationTime),
		})
	}
	return page, nil
}

// ListStreams returns one page of streams in a group.
func (c *Client) ListStreams(ctx context.Context, query services.StreamQuery) (services.StreamPage, error) {
	input := &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(query.Group),
		NextToken:    optional(query.Token),
	}
	if query.Prefix != "" {
		input.LogStreamNamePrefix = aws.String(query.Prefix)
		input.OrderBy = types.OrderByLogStreamName
	} else {
		input.OrderBy = types.OrderByLastEventTime
		input.Descending = aws.Bool(true)
	}
	out, err := c.logs.DescribeLogStreams(ctx, input)
	if err != nil {
		return services.StreamPage{}, Classify("describe log streams "+query.Group, err)
	}
	page := services.StreamPage{NextToken: aws.ToString(out.NextToken)}
	for _, s := range out.LogStreams {
		page.Streams = append(page.Streams, services.LogStream{
			Name:         aws.ToString(s.LogStreamName),
			CreatedAt:    fromMillis(s.CreationTime),
			FirstEventAt: fromMillis(s.FirstEventTimestamp),
			LastEventAt:  fromMillis(s.LastEventTimestamp),
		})
	}
	return page, nil
}

// FilterEvents reads one page of events.
func (c *Client) FilterEvents(ctx context.Context, req services.FilterRequest) (services.FilterPage, error) {
	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(req.Group),
		FilterPattern: optional(req.Filter),
		NextToken:     optional(req.Token),
		StartTime:     toMillis(req.Start),
		EndTime:       toMillis(req.End),
	}
	if len(req.Streams) > 0 {
		input.LogStreamNames = req.Streams
	} else if req.StreamPrefix != "" {
		input.LogStreamNamePrefix = aws.String(req.StreamPrefix)
	}
	if req.Limit > 0 {
		input.Limit = aws.Int32(req.Limit)
	}
	out, err := c.logs.FilterLogEvents(ctx, input)
	if err != nil {
		return services.FilterPage{}, Classify("filter log events "+req.Group, err)
	}
	page := services.FilterPage{NextToken: aws.ToString(out.NextToken)}
	for _, ev := range out.Events {
		page.Events = append(page.Events, services.RemoteEvent{
			Stream:     aws.ToString(ev.LogStreamName),
			EventID:    aws.ToString(ev.EventId),
			Timestamp:  fromMillis(ev.Timestamp),
			IngestedAt: fromMillis(ev.IngestionTime),
			Message:    aws.ToString(ev.Message),
		})
	}
	return page, nil
}

// StartQuery submits a Logs Insights query. The API takes whole seconds, so
// the start is rounded down and the end rounded up.
func (c *Client) StartQuery(ctx context.Context, req services.StartQueryRequest) (string, error) {
	end := req.End.Unix()
	if req.End.Truncate(time.Second).Before(req.End) {
		end++
	}
	input := &cloudwatchlogs.StartQueryInput{
		LogGroupNames: req.Groups,
		QueryString:   aws.String(req.Query),
		StartTime:     aws.Int64(req.Start.Unix()),
		EndTime:       aws.Int64(end),
	}
	if req.Limit > 0 {
		input.Limit = aws.Int32(req.Limit)
	}
	out, err := c.logs.StartQuery(ctx, input)
	if err != nil {
		return "", Classify("start query", err)
	}
	id := aws.ToString(out.QueryId)
	if id == "" {
		return "", services.Wrap(services.ErrRejected, "cloudwatch", "start query", "service returned no query id", nil)
	}
	return id, nil
}

// GetQueryResults reads the status of a query and its rows. The API returns
// the whole result set at once, so the returned token is always empty.
func (c *Client) GetQueryResults(ctx context.Context, queryID, _ string) (services.QueryResults, error) {
	out, err := c.logs.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{QueryId: aws.String(queryID)})
	if err != nil {
		return services.QueryResults{}, Classify("get query results "+queryID, err)
	}
	results := services.QueryResults{Status: services.QueryStatus(out.Status)}
	if results.Status == "" {
		results.Status = services.QueryUnknown
	}
	if out.Statistics != nil {
		results.Statistics = &services.QueryStatistics{
			RecordsMatched: out.Statistics.RecordsMatched,
			RecordsScanned: out.Statistics.RecordsScanned,
			BytesScanned:   out.Statistics.BytesScanned,
		}
	}
	for _, fields := range out.Results {
		row := make(services.Row, 0, len(fields))
		for _, f := range fields {
			row = append(row, services.ResultField{Name: aws.ToString(f.Field), Value: aws.ToString(f.Value)})
		}
		results.Rows = append(results.Rows, row)
	}
	return results, nil
}

// StopQuery asks the service to cancel a running query.
func (c *Client) StopQuery(ctx context.Context, queryID string) (bool, error) {
	out, err := c.logs.StopQuery(ctx, &cloudwatchlogs.StopQueryInput{QueryId: aws.String(queryID)})
	if err != nil {
		return false, Classify("stop query "+queryID, err)
	}
	return out.Success, nil
}

// AccountID resolves the caller's account once per client.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	c.accountOnce.Do(func() {
		out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			c.accountErr = Classify("get caller identity", err)
			return
		}
		c.account = aws.ToString(out.Account)
	})
	return c.account, c.accountErr
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return aws.String(value)
}

func toMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	return aws.Int64(t.UnixMilli())
}

func fromMillis(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms).UTC()
}
