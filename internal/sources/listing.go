package sources

import (
	"context"
	"time"

	"cw/internal/services"
)

// DefaultStreamHorizon hides streams without events in this window when the
// group has no retention policy.
const DefaultStreamHorizon = 6 * 30 * 24 * time.Hour

// GroupExists reports whether a log group with exactly this name exists.
func GroupExists(ctx context.Context, lister Lister, name string) (bool, error) {
	found := false
	err := eachGroup(ctx, lister, services.GroupQuery{Prefix: name}, func(group services.LogGroup) bool {
		if group.Name == name {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Group looks up a single log group by exact name.
func Group(ctx context.Context, lister Lister, name string) (*services.LogGroup, error) {
	var match *services.LogGroup
	err := eachGroup(ctx, lister, services.GroupQuery{Prefix: name}, func(group services.LogGroup) bool {
		if group.Name == name {
			g := group
			match = &g
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, services.Wrap(services.ErrNotFound, "sources", "describe", "log group "+name+" does not exist", nil)
	}
	return match, nil
}

// Groups lists every log group whose name contains pattern (all groups when
// pattern is empty), in service order.
func Groups(ctx context.Context, lister Lister, pattern string) ([]services.LogGroup, error) {
	var groups []services.LogGroup
	err := eachGroup(ctx, lister, services.GroupQuery{Pattern: pattern}, func(group services.LogGroup) bool {
		groups = append(groups, group)
		return true
	})
	return groups, err
}

// ActiveStreams lists the streams of group, most recent first. Unless
// showExpired is set, streams whose last event is older than the group
// retention (or DefaultStreamHorizon without one) are skipped.
func ActiveStreams(ctx context.Context, lister Lister, group string, showExpired bool, now time.Time) ([]services.LogStream, error) {
	info, err := Group(ctx, lister, group)
	if err != nil {
		return nil, err
	}
	horizon := DefaultStreamHorizon
	if info.RetentionDays > 0 {
		horizon = time.Duration(info.RetentionDays) * 24 * time.Hour
	}
	cutoff := now.Add(-horizon)

	var streams []services.LogStream
	err = eachStream(ctx, lister, services.StreamQuery{Group: group}, func(stream services.LogStream) bool {
		if !showExpired && streamExpired(stream, cutoff) {
			return true
		}
		streams = append(streams, stream)
		return true
	})
	return streams, err
}

func streamExpired(stream services.LogStream, cutoff time.Time) bool {
	last := stream.LastEventAt
	if last.IsZero() {
		last = stream.CreatedAt
	}
	return last.Before(cutoff)
}

func eachGroup(ctx context.Context, lister Lister, query services.GroupQuery, fn func(services.LogGroup) bool) error {
	for {
		page, err := lister.ListGroups(ctx, query)
		if err != nil {
			return err
		}
		for _, group := range page.Groups {
			if !fn(group) {
				return nil
			}
		}
		if page.NextToken == "" || page.NextToken == query.Token {
			return nil
		}
		query.Token = page.NextToken
	}
}

func eachStream(ctx context.Context, lister Lister, query services.StreamQuery, fn func(services.LogStream) bool) error {
	for {
		page, err := lister.ListStreams(ctx, query)
		if err != nil {
			return err
		}
		for _, stream := range page.Streams {
			if !fn(stream) {
				return nil
			}
		}
		if page.NextToken == "" || page.NextToken == query.Token {
			return nil
		}
		query.Token = page.NextToken
	}
}
