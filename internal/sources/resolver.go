package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"cw/internal/logging"
	"cw/internal/services"
)

// Lister is the remote listing capability the resolver needs.
type Lister interface {
	ListGroups(ctx context.Context, query services.GroupQuery) (services.GroupPage, error)
	ListStreams(ctx context.Context, query services.StreamQuery) (services.StreamPage, error)
}

// Target is one resolved unit of polling: a log group, optionally narrowed to
// a single stream (or a stream prefix when IsPrefix is set).
type Target struct {
	Source    string
	SubStream string
	IsPrefix  bool
}

func (t Target) String() string {
	switch {
	case t.SubStream == "":
		return t.Source
	case t.IsPrefix:
		return t.Source + ":" + t.SubStream + "*"
	default:
		return t.Source + ":" + t.SubStream
	}
}

// Less orders targets by source, then sub-stream, then prefix flag.
func (t Target) Less(other Target) bool {
	if t.Source != other.Source {
		return t.Source < other.Source
	}
	if t.SubStream != other.SubStream {
		return t.SubStream < other.SubStream
	}
	return !t.IsPrefix && other.IsPrefix
}

// Resolver validates specifiers against the remote service and expands
// stream prefixes into concrete targets.
type Resolver struct {
	lister     Lister
	maxStreams int
	logger     *slog.Logger
}

// NewResolver builds a resolver. A prefix matching more than maxStreams
// streams is kept as a single prefix target.
func NewResolver(lister Lister, maxStreams int, logger *slog.Logger) *Resolver {
	if maxStreams < 1 {
		maxStreams = 1
	}
	return &Resolver{
		lister:     lister,
		maxStreams: maxStreams,
		logger:     logging.NewComponentLogger(logger, "sources"),
	}
}

// Resolve turns specs into a deduplicated, sorted target set. The first
// specifier that names a missing group or an unmatched stream prefix fails
// the whole resolution with services.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, specs []Spec) ([]Target, error) {
	seen := make(map[Target]struct{})
	var targets []Target
	add := func(t Target) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	checked := make(map[string]struct{})
	for _, spec := range specs {
		if _, ok := checked[spec.Source]; !ok {
			exists, err := GroupExists(ctx, r.lister, spec.Source)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", spec, err)
			}
			if !exists {
				return nil, services.Wrap(services.ErrNotFound, "sources", "resolve", fmt.Sprintf("log group %q (from %q) does not exist", spec.Source, spec), nil)
			}
			checked[spec.Source] = struct{}{}
		}

		if spec.Prefix == "" {
			add(Target{Source: spec.Source})
			continue
		}

		expanded, err := r.expandPrefix(ctx, spec)
		if err != nil {
			return nil, err
		}
		for _, t := range expanded {
			add(t)
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })
	r.logger.Debug("resolved fetch targets", logging.Int("specs", len(specs)), logging.Int("targets", len(targets)))
	return targets, nil
}

func (r *Resolver) expandPrefix(ctx context.Context, spec Spec) ([]Target, error) {
	var names []string
	overflow := false
	err := eachStream(ctx, r.lister, services.StreamQuery{Group: spec.Source, Prefix: spec.Prefix}, func(stream services.LogStream) bool {
		names = append(names, stream.Name)
		if len(names) > r.maxStreams {
			overflow = true
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec, err)
	}
	if len(names) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "sources", "resolve", fmt.Sprintf("no stream in %q matches prefix %q (from %q)", spec.Source, spec.Prefix, spec), nil)
	}
	if overflow {
		r.logger.Info("stream prefix matches many streams; polling it as one target",
			logging.Target(spec.String()),
			logging.Int("limit", r.maxStreams),
		)
		return []Target{{Source: spec.Source, SubStream: spec.Prefix, IsPrefix: true}}, nil
	}
	targets := make([]Target, 0, len(names))
	for _, name := range names {
		targets = append(targets, Target{Source: spec.Source, SubStream: name})
	}
	return targets, nil
}
