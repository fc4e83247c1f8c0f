package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cw/internal/editor"
	"cw/internal/history"
	"cw/internal/logging"
	"cw/internal/output"
	"cw/internal/query"
	"cw/internal/services"
	"cw/internal/timerange"
)

type queryFlags struct {
	groups  []string
	start   string
	end     string
	name    string
	timeout time.Duration
	limit   int
	noCache bool
}

func newQueryCommand(ctx *commandContext) *cobra.Command {
	var flags queryFlags

	queryCmd := &cobra.Command{
		Use:   "query [query-file]",
		Short: "Run a Logs Insights query and record it in the local history",
		Long: `Run a Logs Insights query against one or more log groups. The query text is
read from the given file, or composed in $EDITOR when no file is given. Each
run is recorded in the local history together with its final status and scan
statistics; result rows are printed as JSON objects, one per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, ctx, args, flags)
		},
	}

	f := queryCmd.Flags()
	f.StringArrayVarP(&flags.groups, "group", "g", nil, "Log group to query (repeatable)")
	f.StringVarP(&flags.start, "start", "s", "", "Start time (defaults to the configured range before --end)")
	f.StringVarP(&flags.end, "end", "e", "", "End time (defaults to now)")
	f.StringVar(&flags.name, "name", "", "Query identifier recorded in history (defaults to a fingerprint of the text)")
	f.DurationVar(&flags.timeout, "timeout", 0, "Give up and cancel the query after this long (0 uses the configured timeout)")
	f.IntVar(&flags.limit, "limit", 0, "Maximum number of result rows (0 uses the configured limit)")
	f.BoolVar(&flags.noCache, "no-cache", false, "Do not keep the result rows on disk")

	queryCmd.AddCommand(newQueryHistoryCommand(ctx))
	queryCmd.AddCommand(newQueryCancelCommand(ctx))
	return queryCmd
}

func runQuery(cmd *cobra.Command, ctx *commandContext, args []string, flags queryFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := ctx.loggerValue()
	runCtx := ctx.commandCtx(cmd)

	groups := make([]string, 0, len(flags.groups))
	for _, group := range flags.groups {
		for _, part := range strings.Split(group, ",") {
			if part = strings.TrimSpace(part); part != "" {
				groups = append(groups, part)
			}
		}
	}
	if len(groups) == 0 {
		return services.Wrap(services.ErrValidation, "query", "flags", "at least one --group is required", nil)
	}

	now := time.Now()
	window, err := queryRange(flags, now, cfg.DefaultQueryRange())
	if err != nil {
		return err
	}

	text, err := readQueryText(cmd, ctx, args)
	if err != nil {
		return err
	}

	svc, err := ctx.logService(runCtx)
	if err != nil {
		return err
	}

	limit := flags.limit
	if limit <= 0 {
		limit = cfg.Query.ResultLimit
	}
	timeout := flags.timeout
	if timeout <= 0 {
		timeout = cfg.QueryTimeout()
	}

	return ctx.withStore(func(store *history.Store) error {
		opts := query.Options{
			Poll:        pollPolicy(cfg),
			Retry:       retryPolicy(cfg),
			StopTimeout: cfg.StopTimeout(),
		}
		if cfg.Query.CacheResults && !flags.noCache {
			cache, err := ctx.resultCache()
			if err != nil {
				return err
			}
			opts.Cache = cache
		}
		spinner := newQuerySpinner(cmd.ErrOrStderr())
		defer spinner.Finish()
		opts.OnProgress = spinner.Update

		runner := query.NewRunner(svc, store, opts, logger)
		started := time.Now()
		outcome, err := runner.Run(runCtx, query.Request{
			QueryID: flags.name,
			Query:   text,
			Sources: groups,
			Start:   window.Start,
			End:     window.End,
			Limit:   limit,
		}, timeout)
		spinner.Finish()
		if err != nil {
			if outcome.Record != nil && !errors.Is(err, query.ErrQueryFailed) {
				fmt.Fprintf(cmd.ErrOrStderr(), "run %s ended %s\n", outcome.Record.ID, outcome.Record.Status)
			}
			return err
		}

		if err := output.WriteRows(cmd.OutOrStdout(), outcome.Rows); err != nil {
			return err
		}
		printQuerySummary(cmd, outcome.Record, time.Since(started))
		logger.Info("query finished",
			logging.Run(outcome.RunID),
			logging.Int("rows", len(outcome.Rows)),
		)
		return nil
	})
}

func queryRange(flags queryFlags, now time.Time, lookback time.Duration) (timerange.Range, error) {
	r := timerange.Range{End: now}
	if strings.TrimSpace(flags.end) != "" {
		end, err := timerange.Parse(flags.end, now)
		if err != nil {
			return r, services.Wrap(services.ErrValidation, "query", "flags", "--end", err)
		}
		r.End = end
	}
	if strings.TrimSpace(flags.start) == "" {
		r.Start = r.End.Add(-lookback)
	} else {
		start, err := timerange.Parse(flags.start, now)
		if err != nil {
			return r, services.Wrap(services.ErrValidation, "query", "flags", "--start", err)
		}
		r.Start = start
	}
	if err := r.Validate(); err != nil {
		return r, services.Wrap(services.ErrValidation, "query", "flags", "", err)
	}
	return r, nil
}

func readQueryText(cmd *cobra.Command, ctx *commandContext, args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "query", "read file", args[0], err)
		}
		text := strings.TrimPrefix(string(data), editor.Header)
		if strings.TrimSpace(text) == "" {
			return "", services.Wrap(services.ErrValidation, "query", "read file", args[0]+" is empty", nil)
		}
		return text, nil
	}
	return editor.Compose(ctx.commandCtx(cmd), editor.Options{Command: ctx.editorCommand})
}

func printQuerySummary(cmd *cobra.Command, rec *history.Record, elapsed time.Duration) {
	if rec == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s records, %s matched, %s scanned (%s) in %s\n",
		rec.ID,
		formatCount(rec.RecordsTotal),
		formatFloatCount(rec.RecordsMatched),
		formatFloatCount(rec.RecordsScanned),
		formatBytes(rec.BytesScanned),
		formatDuration(elapsed),
	)
}

func newQueryCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run>",
		Short: "Cancel a running query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := ctx.commandCtx(cmd)
			svc, err := ctx.logService(runCtx)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *history.Store) error {
				runner := query.NewRunner(svc, store, query.Options{
					Poll:        pollPolicy(cfg),
					Retry:       retryPolicy(cfg),
					StopTimeout: cfg.StopTimeout(),
				}, ctx.loggerValue())
				rec, err := runner.Cancel(runCtx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s\n", rec.ID, strings.ToLower(string(rec.Status)))
				return nil
			})
		},
	}
}
