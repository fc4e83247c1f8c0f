package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cw/internal/logging"
	"cw/internal/output"
	"cw/internal/services"
	"cw/internal/sources"
	"cw/internal/tail"
	"cw/internal/timerange"
)

type tailFlags struct {
	filter     string
	follow     bool
	timestamp  bool
	groupName  bool
	streamName bool
	eventID    bool
	start      string
	end        string
	format     string
	local      bool
	expandJSON bool
}

func newTailCommand(ctx *commandContext) *cobra.Command {
	var flags tailFlags

	cmd := &cobra.Command{
		Use:   "tail <group[:streamPrefix]>[,...]",
		Short: "Print log events from one or more groups in timestamp order",
		Long: `Print log events from one or more log groups merged into a single stream
ordered by timestamp. Each source is a group name, optionally followed by a
colon and a stream name prefix. Several sources may be separated by commas
or given as separate arguments.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, ctx, args, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.filter, "filter", "g", "", "Filter pattern passed to the service unchanged")
	f.BoolVarP(&flags.follow, "follow", "f", false, "Keep polling for new events until interrupted")
	f.BoolVarP(&flags.timestamp, "timestamp", "t", false, "Print the event timestamp")
	f.BoolVar(&flags.groupName, "group-name", false, "Print the log group of each event")
	f.BoolVar(&flags.streamName, "stream-name", false, "Print the log stream of each event")
	f.BoolVarP(&flags.eventID, "event-id", "i", false, "Print the event id")
	f.StringVarP(&flags.start, "start", "s", "", "Start time: absolute, epoch millis or relative such as 15m or \"2 hours ago\"")
	f.StringVarP(&flags.end, "end", "e", "", "End time (not allowed with --follow)")
	f.StringVarP(&flags.format, "output", "o", string(output.FormatText), "Output format: text or json")
	f.BoolVarP(&flags.local, "local", "l", false, "Render timestamps in the local time zone")
	f.BoolVar(&flags.expandJSON, "expand-json", false, "Embed JSON object messages as objects in json output")
	return cmd
}

func runTail(cmd *cobra.Command, ctx *commandContext, args []string, flags tailFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := ctx.loggerValue()

	if flags.follow && strings.TrimSpace(flags.end) != "" {
		return services.Wrap(services.ErrValidation, "tail", "flags", "--end cannot be used together with --follow", nil)
	}
	format, err := output.ParseFormat(flags.format)
	if err != nil {
		return services.Wrap(services.ErrValidation, "tail", "flags", "", err)
	}
	specs, err := sources.Parse(args...)
	if err != nil {
		return err
	}

	now := time.Now()
	window, err := tailRange(flags, now, cfg.DefaultLookback())
	if err != nil {
		return err
	}

	runCtx := ctx.commandCtx(cmd)
	svc, err := ctx.logService(runCtx)
	if err != nil {
		return err
	}
	targets, err := sources.NewResolver(svc, cfg.Tail.MaxStreamTargets, logger).Resolve(runCtx, specs)
	if err != nil {
		return err
	}

	sink := output.NewEventSink(cmd.OutOrStdout(), output.EventOptions{
		Format:     format,
		Timestamp:  flags.timestamp,
		GroupName:  flags.groupName,
		StreamName: flags.streamName,
		EventID:    flags.eventID,
		Local:      flags.local,
		ExpandJSON: flags.expandJSON,
		Color:      format == output.FormatText && output.ShouldColorize(cmd.OutOrStdout()),
	})
	engine := tail.NewEngine(svc, tail.Options{
		Filter:        flags.filter,
		Start:         window.Start,
		End:           window.End,
		Follow:        flags.follow,
		PageLimit:     cfg.Tail.PageLimit,
		Window:        cfg.Tail.DedupWindow,
		BufferBatches: cfg.Tail.BufferBatches,
		Retry:         retryPolicy(cfg),
		FollowPolicy:  followPolicy(cfg),
		SettleDelay:   cfg.SettleDelay(),
	}, logger)

	stats, err := engine.Run(runCtx, targets, sink.Write)
	for i := range stats.Failures {
		failure := stats.Failures[i]
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", failure.Error())
	}
	logger.Info("tail finished",
		logging.Int("targets", len(targets)),
		logging.Int("emitted", stats.Emitted),
		logging.Int("duplicates", stats.Duplicates),
		logging.Int("late", stats.Late),
		logging.Int("failed_targets", len(stats.Failures)),
	)
	return err
}

func tailRange(flags tailFlags, now time.Time, lookback time.Duration) (timerange.Range, error) {
	var r timerange.Range
	if strings.TrimSpace(flags.start) == "" {
		r.Start = now.Add(-lookback)
	} else {
		start, err := timerange.Parse(flags.start, now)
		if err != nil {
			return r, services.Wrap(services.ErrValidation, "tail", "flags", "--start", err)
		}
		r.Start = start
	}
	if strings.TrimSpace(flags.end) != "" {
		end, err := timerange.Parse(flags.end, now)
		if err != nil {
			return r, services.Wrap(services.ErrValidation, "tail", "flags", "--end", err)
		}
		r.End = end
	}
	if err := r.Validate(); err != nil {
		return r, services.Wrap(services.ErrValidation, "tail", "flags", "", err)
	}
	return r, nil
}
