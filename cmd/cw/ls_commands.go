package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cw/internal/services"
	"cw/internal/sources"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	listCmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List log groups and streams",
	}
	listCmd.AddCommand(newListGroupsCommand(ctx))
	listCmd.AddCommand(newListStreamsCommand(ctx))
	return listCmd
}

func newListGroupsCommand(ctx *commandContext) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "groups [pattern]",
		Short: "List log groups, optionally filtered by a name substring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := ctx.commandCtx(cmd)
			svc, err := ctx.logService(runCtx)
			if err != nil {
				return err
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			groups, err := sources.Groups(runCtx, svc, pattern)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !long {
				for _, group := range groups {
					fmt.Fprintln(out, group.Name)
				}
				return nil
			}
			rows := make([][]string, 0, len(groups))
			for _, group := range groups {
				retention := "never expire"
				if group.RetentionDays > 0 {
					retention = fmt.Sprintf("%d days", group.RetentionDays)
				}
				rows = append(rows, []string{
					group.Name,
					retention,
					humanize.Bytes(uint64(max(group.StoredBytes, 0))),
					formatAgo(group.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Group", "Retention", "Stored", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show retention, size and creation time")
	return cmd
}

func newListStreamsCommand(ctx *commandContext) *cobra.Command {
	var (
		long        bool
		showExpired bool
	)

	cmd := &cobra.Command{
		Use:   "streams <group>",
		Short: "List the streams of a log group, most recently active first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := ctx.commandCtx(cmd)
			svc, err := ctx.logService(runCtx)
			if err != nil {
				return err
			}
			streams, err := sources.ActiveStreams(runCtx, svc, args[0], showExpired, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !long {
				for _, stream := range streams {
					fmt.Fprintln(out, stream.Name)
				}
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stream", "Last Event", "First Event", "Created"},
				streamRows(streams),
				nil,
			))
			fmt.Fprintf(out, "%s streams\n", humanize.Comma(int64(len(streams))))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show event times for each stream")
	cmd.Flags().BoolVar(&showExpired, "show-expired", false, "Include streams whose last event is past the group's retention")
	return cmd
}

func streamRows(streams []services.LogStream) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, stream := range streams {
		rows = append(rows, []string{
			stream.Name,
			formatAgo(stream.LastEventAt),
			formatAgo(stream.FirstEventAt),
			formatAgo(stream.CreatedAt),
		})
	}
	return rows
}
