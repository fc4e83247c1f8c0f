package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cw/internal/history"
	"cw/internal/output"
	"cw/internal/services"
)

func newQueryHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		all    bool
		limit  int
		offset int
		asJSON bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded query runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *history.Store) error {
				records, err := store.List(ctx.commandCtx(cmd), history.ListOptions{
					IncludeDeleted: all,
					Limit:          limit,
					Offset:         offset,
				})
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]runView, 0, len(records))
					for _, rec := range records {
						views = append(views, newRunView(rec))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No query runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderHistoryTable(records, all))
				return nil
			})
		},
	}
	historyCmd.Flags().BoolVarP(&all, "all", "a", false, "Include deleted runs")
	historyCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	historyCmd.Flags().IntVar(&offset, "offset", 0, "Number of runs to skip")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	historyCmd.AddCommand(newQueryHistoryShowCommand(ctx))
	historyCmd.AddCommand(newQueryHistoryRemoveCommand(ctx))
	historyCmd.AddCommand(newQueryHistoryRestoreCommand(ctx))
	return historyCmd
}

func newQueryHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var (
		results bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "show <run>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			return ctx.withStore(func(store *history.Store) error {
				rec, err := lookupRun(ctx.commandCtx(cmd), store, runID)
				if err != nil {
					return err
				}
				if results {
					cache, err := ctx.resultCache()
					if err != nil {
						return err
					}
					rows, err := cache.Get(rec.ID)
					if errors.Is(err, services.ErrNotFound) {
						return fmt.Errorf("no cached results for run %s (status %s)", rec.ID, rec.Status)
					}
					if err != nil {
						return err
					}
					return output.WriteRows(cmd.OutOrStdout(), rows)
				}
				if asJSON {
					return writeJSON(cmd, newRunView(rec))
				}
				printRunDetails(cmd, rec)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&results, "results", "r", false, "Print the cached result rows instead of the run details")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newQueryHistoryRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <run>",
		Aliases: []string{"remove"},
		Short:   "Hide a run from the history (it can be restored)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *history.Store) error {
				if err := store.SoftDelete(ctx.commandCtx(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", args[0])
				return nil
			})
		},
	}
}

func newQueryHistoryRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <run>",
		Short: "Bring a removed run back into the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *history.Store) error {
				if err := store.Restore(ctx.commandCtx(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored run %s\n", args[0])
				return nil
			})
		},
	}
}

func lookupRun(ctx context.Context, store *history.Store, runID string) (*history.Record, error) {
	rec, err := store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrNotFound, "history", "show", "run "+runID, nil)
	}
	return rec, nil
}

func renderHistoryTable(records []*history.Record, includeDeleted bool) string {
	headers := []string{"Run", "Query", "Status", "Records", "Scanned", "Created"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	if includeDeleted {
		headers = append(headers, "Deleted")
		aligns = append(aligns, alignLeft)
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.QueryID,
			string(rec.Status),
			formatCount(rec.RecordsTotal),
			formatBytes(rec.BytesScanned),
			formatAgo(rec.CreatedAt),
		}
		if includeDeleted {
			deleted := ""
			if rec.DeletedAt != nil {
				deleted = formatAgo(*rec.DeletedAt)
			}
			row = append(row, deleted)
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows, aligns)
}

func printRunDetails(cmd *cobra.Command, rec *history.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", rec.ID)
	fmt.Fprintf(out, "Query:     %s\n", rec.QueryID)
	fmt.Fprintf(out, "Status:    %s\n", rec.Status)
	if rec.Account != "" {
		fmt.Fprintf(out, "Account:   %s\n", rec.Account)
	}
	fmt.Fprintf(out, "Records:   %s\n", formatCount(rec.RecordsTotal))
	fmt.Fprintf(out, "Matched:   %s\n", formatFloatCount(rec.RecordsMatched))
	fmt.Fprintf(out, "Scanned:   %s (%s)\n", formatFloatCount(rec.RecordsScanned), formatBytes(rec.BytesScanned))
	fmt.Fprintf(out, "Created:   %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Modified:  %s\n", rec.ModifiedAt.Local().Format(time.RFC3339))
	if rec.DeletedAt != nil {
		fmt.Fprintf(out, "Deleted:   %s\n", rec.DeletedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.TrimRight(rec.Contents, "\n"))
}

// runView is the JSON shape of a recorded run.
type runView struct {
	ID             string     `json:"id"`
	QueryID        string     `json:"query_id"`
	Account        string     `json:"account,omitempty"`
	Status         string     `json:"status"`
	Contents       string     `json:"contents"`
	RecordsTotal   *int64     `json:"records_total,omitempty"`
	RecordsMatched *float64   `json:"records_matched,omitempty"`
	RecordsScanned *float64   `json:"records_scanned,omitempty"`
	BytesScanned   *float64   `json:"bytes_scanned,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func newRunView(rec *history.Record) runView {
	return runView{
		ID:             rec.ID,
		QueryID:        rec.QueryID,
		Account:        rec.Account,
		Status:         string(rec.Status),
		Contents:       rec.Contents,
		RecordsTotal:   rec.RecordsTotal,
		RecordsMatched: rec.RecordsMatched,
		RecordsScanned: rec.RecordsScanned,
		BytesScanned:   rec.BytesScanned,
		CreatedAt:      rec.CreatedAt,
		ModifiedAt:     rec.ModifiedAt,
		DeletedAt:      rec.DeletedAt,
	}
}
