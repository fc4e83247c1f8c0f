package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cw/internal/history"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show version, storage locations and database details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			configPath := ctx.configPath
			if !ctx.configExists {
				configPath = "(defaults, no file at " + ctx.configPath + ")"
			}

			return ctx.withStore(func(store *history.Store) error {
				runCtx := ctx.commandCtx(cmd)
				sqliteVersion, err := store.SQLiteVersion(runCtx)
				if err != nil {
					return err
				}
				schema, dirty, err := store.SchemaVersion(runCtx)
				if err != nil {
					return err
				}
				schemaLabel := fmt.Sprintf("%d", schema)
				if dirty {
					schemaLabel += " (dirty)"
				}

				fmt.Fprintf(out, "Version:        %s\n", version)
				fmt.Fprintf(out, "Config:         %s\n", configPath)
				fmt.Fprintf(out, "Database:       SQLite %s\n", sqliteVersion)
				fmt.Fprintf(out, "Schema version: %s\n", schemaLabel)
				fmt.Fprintf(out, "Database path:  %s\n", store.Path())
				fmt.Fprintf(out, "Log path:       %s\n", cfg.LogPath())
				fmt.Fprintf(out, "Result cache:   %s (%s)\n", cfg.ResultCacheDir(), enabledLabel(cfg.Query.CacheResults))
				if region := cfg.AWS.Region; region != "" {
					fmt.Fprintf(out, "AWS region:     %s\n", region)
				}
				if profile := cfg.AWS.Profile; profile != "" {
					fmt.Fprintf(out, "AWS profile:    %s\n", profile)
				}
				return nil
			})
		},
	}
}

func enabledLabel(value bool) string {
	if value {
		return "enabled"
	}
	return "disabled"
}
