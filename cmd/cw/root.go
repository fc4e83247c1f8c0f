package main

import (
	"github.com/spf13/cobra"

	"cw/internal/services"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOption func(*commandContext)

// withLogService replaces the AWS client, mainly for tests.
func withLogService(svc services.LogService) rootOption {
	return func(c *commandContext) {
		c.service = svc
	}
}

// withEditor pins the editor command used for ad-hoc queries.
func withEditor(command string) rootOption {
	return func(c *commandContext) {
		c.editorCommand = command
	}
}

func newRootCommand(opts ...rootOption) *cobra.Command {
	var flags globalFlags

	ctx := newCommandContext(&flags)
	for _, opt := range opts {
		opt(ctx)
	}

	rootCmd := &cobra.Command{
		Use:           "cw",
		Short:         "Tail and query CloudWatch Logs from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			_, err := ctx.ensureLogger(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	persistent.StringVar(&flags.profile, "profile", "", "AWS shared config profile")
	persistent.StringVar(&flags.region, "region", "", "AWS region")
	persistent.StringVar(&flags.endpoint, "endpoint", "", "Override the CloudWatch Logs endpoint URL")
	persistent.CountVarP(&flags.verbosity, "verbose", "v", "Mirror diagnostic logs to stderr (repeat for debug)")
	rootCmd.Flags().BoolP("version", "V", false, "Print the version and exit")

	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newTailCommand(ctx))
	rootCmd.AddCommand(newQueryCommand(ctx))
	rootCmd.AddCommand(newInfoCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
