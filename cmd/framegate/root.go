package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var opts globalOptions

	ctx := newCommandContext(&opts)

	rootCmd := &cobra.Command{
		Use:           "framegate",
		Short:         "Drive generation jobs and gate their output quality",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&opts.backendURL, "backend", "", "Backend base URL (overrides configuration)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.json, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newCheckPairCommand(ctx))
	rootCmd.AddCommand(newScoreCommand(ctx))
	rootCmd.AddCommand(newBaselineCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newFlagsCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newTestNotifyCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
