package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bankmail",
		Short: "Turn bank notification emails into expenses",
		Long: "bankmail matches bank notification emails against per-bank configs, extracts\n" +
			"amounts and descriptions, and stores deduplicated expenses.\n\n" +
			"Settings are read from BANKMAIL_* environment variables.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newTestCommand(),
		newExportCommand(),
		newStatusCommand(),
		newAuthCommand(),
		newDumpCommand(),
	)
	return root
}
