package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

func newSyncCommand() *cobra.Command {
	var userID, month, mboxPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import one user's bank emails for a month",
		Example: `  bankmail sync --user alice --month 2026-03
  bankmail sync --user alice --mbox ./export.mbox`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close()

			period := api.CurrentMonth(timeNow().In(a.cfg.Location()))
			if month != "" {
				if period, err = api.MonthPeriod(month, a.cfg.Location()); err != nil {
					return err
				}
			}

			src, err := a.source(ctx, mboxPath)
			if err != nil {
				return err
			}
			orch, err := a.syncer(src)
			if err != nil {
				return fmt.Errorf("creating syncer: %w", err)
			}

			summary, err := orch.Sync(ctx, syncer.Request{
				UserID: userID,
				Period: period,
				Mode:   api.SyncManual,
			})
			if err != nil {
				return fmt.Errorf("syncing %s: %w", period, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Synced %s for %s\n", period, userID)
			fmt.Fprintf(out, "  Emails checked:  %d\n", summary.EmailsChecked)
			fmt.Fprintf(out, "  Expenses added:  %d\n", summary.NewExpensesAdded)
			fmt.Fprintf(out, "  Skipped:         %d (%d duplicates)\n", summary.Skipped, summary.Duplicates)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user to sync")
	cmd.Flags().StringVar(&month, "month", "", "month to sync as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "read emails from this mbox file or directory instead of the configured source")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
