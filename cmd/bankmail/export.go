package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/export"
)

// timeNow is replaced in tests.
var timeNow = time.Now

func newExportCommand() *cobra.Command {
	var userID, month, format, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's expenses for a month as CSV or JSON",
		Example: `  bankmail export --user alice --month 2026-03 --format csv --out march.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close()

			loc := a.cfg.Location()
			period := api.CurrentMonth(timeNow().In(loc))
			if month != "" {
				if period, err = api.MonthPeriod(month, loc); err != nil {
					return err
				}
			}

			expenses, err := a.store.ListExpenses(ctx, userID, period.Start, period.End)
			if err != nil {
				return fmt.Errorf("listing expenses: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer file.Close()
				w = file
			}

			if err := export.Write(w, f, expenses, loc); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d expenses for %s to %s\n", len(expenses), period, outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user whose expenses to export")
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default: stdout)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
