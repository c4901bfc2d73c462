package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/pkg/api"
)

const defaultDumpDir = "testdata/dump"

// dumpEmails writes each email as indented JSON into dir and returns how many
// new files were written. Existing files are left alone.
func dumpEmails(dir string, emails []api.EmailMessage) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating dump directory: %w", err)
	}

	written := 0
	for _, e := range emails {
		name := sanitizeFilename(fmt.Sprintf("%s_%s_%s",
			e.ReceivedAt.UTC().Format("2006-01-02_150405"), e.ID, e.Subject)) + ".json"
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}

		data, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encoding email %s: %w", e.ID, err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", name, err)
		}
		written++
	}
	return written, nil
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

func newDumpCommand() *cobra.Command {
	var userID, month, mboxPath, dir string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Save a month of raw emails as JSON samples",
		Long: "Fetches a user's emails for a month from the configured source and writes\n" +
			"each one as a JSON file. The files are handy fixtures for writing configs\n" +
			"and tests. Nothing is extracted or stored.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return err
			}

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
			emails, err := src.Fetch(ctx, userID, period)
			if err != nil {
				return fmt.Errorf("fetching emails: %w", err)
			}

			n, err := dumpEmails(dir, emails)
			if err != nil {
				return err
			}
			a.logger.Info("email dump complete", "fetched", len(emails), "written", n, "directory", dir)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d of %d emails to %s\n", n, len(emails), dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user whose mailbox to read")
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "read from this mbox file or directory instead of the configured source")
	cmd.Flags().StringVar(&dir, "dir", defaultDumpDir, "output directory")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
