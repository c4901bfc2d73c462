package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/ArionMiles/bankmail/pkg/config"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, storage and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type statusReport struct {
	out     io.Writer
	allGood bool
}

func (r *statusReport) ok(format string, args ...any) {
	fmt.Fprintf(r.out, "✓ "+format+"\n", args...)
}

func (r *statusReport) fail(format string, args ...any) {
	r.allGood = false
	fmt.Fprintf(r.out, "✗ "+format+"\n", args...)
}

func (r *statusReport) warn(format string, args ...any) {
	fmt.Fprintf(r.out, "⚠ "+format+"\n", args...)
}

func runStatus(ctx context.Context, out io.Writer) error {
	r := &statusReport{out: out, allGood: true}

	fmt.Fprintln(out, "=== Bankmail Status ===")
	fmt.Fprintln(out)

	fmt.Fprint(out, "Configuration: ")
	a, err := newApp()
	if err != nil {
		r.fail("%v", err)
		r.summary()
		return nil
	}
	r.ok("store=%s source=%s timezone=%s", a.cfg.Store, a.cfg.Source, a.cfg.Timezone)

	fmt.Fprint(out, "Extraction rules: ")
	if a.cfg.RulesFile == "" {
		r.ok("built-in")
	} else {
		r.ok("%s", a.cfg.RulesFile)
	}

	checkStore(ctx, r, a)
	if a.cfg.Source == "gmail" {
		checkGmailFiles(r, a.cfg)
	}

	r.summary()
	return nil
}

func checkStore(ctx context.Context, r *statusReport, a *app) {
	fmt.Fprintf(r.out, "Store (%s): ", a.cfg.Store)
	if err := a.openStore(ctx); err != nil {
		r.fail("%v", err)
		return
	}
	defer a.close()

	users, err := a.store.ListUsers(ctx)
	if err != nil {
		r.fail("%v", err)
		return
	}
	r.ok("reachable, %d users with configs", len(users))

	for _, u := range users {
		last, err := a.store.LastSync(ctx, u)
		switch {
		case err != nil:
			fmt.Fprintf(r.out, "  %s: ", u)
			r.fail("%v", err)
		case last.IsZero():
			fmt.Fprintf(r.out, "  %s: never synced\n", u)
		default:
			fmt.Fprintf(r.out, "  %s: last sync %s\n", u, last.In(a.cfg.Location()).Format(time.RFC3339))
		}
	}
}

func checkGmailFiles(r *statusReport, cfg config.Config) {
	fmt.Fprintf(r.out, "Credentials file (%s): ", cfg.GmailCredentials)
	if _, err := os.Stat(cfg.GmailCredentials); err != nil {
		r.fail("not found")
	} else {
		r.ok("found")
	}

	fmt.Fprintf(r.out, "OAuth token (%s): ", cfg.GmailToken)
	data, err := os.ReadFile(cfg.GmailToken)
	if err != nil {
		r.fail("not found (run `bankmail auth`)")
		return
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		r.fail("invalid: %v", err)
		return
	}
	switch {
	case tok.RefreshToken == "" && tok.Expiry.Before(timeNow()):
		r.fail("expired and not refreshable (run `bankmail auth`)")
	case tok.Expiry.Before(timeNow()):
		r.warn("expired (will refresh on next sync)")
	default:
		r.ok("valid (expires: %s)", tok.Expiry.Format(time.RFC3339))
	}
}

func (r *statusReport) summary() {
	fmt.Fprintln(r.out)
	if r.allGood {
		fmt.Fprintln(r.out, "All checks passed.")
	} else {
		fmt.Fprintln(r.out, "Some checks failed. Fix the issues above and run `bankmail status` again.")
	}
}
