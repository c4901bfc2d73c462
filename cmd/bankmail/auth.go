package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/pkg/client"
)

func newAuthCommand() *cobra.Command {
	var force bool
	var port int

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize read-only access to the mailbox",
		Long: "Runs the OAuth consent flow in a browser and caches the token, so later\n" +
			"syncs can read mail without interaction.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "=== Bankmail Authorization ===")
			fmt.Fprintln(out)

			scopes, err := a.registry.Scopes(a.cfg.Source)
			if err != nil {
				return err
			}
			if len(scopes) == 0 {
				fmt.Fprintf(out, "Source %q needs no authorization.\n", a.cfg.Source)
				return nil
			}

			if _, err := os.Stat(a.cfg.GmailCredentials); err != nil {
				fmt.Fprintf(out, "Client secret not found at %s.\n\n", a.cfg.GmailCredentials)
				fmt.Fprintln(out, "To create one:")
				fmt.Fprintln(out, "  1. Open https://console.cloud.google.com/apis/credentials")
				fmt.Fprintln(out, "  2. Enable the Gmail API for your project")
				fmt.Fprintln(out, "  3. Create an OAuth client ID of type \"Desktop app\"")
				fmt.Fprintf(out, "  4. Download the JSON and save it as %s\n", a.cfg.GmailCredentials)
				return fmt.Errorf("client secret file missing")
			}

			if force {
				if err := os.Remove(a.cfg.GmailToken); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("removing cached token: %w", err)
				}
			} else if _, err := os.Stat(a.cfg.GmailToken); err == nil {
				fmt.Fprintf(out, "A token is already cached at %s. Use --force to authorize again.\n", a.cfg.GmailToken)
				return nil
			}

			if _, err := client.New(ctx, client.Options{
				SecretFile:   a.cfg.GmailCredentials,
				TokenFile:    a.cfg.GmailToken,
				Scopes:       scopes,
				Interactive:  true,
				CallbackPort: port,
			}, a.logger.With("component", "oauth")); err != nil {
				return err
			}

			fmt.Fprintf(out, "✓ Token saved to %s\n", a.cfg.GmailToken)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard any cached token and authorize again")
	cmd.Flags().IntVar(&port, "port", client.DefaultCallbackPort, "local port for the OAuth redirect")
	return cmd
}
