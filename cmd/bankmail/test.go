package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/mailparse"
)

func newTestCommand() *cobra.Command {
	var configFile, emailFile, rulesFile string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check a bank email config against a sample email",
		Long: "Runs a single bank email config against an RFC 5322 message (.eml) and\n" +
			"prints whether it matches and what would be extracted. Nothing is stored.",
		Example: `  bankmail test --config vpbank.json --email notification.eml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readBankConfig(configFile)
			if err != nil {
				return err
			}

			f, err := os.Open(emailFile)
			if err != nil {
				return fmt.Errorf("opening email: %w", err)
			}
			defer f.Close()
			email, err := mailparse.Parse(f)
			if err != nil {
				return err
			}

			if rulesFile == "" {
				rulesFile = os.Getenv("BANKMAIL_RULES_FILE")
			}
			engine, err := loadEngine(rulesFile)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(engine.Test(*cfg, email))
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "bank email config as JSON")
	cmd.Flags().StringVar(&emailFile, "email", "", "sample email (.eml)")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "extraction rules file (default: built-in rules)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readBankConfig(path string) (*api.BankEmailConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg api.BankEmailConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Clean()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
