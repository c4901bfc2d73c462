// Package extract turns bank notification emails into transactions: it matches
// an email against the user's bank configs, pulls out amount and description,
// and classifies the result. Everything here is pure and safe for concurrent use.
package extract

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// Engine runs the extraction pipeline for single emails.
type Engine struct {
	markers    *Markers
	classifier *Classifier
}

// NewEngine validates rules and builds an engine from them.
func NewEngine(rules *Rules) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("rules are required")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("validating rules: %w", err)
	}
	return &Engine{
		markers:    NewMarkers(rules.CurrencyMarkers),
		classifier: NewClassifier(rules),
	}, nil
}

// Process matches, extracts and classifies one email. It never fails: the
// outcome and reason of the result say how far the email got.
func (e *Engine) Process(email api.EmailMessage, configs []api.BankEmailConfig) api.ExtractionResult {
	res := api.ExtractionResult{
		Outcome:    api.OutcomeNoMatch,
		MessageID:  email.ID,
		ReceivedAt: email.ReceivedAt,
	}

	m := Match(email, configs)
	res.Reason = m.Reason
	if !m.Matched {
		return res
	}
	res.Matched = true
	res.MatchedConfigID = m.Config.ID
	res.BankName = m.Config.BankName

	fields, err := ExtractFields(m.Config, email, e.markers)
	if err != nil {
		res.Outcome = api.OutcomeFieldNotFound
		res.Reason = err.Error()
		return res
	}

	cls := e.classifier.Classify(fields, email)
	res.Outcome = api.OutcomeExtracted
	res.Amount = fields.Amount
	res.Description = fields.Description
	res.TransactionType = cls.Type
	res.Category = cls.Category
	return res
}

// TestTransaction is the preview of what a config would extract.
type TestTransaction struct {
	Amount          decimal.Decimal     `json:"amount"`
	Description     string              `json:"description"`
	BankName        string              `json:"bankName"`
	TransactionType api.TransactionType `json:"transactionType"`
	Category        string              `json:"category"`
}

// TestResult reports how a single config handles a sample email.
type TestResult struct {
	Matches     bool             `json:"matches"`
	Message     string           `json:"message"`
	Transaction *TestTransaction `json:"transaction,omitempty"`
}

// Test evaluates cfg alone against a sample email, whether or not cfg is
// active. A config that matches but cannot extract a field still reports
// Matches with a message naming the missing field.
func (e *Engine) Test(cfg api.BankEmailConfig, email api.EmailMessage) TestResult {
	ok, reason := MatchConfig(email, &cfg)
	if !ok {
		return TestResult{Message: "Email does not match this config: " + reason}
	}

	fields, err := ExtractFields(&cfg, email, e.markers)
	if err != nil {
		var ferr *api.FieldError
		if errors.As(err, &ferr) {
			return TestResult{
				Matches: true,
				Message: fmt.Sprintf("Email matches this config but the %s could not be extracted", ferr.Field),
			}
		}
		return TestResult{Matches: true, Message: err.Error()}
	}

	cls := e.classifier.Classify(fields, email)
	return TestResult{
		Matches: true,
		Message: "Email matches this config and a transaction was extracted",
		Transaction: &TestTransaction{
			Amount:          fields.Amount,
			Description:     fields.Description,
			BankName:        cfg.BankName,
			TransactionType: cls.Type,
			Category:        cls.Category,
		},
	}
}
