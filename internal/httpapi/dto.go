package httpapi

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/extract"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeBadRequest   = "bad_request"
	codeValidation   = "validation_error"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeUnauthorized = "unauthorized"
	codeUnavailable  = "source_unavailable"
	codeInternal     = "internal_error"
)

// configRequest is the writable part of a BankEmailConfig.
type configRequest struct {
	Name              string   `json:"name"`
	BankName          string   `json:"bankName"`
	FromPatterns      []string `json:"fromPatterns"`
	SubjectPatterns   []string `json:"subjectPatterns"`
	BodyKeywords      []string `json:"bodyKeywords"`
	AmountLabels      []string `json:"amountLabels"`
	DescriptionLabels []string `json:"descriptionLabels"`
	// IsActive defaults to true on create and is left unchanged on update when omitted.
	IsActive *bool `json:"isActive"`
}

func (r configRequest) apply(cfg *api.BankEmailConfig) {
	cfg.Name = r.Name
	cfg.BankName = r.BankName
	cfg.FromPatterns = r.FromPatterns
	cfg.SubjectPatterns = r.SubjectPatterns
	cfg.BodyKeywords = r.BodyKeywords
	cfg.AmountLabels = r.AmountLabels
	cfg.DescriptionLabels = r.DescriptionLabels
	if r.IsActive != nil {
		cfg.IsActive = *r.IsActive
	}
}

type testEmail struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type testRequest struct {
	ConfigID  string    `json:"configId"`
	TestEmail testEmail `json:"testEmail"`
}

type testTransaction struct {
	Amount          json.Number         `json:"amount"`
	Description     string              `json:"description"`
	BankName        string              `json:"bankName"`
	TransactionType api.TransactionType `json:"transactionType"`
	Category        string              `json:"category"`
}

type testResponse struct {
	Matches     bool             `json:"matches"`
	Message     string           `json:"message"`
	Transaction *testTransaction `json:"transaction,omitempty"`
}

func newTestResponse(res extract.TestResult) testResponse {
	out := testResponse{Matches: res.Matches, Message: res.Message}
	if t := res.Transaction; t != nil {
		out.Transaction = &testTransaction{
			Amount:          number(t.Amount),
			Description:     t.Description,
			BankName:        t.BankName,
			TransactionType: t.TransactionType,
			Category:        t.Category,
		}
	}
	return out
}

type syncEmail struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type syncRequest struct {
	// Month is "YYYY-MM"; empty means the current month.
	Month string `json:"month"`
	// Emails, when present, are processed instead of fetching from the source.
	Emails []syncEmail `json:"emails"`
}

type autoSyncResponse struct {
	Synced  bool             `json:"synced"`
	Message string           `json:"message"`
	Summary *api.SyncSummary `json:"summary,omitempty"`
}

type statusResponse struct {
	LastSync *time.Time `json:"lastSync"`
}

type expenseResponse struct {
	ID              string              `json:"id"`
	Amount          json.Number         `json:"amount"`
	Description     string              `json:"description"`
	BankName        string              `json:"bankName"`
	TransactionType api.TransactionType `json:"transactionType"`
	Category        string              `json:"category"`
	Date            time.Time           `json:"date"`
	Source          string              `json:"source"`
	MessageID       string              `json:"messageId,omitempty"`
	ConfigID        string              `json:"configId,omitempty"`
}

type expenseListResponse struct {
	Month    string            `json:"month"`
	Expenses []expenseResponse `json:"expenses"`
	// Totals sums amounts per transaction type.
	Totals map[api.TransactionType]json.Number `json:"totals"`
}

func newExpenseList(month string, expenses []api.Expense) expenseListResponse {
	out := expenseListResponse{
		Month:    month,
		Expenses: make([]expenseResponse, 0, len(expenses)),
		Totals:   make(map[api.TransactionType]json.Number),
	}
	sums := make(map[api.TransactionType]decimal.Decimal)
	for _, e := range expenses {
		out.Expenses = append(out.Expenses, expenseResponse{
			ID:              e.ID,
			Amount:          number(e.Amount),
			Description:     e.Description,
			BankName:        e.BankName,
			TransactionType: e.TransactionType,
			Category:        e.Category,
			Date:            e.Date,
			Source:          e.Source,
			MessageID:       e.MessageID,
			ConfigID:        e.ConfigID,
		})
		sums[e.TransactionType] = sums[e.TransactionType].Add(e.Amount)
	}
	for t, sum := range sums {
		out.Totals[t] = number(sum)
	}
	return out
}

// number renders an amount as a JSON number without float rounding.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
