// Package api defines the core interfaces and data structures for bankmail.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the direction of an extracted transaction.
type TransactionType string

const (
	// TypeDebit is money leaving the account. It is the default type.
	TypeDebit TransactionType = "debit"
	// TypeCredit is money entering the account.
	TypeCredit TransactionType = "credit"
	// TypeCreditCardStatement is a billing statement notice.
	TypeCreditCardStatement TransactionType = "credit_card_statement"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDebit, TypeCredit, TypeCreditCardStatement:
		return true
	}
	return false
}

// DefaultCategory is the reserved category for unclassified transactions.
const DefaultCategory = "other"

// BankEmailConfig describes how to recognize and parse one bank's transaction emails.
type BankEmailConfig struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	// Name is a label, unique per user.
	Name     string `json:"name"`
	BankName string `json:"bankName"`

	FromPatterns    []string `json:"fromPatterns"`
	SubjectPatterns []string `json:"subjectPatterns"`
	BodyKeywords    []string `json:"bodyKeywords"`

	// AmountLabels and DescriptionLabels are anchor phrases tried in order.
	AmountLabels      []string `json:"amountLabels"`
	DescriptionLabels []string `json:"descriptionLabels"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clean trims every pattern and drops blank entries.
func (c *BankEmailConfig) Clean() {
	c.Name = strings.TrimSpace(c.Name)
	c.BankName = strings.TrimSpace(c.BankName)
	c.FromPatterns = cleanList(c.FromPatterns)
	c.SubjectPatterns = cleanList(c.SubjectPatterns)
	c.BodyKeywords = cleanList(c.BodyKeywords)
	c.AmountLabels = cleanList(c.AmountLabels)
	c.DescriptionLabels = cleanList(c.DescriptionLabels)
}

// Validate checks the invariants a config must hold before it is stored.
func (c *BankEmailConfig) Validate() error {
	if strings.TrimSpace(c.BankName) == "" {
		return &ValidationError{Field: "bankName", Reason: "must not be empty"}
	}
	if len(cleanList(c.FromPatterns)) == 0 {
		return &ValidationError{Field: "fromPatterns", Reason: "at least one sender pattern is required"}
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EmailMessage is a raw email handed to the extraction engine. It is never mutated.
type EmailMessage struct {
	// ID is the source message id, if the source has one.
	ID         string    `json:"id,omitempty"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Outcome tells how far an email got through the extraction pipeline.
type Outcome string

const (
	OutcomeExtracted     Outcome = "extracted"
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeFieldNotFound Outcome = "field_not_found"
)

// ExtractionResult is produced fresh for every processed email.
type ExtractionResult struct {
	Outcome         Outcome         `json:"outcome"`
	Matched         bool            `json:"matched"`
	MatchedConfigID string          `json:"matchedConfigId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	BankName        string          `json:"bankName"`
	TransactionType TransactionType `json:"transactionType"`
	Category        string          `json:"category"`
	// Reason explains the match or no-match in human terms.
	Reason     string    `json:"reason"`
	MessageID  string    `json:"messageId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Extracted reports whether the result carries a complete transaction.
func (r *ExtractionResult) Extracted() bool {
	return r.Outcome == OutcomeExtracted
}

// Expense is a persisted transaction owned by a user.
type Expense struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	BankName        string          `json:"bankName"`
	TransactionType TransactionType `json:"transactionType"`
	Category        string          `json:"category"`
	Date            time.Time       `json:"date"`
	Source          string          `json:"source"`
	MessageID       string          `json:"messageId,omitempty"`
	ConfigID        string          `json:"configId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SourceEmail marks expenses imported from email.
const SourceEmail = "email"

// SyncMode selects whether the sync cooldown applies.
type SyncMode string

const (
	// SyncManual bypasses the cooldown.
	SyncManual SyncMode = "manual"
	// SyncAuto is subject to the cooldown.
	SyncAuto SyncMode = "auto"
)

// SyncState is the terminal state of one sync invocation.
type SyncState string

const (
	SyncStateDone            SyncState = "done"
	SyncStateSkippedCooldown SyncState = "skipped_cooldown"
)

// SyncSummary is returned once per sync invocation.
type SyncSummary struct {
	EmailsChecked    int `json:"emailsChecked"`
	NewExpensesAdded int `json:"newExpensesAdded"`
	// Skipped counts unmatched, malformed, duplicate and conflicting emails.
	Skipped int `json:"skipped"`
	// Duplicates is the part of Skipped rejected by deduplication.
	Duplicates int       `json:"duplicates"`
	State      SyncState `json:"state"`
}

// EmailSource yields the raw emails of a user for a period.
type EmailSource interface {
	Fetch(ctx context.Context, userID string, period Period) ([]EmailMessage, error)
}

// DuplicateCheck decides whether candidate already exists among existing.
type DuplicateCheck func(candidate Expense, existing []Expense) bool

// ExpenseStore persists expenses.
type ExpenseStore interface {
	// ListExpenses returns the user's expenses dated within [from, to).
	ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]Expense, error)
	// InsertIfNotDuplicate atomically checks e against the user's expenses of the
	// same day and inserts it. It returns ErrPersistenceConflict when check reports
	// a duplicate.
	InsertIfNotDuplicate(ctx context.Context, e *Expense, check DuplicateCheck) error
}

// ConfigStore manages bank email configs. List results are in creation order.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg *BankEmailConfig) error
	GetConfig(ctx context.Context, userID, id string) (*BankEmailConfig, error)
	ListConfigs(ctx context.Context, userID string) ([]BankEmailConfig, error)
	UpdateConfig(ctx context.Context, cfg *BankEmailConfig) error
	DeleteConfig(ctx context.Context, userID, id string) error
	// ListUsers returns every user owning at least one config.
	ListUsers(ctx context.Context) ([]string, error)
}

// SyncStateStore tracks the last completed sync of every user.
type SyncStateStore interface {
	// LastSync returns the zero time when the user never synced.
	LastSync(ctx context.Context, userID string) (time.Time, error)
	SetLastSync(ctx context.Context, userID string, at time.Time) error
}

// Store bundles all persistence concerns behind one backend.
type Store interface {
	ExpenseStore
	ConfigStore
	SyncStateStore
	Close() error
}
