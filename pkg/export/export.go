// Package export writes persisted expenses as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

var csvHeader = []string{"Date", "Bank", "Description", "Amount", "Type", "Category", "Source", "MessageID"}

// Write encodes expenses to w. Dates are rendered in loc, or UTC when nil.
func Write(w io.Writer, format Format, expenses []api.Expense, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	switch format {
	case FormatCSV:
		return writeCSV(w, expenses, loc)
	case FormatJSON:
		return writeJSON(w, expenses, loc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeCSV(w io.Writer, expenses []api.Expense, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, e := range expenses {
		record := []string{
			e.Date.In(loc).Format(time.DateTime),
			e.BankName,
			e.Description,
			e.Amount.String(),
			string(e.TransactionType),
			e.Category,
			e.Source,
			e.MessageID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

type jsonExpense struct {
	Date            string              `json:"date"`
	BankName        string              `json:"bankName"`
	Description     string              `json:"description"`
	Amount          json.Number         `json:"amount"`
	TransactionType api.TransactionType `json:"transactionType"`
	Category        string              `json:"category"`
	Source          string              `json:"source"`
	MessageID       string              `json:"messageId,omitempty"`
}

func writeJSON(w io.Writer, expenses []api.Expense, loc *time.Location) error {
	out := make([]jsonExpense, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, jsonExpense{
			Date:            e.Date.In(loc).Format(time.RFC3339),
			BankName:        e.BankName,
			Description:     e.Description,
			Amount:          json.Number(e.Amount.String()),
			TransactionType: e.TransactionType,
			Category:        e.Category,
			Source:          e.Source,
			MessageID:       e.MessageID,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
