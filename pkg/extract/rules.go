package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/bankmail/pkg/api"
)

//go:embed default_rules.json
var defaultRulesJSON []byte

// TypeRule maps keywords to a transaction type.
type TypeRule struct {
	Type     api.TransactionType `json:"type"`
	Keywords []string            `json:"keywords"`
}

// CategoryRule maps description keywords to a category key.
type CategoryRule struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Rules are the classification tables. Order is significant: the first rule
// with a matching keyword wins.
type Rules struct {
	TransactionTypes []TypeRule     `json:"transactionTypes"`
	Categories       []CategoryRule `json:"categories"`
	DefaultCategory  string         `json:"defaultCategory"`
	CurrencyMarkers  []string       `json:"currencyMarkers"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() (*Rules, error) {
	var r Rules
	if err := json.Unmarshal(defaultRulesJSON, &r); err != nil {
		return nil, fmt.Errorf("parsing default rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validating default rules: %w", err)
	}
	return &r, nil
}

// LoadRules reads rules from a JSON file. Sections missing from the file keep
// their defaults. An empty path returns DefaultRules.
func LoadRules(path string) (*Rules, error) {
	defaults, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return defaults, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("loading rules file %s: %w", path, err)
	}

	var r Rules
	if err := k.UnmarshalWithConf("", &r, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decoding rules file %s: %w", path, err)
	}

	if !k.Exists("transactionTypes") {
		r.TransactionTypes = defaults.TransactionTypes
	}
	if !k.Exists("categories") {
		r.Categories = defaults.Categories
	}
	if !k.Exists("currencyMarkers") {
		r.CurrencyMarkers = defaults.CurrencyMarkers
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validating rules file %s: %w", path, err)
	}
	return &r, nil
}

// Validate rejects unknown types, empty keyword lists and empty category keys.
// It fills DefaultCategory when unset.
func (r *Rules) Validate() error {
	for i, tr := range r.TransactionTypes {
		if !tr.Type.Valid() {
			return fmt.Errorf("transactionTypes[%d]: unknown type %q", i, tr.Type)
		}
		if !hasKeyword(tr.Keywords) {
			return fmt.Errorf("transactionTypes[%d]: no keywords", i)
		}
	}
	for i, cr := range r.Categories {
		if strings.TrimSpace(cr.Category) == "" {
			return fmt.Errorf("categories[%d]: empty category", i)
		}
		if !hasKeyword(cr.Keywords) {
			return fmt.Errorf("categories[%d] %s: no keywords", i, cr.Category)
		}
	}
	if strings.TrimSpace(r.DefaultCategory) == "" {
		r.DefaultCategory = api.DefaultCategory
	}
	return nil
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}
