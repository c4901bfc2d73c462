package extract

import (
	"strings"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/textnorm"
)

// Classification is the type and category assigned to an extracted transaction.
type Classification struct {
	Type     api.TransactionType
	Category string
}

// Classifier assigns transaction types and categories from keyword tables.
// It is read-only after construction.
type Classifier struct {
	types           []TypeRule
	categories      []CategoryRule
	defaultCategory string
}

// NewClassifier builds a classifier over a copy of rules with every keyword
// normalized.
func NewClassifier(rules *Rules) *Classifier {
	c := &Classifier{defaultCategory: rules.DefaultCategory}
	if c.defaultCategory == "" {
		c.defaultCategory = api.DefaultCategory
	}
	for _, tr := range rules.TransactionTypes {
		c.types = append(c.types, TypeRule{Type: tr.Type, Keywords: normalizeKeywords(tr.Keywords)})
	}
	for _, cr := range rules.Categories {
		c.categories = append(c.categories, CategoryRule{
			Category: strings.TrimSpace(cr.Category),
			Keywords: normalizeKeywords(cr.Keywords),
		})
	}
	return c
}

// Classify picks the first type rule with a keyword in the subject, body or
// description (debit otherwise), and the first category rule with a keyword in
// the description.
func (c *Classifier) Classify(fields Fields, email api.EmailMessage) Classification {
	email = normalizeEmail(email)
	description := textnorm.Normalize(fields.Description)

	out := Classification{Type: api.TypeDebit, Category: c.defaultCategory}
	for _, tr := range c.types {
		if anyIn(tr.Keywords, email.Subject, email.Body, description) {
			out.Type = tr.Type
			break
		}
	}
	for _, cr := range c.categories {
		if anyIn(cr.Keywords, description) {
			out.Category = cr.Category
			break
		}
	}
	return out
}

func anyIn(keywords []string, texts ...string) bool {
	for _, kw := range keywords {
		for _, t := range texts {
			if textnorm.ContainsFold(t, kw) {
				return true
			}
		}
	}
	return false
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = textnorm.Normalize(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}
