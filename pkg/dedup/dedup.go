// Package dedup decides whether a candidate expense was already imported.
package dedup

import (
	"time"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/textnorm"
)

// Policy compares expenses by calendar day in a fixed location.
type Policy struct {
	loc *time.Location
}

// New returns a policy evaluating dates in loc, or UTC when loc is nil.
func New(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &Policy{loc: loc}
}

// IsDuplicate reports whether an expense of existing has the same user,
// calendar day and amount as candidate, and either the same bank or the same
// description.
func (p *Policy) IsDuplicate(candidate api.Expense, existing []api.Expense) bool {
	bank := textnorm.FoldKey(candidate.BankName)
	desc := textnorm.FoldKey(candidate.Description)

	for i := range existing {
		e := &existing[i]
		if e.UserID != candidate.UserID || !p.SameDay(e.Date, candidate.Date) || !e.Amount.Equal(candidate.Amount) {
			continue
		}
		if bank != "" && textnorm.FoldKey(e.BankName) == bank {
			return true
		}
		if desc != "" && textnorm.FoldKey(e.Description) == desc {
			return true
		}
	}
	return false
}

// Check adapts the policy to api.DuplicateCheck.
func (p *Policy) Check() api.DuplicateCheck {
	return p.IsDuplicate
}

// SameDay reports whether a and b fall on the same calendar day in the policy
// location.
func (p *Policy) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(p.loc).Date()
	by, bm, bd := b.In(p.loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns the half-open range of the calendar day containing t.
func (p *Policy) DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.In(p.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, p.loc)
	return start, start.AddDate(0, 0, 1)
}
