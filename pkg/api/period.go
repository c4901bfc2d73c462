package api

import (
	"fmt"
	"time"
)

// monthLayout is the wire format of a sync period.
const monthLayout = "2006-01"

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar month "YYYY-MM" in loc.
func MonthPeriod(month string, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(monthLayout, month, loc)
	if err != nil {
		return Period{}, fmt.Errorf("parsing month %q: %w", month, err)
	}
	return Period{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// CurrentMonth returns the month containing now, in now's location.
func CurrentMonth(now time.Time) Period {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// String renders the period as "YYYY-MM" when it spans one calendar month.
func (p Period) String() string {
	if p.Start.AddDate(0, 1, 0).Equal(p.End) && p.Start.Day() == 1 {
		return p.Start.Format(monthLayout)
	}
	return fmt.Sprintf("%s..%s", p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}
