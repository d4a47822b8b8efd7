package numerator

import (
	"fmt"
	"time"

	"backoffice/internal/core/apperror"
)

// FiscalYearStartMonth is the first month of the fiscal year.
const FiscalYearStartMonth = time.April

// Period is the resolved fiscal position of a date under a reset policy.
type Period struct {
	// Reset is the policy the period was resolved under.
	Reset ResetPeriod

	// FiscalYear is the two-digit start year followed by the two-digit end year ("2425").
	FiscalYear string

	// Segment is the sub-period label: "" for NEVER/ANNUALLY, "Jan".."Dec" for MONTHLY,
	// "Q1".."Q4" for QUARTERLY.
	Segment string

	// Start and End bound the numbering scope as [Start, End).
	// Both are zero for NEVER, whose scope is unbounded.
	Start time.Time
	End   time.Time
}

// Bounded reports whether the scope is limited to a date range.
func (p Period) Bounded() bool {
	return p.Reset != ResetNever
}

// Label is the human-readable period, e.g. "2425" or "2425/May".
func (p Period) Label() string {
	if p.Segment == "" {
		return p.FiscalYear
	}
	return p.FiscalYear + "/" + p.Segment
}

// SameScope reports whether both periods belong to the same numbering sequence.
// FiscalYear is compared even for NEVER because it is embedded in every number.
func (p Period) SameScope(o Period) bool {
	return p.FiscalYear == o.FiscalYear && p.Segment == o.Segment
}

// Contains reports whether the date falls inside the scope.
func (p Period) Contains(date time.Time) bool {
	if !p.Bounded() {
		return true
	}
	d := DateOf(date)
	return !d.Before(p.Start) && d.Before(p.End)
}

// DateOf truncates t to a calendar date in UTC, keeping its wall-clock day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FiscalYearStart returns the calendar year in which the date's fiscal year began.
func FiscalYearStart(date time.Time) int {
	if date.Month() < FiscalYearStartMonth {
		return date.Year() - 1
	}
	return date.Year()
}

// FiscalYearLabel formats the fiscal year containing date, e.g. 2024-05-10 -> "2425".
func FiscalYearLabel(date time.Time) string {
	start := FiscalYearStart(date)
	return fmt.Sprintf("%02d%02d", start%100, (start+1)%100)
}

// Resolve maps a document date to its fiscal period under the reset policy.
func Resolve(date time.Time, reset ResetPeriod) (Period, error) {
	if date.IsZero() {
		return Period{}, apperror.NewInvalidInput("document date is required").
			WithDetail("field", "occurredOn")
	}
	reset, err := ParseResetPeriod(string(reset))
	if err != nil {
		return Period{}, apperror.NewInvalidInput("invalid reset period").
			WithDetail("value", string(reset))
	}

	d := DateOf(date)
	p := Period{Reset: reset, FiscalYear: FiscalYearLabel(d)}

	switch reset {
	case ResetNever:
		// unbounded
	case ResetAnnually:
		p.Start = time.Date(FiscalYearStart(d), FiscalYearStartMonth, 1, 0, 0, 0, 0, time.UTC)
		p.End = p.Start.AddDate(1, 0, 0)
	case ResetMonthly:
		p.Segment = d.Month().String()[:3]
		p.Start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		p.End = p.Start.AddDate(0, 1, 0)
	case ResetQuarterly:
		q := (int(d.Month())-1)/3 + 1
		p.Segment = fmt.Sprintf("Q%d", q)
		p.Start = time.Date(d.Year(), time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		p.End = p.Start.AddDate(0, 3, 0)
	}
	return p, nil
}
