package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a period, rejecting an end before the start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// YearPeriod is the accrual year, Jan 1 to Dec 31.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// Touches reports whether two periods overlap or are back to back.
func (p Period) Touches(o Period) bool {
	return !p.End.AddDays(1).Before(o.Start) && !o.End.AddDays(1).Before(p.Start)
}

// Days returns every day in the period.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for d := p.Start; d.BeforeOrEqual(p.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return fmt.Sprintf("%s..%s", p.Start, p.End)
}
