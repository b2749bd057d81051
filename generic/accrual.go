package generic

import "time"

// =============================================================================
// ACCRUAL SCHEDULE - How a balance grows over a year
// =============================================================================

// AccrualSchedule generates accrual events for a period.
// Implementations define the business logic (upfront grant, periodic, ...).
type AccrualSchedule interface {
	// GenerateAccruals returns accrual events dated inside the period.
	GenerateAccruals(period Period) []AccrualEvent
}

// AccrualEvent represents a single accrual occurrence.
type AccrualEvent struct {
	At     TimePoint
	Amount Amount
	Reason string
}

// =============================================================================
// INTERVALS
// =============================================================================

type Interval string

const (
	IntervalMonthly    Interval = "MONTHLY"
	IntervalQuarterly  Interval = "QUARTERLY"
	IntervalBiAnnually Interval = "BI_ANNUALLY"
)

// Months is the length of one interval in months (0 if unknown).
func (i Interval) Months() int {
	switch i {
	case IntervalMonthly:
		return 1
	case IntervalQuarterly:
		return 3
	case IntervalBiAnnually:
		return 6
	}
	return 0
}

func (i Interval) Valid() bool { return i.Months() > 0 }

// Boundaries returns the first day of every interval in a year.
func (i Interval) Boundaries(year int) []TimePoint {
	step := i.Months()
	if step == 0 {
		return nil
	}
	var out []TimePoint
	for m := 1; m <= 12; m += step {
		out = append(out, StartOfMonth(year, time.Month(m)))
	}
	return out
}
