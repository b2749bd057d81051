package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// DAY COUNTING - Sandwich-aware
// =============================================================================

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
)

// DefaultWeeklyOffs applies when no calendar is configured.
var DefaultWeeklyOffs = []time.Weekday{time.Saturday, time.Sunday}

type DayKind string

const (
	DayWorking   DayKind = "working"
	DayHoliday   DayKind = "holiday"
	DayWeeklyOff DayKind = "weekly_off"
)

// Span is the date range of a request. HalfDayStart takes half of the first
// day, HalfDayEnd half of the last.
type Span struct {
	From         generic.TimePoint
	To           generic.TimePoint
	HalfDayStart bool
	HalfDayEnd   bool
}

type CountedDay struct {
	Date   generic.TimePoint
	Kind   DayKind
	Weight decimal.Decimal
}

type DayCount struct {
	Total decimal.Decimal
	Days  []CountedDay
}

// ByMonth sums the counted days per calendar month ("YYYY-MM").
func (c DayCount) ByMonth() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, d := range c.Days {
		if d.Weight.IsZero() {
			continue
		}
		k := d.Date.MonthKey()
		out[k] = out[k].Add(d.Weight)
	}
	return out
}

// CountDays classifies each day of the span and excludes holidays and
// weekly offs whose adjacency rule is DO_NOT_COUNT. It is a pure function of
// its inputs.
func CountDays(span Span, holidays map[string]bool, weeklyOffs []time.Weekday, rules policy.SandwichRules) DayCount {
	off := make(map[time.Weekday]bool, len(weeklyOffs))
	for _, wd := range weeklyOffs {
		off[wd] = true
	}

	var out DayCount
	for d := span.From; d.BeforeOrEqual(span.To); d = d.AddDays(1) {
		isHoliday := holidays[d.String()]
		isOff := off[d.Weekday()]

		cd := CountedDay{Date: d, Kind: DayWorking, Weight: one}
		switch {
		case isHoliday:
			cd.Kind = DayHoliday
		case isOff:
			cd.Kind = DayWeeklyOff
		}

		excluded := (isHoliday && rules.HolidayAdjacency == policy.DoNotCount) ||
			(isOff && rules.WeekendAdjacency == policy.DoNotCount)
		if excluded {
			cd.Weight = decimal.Zero
		} else if (span.HalfDayStart && d.Equal(span.From)) || (span.HalfDayEnd && d.Equal(span.To)) {
			cd.Weight = half
		}

		out.Total = out.Total.Add(cd.Weight)
		out.Days = append(out.Days, cd)
	}
	return out
}

// DayCounter fetches holidays and weekly offs and counts a span.
type DayCounter struct {
	Calendar Calendar
}

func (c DayCounter) Count(ctx context.Context, tenantID, location string, span Span, rules policy.SandwichRules) (DayCount, error) {
	holidays := make(map[string]bool)
	weeklyOffs := DefaultWeeklyOffs

	if c.Calendar != nil {
		days, err := c.Calendar.Holidays(ctx, tenantID, location, generic.Period{Start: span.From, End: span.To})
		if err != nil {
			return DayCount{}, fmt.Errorf("load holidays: %w", err)
		}
		for _, d := range days {
			holidays[d.String()] = true
		}
		weeklyOffs, err = c.Calendar.WeeklyOffs(ctx, tenantID, location)
		if err != nil {
			return DayCount{}, fmt.Errorf("load weekly offs: %w", err)
		}
	}
	return CountDays(span, holidays, weeklyOffs, rules), nil
}
