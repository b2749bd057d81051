package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

func day(m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(2025, m, d) }

func period(t *testing.T, from, to generic.TimePoint) generic.Period {
	p, err := generic.NewPeriod(from, to)
	require.NoError(t, err)
	return p
}

func TestNewPeriod_EndBeforeStart(t *testing.T) {
	_, err := generic.NewPeriod(day(time.March, 5), day(time.March, 4))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	p, err := generic.NewPeriod(day(time.March, 5), day(time.March, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestPeriod_OverlapsAndTouches(t *testing.T) {
	a := period(t, day(time.March, 3), day(time.March, 5))

	tests := []struct {
		name     string
		other    generic.Period
		overlaps bool
		touches  bool
	}{
		{"same", a, true, true},
		{"shares last day", period(t, day(time.March, 5), day(time.March, 7)), true, true},
		{"back to back", period(t, day(time.March, 6), day(time.March, 7)), false, true},
		{"back to back before", period(t, day(time.March, 1), day(time.March, 2)), false, true},
		{"one day gap", period(t, day(time.March, 7), day(time.March, 8)), false, false},
		{"contains", period(t, day(time.March, 1), day(time.March, 31)), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.overlaps, a.Overlaps(tt.other))
			assert.Equal(t, tt.overlaps, tt.other.Overlaps(a))
			assert.Equal(t, tt.touches, a.Touches(tt.other))
			assert.Equal(t, tt.touches, tt.other.Touches(a))
		})
	}
}

func TestPeriod_DaysAcrossMonthEnd(t *testing.T) {
	p := period(t, day(time.January, 30), day(time.February, 2))

	days := p.Days()
	require.Len(t, days, 4)
	assert.Equal(t, "2025-01-30", days[0].String())
	assert.Equal(t, "2025-02-02", days[3].String())
	assert.Equal(t, 4, p.Len())
}

func TestYearPeriod(t *testing.T) {
	p := generic.YearPeriod(2024)

	assert.Equal(t, 366, p.Len())
	assert.True(t, p.Contains(generic.NewTimePoint(2024, time.February, 29)))
	assert.False(t, p.Contains(generic.NewTimePoint(2025, time.January, 1)))
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "2025-03", d.MonthKey())

	_, err = generic.ParseDate("10/03/2025")
	assert.Error(t, err)
}

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	d := generic.DateOf(time.Date(2025, time.March, 10, 2, 0, 0, 0, loc))

	assert.Equal(t, "2025-03-09", d.String())
	assert.True(t, d.Equal(generic.NewTimePoint(2025, time.March, 9)))
}

func TestEndOfMonth(t *testing.T) {
	assert.Equal(t, "2024-02-29", generic.EndOfMonth(2024, time.February).String())
	assert.Equal(t, "2025-12-31", generic.EndOfMonth(2025, time.December).String())
	assert.Equal(t, -3, generic.DaysBetween(day(time.March, 4), day(time.March, 1)))
}

func TestInterval_Boundaries(t *testing.T) {
	tests := []struct {
		interval generic.Interval
		count    int
		second   string
	}{
		{generic.IntervalMonthly, 12, "2025-02-01"},
		{generic.IntervalQuarterly, 4, "2025-04-01"},
		{generic.IntervalBiAnnually, 2, "2025-07-01"},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			b := tt.interval.Boundaries(2025)
			require.Len(t, b, tt.count)
			assert.Equal(t, "2025-01-01", b[0].String())
			assert.Equal(t, tt.second, b[1].String())
		})
	}

	assert.False(t, generic.Interval("WEEKLY").Valid())
	assert.Nil(t, generic.Interval("WEEKLY").Boundaries(2025))
}
