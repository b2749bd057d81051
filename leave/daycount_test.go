package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/memory"
)

func sandwich(holiday, weekend policy.Adjacency) policy.SandwichRules {
	return policy.SandwichRules{HolidayAdjacency: holiday, WeekendAdjacency: weekend}
}

func TestCountDays(t *testing.T) {
	// March 2025: the 8th and 9th are a weekend, the 12th a holiday.
	holidays := map[string]bool{"2025-03-12": true}

	tests := []struct {
		name  string
		span  leave.Span
		rules policy.SandwichRules
		want  string
	}{
		{"working week", leave.Span{From: mar(10), To: mar(14)}, sandwich(policy.CountAsLeave, policy.CountAsLeave), "5"},
		{"weekend counted", leave.Span{From: mar(7), To: mar(10)}, sandwich(policy.DoNotCount, policy.CountAsLeave), "4"},
		{"weekend excluded", leave.Span{From: mar(7), To: mar(10)}, sandwich(policy.DoNotCount, policy.DoNotCount), "2"},
		{"holiday excluded", leave.Span{From: mar(10), To: mar(14)}, sandwich(policy.DoNotCount, policy.DoNotCount), "4"},
		{"holiday counted", leave.Span{From: mar(10), To: mar(14)}, sandwich(policy.CountAsLeave, policy.DoNotCount), "5"},
		{"half days at both ends", leave.Span{From: mar(10), To: mar(11), HalfDayStart: true, HalfDayEnd: true}, sandwich(policy.DoNotCount, policy.DoNotCount), "1"},
		{"single half day", leave.Span{From: mar(13), To: mar(13), HalfDayEnd: true}, sandwich(policy.DoNotCount, policy.DoNotCount), "0.5"},
		{"half day on an excluded day", leave.Span{From: mar(8), To: mar(10), HalfDayStart: true}, sandwich(policy.DoNotCount, policy.DoNotCount), "1"},
		{"only weekend", leave.Span{From: mar(8), To: mar(9)}, sandwich(policy.DoNotCount, policy.DoNotCount), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := leave.CountDays(tt.span, holidays, leave.DefaultWeeklyOffs, tt.rules)
			assert.True(t, got.Total.Equal(dec(tt.want)), "got %s, want %s", got.Total, tt.want)
			assert.Len(t, got.Days, generic.DaysBetween(tt.span.From, tt.span.To)+1)
		})
	}
}

func TestCountDays_Kinds(t *testing.T) {
	got := leave.CountDays(leave.Span{From: mar(11), To: mar(15)}, map[string]bool{"2025-03-12": true},
		leave.DefaultWeeklyOffs, sandwich(policy.DoNotCount, policy.CountAsLeave))

	require.Len(t, got.Days, 5)
	kinds := []leave.DayKind{}
	for _, d := range got.Days {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []leave.DayKind{
		leave.DayWorking, leave.DayHoliday, leave.DayWorking, leave.DayWorking, leave.DayWeeklyOff,
	}, kinds)
	assert.True(t, got.Days[1].Weight.IsZero())
	assert.True(t, got.Days[4].Weight.Equal(dec("1")))
}

func TestDayCount_ByMonth(t *testing.T) {
	got := leave.CountDays(leave.Span{From: mar(31), To: date(2025, time.April, 2)}, nil,
		leave.DefaultWeeklyOffs, sandwich(policy.DoNotCount, policy.DoNotCount))

	months := got.ByMonth()
	require.Len(t, months, 2)
	assert.True(t, months["2025-03"].Equal(dec("1")))
	assert.True(t, months["2025-04"].Equal(dec("2")))
}

func TestDayCounter_LocationCalendar(t *testing.T) {
	// GIVEN: Dubai works Sunday-Thursday, Berlin has no override
	// THEN: The same Thu-Mon span counts differently per location

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SetWeeklyOffs(ctx, tenant, "Dubai", []time.Weekday{time.Friday, time.Saturday}))
	require.NoError(t, store.AddHoliday(ctx, leave.Holiday{TenantID: tenant, Date: mar(17), Name: "Company day"}))

	counter := leave.DayCounter{Calendar: store}
	span := leave.Span{From: mar(13), To: mar(17)}
	rules := sandwich(policy.DoNotCount, policy.DoNotCount)

	dubai, err := counter.Count(ctx, tenant, "Dubai", span, rules)
	require.NoError(t, err)
	assert.True(t, dubai.Total.Equal(dec("2")), "Thursday and Sunday")

	berlin, err := counter.Count(ctx, tenant, "Berlin", span, rules)
	require.NoError(t, err)
	assert.True(t, berlin.Total.Equal(dec("2")), "Thursday and Friday")

	noCalendar, err := leave.DayCounter{}.Count(ctx, tenant, "Berlin", span, rules)
	require.NoError(t, err)
	assert.True(t, noCalendar.Total.Equal(dec("3")), "without a calendar only weekends are off")
}
