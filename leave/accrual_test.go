package leave_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// ENTITLEMENT SCHEDULE
// =============================================================================

func quota(days string, proration *policy.Proration) policy.Limited {
	return policy.Limited{Days: dec(days), Proration: proration}
}

func monthly(amount string, rounding policy.Rounding) policy.Periodic {
	return policy.Periodic{Interval: generic.IntervalMonthly, AmountPerInterval: dec(amount), Rounding: rounding}
}

func prorate(cutoff int) *policy.Proration {
	return &policy.Proration{Policy: policy.ProrateOnJoinDate, JoinMonthCutoffDay: cutoff}
}

func sum(events []generic.AccrualEvent) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.Amount.Value)
	}
	return total
}

func TestEntitlement_GenerateAccruals(t *testing.T) {
	veteran := date(2020, time.January, 1)
	joiner := date(2025, time.July, 20)

	tests := []struct {
		name    string
		quota   policy.Quota
		accrual policy.Accrual
		join    generic.TimePoint
		events  int
		total   string
		first   string
	}{
		{"entire quota on Jan 1", quota("20", nil), policy.EntireQuota{}, veteran, 1, "20", "2025-01-01"},
		{"entire quota full for joiner", quota("12", nil), policy.EntireQuota{}, joiner, 1, "12", "2025-07-20"},
		{"entire quota prorated after cutoff", quota("12", prorate(15)), policy.EntireQuota{}, joiner, 1, "5", "2025-07-20"},
		{"entire quota prorated, cutoff 0", quota("12", prorate(0)), policy.EntireQuota{}, joiner, 1, "6", "2025-07-20"},
		{"entire quota prorated before cutoff", quota("12", prorate(25)), policy.EntireQuota{}, joiner, 1, "6", "2025-07-20"},
		{"joins next year", quota("12", nil), policy.EntireQuota{}, date(2026, time.February, 1), 0, "0", ""},
		{"unlimited", policy.Unlimited{}, policy.EntireQuota{}, veteran, 0, "0", ""},
		{"monthly", quota("12", nil), monthly("1", policy.NoRounding), veteran, 12, "12", "2025-01-01"},
		{"monthly cumulative rounding capped", quota("12", nil), monthly("1.2", policy.RoundDown), veteran, 10, "12", "2025-01-01"},
		{"monthly prorated joiner", quota("12", prorate(15)), monthly("1", policy.NoRounding), joiner, 5, "5", "2025-08-01"},
		{"monthly prorated joiner before cutoff", quota("12", prorate(25)), monthly("1", policy.NoRounding), joiner, 6, "6", "2025-07-20"},
		{"monthly full quota catch-up", quota("12", nil), monthly("1", policy.NoRounding), joiner, 6, "12", "2025-07-20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := leave.Entitlement{
				Rules:    policy.TypeRules{Quota: tt.quota, Accrual: tt.accrual},
				JoinDate: tt.join,
				Year:     2025,
			}
			events := e.GenerateAccruals(generic.YearPeriod(2025))

			require.Len(t, events, tt.events)
			assert.True(t, sum(events).Equal(dec(tt.total)), "total %s, want %s", sum(events), tt.total)
			if tt.events > 0 {
				assert.Equal(t, tt.first, events[0].At.String())
			}
		})
	}
}

func TestEntitlement_RoundingNeverCompounds(t *testing.T) {
	// GIVEN: 1.2 days a month rounded down to half days
	// THEN: Each grant tops the running total up to round(k * 1.2)

	e := leave.Entitlement{
		Rules:    policy.TypeRules{Quota: quota("20", nil), Accrual: monthly("1.2", policy.RoundDown)},
		JoinDate: date(2020, time.January, 1),
		Year:     2025,
	}
	events := e.GenerateAccruals(generic.YearPeriod(2025))
	require.Len(t, events, 12)

	var got []string
	for _, ev := range events[:4] {
		got = append(got, ev.Amount.Value.String())
	}
	assert.Equal(t, []string{"1", "1", "1.5", "1"}, got)
	assert.True(t, sum(events).Equal(dec("14")), "round_down(12 * 1.2) = 14")
}

func TestEntitlement_FullQuotaCatchUpAmount(t *testing.T) {
	e := leave.Entitlement{
		Rules:    policy.TypeRules{Quota: quota("12", nil), Accrual: monthly("1", policy.NoRounding)},
		JoinDate: date(2025, time.July, 20),
		Year:     2025,
	}
	events := e.GenerateAccruals(generic.YearPeriod(2025))
	require.NotEmpty(t, events)
	assert.True(t, events[0].Amount.Value.Equal(dec("7")), "Jan..Jul granted on the join date")
	assert.Equal(t, "2025-08-01", events[1].At.String())
}

func TestEntitlement_WindowFiltersEvents(t *testing.T) {
	e := leave.Entitlement{
		Rules:    policy.TypeRules{Quota: quota("12", nil), Accrual: monthly("1", policy.NoRounding)},
		JoinDate: date(2020, time.January, 1),
		Year:     2025,
	}
	window := generic.Period{Start: generic.StartOfYear(2025), End: mar(15)}

	events := e.GenerateAccruals(window)
	assert.Len(t, events, 3)
}

// =============================================================================
// SEEDING
// =============================================================================

func TestAccruals_SeedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	emp, err := f.store.Employee(f.ctx, tenant, emp1)
	require.NoError(t, err)

	res, err := f.accruals.Seed(f.ctx, emp, annual, 2025, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)
	assert.True(t, res.Granted.Equal(dec("20")))

	res, err = f.accruals.Seed(f.ctx, emp, annual, 2025, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)

	assert.True(t, f.balance(t, emp1, 2025).TotalAllocated.Equal(dec("20")))

	res, err = f.accruals.Seed(f.ctx, emp, annual, 2026, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events, "nothing of next year is due yet")
}

func TestAccruals_SeedPeriodicUpToDate(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) {
		r.Quota = quota("12", nil)
		r.Accrual = monthly("1", policy.NoRounding)
	})
	emp, err := f.store.Employee(f.ctx, tenant, emp1)
	require.NoError(t, err)

	res, err := f.accruals.Seed(f.ctx, emp, annual, 2025, mar(15))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events)

	res, err = f.accruals.Seed(f.ctx, emp, annual, 2025, date(2025, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events, "only Apr..Jun are new")

	b := f.balance(t, emp1, 2025)
	assert.True(t, b.TotalAllocated.Equal(dec("6")))
	f.assertConserved(t, emp1, 2025)
}

func TestAccruals_ApplyDue(t *testing.T) {
	// GIVEN: Two veterans and one employee joining in June
	// WHEN: Accruals are applied as of Mar 3, twice
	// THEN: The veterans get their grant once, the joiner nothing yet

	f := newFixture(t)
	f.employee(t, policy.Employee{ID: "emp-june", JoinDate: date(2025, time.June, 1)})

	rep, err := f.accruals.ApplyDue(f.ctx, tenant, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Employees)
	assert.Equal(t, 2, rep.Rows)
	assert.Equal(t, 0, rep.Failed)
	assert.True(t, rep.Granted.Equal(dec("40")))

	rep, err = f.accruals.ApplyDue(f.ctx, tenant, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Rows)
	assert.True(t, rep.Granted.IsZero())

	assert.True(t, f.balance(t, emp2, 2025).TotalAllocated.Equal(dec("20")))
	assert.True(t, f.balance(t, "emp-june", 2025).TotalAllocated.IsZero())
}

func TestAccruals_UnlimitedGrantsNothing(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) { r.Quota = policy.Unlimited{} })
	emp, err := f.store.Employee(f.ctx, tenant, emp1)
	require.NoError(t, err)

	res, err := f.accruals.Seed(f.ctx, emp, annual, 2025, mar(3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)

	// Unlimited types never block on balance.
	f.submit(t, mar(10), mar(14))
	assert.True(t, f.balance(t, emp1, 2025).Used.Equal(dec("5")))
}
