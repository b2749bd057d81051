/*
accrual.go - Entitlement schedules and accrual seeding

PURPOSE:
  Turns a leave type's quota + accrual rules into dated grant events for one
  employee and one year (generic.AccrualSchedule), and writes the events that
  are due into the balance ledger.

ACCRUAL TYPES:
  ENTIRE_QUOTA:
    - One grant on max(Jan 1, join date)
    - Joiners that year are prorated by remaining months when the policy is
      PRORATE_ON_JOIN_DATE; FULL_QUOTA grants the whole quota

  PERIODIC:
    - amountPerInterval at every interval boundary (Jan 1, Apr 1, ...)
    - Rounding is cumulative: the k-th event tops the total up to
      round(k * amount), so rounding error never compounds
    - The running total is capped at the quota

JOIN MONTH CUTOFF:
  Joining on or before joinMonthCutoffDay counts the join month (or the
  interval starting in it) as earned. A cutoff of 0 always counts it.

  PRORATE_ON_JOIN_DATE, quota 12, joined 2025-07-20, cutoff 15:
    months counted = Aug..Dec = 5  ->  5.0 days
  Same with cutoff 0:
    months counted = Jul..Dec = 6  ->  6.0 days

SEEDING:
  Every event is written once, keyed "accrual:<row>:<date>", so Seed and
  ApplyDue can run any number of times.

SEE ALSO:
  - generic/accrual.go: AccrualSchedule interface
  - yearend.go: seeds next year after closing a row
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
	"go.uber.org/zap"
)

var twelve = decimal.NewFromInt(12)

// =============================================================================
// ENTITLEMENT SCHEDULE
// =============================================================================

// Entitlement implements generic.AccrualSchedule for one employee's leave type.
type Entitlement struct {
	Rules    policy.TypeRules
	JoinDate generic.TimePoint
	Year     int
}

func (e Entitlement) GenerateAccruals(period generic.Period) []generic.AccrualEvent {
	quota, ok := e.Rules.Quota.(policy.Limited)
	if !ok {
		return nil
	}
	var events []generic.AccrualEvent
	switch a := e.Rules.Accrual.(type) {
	case policy.EntireQuota:
		events = e.entire(quota, a)
	case policy.Periodic:
		events = e.periodic(quota, a)
	}

	var out []generic.AccrualEvent
	for _, ev := range events {
		if period.Contains(ev.At) && ev.Amount.IsPositive() {
			out = append(out, ev)
		}
	}
	return out
}

// joinedThisYear reports whether the join date falls inside the year.
func (e Entitlement) joinedThisYear() bool {
	return !e.JoinDate.IsZero() && e.JoinDate.Year() == e.Year
}

func (e Entitlement) joinedAfterYear() bool {
	return !e.JoinDate.IsZero() && e.JoinDate.Year() > e.Year
}

func (e Entitlement) prorationPolicy(q policy.Limited) (policy.ProrationPolicy, int) {
	if q.Proration == nil {
		return policy.FullQuota, 0
	}
	return q.Proration.Policy, q.Proration.JoinMonthCutoffDay
}

// joinMonthCounts applies the cutoff day to the join date.
func joinMonthCounts(join generic.TimePoint, cutoff int) bool {
	return cutoff == 0 || join.Day() <= cutoff
}

func (e Entitlement) entire(q policy.Limited, a policy.EntireQuota) []generic.AccrualEvent {
	if e.joinedAfterYear() {
		return nil
	}
	at := generic.StartOfYear(e.Year)
	days := q.Days
	reason := "annual grant"

	if e.joinedThisYear() {
		at = e.JoinDate
		if pol, cutoff := e.prorationPolicy(q); pol == policy.ProrateOnJoinDate {
			months := 12 - int(e.JoinDate.Month())
			if joinMonthCounts(e.JoinDate, cutoff) {
				months++
			}
			days = a.Rounding.Apply(q.Days.Mul(decimal.NewFromInt(int64(months))).Div(twelve))
			reason = fmt.Sprintf("prorated annual grant (%d months)", months)
		}
	}
	return []generic.AccrualEvent{{
		At:     at,
		Amount: generic.NewAmountFromDecimal(days, generic.UnitDays),
		Reason: reason,
	}}
}

func (e Entitlement) periodic(q policy.Limited, a policy.Periodic) []generic.AccrualEvent {
	if e.joinedAfterYear() {
		return nil
	}
	pol, cutoff := e.prorationPolicy(q)
	step := a.Interval.Months()

	var (
		events  []generic.AccrualEvent
		earned  int
		granted decimal.Decimal
		missed  int
	)
	emit := func(at generic.TimePoint, intervals int, reason string) {
		earned += intervals
		target := a.Rounding.Apply(a.AmountPerInterval.Mul(decimal.NewFromInt(int64(earned))))
		if target.GreaterThan(q.Days) {
			target = q.Days
		}
		delta := target.Sub(granted)
		granted = target
		events = append(events, generic.AccrualEvent{
			At:     at,
			Amount: generic.NewAmountFromDecimal(delta, generic.UnitDays),
			Reason: reason,
		})
	}

	for _, b := range a.Interval.Boundaries(e.Year) {
		if !e.joinedThisYear() || !b.Before(e.JoinDate) {
			if missed > 0 {
				emit(e.JoinDate, missed, "periodic accrual (catch-up)")
				missed = 0
			}
			emit(b, 1, "periodic accrual")
			continue
		}
		// Boundary before the join date.
		end := b.AddMonths(step)
		joinInInterval := e.JoinDate.Before(end)
		switch {
		case pol == policy.FullQuota:
			missed++
		case joinInInterval && e.JoinDate.Month() == b.Month() && joinMonthCounts(e.JoinDate, cutoff):
			emit(e.JoinDate, 1, "periodic accrual (join month)")
		}
	}
	if missed > 0 {
		emit(e.JoinDate, missed, "periodic accrual (catch-up)")
	}
	return events
}

// =============================================================================
// SEEDING
// =============================================================================

// Accruals writes due entitlement grants into the ledger.
type Accruals struct {
	catalog   *policy.Catalog
	balances  *BalanceLedger
	directory Directory
	logger    *zap.Logger
}

func NewAccruals(catalog *policy.Catalog, balances *BalanceLedger, directory Directory, logger *zap.Logger) *Accruals {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accruals{catalog: catalog, balances: balances, directory: directory, logger: logger}
}

// SeedResult reports what one Seed call granted.
type SeedResult struct {
	Key     generic.BalanceKey
	Events  int
	Granted decimal.Decimal
}

// Seed appends every grant of the year dated on or before asOf.
func (a *Accruals) Seed(ctx context.Context, emp policy.Employee, leaveTypeID policy.LeaveTypeID, year int, asOf generic.TimePoint) (SeedResult, error) {
	key := generic.BalanceKey{TenantID: emp.TenantID, EntityID: emp.ID, ResourceID: string(leaveTypeID), Year: year}
	res := SeedResult{Key: key}

	rules, _, err := a.catalog.ResolveTypeRules(ctx, emp, leaveTypeID)
	if err != nil {
		return res, err
	}
	window := generic.YearPeriod(year)
	if asOf.Before(window.End) {
		window.End = asOf
	}
	if window.End.Before(window.Start) {
		return res, nil
	}
	events := Entitlement{Rules: rules, JoinDate: emp.JoinDate, Year: year}.GenerateAccruals(window)
	if len(events) == 0 {
		return res, nil
	}

	err = a.balances.WithRow(ctx, key, func(row *Row) error {
		for _, ev := range events {
			idem := fmt.Sprintf("accrual:%s:%s", key, ev.At)
			if row.HasIdempotencyKey(idem) {
				continue
			}
			err := row.Allocate(ev.Amount.Value, Entry{
				ReferenceID:    string(rules.ID),
				Reason:         ev.Reason,
				IdempotencyKey: idem,
				CreatedBy:      "system",
				EffectiveAt:    ev.At,
				Metadata:       map[string]string{metaKind: kindAccrual},
			})
			if err != nil {
				return err
			}
			res.Events++
			res.Granted = res.Granted.Add(ev.Amount.Value)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Events > 0 {
		a.logger.Debug("accrual seeded",
			zap.String("balance", key.String()),
			zap.Int("events", res.Events),
			zap.String("granted", res.Granted.String()))
	}
	return res, nil
}

// ApplyDueReport summarizes an ApplyDue run.
type ApplyDueReport struct {
	Employees int
	Rows      int
	Granted   decimal.Decimal
	Failed    int
}

// ApplyDue seeds every employee of the tenant for every leave type their
// effective policy configures, up to asOf.
func (a *Accruals) ApplyDue(ctx context.Context, tenantID string, asOf generic.TimePoint) (ApplyDueReport, error) {
	var rep ApplyDueReport
	employees, err := a.directory.Employees(ctx, tenantID)
	if err != nil {
		return rep, fmt.Errorf("list employees: %w", err)
	}
	for _, emp := range employees {
		one, err := a.SeedEmployee(ctx, emp, asOf)
		if err != nil {
			return rep, err
		}
		rep.Employees += one.Employees
		rep.Rows += one.Rows
		rep.Failed += one.Failed
		rep.Granted = rep.Granted.Add(one.Granted)
	}
	return rep, nil
}

// SeedEmployee seeds one employee for every leave type of their effective
// policy. Employees without a policy, or who join after asOf, are skipped.
// Per-type failures are logged and counted, not returned.
func (a *Accruals) SeedEmployee(ctx context.Context, emp policy.Employee, asOf generic.TimePoint) (ApplyDueReport, error) {
	var rep ApplyDueReport
	if emp.JoinDate.After(asOf) {
		return rep, nil
	}
	p, err := a.catalog.ResolveEffectivePolicy(ctx, emp)
	if errors.Is(err, policy.ErrNoPolicyConfigured) {
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	rules, err := a.catalog.ListTypeRules(ctx, emp.TenantID, p.ID)
	if err != nil {
		return rep, fmt.Errorf("list type rules: %w", err)
	}
	rep.Employees = 1
	for _, r := range rules {
		res, err := a.Seed(ctx, emp, r.LeaveTypeID, asOf.Year(), asOf)
		if err != nil {
			rep.Failed++
			a.logger.Error("accrual seeding failed",
				zap.String("tenant_id", emp.TenantID),
				zap.String("employee_id", string(emp.ID)),
				zap.String("leave_type_id", string(r.LeaveTypeID)),
				zap.Error(err))
			continue
		}
		if res.Events > 0 {
			rep.Rows++
			rep.Granted = rep.Granted.Add(res.Granted)
		}
	}
	return rep, nil
}
