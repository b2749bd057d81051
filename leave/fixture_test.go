package leave_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/payroll"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	tenant  = "acme"
	annual  = policy.LeaveTypeID("annual")
	emp1    = generic.EntityID("emp-1")
	emp2    = generic.EntityID("emp-2")
	manager = generic.EntityID("mgr-1")
	hr      = generic.EntityID("hr-1")
)

func date(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }
func mar(d int) generic.TimePoint                       { return generic.NewTimePoint(2025, time.March, d) }
func dec(s string) decimal.Decimal                      { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

// baseRules: 20 days granted on Jan 1, no approval, weekends and holidays
// not counted, leftover expires.
func baseRules() policy.TypeRules {
	return policy.TypeRules{
		Quota:       policy.Limited{Days: decimal.NewFromInt(20)},
		Accrual:     policy.EntireQuota{Rounding: policy.NoRounding},
		Application: policy.ApplicationRules{AllowHalfDay: true, SelfApplyAllowed: true},
		Sandwich:    policy.SandwichRules{HolidayAdjacency: policy.DoNotCount, WeekendAdjacency: policy.DoNotCount},
		YearEnd:     policy.YearEndRules{Positive: policy.ExpireOrReset{}, Negative: policy.Nullify},
	}
}

// twoLevels: reporting manager, then the named HR employee.
func twoLevels(r *policy.TypeRules) {
	r.Approval = policy.ApprovalFlow{Required: true, Levels: []policy.ApprovalLevel{
		{Order: 1, Approver: policy.RoleApprover{RoleKey: leave.RoleReportingManager}},
		{Order: 2, Approver: policy.NamedApprover{EmployeeID: hr}},
	}}
}

type recorder struct {
	mu     sync.Mutex
	events []leave.Event
}

func (r *recorder) Notify(_ context.Context, ev leave.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []leave.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]leave.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	now       time.Time
	store     *memory.Store
	catalog   *policy.Catalog
	balances  *leave.BalanceLedger
	lifecycle *leave.Lifecycle
	accruals  *leave.Accruals
	yearEnd   *leave.YearEndProcessor
	payroll   *payroll.Workbook
	events    *recorder
	policy    policy.Policy
	rules     policy.TypeRules
	seq       int
}

// newFixture wires the engine over the memory store with the clock fixed on
// Monday 2025-03-03. emp-1 and emp-2 joined in 2020; mgr-1 is emp-1's
// reporting manager and hr-1 the tenant's HR manager.
func newFixture(t *testing.T, mutate ...func(*policy.TypeRules)) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{
		ctx:     context.Background(),
		now:     time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC),
		store:   store,
		catalog: policy.NewCatalog(store, nil),
		events:  &recorder{},
	}
	clock := func() time.Time { return f.now }

	f.balances = leave.NewBalanceLedger(generic.NewLedger(store))
	f.payroll = payroll.NewWorkbook(nil, nil)
	f.lifecycle = leave.NewLifecycle(leave.Deps{
		Catalog:   f.catalog,
		Balances:  f.balances,
		Requests:  store,
		Directory: store,
		Calendar:  store,
		Notifier:  f.events,
		Now:       clock,
	})
	f.accruals = leave.NewAccruals(f.catalog, f.balances, store, nil)
	f.yearEnd = leave.NewYearEndProcessor(leave.YearEndDeps{
		Catalog:   f.catalog,
		Balances:  f.balances,
		Marks:     store,
		Directory: store,
		Accruals:  f.accruals,
		Payroll:   f.payroll,
		Workers:   2,
		Now:       clock,
	})

	_, err := f.catalog.CreateLeaveType(f.ctx, policy.LeaveType{ID: annual, TenantID: tenant, Code: "ANNUAL", IsPaid: true})
	require.NoError(t, err)
	f.policy, err = f.catalog.CreatePolicy(f.ctx, policy.NewPolicy{TenantID: tenant, Name: "Default", IsDefault: true})
	require.NoError(t, err)

	rules := baseRules()
	for _, m := range mutate {
		m(&rules)
	}
	rules.TenantID = tenant
	rules.PolicyID = f.policy.ID
	rules.LeaveTypeID = annual
	f.rules, err = f.catalog.UpsertTypeRules(f.ctx, rules, policy.CreateOnly)
	require.NoError(t, err)

	for _, id := range []generic.EntityID{emp1, emp2} {
		f.employee(t, policy.Employee{ID: id, Location: "Berlin", JoinDate: date(2020, time.January, 1)})
	}
	require.NoError(t, store.AssignRole(f.ctx, tenant, emp1, leave.RoleReportingManager, manager))
	require.NoError(t, store.AssignRole(f.ctx, tenant, "", leave.RoleHRManager, hr))
	return f
}

func (f *fixture) employee(t *testing.T, emp policy.Employee) {
	t.Helper()
	emp.TenantID = tenant
	require.NoError(t, f.store.SaveEmployee(f.ctx, emp))
}

func (f *fixture) key(emp generic.EntityID, year int) generic.BalanceKey {
	return generic.BalanceKey{TenantID: tenant, EntityID: emp, ResourceID: string(annual), Year: year}
}

func (f *fixture) entry(reason string) leave.Entry {
	f.seq++
	return leave.Entry{Reason: reason, IdempotencyKey: fmt.Sprintf("test:%d", f.seq), CreatedBy: "test"}
}

// grant allocates days to a row.
func (f *fixture) grant(t *testing.T, emp generic.EntityID, year int, days string) {
	t.Helper()
	_, err := f.balances.Allocate(f.ctx, f.key(emp, year), dec(days), f.entry("test grant"))
	require.NoError(t, err)
}

// use books days as used, past the allocation if need be.
func (f *fixture) use(t *testing.T, emp generic.EntityID, year int, days string) {
	t.Helper()
	e := f.entry("test usage")
	e.AllowNegative = true
	_, err := f.balances.Reserve(f.ctx, f.key(emp, year), dec(days), e)
	require.NoError(t, err)
	_, err = f.balances.Consume(f.ctx, f.key(emp, year), dec(days), f.entry("test usage"))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, emp generic.EntityID, year int) leave.Balance {
	t.Helper()
	b, err := f.lifecycle.Balance(f.ctx, tenant, emp, annual, year)
	require.NoError(t, err)
	return b
}

func (f *fixture) request(from, to generic.TimePoint) leave.SubmitInput {
	return leave.SubmitInput{
		TenantID:    tenant,
		EmployeeID:  emp1,
		LeaveTypeID: annual,
		From:        from,
		To:          to,
		Reason:      "holiday",
	}
}

func (f *fixture) submit(t *testing.T, from, to generic.TimePoint) leave.Result {
	t.Helper()
	res, err := f.lifecycle.Submit(f.ctx, f.request(from, to))
	require.NoError(t, err)
	return res
}

func (f *fixture) decide(level int, approver generic.EntityID, id leave.RequestID, action leave.Action) (leave.Result, error) {
	return f.lifecycle.RecordDecision(f.ctx, leave.Decision{
		TenantID:   tenant,
		RequestID:  id,
		LevelOrder: level,
		ApproverID: approver,
		Action:     action,
	})
}

// assertConserved checks allocated = available + used + pending against the
// raw ledger history.
func (f *fixture) assertConserved(t *testing.T, emp generic.EntityID, year int) {
	t.Helper()
	b := f.balance(t, emp, year)
	txs, err := f.balances.Transactions(f.ctx, f.key(emp, year))
	require.NoError(t, err)
	totals := generic.Tally(txs)
	require.True(t, totals.Allocated.Equal(b.TotalAllocated), "allocated %s vs ledger %s", b.TotalAllocated, totals.Allocated)
	require.True(t, b.Available().Add(b.Used).Add(b.Pending).Equal(b.TotalAllocated))
	require.False(t, b.Pending.IsNegative(), "pending below zero")
	require.False(t, b.Used.IsNegative(), "used below zero")
}
