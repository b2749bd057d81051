package leave_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// SUBMIT / APPROVE
// =============================================================================

func TestSubmit_AutoApprovedWhenNoApprovalRequired(t *testing.T) {
	// GIVEN: 20 days allocated, no approval flow
	// WHEN: Mon-Fri is requested
	// THEN: The request is APPROVED immediately and 5 days are used

	f := newFixture(t)
	f.grant(t, emp1, 2025, "20")

	res := f.submit(t, mar(10), mar(14))

	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.True(t, res.Request.DaysRequested.Equal(dec("5")))
	assert.Equal(t, 0, res.Request.CurrentLevel)
	assert.NotNil(t, res.Request.DecidedAt)
	assert.True(t, res.Balance.Used.Equal(dec("5")))
	assert.True(t, res.Balance.Pending.IsZero())
	assert.True(t, res.Balance.Available().Equal(dec("15")))
	assert.Equal(t, []leave.EventType{leave.EventSubmitted, leave.EventApproved}, f.events.types())
	f.assertConserved(t, emp1, 2025)
}

func TestSubmit_MultiLevelApproval(t *testing.T) {
	// GIVEN: Level 1 reporting manager, level 2 HR
	// WHEN: Each level approves in turn
	// THEN: Days stay pending until the last level, then move to used

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")

	res := f.submit(t, mar(10), mar(14))
	id := res.Request.ID
	assert.Equal(t, leave.StatusSubmitted, res.Request.Status)
	assert.Equal(t, 1, res.Request.CurrentLevel)
	require.Len(t, res.Request.Approvers, 2)
	assert.Equal(t, manager, res.Request.Approvers[0].ApproverID)
	assert.Equal(t, hr, res.Request.Approvers[1].ApproverID)
	assert.True(t, res.Balance.Pending.Equal(dec("5")))
	assert.True(t, res.Balance.Available().Equal(dec("15")))

	res, err := f.decide(1, manager, id, leave.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusSubmitted, res.Request.Status)
	assert.Equal(t, 2, res.Request.CurrentLevel)
	assert.True(t, res.Balance.Pending.Equal(dec("5")))

	res, err = f.decide(2, hr, id, leave.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.True(t, res.Balance.Used.Equal(dec("5")))
	assert.True(t, res.Balance.Pending.IsZero())
	assert.Len(t, res.Approvals, 2)

	assert.Equal(t, []leave.EventType{leave.EventSubmitted, leave.EventApproved}, f.events.types())
	f.assertConserved(t, emp1, 2025)
}

func TestRecordDecision_RejectReleasesPending(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	res, err := f.decide(1, manager, id, leave.ActionRejected)
	require.NoError(t, err)

	assert.Equal(t, leave.StatusRejected, res.Request.Status)
	assert.True(t, res.Balance.Pending.IsZero())
	assert.True(t, res.Balance.Used.IsZero())
	assert.True(t, res.Balance.Available().Equal(dec("20")))
	require.Len(t, res.Approvals, 1)
	assert.Equal(t, leave.ActionRejected, res.Approvals[0].Action)
	assert.Equal(t, []leave.EventType{leave.EventSubmitted, leave.EventRejected}, f.events.types())
	f.assertConserved(t, emp1, 2025)
}

func TestRecordDecision_Sequencing(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	_, err := f.decide(2, hr, id, leave.ActionApproved)
	assert.ErrorIs(t, err, leave.ErrOutOfOrder, "level 2 before level 1")

	_, err = f.decide(1, hr, id, leave.ActionApproved)
	assert.ErrorIs(t, err, leave.ErrNotAuthorized, "hr is not the level 1 approver")
	assert.Equal(t, leave.KindSequencing, leave.Classify(err))

	_, err = f.decide(1, manager, id, "MAYBE")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	_, err = f.decide(1, manager, id, leave.ActionRejected)
	require.NoError(t, err)

	_, err = f.decide(2, hr, id, leave.ActionApproved)
	assert.ErrorIs(t, err, leave.ErrAlreadyFinalized)

	approvals, err := f.store.ListApprovals(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Len(t, approvals, 1, "refused decisions leave no record")
}

func TestFinalize_OnlyOnce(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	_, err := f.lifecycle.Finalize(f.ctx, tenant, id, "MAYBE", hr)
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	res, err := f.lifecycle.Finalize(f.ctx, tenant, id, leave.ActionApproved, hr)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.True(t, res.Balance.Used.Equal(dec("5")))

	_, err = f.lifecycle.Finalize(f.ctx, tenant, id, leave.ActionRejected, hr)
	assert.ErrorIs(t, err, leave.ErrAlreadyFinalized)

	b := f.balance(t, emp1, 2025)
	assert.True(t, b.Used.Equal(dec("5")), "a second commit moves nothing")
	assert.True(t, b.Pending.IsZero())
	f.assertConserved(t, emp1, 2025)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_Authorization(t *testing.T) {
	// GIVEN: A SUBMITTED request of emp-1
	// THEN: emp-2 may not cancel it, the HR manager may

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	_, err := f.lifecycle.Cancel(f.ctx, tenant, id, emp2)
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)

	_, err = f.lifecycle.Cancel(f.ctx, tenant, id, "")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)

	res, err := f.lifecycle.Cancel(f.ctx, tenant, id, hr)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, res.Request.Status)
	assert.True(t, res.Balance.Pending.IsZero())
	assert.True(t, res.Balance.Available().Equal(dec("20")))

	_, err = f.lifecycle.Cancel(f.ctx, tenant, id, emp1)
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	f.assertConserved(t, emp1, 2025)
}

func TestCancel_ApprovedRequestIsFinal(t *testing.T) {
	f := newFixture(t)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	_, err := f.lifecycle.Cancel(f.ctx, tenant, id, emp1)
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	assert.Equal(t, leave.KindSequencing, leave.Classify(err))

	_, err = f.lifecycle.Cancel(f.ctx, tenant, "missing", emp1)
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
}

// =============================================================================
// SUBMIT VALIDATION
// =============================================================================

func TestSubmit_ShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*policy.TypeRules)
		input  func(leave.SubmitInput) leave.SubmitInput
		want   error
	}{
		{"from after to", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.From, in.To = mar(14), mar(10)
			return in
		}, leave.ErrInvalidDateRange},
		{"spans two years", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.From, in.To = date(2025, 12, 29), date(2026, 1, 2)
			return in
		}, leave.ErrInvalidDateRange},
		{"both halves of one day", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.From, in.To, in.HalfDayStart, in.HalfDayEnd = mar(10), mar(10), true, true
			return in
		}, leave.ErrInvalidDateRange},
		{"missing dates", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.To = generic.TimePoint{}
			return in
		}, leave.ErrInvalidDateRange},
		{"reason required", func(r *policy.TypeRules) { r.Application.RequireComment = true }, func(in leave.SubmitInput) leave.SubmitInput {
			in.Reason = "  "
			return in
		}, leave.ErrMissingReason},
		{"half day not allowed", func(r *policy.TypeRules) { r.Application.AllowHalfDay = false }, func(in leave.SubmitInput) leave.SubmitInput {
			in.HalfDayEnd = true
			return in
		}, leave.ErrHalfDayNotAllowed},
		{"self apply not allowed", func(r *policy.TypeRules) { r.Application.SelfApplyAllowed = false }, func(in leave.SubmitInput) leave.SubmitInput {
			return in
		}, leave.ErrSelfApplyNotAllowed},
		{"weekend only", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.From, in.To = mar(8), mar(9)
			return in
		}, leave.ErrNoWorkingDays},
		{"unknown employee", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.EmployeeID = "ghost"
			return in
		}, leave.ErrEmployeeNotFound},
		{"type not configured", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.LeaveTypeID = "sick"
			return in
		}, policy.ErrPolicyNotFound},
		{"missing tenant", nil, func(in leave.SubmitInput) leave.SubmitInput {
			in.TenantID = ""
			return in
		}, leave.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*policy.TypeRules)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			f := newFixture(t, mutate...)
			f.grant(t, emp1, 2025, "20")

			_, err := f.lifecycle.Submit(f.ctx, tt.input(f.request(mar(10), mar(14))))
			require.ErrorIs(t, err, tt.want)

			b := f.balance(t, emp1, 2025)
			assert.True(t, b.Pending.IsZero(), "a rejected submit reserves nothing")
			assert.Empty(t, f.events.types())
		})
	}
}

func TestSubmit_HalfDays(t *testing.T) {
	f := newFixture(t)
	f.grant(t, emp1, 2025, "20")

	in := f.request(mar(10), mar(11))
	in.HalfDayStart = true
	res, err := f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Request.DaysRequested.Equal(dec("1.5")))

	in = f.request(mar(12), mar(12))
	in.HalfDayEnd = true
	res, err = f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Request.DaysRequested.Equal(dec("0.5")))

	assert.True(t, f.balance(t, emp1, 2025).Available().Equal(dec("18")))
}

func TestSubmit_SelfApplyDisabledAllowsOnBehalf(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) { r.Application.SelfApplyAllowed = false })
	f.grant(t, emp1, 2025, "20")

	in := f.request(mar(10), mar(14))
	in.ActorID = manager
	res, err := f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, manager, res.Request.SubmittedBy)
}

func TestSubmit_Eligibility(t *testing.T) {
	probationEnd := mar(15)
	notice := date(2025, 4, 1)

	tests := []struct {
		name   string
		emp    policy.Employee
		rules  func(*policy.TypeRules)
		from   generic.TimePoint
		wantOK bool
	}{
		{"before joining window", policy.Employee{JoinDate: date(2025, 2, 1)}, func(r *policy.TypeRules) {
			r.Restriction.Eligibility = &policy.Eligibility{Anchor: policy.AfterJoining, AfterDays: 60}
		}, mar(10), false},
		{"after joining window", policy.Employee{JoinDate: date(2025, 2, 1)}, func(r *policy.TypeRules) {
			r.Restriction.Eligibility = &policy.Eligibility{Anchor: policy.AfterJoining, AfterDays: 60}
		}, date(2025, 4, 7), true},
		{"during probation", policy.Employee{JoinDate: date(2025, 1, 15), ProbationEndDate: &probationEnd}, func(r *policy.TypeRules) {
			r.Restriction.Eligibility = &policy.Eligibility{Anchor: policy.AfterProbation}
		}, mar(10), false},
		{"after probation", policy.Employee{JoinDate: date(2025, 1, 15), ProbationEndDate: &probationEnd}, func(r *policy.TypeRules) {
			r.Restriction.Eligibility = &policy.Eligibility{Anchor: policy.AfterProbation}
		}, mar(17), true},
		{"serving notice", policy.Employee{JoinDate: date(2020, 1, 1), NoticeStartDate: &notice}, func(*policy.TypeRules) {}, date(2025, 4, 7), false},
		{"notice allowed", policy.Employee{JoinDate: date(2020, 1, 1), NoticeStartDate: &notice}, func(r *policy.TypeRules) {
			r.Restriction.AllowedInNoticePeriod = true
		}, date(2025, 4, 7), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rules)
			tt.emp.ID = "emp-new"
			f.employee(t, tt.emp)
			f.grant(t, tt.emp.ID, 2025, "20")

			in := f.request(tt.from, tt.from)
			in.EmployeeID = tt.emp.ID
			_, err := f.lifecycle.Submit(f.ctx, in)
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, leave.ErrNotEligible)
			assert.Equal(t, leave.KindPolicyViolation, leave.Classify(err))
		})
	}
}

func TestSubmit_Backdating(t *testing.T) {
	// Today is Monday 2025-03-03.
	tests := []struct {
		name   string
		window *policy.BackdatedWindow
		from   generic.TimePoint
		wantOK bool
	}{
		{"today is not backdated", nil, mar(3), true},
		{"no window", nil, date(2025, 2, 24), false},
		{"inside window", &policy.BackdatedWindow{MaxDays: intPtr(7)}, date(2025, 2, 24), true},
		{"outside window", &policy.BackdatedWindow{MaxDays: intPtr(7)}, date(2025, 2, 21), false},
		{"unbounded window", &policy.BackdatedWindow{}, date(2025, 1, 6), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(r *policy.TypeRules) { r.Application.Backdated = tt.window })
			f.grant(t, emp1, 2025, "20")

			_, err := f.lifecycle.Submit(f.ctx, f.request(tt.from, tt.from))
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, leave.ErrBackdatingNotAllowed)
		})
	}
}

// =============================================================================
// RESTRICTIONS
// =============================================================================

func TestSubmit_Overlap(t *testing.T) {
	// GIVEN: A pending annual request Mar 10-12 and a configured sick type
	// WHEN: Mar 12-14 annual, or Mar 11 sick, is requested
	// THEN: Both overlap; once the first is cancelled the annual one fits

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")

	_, err := f.catalog.CreateLeaveType(f.ctx, policy.LeaveType{ID: "sick", TenantID: tenant, Code: "SICK"})
	require.NoError(t, err)
	sick := baseRules()
	sick.TenantID, sick.PolicyID, sick.LeaveTypeID = tenant, f.policy.ID, "sick"
	_, err = f.catalog.UpsertTypeRules(f.ctx, sick, policy.CreateOnly)
	require.NoError(t, err)
	_, err = f.balances.Allocate(f.ctx, generic.BalanceKey{TenantID: tenant, EntityID: emp1, ResourceID: "sick", Year: 2025}, dec("10"), f.entry("sick grant"))
	require.NoError(t, err)

	first := f.submit(t, mar(10), mar(12))

	_, err = f.lifecycle.Submit(f.ctx, f.request(mar(12), mar(14)))
	assert.ErrorIs(t, err, leave.ErrOverlappingRequest)

	in := f.request(mar(11), mar(11))
	in.LeaveTypeID = "sick"
	_, err = f.lifecycle.Submit(f.ctx, in)
	assert.ErrorIs(t, err, leave.ErrOverlappingRequest, "overlap is checked across leave types")

	_, err = f.lifecycle.Cancel(f.ctx, tenant, first.Request.ID, emp1)
	require.NoError(t, err)

	res := f.submit(t, mar(12), mar(14))
	assert.True(t, res.Balance.Pending.Equal(dec("3")))
}

func TestSubmit_MaxConsecutiveDays(t *testing.T) {
	// GIVEN: maxConsecutiveDays 5 and Mon-Fri already approved
	// WHEN: Sat-Mon right after is requested (only Monday counts)
	// THEN: The chain would be 6 days and is refused

	f := newFixture(t, func(r *policy.TypeRules) { r.Restriction.MaxConsecutiveDays = decPtr("5") })
	f.grant(t, emp1, 2025, "20")
	f.submit(t, mar(10), mar(14))

	_, err := f.lifecycle.Submit(f.ctx, f.request(mar(15), mar(17)))
	require.ErrorIs(t, err, leave.ErrRestrictionViolated)
	var rerr *leave.RestrictionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "maxConsecutiveDays", rerr.Limit)
	assert.True(t, rerr.Actual.Equal(dec("6")))

	f.submit(t, mar(18), mar(18))
}

func TestSubmit_MaxMonthlyDays(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) { r.Restriction.MaxMonthlyDays = decPtr("6") })
	f.grant(t, emp1, 2025, "20")
	f.submit(t, mar(3), mar(5))

	_, err := f.lifecycle.Submit(f.ctx, f.request(mar(17), mar(21)))
	var rerr *leave.RestrictionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "maxMonthlyDays", rerr.Limit)
	assert.Equal(t, "2025-03", rerr.Window)
	assert.True(t, rerr.Actual.Equal(dec("8")))

	f.submit(t, mar(17), mar(19))
	f.submit(t, date(2025, 4, 1), date(2025, 4, 4))
}

func TestSubmit_AttachmentThreshold(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) { r.Application.AttachmentThresholdDays = decPtr("3") })
	f.grant(t, emp1, 2025, "20")

	_, err := f.lifecycle.Submit(f.ctx, f.request(mar(10), mar(14)))
	assert.ErrorIs(t, err, leave.ErrAttachmentRequired)

	f.submit(t, mar(3), mar(5))

	in := f.request(mar(10), mar(14))
	in.AttachmentRef = "doc-17"
	res, err := f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "doc-17", res.Request.AttachmentRef)
}

func TestSubmit_HolidaysAreNotCounted(t *testing.T) {
	f := newFixture(t)
	f.grant(t, emp1, 2025, "20")
	require.NoError(t, f.store.AddHoliday(f.ctx, leave.Holiday{TenantID: tenant, Location: "Berlin", Date: mar(12), Name: "Founders day"}))
	require.NoError(t, f.store.AddHoliday(f.ctx, leave.Holiday{TenantID: tenant, Location: "Paris", Date: mar(13), Name: "Paris only"}))

	res := f.submit(t, mar(10), mar(14))
	assert.True(t, res.Request.DaysRequested.Equal(dec("4")))
}

// =============================================================================
// BALANCE
// =============================================================================

func TestSubmit_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.grant(t, emp1, 2025, "3")

	_, err := f.lifecycle.Submit(f.ctx, f.request(mar(10), mar(14)))
	require.ErrorIs(t, err, leave.ErrInsufficientBalance)
	var ierr *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ierr))
	assert.True(t, ierr.Available.Equal(dec("3")))
	assert.True(t, ierr.Requested.Equal(dec("5")))
	assert.Equal(t, leave.KindPolicyViolation, leave.Classify(err))

	b := f.balance(t, emp1, 2025)
	assert.True(t, b.Available().Equal(dec("3")))
}

func TestSubmit_NegativeBalanceAllowed(t *testing.T) {
	f := newFixture(t, func(r *policy.TypeRules) {
		r.Quota = policy.Limited{Days: dec("20"), AllowNegative: true}
	})
	f.grant(t, emp1, 2025, "3")

	res := f.submit(t, mar(10), mar(14))
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.True(t, res.Balance.Available().Equal(dec("-2")))
	f.assertConserved(t, emp1, 2025)
}

func TestSubmit_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	// GIVEN: 5 days available
	// WHEN: 10 one-day requests on distinct days race
	// THEN: Exactly 5 succeed and the rest fail on balance

	f := newFixture(t)
	f.grant(t, emp1, 2025, "5")

	days := []int{10, 11, 12, 13, 14, 17, 18, 19, 20, 21}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for _, d := range days {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := f.lifecycle.Submit(f.ctx, f.request(mar(d), mar(d)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
			fail++
		}(d)
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, fail)
	b := f.balance(t, emp1, 2025)
	assert.True(t, b.Used.Equal(dec("5")))
	assert.True(t, b.Available().IsZero())
	f.assertConserved(t, emp1, 2025)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestSubmit_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	f.grant(t, emp1, 2025, "20")

	in := f.request(mar(10), mar(14))
	in.IdempotencyKey = "submit-1"
	first, err := f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)
	again, err := f.lifecycle.Submit(f.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Request.ID, again.Request.ID)
	assert.True(t, again.Balance.Used.Equal(dec("5")), "days are counted once")

	all, err := f.lifecycle.ListRequests(f.ctx, leave.RequestFilter{TenantID: tenant, EmployeeID: emp1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other := in
	other.EmployeeID = emp2
	_, err = f.lifecycle.Submit(f.ctx, other)
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}

func TestRecordDecision_IdempotentReplay(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	d := leave.Decision{
		TenantID:       tenant,
		RequestID:      id,
		LevelOrder:     1,
		ApproverID:     manager,
		Action:         leave.ActionApproved,
		Comment:        "enjoy",
		IdempotencyKey: "decision-1",
	}
	first, err := f.lifecycle.RecordDecision(f.ctx, d)
	require.NoError(t, err)
	again, err := f.lifecycle.RecordDecision(f.ctx, d)
	require.NoError(t, err)

	assert.Equal(t, 2, again.Request.CurrentLevel)
	assert.Len(t, again.Approvals, 1)
	assert.Equal(t, first.Approvals[0].ID, again.Approvals[0].ID)
	assert.Equal(t, "enjoy", again.Approvals[0].Comment)
}

func TestGetRequest(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	res, err := f.lifecycle.GetRequest(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusSubmitted, res.Request.Status)
	assert.True(t, res.Balance.Pending.Equal(dec("5")))

	_, err = f.lifecycle.GetRequest(f.ctx, "globex", id)
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
	assert.Equal(t, leave.KindNotFound, leave.Classify(err))

	pending, err := f.lifecycle.ListRequests(f.ctx, leave.RequestFilter{
		TenantID: tenant,
		Statuses: []leave.Status{leave.StatusSubmitted},
	})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
