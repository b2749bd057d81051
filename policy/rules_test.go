package policy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

func validRules() policy.TypeRules {
	return policy.TypeRules{
		TenantID:    "acme",
		PolicyID:    "pol-1",
		LeaveTypeID: "annual",
		Quota:       policy.Limited{Days: decimal.NewFromInt(12)},
		Accrual:     policy.EntireQuota{Rounding: policy.NoRounding},
		Sandwich:    policy.SandwichRules{HolidayAdjacency: policy.DoNotCount, WeekendAdjacency: policy.DoNotCount},
		YearEnd:     policy.YearEndRules{Positive: policy.ExpireOrReset{}, Negative: policy.Nullify},
	}
}

func intPtr(n int) *int { return &n }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func fieldsOf(err error) []string {
	var out []string
	type multi interface{ Unwrap() []error }
	if m, ok := err.(multi); ok {
		for _, e := range m.Unwrap() {
			out = append(out, fieldsOf(e)...)
		}
		return out
	}
	if re, ok := err.(*policy.RuleError); ok {
		out = append(out, re.Field)
	}
	return out
}

func TestTypeRules_Validate_Valid(t *testing.T) {
	assert.NoError(t, validRules().Validate())

	r := validRules()
	r.Approval = policy.ApprovalFlow{Required: true, Levels: []policy.ApprovalLevel{
		{Order: 2, Approver: policy.NamedApprover{EmployeeID: "hr-1"}},
		{Order: 1, Approver: policy.RoleApprover{RoleKey: "REPORTING_MANAGER"}},
	}}
	assert.NoError(t, r.Validate(), "levels are validated in order, not as given")
}

func TestTypeRules_Validate_PeriodicOnUnlimited(t *testing.T) {
	// GIVEN: An UNLIMITED quota with PERIODIC accrual
	// THEN: Rejected on the accrual field

	r := validRules()
	r.Quota = policy.Unlimited{}
	r.Accrual = policy.Periodic{Interval: generic.IntervalMonthly, AmountPerInterval: decimal.NewFromInt(1), Rounding: policy.NoRounding}

	err := r.Validate()
	require.ErrorIs(t, err, policy.ErrInvalidRules)
	assert.Contains(t, fieldsOf(err), "accrual")
}

func TestTypeRules_Validate_ApprovalLevels(t *testing.T) {
	tests := []struct {
		name  string
		flow  policy.ApprovalFlow
		field string
	}{
		{"required without levels", policy.ApprovalFlow{Required: true}, "approval.levels"},
		{"levels without required", policy.ApprovalFlow{Levels: []policy.ApprovalLevel{
			{Order: 1, Approver: policy.RoleApprover{RoleKey: "HR"}},
		}}, "approval.levels"},
		{"gap in order", policy.ApprovalFlow{Required: true, Levels: []policy.ApprovalLevel{
			{Order: 1, Approver: policy.RoleApprover{RoleKey: "HR"}},
			{Order: 3, Approver: policy.RoleApprover{RoleKey: "CEO"}},
		}}, "approval.levels[1]"},
		{"empty role key", policy.ApprovalFlow{Required: true, Levels: []policy.ApprovalLevel{
			{Order: 1, Approver: policy.RoleApprover{}},
		}}, "approval.levels[0]"},
		{"missing approver", policy.ApprovalFlow{Required: true, Levels: []policy.ApprovalLevel{
			{Order: 1},
		}}, "approval.levels[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRules()
			r.Approval = tt.flow
			err := r.Validate()
			require.ErrorIs(t, err, policy.ErrInvalidRules)
			assert.Contains(t, fieldsOf(err), tt.field)
		})
	}
}

func TestTypeRules_Validate_CollectsEveryProblem(t *testing.T) {
	r := policy.TypeRules{
		Sandwich: policy.SandwichRules{HolidayAdjacency: "SOMETIMES", WeekendAdjacency: policy.CountAsLeave},
		YearEnd:  policy.YearEndRules{Positive: policy.CarryForward{ExpiryDays: intPtr(0)}, Negative: "FORGIVE"},
	}

	fields := fieldsOf(r.Validate())
	assert.Subset(t, fields, []string{
		"policyId",
		"leaveTypeId",
		"quota",
		"accrual",
		"sandwich.holidayAdjacency",
		"yearEnd.carryForwardExpiryDays",
		"yearEnd.negativeBalancePolicy",
	})
}

func TestTypeRules_Validate_Restrictions(t *testing.T) {
	r := validRules()
	r.Restriction = policy.RestrictionRules{
		Eligibility:        &policy.Eligibility{Anchor: "AFTER_LUNCH", AfterDays: -1},
		MaxConsecutiveDays: decPtr("0"),
		MaxMonthlyDays:     decPtr("-2"),
	}
	r.Application.Backdated = &policy.BackdatedWindow{MaxDays: intPtr(-1)}

	fields := fieldsOf(r.Validate())
	assert.ElementsMatch(t, []string{
		"restriction.eligibilityAnchor",
		"restriction.eligibilityAfterDays",
		"restriction.maxConsecutiveDays",
		"restriction.maxMonthlyDays",
		"application.backdatedMaxDays",
	}, fields)
}

func TestTypeRules_AllowsNegative(t *testing.T) {
	r := validRules()
	assert.False(t, r.AllowsNegative())
	assert.False(t, r.IsUnlimited())

	r.Quota = policy.Limited{Days: decimal.NewFromInt(5), AllowNegative: true}
	assert.True(t, r.AllowsNegative())

	r.Quota = policy.Unlimited{}
	assert.True(t, r.AllowsNegative())
	assert.True(t, r.IsUnlimited())
}

func TestRounding_HalfDaySteps(t *testing.T) {
	tests := []struct {
		rounding policy.Rounding
		in, want string
	}{
		{policy.NoRounding, "1.3", "1.3"},
		{policy.RoundUp, "1.1", "1.5"},
		{policy.RoundUp, "1.5", "1.5"},
		{policy.RoundDown, "1.9", "1.5"},
		{policy.RoundNearest, "1.2", "1"},
		{policy.RoundNearest, "1.3", "1.5"},
		{policy.RoundNearest, "1.8", "2"},
	}
	for _, tt := range tests {
		got := tt.rounding.Apply(decimal.RequireFromString(tt.in))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
			"%s(%s) = %s, want %s", tt.rounding, tt.in, got, tt.want)
	}
}

func TestEmployee_Attribute(t *testing.T) {
	emp := policy.Employee{
		ID:           "emp-1",
		DepartmentID: "eng",
		Location:     "Berlin",
		Attributes:   map[string]string{"Grade": "L5", "location": "ignored"},
	}

	v, ok := emp.Attribute("GRADE")
	assert.True(t, ok)
	assert.Equal(t, "L5", v)

	v, _ = emp.Attribute("location")
	assert.Equal(t, "Berlin", v, "built-in fields shadow attributes")

	v, _ = emp.Attribute("department")
	assert.Equal(t, "eng", v)

	_, ok = emp.Attribute("team")
	assert.False(t, ok)
}
