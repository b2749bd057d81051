package policy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TYPE RULES - Per (policy, leave type) configuration
// =============================================================================

// TypeRules is pure data. Sub-configurations whose fields depend on a mode
// are tagged unions: Quota, Accrual, Approver and PositiveAction are sealed
// interfaces, so a combination such as proration on an unlimited quota has
// no Go representation.
type TypeRules struct {
	ID          RulesID
	TenantID    string
	PolicyID    PolicyID
	LeaveTypeID LeaveTypeID

	Quota       Quota
	Accrual     Accrual
	Application ApplicationRules
	Restriction RestrictionRules
	Sandwich    SandwichRules
	Approval    ApprovalFlow
	YearEnd     YearEndRules

	UpdatedAt time.Time
}

// =============================================================================
// QUOTA
// =============================================================================

type LimitType string

const (
	LimitLimited   LimitType = "LIMITED"
	LimitUnlimited LimitType = "UNLIMITED"
)

type Quota interface {
	LimitType() LimitType
	isQuota()
}

// Limited grants a fixed number of days per year.
type Limited struct {
	Days decimal.Decimal
	// AllowNegative lets requests draw the balance below zero.
	AllowNegative bool
	// Proration is nil when mid-year joiners are not treated specially.
	Proration *Proration
}

// Unlimited has no balance check; usage is still tracked.
type Unlimited struct{}

func (Limited) LimitType() LimitType   { return LimitLimited }
func (Unlimited) LimitType() LimitType { return LimitUnlimited }
func (Limited) isQuota()               {}
func (Unlimited) isQuota()             {}

type ProrationPolicy string

const (
	ProrateOnJoinDate ProrationPolicy = "PRORATE_ON_JOIN_DATE"
	FullQuota         ProrationPolicy = "FULL_QUOTA"
)

type Proration struct {
	Policy ProrationPolicy
	// JoinMonthCutoffDay: joining on or before this day of the month counts
	// the join month as a full month. Zero counts the join month always.
	JoinMonthCutoffDay int
}

// =============================================================================
// ACCRUAL
// =============================================================================

type AccrualType string

const (
	AccrualEntireQuota AccrualType = "ENTIRE_QUOTA"
	AccrualPeriodic    AccrualType = "PERIODIC"
)

type Accrual interface {
	AccrualType() AccrualType
	RoundingPolicy() Rounding
	isAccrual()
}

// EntireQuota grants the whole (possibly prorated) quota at year start.
type EntireQuota struct {
	Rounding Rounding
}

// Periodic grants AmountPerInterval at each interval boundary.
type Periodic struct {
	Interval          generic.Interval
	AmountPerInterval decimal.Decimal
	Rounding          Rounding
}

func (EntireQuota) AccrualType() AccrualType { return AccrualEntireQuota }
func (Periodic) AccrualType() AccrualType    { return AccrualPeriodic }
func (a EntireQuota) RoundingPolicy() Rounding {
	return a.Rounding
}
func (a Periodic) RoundingPolicy() Rounding {
	return a.Rounding
}
func (EntireQuota) isAccrual() {}
func (Periodic) isAccrual()    {}

type Rounding string

const (
	NoRounding   Rounding = "NO_ROUNDING"
	RoundUp      Rounding = "ROUND_UP"
	RoundDown    Rounding = "ROUND_DOWN"
	RoundNearest Rounding = "ROUND_NEAREST"
)

var two = decimal.NewFromInt(2)

// Apply rounds to half-day steps.
func (r Rounding) Apply(d decimal.Decimal) decimal.Decimal {
	switch r {
	case RoundUp:
		return d.Mul(two).Ceil().Div(two)
	case RoundDown:
		return d.Mul(two).Floor().Div(two)
	case RoundNearest:
		return d.Mul(two).Round(0).Div(two)
	default:
		return d
	}
}

func (r Rounding) Valid() bool {
	switch r {
	case NoRounding, RoundUp, RoundDown, RoundNearest:
		return true
	}
	return false
}

// =============================================================================
// APPLICATION & RESTRICTION
// =============================================================================

type ApplicationRules struct {
	AllowHalfDay     bool
	SelfApplyAllowed bool
	RequireComment   bool
	// AttachmentThresholdDays: requests longer than this need an attachment.
	AttachmentThresholdDays *decimal.Decimal
	// Backdated is nil when requests may not start in the past.
	Backdated *BackdatedWindow
}

// BackdatedWindow allows past start dates; MaxDays nil means no limit.
type BackdatedWindow struct {
	MaxDays *int
}

type EligibilityAnchor string

const (
	AfterProbation EligibilityAnchor = "AFTER_PROBATION"
	AfterJoining   EligibilityAnchor = "AFTER_JOINING"
)

type Eligibility struct {
	Anchor    EligibilityAnchor
	AfterDays int
}

type RestrictionRules struct {
	Eligibility           *Eligibility
	MaxConsecutiveDays    *decimal.Decimal
	MaxMonthlyDays        *decimal.Decimal
	AllowedInNoticePeriod bool
}

// =============================================================================
// SANDWICH
// =============================================================================

type Adjacency string

const (
	CountAsLeave Adjacency = "COUNT_AS_LEAVE"
	DoNotCount   Adjacency = "DO_NOT_COUNT"
)

func (a Adjacency) Valid() bool { return a == CountAsLeave || a == DoNotCount }

type SandwichRules struct {
	HolidayAdjacency Adjacency
	WeekendAdjacency Adjacency
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

type ApproverMode string

const (
	RoleBased     ApproverMode = "ROLE_BASED"
	NamedEmployee ApproverMode = "NAMED_EMPLOYEE"
)

type Approver interface {
	Mode() ApproverMode
	isApprover()
}

// RoleApprover resolves to the current holder of a role for the employee,
// e.g. REPORTING_MANAGER.
type RoleApprover struct {
	RoleKey string
}

type NamedApprover struct {
	EmployeeID generic.EntityID
}

func (RoleApprover) Mode() ApproverMode  { return RoleBased }
func (NamedApprover) Mode() ApproverMode { return NamedEmployee }
func (RoleApprover) isApprover()         {}
func (NamedApprover) isApprover()        {}

type ApprovalLevel struct {
	Order    int
	Approver Approver
}

type ApprovalFlow struct {
	Required bool
	Levels   []ApprovalLevel
}

// Sorted returns the levels ordered by Order.
func (f ApprovalFlow) Sorted() []ApprovalLevel {
	levels := append([]ApprovalLevel(nil), f.Levels...)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Order < levels[j].Order })
	return levels
}

// =============================================================================
// YEAR END
// =============================================================================

type PositiveActionType string

const (
	ExpireOrResetAction PositiveActionType = "EXPIRE_OR_RESET"
	PayOutAction        PositiveActionType = "PAY_OUT"
	CarryForwardAction  PositiveActionType = "CARRY_FORWARD"
)

type PositiveAction interface {
	ActionType() PositiveActionType
	isPositiveAction()
}

type ExpireOrReset struct{}
type PayOut struct{}

// CarryForward moves leftover days into next year. ExpiryDays nil means the
// carried days never expire.
type CarryForward struct {
	ExpiryDays *int
}

func (ExpireOrReset) ActionType() PositiveActionType { return ExpireOrResetAction }
func (PayOut) ActionType() PositiveActionType        { return PayOutAction }
func (CarryForward) ActionType() PositiveActionType  { return CarryForwardAction }
func (ExpireOrReset) isPositiveAction()              {}
func (PayOut) isPositiveAction()                     {}
func (CarryForward) isPositiveAction()               {}

type NegativeBalancePolicy string

const (
	DeductFromSalary     NegativeBalancePolicy = "DEDUCT_FROM_SALARY"
	Nullify              NegativeBalancePolicy = "NULLIFY"
	CarryForwardNegative NegativeBalancePolicy = "CARRY_FORWARD_NEGATIVE"
)

func (n NegativeBalancePolicy) Valid() bool {
	switch n {
	case DeductFromSalary, Nullify, CarryForwardNegative:
		return true
	}
	return false
}

type YearEndRules struct {
	Positive PositiveAction
	Negative NegativeBalancePolicy
}

// =============================================================================
// DERIVED
// =============================================================================

// IsUnlimited reports whether the quota skips balance checks.
func (r TypeRules) IsUnlimited() bool {
	_, ok := r.Quota.(Unlimited)
	return ok
}

// AllowsNegative reports whether requests may overdraw the balance.
func (r TypeRules) AllowsNegative() bool {
	switch q := r.Quota.(type) {
	case Unlimited:
		return true
	case Limited:
		return q.AllowNegative
	}
	return false
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the rules for internal consistency. All problems are
// returned joined; each unwraps to ErrInvalidRules.
func (r TypeRules) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &RuleError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if r.PolicyID == "" {
		add("policyId", "required")
	}
	if r.LeaveTypeID == "" {
		add("leaveTypeId", "required")
	}

	switch q := r.Quota.(type) {
	case nil:
		add("quota", "required")
	case Limited:
		if q.Days.IsNegative() {
			add("quota.days", "must not be negative")
		}
		if p := q.Proration; p != nil {
			if p.Policy != ProrateOnJoinDate && p.Policy != FullQuota {
				add("quota.proration.policy", "unknown policy %q", p.Policy)
			}
			if p.JoinMonthCutoffDay < 0 || p.JoinMonthCutoffDay > 31 {
				add("quota.proration.joinMonthCutoffDay", "must be between 0 and 31")
			}
		}
	}

	switch a := r.Accrual.(type) {
	case nil:
		add("accrual", "required")
	case EntireQuota:
		if !a.Rounding.Valid() {
			add("accrual.roundingPolicy", "unknown rounding %q", a.Rounding)
		}
	case Periodic:
		if !a.Interval.Valid() {
			add("accrual.interval", "unknown interval %q", a.Interval)
		}
		if !a.AmountPerInterval.IsPositive() {
			add("accrual.amountPerInterval", "must be positive")
		}
		if !a.Rounding.Valid() {
			add("accrual.roundingPolicy", "unknown rounding %q", a.Rounding)
		}
		if r.IsUnlimited() {
			add("accrual", "periodic accrual requires a LIMITED quota")
		}
	}

	app := r.Application
	if app.AttachmentThresholdDays != nil && app.AttachmentThresholdDays.IsNegative() {
		add("application.attachmentThresholdDays", "must not be negative")
	}
	if app.Backdated != nil && app.Backdated.MaxDays != nil && *app.Backdated.MaxDays < 0 {
		add("application.backdatedMaxDays", "must not be negative")
	}

	res := r.Restriction
	if e := res.Eligibility; e != nil {
		if e.Anchor != AfterProbation && e.Anchor != AfterJoining {
			add("restriction.eligibilityAnchor", "unknown anchor %q", e.Anchor)
		}
		if e.AfterDays < 0 {
			add("restriction.eligibilityAfterDays", "must not be negative")
		}
	}
	if res.MaxConsecutiveDays != nil && !res.MaxConsecutiveDays.IsPositive() {
		add("restriction.maxConsecutiveDays", "must be positive")
	}
	if res.MaxMonthlyDays != nil && !res.MaxMonthlyDays.IsPositive() {
		add("restriction.maxMonthlyDays", "must be positive")
	}

	if !r.Sandwich.HolidayAdjacency.Valid() {
		add("sandwich.holidayAdjacency", "unknown value %q", r.Sandwich.HolidayAdjacency)
	}
	if !r.Sandwich.WeekendAdjacency.Valid() {
		add("sandwich.weekendAdjacency", "unknown value %q", r.Sandwich.WeekendAdjacency)
	}

	errs = append(errs, validateApproval(r.Approval)...)

	switch p := r.YearEnd.Positive.(type) {
	case nil:
		add("yearEnd.positiveBalanceAction", "required")
	case CarryForward:
		if p.ExpiryDays != nil && *p.ExpiryDays <= 0 {
			add("yearEnd.carryForwardExpiryDays", "must be positive")
		}
	}
	if !r.YearEnd.Negative.Valid() {
		add("yearEnd.negativeBalancePolicy", "unknown policy %q", r.YearEnd.Negative)
	}

	return errors.Join(errs...)
}

func validateApproval(f ApprovalFlow) []error {
	var errs []error
	if f.Required && len(f.Levels) == 0 {
		errs = append(errs, &RuleError{Field: "approval.levels", Reason: "required flow needs at least one level"})
	}
	if !f.Required && len(f.Levels) > 0 {
		errs = append(errs, &RuleError{Field: "approval.levels", Reason: "levels given but approval is not required"})
	}
	for i, lvl := range f.Sorted() {
		field := fmt.Sprintf("approval.levels[%d]", i)
		if lvl.Order != i+1 {
			errs = append(errs, &RuleError{Field: field, Reason: fmt.Sprintf("levelOrder must be contiguous from 1, got %d", lvl.Order)})
		}
		switch a := lvl.Approver.(type) {
		case nil:
			errs = append(errs, &RuleError{Field: field, Reason: "approver required"})
		case RoleApprover:
			if a.RoleKey == "" {
				errs = append(errs, &RuleError{Field: field, Reason: "roleKey required"})
			}
		case NamedApprover:
			if a.EmployeeID == "" {
				errs = append(errs, &RuleError{Field: field, Reason: "employeeId required"})
			}
		}
	}
	return errs
}
