/*
Package factory converts leave type rules between JSON and policy.TypeRules.

PURPOSE:
  The catalog stores and the HTTP API carry rules as flat JSON documents.
  Modes are discriminator fields; the factory turns them into the tagged
  unions of policy.TypeRules and rejects fields that make no sense for the
  chosen mode, so an illegal combination never reaches the catalog.

JSON SCHEMA:
  {
    "quota": {
      "limit_type": "LIMITED",
      "days": "12",
      "allow_negative": false,
      "proration": {"policy": "PRORATE_ON_JOIN_DATE", "join_month_cutoff_day": 15}
    },
    "accrual": {
      "type": "PERIODIC",
      "interval": "MONTHLY",
      "amount_per_interval": "1",
      "rounding_policy": "ROUND_NEAREST"
    },
    "application": {
      "allow_half_day": true,
      "self_apply_allowed": true,
      "require_comment": false,
      "attachment_threshold_days": "3",
      "allow_backdated": true,
      "backdated_max_days": 7
    },
    "restriction": {
      "eligibility_anchor": "AFTER_PROBATION",
      "eligibility_after_days": 0,
      "max_consecutive_days": "5",
      "max_monthly_days": "8",
      "allowed_in_notice_period": false
    },
    "sandwich": {"holiday_adjacency": "DO_NOT_COUNT", "weekend_adjacency": "DO_NOT_COUNT"},
    "approval": {
      "required": true,
      "levels": [
        {"level_order": 1, "mode": "ROLE_BASED", "role_key": "REPORTING_MANAGER"},
        {"level_order": 2, "mode": "NAMED_EMPLOYEE", "employee_id": "emp-hr"}
      ]
    },
    "year_end": {
      "positive_balance_action": "CARRY_FORWARD",
      "carry_forward_expires": true,
      "carry_forward_expiry_days": 90,
      "negative_balance_policy": "NULLIFY"
    }
  }

DEFAULTS:
  rounding_policy          NO_ROUNDING
  sandwich adjacencies     COUNT_AS_LEAVE
  negative_balance_policy  NULLIFY

REJECTED COMBINATIONS (examples):
  UNLIMITED with days, allow_negative or proration
  ENTIRE_QUOTA with interval or amount_per_interval
  backdated_max_days without allow_backdated
  ROLE_BASED level with employee_id, NAMED_EMPLOYEE level with role_key
  carry_forward_* on anything but CARRY_FORWARD

SEE ALSO:
  - policy/rules.go: TypeRules
  - store/sqlite: persists rules through this package
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type RulesJSON struct {
	ID          string          `json:"id,omitempty"`
	TenantID    string          `json:"tenant_id,omitempty"`
	PolicyID    string          `json:"policy_id,omitempty"`
	LeaveTypeID string          `json:"leave_type_id,omitempty"`
	Quota       QuotaJSON       `json:"quota"`
	Accrual     AccrualJSON     `json:"accrual"`
	Application ApplicationJSON `json:"application"`
	Restriction RestrictionJSON `json:"restriction"`
	Sandwich    SandwichJSON    `json:"sandwich"`
	Approval    ApprovalJSON    `json:"approval"`
	YearEnd     YearEndJSON     `json:"year_end"`
}

type QuotaJSON struct {
	LimitType     string           `json:"limit_type"`
	Days          *decimal.Decimal `json:"days,omitempty"`
	AllowNegative bool             `json:"allow_negative,omitempty"`
	Proration     *ProrationJSON   `json:"proration,omitempty"`
}

type ProrationJSON struct {
	Policy             string `json:"policy"`
	JoinMonthCutoffDay int    `json:"join_month_cutoff_day,omitempty"`
}

type AccrualJSON struct {
	Type              string           `json:"type"`
	Interval          string           `json:"interval,omitempty"`
	AmountPerInterval *decimal.Decimal `json:"amount_per_interval,omitempty"`
	RoundingPolicy    string           `json:"rounding_policy,omitempty"`
}

type ApplicationJSON struct {
	AllowHalfDay            bool             `json:"allow_half_day"`
	SelfApplyAllowed        bool             `json:"self_apply_allowed"`
	RequireComment          bool             `json:"require_comment"`
	AttachmentThresholdDays *decimal.Decimal `json:"attachment_threshold_days,omitempty"`
	AllowBackdated          bool             `json:"allow_backdated"`
	BackdatedMaxDays        *int             `json:"backdated_max_days,omitempty"`
}

type RestrictionJSON struct {
	EligibilityAnchor     string           `json:"eligibility_anchor,omitempty"`
	EligibilityAfterDays  *int             `json:"eligibility_after_days,omitempty"`
	MaxConsecutiveDays    *decimal.Decimal `json:"max_consecutive_days,omitempty"`
	MaxMonthlyDays        *decimal.Decimal `json:"max_monthly_days,omitempty"`
	AllowedInNoticePeriod bool             `json:"allowed_in_notice_period"`
}

type SandwichJSON struct {
	HolidayAdjacency string `json:"holiday_adjacency,omitempty"`
	WeekendAdjacency string `json:"weekend_adjacency,omitempty"`
}

type ApprovalJSON struct {
	Required bool        `json:"required"`
	Levels   []LevelJSON `json:"levels,omitempty"`
}

type LevelJSON struct {
	LevelOrder int    `json:"level_order"`
	Mode       string `json:"mode"`
	RoleKey    string `json:"role_key,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
}

type YearEndJSON struct {
	PositiveBalanceAction  string `json:"positive_balance_action"`
	CarryForwardExpires    bool   `json:"carry_forward_expires,omitempty"`
	CarryForwardExpiryDays *int   `json:"carry_forward_expiry_days,omitempty"`
	NegativeBalancePolicy  string `json:"negative_balance_policy,omitempty"`
}

// =============================================================================
// RULES FACTORY
// =============================================================================

type RulesFactory struct{}

func NewRulesFactory() *RulesFactory {
	return &RulesFactory{}
}

// ParseRules decodes a JSON document into TypeRules.
func (f *RulesFactory) ParseRules(data []byte) (policy.TypeRules, error) {
	var rj RulesJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return policy.TypeRules{}, fmt.Errorf("%w: malformed rules JSON: %v", policy.ErrInvalidRules, err)
	}
	return f.FromJSON(rj)
}

// FromJSON maps the flat document onto the tagged unions. All problems are
// returned joined.
func (f *RulesFactory) FromJSON(rj RulesJSON) (policy.TypeRules, error) {
	p := &parser{}
	rules := policy.TypeRules{
		ID:          policy.RulesID(rj.ID),
		TenantID:    rj.TenantID,
		PolicyID:    policy.PolicyID(rj.PolicyID),
		LeaveTypeID: policy.LeaveTypeID(rj.LeaveTypeID),
		Quota:       p.quota(rj.Quota),
		Accrual:     p.accrual(rj.Accrual),
		Application: p.application(rj.Application),
		Restriction: p.restriction(rj.Restriction),
		Sandwich: policy.SandwichRules{
			HolidayAdjacency: adjacency(rj.Sandwich.HolidayAdjacency),
			WeekendAdjacency: adjacency(rj.Sandwich.WeekendAdjacency),
		},
		Approval: p.approval(rj.Approval),
		YearEnd:  p.yearEnd(rj.YearEnd),
	}
	if err := errors.Join(p.errs...); err != nil {
		return policy.TypeRules{}, err
	}
	return rules, nil
}

// EncodeRules renders TypeRules as JSON.
func (f *RulesFactory) EncodeRules(r policy.TypeRules) ([]byte, error) {
	return json.Marshal(f.ToJSON(r))
}

// ToJSON is the inverse of FromJSON.
func (f *RulesFactory) ToJSON(r policy.TypeRules) RulesJSON {
	rj := RulesJSON{
		ID:          string(r.ID),
		TenantID:    r.TenantID,
		PolicyID:    string(r.PolicyID),
		LeaveTypeID: string(r.LeaveTypeID),
		Sandwich: SandwichJSON{
			HolidayAdjacency: string(r.Sandwich.HolidayAdjacency),
			WeekendAdjacency: string(r.Sandwich.WeekendAdjacency),
		},
		YearEnd: YearEndJSON{NegativeBalancePolicy: string(r.YearEnd.Negative)},
	}

	switch q := r.Quota.(type) {
	case policy.Limited:
		days := q.Days
		rj.Quota = QuotaJSON{LimitType: string(policy.LimitLimited), Days: &days, AllowNegative: q.AllowNegative}
		if q.Proration != nil {
			rj.Quota.Proration = &ProrationJSON{Policy: string(q.Proration.Policy), JoinMonthCutoffDay: q.Proration.JoinMonthCutoffDay}
		}
	case policy.Unlimited:
		rj.Quota = QuotaJSON{LimitType: string(policy.LimitUnlimited)}
	}

	switch a := r.Accrual.(type) {
	case policy.EntireQuota:
		rj.Accrual = AccrualJSON{Type: string(policy.AccrualEntireQuota), RoundingPolicy: string(a.Rounding)}
	case policy.Periodic:
		amount := a.AmountPerInterval
		rj.Accrual = AccrualJSON{
			Type:              string(policy.AccrualPeriodic),
			Interval:          string(a.Interval),
			AmountPerInterval: &amount,
			RoundingPolicy:    string(a.Rounding),
		}
	}

	app := r.Application
	rj.Application = ApplicationJSON{
		AllowHalfDay:            app.AllowHalfDay,
		SelfApplyAllowed:        app.SelfApplyAllowed,
		RequireComment:          app.RequireComment,
		AttachmentThresholdDays: app.AttachmentThresholdDays,
		AllowBackdated:          app.Backdated != nil,
	}
	if app.Backdated != nil {
		rj.Application.BackdatedMaxDays = app.Backdated.MaxDays
	}

	res := r.Restriction
	rj.Restriction = RestrictionJSON{
		MaxConsecutiveDays:    res.MaxConsecutiveDays,
		MaxMonthlyDays:        res.MaxMonthlyDays,
		AllowedInNoticePeriod: res.AllowedInNoticePeriod,
	}
	if e := res.Eligibility; e != nil {
		days := e.AfterDays
		rj.Restriction.EligibilityAnchor = string(e.Anchor)
		rj.Restriction.EligibilityAfterDays = &days
	}

	rj.Approval.Required = r.Approval.Required
	for _, lvl := range r.Approval.Sorted() {
		lj := LevelJSON{LevelOrder: lvl.Order}
		switch a := lvl.Approver.(type) {
		case policy.RoleApprover:
			lj.Mode, lj.RoleKey = string(policy.RoleBased), a.RoleKey
		case policy.NamedApprover:
			lj.Mode, lj.EmployeeID = string(policy.NamedEmployee), string(a.EmployeeID)
		}
		rj.Approval.Levels = append(rj.Approval.Levels, lj)
	}

	if r.YearEnd.Positive != nil {
		rj.YearEnd.PositiveBalanceAction = string(r.YearEnd.Positive.ActionType())
		if cf, ok := r.YearEnd.Positive.(policy.CarryForward); ok && cf.ExpiryDays != nil {
			rj.YearEnd.CarryForwardExpires = true
			rj.YearEnd.CarryForwardExpiryDays = cf.ExpiryDays
		}
	}
	return rj
}

// =============================================================================
// PARSING
// =============================================================================

type parser struct {
	errs []error
}

func (p *parser) fail(field, format string, args ...any) {
	p.errs = append(p.errs, &policy.RuleError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (p *parser) quota(q QuotaJSON) policy.Quota {
	switch upper(q.LimitType) {
	case string(policy.LimitLimited):
		if q.Days == nil {
			p.fail("quota.days", "required for LIMITED")
			return nil
		}
		lim := policy.Limited{Days: *q.Days, AllowNegative: q.AllowNegative}
		if q.Proration != nil {
			lim.Proration = &policy.Proration{
				Policy:             policy.ProrationPolicy(upper(q.Proration.Policy)),
				JoinMonthCutoffDay: q.Proration.JoinMonthCutoffDay,
			}
		}
		return lim
	case string(policy.LimitUnlimited):
		if q.Days != nil {
			p.fail("quota.days", "not allowed for UNLIMITED")
		}
		if q.AllowNegative {
			p.fail("quota.allow_negative", "not allowed for UNLIMITED")
		}
		if q.Proration != nil {
			p.fail("quota.proration", "not allowed for UNLIMITED")
		}
		return policy.Unlimited{}
	case "":
		p.fail("quota.limit_type", "required")
	default:
		p.fail("quota.limit_type", "unknown limit type %q", q.LimitType)
	}
	return nil
}

func (p *parser) accrual(a AccrualJSON) policy.Accrual {
	rounding := policy.NoRounding
	if a.RoundingPolicy != "" {
		rounding = policy.Rounding(upper(a.RoundingPolicy))
	}
	switch upper(a.Type) {
	case string(policy.AccrualEntireQuota):
		if a.Interval != "" {
			p.fail("accrual.interval", "not allowed for ENTIRE_QUOTA")
		}
		if a.AmountPerInterval != nil {
			p.fail("accrual.amount_per_interval", "not allowed for ENTIRE_QUOTA")
		}
		return policy.EntireQuota{Rounding: rounding}
	case string(policy.AccrualPeriodic):
		if a.AmountPerInterval == nil {
			p.fail("accrual.amount_per_interval", "required for PERIODIC")
			return nil
		}
		return policy.Periodic{
			Interval:          generic.Interval(upper(a.Interval)),
			AmountPerInterval: *a.AmountPerInterval,
			Rounding:          rounding,
		}
	case "":
		p.fail("accrual.type", "required")
	default:
		p.fail("accrual.type", "unknown accrual type %q", a.Type)
	}
	return nil
}

func (p *parser) application(a ApplicationJSON) policy.ApplicationRules {
	out := policy.ApplicationRules{
		AllowHalfDay:            a.AllowHalfDay,
		SelfApplyAllowed:        a.SelfApplyAllowed,
		RequireComment:          a.RequireComment,
		AttachmentThresholdDays: a.AttachmentThresholdDays,
	}
	switch {
	case a.AllowBackdated:
		out.Backdated = &policy.BackdatedWindow{MaxDays: a.BackdatedMaxDays}
	case a.BackdatedMaxDays != nil:
		p.fail("application.backdated_max_days", "set while allow_backdated is false")
	}
	return out
}

func (p *parser) restriction(r RestrictionJSON) policy.RestrictionRules {
	out := policy.RestrictionRules{
		MaxConsecutiveDays:    r.MaxConsecutiveDays,
		MaxMonthlyDays:        r.MaxMonthlyDays,
		AllowedInNoticePeriod: r.AllowedInNoticePeriod,
	}
	switch {
	case r.EligibilityAnchor != "":
		e := &policy.Eligibility{Anchor: policy.EligibilityAnchor(upper(r.EligibilityAnchor))}
		if r.EligibilityAfterDays != nil {
			e.AfterDays = *r.EligibilityAfterDays
		}
		out.Eligibility = e
	case r.EligibilityAfterDays != nil:
		p.fail("restriction.eligibility_after_days", "set without eligibility_anchor")
	}
	return out
}

func (p *parser) approval(a ApprovalJSON) policy.ApprovalFlow {
	out := policy.ApprovalFlow{Required: a.Required}
	for i, lj := range a.Levels {
		field := fmt.Sprintf("approval.levels[%d]", i)
		lvl := policy.ApprovalLevel{Order: lj.LevelOrder}
		switch upper(lj.Mode) {
		case string(policy.RoleBased):
			if lj.EmployeeID != "" {
				p.fail(field+".employee_id", "not allowed for ROLE_BASED")
			}
			lvl.Approver = policy.RoleApprover{RoleKey: lj.RoleKey}
		case string(policy.NamedEmployee):
			if lj.RoleKey != "" {
				p.fail(field+".role_key", "not allowed for NAMED_EMPLOYEE")
			}
			lvl.Approver = policy.NamedApprover{EmployeeID: generic.EntityID(lj.EmployeeID)}
		default:
			p.fail(field+".mode", "unknown approver mode %q", lj.Mode)
			continue
		}
		out.Levels = append(out.Levels, lvl)
	}
	return out
}

func (p *parser) yearEnd(y YearEndJSON) policy.YearEndRules {
	out := policy.YearEndRules{Negative: policy.Nullify}
	if y.NegativeBalancePolicy != "" {
		out.Negative = policy.NegativeBalancePolicy(upper(y.NegativeBalancePolicy))
	}

	action := upper(y.PositiveBalanceAction)
	if action != string(policy.CarryForwardAction) && (y.CarryForwardExpires || y.CarryForwardExpiryDays != nil) {
		p.fail("year_end.carry_forward_expires", "only valid with CARRY_FORWARD")
	}
	switch action {
	case string(policy.ExpireOrResetAction):
		out.Positive = policy.ExpireOrReset{}
	case string(policy.PayOutAction):
		out.Positive = policy.PayOut{}
	case string(policy.CarryForwardAction):
		cf := policy.CarryForward{}
		switch {
		case y.CarryForwardExpires && y.CarryForwardExpiryDays == nil:
			p.fail("year_end.carry_forward_expiry_days", "required when carry_forward_expires")
		case y.CarryForwardExpires:
			cf.ExpiryDays = y.CarryForwardExpiryDays
		case y.CarryForwardExpiryDays != nil:
			p.fail("year_end.carry_forward_expiry_days", "set while carry_forward_expires is false")
		}
		out.Positive = cf
	case "":
		p.fail("year_end.positive_balance_action", "required")
	default:
		p.fail("year_end.positive_balance_action", "unknown action %q", y.PositiveBalanceAction)
	}
	return out
}

func adjacency(s string) policy.Adjacency {
	if s == "" {
		return policy.CountAsLeave
	}
	return policy.Adjacency(upper(s))
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
