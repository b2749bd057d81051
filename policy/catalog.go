package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists the catalog. Get/Find methods return the matching
// Err*NotFound sentinel when nothing exists.
type Store interface {
	SaveLeaveType(ctx context.Context, lt LeaveType) error
	GetLeaveType(ctx context.Context, tenantID string, id LeaveTypeID) (*LeaveType, error)
	ListLeaveTypes(ctx context.Context, tenantID string) ([]LeaveType, error)

	SavePolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, tenantID string, id PolicyID) (*Policy, error)
	// ListPolicies returns policies in creation order.
	ListPolicies(ctx context.Context, tenantID string) ([]Policy, error)
	// SetDefaultPolicy marks one policy default and clears every other
	// default of the tenant in a single atomic step.
	SetDefaultPolicy(ctx context.Context, tenantID string, id PolicyID) error

	SaveTypeRules(ctx context.Context, rules TypeRules) error
	GetTypeRules(ctx context.Context, tenantID string, id RulesID) (*TypeRules, error)
	FindTypeRules(ctx context.Context, tenantID string, policyID PolicyID, leaveTypeID LeaveTypeID) (*TypeRules, error)
	ListTypeRules(ctx context.Context, tenantID string, policyID PolicyID) ([]TypeRules, error)
	DeleteTypeRules(ctx context.Context, tenantID string, id RulesID) error
}

// =============================================================================
// CATALOG
// =============================================================================

type Catalog struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// Serializes find-then-save of rules and default switches.
	mu sync.Mutex
}

func NewCatalog(store Store, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{store: store, logger: logger, now: time.Now}
}

// NewPolicy is the input of CreatePolicy.
type NewPolicy struct {
	TenantID  string
	Name      string
	AppliesTo string
	IsDefault bool
}

type UpsertMode int

const (
	// CreateOnly fails with ErrDuplicateTypePolicy when rules exist.
	CreateOnly UpsertMode = iota
	// ExplicitUpdate replaces existing rules, keeping their id.
	ExplicitUpdate
)

// CreateLeaveType registers a leave type.
func (c *Catalog) CreateLeaveType(ctx context.Context, lt LeaveType) (LeaveType, error) {
	if lt.TenantID == "" || strings.TrimSpace(lt.Code) == "" {
		return LeaveType{}, &RuleError{Field: "code", Reason: "tenant and code are required"}
	}
	if lt.MaxDaysPerYear != nil && lt.MaxDaysPerYear.IsNegative() {
		return LeaveType{}, &RuleError{Field: "maxDaysPerYear", Reason: "must not be negative"}
	}
	if lt.ID == "" {
		lt.ID = LeaveTypeID(uuid.NewString())
	}
	if lt.Name == "" {
		lt.Name = lt.Code
	}
	lt.CreatedAt = c.now().UTC()
	if err := c.store.SaveLeaveType(ctx, lt); err != nil {
		return LeaveType{}, fmt.Errorf("save leave type: %w", err)
	}
	return lt, nil
}

func (c *Catalog) GetLeaveType(ctx context.Context, tenantID string, id LeaveTypeID) (LeaveType, error) {
	lt, err := c.store.GetLeaveType(ctx, tenantID, id)
	if err != nil {
		return LeaveType{}, err
	}
	return *lt, nil
}

func (c *Catalog) ListLeaveTypes(ctx context.Context, tenantID string) ([]LeaveType, error) {
	return c.store.ListLeaveTypes(ctx, tenantID)
}

// CreatePolicy validates the appliesTo expression and stores the policy.
// A default policy replaces the tenant's previous default.
func (c *Catalog) CreatePolicy(ctx context.Context, in NewPolicy) (Policy, error) {
	if in.TenantID == "" || strings.TrimSpace(in.Name) == "" {
		return Policy{}, fmt.Errorf("%w: tenant and name are required", ErrInvalidPolicy)
	}
	if _, err := ParseExpression(in.AppliesTo); err != nil {
		return Policy{}, err
	}

	p := Policy{
		ID:        PolicyID(uuid.NewString()),
		TenantID:  in.TenantID,
		Name:      strings.TrimSpace(in.Name),
		AppliesTo: in.AppliesTo,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.SavePolicy(ctx, p); err != nil {
		return Policy{}, fmt.Errorf("save policy: %w", err)
	}
	if !in.IsDefault {
		return p, nil
	}
	return c.SetDefault(ctx, in.TenantID, p.ID)
}

// SetDefault makes a policy the tenant default, clearing the previous one.
func (c *Catalog) SetDefault(ctx context.Context, tenantID string, id PolicyID) (Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.GetPolicy(ctx, tenantID, id); err != nil {
		return Policy{}, err
	}
	if err := c.store.SetDefaultPolicy(ctx, tenantID, id); err != nil {
		return Policy{}, fmt.Errorf("set default policy: %w", err)
	}
	c.logger.Info("default policy changed",
		zap.String("tenant_id", tenantID),
		zap.String("policy_id", string(id)))

	p, err := c.store.GetPolicy(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	return *p, nil
}

func (c *Catalog) ListPolicies(ctx context.Context, tenantID string) ([]Policy, error) {
	return c.store.ListPolicies(ctx, tenantID)
}

// ResolveEffectivePolicy returns the first non-default policy whose
// expression matches the employee, else the tenant default.
func (c *Catalog) ResolveEffectivePolicy(ctx context.Context, emp Employee) (Policy, error) {
	policies, err := c.store.ListPolicies(ctx, emp.TenantID)
	if err != nil {
		return Policy{}, fmt.Errorf("list policies: %w", err)
	}

	var fallback *Policy
	for i := range policies {
		p := policies[i]
		if p.IsDefault {
			if fallback == nil {
				fallback = &policies[i]
			}
			continue
		}
		expr, err := ParseExpression(p.AppliesTo)
		if err != nil {
			c.logger.Warn("skipping policy with unparsable expression",
				zap.String("policy_id", string(p.ID)), zap.Error(err))
			continue
		}
		if expr.Matches(emp) {
			return p, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Policy{}, fmt.Errorf("%w: tenant %s, employee %s", ErrNoPolicyConfigured, emp.TenantID, emp.ID)
}

// ResolveTypeRules returns the rules that govern an employee's leave type.
func (c *Catalog) ResolveTypeRules(ctx context.Context, emp Employee, leaveTypeID LeaveTypeID) (TypeRules, Policy, error) {
	p, err := c.ResolveEffectivePolicy(ctx, emp)
	if err != nil {
		return TypeRules{}, Policy{}, err
	}
	rules, err := c.store.FindTypeRules(ctx, emp.TenantID, p.ID, leaveTypeID)
	if errors.Is(err, ErrRulesNotFound) {
		return TypeRules{}, p, fmt.Errorf("%w: leave type %s is not configured in policy %q", ErrPolicyNotFound, leaveTypeID, p.Name)
	}
	if err != nil {
		return TypeRules{}, p, err
	}
	return *rules, p, nil
}

// UpsertTypeRules stores rules for (policy, leave type).
func (c *Catalog) UpsertTypeRules(ctx context.Context, rules TypeRules, mode UpsertMode) (TypeRules, error) {
	rules.Approval.Levels = rules.Approval.Sorted()
	if err := rules.Validate(); err != nil {
		return TypeRules{}, err
	}
	if rules.TenantID == "" {
		return TypeRules{}, &RuleError{Field: "tenantId", Reason: "required"}
	}

	if _, err := c.store.GetPolicy(ctx, rules.TenantID, rules.PolicyID); err != nil {
		return TypeRules{}, err
	}
	lt, err := c.store.GetLeaveType(ctx, rules.TenantID, rules.LeaveTypeID)
	if err != nil {
		return TypeRules{}, err
	}
	if q, ok := rules.Quota.(Limited); ok && lt.MaxDaysPerYear != nil && q.Days.GreaterThan(*lt.MaxDaysPerYear) {
		return TypeRules{}, &RuleError{
			Field:  "quota.days",
			Reason: fmt.Sprintf("%s exceeds leave type maximum %s", q.Days, lt.MaxDaysPerYear),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.FindTypeRules(ctx, rules.TenantID, rules.PolicyID, rules.LeaveTypeID)
	switch {
	case errors.Is(err, ErrRulesNotFound):
		if rules.ID == "" {
			rules.ID = RulesID(uuid.NewString())
		}
	case err != nil:
		return TypeRules{}, err
	case mode != ExplicitUpdate:
		c.logger.Warn("duplicate type rules rejected",
			zap.String("policy_id", string(rules.PolicyID)),
			zap.String("leave_type_id", string(rules.LeaveTypeID)),
			zap.String("existing_id", string(existing.ID)))
		return TypeRules{}, fmt.Errorf("%w: policy %s already has rules %s for leave type %s",
			ErrDuplicateTypePolicy, rules.PolicyID, existing.ID, rules.LeaveTypeID)
	default:
		rules.ID = existing.ID
	}

	rules.UpdatedAt = c.now().UTC()
	if err := c.store.SaveTypeRules(ctx, rules); err != nil {
		return TypeRules{}, fmt.Errorf("save type rules: %w", err)
	}
	return rules, nil
}

func (c *Catalog) RemoveTypeRules(ctx context.Context, tenantID string, id RulesID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.GetTypeRules(ctx, tenantID, id); err != nil {
		return err
	}
	return c.store.DeleteTypeRules(ctx, tenantID, id)
}

func (c *Catalog) GetPolicy(ctx context.Context, tenantID string, id PolicyID) (Policy, error) {
	p, err := c.store.GetPolicy(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	return *p, nil
}

func (c *Catalog) ListTypeRules(ctx context.Context, tenantID string, policyID PolicyID) ([]TypeRules, error) {
	return c.store.ListTypeRules(ctx, tenantID, policyID)
}
