package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPolicyConfigured: no policy matches the employee and no default exists.
	ErrNoPolicyConfigured = errors.New("no policy configured")

	// ErrPolicyNotFound: the policy, or its rules for a leave type, is missing.
	ErrPolicyNotFound = errors.New("policy not found")

	ErrLeaveTypeNotFound = errors.New("leave type not found")
	ErrRulesNotFound     = errors.New("type rules not found")

	// ErrDuplicateTypePolicy: rules already exist for (policy, leave type).
	ErrDuplicateTypePolicy = errors.New("duplicate type policy")

	ErrInvalidRules      = errors.New("invalid type rules")
	ErrInvalidPolicy     = errors.New("invalid policy")
	ErrInvalidExpression = errors.New("invalid appliesTo expression")
)

// RuleError names the rules field that failed validation.
type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRules }

// ExpressionError points at the offending position of an expression.
type ExpressionError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q at %d: %s", e.Expr, e.Pos, e.Reason)
}

func (e *ExpressionError) Unwrap() error { return ErrInvalidExpression }
