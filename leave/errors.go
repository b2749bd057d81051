/*
errors.go - Leave engine error taxonomy

CATEGORIES:
  Validation       bad input, rejected before any state change; fix and retry
  PolicyViolation  business rejection, surfaced verbatim, never auto-retried
  Sequencing       stale client view (out of order, already finalized,
                   not authorized); refetch then decide
  Consistency      defect signal (balance invariant, duplicate type rules);
                   logged and surfaced
  NotFound         unknown request, policy, leave type or employee

Every engine error wraps one of the sentinels below (or a policy/generic
sentinel) so callers classify with errors.Is or Classify.
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// Validation
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrMissingReason    = errors.New("reason is required")
	ErrNoWorkingDays    = errors.New("request covers no leave days")
	ErrInvalidInput     = errors.New("invalid input")

	// Policy violations
	ErrNotEligible          = errors.New("not eligible")
	ErrBackdatingNotAllowed = errors.New("backdating not allowed")
	ErrRestrictionViolated  = errors.New("restriction violated")
	ErrAttachmentRequired   = errors.New("attachment required")
	ErrInsufficientBalance  = generic.ErrInsufficientBalance
	ErrHalfDayNotAllowed    = errors.New("half-day leave not allowed")
	ErrSelfApplyNotAllowed  = errors.New("self-apply not allowed")
	ErrOverlappingRequest   = errors.New("overlaps an existing request")

	// Sequencing
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAlreadyFinalized    = errors.New("already finalized")
	ErrOutOfOrder          = errors.New("approval out of order")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrYearEndInProgress   = errors.New("year-end already running")
	ErrLevelAlreadyDecided = errors.New("approval level already decided")

	// Consistency
	ErrBalanceInvariant   = errors.New("balance invariant violated")
	ErrApproverUnresolved = errors.New("approver could not be resolved")

	// Not found
	ErrRequestNotFound  = errors.New("leave request not found")
	ErrEmployeeNotFound = errors.New("employee not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// RestrictionError names the limit a request would exceed.
type RestrictionError struct {
	Limit  string
	Max    decimal.Decimal
	Actual decimal.Decimal
	Window string
}

func (e *RestrictionError) Error() string {
	if e.Window != "" {
		return fmt.Sprintf("restriction violated: %s is %s, request would make %s in %s", e.Limit, e.Max, e.Actual, e.Window)
	}
	return fmt.Sprintf("restriction violated: %s is %s, request would make %s", e.Limit, e.Max, e.Actual)
}

func (e *RestrictionError) Unwrap() error { return ErrRestrictionViolated }

// BalanceInvariantError reports a delta that would corrupt a balance row.
type BalanceInvariantError struct {
	Key    generic.BalanceKey
	Before generic.Totals
	After  generic.Totals
	Reason string
}

func (e *BalanceInvariantError) Error() string {
	return fmt.Sprintf("balance invariant violated on %s: %s (allocated %s, used %s, pending %s)",
		e.Key, e.Reason, e.After.Allocated, e.After.Used, e.After.Pending)
}

func (e *BalanceInvariantError) Unwrap() error { return ErrBalanceInvariant }

// =============================================================================
// CLASSIFICATION
// =============================================================================

type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindPolicyViolation Kind = "policy_violation"
	KindSequencing      Kind = "sequencing_error"
	KindConsistency     Kind = "consistency_fault"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
)

// Classify maps an error onto the taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case isAny(err, ErrInvalidDateRange, ErrMissingReason, ErrNoWorkingDays, ErrInvalidInput,
		policy.ErrInvalidRules, policy.ErrInvalidPolicy, policy.ErrInvalidExpression,
		generic.ErrInvalidTransaction, generic.ErrInvalidPeriod):
		return KindValidation
	case isAny(err, ErrNotEligible, ErrBackdatingNotAllowed, ErrRestrictionViolated,
		ErrAttachmentRequired, ErrInsufficientBalance, ErrHalfDayNotAllowed,
		ErrSelfApplyNotAllowed, ErrOverlappingRequest,
		policy.ErrPolicyNotFound, policy.ErrNoPolicyConfigured):
		return KindPolicyViolation
	case isAny(err, ErrInvalidTransition, ErrAlreadyFinalized, ErrOutOfOrder, ErrNotAuthorized,
		ErrYearEndInProgress, ErrLevelAlreadyDecided, generic.ErrConcurrentModification):
		return KindSequencing
	case isAny(err, ErrBalanceInvariant, ErrApproverUnresolved, policy.ErrDuplicateTypePolicy):
		return KindConsistency
	case isAny(err, ErrRequestNotFound, ErrEmployeeNotFound, policy.ErrLeaveTypeNotFound,
		policy.ErrRulesNotFound, generic.ErrEntityNotFound):
		return KindNotFound
	}
	return KindInternal
}

// IsClientError returns true if the caller can fix the input and retry.
func IsClientError(err error) bool {
	k := Classify(err)
	return k == KindValidation || k == KindPolicyViolation || k == KindSequencing
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
