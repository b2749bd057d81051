package leave_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want leave.Kind
	}{
		{nil, ""},
		{leave.ErrInvalidDateRange, leave.KindValidation},
		{fmt.Errorf("wrapped: %w", leave.ErrMissingReason), leave.KindValidation},
		{&policy.RuleError{Field: "quota", Reason: "required"}, leave.KindValidation},
		{&leave.RestrictionError{Limit: "maxMonthlyDays"}, leave.KindPolicyViolation},
		{&generic.InsufficientBalanceError{}, leave.KindPolicyViolation},
		{policy.ErrNoPolicyConfigured, leave.KindPolicyViolation},
		{leave.ErrOutOfOrder, leave.KindSequencing},
		{leave.ErrYearEndInProgress, leave.KindSequencing},
		{fmt.Errorf("store: %w", leave.ErrLevelAlreadyDecided), leave.KindSequencing},
		{&leave.BalanceInvariantError{Reason: "pending below zero"}, leave.KindConsistency},
		{policy.ErrDuplicateTypePolicy, leave.KindConsistency},
		{leave.ErrApproverUnresolved, leave.KindConsistency},
		{policy.ErrLeaveTypeNotFound, leave.KindNotFound},
		{leave.ErrEmployeeNotFound, leave.KindNotFound},
		{errors.New("disk on fire"), leave.KindInternal},
		{context.Canceled, leave.KindInternal},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, leave.Classify(tt.err))
		})
	}

	assert.True(t, leave.IsClientError(leave.ErrNotAuthorized))
	assert.False(t, leave.IsClientError(leave.ErrBalanceInvariant))
}

func TestRestrictionError_Message(t *testing.T) {
	err := &leave.RestrictionError{Limit: "maxMonthlyDays", Max: dec("6"), Actual: dec("8"), Window: "2025-03"}
	assert.Equal(t, "restriction violated: maxMonthlyDays is 6, request would make 8 in 2025-03", err.Error())
	assert.ErrorIs(t, err, leave.ErrRestrictionViolated)
}
