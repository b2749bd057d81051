package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// APPROVAL ROUTER
// =============================================================================

// ApprovalRouter binds approval levels to approvers and validates decisions.
// It holds no state; the request carries the resolved levels.
type ApprovalRouter struct {
	directory Directory
}

func NewApprovalRouter(directory Directory) *ApprovalRouter {
	return &ApprovalRouter{directory: directory}
}

// Route resolves every level of the flow for the employee. Role levels go
// through the directory; named levels are taken verbatim. The returned
// current level is the lowest order, or 0 when no approval is required.
func (r *ApprovalRouter) Route(ctx context.Context, emp policy.Employee, flow policy.ApprovalFlow) ([]ResolvedLevel, int, error) {
	if !flow.Required {
		return nil, 0, nil
	}
	levels := flow.Sorted()
	out := make([]ResolvedLevel, 0, len(levels))
	for _, lvl := range levels {
		rl := ResolvedLevel{Order: lvl.Order, Mode: lvl.Approver.Mode()}
		switch a := lvl.Approver.(type) {
		case policy.RoleApprover:
			rl.RoleKey = a.RoleKey
			id, err := r.directory.RoleHolder(ctx, emp.TenantID, emp.ID, a.RoleKey)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: level %d role %s: %v", ErrApproverUnresolved, lvl.Order, a.RoleKey, err)
			}
			if id == "" {
				return nil, 0, fmt.Errorf("%w: level %d role %s has no holder", ErrApproverUnresolved, lvl.Order, a.RoleKey)
			}
			rl.ApproverID = id
		case policy.NamedApprover:
			rl.ApproverID = a.EmployeeID
		default:
			return nil, 0, fmt.Errorf("%w: level %d has no approver", ErrApproverUnresolved, lvl.Order)
		}
		out = append(out, rl)
	}
	if len(out) == 0 {
		return nil, 0, nil
	}
	return out, out[0].Order, nil
}

// Decision is the input of RecordDecision.
type Decision struct {
	TenantID       string
	RequestID      RequestID
	LevelOrder     int
	ApproverID     generic.EntityID
	Action         Action
	Comment        string
	IdempotencyKey string
}

// Outcome is what an accepted decision does to the request.
type Outcome int

const (
	// OutcomeAdvance moves the request to the next level.
	OutcomeAdvance Outcome = iota
	// OutcomeApprove finalizes the request as approved.
	OutcomeApprove
	// OutcomeReject finalizes the request as rejected.
	OutcomeReject
)

// Decide validates a decision against the request. Checks run in order:
// terminal request, level order, then approver identity. On success it
// returns the approval record to append and what happens next.
func (r *ApprovalRouter) Decide(req Request, d Decision, now time.Time) (Approval, Outcome, error) {
	if !d.Action.Valid() {
		return Approval{}, 0, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, d.Action)
	}
	if req.Status.IsTerminal() {
		return Approval{}, 0, fmt.Errorf("%w: request %s is %s", ErrAlreadyFinalized, req.ID, req.Status)
	}
	if req.CurrentLevel == 0 || d.LevelOrder != req.CurrentLevel {
		return Approval{}, 0, fmt.Errorf("%w: level %d decided while level %d is current", ErrOutOfOrder, d.LevelOrder, req.CurrentLevel)
	}
	lvl, ok := req.Level(d.LevelOrder)
	if !ok || lvl.ApproverID != d.ApproverID {
		return Approval{}, 0, fmt.Errorf("%w: %s is not the approver of level %d", ErrNotAuthorized, d.ApproverID, d.LevelOrder)
	}

	approval := Approval{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		RequestID:      req.ID,
		LevelOrder:     d.LevelOrder,
		ApproverID:     d.ApproverID,
		Action:         d.Action,
		Comment:        strings.TrimSpace(d.Comment),
		ActedAt:        now.UTC(),
		IdempotencyKey: d.IdempotencyKey,
	}
	switch {
	case d.Action == ActionRejected:
		return approval, OutcomeReject, nil
	case nextLevel(req, d.LevelOrder) == 0:
		return approval, OutcomeApprove, nil
	default:
		return approval, OutcomeAdvance, nil
	}
}

// nextLevel is the lowest order above the given one, or 0.
func nextLevel(req Request, after int) int {
	next := 0
	for _, l := range req.Approvers {
		if l.Order > after && (next == 0 || l.Order < next) {
			next = l.Order
		}
	}
	return next
}

// IsApprover reports whether the actor is bound to any level of the request.
func IsApprover(req Request, actor generic.EntityID) bool {
	for _, l := range req.Approvers {
		if l.ApproverID == actor {
			return true
		}
	}
	return false
}
