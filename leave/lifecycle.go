/*
lifecycle.go - Leave request lifecycle

PURPOSE:
  Submit, cancel and decide leave requests. Every mutation of a request
  runs while holding its balance row lock, so the check of "available" and
  the reservation that follows can never interleave with another request on
  the same row.

SUBMIT PIPELINE:
  1. resolve rules         policy.Catalog.ResolveTypeRules
  2. shape checks          dates in one year, reason, half day, self apply
  3. eligibility           anchor + afterDays, notice period
  4. backdating            window relative to today
  5. day count             sandwich-aware, 0.5 steps
  6. restrictions          overlap, maxConsecutiveDays, maxMonthlyDays   (locked)
  7. attachment            threshold                                   (locked)
  8. balance               available >= days unless negative allowed   (locked)
  9. route + reserve       pending += days, request SUBMITTED          (locked)
  10. auto-approve         when approval is not required              (locked)

COMMIT:
  APPROVED:  pending -days, used +days (one batch)
  REJECTED:  pending -days
  CANCELLED: pending -days

  Each ledger write carries a request-scoped idempotency key, and a
  terminal request refuses a second commit with ErrAlreadyFinalized.

ATOMICITY:
  The ledger batch, the approval record and the request save of one step
  run in a single TxStore transaction. A failed write rolls back the others,
  so a retried decision never finds its level half-recorded.

SEE ALSO:
  - approval.go: ApprovalRouter
  - balance.go: BalanceLedger / Row
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
	"go.uber.org/zap"
)

// Deps are the collaborators of the lifecycle.
type Deps struct {
	Catalog   *policy.Catalog
	Balances  *BalanceLedger
	Requests  RequestStore
	Directory Directory
	Calendar  Calendar
	Notifier  Notifier
	Logger    *zap.Logger
	// Tx groups the writes of one step; nil uses Requests when it
	// implements TxStore.
	Tx TxStore
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type Lifecycle struct {
	catalog   *policy.Catalog
	balances  *BalanceLedger
	requests  RequestStore
	tx        TxStore
	directory Directory
	counter   DayCounter
	router    *ApprovalRouter
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time

	// Serializes submits per employee so overlap checks across leave
	// types see each other. Taken before any row lock.
	submits *rowLocks
}

func NewLifecycle(d Deps) *Lifecycle {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Event) {})
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	tx := d.Tx
	if tx == nil {
		tx, _ = d.Requests.(TxStore)
	}
	return &Lifecycle{
		catalog:   d.Catalog,
		balances:  d.Balances,
		requests:  d.Requests,
		tx:        tx,
		directory: d.Directory,
		counter:   DayCounter{Calendar: d.Calendar},
		router:    NewApprovalRouter(d.Directory),
		notifier:  notifier,
		logger:    logger,
		now:       now,
		submits:   &rowLocks{rows: make(map[generic.BalanceKey]*rowLock)},
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

type SubmitInput struct {
	TenantID       string
	EmployeeID     generic.EntityID
	LeaveTypeID    policy.LeaveTypeID
	From           generic.TimePoint
	To             generic.TimePoint
	HalfDayStart   bool
	HalfDayEnd     bool
	Reason         string
	AttachmentRef  string
	ActorID        generic.EntityID // defaults to EmployeeID
	IdempotencyKey string
}

func (l *Lifecycle) Submit(ctx context.Context, in SubmitInput) (Result, error) {
	if in.TenantID == "" || in.EmployeeID == "" || in.LeaveTypeID == "" {
		return Result{}, fmt.Errorf("%w: tenant, employee and leave type are required", ErrInvalidInput)
	}
	if in.From.IsZero() || in.To.IsZero() {
		return Result{}, fmt.Errorf("%w: from and to dates are required", ErrInvalidDateRange)
	}
	if in.ActorID == "" {
		in.ActorID = in.EmployeeID
	}
	if in.IdempotencyKey != "" {
		if res, ok, err := l.replaySubmit(ctx, in); ok || err != nil {
			return res, err
		}
	}

	emp, err := l.directory.Employee(ctx, in.TenantID, in.EmployeeID)
	if err != nil {
		return Result{}, err
	}

	// 1. Rules
	rules, pol, err := l.catalog.ResolveTypeRules(ctx, emp, in.LeaveTypeID)
	if err != nil {
		return Result{}, err
	}

	// 2-4. Shape, eligibility, backdating
	today := generic.DateOf(l.now())
	if err := checkShape(in, rules); err != nil {
		return Result{}, err
	}
	if err := checkEligibility(emp, in.From, today, rules.Restriction); err != nil {
		return Result{}, err
	}
	if err := checkBackdating(in.From, today, rules.Application); err != nil {
		return Result{}, err
	}

	// 5. Day count
	span := Span{From: in.From, To: in.To, HalfDayStart: in.HalfDayStart, HalfDayEnd: in.HalfDayEnd}
	count, err := l.counter.Count(ctx, in.TenantID, emp.Location, span, rules.Sandwich)
	if err != nil {
		return Result{}, err
	}
	if !count.Total.IsPositive() {
		return Result{}, fmt.Errorf("%w: %s", ErrNoWorkingDays, span.From)
	}

	release, err := l.submits.acquire(ctx, generic.BalanceKey{TenantID: in.TenantID, EntityID: in.EmployeeID})
	if err != nil {
		return Result{}, err
	}
	defer release()

	now := l.now().UTC()
	req := Request{
		ID:             RequestID(uuid.NewString()),
		TenantID:       in.TenantID,
		EmployeeID:     in.EmployeeID,
		LeaveTypeID:    in.LeaveTypeID,
		PolicyID:       pol.ID,
		RulesID:        rules.ID,
		From:           in.From,
		To:             in.To,
		HalfDayStart:   in.HalfDayStart,
		HalfDayEnd:     in.HalfDayEnd,
		DaysRequested:  count.Total,
		Reason:         strings.TrimSpace(in.Reason),
		AttachmentRef:  strings.TrimSpace(in.AttachmentRef),
		Status:         StatusSubmitted,
		SubmittedBy:    in.ActorID,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var (
		bal      Balance
		replayed *Result
	)
	err = l.balances.WithRow(ctx, req.BalanceKey(), func(row *Row) error {
		// A retry racing the original lands here after it.
		if in.IdempotencyKey != "" {
			res, ok, err := l.replaySubmit(ctx, in)
			if err != nil {
				return err
			}
			if ok {
				replayed = &res
				return nil
			}
		}

		// 6. Restrictions
		if err := l.checkRestrictions(ctx, emp, req, count, rules); err != nil {
			return err
		}

		// 7. Attachment
		if t := rules.Application.AttachmentThresholdDays; t != nil && req.DaysRequested.GreaterThan(*t) && req.AttachmentRef == "" {
			return fmt.Errorf("%w: %s days exceeds threshold %s", ErrAttachmentRequired, req.DaysRequested, t)
		}

		// 8. Balance
		if !rules.AllowsNegative() && row.Available().LessThan(req.DaysRequested) {
			return &generic.InsufficientBalanceError{Key: row.Key(), Available: row.Available(), Requested: req.DaysRequested}
		}

		// 9. Route + reserve
		levels, current, err := l.router.Route(ctx, emp, rules.Approval)
		if err != nil {
			return err
		}
		req.Approvers = levels
		req.CurrentLevel = current

		err = l.atomically(ctx, row, func(w RequestWriter) error {
			if err := row.Reserve(req.DaysRequested, Entry{
				ReferenceID:    string(req.ID),
				Reason:         "leave request submitted",
				IdempotencyKey: ledgerKey(req.ID, "reserve"),
				CreatedBy:      string(in.ActorID),
				EffectiveAt:    req.From,
				AllowNegative:  rules.AllowsNegative(),
			}); err != nil {
				return err
			}
			if err := w.SaveRequest(ctx, req); err != nil {
				if l.tx == nil {
					l.compensate(row, req, err)
				}
				return fmt.Errorf("save request: %w", err)
			}

			// 10. Auto-approve
			if !rules.Approval.Required {
				return l.commit(ctx, w, row, &req, StatusApproved, in.ActorID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		bal = row.Balance()
		return nil
	})
	if err != nil {
		l.logRejection("submit", in.TenantID, in.EmployeeID, err)
		return Result{}, err
	}
	if replayed != nil {
		return *replayed, nil
	}

	l.logger.Info("leave request submitted",
		zap.String("tenant_id", req.TenantID),
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.String("leave_type_id", string(req.LeaveTypeID)),
		zap.String("days", req.DaysRequested.String()),
		zap.String("status", string(req.Status)))
	l.notify(ctx, EventSubmitted, req, in.ActorID)
	if req.Status == StatusApproved {
		l.notify(ctx, EventApproved, req, in.ActorID)
	}
	return Result{Request: req, Balance: bal}, nil
}

// replaySubmit returns the post-state of a request already submitted under
// the idempotency key.
func (l *Lifecycle) replaySubmit(ctx context.Context, in SubmitInput) (Result, bool, error) {
	prior, err := l.requests.FindRequestByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey)
	if err != nil {
		return Result{}, false, err
	}
	if prior == nil {
		return Result{}, false, nil
	}
	if prior.EmployeeID != in.EmployeeID {
		return Result{}, false, fmt.Errorf("%w: idempotency key %q belongs to another employee", ErrInvalidInput, in.IdempotencyKey)
	}
	res, err := l.result(ctx, *prior)
	return res, err == nil, err
}

// compensate undoes a reservation whose request could not be stored. Only
// stores without transactions need it.
func (l *Lifecycle) compensate(row *Row, req Request, cause error) {
	err := row.Release(req.DaysRequested, Entry{
		ReferenceID:    string(req.ID),
		Reason:         "reservation rolled back",
		IdempotencyKey: ledgerKey(req.ID, "release"),
		CreatedBy:      "system",
	})
	if err != nil {
		l.logger.Error("reservation rollback failed",
			zap.String("request_id", string(req.ID)),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func checkShape(in SubmitInput, rules policy.TypeRules) error {
	if in.From.After(in.To) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidDateRange, in.From, in.To)
	}
	if in.From.Year() != in.To.Year() {
		return fmt.Errorf("%w: %s..%s spans two accrual years", ErrInvalidDateRange, in.From, in.To)
	}
	if in.HalfDayStart && in.HalfDayEnd && in.From.Equal(in.To) {
		return fmt.Errorf("%w: both half-day flags on a single day", ErrInvalidDateRange)
	}
	if rules.Application.RequireComment && strings.TrimSpace(in.Reason) == "" {
		return ErrMissingReason
	}
	if (in.HalfDayStart || in.HalfDayEnd) && !rules.Application.AllowHalfDay {
		return ErrHalfDayNotAllowed
	}
	if in.ActorID == in.EmployeeID && !rules.Application.SelfApplyAllowed {
		return ErrSelfApplyNotAllowed
	}
	return nil
}

func checkEligibility(emp policy.Employee, from, today generic.TimePoint, r policy.RestrictionRules) error {
	if !r.AllowedInNoticePeriod && (emp.InNoticePeriod(from) || emp.InNoticePeriod(today)) {
		return fmt.Errorf("%w: employee is serving notice", ErrNotEligible)
	}
	e := r.Eligibility
	if e == nil {
		return nil
	}
	anchor := emp.JoinDate
	if e.Anchor == policy.AfterProbation && emp.ProbationEndDate != nil {
		anchor = *emp.ProbationEndDate
	}
	eligibleFrom := anchor.AddDays(e.AfterDays)
	if from.Before(eligibleFrom) {
		return fmt.Errorf("%w: eligible from %s (%s + %d days)", ErrNotEligible, eligibleFrom, e.Anchor, e.AfterDays)
	}
	return nil
}

func checkBackdating(from, today generic.TimePoint, app policy.ApplicationRules) error {
	if !from.Before(today) {
		return nil
	}
	if app.Backdated == nil {
		return fmt.Errorf("%w: %s is in the past", ErrBackdatingNotAllowed, from)
	}
	if limit := app.Backdated.MaxDays; limit != nil {
		if back := generic.DaysBetween(from, today); back > *limit {
			return fmt.Errorf("%w: %d days back, at most %d allowed", ErrBackdatingNotAllowed, back, *limit)
		}
	}
	return nil
}

// checkRestrictions runs the checks that depend on other requests.
func (l *Lifecycle) checkRestrictions(ctx context.Context, emp policy.Employee, req Request, count DayCount, rules policy.TypeRules) error {
	active, err := l.requests.ListRequests(ctx, RequestFilter{
		TenantID:   req.TenantID,
		EmployeeID: req.EmployeeID,
		Statuses:   ActiveStatuses,
	})
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	period := req.Period()
	var sameType []Request
	for _, other := range active {
		if other.Period().Overlaps(period) {
			return fmt.Errorf("%w: request %s covers %s", ErrOverlappingRequest, other.ID, other.Period())
		}
		if other.LeaveTypeID == req.LeaveTypeID {
			sameType = append(sameType, other)
		}
	}

	if limit := rules.Restriction.MaxConsecutiveDays; limit != nil {
		total := consecutiveDays(period, req.DaysRequested, sameType)
		if total.GreaterThan(*limit) {
			return &RestrictionError{Limit: "maxConsecutiveDays", Max: *limit, Actual: total}
		}
	}

	if limit := rules.Restriction.MaxMonthlyDays; limit != nil {
		perMonth := count.ByMonth()
		months := make(map[string]bool, len(perMonth))
		for m := range perMonth {
			months[m] = true
		}
		for _, other := range sameType {
			if !touchesMonths(other.Period(), months) {
				continue
			}
			oc, err := l.counter.Count(ctx, req.TenantID, emp.Location, Span{
				From: other.From, To: other.To, HalfDayStart: other.HalfDayStart, HalfDayEnd: other.HalfDayEnd,
			}, rules.Sandwich)
			if err != nil {
				return err
			}
			for m, d := range oc.ByMonth() {
				if months[m] {
					perMonth[m] = perMonth[m].Add(d)
				}
			}
		}
		for m, total := range perMonth {
			if total.GreaterThan(*limit) {
				return &RestrictionError{Limit: "maxMonthlyDays", Max: *limit, Actual: total, Window: m}
			}
		}
	}
	return nil
}

// consecutiveDays sums the days of the chain of requests adjacent to period.
func consecutiveDays(period generic.Period, days decimal.Decimal, others []Request) decimal.Decimal {
	chain := period
	total := days
	used := make([]bool, len(others))
	for grew := true; grew; {
		grew = false
		for i, o := range others {
			if used[i] || !o.Period().Touches(chain) {
				continue
			}
			used[i] = true
			grew = true
			total = total.Add(o.DaysRequested)
			if o.From.Before(chain.Start) {
				chain.Start = o.From
			}
			if o.To.After(chain.End) {
				chain.End = o.To
			}
		}
	}
	return total
}

func touchesMonths(p generic.Period, months map[string]bool) bool {
	for d := generic.StartOfMonth(p.Start.Year(), p.Start.Month()); d.BeforeOrEqual(p.End); d = d.AddMonths(1) {
		if months[d.MonthKey()] {
			return true
		}
	}
	return false
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a SUBMITTED request. The actor must be the employee, one
// of the resolved approvers, or the employee's HR manager.
func (l *Lifecycle) Cancel(ctx context.Context, tenantID string, id RequestID, actor generic.EntityID) (Result, error) {
	req, err := l.getRequest(ctx, tenantID, id)
	if err != nil {
		return Result{}, err
	}

	var bal Balance
	err = l.balances.WithRow(ctx, req.BalanceKey(), func(row *Row) error {
		cur, err := l.getRequest(ctx, tenantID, id)
		if err != nil {
			return err
		}
		req = cur
		if req.Status != StatusSubmitted {
			return fmt.Errorf("%w: cannot cancel a %s request", ErrInvalidTransition, req.Status)
		}
		if !l.canCancel(ctx, req, actor) {
			return fmt.Errorf("%w: %s may not cancel request %s", ErrNotAuthorized, actor, req.ID)
		}
		err = l.atomically(ctx, row, func(w RequestWriter) error {
			return l.commit(ctx, w, row, &req, StatusCancelled, actor)
		})
		if err != nil {
			return err
		}
		bal = row.Balance()
		return nil
	})
	if err != nil {
		l.logRejection("cancel", tenantID, actor, err)
		return Result{}, err
	}

	l.logger.Info("leave request cancelled",
		zap.String("tenant_id", tenantID),
		zap.String("request_id", string(id)),
		zap.String("actor_id", string(actor)))
	l.notify(ctx, EventCancelled, req, actor)
	return l.resultWith(ctx, req, bal)
}

func (l *Lifecycle) canCancel(ctx context.Context, req Request, actor generic.EntityID) bool {
	if actor == "" {
		return false
	}
	if actor == req.EmployeeID || IsApprover(req, actor) {
		return true
	}
	hr, err := l.directory.RoleHolder(ctx, req.TenantID, req.EmployeeID, RoleHRManager)
	return err == nil && hr != "" && hr == actor
}

// =============================================================================
// DECISIONS
// =============================================================================

// RecordDecision applies one approver decision. A rejection or the approval
// of the last level commits the request.
func (l *Lifecycle) RecordDecision(ctx context.Context, d Decision) (Result, error) {
	if d.IdempotencyKey != "" {
		if res, ok, err := l.replayDecision(ctx, d); ok || err != nil {
			return res, err
		}
	}
	req, err := l.getRequest(ctx, d.TenantID, d.RequestID)
	if err != nil {
		return Result{}, err
	}

	var (
		bal      Balance
		outcome  Outcome
		replayed *Result
	)
	err = l.balances.WithRow(ctx, req.BalanceKey(), func(row *Row) error {
		if d.IdempotencyKey != "" {
			res, ok, err := l.replayDecision(ctx, d)
			if err != nil {
				return err
			}
			if ok {
				replayed = &res
				return nil
			}
		}
		cur, err := l.getRequest(ctx, d.TenantID, d.RequestID)
		if err != nil {
			return err
		}
		req = cur

		approval, out, err := l.router.Decide(req, d, l.now())
		if err != nil {
			return err
		}
		outcome = out
		next := req
		err = l.atomically(ctx, row, func(w RequestWriter) error {
			if err := w.AppendApproval(ctx, approval); err != nil {
				return fmt.Errorf("append approval: %w", err)
			}
			switch out {
			case OutcomeAdvance:
				next.CurrentLevel = nextLevel(next, d.LevelOrder)
				next.UpdatedAt = l.now().UTC()
				if err := w.SaveRequest(ctx, next); err != nil {
					return fmt.Errorf("save request: %w", err)
				}
			case OutcomeApprove:
				return l.commit(ctx, w, row, &next, StatusApproved, d.ApproverID)
			case OutcomeReject:
				return l.commit(ctx, w, row, &next, StatusRejected, d.ApproverID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		req = next
		bal = row.Balance()
		return nil
	})
	if err != nil {
		l.logRejection("decision", d.TenantID, d.ApproverID, err)
		return Result{}, err
	}
	if replayed != nil {
		return *replayed, nil
	}

	l.logger.Info("approval decision recorded",
		zap.String("tenant_id", d.TenantID),
		zap.String("request_id", string(d.RequestID)),
		zap.Int("level", d.LevelOrder),
		zap.String("action", string(d.Action)),
		zap.String("status", string(req.Status)))
	switch outcome {
	case OutcomeApprove:
		l.notify(ctx, EventApproved, req, d.ApproverID)
	case OutcomeReject:
		l.notify(ctx, EventRejected, req, d.ApproverID)
	}
	return l.resultWith(ctx, req, bal)
}

func (l *Lifecycle) replayDecision(ctx context.Context, d Decision) (Result, bool, error) {
	prior, err := l.requests.FindApprovalByIdempotencyKey(ctx, d.TenantID, d.IdempotencyKey)
	if err != nil {
		return Result{}, false, err
	}
	if prior == nil {
		return Result{}, false, nil
	}
	if prior.RequestID != d.RequestID {
		return Result{}, false, fmt.Errorf("%w: idempotency key %q belongs to another request", ErrInvalidInput, d.IdempotencyKey)
	}
	req, err := l.getRequest(ctx, d.TenantID, prior.RequestID)
	if err != nil {
		return Result{}, false, err
	}
	res, err := l.result(ctx, req)
	return res, err == nil, err
}

// Finalize is the terminal commit path: APPROVED moves pending to used,
// REJECTED releases pending. A request can be finalized once.
func (l *Lifecycle) Finalize(ctx context.Context, tenantID string, id RequestID, action Action, actor generic.EntityID) (Result, error) {
	if !action.Valid() {
		return Result{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	status := StatusApproved
	if action == ActionRejected {
		status = StatusRejected
	}
	req, err := l.getRequest(ctx, tenantID, id)
	if err != nil {
		return Result{}, err
	}

	var bal Balance
	err = l.balances.WithRow(ctx, req.BalanceKey(), func(row *Row) error {
		cur, err := l.getRequest(ctx, tenantID, id)
		if err != nil {
			return err
		}
		req = cur
		err = l.atomically(ctx, row, func(w RequestWriter) error {
			return l.commit(ctx, w, row, &req, status, actor)
		})
		if err != nil {
			return err
		}
		bal = row.Balance()
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	ev := EventApproved
	if status == StatusRejected {
		ev = EventRejected
	}
	l.notify(ctx, ev, req, actor)
	return l.resultWith(ctx, req, bal)
}

// commit moves the request to a terminal status and writes the matching
// ledger batch. The caller holds the row lock.
func (l *Lifecycle) commit(ctx context.Context, w RequestWriter, row *Row, req *Request, status Status, actor generic.EntityID) error {
	if req.Status.IsTerminal() {
		return fmt.Errorf("%w: request %s is %s", ErrAlreadyFinalized, req.ID, req.Status)
	}
	e := Entry{
		ReferenceID: string(req.ID),
		CreatedBy:   string(actor),
		EffectiveAt: req.From,
	}
	var err error
	switch status {
	case StatusApproved:
		e.Reason = "leave request approved"
		e.IdempotencyKey = ledgerKey(req.ID, "consume")
		err = row.Consume(req.DaysRequested, e)
	case StatusRejected, StatusCancelled:
		e.Reason = "leave request " + strings.ToLower(string(status))
		e.IdempotencyKey = ledgerKey(req.ID, "release")
		err = row.Release(req.DaysRequested, e)
	default:
		return fmt.Errorf("%w: %s is not a terminal status", ErrInvalidTransition, status)
	}
	if err != nil {
		return err
	}

	now := l.now().UTC()
	req.Status = status
	req.CurrentLevel = 0
	req.UpdatedAt = now
	req.DecidedAt = &now
	if err := w.SaveRequest(ctx, *req); err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// atomically runs the writes of one step in a single store transaction.
// Without a TxStore the writes go straight to the stores.
func (l *Lifecycle) atomically(ctx context.Context, row *Row, fn func(RequestWriter) error) error {
	if l.tx == nil {
		return fn(l.requests)
	}
	return row.atomically(ctx, l.tx, fn)
}

// =============================================================================
// READS
// =============================================================================

func (l *Lifecycle) GetRequest(ctx context.Context, tenantID string, id RequestID) (Result, error) {
	req, err := l.getRequest(ctx, tenantID, id)
	if err != nil {
		return Result{}, err
	}
	return l.result(ctx, req)
}

func (l *Lifecycle) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	return l.requests.ListRequests(ctx, f)
}

// Balance returns the balance row of an employee's leave type for a year.
func (l *Lifecycle) Balance(ctx context.Context, tenantID string, employeeID generic.EntityID, leaveTypeID policy.LeaveTypeID, year int) (Balance, error) {
	return l.balances.Snapshot(ctx, generic.BalanceKey{
		TenantID:   tenantID,
		EntityID:   employeeID,
		ResourceID: string(leaveTypeID),
		Year:       year,
	})
}

func (l *Lifecycle) getRequest(ctx context.Context, tenantID string, id RequestID) (Request, error) {
	req, err := l.requests.GetRequest(ctx, tenantID, id)
	if err != nil {
		return Request{}, err
	}
	if req == nil {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return *req, nil
}

func (l *Lifecycle) result(ctx context.Context, req Request) (Result, error) {
	bal, err := l.balances.Snapshot(ctx, req.BalanceKey())
	if err != nil {
		return Result{}, err
	}
	return l.resultWith(ctx, req, bal)
}

func (l *Lifecycle) resultWith(ctx context.Context, req Request, bal Balance) (Result, error) {
	approvals, err := l.requests.ListApprovals(ctx, req.TenantID, req.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list approvals: %w", err)
	}
	return Result{Request: req, Balance: bal, Approvals: approvals}, nil
}

func (l *Lifecycle) notify(ctx context.Context, t EventType, req Request, actor generic.EntityID) {
	l.notifier.Notify(ctx, Event{Type: t, Request: req, ActorID: actor, At: l.now().UTC()})
}

// logRejection logs consistency faults loudly and client errors quietly.
func (l *Lifecycle) logRejection(op, tenantID string, actor generic.EntityID, err error) {
	kind := Classify(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("tenant_id", tenantID),
		zap.String("actor_id", string(actor)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if (kind == KindConsistency || kind == KindInternal) && !errors.Is(err, context.Canceled) {
		l.logger.Error("leave operation failed", fields...)
		return
	}
	l.logger.Debug("leave operation rejected", fields...)
}

func ledgerKey(id RequestID, step string) string {
	return fmt.Sprintf("request:%s:%s", id, step)
}
