/*
yearend.go - Year-end processing

PURPOSE:
  Closes a tenant's accrual year. For every balance row of the year the
  leftover (allocated - used) is settled per the type's year-end rules and
  the next year is opened.

PER ROW:
  1. Processed marker set?      -> no-op
  2. pending != 0?              -> error-logged, skipped (no marker)
  3. leftover > 0, positive action:
       EXPIRE_OR_RESET          reconcile -leftover
       PAY_OUT                  payroll PAYOUT, reconcile -leftover
       CARRY_FORWARD            reconcile -leftover, next year +leftover
                                tagged to expire on Jan 1 + expiryDays
  4. leftover < 0, negative policy:
       NULLIFY                  reconcile +|leftover|
       DEDUCT_FROM_SALARY       payroll DEDUCTION, reconcile +|leftover|
       CARRY_FORWARD_NEGATIVE   reconcile +|leftover|, next year -|leftover|
  5. Seed next-year accrual, set the marker

CONCURRENCY:
  One run per (tenant, year) at a time; a second gets ErrYearEndInProgress.
  Rows fan out over a bounded errgroup. A row is held under its lock, and
  the next-year row is locked after it (always ascending year).

IDEMPOTENCY:
  Ledger writes carry "yearend:<row>:<step>" keys, payroll records carry
  the same reference, and the marker guards the whole row. A crash between
  the ledger writes and the marker leaves a row whose leftover is zero, so
  the rerun settles nothing twice.

CARRY-FORWARD EXPIRY:
  ExpireCarryForward removes carried days not drawn by their expiry date.
  Carried days are drawn first (used + pending, in grant order).
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultYearEndWorkers = 4

type OutcomeStatus string

const (
	OutcomeProcessed        OutcomeStatus = "processed"
	OutcomeAlreadyProcessed OutcomeStatus = "already_processed"
	OutcomeSkippedPending   OutcomeStatus = "skipped_pending"
	OutcomeFailed           OutcomeStatus = "failed"
)

// YearEndOutcome is the result of closing one balance row.
type YearEndOutcome struct {
	Key       generic.BalanceKey
	Status    OutcomeStatus
	Action    string
	Leftover  decimal.Decimal
	Carried   decimal.Decimal
	ExpiresOn *generic.TimePoint
	Expired   decimal.Decimal
	PaidOut   decimal.Decimal
	Deducted  decimal.Decimal
	Nullified decimal.Decimal
	Error     string
}

type YearEndReport struct {
	TenantID         string
	Year             int
	Processed        int
	AlreadyProcessed int
	Skipped          int
	Failed           int
	Carried          decimal.Decimal
	Expired          decimal.Decimal
	PaidOut          decimal.Decimal
	Deducted         decimal.Decimal
	Nullified        decimal.Decimal
	Rows             []YearEndOutcome
}

func (r *YearEndReport) add(o YearEndOutcome) {
	switch o.Status {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeAlreadyProcessed:
		r.AlreadyProcessed++
	case OutcomeSkippedPending:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Carried = r.Carried.Add(o.Carried)
	r.Expired = r.Expired.Add(o.Expired)
	r.PaidOut = r.PaidOut.Add(o.PaidOut)
	r.Deducted = r.Deducted.Add(o.Deducted)
	r.Nullified = r.Nullified.Add(o.Nullified)
	r.Rows = append(r.Rows, o)
}

type YearEndDeps struct {
	Catalog   *policy.Catalog
	Balances  *BalanceLedger
	Marks     YearEndStore
	Directory Directory
	Accruals  *Accruals
	Payroll   Payroll
	Logger    *zap.Logger
	// Workers bounds the row fan-out (default 4).
	Workers int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type YearEndProcessor struct {
	catalog   *policy.Catalog
	balances  *BalanceLedger
	marks     YearEndStore
	directory Directory
	accruals  *Accruals
	payroll   Payroll
	logger    *zap.Logger
	workers   int
	now       func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

func NewYearEndProcessor(d YearEndDeps) *YearEndProcessor {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := d.Workers
	if workers <= 0 {
		workers = defaultYearEndWorkers
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &YearEndProcessor{
		catalog:   d.Catalog,
		balances:  d.Balances,
		marks:     d.Marks,
		directory: d.Directory,
		accruals:  d.Accruals,
		payroll:   d.Payroll,
		logger:    logger.With(zap.String("component", "year_end")),
		workers:   workers,
		now:       now,
		running:   make(map[string]bool),
	}
}

// RunForTenant closes every balance row of the tenant's year.
func (p *YearEndProcessor) RunForTenant(ctx context.Context, tenantID string, year int) (YearEndReport, error) {
	rep := YearEndReport{TenantID: tenantID, Year: year}
	if tenantID == "" || year <= 0 {
		return rep, fmt.Errorf("%w: tenant and year are required", ErrInvalidInput)
	}

	runKey := fmt.Sprintf("%s/%d", tenantID, year)
	p.mu.Lock()
	if p.running[runKey] {
		p.mu.Unlock()
		return rep, fmt.Errorf("%w: %s", ErrYearEndInProgress, runKey)
	}
	p.running[runKey] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, runKey)
		p.mu.Unlock()
	}()

	keys, err := p.balances.Keys(ctx, tenantID, year)
	if err != nil {
		return rep, fmt.Errorf("list balance rows: %w", err)
	}
	p.logger.Info("year-end started",
		zap.String("tenant_id", tenantID),
		zap.Int("year", year),
		zap.Int("rows", len(keys)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, key := range keys {
		g.Go(func() error {
			out, err := p.processRow(gctx, key)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out = YearEndOutcome{Key: key, Status: OutcomeFailed, Error: err.Error()}
				p.logger.Error("year-end row failed",
					zap.String("balance", key.String()),
					zap.Error(err))
			}
			mu.Lock()
			rep.add(out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	p.logger.Info("year-end finished",
		zap.String("tenant_id", tenantID),
		zap.Int("year", year),
		zap.Int("processed", rep.Processed),
		zap.Int("already_processed", rep.AlreadyProcessed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed))
	return rep, nil
}

func (p *YearEndProcessor) processRow(ctx context.Context, key generic.BalanceKey) (YearEndOutcome, error) {
	out := YearEndOutcome{Key: key}

	done, err := p.marks.IsYearEndProcessed(ctx, key)
	if err != nil {
		return out, err
	}
	if done {
		out.Status = OutcomeAlreadyProcessed
		return out, nil
	}

	emp, err := p.directory.Employee(ctx, key.TenantID, key.EntityID)
	if err != nil {
		return out, err
	}
	leaveTypeID := policy.LeaveTypeID(key.ResourceID)
	rules, _, err := p.catalog.ResolveTypeRules(ctx, emp, leaveTypeID)
	if err != nil {
		return out, err
	}
	lt, err := p.catalog.GetLeaveType(ctx, key.TenantID, leaveTypeID)
	if err != nil {
		return out, err
	}

	err = p.balances.WithRow(ctx, key, func(row *Row) error {
		t := row.Totals()
		if !t.Pending.IsZero() {
			out.Status = OutcomeSkippedPending
			p.logger.Error("year-end skipped row with unresolved requests",
				zap.String("balance", key.String()),
				zap.String("pending", t.Pending.String()))
			return nil
		}
		out.Status = OutcomeProcessed
		out.Leftover = t.Allocated.Sub(t.Used)
		if rules.IsUnlimited() {
			out.Action = "NONE"
			return nil
		}
		return p.settle(ctx, row, rules, lt, &out)
	})
	if err != nil || out.Status != OutcomeProcessed {
		return out, err
	}

	if p.accruals != nil {
		asOf := generic.StartOfYear(key.Year + 1)
		if today := generic.DateOf(p.now()); today.After(asOf) {
			asOf = today
		}
		if _, err := p.accruals.Seed(ctx, emp, leaveTypeID, key.Year+1, asOf); err != nil && !errors.Is(err, policy.ErrPolicyNotFound) {
			return out, fmt.Errorf("seed %d accrual: %w", key.Year+1, err)
		}
	}

	if err := p.marks.MarkYearEndProcessed(ctx, key, out); err != nil {
		return out, fmt.Errorf("mark processed: %w", err)
	}
	return out, nil
}

// settle applies the year-end action to a locked row.
func (p *YearEndProcessor) settle(ctx context.Context, row *Row, rules policy.TypeRules, lt policy.LeaveType, out *YearEndOutcome) error {
	key := row.Key()
	leftover := out.Leftover
	entry := func(step, action string) Entry {
		return Entry{
			ReferenceID:    string(rules.ID),
			Reason:         fmt.Sprintf("year-end %d: %s", key.Year, action),
			IdempotencyKey: fmt.Sprintf("yearend:%s:%s", key, step),
			CreatedBy:      "system",
			EffectiveAt:    generic.EndOfYear(key.Year),
			Metadata:       map[string]string{metaKind: kindYearEnd, metaAction: action},
		}
	}
	emit := func(kind PayrollRecordKind, days decimal.Decimal) error {
		if p.payroll == nil {
			return fmt.Errorf("no payroll collaborator configured for %s", kind)
		}
		return p.payroll.Emit(ctx, PayrollRecord{
			Reference:     fmt.Sprintf("yearend:%s:%s", key, kind),
			TenantID:      key.TenantID,
			EmployeeID:    key.EntityID,
			LeaveTypeID:   lt.ID,
			LeaveTypeCode: lt.Code,
			IsPaid:        lt.IsPaid,
			Year:          key.Year,
			Kind:          kind,
			Days:          days,
			CreatedAt:     p.now().UTC(),
		})
	}

	switch {
	case leftover.IsPositive():
		action := rules.YearEnd.Positive.ActionType()
		out.Action = string(action)
		switch a := rules.YearEnd.Positive.(type) {
		case policy.ExpireOrReset:
			if err := row.Reconcile(leftover.Neg(), entry("close", out.Action)); err != nil {
				return err
			}
			out.Expired = leftover
		case policy.PayOut:
			if err := emit(PayrollPayout, leftover); err != nil {
				return fmt.Errorf("emit payout: %w", err)
			}
			if err := row.Reconcile(leftover.Neg(), entry("close", out.Action)); err != nil {
				return err
			}
			out.PaidOut = leftover
		case policy.CarryForward:
			if err := row.Reconcile(leftover.Neg(), entry("close", out.Action)); err != nil {
				return err
			}
			carry := entry("carry", out.Action)
			carry.Reason = fmt.Sprintf("carried forward from %d", key.Year)
			carry.EffectiveAt = generic.StartOfYear(key.Year + 1)
			carry.Metadata = map[string]string{
				metaKind:     kindCarryForward,
				metaFromYear: fmt.Sprint(key.Year),
			}
			if a.ExpiryDays != nil {
				exp := generic.StartOfYear(key.Year + 1).AddDays(*a.ExpiryDays)
				carry.Metadata[metaExpiresOn] = exp.String()
				out.ExpiresOn = &exp
			}
			if err := p.balances.WithRow(ctx, key.Next(), func(next *Row) error {
				return next.Reconcile(leftover, carry)
			}); err != nil {
				return fmt.Errorf("carry into %d: %w", key.Year+1, err)
			}
			out.Carried = leftover
		}

	case leftover.IsNegative():
		deficit := leftover.Neg()
		out.Action = string(rules.YearEnd.Negative)
		switch rules.YearEnd.Negative {
		case policy.Nullify:
			if err := row.Reconcile(deficit, entry("close", out.Action)); err != nil {
				return err
			}
			out.Nullified = deficit
		case policy.DeductFromSalary:
			if err := emit(PayrollDeduction, deficit); err != nil {
				return fmt.Errorf("emit deduction: %w", err)
			}
			if err := row.Reconcile(deficit, entry("close", out.Action)); err != nil {
				return err
			}
			out.Deducted = deficit
		case policy.CarryForwardNegative:
			if err := row.Reconcile(deficit, entry("close", out.Action)); err != nil {
				return err
			}
			carry := entry("carry", out.Action)
			carry.Reason = fmt.Sprintf("negative balance carried from %d", key.Year)
			carry.EffectiveAt = generic.StartOfYear(key.Year + 1)
			carry.AllowNegative = true
			if err := p.balances.WithRow(ctx, key.Next(), func(next *Row) error {
				return next.Reconcile(leftover, carry)
			}); err != nil {
				return fmt.Errorf("carry into %d: %w", key.Year+1, err)
			}
			out.Carried = leftover
		}

	default:
		out.Action = "NONE"
	}

	p.logger.Info("year-end row settled",
		zap.String("balance", key.String()),
		zap.String("action", out.Action),
		zap.String("leftover", leftover.String()))
	return nil
}

// =============================================================================
// CARRY-FORWARD EXPIRY
// =============================================================================

type ExpiryReport struct {
	TenantID string
	AsOf     generic.TimePoint
	Rows     int
	Grants   int
	Expired  decimal.Decimal
}

// ExpireCarryForward removes the undrawn part of every carried grant of
// asOf's year whose expiry date is on or before asOf.
func (p *YearEndProcessor) ExpireCarryForward(ctx context.Context, tenantID string, asOf generic.TimePoint) (ExpiryReport, error) {
	rep := ExpiryReport{TenantID: tenantID, AsOf: asOf}
	keys, err := p.balances.Keys(ctx, tenantID, asOf.Year())
	if err != nil {
		return rep, fmt.Errorf("list balance rows: %w", err)
	}
	for _, key := range keys {
		var touched bool
		err := p.balances.WithRow(ctx, key, func(row *Row) error {
			for _, exp := range dueExpiries(row.Balance(), row.Totals(), asOf) {
				err := row.Reconcile(exp.days.Neg(), Entry{
					ReferenceID:    string(exp.grant),
					Reason:         "carried days expired",
					IdempotencyKey: fmt.Sprintf("carry-expiry:%s", exp.grant),
					CreatedBy:      "system",
					EffectiveAt:    exp.on,
					Metadata: map[string]string{
						metaKind:  kindCarryForwardExpiry,
						metaGrant: string(exp.grant),
					},
				})
				if err != nil {
					return err
				}
				touched = true
				rep.Grants++
				rep.Expired = rep.Expired.Add(exp.days)
			}
			return nil
		})
		if err != nil {
			return rep, fmt.Errorf("expire %s: %w", key, err)
		}
		if touched {
			rep.Rows++
		}
	}
	if rep.Grants > 0 {
		p.logger.Info("carried days expired",
			zap.String("tenant_id", tenantID),
			zap.String("as_of", asOf.String()),
			zap.Int("grants", rep.Grants),
			zap.String("days", rep.Expired.String()))
	}
	return rep, nil
}

type expiry struct {
	grant generic.TransactionID
	days  decimal.Decimal
	on    generic.TimePoint
}

// dueExpiries draws used+pending from the carried grants in order and
// returns the undrawn remainder of each grant that has expired.
func dueExpiries(b Balance, t generic.Totals, asOf generic.TimePoint) []expiry {
	pool := t.Used.Add(t.Pending)
	var out []expiry
	for _, g := range b.CarryForward {
		drawn := decimal.Min(g.Days, pool)
		if drawn.IsNegative() {
			drawn = decimal.Zero
		}
		pool = pool.Sub(drawn)

		if g.ExpiresOn == nil || asOf.Before(*g.ExpiresOn) || !g.ExpiredDays.IsZero() {
			continue
		}
		if undrawn := g.Days.Sub(drawn); undrawn.IsPositive() {
			out = append(out, expiry{grant: g.TransactionID, days: undrawn, on: *g.ExpiresOn})
		}
	}
	return out
}
