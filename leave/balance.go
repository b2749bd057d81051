package leave

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// BALANCE LEDGER - Per-row locked balances over the append-only ledger
// =============================================================================
//
// A balance row is (tenant, employee, leave type, year). Every mutation is a
// batch of signed-delta transactions applied while holding the row lock, so
// validation and reservation on the same row never interleave. Different
// rows proceed in parallel.

// Transaction metadata keys and kinds.
const (
	metaKind      = "kind"
	metaFromYear  = "from_year"
	metaExpiresOn = "expires_on"
	metaGrant     = "grant"
	metaAction    = "action"

	kindAccrual            = "accrual"
	kindCarryForward       = "carry_forward"
	kindCarryForwardExpiry = "carry_forward_expiry"
	kindYearEnd            = "year_end"
)

type BalanceLedger struct {
	ledger generic.Ledger
	locks  *rowLocks
	now    func() time.Time
}

func NewBalanceLedger(ledger generic.Ledger) *BalanceLedger {
	return &BalanceLedger{
		ledger: ledger,
		locks:  &rowLocks{rows: make(map[generic.BalanceKey]*rowLock)},
		now:    time.Now,
	}
}

// Entry carries the descriptive fields of a mutation.
type Entry struct {
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	CreatedBy      string
	Metadata       map[string]string
	EffectiveAt    generic.TimePoint
	// AllowNegative lets the mutation grow used+pending past the allocation.
	AllowNegative bool
}

// WithRow runs fn while holding the lock of one balance row.
func (b *BalanceLedger) WithRow(ctx context.Context, key generic.BalanceKey, fn func(*Row) error) error {
	release, err := b.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	txs, err := b.ledger.Transactions(ctx, key)
	if err != nil {
		return fmt.Errorf("load balance %s: %w", key, err)
	}
	row := &Row{ctx: ctx, key: key, txs: txs, totals: generic.Tally(txs), owner: b}
	return fn(row)
}

// Snapshot reads a balance row without locking it.
func (b *BalanceLedger) Snapshot(ctx context.Context, key generic.BalanceKey) (Balance, error) {
	txs, err := b.ledger.Transactions(ctx, key)
	if err != nil {
		return Balance{}, fmt.Errorf("load balance %s: %w", key, err)
	}
	return balanceOf(key, txs), nil
}

// Keys lists the balance rows of a tenant's year.
func (b *BalanceLedger) Keys(ctx context.Context, tenantID string, year int) ([]generic.BalanceKey, error) {
	return b.ledger.Keys(ctx, tenantID, year)
}

// Transactions returns the raw history of a row.
func (b *BalanceLedger) Transactions(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	return b.ledger.Transactions(ctx, key)
}

func (b *BalanceLedger) Allocate(ctx context.Context, key generic.BalanceKey, days decimal.Decimal, e Entry) (Balance, error) {
	return b.mutate(ctx, key, func(r *Row) error { return r.Allocate(days, e) })
}

func (b *BalanceLedger) Reserve(ctx context.Context, key generic.BalanceKey, days decimal.Decimal, e Entry) (Balance, error) {
	return b.mutate(ctx, key, func(r *Row) error { return r.Reserve(days, e) })
}

func (b *BalanceLedger) Release(ctx context.Context, key generic.BalanceKey, days decimal.Decimal, e Entry) (Balance, error) {
	return b.mutate(ctx, key, func(r *Row) error { return r.Release(days, e) })
}

func (b *BalanceLedger) Consume(ctx context.Context, key generic.BalanceKey, days decimal.Decimal, e Entry) (Balance, error) {
	return b.mutate(ctx, key, func(r *Row) error { return r.Consume(days, e) })
}

func (b *BalanceLedger) mutate(ctx context.Context, key generic.BalanceKey, fn func(*Row) error) (Balance, error) {
	var out Balance
	err := b.WithRow(ctx, key, func(r *Row) error {
		if err := fn(r); err != nil {
			return err
		}
		out = r.Balance()
		return nil
	})
	return out, err
}

// =============================================================================
// ROW - A locked balance row
// =============================================================================

type Row struct {
	ctx    context.Context
	key    generic.BalanceKey
	txs    []generic.Transaction
	totals generic.Totals
	owner  *BalanceLedger
	// sink replaces owner.ledger while the row takes part in a store
	// transaction.
	sink generic.Ledger
}

func (r *Row) Key() generic.BalanceKey    { return r.key }
func (r *Row) Totals() generic.Totals     { return r.totals }
func (r *Row) Balance() Balance           { return balanceOf(r.key, r.txs) }
func (r *Row) Available() decimal.Decimal { return r.totals.Available() }

// HasIdempotencyKey reports whether the row already holds a transaction
// written under the key.
func (r *Row) HasIdempotencyKey(k string) bool {
	if k == "" {
		return false
	}
	for _, tx := range r.txs {
		if tx.IdempotencyKey == k {
			return true
		}
	}
	return false
}

// Allocate grants days (negative removes them).
func (r *Row) Allocate(days decimal.Decimal, e Entry) error {
	return r.apply(e.AllowNegative, r.tx(generic.TxGrant, days, e))
}

// Reconcile records a year-end adjustment of the allocation.
func (r *Row) Reconcile(days decimal.Decimal, e Entry) error {
	return r.apply(e.AllowNegative, r.tx(generic.TxReconciliation, days, e))
}

// Reserve moves days into pending.
func (r *Row) Reserve(days decimal.Decimal, e Entry) error {
	if !days.IsPositive() {
		return fmt.Errorf("%w: reserve amount must be positive", ErrInvalidInput)
	}
	return r.apply(e.AllowNegative, r.tx(generic.TxPending, days, e))
}

// Release returns pending days to available.
func (r *Row) Release(days decimal.Decimal, e Entry) error {
	return r.apply(true, r.tx(generic.TxPending, days.Neg(), e))
}

// Consume converts pending days into used days.
func (r *Row) Consume(days decimal.Decimal, e Entry) error {
	release := r.tx(generic.TxPending, days.Neg(), e)
	use := r.tx(generic.TxConsumption, days, e)
	if e.IdempotencyKey != "" {
		release.IdempotencyKey = e.IdempotencyKey + ":release"
	}
	return r.apply(true, release, use)
}

func (r *Row) tx(t generic.TransactionType, days decimal.Decimal, e Entry) generic.Transaction {
	now := r.owner.now()
	effective := e.EffectiveAt
	if effective.IsZero() {
		effective = generic.DateOf(now)
	}
	return generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		Key:            r.key,
		Type:           t,
		Delta:          generic.NewAmountFromDecimal(days, generic.UnitDays),
		EffectiveAt:    effective,
		ReferenceID:    e.ReferenceID,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		Metadata:       e.Metadata,
		CreatedBy:      e.CreatedBy,
		CreatedAt:      generic.DateOf(now),
	}
}

// apply checks the invariants on the would-be totals, then appends.
// Transactions whose idempotency key the row already holds are skipped.
func (r *Row) apply(allowNegative bool, txs ...generic.Transaction) error {
	var pending []generic.Transaction
	for _, tx := range txs {
		if r.HasIdempotencyKey(tx.IdempotencyKey) {
			continue
		}
		pending = append(pending, tx)
	}
	if len(pending) == 0 {
		return nil
	}

	before := r.totals
	after := before
	for _, tx := range pending {
		after = after.Apply(tx)
	}

	fail := func(reason string) error {
		return &BalanceInvariantError{Key: r.key, Before: before, After: after, Reason: reason}
	}
	switch {
	case after.Pending.IsNegative():
		return fail("pending below zero")
	case after.Used.IsNegative():
		return fail("used below zero")
	case !allowNegative && after.Overdraw().GreaterThan(before.Overdraw()):
		return fail("used + pending exceeds allocation")
	}

	sink := r.owner.ledger
	if r.sink != nil {
		sink = r.sink
	}
	if err := sink.AppendBatch(r.ctx, pending); err != nil {
		return fmt.Errorf("append to %s: %w", r.key, err)
	}
	r.txs = append(r.txs, pending...)
	r.totals = after
	return nil
}

// atomically runs fn inside one store transaction with the row's ledger
// writes joining it. When fn fails the row drops what it appended, matching
// the rolled-back store.
func (r *Row) atomically(ctx context.Context, ts TxStore, fn func(RequestWriter) error) error {
	txs, totals := r.txs, r.totals
	err := ts.WithTx(ctx, func(tx Tx) error {
		r.sink = generic.NewLedger(tx)
		defer func() { r.sink = nil }()
		return fn(tx)
	})
	if err != nil {
		r.txs, r.totals = txs, totals
	}
	return err
}

// =============================================================================
// FOLDING
// =============================================================================

func balanceOf(key generic.BalanceKey, txs []generic.Transaction) Balance {
	t := generic.Tally(txs)
	b := Balance{
		TenantID:       key.TenantID,
		EmployeeID:     key.EntityID,
		LeaveTypeID:    policy.LeaveTypeID(key.ResourceID),
		Year:           key.Year,
		TotalAllocated: t.Allocated,
		Used:           t.Used,
		Pending:        t.Pending,
	}

	index := make(map[generic.TransactionID]int)
	for _, tx := range txs {
		if tx.Meta(metaKind) != kindCarryForward || !tx.Delta.IsPositive() {
			continue
		}
		g := CarryForwardGrant{TransactionID: tx.ID, Days: tx.Delta.Value}
		g.FromYear, _ = strconv.Atoi(tx.Meta(metaFromYear))
		if s := tx.Meta(metaExpiresOn); s != "" {
			if d, err := generic.ParseDate(s); err == nil {
				g.ExpiresOn = &d
			}
		}
		index[tx.ID] = len(b.CarryForward)
		b.CarryForward = append(b.CarryForward, g)
	}
	for _, tx := range txs {
		if tx.Meta(metaKind) != kindCarryForwardExpiry {
			continue
		}
		if i, ok := index[generic.TransactionID(tx.Meta(metaGrant))]; ok {
			b.CarryForward[i].ExpiredDays = b.CarryForward[i].ExpiredDays.Add(tx.Delta.Value.Neg())
		}
	}
	return b
}

// =============================================================================
// ROW LOCKS
// =============================================================================

type rowLocks struct {
	mu   sync.Mutex
	rows map[generic.BalanceKey]*rowLock
}

type rowLock struct {
	ch   chan struct{}
	refs int
}

// acquire blocks until the row is free or ctx is done.
func (l *rowLocks) acquire(ctx context.Context, key generic.BalanceKey) (func(), error) {
	l.mu.Lock()
	rl, ok := l.rows[key]
	if !ok {
		rl = &rowLock{ch: make(chan struct{}, 1)}
		l.rows[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.ch <- struct{}{}:
		return func() {
			<-rl.ch
			l.drop(key, rl)
		}, nil
	case <-ctx.Done():
		l.drop(key, rl)
		return nil, ctx.Err()
	}
}

func (l *rowLocks) drop(key generic.BalanceKey, rl *rowLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.rows, key)
	}
}
