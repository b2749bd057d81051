/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the source of truth for every balance change: allocations,
  reservations, releases, consumptions and year-end reconciliation. A balance
  row is always the fold of its transactions; there is no separate stored
  balance that could drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified.
  3. IDEMPOTENT: An idempotency key can be written once.

CORRECTIONS:
  A mistake is offset by a transaction of opposite sign on the same column.
  Both stay in the ledger.

EXAMPLE FLOW (one request, approved):
  1. Allocation:        grant       +12  (allocated 12)
  2. Request submitted: pending     +5   (pending 5, available 7)
  3. Request approved:  pending     -5
                        consumption +5   (used 5, available 7)

SEE ALSO:
  - store.go: Low-level persistence interface
  - leave/balance.go: Per-row locking and invariant checks
*/
package generic

import "context"

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Append adds a transaction. Fails if the idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions of a balance row in append order.
	Transactions(ctx context.Context, key BalanceKey) ([]Transaction, error)

	// Keys lists the balance rows a tenant has for a year.
	Keys(ctx context.Context, tenantID string, year int) ([]BalanceKey, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	return l.AppendBatch(ctx, []Transaction{tx})
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, key BalanceKey) ([]Transaction, error) {
	return l.Store.Load(ctx, key)
}

func (l *DefaultLedger) Keys(ctx context.Context, tenantID string, year int) ([]BalanceKey, error) {
	return l.Store.Keys(ctx, tenantID, year)
}
