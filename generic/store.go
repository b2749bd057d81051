package generic

import "context"

// =============================================================================
// STORE - Low-level transaction persistence
// =============================================================================

// Store persists ledger transactions. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch writes all transactions or none.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns the transactions of one balance row in append order.
	Load(ctx context.Context, key BalanceKey) ([]Transaction, error)

	// Keys returns every balance row with at least one transaction.
	Keys(ctx context.Context, tenantID string, year int) ([]BalanceKey, error)

	// Exists reports whether an idempotency key has been written.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
