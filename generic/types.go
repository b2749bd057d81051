/*
Package generic provides the ledger primitives the leave engine is built on.

PURPOSE:
  Domain-agnostic types for tracking day-denominated balances: amounts,
  balance keys, and the immutable transactions that move a balance row.
  The leave package gives these meaning (allocation, reservation,
  consumption, year-end reconciliation).

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a decimal quantity with a unit (always days in this system)
  - BalanceKey: one balance row (tenant, entity, resource, year)
  - Transaction: an immutable ledger entry with a signed delta
  - Column: which total of the row a transaction moves

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only offset
  2. Precision: decimal.Decimal, so 0.5-day steps never drift
  3. Auditability: every transaction has reason, reference and idempotency key

USAGE:
  tx := generic.Transaction{
      Key:   generic.BalanceKey{TenantID: "acme", EntityID: "emp-1", ResourceID: "annual", Year: 2024},
      Type:  generic.TxPending,
      Delta: generic.Days(5),
  }

SEE ALSO:
  - balance.go: folding transactions into totals
  - ledger.go: append-only persistence interface
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// Days is shorthand for a day amount.
func Days(value float64) Amount { return NewAmount(value, UnitDays) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return fmt.Sprintf("%s %s", a.Value.String(), a.Unit) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// BalanceKey identifies one balance row: a single entity's single resource
// in a single accrual year.
type BalanceKey struct {
	TenantID   string
	EntityID   EntityID
	ResourceID string
	Year       int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.TenantID, k.EntityID, k.ResourceID, k.Year)
}

// Next returns the same row in the following year.
func (k BalanceKey) Next() BalanceKey {
	k.Year++
	return k
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxGrant          TransactionType = "grant"          // Accrual or manual allocation
	TxAdjustment     TransactionType = "adjustment"     // Admin correction to allocation
	TxReconciliation TransactionType = "reconciliation" // Year-end expiry, payout, carry-forward
	TxPending        TransactionType = "pending"        // Reservation (+) or release (-)
	TxConsumption    TransactionType = "consumption"    // Approved usage
)

// Column is the balance total a transaction type moves.
type Column int

const (
	ColumnAllocated Column = iota
	ColumnPending
	ColumnUsed
)

func (t TransactionType) Column() Column {
	switch t {
	case TxPending:
		return ColumnPending
	case TxConsumption:
		return ColumnUsed
	default:
		return ColumnAllocated
	}
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxGrant, TxAdjustment, TxReconciliation, TxPending, TxConsumption:
		return true
	}
	return false
}

type Transaction struct {
	ID             TransactionID
	Key            BalanceKey
	Type           TransactionType
	Delta          Amount
	EffectiveAt    TimePoint
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt TimePoint
}

// Validate checks the shape of a transaction before it is persisted.
func (tx Transaction) Validate() error {
	if tx.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if tx.Key.EntityID == "" || tx.Key.ResourceID == "" || tx.Key.Year == 0 {
		return &ValidationError{Field: "key", Message: "entity, resource and year are required"}
	}
	if !tx.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", tx.Type)}
	}
	return nil
}

// Meta returns a metadata value or "".
func (tx Transaction) Meta(name string) string {
	if tx.Metadata == nil {
		return ""
	}
	return tx.Metadata[name]
}

// ValidationError reports a malformed transaction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }
