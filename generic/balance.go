package generic

import "github.com/shopspring/decimal"

// =============================================================================
// TOTALS - Folded state of a balance row
// =============================================================================

// Totals is the fold of every transaction on a balance row.
// Available is derived and never stored.
type Totals struct {
	Allocated decimal.Decimal
	Used      decimal.Decimal
	Pending   decimal.Decimal
}

// Tally folds transactions into totals.
func Tally(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		t = t.Apply(tx)
	}
	return t
}

// Apply returns the totals after one transaction.
func (t Totals) Apply(tx Transaction) Totals {
	switch tx.Type.Column() {
	case ColumnPending:
		t.Pending = t.Pending.Add(tx.Delta.Value)
	case ColumnUsed:
		t.Used = t.Used.Add(tx.Delta.Value)
	default:
		t.Allocated = t.Allocated.Add(tx.Delta.Value)
	}
	return t
}

func (t Totals) Available() decimal.Decimal {
	return t.Allocated.Sub(t.Used).Sub(t.Pending)
}

// Overdraw is how far used+pending exceeds the allocation (zero if not).
func (t Totals) Overdraw() decimal.Decimal {
	over := t.Used.Add(t.Pending).Sub(t.Allocated)
	if over.IsNegative() {
		return decimal.Zero
	}
	return over
}
