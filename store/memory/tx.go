package memory

import (
	"context"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// TRANSACTIONS (leave.TxStore)
// =============================================================================

// WithTx runs fn under the store lock. Writes go straight to the maps; an
// error from fn restores the ledger, requests and approvals from a snapshot
// taken before fn ran.
func (m *Store) WithTx(_ context.Context, fn func(leave.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	transactions map[generic.BalanceKey][]generic.Transaction
	idempotency  map[string]bool
	requests     map[leave.RequestID]leave.Request
	requestOrder []leave.RequestID
	approvals    map[leave.RequestID][]leave.Approval
}

func (m *Store) snapshot() snapshot {
	s := snapshot{
		transactions: make(map[generic.BalanceKey][]generic.Transaction, len(m.transactions)),
		idempotency:  make(map[string]bool, len(m.idempotency)),
		requests:     make(map[leave.RequestID]leave.Request, len(m.requests)),
		requestOrder: append([]leave.RequestID(nil), m.requestOrder...),
		approvals:    make(map[leave.RequestID][]leave.Approval, len(m.approvals)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]generic.Transaction(nil), v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	for k, v := range m.approvals {
		s.approvals[k] = append([]leave.Approval(nil), v...)
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.transactions = s.transactions
	m.idempotency = s.idempotency
	m.requests = s.requests
	m.requestOrder = s.requestOrder
	m.approvals = s.approvals
}

// txView writes through to the store while WithTx holds its lock.
type txView struct {
	m *Store
}

func (v *txView) Append(_ context.Context, tx generic.Transaction) error {
	return v.m.appendBatch([]generic.Transaction{tx})
}

func (v *txView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return v.m.appendBatch(txs)
}

func (v *txView) Load(_ context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	return v.m.load(key), nil
}

func (v *txView) Keys(_ context.Context, tenantID string, year int) ([]generic.BalanceKey, error) {
	return v.m.keys(tenantID, year), nil
}

func (v *txView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.m.idempotency[idempotencyKey], nil
}

func (v *txView) SaveRequest(_ context.Context, r leave.Request) error {
	return v.m.saveRequest(r)
}

func (v *txView) AppendApproval(_ context.Context, a leave.Approval) error {
	return v.m.appendApproval(a)
}
