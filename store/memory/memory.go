// Package memory provides in-memory implementations of every store the
// engine uses (for tests and local runs).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	// ledger
	transactions map[generic.BalanceKey][]generic.Transaction
	idempotency  map[string]bool

	// catalog
	leaveTypes map[policy.LeaveTypeID]policy.LeaveType
	policies   []policy.Policy // creation order
	rules      map[policy.RulesID]policy.TypeRules

	// requests
	requests     map[leave.RequestID]leave.Request
	requestOrder []leave.RequestID
	approvals    map[leave.RequestID][]leave.Approval
	yearEnd      map[generic.BalanceKey]leave.YearEndOutcome

	// directory + calendar
	employees  map[string]map[generic.EntityID]policy.Employee
	roles      map[roleKey]generic.EntityID
	holidays   []leave.Holiday
	weeklyOffs map[string][]time.Weekday // tenant/location
}

type roleKey struct {
	TenantID   string
	EmployeeID generic.EntityID
	Role       string
}

func New() *Store {
	return &Store{
		transactions: make(map[generic.BalanceKey][]generic.Transaction),
		idempotency:  make(map[string]bool),
		leaveTypes:   make(map[policy.LeaveTypeID]policy.LeaveType),
		rules:        make(map[policy.RulesID]policy.TypeRules),
		requests:     make(map[leave.RequestID]leave.Request),
		approvals:    make(map[leave.RequestID][]leave.Approval),
		yearEnd:      make(map[generic.BalanceKey]leave.YearEndOutcome),
		employees:    make(map[string]map[generic.EntityID]policy.Employee),
		roles:        make(map[roleKey]generic.EntityID),
		weeklyOffs:   make(map[string][]time.Weekday),
	}
}

// =============================================================================
// LEDGER (generic.Store)
// =============================================================================

func (m *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return m.AppendBatch(ctx, []generic.Transaction{tx})
}

// AppendBatch writes all transactions or none.
func (m *Store) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatch(txs)
}

func (m *Store) appendBatch(txs []generic.Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		m.transactions[tx.Key] = append(m.transactions[tx.Key], tx)
		if tx.IdempotencyKey != "" {
			m.idempotency[tx.IdempotencyKey] = true
		}
	}
	return nil
}

func (m *Store) Load(_ context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(key), nil
}

func (m *Store) load(key generic.BalanceKey) []generic.Transaction {
	return append([]generic.Transaction(nil), m.transactions[key]...)
}

func (m *Store) Keys(_ context.Context, tenantID string, year int) ([]generic.BalanceKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys(tenantID, year), nil
}

func (m *Store) keys(tenantID string, year int) []generic.BalanceKey {
	var keys []generic.BalanceKey
	for k := range m.transactions {
		if k.TenantID == tenantID && k.Year == year {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (m *Store) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// CATALOG (policy.Store)
// =============================================================================

func (m *Store) SaveLeaveType(_ context.Context, lt policy.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Store) GetLeaveType(_ context.Context, tenantID string, id policy.LeaveTypeID) (*policy.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lt, ok := m.leaveTypes[id]
	if !ok || lt.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", policy.ErrLeaveTypeNotFound, id)
	}
	return &lt, nil
}

func (m *Store) ListLeaveTypes(_ context.Context, tenantID string) ([]policy.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []policy.LeaveType
	for _, lt := range m.leaveTypes {
		if lt.TenantID == tenantID {
			out = append(out, lt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Store) SavePolicy(_ context.Context, p policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		if m.policies[i].ID == p.ID {
			m.policies[i] = p
			return nil
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func (m *Store) GetPolicy(_ context.Context, tenantID string, id policy.PolicyID) (*policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.policies {
		if p.ID == id && p.TenantID == tenantID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", policy.ErrPolicyNotFound, id)
}

func (m *Store) ListPolicies(_ context.Context, tenantID string) ([]policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []policy.Policy
	for _, p := range m.policies {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetDefaultPolicy flips every default flag of the tenant under one lock.
func (m *Store) SetDefaultPolicy(_ context.Context, tenantID string, id policy.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.policies {
		if m.policies[i].TenantID != tenantID {
			continue
		}
		m.policies[i].IsDefault = m.policies[i].ID == id
		found = found || m.policies[i].ID == id
	}
	if !found {
		return fmt.Errorf("%w: %s", policy.ErrPolicyNotFound, id)
	}
	return nil
}

// SaveTypeRules enforces one rules row per (policy, leave type).
func (m *Store) SaveTypeRules(_ context.Context, r policy.TypeRules) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.rules {
		if id != r.ID && existing.PolicyID == r.PolicyID && existing.LeaveTypeID == r.LeaveTypeID {
			return fmt.Errorf("%w: policy %s leave type %s", policy.ErrDuplicateTypePolicy, r.PolicyID, r.LeaveTypeID)
		}
	}
	m.rules[r.ID] = r
	return nil
}

func (m *Store) GetTypeRules(_ context.Context, tenantID string, id policy.RulesID) (*policy.TypeRules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", policy.ErrRulesNotFound, id)
	}
	return &r, nil
}

func (m *Store) FindTypeRules(_ context.Context, tenantID string, policyID policy.PolicyID, leaveTypeID policy.LeaveTypeID) (*policy.TypeRules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.PolicyID == policyID && r.LeaveTypeID == leaveTypeID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: policy %s leave type %s", policy.ErrRulesNotFound, policyID, leaveTypeID)
}

func (m *Store) ListTypeRules(_ context.Context, tenantID string, policyID policy.PolicyID) ([]policy.TypeRules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []policy.TypeRules
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.PolicyID == policyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveTypeID < out[j].LeaveTypeID })
	return out, nil
}

func (m *Store) DeleteTypeRules(_ context.Context, tenantID string, id policy.RulesID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.TenantID != tenantID {
		return fmt.Errorf("%w: %s", policy.ErrRulesNotFound, id)
	}
	delete(m.rules, id)
	return nil
}
