package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// REQUESTS (leave.RequestStore)
// =============================================================================

func (m *Store) SaveRequest(_ context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRequest(r)
}

func (m *Store) saveRequest(r leave.Request) error {
	if r.IdempotencyKey != "" {
		for _, other := range m.requests {
			if other.ID != r.ID && other.TenantID == r.TenantID && other.IdempotencyKey == r.IdempotencyKey {
				return fmt.Errorf("%w: request idempotency key %q", generic.ErrDuplicateIdempotencyKey, r.IdempotencyKey)
			}
		}
	}
	if _, ok := m.requests[r.ID]; !ok {
		m.requestOrder = append(m.requestOrder, r.ID)
	}
	r.Approvers = append([]leave.ResolvedLevel(nil), r.Approvers...)
	m.requests[r.ID] = r
	return nil
}

func (m *Store) GetRequest(_ context.Context, tenantID string, id leave.RequestID) (*leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	return &r, nil
}

func (m *Store) FindRequestByIdempotencyKey(_ context.Context, tenantID, key string) (*leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.TenantID == tenantID && r.IdempotencyKey == key {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Store) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Request
	for _, id := range m.requestOrder {
		r := m.requests[id]
		if matches(r, f) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matches(r leave.Request, f leave.RequestFilter) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.LeaveTypeID != "" && r.LeaveTypeID != f.LeaveTypeID {
		return false
	}
	if f.Window != nil && !r.Period().Overlaps(*f.Window) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// AppendApproval keeps one approval per (request, level).
func (m *Store) AppendApproval(_ context.Context, a leave.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendApproval(a)
}

func (m *Store) appendApproval(a leave.Approval) error {
	for _, other := range m.approvals[a.RequestID] {
		if other.TenantID == a.TenantID && other.LevelOrder == a.LevelOrder {
			return fmt.Errorf("%w: request %s level %d", leave.ErrLevelAlreadyDecided, a.RequestID, a.LevelOrder)
		}
	}
	if a.IdempotencyKey != "" {
		for _, list := range m.approvals {
			for _, other := range list {
				if other.TenantID == a.TenantID && other.IdempotencyKey == a.IdempotencyKey {
					return fmt.Errorf("%w: approval idempotency key %q", generic.ErrDuplicateIdempotencyKey, a.IdempotencyKey)
				}
			}
		}
	}
	m.approvals[a.RequestID] = append(m.approvals[a.RequestID], a)
	return nil
}

func (m *Store) ListApprovals(_ context.Context, tenantID string, requestID leave.RequestID) ([]leave.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Approval
	for _, a := range m.approvals[requestID] {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Store) FindApprovalByIdempotencyKey(_ context.Context, tenantID, key string) (*leave.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.approvals {
		for _, a := range list {
			if a.TenantID == tenantID && a.IdempotencyKey == key {
				return &a, nil
			}
		}
	}
	return nil, nil
}

// =============================================================================
// YEAR END (leave.YearEndStore)
// =============================================================================

func (m *Store) IsYearEndProcessed(_ context.Context, key generic.BalanceKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.yearEnd[key]
	return ok, nil
}

func (m *Store) MarkYearEndProcessed(_ context.Context, key generic.BalanceKey, outcome leave.YearEndOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.yearEnd[key] = outcome
	return nil
}

// YearEndOutcome returns the recorded outcome of a closed row.
func (m *Store) YearEndOutcome(key generic.BalanceKey) (leave.YearEndOutcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.yearEnd[key]
	return o, ok
}

// =============================================================================
// DIRECTORY + CALENDAR
// =============================================================================

func (m *Store) SaveEmployee(_ context.Context, emp policy.Employee) error {
	if emp.TenantID == "" || emp.ID == "" {
		return fmt.Errorf("%w: tenant and employee id are required", leave.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.employees[emp.TenantID] == nil {
		m.employees[emp.TenantID] = make(map[generic.EntityID]policy.Employee)
	}
	m.employees[emp.TenantID][emp.ID] = emp
	return nil
}

func (m *Store) Employee(_ context.Context, tenantID string, id generic.EntityID) (policy.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emp, ok := m.employees[tenantID][id]
	if !ok {
		return policy.Employee{}, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return emp, nil
}

func (m *Store) Employees(_ context.Context, tenantID string) ([]policy.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]policy.Employee, 0, len(m.employees[tenantID]))
	for _, emp := range m.employees[tenantID] {
		out = append(out, emp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) Tenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.employees))
	for t := range m.employees {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Store) AssignRole(_ context.Context, tenantID string, employeeID generic.EntityID, role string, holderID generic.EntityID) error {
	if tenantID == "" || role == "" {
		return fmt.Errorf("%w: tenant and role are required", leave.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[roleKey{TenantID: tenantID, EmployeeID: employeeID, Role: role}] = holderID
	return nil
}

// RoleHolder prefers a per-employee binding over the tenant-wide one.
func (m *Store) RoleHolder(_ context.Context, tenantID string, employeeID generic.EntityID, role string) (generic.EntityID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.roles[roleKey{TenantID: tenantID, EmployeeID: employeeID, Role: role}]; ok {
		return id, nil
	}
	return m.roles[roleKey{TenantID: tenantID, Role: role}], nil
}

func (m *Store) AddHoliday(_ context.Context, h leave.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.holidays {
		if existing.TenantID == h.TenantID && existing.Location == h.Location && existing.Date.Equal(h.Date) {
			return nil
		}
	}
	m.holidays = append(m.holidays, h)
	return nil
}

func (m *Store) ListHolidays(_ context.Context, tenantID string, year int) ([]leave.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Holiday
	for _, h := range m.holidays {
		if h.TenantID == tenantID && h.Date.Year() == year {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Store) Holidays(_ context.Context, tenantID, location string, period generic.Period) ([]generic.TimePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.TimePoint
	for _, h := range m.holidays {
		if h.TenantID != tenantID || (h.Location != "" && h.Location != location) {
			continue
		}
		if period.Contains(h.Date) {
			out = append(out, h.Date)
		}
	}
	return out, nil
}

func (m *Store) SetWeeklyOffs(_ context.Context, tenantID, location string, days []time.Weekday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weeklyOffs[tenantID+"/"+location] = append([]time.Weekday(nil), days...)
	return nil
}

// WeeklyOffs falls back from the location to the tenant default to
// Saturday and Sunday.
func (m *Store) WeeklyOffs(_ context.Context, tenantID, location string) ([]time.Weekday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if days, ok := m.weeklyOffs[tenantID+"/"+location]; ok {
		return days, nil
	}
	if days, ok := m.weeklyOffs[tenantID+"/"]; ok {
		return days, nil
	}
	return leave.DefaultWeeklyOffs, nil
}
