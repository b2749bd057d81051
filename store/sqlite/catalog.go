package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// LEAVE TYPES (policy.Store)
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt policy.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxDays sql.NullString
	if lt.MaxDaysPerYear != nil {
		maxDays = nullString(lt.MaxDaysPerYear.String())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, tenant_id, code, name, is_paid, max_days_per_year, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code, name = excluded.name, is_paid = excluded.is_paid,
			max_days_per_year = excluded.max_days_per_year`,
		string(lt.ID), lt.TenantID, lt.Code, lt.Name, lt.IsPaid, maxDays, formatTime(lt.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

const leaveTypeColumns = `id, tenant_id, code, name, is_paid, max_days_per_year, created_at`

func (s *Store) GetLeaveType(ctx context.Context, tenantID string, id policy.LeaveTypeID) (*policy.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+leaveTypeColumns+` FROM leave_types WHERE tenant_id = ? AND id = ?`,
		tenantID, string(id))
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", policy.ErrLeaveTypeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context, tenantID string) ([]policy.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leaveTypeColumns+` FROM leave_types WHERE tenant_id = ? ORDER BY code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []policy.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(row scanner) (policy.LeaveType, error) {
	var (
		lt        policy.LeaveType
		id        string
		maxDays   sql.NullString
		createdAt string
	)
	if err := row.Scan(&id, &lt.TenantID, &lt.Code, &lt.Name, &lt.IsPaid, &maxDays, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lt, err
		}
		return lt, fmt.Errorf("failed to scan leave type: %w", err)
	}
	lt.ID = policy.LeaveTypeID(id)
	lt.CreatedAt = parseTime(createdAt)
	if maxDays.Valid {
		d, err := decimal.NewFromString(maxDays.String)
		if err != nil {
			return lt, fmt.Errorf("leave type %s: bad max_days_per_year: %w", id, err)
		}
		lt.MaxDaysPerYear = &d
	}
	return lt, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (id, tenant_id, name, applies_to, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, applies_to = excluded.applies_to, is_default = excluded.is_default`,
		string(p.ID), p.TenantID, p.Name, p.AppliesTo, p.IsDefault, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

const policyColumns = `id, tenant_id, name, applies_to, is_default, created_at`

func (s *Store) GetPolicy(ctx context.Context, tenantID string, id policy.PolicyID) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE tenant_id = ? AND id = ?`, tenantID, string(id))
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", policy.ErrPolicyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns the tenant's policies in creation order.
func (s *Store) ListPolicies(ctx context.Context, tenantID string) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE tenant_id = ? ORDER BY seq`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetDefaultPolicy flips every default flag of the tenant in one transaction.
func (s *Store) SetDefaultPolicy(ctx context.Context, tenantID string, id policy.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM policies WHERE tenant_id = ? AND id = ?`, tenantID, string(id),
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to look up policy: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", policy.ErrPolicyNotFound, id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE policies SET is_default = (id = ?) WHERE tenant_id = ?`, string(id), tenantID,
		); err != nil {
			return fmt.Errorf("failed to set default policy: %w", err)
		}
		return nil
	})
}

func scanPolicy(row scanner) (policy.Policy, error) {
	var (
		p         policy.Policy
		id        string
		createdAt string
	)
	if err := row.Scan(&id, &p.TenantID, &p.Name, &p.AppliesTo, &p.IsDefault, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}
	p.ID = policy.PolicyID(id)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// TYPE RULES
// =============================================================================

// SaveTypeRules enforces one rules row per (policy, leave type).
func (s *Store) SaveTypeRules(ctx context.Context, r policy.TypeRules) error {
	data, err := s.rules.EncodeRules(r)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO type_rules (id, tenant_id, policy_id, leave_type_id, rules_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_id = excluded.policy_id, leave_type_id = excluded.leave_type_id,
			rules_json = excluded.rules_json, updated_at = excluded.updated_at`,
		string(r.ID), r.TenantID, string(r.PolicyID), string(r.LeaveTypeID), string(data), formatTime(r.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: policy %s leave type %s", policy.ErrDuplicateTypePolicy, r.PolicyID, r.LeaveTypeID)
		}
		return fmt.Errorf("failed to save type rules: %w", err)
	}
	return nil
}

func (s *Store) GetTypeRules(ctx context.Context, tenantID string, id policy.RulesID) (*policy.TypeRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT rules_json, updated_at FROM type_rules WHERE tenant_id = ? AND id = ?`, tenantID, string(id))
	r, err := s.scanRules(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", policy.ErrRulesNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindTypeRules(ctx context.Context, tenantID string, policyID policy.PolicyID, leaveTypeID policy.LeaveTypeID) (*policy.TypeRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT rules_json, updated_at FROM type_rules
		WHERE tenant_id = ? AND policy_id = ? AND leave_type_id = ?`,
		tenantID, string(policyID), string(leaveTypeID))
	r, err := s.scanRules(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: policy %s leave type %s", policy.ErrRulesNotFound, policyID, leaveTypeID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListTypeRules(ctx context.Context, tenantID string, policyID policy.PolicyID) ([]policy.TypeRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rules_json, updated_at FROM type_rules
		WHERE tenant_id = ? AND policy_id = ?
		ORDER BY leave_type_id`, tenantID, string(policyID))
	if err != nil {
		return nil, fmt.Errorf("failed to query type rules: %w", err)
	}
	defer rows.Close()

	var out []policy.TypeRules
	for rows.Next() {
		r, err := s.scanRules(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTypeRules(ctx context.Context, tenantID string, id policy.RulesID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM type_rules WHERE tenant_id = ? AND id = ?`, tenantID, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete type rules: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", policy.ErrRulesNotFound, id)
	}
	return nil
}

func (s *Store) scanRules(row scanner) (policy.TypeRules, error) {
	var data, updatedAt string
	if err := row.Scan(&data, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.TypeRules{}, err
		}
		return policy.TypeRules{}, fmt.Errorf("failed to scan type rules: %w", err)
	}
	r, err := s.rules.ParseRules([]byte(data))
	if err != nil {
		return policy.TypeRules{}, fmt.Errorf("stored rules no longer parse: %w", err)
	}
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}
