package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// REQUESTS (leave.RequestStore)
// =============================================================================

const requestColumns = `id, tenant_id, employee_id, leave_type_id, policy_id, rules_id,
	from_date, to_date, half_day_start, half_day_end, days_requested, reason, attachment_ref,
	status, current_level, approvers_json, submitted_by, idempotency_key,
	created_at, updated_at, decided_at`

// SaveRequest inserts or replaces a request, keeping its original position.
func (s *Store) SaveRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveRequest(ctx, s.db, r)
}

func (s *Store) saveRequest(ctx context.Context, db execer, r leave.Request) error {
	approvers, err := json.Marshal(r.Approvers)
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}
	var decidedAt sql.NullString
	if r.DecidedAt != nil {
		decidedAt = nullString(formatTime(*r.DecidedAt))
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_level = excluded.current_level,
			approvers_json = excluded.approvers_json,
			updated_at = excluded.updated_at,
			decided_at = excluded.decided_at`,
		string(r.ID), r.TenantID, string(r.EmployeeID), string(r.LeaveTypeID),
		string(r.PolicyID), string(r.RulesID),
		formatDate(r.From), formatDate(r.To), r.HalfDayStart, r.HalfDayEnd,
		r.DaysRequested.String(), nullString(r.Reason), nullString(r.AttachmentRef),
		string(r.Status), r.CurrentLevel, string(approvers),
		nullString(string(r.SubmittedBy)), nullString(r.IdempotencyKey),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), decidedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: request idempotency key %q", generic.ErrDuplicateIdempotencyKey, r.IdempotencyKey)
		}
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, tenantID string, id leave.RequestID) (*leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE tenant_id = ? AND id = ?`, tenantID, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindRequestByIdempotencyKey returns nil, nil when the key is unused.
func (s *Store) FindRequestByIdempotencyKey(ctx context.Context, tenantID, key string) (*leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE tenant_id = ? AND idempotency_key = ?`, tenantID, key)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where, args = append(where, "tenant_id = ?"), append(args, f.TenantID)
	}
	if f.EmployeeID != "" {
		where, args = append(where, "employee_id = ?"), append(args, string(f.EmployeeID))
	}
	if f.LeaveTypeID != "" {
		where, args = append(where, "leave_type_id = ?"), append(args, string(f.LeaveTypeID))
	}
	if f.Window != nil {
		where = append(where, "from_date <= ? AND to_date >= ?")
		args = append(args, formatDate(f.Window.End), formatDate(f.Window.Start))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (leave.Request, error) {
	var (
		r           leave.Request
		id          string
		employeeID  string
		leaveTypeID string
		policyID    string
		rulesID     string
		fromDate    string
		toDate      string
		days        string
		status      string
		approvers   string
		createdAt   string
		updatedAt   string
		reason      sql.NullString
		attachment  sql.NullString
		submittedBy sql.NullString
		idemKey     sql.NullString
		decidedAt   sql.NullString
	)
	err := row.Scan(&id, &r.TenantID, &employeeID, &leaveTypeID, &policyID, &rulesID,
		&fromDate, &toDate, &r.HalfDayStart, &r.HalfDayEnd, &days, &reason, &attachment,
		&status, &r.CurrentLevel, &approvers, &submittedBy, &idemKey,
		&createdAt, &updatedAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan request: %w", err)
	}

	r.ID = leave.RequestID(id)
	r.EmployeeID = generic.EntityID(employeeID)
	r.LeaveTypeID = policy.LeaveTypeID(leaveTypeID)
	r.PolicyID = policy.PolicyID(policyID)
	r.RulesID = policy.RulesID(rulesID)
	r.From = parseDate(fromDate)
	r.To = parseDate(toDate)
	r.DaysRequested = generic.MustParseDecimal(days)
	r.Reason = reason.String
	r.AttachmentRef = attachment.String
	r.Status = leave.Status(status)
	r.SubmittedBy = generic.EntityID(submittedBy.String)
	r.IdempotencyKey = idemKey.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		r.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(approvers), &r.Approvers); err != nil {
		return r, fmt.Errorf("request %s: bad approvers: %w", id, err)
	}
	return r, nil
}

// =============================================================================
// APPROVALS
// =============================================================================

const approvalColumns = `id, tenant_id, request_id, level_order, approver_id, action, comment, acted_at, idempotency_key`

// AppendApproval keeps one approval per (request, level).
func (s *Store) AppendApproval(ctx context.Context, a leave.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendApproval(ctx, s.db, a)
}

func (s *Store) appendApproval(ctx context.Context, db execer, a leave.Approval) error {
	_, err := db.ExecContext(ctx, `INSERT INTO approvals (`+approvalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, string(a.RequestID), a.LevelOrder, string(a.ApproverID),
		string(a.Action), nullString(a.Comment), formatTime(a.ActedAt), nullString(a.IdempotencyKey))
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "approvals.level_order") {
			return fmt.Errorf("%w: request %s level %d", leave.ErrLevelAlreadyDecided, a.RequestID, a.LevelOrder)
		}
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: approval idempotency key %q", generic.ErrDuplicateIdempotencyKey, a.IdempotencyKey)
		}
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, tenantID string, requestID leave.RequestID) ([]leave.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals
		WHERE tenant_id = ? AND request_id = ? ORDER BY seq ASC`, tenantID, string(requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []leave.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindApprovalByIdempotencyKey returns nil, nil when the key is unused.
func (s *Store) FindApprovalByIdempotencyKey(ctx context.Context, tenantID, key string) (*leave.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE tenant_id = ? AND idempotency_key = ?`, tenantID, key)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanApproval(row scanner) (leave.Approval, error) {
	var (
		a          leave.Approval
		requestID  string
		approverID string
		action     string
		actedAt    string
		comment    sql.NullString
		idemKey    sql.NullString
	)
	err := row.Scan(&a.ID, &a.TenantID, &requestID, &a.LevelOrder, &approverID, &action, &comment, &actedAt, &idemKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan approval: %w", err)
	}
	a.RequestID = leave.RequestID(requestID)
	a.ApproverID = generic.EntityID(approverID)
	a.Action = leave.Action(action)
	a.Comment = comment.String
	a.ActedAt = parseTime(actedAt)
	a.IdempotencyKey = idemKey.String
	return a, nil
}

// =============================================================================
// YEAR END (leave.YearEndStore)
// =============================================================================

func (s *Store) IsYearEndProcessed(ctx context.Context, key generic.BalanceKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM year_end_runs
		WHERE tenant_id = ? AND entity_id = ? AND resource_id = ? AND year = ?`,
		key.TenantID, string(key.EntityID), key.ResourceID, key.Year,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query year-end run: %w", err)
	}
	return count > 0, nil
}

func (s *Store) MarkYearEndProcessed(ctx context.Context, key generic.BalanceKey, outcome leave.YearEndOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode year-end outcome: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO year_end_runs (tenant_id, entity_id, resource_id, year, status, outcome_json, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.TenantID, string(key.EntityID), key.ResourceID, key.Year,
		string(outcome.Status), string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record year-end run: %w", err)
	}
	return nil
}

// YearEndOutcome returns the recorded outcome of a closed row.
func (s *Store) YearEndOutcome(ctx context.Context, key generic.BalanceKey) (leave.YearEndOutcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT outcome_json FROM year_end_runs
		WHERE tenant_id = ? AND entity_id = ? AND resource_id = ? AND year = ?`,
		key.TenantID, string(key.EntityID), key.ResourceID, key.Year,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.YearEndOutcome{}, false, nil
	}
	if err != nil {
		return leave.YearEndOutcome{}, false, fmt.Errorf("failed to query year-end run: %w", err)
	}
	var outcome leave.YearEndOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		return leave.YearEndOutcome{}, false, fmt.Errorf("failed to decode year-end outcome: %w", err)
	}
	return outcome, true, nil
}
