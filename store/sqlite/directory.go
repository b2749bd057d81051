package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// EMPLOYEES (leave.Directory, leave.DirectoryAdmin)
// =============================================================================

const employeeColumns = `tenant_id, id, name, department_id, location, join_date,
	probation_end_date, notice_start_date, attributes_json`

func (s *Store) SaveEmployee(ctx context.Context, emp policy.Employee) error {
	if emp.TenantID == "" || emp.ID == "" {
		return fmt.Errorf("%w: tenant and employee id are required", leave.ErrInvalidInput)
	}
	attrs, err := json.Marshal(emp.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		emp.TenantID, string(emp.ID), emp.Name, emp.DepartmentID, emp.Location,
		formatDate(emp.JoinDate), nullDate(emp.ProbationEndDate), nullDate(emp.NoticeStartDate), string(attrs))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) Employee(ctx context.Context, tenantID string, id generic.EntityID) (policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE tenant_id = ? AND id = ?`, tenantID, string(id))
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Employee{}, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return emp, err
}

func (s *Store) Employees(ctx context.Context, tenantID string) ([]policy.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []policy.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

// Tenants lists every tenant with at least one employee.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM employees ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (policy.Employee, error) {
	var (
		emp        policy.Employee
		id         string
		joinDate   string
		probation  sql.NullString
		notice     sql.NullString
		attributes sql.NullString
	)
	err := row.Scan(&emp.TenantID, &id, &emp.Name, &emp.DepartmentID, &emp.Location,
		&joinDate, &probation, &notice, &attributes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emp, err
		}
		return emp, fmt.Errorf("failed to scan employee: %w", err)
	}
	emp.ID = generic.EntityID(id)
	emp.JoinDate = parseDate(joinDate)
	emp.ProbationEndDate = parseNullDate(probation)
	emp.NoticeStartDate = parseNullDate(notice)
	if attributes.Valid && attributes.String != "" && attributes.String != "null" {
		if err := json.Unmarshal([]byte(attributes.String), &emp.Attributes); err != nil {
			return emp, fmt.Errorf("employee %s: bad attributes: %w", id, err)
		}
	}
	return emp, nil
}

// =============================================================================
// ROLES
// =============================================================================

func (s *Store) AssignRole(ctx context.Context, tenantID string, employeeID generic.EntityID, role string, holderID generic.EntityID) error {
	if tenantID == "" || role == "" {
		return fmt.Errorf("%w: tenant and role are required", leave.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO employee_roles (tenant_id, employee_id, role_key, holder_id)
		VALUES (?, ?, ?, ?)`, tenantID, string(employeeID), role, string(holderID))
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RoleHolder prefers a per-employee binding over the tenant-wide one and
// returns "" when neither exists.
func (s *Store) RoleHolder(ctx context.Context, tenantID string, employeeID generic.EntityID, role string) (generic.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holder string
	err := s.db.QueryRowContext(ctx, `
		SELECT holder_id FROM employee_roles
		WHERE tenant_id = ? AND role_key = ? AND employee_id IN (?, '')
		ORDER BY employee_id DESC
		LIMIT 1`, tenantID, role, string(employeeID)).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve role %s: %w", role, err)
	}
	return generic.EntityID(holder), nil
}

// =============================================================================
// CALENDAR (leave.Calendar)
// =============================================================================

// AddHoliday ignores a holiday already present for the same location and date.
func (s *Store) AddHoliday(ctx context.Context, h leave.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO holidays (tenant_id, location, date, name) VALUES (?, ?, ?, ?)`,
		h.TenantID, h.Location, formatDate(h.Date), h.Name)
	if err != nil {
		return fmt.Errorf("failed to add holiday: %w", err)
	}
	return nil
}

func (s *Store) ListHolidays(ctx context.Context, tenantID string, year int) ([]leave.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT location, date, name FROM holidays
		WHERE tenant_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, location`,
		tenantID, formatDate(generic.StartOfYear(year)), formatDate(generic.EndOfYear(year)))
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []leave.Holiday
	for rows.Next() {
		h := leave.Holiday{TenantID: tenantID}
		var date string
		if err := rows.Scan(&h.Location, &date, &h.Name); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date = parseDate(date)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Holidays returns the holiday dates that apply at a location within a period.
func (s *Store) Holidays(ctx context.Context, tenantID, location string, period generic.Period) ([]generic.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT date FROM holidays
		WHERE tenant_id = ? AND location IN (?, '') AND date BETWEEN ? AND ?
		ORDER BY date`,
		tenantID, location, formatDate(period.Start), formatDate(period.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []generic.TimePoint
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		out = append(out, parseDate(date))
	}
	return out, rows.Err()
}

func (s *Store) SetWeeklyOffs(ctx context.Context, tenantID, location string, days []time.Weekday) error {
	data, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("failed to encode weekly offs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO weekly_offs (tenant_id, location, days_json) VALUES (?, ?, ?)`,
		tenantID, location, string(data))
	if err != nil {
		return fmt.Errorf("failed to set weekly offs: %w", err)
	}
	return nil
}

// WeeklyOffs falls back from the location to the tenant default to
// Saturday and Sunday.
func (s *Store) WeeklyOffs(ctx context.Context, tenantID, location string) ([]time.Weekday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT days_json FROM weekly_offs
		WHERE tenant_id = ? AND location IN (?, '')
		ORDER BY location DESC
		LIMIT 1`, tenantID, location).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.DefaultWeeklyOffs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly offs: %w", err)
	}
	var days []time.Weekday
	if err := json.Unmarshal([]byte(data), &days); err != nil {
		return nil, fmt.Errorf("failed to decode weekly offs: %w", err)
	}
	return days, nil
}

// =============================================================================
// PAYROLL (payroll.Store)
// =============================================================================

// SavePayrollRecord reports false when the reference is already recorded.
func (s *Store) SavePayrollRecord(ctx context.Context, rec leave.PayrollRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO payroll_records
		(reference, tenant_id, employee_id, leave_type_id, leave_type_code, is_paid, year, kind, days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Reference, rec.TenantID, string(rec.EmployeeID), string(rec.LeaveTypeID), rec.LeaveTypeCode,
		rec.IsPaid, rec.Year, string(rec.Kind), rec.Days.String(), formatTime(rec.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to save payroll record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPayrollRecords returns a tenant's records; year 0 means every year.
func (s *Store) ListPayrollRecords(ctx context.Context, tenantID string, year int) ([]leave.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, employee_id, leave_type_id, leave_type_code, is_paid, year, kind, days, created_at
		FROM payroll_records
		WHERE tenant_id = ? AND (? = 0 OR year = ?)
		ORDER BY reference`, tenantID, year, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll records: %w", err)
	}
	defer rows.Close()

	var out []leave.PayrollRecord
	for rows.Next() {
		rec := leave.PayrollRecord{TenantID: tenantID}
		var employeeID, leaveTypeID, kind, days, createdAt string
		if err := rows.Scan(&rec.Reference, &employeeID, &leaveTypeID, &rec.LeaveTypeCode,
			&rec.IsPaid, &rec.Year, &kind, &days, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payroll record: %w", err)
		}
		rec.EmployeeID = generic.EntityID(employeeID)
		rec.LeaveTypeID = policy.LeaveTypeID(leaveTypeID)
		rec.Kind = leave.PayrollRecordKind(kind)
		rec.Days = generic.MustParseDecimal(days)
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
