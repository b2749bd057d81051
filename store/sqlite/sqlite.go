/*
Package sqlite provides a SQLite-backed implementation of every store the
leave engine uses.

PURPOSE:
  One Store type satisfies generic.Store (the ledger), policy.Store (the
  catalog), leave.RequestStore, leave.YearEndStore, leave.Directory,
  leave.Calendar, leave.DirectoryAdmin and payroll.Store. It returns the
  same sentinel errors as store/memory, so the engine cannot tell them apart.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table
  - Corrections via offsetting transactions only

KEY TABLES:
  transactions:     immutable ledger, one row per balance movement
  leave_types:      per-tenant leave types
  policies:         per-tenant policies (at most one default)
  type_rules:       rules JSON per (policy, leave type)
  requests:         leave requests with their resolved approvers
  approvals:        append-only approval decisions
  year_end_runs:    closed balance rows (one per tenant/employee/type/year)
  employees:        directory records
  employee_roles:   role bindings ('' employee = tenant-wide)
  holidays:         company holidays ('' location = everywhere)
  weekly_offs:      weekly offs per location ('' = tenant default)
  payroll_records:  year-end payouts and deductions

UNIQUENESS:
  - transactions.idempotency_key
  - type_rules(policy_id, leave_type_id)
  - requests(tenant_id, idempotency_key), approvals(tenant_id, idempotency_key)
  - approvals(tenant_id, request_id, level_order)
  - payroll_records.reference

CONCURRENCY:
  A sync.RWMutex serializes writers. Row-level ordering of balance changes
  is the BalanceLedger's job. WithTx groups the writes of one lifecycle
  step into a single SQL transaction.

WAL MODE:
  File databases are opened in WAL mode. ":memory:" databases are pinned to
  a single connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)

SEE ALSO:
  - store/memory: in-memory twin used by tests
  - generic/store.go: ledger store interface
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	rules *factory.RulesFactory
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(config.DatabaseConfig{Path: dbPath, MaxOpenConns: 1})
}

// Open opens the database described by the config section.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 || cfg.Path == ":memory:" {
		conns = 1
	}
	db.SetMaxOpenConns(conns)

	store := &Store{db: db, rules: factory.NewRulesFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance row lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_row
		ON transactions(tenant_id, entity_id, resource_id, year);
	CREATE INDEX IF NOT EXISTS idx_transactions_tenant_year
		ON transactions(tenant_id, year);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Catalog
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		max_days_per_year TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leave_types_tenant ON leave_types(tenant_id);

	CREATE TABLE IF NOT EXISTS policies (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		applies_to TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_tenant ON policies(tenant_id);

	CREATE TABLE IF NOT EXISTS type_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		rules_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(policy_id, leave_type_id)
	);

	-- Requests and approvals
	CREATE TABLE IF NOT EXISTS requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		rules_id TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		half_day_start BOOLEAN NOT NULL DEFAULT FALSE,
		half_day_end BOOLEAN NOT NULL DEFAULT FALSE,
		days_requested TEXT NOT NULL,
		reason TEXT,
		attachment_ref TEXT,
		status TEXT NOT NULL,
		current_level INTEGER NOT NULL DEFAULT 0,
		approvers_json TEXT NOT NULL DEFAULT '[]',
		submitted_by TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		decided_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(tenant_id, employee_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_idempotency
		ON requests(tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS approvals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		level_order INTEGER NOT NULL,
		approver_id TEXT NOT NULL,
		action TEXT NOT NULL,
		comment TEXT,
		acted_at TEXT NOT NULL,
		idempotency_key TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_level
		ON approvals(tenant_id, request_id, level_order);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_idempotency
		ON approvals(tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Year-end runs
	CREATE TABLE IF NOT EXISTS year_end_runs (
		tenant_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		status TEXT NOT NULL,
		outcome_json TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, entity_id, resource_id, year)
	);

	-- Directory and calendar
	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		department_id TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		join_date TEXT NOT NULL,
		probation_end_date TEXT,
		notice_start_date TEXT,
		attributes_json TEXT,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS employee_roles (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL DEFAULT '',
		role_key TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, employee_id, role_key)
	);

	CREATE TABLE IF NOT EXISTS holidays (
		tenant_id TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, location, date)
	);
	CREATE INDEX IF NOT EXISTS idx_holidays_tenant_date ON holidays(tenant_id, date);

	CREATE TABLE IF NOT EXISTS weekly_offs (
		tenant_id TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		days_json TEXT NOT NULL,
		PRIMARY KEY (tenant_id, location)
	);

	-- Payroll
	CREATE TABLE IF NOT EXISTS payroll_records (
		reference TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		leave_type_code TEXT NOT NULL DEFAULT '',
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		year INTEGER NOT NULL,
		kind TEXT NOT NULL,
		days TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payroll_tenant_year ON payroll_records(tenant_id, year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside one database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Every read and write of
// the Tx goes through that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&txStore{tx: sqlTx, parent: s})
	})
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return ts.parent.appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
		if err := ts.parent.appendTx(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Load(ctx context.Context, key generic.BalanceKey) ([]generic.Transaction, error) {
	return ts.parent.load(ctx, ts.tx, key)
}

func (ts *txStore) Keys(ctx context.Context, tenantID string, year int) ([]generic.BalanceKey, error) {
	return ts.parent.keys(ctx, ts.tx, tenantID, year)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return ts.parent.exists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) SaveRequest(ctx context.Context, r leave.Request) error {
	return ts.parent.saveRequest(ctx, ts.tx, r)
}

func (ts *txStore) AppendApproval(ctx context.Context, a leave.Approval) error {
	return ts.parent.appendApproval(ctx, ts.tx, a)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(tp generic.TimePoint) string { return tp.String() }

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseDate(s string) generic.TimePoint {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func parseNullDate(s sql.NullString) *generic.TimePoint {
	if !s.Valid || s.String == "" {
		return nil
	}
	tp := parseDate(s.String)
	return &tp
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
