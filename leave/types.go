/*
Package leave is the leave request engine.

PURPOSE:
  Governs a leave request from submission to a terminal state against the
  rules resolved from the policy catalog, keeps the per-employee,
  per-leave-type, per-year balance, routes multi-level approvals, and runs
  the year-end batch.

COMPONENTS:
  BalanceLedger     per-row locked view over the append-only generic.Ledger
  Lifecycle         submit / cancel / finalize / record decision
  ApprovalRouter    approver resolution and per-level decisions
  Accruals          entitlement generation and seeding
  YearEndProcessor  year-end rules, carry-forward expiry

STATE MACHINE:
  SUBMITTED ──approve──► APPROVED   (pending → used)
      │    ──reject───► REJECTED   (pending released)
      └────cancel─────► CANCELLED  (pending released)

  Every terminal state is final. A second commit fails ErrAlreadyFinalized.

COLLABORATORS:
  Directory  employees and role holders
  Calendar   holidays and weekly offs per location
  Payroll    receives year-end payout/deduction records
  Notifier   receives state-transition events

SEE ALSO:
  - policy/: rules, catalog
  - generic/: ledger primitives
*/
package leave

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// REQUEST
// =============================================================================

type RequestID string

type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// ActiveStatuses are the statuses that hold days (pending or used).
var ActiveStatuses = []Status{StatusSubmitted, StatusApproved}

type Request struct {
	ID          RequestID
	TenantID    string
	EmployeeID  generic.EntityID
	LeaveTypeID policy.LeaveTypeID
	PolicyID    policy.PolicyID
	RulesID     policy.RulesID

	From         generic.TimePoint
	To           generic.TimePoint
	HalfDayStart bool
	HalfDayEnd   bool

	DaysRequested decimal.Decimal
	Reason        string
	AttachmentRef string
	Status        Status

	// CurrentLevel is the approval level awaiting a decision (0 when none).
	CurrentLevel int
	Approvers    []ResolvedLevel

	SubmittedBy    generic.EntityID
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DecidedAt      *time.Time
}

// Year is the accrual year the request draws from.
func (r Request) Year() int { return r.From.Year() }

func (r Request) Period() generic.Period {
	return generic.Period{Start: r.From, End: r.To}
}

// BalanceKey is the balance row the request reserves against.
func (r Request) BalanceKey() generic.BalanceKey {
	return generic.BalanceKey{
		TenantID:   r.TenantID,
		EntityID:   r.EmployeeID,
		ResourceID: string(r.LeaveTypeID),
		Year:       r.Year(),
	}
}

// Level returns the resolved approver of a level.
func (r Request) Level(order int) (ResolvedLevel, bool) {
	for _, l := range r.Approvers {
		if l.Order == order {
			return l, true
		}
	}
	return ResolvedLevel{}, false
}

// ResolvedLevel is an approval level bound to a concrete approver at routing time.
type ResolvedLevel struct {
	Order      int
	Mode       policy.ApproverMode
	RoleKey    string
	ApproverID generic.EntityID
}

// =============================================================================
// APPROVAL
// =============================================================================

type Action string

const (
	ActionApproved Action = "APPROVED"
	ActionRejected Action = "REJECTED"
)

func (a Action) Valid() bool { return a == ActionApproved || a == ActionRejected }

// Approval is one immutable decision record.
type Approval struct {
	ID             string
	TenantID       string
	RequestID      RequestID
	LevelOrder     int
	ApproverID     generic.EntityID
	Action         Action
	Comment        string
	ActedAt        time.Time
	IdempotencyKey string
}

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	TenantID       string
	EmployeeID     generic.EntityID
	LeaveTypeID    policy.LeaveTypeID
	Year           int
	TotalAllocated decimal.Decimal
	Used           decimal.Decimal
	Pending        decimal.Decimal
	CarryForward   []CarryForwardGrant
}

func (b Balance) Available() decimal.Decimal {
	return b.TotalAllocated.Sub(b.Used).Sub(b.Pending)
}

// CarryForwardGrant is leftover carried in from the previous year.
type CarryForwardGrant struct {
	TransactionID generic.TransactionID
	Days          decimal.Decimal
	FromYear      int
	ExpiresOn     *generic.TimePoint
	ExpiredDays   decimal.Decimal
}

// Result is the post-state returned by every mutating operation.
type Result struct {
	Request   Request
	Balance   Balance
	Approvals []Approval
}

// =============================================================================
// STORES
// =============================================================================

// RequestFilter selects requests. Zero fields match everything; Window
// matches requests overlapping it.
type RequestFilter struct {
	TenantID    string
	EmployeeID  generic.EntityID
	LeaveTypeID policy.LeaveTypeID
	Statuses    []Status
	Window      *generic.Period
}

type RequestStore interface {
	// SaveRequest inserts or replaces a request.
	SaveRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, tenantID string, id RequestID) (*Request, error)
	// FindRequestByIdempotencyKey returns nil, nil when the key is unused.
	FindRequestByIdempotencyKey(ctx context.Context, tenantID, key string) (*Request, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	AppendApproval(ctx context.Context, a Approval) error
	ListApprovals(ctx context.Context, tenantID string, requestID RequestID) ([]Approval, error)
	// FindApprovalByIdempotencyKey returns nil, nil when the key is unused.
	FindApprovalByIdempotencyKey(ctx context.Context, tenantID, key string) (*Approval, error)
}

// RequestWriter is the write side of RequestStore. AppendApproval refuses
// a second approval for the same (request, level) with
// ErrLevelAlreadyDecided.
type RequestWriter interface {
	SaveRequest(ctx context.Context, r Request) error
	AppendApproval(ctx context.Context, a Approval) error
}

// Tx is the view of the stores inside one transaction.
type Tx interface {
	generic.Store
	RequestWriter
}

// TxStore runs fn inside one transaction. If fn returns an error every
// write made through the Tx is rolled back; otherwise they are committed.
type TxStore interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// YearEndStore records which balance rows a year-end run has closed.
type YearEndStore interface {
	IsYearEndProcessed(ctx context.Context, key generic.BalanceKey) (bool, error)
	MarkYearEndProcessed(ctx context.Context, key generic.BalanceKey, outcome YearEndOutcome) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Well-known role keys.
const (
	RoleReportingManager = "REPORTING_MANAGER"
	RoleHRManager        = "HR_MANAGER"
	RoleDepartmentHead   = "DEPARTMENT_HEAD"
)

// Directory is the identity/roles collaborator.
type Directory interface {
	Employee(ctx context.Context, tenantID string, id generic.EntityID) (policy.Employee, error)
	Employees(ctx context.Context, tenantID string) ([]policy.Employee, error)
	// RoleHolder resolves a role relative to an employee, e.g. their
	// reporting manager.
	RoleHolder(ctx context.Context, tenantID string, employeeID generic.EntityID, roleKey string) (generic.EntityID, error)
	Tenants(ctx context.Context) ([]string, error)
}

// Calendar is the holiday collaborator.
type Calendar interface {
	Holidays(ctx context.Context, tenantID, location string, period generic.Period) ([]generic.TimePoint, error)
	WeeklyOffs(ctx context.Context, tenantID, location string) ([]time.Weekday, error)
}

// Holiday is a company holiday. An empty Location applies to every location.
type Holiday struct {
	TenantID string
	Location string
	Date     generic.TimePoint
	Name     string
}

// DirectoryAdmin maintains the records behind Directory and Calendar.
type DirectoryAdmin interface {
	SaveEmployee(ctx context.Context, emp policy.Employee) error
	// AssignRole binds roleKey for an employee to a holder. An empty
	// employeeID makes the holder tenant-wide.
	AssignRole(ctx context.Context, tenantID string, employeeID generic.EntityID, roleKey string, holderID generic.EntityID) error
	AddHoliday(ctx context.Context, h Holiday) error
	ListHolidays(ctx context.Context, tenantID string, year int) ([]Holiday, error)
	// SetWeeklyOffs sets the weekly offs of a location ("" is the tenant default).
	SetWeeklyOffs(ctx context.Context, tenantID, location string, days []time.Weekday) error
}

type PayrollRecordKind string

const (
	PayrollPayout    PayrollRecordKind = "PAYOUT"
	PayrollDeduction PayrollRecordKind = "DEDUCTION"
)

// PayrollRecord is emitted at year end for PAY_OUT and DEDUCT_FROM_SALARY.
type PayrollRecord struct {
	Reference     string
	TenantID      string
	EmployeeID    generic.EntityID
	LeaveTypeID   policy.LeaveTypeID
	LeaveTypeCode string
	IsPaid        bool
	Year          int
	Kind          PayrollRecordKind
	Days          decimal.Decimal
	CreatedAt     time.Time
}

// Payroll receives payroll records. Emit must tolerate a repeated Reference.
type Payroll interface {
	Emit(ctx context.Context, rec PayrollRecord) error
}

type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
	EventCancelled EventType = "cancelled"
)

type Event struct {
	Type    EventType
	Request Request
	ActorID generic.EntityID
	At      time.Time
}

// Notifier receives state-transition events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }
