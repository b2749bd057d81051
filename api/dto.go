/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:    LeaveTypeDTO, PolicyDTO (rules travel as factory.RulesJSON)
  Directory:  EmployeeDTO, AssignRoleRequest, HolidayDTO, WeeklyOffsRequest
  Requests:   SubmitLeaveRequest, LeaveRequestDTO, ApprovalDTO, ResultDTO
  Balances:   BalanceDTO, CarryForwardDTO, TransactionDTO
  Batch:      YearEndReportDTO, ExpiryReportDTO, AccrualReportDTO

Dates are YYYY-MM-DD strings; day amounts are decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RulesJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// =============================================================================
// CATALOG
// =============================================================================

type LeaveTypeDTO struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	IsPaid         bool             `json:"is_paid"`
	MaxDaysPerYear *decimal.Decimal `json:"max_days_per_year,omitempty"`
	CreatedAt      string           `json:"created_at,omitempty"`
}

type CreateLeaveTypeRequest struct {
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	IsPaid         bool             `json:"is_paid"`
	MaxDaysPerYear *decimal.Decimal `json:"max_days_per_year,omitempty"`
}

func toLeaveTypeDTO(lt policy.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:             string(lt.ID),
		Code:           lt.Code,
		Name:           lt.Name,
		IsPaid:         lt.IsPaid,
		MaxDaysPerYear: lt.MaxDaysPerYear,
		CreatedAt:      formatTime(lt.CreatedAt),
	}
}

type PolicyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AppliesTo string `json:"applies_to"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreatePolicyRequest struct {
	Name      string `json:"name"`
	AppliesTo string `json:"applies_to"`
	IsDefault bool   `json:"is_default"`
}

func toPolicyDTO(p policy.Policy) PolicyDTO {
	return PolicyDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		AppliesTo: p.AppliesTo,
		IsDefault: p.IsDefault,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

type EmployeeDTO struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	DepartmentID     string            `json:"department_id,omitempty"`
	Location         string            `json:"location,omitempty"`
	JoinDate         string            `json:"join_date"`
	ProbationEndDate string            `json:"probation_end_date,omitempty"`
	NoticeStartDate  string            `json:"notice_start_date,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

func toEmployeeDTO(emp policy.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:               string(emp.ID),
		Name:             emp.Name,
		DepartmentID:     emp.DepartmentID,
		Location:         emp.Location,
		JoinDate:         emp.JoinDate.String(),
		ProbationEndDate: formatOptionalDate(emp.ProbationEndDate),
		NoticeStartDate:  formatOptionalDate(emp.NoticeStartDate),
		Attributes:       emp.Attributes,
	}
}

// toEmployee parses the dates of an employee body.
func (d EmployeeDTO) toEmployee(tenantID string) (policy.Employee, error) {
	join, err := generic.ParseDate(d.JoinDate)
	if err != nil {
		return policy.Employee{}, invalidField("join_date", err)
	}
	probation, err := parseOptionalDate("probation_end_date", d.ProbationEndDate)
	if err != nil {
		return policy.Employee{}, err
	}
	notice, err := parseOptionalDate("notice_start_date", d.NoticeStartDate)
	if err != nil {
		return policy.Employee{}, err
	}
	return policy.Employee{
		ID:               generic.EntityID(d.ID),
		TenantID:         tenantID,
		Name:             d.Name,
		DepartmentID:     d.DepartmentID,
		Location:         d.Location,
		JoinDate:         join,
		ProbationEndDate: probation,
		NoticeStartDate:  notice,
		Attributes:       d.Attributes,
	}, nil
}

// AssignRoleRequest binds a role; an empty employee_id is tenant-wide.
type AssignRoleRequest struct {
	EmployeeID string `json:"employee_id"`
	RoleKey    string `json:"role_key"`
	HolderID   string `json:"holder_id"`
}

type HolidayDTO struct {
	Date     string `json:"date"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// WeeklyOffsRequest lists weekdays by English name, e.g. "Friday".
type WeeklyOffsRequest struct {
	Location string   `json:"location"`
	Days     []string `json:"days"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitLeaveRequest struct {
	EmployeeID     string `json:"employee_id"`
	LeaveTypeID    string `json:"leave_type_id"`
	FromDate       string `json:"from_date"`
	ToDate         string `json:"to_date"`
	HalfDayStart   bool   `json:"half_day_start"`
	HalfDayEnd     bool   `json:"half_day_end"`
	Reason         string `json:"reason"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CancelRequest struct {
	ActorID string `json:"actor_id"`
}

type DecisionRequest struct {
	LevelOrder     int    `json:"level_order"`
	ApproverID     string `json:"approver_id"`
	Action         string `json:"action"`
	Comment        string `json:"comment,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ResolvedLevelDTO struct {
	Order      int    `json:"level_order"`
	Mode       string `json:"mode"`
	RoleKey    string `json:"role_key,omitempty"`
	ApproverID string `json:"approver_id"`
}

type LeaveRequestDTO struct {
	ID            string             `json:"id"`
	EmployeeID    string             `json:"employee_id"`
	LeaveTypeID   string             `json:"leave_type_id"`
	PolicyID      string             `json:"policy_id"`
	RulesID       string             `json:"rules_id"`
	FromDate      string             `json:"from_date"`
	ToDate        string             `json:"to_date"`
	HalfDayStart  bool               `json:"half_day_start"`
	HalfDayEnd    bool               `json:"half_day_end"`
	DaysRequested decimal.Decimal    `json:"days_requested"`
	Reason        string             `json:"reason,omitempty"`
	AttachmentRef string             `json:"attachment_ref,omitempty"`
	Status        string             `json:"status"`
	CurrentLevel  int                `json:"current_level"`
	Approvers     []ResolvedLevelDTO `json:"approvers"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
	DecidedAt     string             `json:"decided_at,omitempty"`
}

func toLeaveRequestDTO(r leave.Request) LeaveRequestDTO {
	dto := LeaveRequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveTypeID:   string(r.LeaveTypeID),
		PolicyID:      string(r.PolicyID),
		RulesID:       string(r.RulesID),
		FromDate:      r.From.String(),
		ToDate:        r.To.String(),
		HalfDayStart:  r.HalfDayStart,
		HalfDayEnd:    r.HalfDayEnd,
		DaysRequested: r.DaysRequested,
		Reason:        r.Reason,
		AttachmentRef: r.AttachmentRef,
		Status:        string(r.Status),
		CurrentLevel:  r.CurrentLevel,
		Approvers:     make([]ResolvedLevelDTO, 0, len(r.Approvers)),
		CreatedAt:     formatTime(r.CreatedAt),
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = formatTime(*r.DecidedAt)
	}
	for _, l := range r.Approvers {
		dto.Approvers = append(dto.Approvers, ResolvedLevelDTO{
			Order:      l.Order,
			Mode:       string(l.Mode),
			RoleKey:    l.RoleKey,
			ApproverID: string(l.ApproverID),
		})
	}
	return dto
}

type ApprovalDTO struct {
	ID         string `json:"id"`
	LevelOrder int    `json:"level_order"`
	ApproverID string `json:"approver_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment,omitempty"`
	ActedAt    string `json:"acted_at"`
}

func toApprovalDTOs(list []leave.Approval) []ApprovalDTO {
	out := make([]ApprovalDTO, 0, len(list))
	for _, a := range list {
		out = append(out, ApprovalDTO{
			ID:         a.ID,
			LevelOrder: a.LevelOrder,
			ApproverID: string(a.ApproverID),
			Action:     string(a.Action),
			Comment:    a.Comment,
			ActedAt:    formatTime(a.ActedAt),
		})
	}
	return out
}

// ResultDTO is the post-state every mutating request operation returns.
type ResultDTO struct {
	Request   LeaveRequestDTO `json:"request"`
	Balance   BalanceDTO      `json:"balance"`
	Approvals []ApprovalDTO   `json:"approvals"`
}

func toResultDTO(res leave.Result) ResultDTO {
	return ResultDTO{
		Request:   toLeaveRequestDTO(res.Request),
		Balance:   toBalanceDTO(res.Balance),
		Approvals: toApprovalDTOs(res.Approvals),
	}
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	EmployeeID     string            `json:"employee_id"`
	LeaveTypeID    string            `json:"leave_type_id"`
	Year           int               `json:"year"`
	TotalAllocated decimal.Decimal   `json:"total_allocated"`
	Used           decimal.Decimal   `json:"used"`
	Pending        decimal.Decimal   `json:"pending"`
	Available      decimal.Decimal   `json:"available"`
	CarryForward   []CarryForwardDTO `json:"carry_forward"`
}

type CarryForwardDTO struct {
	Days        decimal.Decimal `json:"days"`
	FromYear    int             `json:"from_year"`
	ExpiresOn   string          `json:"expires_on,omitempty"`
	ExpiredDays decimal.Decimal `json:"expired_days"`
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	dto := BalanceDTO{
		EmployeeID:     string(b.EmployeeID),
		LeaveTypeID:    string(b.LeaveTypeID),
		Year:           b.Year,
		TotalAllocated: b.TotalAllocated,
		Used:           b.Used,
		Pending:        b.Pending,
		Available:      b.Available(),
		CarryForward:   make([]CarryForwardDTO, 0, len(b.CarryForward)),
	}
	for _, g := range b.CarryForward {
		dto.CarryForward = append(dto.CarryForward, CarryForwardDTO{
			Days:        g.Days,
			FromYear:    g.FromYear,
			ExpiresOn:   formatOptionalDate(g.ExpiresOn),
			ExpiredDays: g.ExpiredDays,
		})
	}
	return dto
}

type TransactionDTO struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Delta          decimal.Decimal   `json:"delta"`
	EffectiveAt    string            `json:"effective_at"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionDTO{
			ID:             string(tx.ID),
			Type:           string(tx.Type),
			Delta:          tx.Delta.Value,
			EffectiveAt:    tx.EffectiveAt.String(),
			ReferenceID:    tx.ReferenceID,
			Reason:         tx.Reason,
			IdempotencyKey: tx.IdempotencyKey,
			Metadata:       tx.Metadata,
		})
	}
	return out
}

// =============================================================================
// BATCH REPORTS
// =============================================================================

type YearEndOutcomeDTO struct {
	EmployeeID  string          `json:"employee_id"`
	LeaveTypeID string          `json:"leave_type_id"`
	Status      string          `json:"status"`
	Action      string          `json:"action,omitempty"`
	Leftover    decimal.Decimal `json:"leftover"`
	Carried     decimal.Decimal `json:"carried"`
	ExpiresOn   string          `json:"expires_on,omitempty"`
	PaidOut     decimal.Decimal `json:"paid_out"`
	Deducted    decimal.Decimal `json:"deducted"`
	Nullified   decimal.Decimal `json:"nullified"`
	Error       string          `json:"error,omitempty"`
}

type YearEndReportDTO struct {
	Year             int                 `json:"year"`
	Processed        int                 `json:"processed"`
	AlreadyProcessed int                 `json:"already_processed"`
	Skipped          int                 `json:"skipped"`
	Failed           int                 `json:"failed"`
	Carried          decimal.Decimal     `json:"carried"`
	Expired          decimal.Decimal     `json:"expired"`
	PaidOut          decimal.Decimal     `json:"paid_out"`
	Deducted         decimal.Decimal     `json:"deducted"`
	Nullified        decimal.Decimal     `json:"nullified"`
	Rows             []YearEndOutcomeDTO `json:"rows"`
}

func toYearEndReportDTO(r leave.YearEndReport) YearEndReportDTO {
	dto := YearEndReportDTO{
		Year:             r.Year,
		Processed:        r.Processed,
		AlreadyProcessed: r.AlreadyProcessed,
		Skipped:          r.Skipped,
		Failed:           r.Failed,
		Carried:          r.Carried,
		Expired:          r.Expired,
		PaidOut:          r.PaidOut,
		Deducted:         r.Deducted,
		Nullified:        r.Nullified,
		Rows:             make([]YearEndOutcomeDTO, 0, len(r.Rows)),
	}
	for _, o := range r.Rows {
		dto.Rows = append(dto.Rows, YearEndOutcomeDTO{
			EmployeeID:  string(o.Key.EntityID),
			LeaveTypeID: o.Key.ResourceID,
			Status:      string(o.Status),
			Action:      o.Action,
			Leftover:    o.Leftover,
			Carried:     o.Carried,
			ExpiresOn:   formatOptionalDate(o.ExpiresOn),
			PaidOut:     o.PaidOut,
			Deducted:    o.Deducted,
			Nullified:   o.Nullified,
			Error:       o.Error,
		})
	}
	return dto
}

type ExpiryReportDTO struct {
	AsOf    string          `json:"as_of"`
	Rows    int             `json:"rows"`
	Grants  int             `json:"grants"`
	Expired decimal.Decimal `json:"expired"`
}

type AccrualReportDTO struct {
	AsOf      string          `json:"as_of"`
	Employees int             `json:"employees"`
	Rows      int             `json:"rows"`
	Granted   decimal.Decimal `json:"granted"`
	Failed    int             `json:"failed"`
}

type PayrollRecordDTO struct {
	Reference     string          `json:"reference"`
	EmployeeID    string          `json:"employee_id"`
	LeaveTypeID   string          `json:"leave_type_id"`
	LeaveTypeCode string          `json:"leave_type_code"`
	IsPaid        bool            `json:"is_paid"`
	Year          int             `json:"year"`
	Kind          string          `json:"kind"`
	Days          decimal.Decimal `json:"days"`
	CreatedAt     string          `json:"created_at"`
}

func toPayrollRecordDTOs(records []leave.PayrollRecord) []PayrollRecordDTO {
	out := make([]PayrollRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, PayrollRecordDTO{
			Reference:     rec.Reference,
			EmployeeID:    string(rec.EmployeeID),
			LeaveTypeID:   string(rec.LeaveTypeID),
			LeaveTypeCode: rec.LeaveTypeCode,
			IsPaid:        rec.IsPaid,
			Year:          rec.Year,
			Kind:          string(rec.Kind),
			Days:          rec.Days,
			CreatedAt:     formatTime(rec.CreatedAt),
		})
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalDate(tp *generic.TimePoint) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}

func parseOptionalDate(field, s string) (*generic.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return nil, invalidField(field, err)
	}
	return &tp, nil
}
