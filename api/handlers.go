/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the catalog, lifecycle, accruals,
  year-end processor and payroll workbook.

ENDPOINTS (all under /api/tenants/{tenantID}):
  Catalog:
    POST   /leave-types                      Create leave type
    GET    /leave-types                      List leave types
    GET    /leave-types/{id}                 Get leave type
    POST   /policies                         Create policy
    GET    /policies                         List policies
    POST   /policies/{id}/default            Make policy the tenant default
    GET    /policies/{id}/rules              List type rules
    POST   /policies/{id}/rules              Create type rules
    PUT    /policies/{id}/rules/{rulesID}    Replace type rules
    DELETE /policies/{id}/rules/{rulesID}    Remove type rules

  Directory:
    POST   /employees                        Create or replace employee (seeds accruals)
    GET    /employees                        List employees
    GET    /employees/{id}                   Get employee
    GET    /employees/{id}/policy            Effective policy
    GET    /employees/{id}/balances/{leaveTypeID}               Balance (?year=)
    GET    /employees/{id}/balances/{leaveTypeID}/transactions  Ledger rows (?year=)
    POST   /roles                            Assign role holder
    POST   /holidays, GET /holidays?year=    Company holidays
    PUT    /weekly-offs                      Weekly offs per location

  Requests:
    POST   /requests                         Submit (Idempotency-Key header)
    GET    /requests                         List (?employee_id=&leave_type_id=&status=)
    GET    /requests/{id}                    Get with balance and approvals
    POST   /requests/{id}/cancel             Cancel
    POST   /requests/{id}/decisions          Approve / reject a level (Idempotency-Key header)

  Batch:
    POST   /year-end/{year}                  Year-end run
    POST   /carry-forward/expire             Carry-forward expiry (?as_of=)
    POST   /accruals/apply                   Due accruals (?as_of=)
    GET    /payroll/{year}                   Payroll records
    GET    /payroll/{year}/workbook          Payroll records as .xlsx

ERROR HANDLING:
  Errors are returned as {"error": {"kind", "code", "message"}} with the
  status of their leave.Classify kind:
  - 400: validation_error
  - 422: policy_violation
  - 409: sequencing_error
  - 404: not_found
  - 500: consistency_fault, internal

SECURITY NOTE:
  No authentication. Actor ids are taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - engine.go: Service wiring
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/policy"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine *Engine
	rules  *factory.RulesFactory
	logger *zap.Logger
	today  func() generic.TimePoint
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine: engine,
		rules:  factory.NewRulesFactory(),
		logger: engine.Logger.With(zap.String("component", "api")),
		today:  func() generic.TimePoint { return generic.DateOf(engine.Now()) },
	}
}

func tenantOf(r *http.Request) string { return chi.URLParam(r, "tenantID") }

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.engine.Backend.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveTypeRequest
	if !decode(w, r, &req) {
		return
	}
	lt, err := h.engine.Catalog.CreateLeaveType(r.Context(), policy.LeaveType{
		TenantID:       tenantOf(r),
		Code:           req.Code,
		Name:           req.Name,
		IsPaid:         req.IsPaid,
		MaxDaysPerYear: req.MaxDaysPerYear,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(lt))
}

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.engine.Catalog.ListLeaveTypes(r.Context(), tenantOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		out = append(out, toLeaveTypeDTO(lt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	lt, err := h.engine.Catalog.GetLeaveType(r.Context(), tenantOf(r), policy.LeaveTypeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

// =============================================================================
// POLICIES AND RULES
// =============================================================================

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.engine.Catalog.CreatePolicy(r.Context(), policy.NewPolicy{
		TenantID:  tenantOf(r),
		Name:      req.Name,
		AppliesTo: req.AppliesTo,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(p))
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.engine.Catalog.ListPolicies(r.Context(), tenantOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]PolicyDTO, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SetDefaultPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Catalog.SetDefault(r.Context(), tenantOf(r), policy.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p))
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantOf(r)
	policyID := policy.PolicyID(chi.URLParam(r, "id"))
	if _, err := h.engine.Catalog.GetPolicy(ctx, tenantID, policyID); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.engine.Catalog.ListTypeRules(ctx, tenantID, policyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]factory.RulesJSON, 0, len(list))
	for _, rules := range list {
		out = append(out, h.rules.ToJSON(rules))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateRules(w http.ResponseWriter, r *http.Request) {
	h.upsertRules(w, r, "", policy.CreateOnly, http.StatusCreated)
}

func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	h.upsertRules(w, r, policy.RulesID(chi.URLParam(r, "rulesID")), policy.ExplicitUpdate, http.StatusOK)
}

func (h *Handler) upsertRules(w http.ResponseWriter, r *http.Request, id policy.RulesID, mode policy.UpsertMode, status int) {
	ctx := r.Context()
	tenantID := tenantOf(r)
	policyID := policy.PolicyID(chi.URLParam(r, "id"))

	var rj factory.RulesJSON
	if !decode(w, r, &rj) {
		return
	}
	rj.TenantID, rj.PolicyID, rj.ID = tenantID, string(policyID), string(id)

	if id != "" {
		existing, err := h.engine.Backend.GetTypeRules(ctx, tenantID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if existing.PolicyID != policyID {
			h.writeError(w, r, fmt.Errorf("%w: rules %s belong to policy %s", policy.ErrRulesNotFound, id, existing.PolicyID))
			return
		}
		if rj.LeaveTypeID == "" {
			rj.LeaveTypeID = string(existing.LeaveTypeID)
		}
		if rj.LeaveTypeID != string(existing.LeaveTypeID) {
			h.writeError(w, r, fmt.Errorf("%w: leave type of rules %s cannot change", leave.ErrInvalidInput, id))
			return
		}
	}

	rules, err := h.rules.FromJSON(rj)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.engine.Catalog.UpsertTypeRules(ctx, rules, mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, h.rules.ToJSON(saved))
}

func (h *Handler) DeleteRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantOf(r)
	id := policy.RulesID(chi.URLParam(r, "rulesID"))

	existing, err := h.engine.Backend.GetTypeRules(ctx, tenantID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if string(existing.PolicyID) != chi.URLParam(r, "id") {
		h.writeError(w, r, fmt.Errorf("%w: rules %s belong to policy %s", policy.ErrRulesNotFound, id, existing.PolicyID))
		return
	}
	if err := h.engine.Catalog.RemoveTypeRules(ctx, tenantID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SaveEmployee creates or replaces an employee and seeds the accruals due
// so far this year.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req EmployeeDTO
	if !decode(w, r, &req) {
		return
	}
	emp, err := req.toEmployee(tenantOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Backend.SaveEmployee(ctx, emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.engine.Accruals.SeedEmployee(ctx, emp, h.today()); err != nil {
		h.logger.Warn("accrual seeding after employee save failed",
			zap.String("tenant_id", emp.TenantID),
			zap.String("employee_id", string(emp.ID)),
			zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.engine.Backend.Employees(r.Context(), tenantOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]EmployeeDTO, 0, len(employees))
	for _, emp := range employees {
		out = append(out, toEmployeeDTO(emp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.engine.Backend.Employee(r.Context(), tenantOf(r), generic.EntityID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

func (h *Handler) GetEffectivePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	emp, err := h.engine.Backend.Employee(ctx, tenantOf(r), generic.EntityID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.engine.Catalog.ResolveEffectivePolicy(ctx, emp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := h.engine.Lifecycle.Balance(r.Context(), tenantOf(r),
		generic.EntityID(chi.URLParam(r, "id")), policy.LeaveTypeID(chi.URLParam(r, "leaveTypeID")), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key := generic.BalanceKey{
		TenantID:   tenantOf(r),
		EntityID:   generic.EntityID(chi.URLParam(r, "id")),
		ResourceID: chi.URLParam(r, "leaveTypeID"),
		Year:       year,
	}
	txs, err := h.engine.Balances.Transactions(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.HolderID == "" {
		h.writeError(w, r, fmt.Errorf("%w: holder_id is required", leave.ErrInvalidInput))
		return
	}
	err := h.engine.Backend.AssignRole(r.Context(), tenantOf(r),
		generic.EntityID(req.EmployeeID), req.RoleKey, generic.EntityID(req.HolderID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) AddHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if !decode(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, r, invalidField("date", err))
		return
	}
	err = h.engine.Backend.AddHoliday(r.Context(), leave.Holiday{
		TenantID: tenantOf(r),
		Location: req.Location,
		Date:     date,
		Name:     req.Name,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.engine.Backend.ListHolidays(r.Context(), tenantOf(r), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]HolidayDTO, 0, len(list))
	for _, hd := range list {
		out = append(out, HolidayDTO{Date: hd.Date.String(), Name: hd.Name, Location: hd.Location})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SetWeeklyOffs(w http.ResponseWriter, r *http.Request) {
	var req WeeklyOffsRequest
	if !decode(w, r, &req) {
		return
	}
	days := make([]time.Weekday, 0, len(req.Days))
	for _, name := range req.Days {
		d, ok := parseWeekday(name)
		if !ok {
			h.writeError(w, r, fmt.Errorf("%w: unknown weekday %q", leave.ErrInvalidInput, name))
			return
		}
		days = append(days, d)
	}
	if err := h.engine.Backend.SetWeeklyOffs(r.Context(), tenantOf(r), req.Location, days); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func parseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) || strings.EqualFold(d.String()[:3], name) {
			return d, true
		}
	}
	return 0, false
}

// =============================================================================
// REQUESTS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if !decode(w, r, &req) {
		return
	}
	from, err := generic.ParseDate(req.FromDate)
	if err != nil {
		h.writeError(w, r, invalidField("from_date", err))
		return
	}
	to, err := generic.ParseDate(req.ToDate)
	if err != nil {
		h.writeError(w, r, invalidField("to_date", err))
		return
	}

	res, err := h.engine.Lifecycle.Submit(r.Context(), leave.SubmitInput{
		TenantID:       tenantOf(r),
		EmployeeID:     generic.EntityID(req.EmployeeID),
		LeaveTypeID:    policy.LeaveTypeID(req.LeaveTypeID),
		From:           from,
		To:             to,
		HalfDayStart:   req.HalfDayStart,
		HalfDayEnd:     req.HalfDayEnd,
		Reason:         req.Reason,
		AttachmentRef:  req.AttachmentRef,
		ActorID:        generic.EntityID(req.ActorID),
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := leave.RequestFilter{
		TenantID:    tenantOf(r),
		EmployeeID:  generic.EntityID(q.Get("employee_id")),
		LeaveTypeID: policy.LeaveTypeID(q.Get("leave_type_id")),
	}
	if s := q.Get("status"); s != "" {
		for _, st := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, leave.Status(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	list, err := h.engine.Lifecycle.ListRequests(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]LeaveRequestDTO, 0, len(list))
	for _, req := range list {
		out = append(out, toLeaveRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Lifecycle.GetRequest(r.Context(), tenantOf(r), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Lifecycle.Cancel(r.Context(), tenantOf(r),
		leave.RequestID(chi.URLParam(r, "id")), generic.EntityID(req.ActorID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Lifecycle.RecordDecision(r.Context(), leave.Decision{
		TenantID:       tenantOf(r),
		RequestID:      leave.RequestID(chi.URLParam(r, "id")),
		LevelOrder:     req.LevelOrder,
		ApproverID:     generic.EntityID(req.ApproverID),
		Action:         leave.Action(strings.ToUpper(req.Action)),
		Comment:        req.Comment,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// BATCH
// =============================================================================

func (h *Handler) RunYearEnd(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, invalidField("year", err))
		return
	}
	rep, err := h.engine.YearEnd.RunForTenant(r.Context(), tenantOf(r), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toYearEndReportDTO(rep))
}

func (h *Handler) ExpireCarryForward(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.engine.YearEnd.ExpireCarryForward(r.Context(), tenantOf(r), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiryReportDTO{
		AsOf:    rep.AsOf.String(),
		Rows:    rep.Rows,
		Grants:  rep.Grants,
		Expired: rep.Expired,
	})
}

func (h *Handler) ApplyAccruals(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.engine.Accruals.ApplyDue(r.Context(), tenantOf(r), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccrualReportDTO{
		AsOf:      asOf.String(),
		Employees: rep.Employees,
		Rows:      rep.Rows,
		Granted:   rep.Granted,
		Failed:    rep.Failed,
	})
}

func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, invalidField("year", err))
		return
	}
	records, err := h.engine.Payroll.Records(r.Context(), tenantOf(r), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRecordDTOs(records))
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) ExportPayroll(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantOf(r)
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, invalidField("year", err))
		return
	}
	buf, err := h.engine.Payroll.Export(r.Context(), tenantID, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="payroll-%s-%d.xlsx"`, tenantID, year))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("payroll export write failed", zap.Error(err))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) yearParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("year")
	if s == "" {
		return h.today().Year(), nil
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidField("year", err)
	}
	return year, nil
}

func (h *Handler) asOfParam(r *http.Request) (generic.TimePoint, error) {
	s := r.URL.Query().Get("as_of")
	if s == "" {
		return h.today(), nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, invalidField("as_of", err)
	}
	return tp, nil
}

// idempotencyKey prefers the header over the body field.
func idempotencyKey(r *http.Request, body string) string {
	if k := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); k != "" {
		return k
	}
	return body
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Kind:    string(leave.KindValidation),
			Code:    "INVALID_BODY",
			Message: "invalid request body: " + err.Error(),
		}})
		return false
	}
	return true
}

func invalidField(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", leave.ErrInvalidInput, field, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an engine error onto its status and logs server faults.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := leave.Classify(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Kind:    string(kind),
		Code:    errorCode(err),
		Message: err.Error(),
	}})
}

func statusOf(kind leave.Kind) int {
	switch kind {
	case leave.KindValidation:
		return http.StatusBadRequest
	case leave.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case leave.KindSequencing:
		return http.StatusConflict
	case leave.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{leave.ErrInvalidDateRange, "INVALID_DATE_RANGE"},
	{leave.ErrMissingReason, "MISSING_REASON"},
	{leave.ErrNoWorkingDays, "NO_WORKING_DAYS"},
	{policy.ErrInvalidExpression, "INVALID_EXPRESSION"},
	{policy.ErrInvalidRules, "INVALID_RULES"},
	{policy.ErrInvalidPolicy, "INVALID_POLICY"},
	{leave.ErrInvalidInput, "INVALID_INPUT"},
	{leave.ErrNotEligible, "NOT_ELIGIBLE"},
	{leave.ErrBackdatingNotAllowed, "BACKDATING_NOT_ALLOWED"},
	{leave.ErrRestrictionViolated, "RESTRICTION_VIOLATED"},
	{leave.ErrAttachmentRequired, "ATTACHMENT_REQUIRED"},
	{leave.ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{leave.ErrHalfDayNotAllowed, "HALF_DAY_NOT_ALLOWED"},
	{leave.ErrSelfApplyNotAllowed, "SELF_APPLY_NOT_ALLOWED"},
	{leave.ErrOverlappingRequest, "OVERLAPPING_REQUEST"},
	{policy.ErrNoPolicyConfigured, "NO_POLICY_CONFIGURED"},
	{policy.ErrPolicyNotFound, "POLICY_NOT_FOUND"},
	{leave.ErrInvalidTransition, "INVALID_TRANSITION"},
	{leave.ErrAlreadyFinalized, "ALREADY_FINALIZED"},
	{leave.ErrOutOfOrder, "OUT_OF_ORDER"},
	{leave.ErrNotAuthorized, "NOT_AUTHORIZED"},
	{leave.ErrYearEndInProgress, "YEAR_END_IN_PROGRESS"},
	{leave.ErrLevelAlreadyDecided, "LEVEL_ALREADY_DECIDED"},
	{leave.ErrBalanceInvariant, "BALANCE_INVARIANT"},
	{leave.ErrApproverUnresolved, "APPROVER_UNRESOLVED"},
	{policy.ErrDuplicateTypePolicy, "DUPLICATE_TYPE_POLICY"},
	{leave.ErrRequestNotFound, "REQUEST_NOT_FOUND"},
	{leave.ErrEmployeeNotFound, "EMPLOYEE_NOT_FOUND"},
	{policy.ErrLeaveTypeNotFound, "LEAVE_TYPE_NOT_FOUND"},
	{policy.ErrRulesNotFound, "RULES_NOT_FOUND"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
