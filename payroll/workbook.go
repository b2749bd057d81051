/*
Package payroll receives year-end payout and deduction records and exports
them as an Excel workbook for the payroll team.

PURPOSE:
  Implements leave.Payroll. Records are kept in a Store, deduplicated by
  reference, so a rerun of year-end never pays out twice. Export renders a
  tenant's year into an .xlsx workbook with one row per record.

SHEET LAYOUT ("Payroll"):
  Reference | Employee | Leave type | Paid | Year | Kind | Days | Created

SEE ALSO:
  - leave/yearend.go: emits the records
  - store/sqlite: durable Store implementation
*/
package payroll

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// Store persists payroll records. SavePayrollRecord reports false when a
// record with the same reference already exists.
type Store interface {
	SavePayrollRecord(ctx context.Context, rec leave.PayrollRecord) (bool, error)
	ListPayrollRecords(ctx context.Context, tenantID string, year int) ([]leave.PayrollRecord, error)
}

type Workbook struct {
	store  Store
	logger *zap.Logger
}

func NewWorkbook(store Store, logger *zap.Logger) *Workbook {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workbook{store: store, logger: logger.With(zap.String("component", "payroll"))}
}

// Emit records a payout or deduction. A repeated reference is ignored.
func (w *Workbook) Emit(ctx context.Context, rec leave.PayrollRecord) error {
	if rec.Reference == "" {
		return fmt.Errorf("%w: payroll record needs a reference", leave.ErrInvalidInput)
	}
	inserted, err := w.store.SavePayrollRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("save payroll record: %w", err)
	}
	if !inserted {
		w.logger.Debug("duplicate payroll record ignored", zap.String("reference", rec.Reference))
		return nil
	}
	w.logger.Info("payroll record emitted",
		zap.String("reference", rec.Reference),
		zap.String("tenant_id", rec.TenantID),
		zap.String("employee_id", string(rec.EmployeeID)),
		zap.String("kind", string(rec.Kind)),
		zap.String("days", rec.Days.String()))
	return nil
}

func (w *Workbook) Records(ctx context.Context, tenantID string, year int) ([]leave.PayrollRecord, error) {
	return w.store.ListPayrollRecords(ctx, tenantID, year)
}

var headers = []string{"Reference", "Employee", "Leave type", "Paid", "Year", "Kind", "Days", "Created"}

const sheetName = "Payroll"

// Export renders the tenant's records of a year as an .xlsx workbook.
func (w *Workbook) Export(ctx context.Context, tenantID string, year int) (*bytes.Buffer, error) {
	records, err := w.store.ListPayrollRecords(ctx, tenantID, year)
	if err != nil {
		return nil, fmt.Errorf("list payroll records: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			w.logger.Error("close workbook", zap.Error(err))
		}
	}()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeHeader(f, headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := writeRecord(f, i+2, rec); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.WriteToBuffer()
}

func writeHeader(f *excelize.File, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
	})
	if err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", last, 22); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last+"1", style); err != nil {
		return err
	}
	for i, h := range headers {
		if err := writeCell(f, i+1, 1, h); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(f *excelize.File, row int, rec leave.PayrollRecord) error {
	days, _ := rec.Days.Float64()
	values := []any{
		rec.Reference,
		string(rec.EmployeeID),
		rec.LeaveTypeCode,
		rec.IsPaid,
		rec.Year,
		string(rec.Kind),
		days,
		rec.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	for col, v := range values {
		if err := writeCell(f, col+1, row, v); err != nil {
			return err
		}
	}
	return nil
}

func writeCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheetName, cell, value)
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]leave.PayrollRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]leave.PayrollRecord)}
}

func (m *MemoryStore) SavePayrollRecord(_ context.Context, rec leave.PayrollRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Reference]; ok {
		return false, nil
	}
	m.records[rec.Reference] = rec
	return true, nil
}

func (m *MemoryStore) ListPayrollRecords(_ context.Context, tenantID string, year int) ([]leave.PayrollRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []leave.PayrollRecord
	for _, rec := range m.records {
		if rec.TenantID == tenantID && (year == 0 || rec.Year == year) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}
