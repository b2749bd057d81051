package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/payroll"
)

func record(ref, emp string, year int, kind leave.PayrollRecordKind, days string) leave.PayrollRecord {
	return leave.PayrollRecord{
		Reference:     ref,
		TenantID:      "acme",
		EmployeeID:    generic.EntityID("emp-" + emp),
		LeaveTypeID:   "annual",
		LeaveTypeCode: "ANNUAL",
		IsPaid:        true,
		Year:          year,
		Kind:          kind,
		Days:          decimal.RequireFromString(days),
		CreatedAt:     time.Date(year+1, time.January, 1, 0, 5, 0, 0, time.UTC),
	}
}

func TestWorkbook_EmitDeduplicates(t *testing.T) {
	ctx := context.Background()
	w := payroll.NewWorkbook(nil, nil)

	rec := record("yearend:acme/emp-1/annual/2025:PAYOUT", "1", 2025, leave.PayrollPayout, "4.5")
	require.NoError(t, w.Emit(ctx, rec))
	require.NoError(t, w.Emit(ctx, rec))

	recs, err := w.Records(ctx, "acme", 2025)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	err = w.Emit(ctx, leave.PayrollRecord{TenantID: "acme"})
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}

func TestWorkbook_RecordsFilterByTenantAndYear(t *testing.T) {
	ctx := context.Background()
	w := payroll.NewWorkbook(payroll.NewMemoryStore(), nil)

	require.NoError(t, w.Emit(ctx, record("b", "2", 2025, leave.PayrollDeduction, "2")))
	require.NoError(t, w.Emit(ctx, record("a", "1", 2025, leave.PayrollPayout, "3")))
	require.NoError(t, w.Emit(ctx, record("c", "1", 2024, leave.PayrollPayout, "1")))
	other := record("d", "1", 2025, leave.PayrollPayout, "1")
	other.TenantID = "globex"
	require.NoError(t, w.Emit(ctx, other))

	recs, err := w.Records(ctx, "acme", 2025)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Reference)
	assert.Equal(t, "b", recs[1].Reference)

	recs, err = w.Records(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestWorkbook_Export(t *testing.T) {
	// GIVEN: One payout and one deduction for 2025
	// WHEN: The year is exported
	// THEN: The workbook has a header row and one row per record

	ctx := context.Background()
	w := payroll.NewWorkbook(nil, nil)
	require.NoError(t, w.Emit(ctx, record("yearend:acme/emp-1/annual/2025:PAYOUT", "1", 2025, leave.PayrollPayout, "4.5")))
	require.NoError(t, w.Emit(ctx, record("yearend:acme/emp-2/annual/2025:DEDUCTION", "2", 2025, leave.PayrollDeduction, "2")))

	buf, err := w.Export(ctx, "acme", 2025)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Payroll"}, f.GetSheetList())
	rows, err := f.GetRows("Payroll")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Reference", "Employee", "Leave type", "Paid", "Year", "Kind", "Days", "Created"}, rows[0])

	payout := rows[1]
	assert.Equal(t, "yearend:acme/emp-1/annual/2025:PAYOUT", payout[0])
	assert.Equal(t, "emp-1", payout[1])
	assert.Equal(t, "ANNUAL", payout[2])
	assert.Equal(t, "2025", payout[4])
	assert.Equal(t, "PAYOUT", payout[5])
	assert.Equal(t, "4.5", payout[6])
	assert.Equal(t, "2026-01-01 00:05:00", payout[7])

	assert.Equal(t, "DEDUCTION", rows[2][5])
}

func TestWorkbook_ExportEmptyYear(t *testing.T) {
	buf, err := payroll.NewWorkbook(nil, nil).Export(context.Background(), "acme", 2030)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Payroll")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
