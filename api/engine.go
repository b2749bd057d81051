package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/payroll"
	"github.com/warp/leave-engine/policy"
)

// Backend is everything the engine persists. Both store/sqlite and
// store/memory satisfy it.
type Backend interface {
	generic.Store
	policy.Store
	leave.RequestStore
	leave.YearEndStore
	leave.Directory
	leave.Calendar
	leave.DirectoryAdmin
	leave.TxStore
}

// Pinger is implemented by backends with a live connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine wires the catalog, ledger, lifecycle, accruals, year-end and
// payroll over one backend.
type Engine struct {
	Backend   Backend
	Catalog   *policy.Catalog
	Balances  *leave.BalanceLedger
	Lifecycle *leave.Lifecycle
	Accruals  *leave.Accruals
	YearEnd   *leave.YearEndProcessor
	Payroll   *payroll.Workbook
	Logger    *zap.Logger
	Now       func() time.Time
}

type EngineOptions struct {
	Logger *zap.Logger
	// YearEndWorkers bounds the year-end fan-out.
	YearEndWorkers int
	// Notifier receives lifecycle events in addition to the log notifier.
	Notifier leave.Notifier
	// Now is the engine clock; nil means time.Now.
	Now func() time.Time
}

// NewEngine builds the engine. Payroll records go to the backend when it
// implements payroll.Store, otherwise to an in-memory store.
func NewEngine(backend Backend, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	catalog := policy.NewCatalog(backend, logger.With(zap.String("component", "catalog")))
	balances := leave.NewBalanceLedger(generic.NewLedger(backend))

	notifiers := leave.Notifiers{leave.NewLogNotifier(logger)}
	if opts.Notifier != nil {
		notifiers = append(notifiers, opts.Notifier)
	}

	var payrollStore payroll.Store
	if ps, ok := backend.(payroll.Store); ok {
		payrollStore = ps
	}
	workbook := payroll.NewWorkbook(payrollStore, logger)

	accruals := leave.NewAccruals(catalog, balances, backend, logger.With(zap.String("component", "accruals")))

	return &Engine{
		Backend:  backend,
		Catalog:  catalog,
		Balances: balances,
		Lifecycle: leave.NewLifecycle(leave.Deps{
			Catalog:   catalog,
			Balances:  balances,
			Requests:  backend,
			Directory: backend,
			Calendar:  backend,
			Tx:        backend,
			Notifier:  notifiers,
			Logger:    logger.With(zap.String("component", "lifecycle")),
			Now:       now,
		}),
		Accruals: accruals,
		YearEnd: leave.NewYearEndProcessor(leave.YearEndDeps{
			Catalog:   catalog,
			Balances:  balances,
			Marks:     backend,
			Directory: backend,
			Accruals:  accruals,
			Payroll:   workbook,
			Logger:    logger,
			Workers:   opts.YearEndWorkers,
			Now:       now,
		}),
		Payroll: workbook,
		Logger:  logger,
		Now:     now,
	}
}
