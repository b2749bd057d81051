/*
scheduler.go - Automated leave maintenance scheduler

PURPOSE:
  Periodically runs the batch side of the engine for every tenant so that
  balances stay current without an operator:
    1. Year-end of the previous year (rows already closed are no-ops)
    2. Due accruals of the current year
    3. Carry-forward expiry as of today

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - A tenant that fails one step is logged; the other steps and tenants
    still run
  - Rows skipped by year-end (pending requests) are retried on the next tick

CONFIGURATION:
  scheduler.enabled, scheduler.interval (default: 1 hour)

USAGE:
  scheduler := NewScheduler(engine, cfg.Scheduler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: manual year-end, accrual and expiry endpoints
  - leave/yearend.go, leave/accrual.go
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Scheduler drives year-end, accruals and carry-forward expiry.
type Scheduler struct {
	Engine        *Engine
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	today  func() generic.TimePoint

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// TickSummary reports one pass over all tenants.
type TickSummary struct {
	Tenants   int
	YearEnd   int // rows closed
	Accrued   int // rows granted
	Expired   int // carry-forward grants expired
	Failures  int
	StartedAt time.Time
}

// NewScheduler creates a new scheduler.
func NewScheduler(engine *Engine, cfg config.SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		Engine:        engine,
		CheckInterval: interval,
		Enabled:       cfg.Enabled,
		logger:        engine.Logger.With(zap.String("component", "scheduler")),
		today:         func() generic.TimePoint { return generic.DateOf(engine.Now()) },
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass over every tenant.
func (s *Scheduler) RunNow(ctx context.Context) TickSummary {
	sum := TickSummary{StartedAt: time.Now()}
	today := s.today()

	tenants, err := s.Engine.Backend.Tenants(ctx)
	if err != nil {
		s.logger.Error("listing tenants failed", zap.Error(err))
		sum.Failures++
		return sum
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		sum.Tenants++
		log := s.logger.With(zap.String("tenant_id", tenantID))

		rep, err := s.Engine.YearEnd.RunForTenant(ctx, tenantID, today.Year()-1)
		switch {
		case errors.Is(err, leave.ErrYearEndInProgress):
			log.Debug("year-end already running, skipped")
		case err != nil:
			log.Error("scheduled year-end failed", zap.Error(err))
			sum.Failures++
		default:
			sum.YearEnd += rep.Processed
			sum.Failures += rep.Failed
		}

		acc, err := s.Engine.Accruals.ApplyDue(ctx, tenantID, today)
		if err != nil {
			log.Error("scheduled accruals failed", zap.Error(err))
			sum.Failures++
		} else {
			sum.Accrued += acc.Rows
			sum.Failures += acc.Failed
		}

		exp, err := s.Engine.YearEnd.ExpireCarryForward(ctx, tenantID, today)
		if err != nil {
			log.Error("scheduled carry-forward expiry failed", zap.Error(err))
			sum.Failures++
		} else {
			sum.Expired += exp.Grants
		}
	}

	if sum.YearEnd > 0 || sum.Accrued > 0 || sum.Expired > 0 || sum.Failures > 0 {
		s.logger.Info("scheduler pass completed",
			zap.Int("tenants", sum.Tenants),
			zap.Int("year_end_rows", sum.YearEnd),
			zap.Int("accrued_rows", sum.Accrued),
			zap.Int("expired_grants", sum.Expired),
			zap.Int("failures", sum.Failures),
			zap.Duration("took", time.Since(sum.StartedAt)))
	}
	return sum
}

// NextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
