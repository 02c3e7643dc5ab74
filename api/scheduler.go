/*
scheduler.go - Automated overdue sweep

PURPOSE:
  Periodically moves unpaid installments whose due date has passed to
  OVERDUE, so portfolio figures and borrower lookups reflect arrears
  without anyone pressing a button.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps as the root admin, so every manager's book is covered
  - Sweeps are idempotent; an installment already OVERDUE or PAID is
    left alone, so overlapping manual and scheduled runs are harmless
  - Drops cached portfolio figures when a sweep changed anything

USAGE:
  scheduler := NewOverdueScheduler(svc, handler, admin, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: MarkOverdue endpoint (manual sweep)
  - servicing/payments.go: Service.MarkOverdue
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// SweepResult describes the most recent sweep.
type SweepResult struct {
	AsOf    amortization.Date
	Updated int
	Err     error
	RanAt   time.Time
}

// OverdueScheduler runs Service.MarkOverdue on a ticker.
type OverdueScheduler struct {
	Service       *servicing.Service
	Handler       *Handler
	Admin         servicing.User
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   SweepResult
}

// NewOverdueScheduler creates a scheduler that sweeps hourly.
func NewOverdueScheduler(svc *servicing.Service, handler *Handler, admin servicing.User, log *zap.Logger) *OverdueScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OverdueScheduler{
		Service:       svc,
		Handler:       handler,
		Admin:         admin,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.Named("overdue"),
		now:           time.Now,
	}
}

// Start begins the scheduler. It may be called again after Stop.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker.C, s.stop)

	s.log.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		s.wg.Wait()
		s.log.Info("stopped")
	}
}

func (s *OverdueScheduler) run(ticks <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticks:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow sweeps as of today and records the result.
func (s *OverdueScheduler) RunNow(ctx context.Context) SweepResult {
	now := s.now()
	asOf := amortization.DateOf(now)

	n, err := s.Service.MarkOverdue(ctx, s.Admin, asOf)
	res := SweepResult{AsOf: asOf, Updated: n, Err: err, RanAt: now}

	switch {
	case err != nil:
		s.log.Error("sweep failed", zap.Stringer("as_of", asOf), zap.Error(err))
	case n > 0:
		OverdueMarked.Add(float64(n))
		if s.Handler != nil {
			s.Handler.invalidatePortfolio(ctx)
		}
		s.log.Info("sweep completed", zap.Stringer("as_of", asOf), zap.Int("updated", n))
	default:
		s.log.Debug("sweep completed, nothing overdue", zap.Stringer("as_of", asOf))
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res
}

// LastRun returns the result of the most recent sweep.
func (s *OverdueScheduler) LastRun() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *OverdueScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.RanAt.IsZero() {
		return s.now()
	}
	return s.last.RanAt.Add(s.CheckInterval)
}

// Status serves the last sweep result.
func (s *OverdueScheduler) Status(w http.ResponseWriter, r *http.Request) {
	last := s.LastRun()
	resp := OverdueStatusDTO{
		Enabled:   s.Enabled,
		Interval:  s.CheckInterval.String(),
		LastAsOf:  last.AsOf,
		LastRunAt: formatTimestamp(last.RanAt),
		Updated:   last.Updated,
		NextRunAt: formatTimestamp(s.NextRunTime()),
	}
	if last.Err != nil {
		resp.Error = last.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
