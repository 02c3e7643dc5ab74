package api

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// pastDueLoan books 3000 @ 0% x 3 from Nov 1, leaving two installments
// past due on Jan 15.
func pastDueLoan(t *testing.T, ts *testServer) {
	t.Helper()
	mgr, err := ts.svc.CreateUser(ts.ctx, ts.admin, servicing.NewUser{Name: "Carlos", Role: servicing.RoleManager})
	require.NoError(t, err)
	client, err := ts.svc.CreateClient(ts.ctx, mgr, servicing.NewClient{Name: "Ana", DocumentID: "30111222"})
	require.NoError(t, err)
	_, err = ts.svc.CreateLoan(ts.ctx, mgr, servicing.LoanRequest{
		ClientID:            client.ID,
		Principal:           decimal.NewFromInt(3000),
		InterestRatePercent: decimal.Zero,
		InstallmentCount:    3,
		StartDate:           amortization.NewDate(2024, time.November, 1),
	})
	require.NoError(t, err)
}

func TestOverdueScheduler_RunNow(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	pastDueLoan(t, ts)

	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	s.now = func() time.Time { return ts.now }

	res := s.RunNow(ts.ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, "2025-01-15", res.AsOf.String())

	res = s.RunNow(ts.ctx)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, ts.now.Add(time.Hour), s.NextRunTime())
}

func TestOverdueScheduler_StartRunsImmediately(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	pastDueLoan(t, ts)

	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	s.now = func() time.Time { return ts.now }
	s.CheckInterval = time.Hour

	s.Start()
	require.Eventually(t, func() bool { return !s.LastRun().RanAt.IsZero() }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 2, s.LastRun().Updated)
}

func TestOverdueScheduler_RestartsAfterStop(t *testing.T) {
	// GIVEN: A scheduler that was started and stopped once
	ts := newTestServer(t, RouterConfig{})
	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	var runs atomic.Int32
	s.now = func() time.Time {
		runs.Add(1)
		return ts.now
	}
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	s.Stop()

	// WHEN: It is started again
	before := runs.Load()
	s.Start()
	defer s.Stop()

	// THEN: It keeps sweeping on every tick, not just once
	assert.Eventually(t, func() bool { return runs.Load() >= before+3 }, 2*time.Second, 5*time.Millisecond)
}

func TestOverdueScheduler_Disabled(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	s.Enabled = false

	s.Start()
	s.Stop()
	assert.True(t, s.LastRun().RanAt.IsZero())
}

func TestOverdueScheduler_StatusRoute(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	pastDueLoan(t, ts)

	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	s.now = func() time.Time { return ts.now }
	ts.router = NewRouter(ts.handler, RouterConfig{Scheduler: s})
	s.RunNow(ts.ctx)

	rec := ts.do(t, "GET", "/api/admin/overdue", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeAs[OverdueStatusDTO](t, rec)
	assert.True(t, got.Enabled)
	assert.Equal(t, "1h0m0s", got.Interval)
	assert.Equal(t, 2, got.Updated)
	assert.Equal(t, "2025-01-15", got.LastAsOf.String())
	assert.Equal(t, "2025-01-15T11:00:00Z", got.NextRunAt)
}

func TestOverdueScheduler_StatusRouteIsStaffOnly(t *testing.T) {
	// GIVEN: A manager and a borrower account
	ts := newTestServer(t, RouterConfig{})
	s := NewOverdueScheduler(ts.svc, ts.handler, ts.admin, nil)
	ts.router = NewRouter(ts.handler, RouterConfig{Scheduler: s})
	mgr, err := ts.svc.CreateUser(ts.ctx, ts.admin, servicing.NewUser{Name: "Carlos", Role: servicing.RoleManager})
	require.NoError(t, err)
	borrower, err := ts.svc.CreateUser(ts.ctx, mgr, servicing.NewUser{Name: "Ana", Role: servicing.RoleClient})
	require.NoError(t, err)

	// WHEN/THEN: Neither can read or trigger the sweep
	for _, id := range []string{mgr.ID, borrower.ID} {
		rec := ts.do(t, "GET", "/api/admin/overdue", id, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
		rec = ts.do(t, "POST", "/api/admin/overdue", id, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	}
}
