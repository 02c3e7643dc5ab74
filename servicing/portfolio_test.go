package servicing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// seedPortfolio builds:
//
//	Carlos: 1000 @ 10% x 2 (550 each), first installment paid
//	        500 @ 0% x 1, cancelled
//	Diego:  2000 @ 0% x 4 (500 each), nothing paid
func seedPortfolio(t *testing.T, f *fixture) (carlosLoan, diegoLoan servicing.LoanDetails) {
	t.Helper()
	carlosLoan = f.loan(t, f.mgr, f.client, "1000", "10", 2)
	_, err := f.pay(f.mgr, carlosLoan.Installments[0], "550")
	require.NoError(t, err)

	cancelled := f.loan(t, f.mgr, f.client, "500", "0", 1)
	_, err = f.svc.ChangeLoanStatus(f.ctx, f.admin, cancelled.ID, servicing.LoanCancelled)
	require.NoError(t, err)

	diegoLoan = f.loan(t, f.mgr2, f.other, "2000", "0", 4)
	return carlosLoan, diegoLoan
}

var march20 = amortization.NewDate(2025, time.March, 20)

func assertSummary(t *testing.T, want, got servicing.PortfolioSummary) {
	t.Helper()
	assert.Equal(t, want.ClientCount, got.ClientCount, "clients")
	assert.Equal(t, want.LoanCount, got.LoanCount, "loans")
	assert.Equal(t, want.ActiveLoans, got.ActiveLoans, "active")
	assert.Equal(t, want.CompletedLoans, got.CompletedLoans, "completed")
	assert.Equal(t, want.DefaultedLoans, got.DefaultedLoans, "defaulted")
	assert.Equal(t, want.CancelledLoans, got.CancelledLoans, "cancelled")
	assert.Equal(t, want.OverdueInstallments, got.OverdueInstallments, "overdue installments")
	assertDecimal(t, want.PrincipalLent.String(), got.PrincipalLent)
	assertDecimal(t, want.ExpectedTotal.String(), got.ExpectedTotal)
	assertDecimal(t, want.InterestExpected.String(), got.InterestExpected)
	assertDecimal(t, want.Collected.String(), got.Collected)
	assertDecimal(t, want.Outstanding.String(), got.Outstanding)
	assertDecimal(t, want.OverdueAmount.String(), got.OverdueAmount)
}

func TestPortfolioSummary(t *testing.T) {
	f := newFixture(t)
	seedPortfolio(t, f)

	t.Run("admin sees everything", func(t *testing.T) {
		got, err := f.svc.PortfolioSummary(f.ctx, f.admin, march20)
		require.NoError(t, err)
		assertSummary(t, servicing.PortfolioSummary{
			ClientCount:         2,
			LoanCount:           3,
			ActiveLoans:         2,
			CancelledLoans:      1,
			PrincipalLent:       dec("3000"),
			ExpectedTotal:       dec("3100"),
			InterestExpected:    dec("100"),
			Collected:           dec("550"),
			Outstanding:         dec("2550"),
			OverdueAmount:       dec("1550"),
			OverdueInstallments: 3,
		}, got)
	})

	t.Run("subadmin sees its branch", func(t *testing.T) {
		got, err := f.svc.PortfolioSummary(f.ctx, f.sub, march20)
		require.NoError(t, err)
		assertSummary(t, servicing.PortfolioSummary{
			ClientCount:         1,
			LoanCount:           2,
			ActiveLoans:         1,
			CancelledLoans:      1,
			PrincipalLent:       dec("1000"),
			ExpectedTotal:       dec("1100"),
			InterestExpected:    dec("100"),
			Collected:           dec("550"),
			Outstanding:         dec("550"),
			OverdueAmount:       dec("550"),
			OverdueInstallments: 1,
		}, got)
	})

	t.Run("nothing overdue before the first due date", func(t *testing.T) {
		got, err := f.svc.PortfolioSummary(f.ctx, f.admin, amortization.NewDate(2025, time.February, 1))
		require.NoError(t, err)
		assert.Zero(t, got.OverdueInstallments)
		assert.True(t, got.OverdueAmount.IsZero())
	})

	t.Run("client role is forbidden", func(t *testing.T) {
		_, err := f.svc.PortfolioSummary(f.ctx, servicing.User{ID: "c", Role: servicing.RoleClient}, march20)
		assert.ErrorIs(t, err, servicing.ErrForbidden)
	})
}

func TestHierarchy_RollsUpFromClients(t *testing.T) {
	// GIVEN: Root -> {Beatriz -> Carlos -> Ana, Diego -> Bruno}
	// WHEN: The admin asks for the tree
	// THEN: Every node's summary is the sum of its children
	f := newFixture(t)
	seedPortfolio(t, f)

	root, err := f.svc.Hierarchy(f.ctx, f.admin, march20)
	require.NoError(t, err)

	total, err := f.svc.PortfolioSummary(f.ctx, f.admin, march20)
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, root.User.ID)
	assertSummary(t, total, root.Summary)

	require.Len(t, root.Children, 2)
	beatriz, diego := root.Children[0], root.Children[1]
	assert.Equal(t, "Beatriz", beatriz.User.Name)
	assert.Equal(t, "Diego", diego.User.Name)
	assertSummary(t, root.Summary, beatriz.Summary.Add(diego.Summary))

	require.Len(t, beatriz.Children, 1)
	carlos := beatriz.Children[0]
	assert.Equal(t, f.mgr.ID, carlos.User.ID)
	assertSummary(t, beatriz.Summary, carlos.Summary)

	require.Len(t, carlos.Clients, 1)
	ana := carlos.Clients[0]
	assert.Equal(t, f.client.ID, ana.Client.ID)
	assertSummary(t, carlos.Summary, ana.Summary)
	assert.Equal(t, 2, ana.Summary.LoanCount)

	require.Len(t, diego.Clients, 1)
	assertDecimal(t, "2000", diego.Summary.Outstanding)
	assert.Equal(t, 2, diego.Summary.OverdueInstallments)
}

func TestHierarchy_ScopedToActor(t *testing.T) {
	f := newFixture(t)
	seedPortfolio(t, f)

	node, err := f.svc.Hierarchy(f.ctx, f.sub, march20)
	require.NoError(t, err)
	assert.Equal(t, f.sub.ID, node.User.ID)
	require.Len(t, node.Children, 1)
	assert.Equal(t, f.mgr.ID, node.Children[0].User.ID)

	node, err = f.svc.Hierarchy(f.ctx, f.mgr2, march20)
	require.NoError(t, err)
	assert.Empty(t, node.Children)
	require.Len(t, node.Clients, 1)
	assert.Equal(t, "Bruno", node.Clients[0].Client.Name)
}

// =============================================================================
// BORROWER LOOKUP
// =============================================================================

func TestLookupLoans(t *testing.T) {
	f := newFixture(t)
	carlosLoan, _ := seedPortfolio(t, f)

	t.Run("document and phone match ignoring formatting", func(t *testing.T) {
		loans, err := f.svc.LookupLoans(f.ctx, "30111222", "54 11 5555 0001")
		require.NoError(t, err)
		require.Len(t, loans, 1, "cancelled loans are hidden")

		l := loans[0]
		assert.Equal(t, carlosLoan.TrackingCode, l.TrackingCode)
		assert.Equal(t, servicing.LoanActive, l.Status)
		assertDecimal(t, "550", l.Paid)
		assertDecimal(t, "550", l.Remaining)
		require.NotNil(t, l.NextDue)
		assert.Equal(t, 2, l.NextDue.Number)
		assert.Equal(t, amortization.NewDate(2025, time.March, 15), l.NextDue.DueDate)
		assert.Len(t, l.Installments, 2)
	})

	t.Run("wrong phone looks like an unknown client", func(t *testing.T) {
		_, err := f.svc.LookupLoans(f.ctx, "30111222", "1100000000")
		assert.ErrorIs(t, err, servicing.ErrClientNotFound)
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := f.svc.LookupLoans(f.ctx, "00000000", "541155550001")
		assert.ErrorIs(t, err, servicing.ErrClientNotFound)
	})

	t.Run("missing input", func(t *testing.T) {
		_, err := f.svc.LookupLoans(f.ctx, "30111222", "")
		assert.ErrorIs(t, err, servicing.ErrInvalidInput)
	})
}
