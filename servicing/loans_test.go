package servicing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

func TestCreateLoan_ReferenceScenario(t *testing.T) {
	// GIVEN: 100000 at 34% simple interest over 5 monthly installments
	// WHEN: The manager creates the loan
	// THEN: 134000 total, 5 x 26800 due on the 15th of each following month
	f := newFixture(t)

	details := f.loan(t, f.mgr, f.client, "100000", "34", 5)

	assertDecimal(t, "134000", details.TotalAmount)
	assertDecimal(t, "26800", details.InstallmentAmount)
	assertDecimal(t, "34000", details.InterestAmount)
	assert.Equal(t, servicing.LoanActive, details.Status)
	assert.Equal(t, f.mgr.ID, details.ManagerID)
	assert.Len(t, details.TrackingCode, 10)

	require.Len(t, details.Installments, 5)
	for i, sub := range details.Installments {
		assert.Equal(t, i+1, sub.Number)
		assert.Equal(t, amortization.NewDate(2025, time.Month(2+i), 15), sub.DueDate)
		assertDecimal(t, "26800", sub.Amount)
		assert.Equal(t, amortization.StatusPending, sub.Status)
	}

	stored, err := f.svc.GetLoan(f.ctx, f.sub, details.ID)
	require.NoError(t, err)
	assert.Equal(t, details.TrackingCode, stored.TrackingCode)
	assert.Len(t, stored.Installments, 5)
}

func TestCreateLoan_Rounding(t *testing.T) {
	f := newFixture(t)

	t.Run("up adjusts the rate to the next round installment", func(t *testing.T) {
		details, err := f.svc.CreateLoan(f.ctx, f.mgr, servicing.LoanRequest{
			ClientID:            f.client.ID,
			Principal:           dec("100000"),
			InterestRatePercent: dec("34"),
			InstallmentCount:    5,
			StartDate:           amortization.NewDate(2025, time.January, 15),
			Rounding:            servicing.RoundingUp,
		})
		require.NoError(t, err)
		assertDecimal(t, "35", details.InterestRatePercent)
		assertDecimal(t, "27000", details.InstallmentAmount)
		assertDecimal(t, "135000", details.TotalAmount)
	})

	t.Run("rounded rate still honors the rate limit", func(t *testing.T) {
		// GIVEN: A 34.5% cap, and 34% rounds up to 35%
		limits := servicing.DefaultLimits()
		limits.MaxRatePercent = dec("34.5")
		capped := servicing.NewService(f.store, servicing.WithLimits(limits))

		// WHEN: The manager asks for the rounded-up installment
		_, err := capped.CreateLoan(f.ctx, f.mgr, servicing.LoanRequest{
			ClientID:            f.client.ID,
			Principal:           dec("100000"),
			InterestRatePercent: dec("34"),
			InstallmentCount:    5,
			StartDate:           amortization.NewDate(2025, time.January, 15),
			Rounding:            servicing.RoundingUp,
		})

		// THEN: The loan is refused
		var verr *servicing.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "rounding", verr.Field)

		loans, err := f.svc.ListLoans(f.ctx, f.mgr, f.client.ID)
		require.NoError(t, err)
		assert.Len(t, loans, 1)
	})

	t.Run("down without a lower round figure is a client error", func(t *testing.T) {
		_, err := f.svc.CreateLoan(f.ctx, f.mgr, servicing.LoanRequest{
			ClientID:            f.client.ID,
			Principal:           dec("1"),
			InterestRatePercent: dec("0"),
			InstallmentCount:    1,
			StartDate:           amortization.NewDate(2025, time.January, 15),
			Rounding:            servicing.RoundingDown,
		})
		assert.ErrorIs(t, err, servicing.ErrNoRoundingPossible)
		assert.True(t, servicing.IsClientError(err))
	})
}

func TestCreateLoan_Rejections(t *testing.T) {
	f := newFixture(t)
	start := amortization.NewDate(2025, time.January, 15)

	tests := []struct {
		name  string
		actor servicing.User
		req   servicing.LoanRequest
		check func(t *testing.T, err error)
	}{
		{
			name:  "negative principal",
			actor: f.mgr,
			req:   servicing.LoanRequest{ClientID: f.client.ID, Principal: dec("-1"), InterestRatePercent: dec("10"), InstallmentCount: 3, StartDate: start},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, amortization.ErrInvalidLoanTerms) },
		},
		{
			name:  "too many installments",
			actor: f.mgr,
			req:   servicing.LoanRequest{ClientID: f.client.ID, Principal: dec("100"), InterestRatePercent: dec("10"), InstallmentCount: 601, StartDate: start},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, servicing.ErrInvalidInput) },
		},
		{
			name:  "rate above limit",
			actor: f.mgr,
			req:   servicing.LoanRequest{ClientID: f.client.ID, Principal: dec("100"), InterestRatePercent: dec("1000.5"), InstallmentCount: 3, StartDate: start},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, servicing.ErrInvalidInput) },
		},
		{
			name:  "missing start date",
			actor: f.mgr,
			req:   servicing.LoanRequest{ClientID: f.client.ID, Principal: dec("100"), InterestRatePercent: dec("10"), InstallmentCount: 3},
			check: func(t *testing.T, err error) { assert.True(t, servicing.IsClientError(err)) },
		},
		{
			name:  "client of another manager",
			actor: f.mgr,
			req:   servicing.LoanRequest{ClientID: f.other.ID, Principal: dec("100"), InterestRatePercent: dec("10"), InstallmentCount: 3, StartDate: start},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, servicing.ErrForbidden) },
		},
		{
			name:  "unknown client",
			actor: f.admin,
			req:   servicing.LoanRequest{ClientID: "ghost", Principal: dec("100"), InterestRatePercent: dec("10"), InstallmentCount: 3, StartDate: start},
			check: func(t *testing.T, err error) { assert.True(t, servicing.IsNotFound(err)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateLoan(f.ctx, tt.actor, tt.req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	loans, err := f.svc.ListLoans(f.ctx, f.admin, "")
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestListLoans_Scoped(t *testing.T) {
	f := newFixture(t)
	f.loan(t, f.mgr, f.client, "1000", "10", 2)
	f.loan(t, f.mgr2, f.other, "2000", "10", 2)

	all, err := f.svc.ListLoans(f.ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListLoans(f.ctx, f.mgr2, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.other.ID, mine[0].ClientID)

	byClient, err := f.svc.ListLoans(f.ctx, f.admin, f.client.ID)
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assertDecimal(t, "1000", byClient[0].Principal)
}

func TestChangeLoanStatus(t *testing.T) {
	f := newFixture(t)

	t.Run("manager cannot cancel", func(t *testing.T) {
		loan := f.loan(t, f.mgr, f.client, "1000", "0", 2)
		_, err := f.svc.ChangeLoanStatus(f.ctx, f.mgr, loan.ID, servicing.LoanCancelled)
		assert.ErrorIs(t, err, servicing.ErrForbidden)
	})

	t.Run("admin cancels an untouched loan", func(t *testing.T) {
		loan := f.loan(t, f.mgr, f.client, "1000", "0", 2)
		updated, err := f.svc.ChangeLoanStatus(f.ctx, f.admin, loan.ID, servicing.LoanCancelled)
		require.NoError(t, err)
		assert.Equal(t, servicing.LoanCancelled, updated.Status)

		_, err = f.pay(f.mgr, loan.Installments[0], "500")
		assert.ErrorIs(t, err, servicing.ErrLoanNotActive)
	})

	t.Run("loan with payments cannot be cancelled", func(t *testing.T) {
		loan := f.loan(t, f.mgr, f.client, "1000", "0", 2)
		_, err := f.pay(f.mgr, loan.Installments[0], "100")
		require.NoError(t, err)

		_, err = f.svc.ChangeLoanStatus(f.ctx, f.admin, loan.ID, servicing.LoanCancelled)
		assert.ErrorIs(t, err, servicing.ErrInvalidInput)
	})

	t.Run("default and reinstate", func(t *testing.T) {
		loan := f.loan(t, f.mgr, f.client, "1000", "0", 2)
		_, err := f.svc.ChangeLoanStatus(f.ctx, f.mgr, loan.ID, servicing.LoanDefaulted)
		require.NoError(t, err)

		// Collection still works on a defaulted loan.
		_, err = f.pay(f.mgr, loan.Installments[0], "500")
		require.NoError(t, err)

		back, err := f.svc.ChangeLoanStatus(f.ctx, f.mgr, loan.ID, servicing.LoanActive)
		require.NoError(t, err)
		assert.Equal(t, servicing.LoanActive, back.Status)
	})

	t.Run("completed is final", func(t *testing.T) {
		loan := f.loan(t, f.mgr, f.client, "100", "0", 1)
		_, err := f.pay(f.mgr, loan.Installments[0], "100")
		require.NoError(t, err)

		_, err = f.svc.ChangeLoanStatus(f.ctx, f.admin, loan.ID, servicing.LoanActive)
		assert.ErrorIs(t, err, servicing.ErrInvalidInput)
	})
}

func TestSuggestRounding(t *testing.T) {
	s, err := servicing.SuggestRounding(dec("100000"), 5, dec("34"))
	require.NoError(t, err)

	assertDecimal(t, "26800", s.CurrentInstallment)
	assertDecimal(t, "27000", s.Up.InstallmentAmount)
	assertDecimal(t, "35", s.Up.InterestRatePercent)
	require.NotNil(t, s.Down)
	assert.True(t, s.Down.InstallmentAmount.LessThan(s.CurrentInstallment))
	assert.True(t, s.Down.InstallmentAmount.IsPositive())
}

func TestParseRounding(t *testing.T) {
	r, err := servicing.ParseRounding("")
	require.NoError(t, err)
	assert.Equal(t, servicing.RoundingNone, r)

	_, err = servicing.ParseRounding("sideways")
	assert.ErrorIs(t, err, servicing.ErrInvalidInput)
}
