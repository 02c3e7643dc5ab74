package amortization_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func terms(principal, rate string, count int, start amortization.Date) amortization.LoanTerms {
	return amortization.LoanTerms{
		Principal:           dec(principal),
		InterestRatePercent: dec(rate),
		InstallmentCount:    count,
		StartDate:           start,
	}
}

// =============================================================================
// COMPUTE SCHEDULE
// =============================================================================

func TestComputeSchedule_ReferenceLoan(t *testing.T) {
	start := amortization.NewDate(2025, time.January, 15)

	result, err := amortization.ComputeSchedule(terms("100000", "34", 5, start))
	require.NoError(t, err)

	assertDecimal(t, "134000", result.TotalAmount)
	assertDecimal(t, "26800", result.InstallmentAmount)
	assertDecimal(t, "34000", result.InterestAmount)
	require.Len(t, result.Schedule, 5)

	wantDates := []string{"2025-02-15", "2025-03-15", "2025-04-15", "2025-05-15", "2025-06-15"}
	for i, entry := range result.Schedule {
		assert.Equal(t, i+1, entry.InstallmentNumber)
		assert.Equal(t, wantDates[i], entry.DueDate.String())
		assertDecimal(t, "26800", entry.Amount)
		assert.Equal(t, amortization.StatusPending, entry.Status)
	}
	assert.True(t, result.Remainder().IsZero())
}

func TestComputeSchedule_ZeroInterest(t *testing.T) {
	result, err := amortization.ComputeSchedule(terms("1200", "0", 12, amortization.NewDate(2025, time.March, 1)))
	require.NoError(t, err)

	assertDecimal(t, "1200", result.TotalAmount)
	assertDecimal(t, "100", result.InstallmentAmount)
	assert.True(t, result.InterestAmount.IsZero())
}

func TestComputeSchedule_Properties(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		count     int
		start     amortization.Date
	}{
		{"100000", "34", 5, amortization.NewDate(2025, time.January, 15)},
		{"1000", "10", 3, amortization.NewDate(2025, time.January, 31)},
		{"2500.50", "7.25", 24, amortization.NewDate(2024, time.February, 29)},
		{"10", "0", 1, amortization.NewDate(2025, time.December, 31)},
		{"999999.99", "120", 36, amortization.NewDate(2023, time.August, 30)},
	}

	for _, tc := range cases {
		t.Run(tc.principal+"@"+tc.rate, func(t *testing.T) {
			in := terms(tc.principal, tc.rate, tc.count, tc.start)
			result, err := amortization.ComputeSchedule(in)
			require.NoError(t, err)

			// Additivity
			assert.True(t, result.TotalAmount.Equal(in.Principal.Add(result.InterestAmount)))
			// Length
			require.Len(t, result.Schedule, tc.count)
			// Monotonic calendar-month due dates
			for i, entry := range result.Schedule {
				assert.True(t, entry.DueDate.Equal(tc.start.AddMonths(i+1)))
				if i > 0 {
					assert.True(t, entry.DueDate.After(result.Schedule[i-1].DueDate),
						"entry %d not after entry %d", i+1, i)
				}
			}
		})
	}
}

func TestComputeSchedule_MonthEndClamping(t *testing.T) {
	result, err := amortization.ComputeSchedule(terms("3000", "0", 3, amortization.NewDate(2024, time.January, 31)))
	require.NoError(t, err)

	got := []string{}
	for _, e := range result.Schedule {
		got = append(got, e.DueDate.String())
	}
	assert.Equal(t, []string{"2024-02-29", "2024-03-31", "2024-04-30"}, got)
}

func TestComputeSchedule_NonDivisibleTotalKeepsEqualInstallments(t *testing.T) {
	result, err := amortization.ComputeSchedule(terms("100", "0", 3, amortization.NewDate(2025, time.May, 5)))
	require.NoError(t, err)

	for _, e := range result.Schedule {
		assert.True(t, e.Amount.Equal(result.InstallmentAmount))
	}
	assert.False(t, result.Remainder().IsZero(), "equal thirds of 100 leave a remainder")
	assert.True(t, result.Remainder().Abs().LessThan(dec("0.000001")))
}

func TestComputeSchedule_InvalidTerms(t *testing.T) {
	start := amortization.NewDate(2025, time.January, 15)
	cases := []struct {
		name  string
		terms amortization.LoanTerms
		field string
	}{
		{"negative principal", terms("-100", "10", 5, start), "principal"},
		{"zero principal", terms("0", "10", 5, start), "principal"},
		{"negative rate", terms("100", "-1", 5, start), "interest_rate_percent"},
		{"zero count", terms("100", "10", 0, start), "installment_count"},
		{"negative count", terms("100", "10", -3, start), "installment_count"},
		{"missing start date", terms("100", "10", 3, amortization.Date{}), "start_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := amortization.ComputeSchedule(tc.terms)
			require.Error(t, err)
			assert.ErrorIs(t, err, amortization.ErrInvalidLoanTerms)

			var termsErr *amortization.InvalidLoanTermsError
			require.ErrorAs(t, err, &termsErr)
			assert.Equal(t, tc.field, termsErr.Field)
			assert.Empty(t, result.Schedule)
			assert.True(t, result.TotalAmount.IsZero())
		})
	}
}

// =============================================================================
// DATES
// =============================================================================

func TestDate_AddMonthsAcrossYear(t *testing.T) {
	d := amortization.NewDate(2025, time.November, 30)
	assert.Equal(t, "2025-12-30", d.AddMonths(1).String())
	assert.Equal(t, "2026-02-28", d.AddMonths(3).String())
	assert.Equal(t, "2025-10-30", d.AddMonths(-1).String())
}

func TestDate_JSON(t *testing.T) {
	var d amortization.Date
	require.NoError(t, d.UnmarshalJSON([]byte(`"2025-01-15"`)))
	assert.Equal(t, amortization.NewDate(2025, time.January, 15), d)

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"2025-01-15"`, string(out))

	assert.Error(t, d.UnmarshalJSON([]byte(`"15/01/2025"`)))
}
