package amortization_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
)

var roundTripTolerance = decimal.New(1, -6)

func installmentAt(t *testing.T, base decimal.Decimal, count int, rate decimal.Decimal) decimal.Decimal {
	t.Helper()
	result, err := amortization.ComputeSchedule(amortization.LoanTerms{
		Principal:           base,
		InterestRatePercent: rate,
		InstallmentCount:    count,
		StartDate:           amortization.NewDate(2025, time.January, 1),
	})
	require.NoError(t, err)
	return result.InstallmentAmount
}

func TestRoundingIncrement_Table(t *testing.T) {
	cases := map[string]string{
		"26800":  "1000",
		"10000":  "1000",
		"9999":   "500",
		"5000":   "500",
		"4800":   "100",
		"1000":   "100",
		"999.99": "50",
		"500":    "50",
		"150":    "10",
		"100":    "10",
		"99":     "1",
		"0.5":    "1",
	}
	for amount, want := range cases {
		got := amortization.RoundingIncrement(dec(amount))
		assert.True(t, dec(want).Equal(got), "amount %s: want %s, got %s", amount, want, got)
	}
}

func TestFindRoundedRateUp_ReferenceLoan(t *testing.T) {
	r, err := amortization.FindRoundedRateUp(dec("100000"), 5, dec("34"))
	require.NoError(t, err)

	assertDecimal(t, "27000", r.InstallmentAmount)
	assertDecimal(t, "35", r.InterestRatePercent)
	assertDecimal(t, "135000", r.TotalAmount)
}

func TestFindRoundedRateUp_AlreadyRoundMovesStrictlyUp(t *testing.T) {
	// 100000 @ 35% over 5 is exactly 27000 already.
	r, err := amortization.FindRoundedRateUp(dec("100000"), 5, dec("35"))
	require.NoError(t, err)
	assertDecimal(t, "28000", r.InstallmentAmount)
	assertDecimal(t, "40", r.InterestRatePercent)
}

func TestFindRoundedRateDown_ReferenceLoan(t *testing.T) {
	r, err := amortization.FindRoundedRateDown(dec("100000"), 5, dec("34"))
	require.NoError(t, err)
	require.NotNil(t, r)

	assertDecimal(t, "26000", r.InstallmentAmount)
	assertDecimal(t, "30", r.InterestRatePercent)
	assertDecimal(t, "130000", r.TotalAmount)
}

func TestFindRoundedRateDown_TensBucket(t *testing.T) {
	// 1000 @ 50% over 10 gives 150 per installment: increment 10.
	r, err := amortization.FindRoundedRateDown(dec("1000"), 10, dec("50"))
	require.NoError(t, err)
	require.NotNil(t, r)
	assertDecimal(t, "140", r.InstallmentAmount)
	assertDecimal(t, "40", r.InterestRatePercent)
}

func TestFindRoundedRateDown_NoLowerRoundFigure(t *testing.T) {
	// Installment of exactly 1 with increment 1: nothing positive below it.
	r, err := amortization.FindRoundedRateDown(dec("1"), 1, dec("0"))
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = amortization.FindRoundedRateDown(dec("0.5"), 1, dec("0"))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestFindRoundedRate_InvalidInputs(t *testing.T) {
	_, err := amortization.FindRoundedRateUp(dec("-1"), 5, dec("10"))
	assert.ErrorIs(t, err, amortization.ErrInvalidLoanTerms)

	_, err = amortization.FindRoundedRateDown(dec("1000"), 0, dec("10"))
	assert.ErrorIs(t, err, amortization.ErrInvalidLoanTerms)
}

func TestFindRoundedRate_Properties(t *testing.T) {
	cases := []struct {
		base  string
		count int
		rate  string
	}{
		{"100000", 5, "34"},
		{"30000", 7, "12"},
		{"1234.56", 3, "9.5"},
		{"50000", 24, "0"},
		{"750", 1, "3"},
		{"8000000", 48, "80"},
	}

	for _, tc := range cases {
		t.Run(tc.base, func(t *testing.T) {
			base, rate := dec(tc.base), dec(tc.rate)
			current := installmentAt(t, base, tc.count, rate)

			up, err := amortization.FindRoundedRateUp(base, tc.count, rate)
			require.NoError(t, err)
			assert.True(t, up.InstallmentAmount.GreaterThan(current), "up %s <= current %s", up.InstallmentAmount, current)
			assert.False(t, up.InterestRatePercent.IsNegative())

			// Round trip: the suggested rate reproduces the round installment.
			got := installmentAt(t, base, tc.count, up.InterestRatePercent)
			assert.True(t, got.Sub(up.InstallmentAmount).Abs().LessThanOrEqual(roundTripTolerance),
				"round trip %s vs %s", got, up.InstallmentAmount)

			down, err := amortization.FindRoundedRateDown(base, tc.count, rate)
			require.NoError(t, err)
			if down != nil {
				assert.True(t, down.InstallmentAmount.LessThan(current))
				assert.True(t, down.InstallmentAmount.IsPositive())
			}
		})
	}
}

func TestIsNiceRoundNumber(t *testing.T) {
	assert.True(t, amortization.IsNiceRoundNumber(dec("27000")))
	assert.True(t, amortization.IsNiceRoundNumber(dec("27040")))
	assert.False(t, amortization.IsNiceRoundNumber(dec("26800")), "200 away from a thousand")
	assert.True(t, amortization.IsNiceRoundNumber(dec("1234")), "34 away from 1200 in the hundreds bucket")

	assert.False(t, amortization.IsNiceRoundNumberWithin(dec("27040"), dec("10")))
	assert.True(t, amortization.IsNiceRoundNumberWithin(dec("150"), decimal.Zero))
}
