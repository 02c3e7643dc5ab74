package amortization

import (
	"github.com/shopspring/decimal"
)

// DefaultNiceTolerance is the distance from a round figure still treated as round.
var DefaultNiceTolerance = decimal.NewFromInt(50)

// epsilon forces the solver strictly past the current installment when it
// already sits on a multiple of the increment.
var epsilon = decimal.New(1, -9)

// incrementTable maps installment magnitude to rounding step, largest first.
var incrementTable = []struct {
	atLeast   decimal.Decimal
	increment decimal.Decimal
}{
	{decimal.NewFromInt(10000), decimal.NewFromInt(1000)},
	{decimal.NewFromInt(5000), decimal.NewFromInt(500)},
	{decimal.NewFromInt(1000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(500), decimal.NewFromInt(50)},
	{decimal.NewFromInt(100), decimal.NewFromInt(10)},
}

// RoundingIncrement returns the step used to make amount a round figure.
func RoundingIncrement(amount decimal.Decimal) decimal.Decimal {
	for _, row := range incrementTable {
		if amount.GreaterThanOrEqual(row.atLeast) {
			return row.increment
		}
	}
	return decimal.NewFromInt(1)
}

// FindRoundedRateUp returns the rate whose installment is the smallest
// round figure strictly above the installment at currentRatePercent.
// A result always exists for valid inputs.
func FindRoundedRateUp(baseAmount decimal.Decimal, installmentCount int, currentRatePercent decimal.Decimal) (RoundingResult, error) {
	t, err := computeTotals(baseAmount, currentRatePercent, installmentCount)
	if err != nil {
		return RoundingResult{}, err
	}
	inc := RoundingIncrement(t.installment)
	target := t.installment.Add(epsilon).Div(inc).Ceil().Mul(inc)
	return solveRate(baseAmount, installmentCount, target), nil
}

// FindRoundedRateDown is the mirror of FindRoundedRateUp. It returns nil
// with no error when no positive round figure lies below the current
// installment; callers should treat that as "not available", not a failure.
func FindRoundedRateDown(baseAmount decimal.Decimal, installmentCount int, currentRatePercent decimal.Decimal) (*RoundingResult, error) {
	t, err := computeTotals(baseAmount, currentRatePercent, installmentCount)
	if err != nil {
		return nil, err
	}
	inc := RoundingIncrement(t.installment)
	target := t.installment.Sub(epsilon).Div(inc).Floor().Mul(inc)
	if !target.IsPositive() {
		return nil, nil
	}
	r := solveRate(baseAmount, installmentCount, target)
	return &r, nil
}

// solveRate inverts the simple-interest formula for a target installment.
// The rate never goes below zero.
func solveRate(baseAmount decimal.Decimal, installmentCount int, target decimal.Decimal) RoundingResult {
	count := decimal.NewFromInt(int64(installmentCount))
	total := target.Mul(count)
	rate := total.Div(baseAmount).Sub(decimal.NewFromInt(1)).Mul(hundred)
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	return RoundingResult{
		InterestRatePercent: rate,
		InstallmentAmount:   target,
		TotalAmount:         total,
	}
}

// IsNiceRoundNumber reports whether amount is within DefaultNiceTolerance
// of a multiple of its rounding increment.
func IsNiceRoundNumber(amount decimal.Decimal) bool {
	return IsNiceRoundNumberWithin(amount, DefaultNiceTolerance)
}

func IsNiceRoundNumberWithin(amount, tolerance decimal.Decimal) bool {
	inc := RoundingIncrement(amount)
	rounded := amount.Div(inc).Round(0).Mul(inc)
	return amount.Sub(rounded).Abs().LessThanOrEqual(tolerance)
}
