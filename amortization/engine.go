package amortization

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// totals is the schedule-free part of a computation, shared with the rate
// solver which has no start date.
type totals struct {
	interest    decimal.Decimal
	total       decimal.Decimal
	installment decimal.Decimal
}

func validateAmounts(principal, ratePercent decimal.Decimal, count int) error {
	if !principal.IsPositive() {
		return &InvalidLoanTermsError{Field: "principal", Reason: "must be greater than zero"}
	}
	if ratePercent.IsNegative() {
		return &InvalidLoanTermsError{Field: "interest_rate_percent", Reason: "must not be negative"}
	}
	if count < 1 {
		return &InvalidLoanTermsError{Field: "installment_count", Reason: "must be at least 1"}
	}
	return nil
}

func computeTotals(principal, ratePercent decimal.Decimal, count int) (totals, error) {
	if err := validateAmounts(principal, ratePercent, count); err != nil {
		return totals{}, err
	}
	interest := principal.Mul(ratePercent).Div(hundred)
	total := principal.Add(interest)
	return totals{
		interest:    interest,
		total:       total,
		installment: total.Div(decimal.NewFromInt(int64(count))),
	}, nil
}

// ComputeSchedule derives totals and the payment calendar for the terms.
//
// Installment i (1-based) is due StartDate + i calendar months, and every
// installment has the same amount. Out-of-domain terms return an
// *InvalidLoanTermsError; nothing is clamped.
func ComputeSchedule(terms LoanTerms) (AmortizationResult, error) {
	t, err := computeTotals(terms.Principal, terms.InterestRatePercent, terms.InstallmentCount)
	if err != nil {
		return AmortizationResult{}, err
	}
	if terms.StartDate.IsZero() {
		return AmortizationResult{}, &InvalidLoanTermsError{Field: "start_date", Reason: "is required"}
	}

	schedule := make([]PaymentScheduleEntry, terms.InstallmentCount)
	for i := range schedule {
		n := i + 1
		schedule[i] = PaymentScheduleEntry{
			InstallmentNumber: n,
			DueDate:           terms.StartDate.AddMonths(n),
			Amount:            t.installment,
			Status:            StatusPending,
		}
	}

	return AmortizationResult{
		TotalAmount:       t.total,
		InstallmentAmount: t.installment,
		InterestAmount:    t.interest,
		Schedule:          schedule,
	}, nil
}
