/*
Package amortization computes simple-interest installment schedules.

PURPOSE:
  Turns loan terms (principal, rate, installment count, start date) into the
  totals and the monthly payment calendar shown to lenders and borrowers, and
  back-solves the interest rate that makes an installment a "round" figure
  for easier cash handling.

KEY CONCEPTS IN THIS FILE (types.go):
  - LoanTerms: calculation inputs
  - AmortizationResult: totals + schedule, immutable once computed
  - PaymentScheduleEntry: one installment (sub-loan) with its due date
  - RoundingResult: output of the rate solver

INTEREST MODEL:
  Simple interest, charged once on principal:
    interest    = principal * rate / 100
    total       = principal + interest
    installment = total / count
  Every installment carries the same amount. No entry absorbs the remainder
  of a non-divisible total; see AmortizationResult.Remainder.

PRECISION:
  All money is decimal.Decimal. Division uses the decimal package's
  DivisionPrecision (16 digits), far below currency resolution.

SEE ALSO:
  - engine.go: ComputeSchedule
  - rounding.go: FindRoundedRateUp / FindRoundedRateDown / IsNiceRoundNumber
  - date.go: calendar-month arithmetic for due dates
*/
package amortization

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS
// =============================================================================

type LoanTerms struct {
	Principal           decimal.Decimal
	InterestRatePercent decimal.Decimal // 5 means 5%
	InstallmentCount    int
	StartDate           Date
}

// =============================================================================
// SCHEDULE
// =============================================================================

// ScheduleStatus is the payment state of one installment. Entries start
// PENDING; payment recording moves them forward.
type ScheduleStatus string

const (
	StatusPending ScheduleStatus = "PENDING"
	StatusPartial ScheduleStatus = "PARTIAL"
	StatusPaid    ScheduleStatus = "PAID"
	StatusOverdue ScheduleStatus = "OVERDUE"
)

var validScheduleStatuses = map[ScheduleStatus]bool{
	StatusPending: true,
	StatusPartial: true,
	StatusPaid:    true,
	StatusOverdue: true,
}

// ParseScheduleStatus rejects anything outside the closed set.
func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	st := ScheduleStatus(s)
	if !validScheduleStatuses[st] {
		return "", fmt.Errorf("invalid schedule status: %q", s)
	}
	return st, nil
}

func (s *ScheduleStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScheduleStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsOpen reports whether money is still owed on the installment.
func (s ScheduleStatus) IsOpen() bool {
	return s != StatusPaid
}

type PaymentScheduleEntry struct {
	InstallmentNumber int             `json:"installment_number"`
	DueDate           Date            `json:"due_date"`
	Amount            decimal.Decimal `json:"amount"`
	Status            ScheduleStatus  `json:"status"`
}

// =============================================================================
// RESULTS
// =============================================================================

type AmortizationResult struct {
	TotalAmount       decimal.Decimal
	InstallmentAmount decimal.Decimal
	InterestAmount    decimal.Decimal
	Schedule          []PaymentScheduleEntry
}

// Remainder is TotalAmount minus the sum of scheduled amounts. It is zero
// when the total divides evenly and otherwise shows the drift that equal
// installments leave behind.
func (r AmortizationResult) Remainder() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range r.Schedule {
		sum = sum.Add(e.Amount)
	}
	return r.TotalAmount.Sub(sum)
}

// RoundingResult is a suggested rate producing a round installment.
type RoundingResult struct {
	InterestRatePercent decimal.Decimal
	InstallmentAmount   decimal.Decimal
	TotalAmount         decimal.Decimal
}
