package amortization

import (
	"errors"
	"fmt"
)

// ErrInvalidLoanTerms is the sentinel behind every InvalidLoanTermsError.
// Use errors.Is to classify; use errors.As to read the offending field.
var ErrInvalidLoanTerms = errors.New("invalid loan terms")

// InvalidLoanTermsError reports which input was out of domain.
// Inputs are never clamped: a bad principal or count must reach the caller.
type InvalidLoanTermsError struct {
	Field  string // "principal", "interest_rate_percent", "installment_count", "start_date"
	Reason string
}

func (e *InvalidLoanTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s", e.Field, e.Reason)
}

func (e *InvalidLoanTermsError) Unwrap() error {
	return ErrInvalidLoanTerms
}
