package servicing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrSubLoanNotFound = errors.New("installment not found")

	// ErrForbidden is returned when the actor cannot see or change the target.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is wrapped by every ValidationError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOverpayment is returned when a payment exceeds what is still owed.
	ErrOverpayment = errors.New("payment exceeds remaining amount")

	// ErrLoanNotActive is returned when paying into a closed loan.
	ErrLoanNotActive = errors.New("loan is not active")

	// ErrDuplicateIdempotencyKey is returned when a payment was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateUser is returned when a user id is already taken.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrDuplicateDocument is returned when a client document id is already registered.
	ErrDuplicateDocument = errors.New("document id already registered")

	// ErrClosureExists is returned when a manager already closed that day.
	ErrClosureExists = errors.New("cash closure already exists for that day")

	// ErrDayClosed is returned when a payment lands on a day the collector
	// already closed.
	ErrDayClosed = errors.New("cash closure already recorded for that day")

	// ErrNoRoundingPossible is returned when a caller explicitly asks to round
	// down and there is no positive round installment below the current one.
	ErrNoRoundingPossible = errors.New("no lower round installment available")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// OverpaymentError carries the amounts behind an ErrOverpayment.
type OverpaymentError struct {
	SubLoanID string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining %s on installment %s",
		e.Requested, e.Remaining, e.SubLoanID)
}

func (e *OverpaymentError) Unwrap() error {
	return ErrOverpayment
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, amortization.ErrInvalidLoanTerms) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrLoanNotActive) ||
		errors.Is(err, ErrNoRoundingPossible)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrSubLoanNotFound)
}

// IsConflict returns true if the write collided with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateUser) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateDocument) ||
		errors.Is(err, ErrClosureExists) ||
		errors.Is(err, ErrDayClosed)
}
