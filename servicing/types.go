/*
Package servicing implements the loan-servicing domain.

PURPOSE:
  Tracks staff users, clients (borrowers), loans and their installments
  (sub-loans), collected payments, and daily cash closures. Aggregates
  portfolio figures along the staff hierarchy and answers borrower
  self-service lookups.

KEY CONCEPTS IN THIS FILE (types.go):
  - Role: admin > subadmin > manager, plus borrower-facing client users
  - User / Client: who lends and who borrows
  - Loan / SubLoan: a loan and its installment rows, created from an
    amortization schedule
  - Payment: money collected against one installment
  - CashClosure: a manager's end-of-day cash count

STATUS TYPES:
  LoanStatus and amortization.ScheduleStatus are closed sets. JSON decoding
  rejects unknown values, so malformed payloads fail at the boundary
  instead of leaking into aggregates.

SEE ALSO:
  - service.go: Operations on these types
  - store.go: Persistence interface
  - amortization/: Schedule computation
*/
package servicing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSubadmin Role = "subadmin"
	RoleManager  Role = "manager"
	RoleClient   Role = "client"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleSubadmin, RoleManager, RoleClient:
		return r, nil
	}
	return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// parentRoles lists which roles may sit directly above each staff role.
var parentRoles = map[Role][]Role{
	RoleAdmin:    nil,
	RoleSubadmin: {RoleAdmin},
	RoleManager:  {RoleSubadmin, RoleAdmin},
}

// =============================================================================
// LOAN STATUS
// =============================================================================

type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanDefaulted LoanStatus = "DEFAULTED"
	LoanCancelled LoanStatus = "CANCELLED"
)

func ParseLoanStatus(s string) (LoanStatus, error) {
	switch st := LoanStatus(s); st {
	case LoanActive, LoanCompleted, LoanDefaulted, LoanCancelled:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown loan status %q", s)}
}

func (s *LoanStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseLoanStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// PEOPLE
// =============================================================================

type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	ParentID  string // empty for admins
	CreatedAt time.Time
}

type Client struct {
	ID         string
	ManagerID  string
	Name       string
	DocumentID string // national id (DNI); unique
	Phone      string
	Address    string
	CreatedAt  time.Time
}

// =============================================================================
// LOANS
// =============================================================================

type Loan struct {
	ID                  string
	ClientID            string
	ManagerID           string
	Principal           decimal.Decimal
	InterestRatePercent decimal.Decimal
	InstallmentCount    int
	StartDate           amortization.Date
	TotalAmount         decimal.Decimal
	InstallmentAmount   decimal.Decimal
	InterestAmount      decimal.Decimal
	Status              LoanStatus
	TrackingCode        string // shared with the borrower
	CreatedAt           time.Time
}

// SubLoan is one installment row of a loan.
type SubLoan struct {
	ID         string
	LoanID     string
	Number     int
	DueDate    amortization.Date
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	Status     amortization.ScheduleStatus
	PaidAt     *amortization.Date
}

// Remaining is what is still owed on the installment.
func (s SubLoan) Remaining() decimal.Decimal {
	r := s.Amount.Sub(s.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// IsOverdueAt reports whether the installment is unpaid past its due date.
func (s SubLoan) IsOverdueAt(asOf amortization.Date) bool {
	return s.Status.IsOpen() && s.DueDate.Before(asOf)
}

type Payment struct {
	ID             string
	LoanID         string
	SubLoanID      string
	Amount         decimal.Decimal
	PaidAt         amortization.Date
	CollectedBy    string // manager id
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// CASH CLOSURE
// =============================================================================

type CashClosure struct {
	ID           string
	ManagerID    string
	Date         amortization.Date
	Collected    decimal.Decimal
	Expenses     decimal.Decimal
	Net          decimal.Decimal
	PaymentCount int
	Notes        string
	CreatedAt    time.Time
}
