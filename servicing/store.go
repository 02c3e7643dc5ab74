/*
store.go - Persistence interface for the servicing domain

PURPOSE:
  Defines the boundary between servicing logic and the database. The
  service never builds SQL; it asks the Store for records and writes whole
  records back.

ATOMICITY:
  CreateLoan writes a loan and all of its installments in one step.
  Multi-record operations (recording a payment touches the payment log, the
  installment, and possibly the loan) run inside WithTx: either every
  write lands or none does.

NOT FOUND:
  Getters return the matching sentinel (ErrUserNotFound, ErrClientNotFound,
  ErrLoanNotFound, ErrSubLoanNotFound) rather than a nil record.

UNIQUENESS:
  - User.ID                    -> ErrDuplicateUser
  - Client.DocumentID          -> ErrDuplicateDocument
  - Payment.IdempotencyKey     -> ErrDuplicateIdempotencyKey
  - CashClosure(manager, date) -> ErrClosureExists

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and demos
  - store/sqlite: SQLite via database/sql

SEE ALSO:
  - service.go: The only caller
*/
package servicing

import (
	"context"

	"github.com/warp/loan-engine/amortization"
)

// LoanFilter narrows ListLoans. A nil ManagerIDs means no manager
// restriction; a non-nil empty slice matches nothing.
type LoanFilter struct {
	ManagerIDs []string
	ClientID   string
}

// PaymentFilter narrows ListPayments. Zero-valued fields are ignored.
type PaymentFilter struct {
	CollectedBy string
	LoanID      string
	On          amortization.Date
}

type Store interface {
	// Users. CreateUser never overwrites an existing id.
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Clients. A nil managerIDs lists every client.
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id string) (Client, error)
	FindClientByDocument(ctx context.Context, documentID string) (Client, error)
	ListClients(ctx context.Context, managerIDs []string) ([]Client, error)

	// Loans and installments
	CreateLoan(ctx context.Context, loan Loan, installments []SubLoan) error
	GetLoan(ctx context.Context, id string) (Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
	UpdateLoanStatus(ctx context.Context, id string, status LoanStatus) error
	GetSubLoan(ctx context.Context, id string) (SubLoan, error)
	ListSubLoans(ctx context.Context, loanID string) ([]SubLoan, error)
	// ListOpenSubLoansDueBefore returns PENDING and PARTIAL installments of
	// ACTIVE loans due strictly before the date.
	ListOpenSubLoansDueBefore(ctx context.Context, date amortization.Date) ([]SubLoan, error)
	UpdateSubLoan(ctx context.Context, s SubLoan) error

	// Payments (append-only)
	AppendPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// Cash closures
	SaveClosure(ctx context.Context, c CashClosure) error
	ListClosures(ctx context.Context, managerIDs []string) ([]CashClosure, error)

	// WithTx executes fn within a transaction. If fn returns an error,
	// every write made through the passed Store is discarded.
	WithTx(ctx context.Context, fn func(Store) error) error
}
