/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON request/response shapes for the REST API. DTOs decouple
  the wire format from the servicing types so either can change without
  breaking the other.

MONEY AND DATES:
  Money fields are decimal.Decimal. They are written as JSON strings
  ("134000.5") and accepted as either strings or numbers, so no amount ever
  passes through a float64. Dates are amortization.Date ("2025-01-31").

STATUS FIELDS:
  Loan, installment, and role fields use the servicing enum types, whose
  UnmarshalJSON rejects unknown values. A request with "status": "PAYED"
  fails decoding with 400 instead of reaching the service.

NAMING CONVENTION:
  - *DTO: Response objects
  - *Request: Request bodies
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// ScheduleRequest previews a schedule without creating a loan.
type ScheduleRequest struct {
	Principal           decimal.Decimal   `json:"principal"`
	InterestRatePercent decimal.Decimal   `json:"interest_rate_percent"`
	InstallmentCount    int               `json:"installment_count"`
	StartDate           amortization.Date `json:"start_date"`
}

type ScheduleDTO struct {
	TotalAmount       decimal.Decimal                     `json:"total_amount"`
	InstallmentAmount decimal.Decimal                     `json:"installment_amount"`
	InterestAmount    decimal.Decimal                     `json:"interest_amount"`
	Remainder         decimal.Decimal                     `json:"remainder"`
	Schedule          []amortization.PaymentScheduleEntry `json:"schedule"`
}

type RoundingRequest struct {
	Principal           decimal.Decimal `json:"principal"`
	InterestRatePercent decimal.Decimal `json:"interest_rate_percent"`
	InstallmentCount    int             `json:"installment_count"`
}

type RoundingOptionDTO struct {
	InterestRatePercent decimal.Decimal `json:"interest_rate_percent"`
	InstallmentAmount   decimal.Decimal `json:"installment_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
}

// RoundingDTO carries both directions. Down is omitted when there is no
// lower round installment.
type RoundingDTO struct {
	CurrentInstallment decimal.Decimal    `json:"current_installment"`
	Increment          decimal.Decimal    `json:"increment"`
	CurrentIsNice      bool               `json:"current_is_nice"`
	Up                 RoundingOptionDTO  `json:"up"`
	Down               *RoundingOptionDTO `json:"down,omitempty"`
}

// =============================================================================
// USERS & CLIENTS
// =============================================================================

type UserDTO struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Role      servicing.Role `json:"role"`
	ParentID  string         `json:"parent_id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email,omitempty"`
	Role     servicing.Role `json:"role"`
	ParentID string         `json:"parent_id,omitempty"`
}

type ClientDTO struct {
	ID         string `json:"id"`
	ManagerID  string `json:"manager_id"`
	Name       string `json:"name"`
	DocumentID string `json:"document_id"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type CreateClientRequest struct {
	ManagerID  string `json:"manager_id,omitempty"` // defaults to the acting manager
	Name       string `json:"name"`
	DocumentID string `json:"document_id"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
}

// =============================================================================
// LOANS
// =============================================================================

type LoanDTO struct {
	ID                  string               `json:"id"`
	ClientID            string               `json:"client_id"`
	ManagerID           string               `json:"manager_id"`
	TrackingCode        string               `json:"tracking_code"`
	Principal           decimal.Decimal      `json:"principal"`
	InterestRatePercent decimal.Decimal      `json:"interest_rate_percent"`
	InstallmentCount    int                  `json:"installment_count"`
	StartDate           amortization.Date    `json:"start_date"`
	TotalAmount         decimal.Decimal      `json:"total_amount"`
	InstallmentAmount   decimal.Decimal      `json:"installment_amount"`
	InterestAmount      decimal.Decimal      `json:"interest_amount"`
	Status              servicing.LoanStatus `json:"status"`
	CreatedAt           string               `json:"created_at,omitempty"`
}

// LoanDetailDTO is a loan with its installments.
type LoanDetailDTO struct {
	LoanDTO
	Installments []InstallmentDTO `json:"installments"`
}

type CreateLoanRequest struct {
	ClientID            string            `json:"client_id"`
	Principal           decimal.Decimal   `json:"principal"`
	InterestRatePercent decimal.Decimal   `json:"interest_rate_percent"`
	InstallmentCount    int               `json:"installment_count"`
	StartDate           amortization.Date `json:"start_date"`
	Rounding            string            `json:"rounding,omitempty"` // none, up, down
}

type ChangeLoanStatusRequest struct {
	Status servicing.LoanStatus `json:"status"`
}

type InstallmentDTO struct {
	ID         string                      `json:"id"`
	LoanID     string                      `json:"loan_id"`
	Number     int                         `json:"number"`
	DueDate    amortization.Date           `json:"due_date"`
	Amount     decimal.Decimal             `json:"amount"`
	PaidAmount decimal.Decimal             `json:"paid_amount"`
	Remaining  decimal.Decimal             `json:"remaining"`
	Status     amortization.ScheduleStatus `json:"status"`
	PaidAt     *amortization.Date          `json:"paid_at,omitempty"`
}

// =============================================================================
// PAYMENTS & CLOSURES
// =============================================================================

// RecordPaymentRequest may also carry its idempotency key in the
// Idempotency-Key header; the body wins when both are set.
type RecordPaymentRequest struct {
	SubLoanID      string            `json:"sub_loan_id"`
	Amount         decimal.Decimal   `json:"amount"`
	PaidAt         amortization.Date `json:"paid_at,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type PaymentDTO struct {
	ID             string            `json:"id"`
	LoanID         string            `json:"loan_id"`
	SubLoanID      string            `json:"sub_loan_id"`
	Amount         decimal.Decimal   `json:"amount"`
	PaidAt         amortization.Date `json:"paid_at"`
	CollectedBy    string            `json:"collected_by"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      string            `json:"created_at,omitempty"`
}

type PaymentReceiptDTO struct {
	Payment     PaymentDTO           `json:"payment"`
	Installment InstallmentDTO       `json:"installment"`
	LoanStatus  servicing.LoanStatus `json:"loan_status"`
}

type MarkOverdueRequest struct {
	AsOf amortization.Date `json:"as_of,omitempty"` // defaults to today
}

type MarkOverdueDTO struct {
	AsOf    amortization.Date `json:"as_of"`
	Updated int               `json:"updated"`
}

// OverdueStatusDTO reports the background sweep.
type OverdueStatusDTO struct {
	Enabled   bool              `json:"enabled"`
	Interval  string            `json:"interval"`
	LastAsOf  amortization.Date `json:"last_as_of,omitempty"`
	LastRunAt string            `json:"last_run_at,omitempty"`
	Updated   int               `json:"updated"`
	Error     string            `json:"error,omitempty"`
	NextRunAt string            `json:"next_run_at"`
}

type CloseDayRequest struct {
	ManagerID string            `json:"manager_id,omitempty"`
	Date      amortization.Date `json:"date"`
	Expenses  decimal.Decimal   `json:"expenses"`
	Notes     string            `json:"notes,omitempty"`
}

type CashClosureDTO struct {
	ID           string            `json:"id"`
	ManagerID    string            `json:"manager_id"`
	Date         amortization.Date `json:"date"`
	Collected    decimal.Decimal   `json:"collected"`
	Expenses     decimal.Decimal   `json:"expenses"`
	Net          decimal.Decimal   `json:"net"`
	PaymentCount int               `json:"payment_count"`
	Notes        string            `json:"notes,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
}

// =============================================================================
// PORTFOLIO
// =============================================================================

type PortfolioSummaryDTO struct {
	AsOf                amortization.Date `json:"as_of,omitempty"`
	ClientCount         int               `json:"client_count"`
	LoanCount           int               `json:"loan_count"`
	ActiveLoans         int               `json:"active_loans"`
	CompletedLoans      int               `json:"completed_loans"`
	DefaultedLoans      int               `json:"defaulted_loans"`
	CancelledLoans      int               `json:"cancelled_loans"`
	PrincipalLent       decimal.Decimal   `json:"principal_lent"`
	ExpectedTotal       decimal.Decimal   `json:"expected_total"`
	InterestExpected    decimal.Decimal   `json:"interest_expected"`
	Collected           decimal.Decimal   `json:"collected"`
	Outstanding         decimal.Decimal   `json:"outstanding"`
	OverdueAmount       decimal.Decimal   `json:"overdue_amount"`
	OverdueInstallments int               `json:"overdue_installments"`
}

type ClientSummaryDTO struct {
	Client  ClientDTO           `json:"client"`
	Summary PortfolioSummaryDTO `json:"summary"`
}

type HierarchyNodeDTO struct {
	User     UserDTO             `json:"user"`
	Summary  PortfolioSummaryDTO `json:"summary"`
	Children []HierarchyNodeDTO  `json:"children,omitempty"`
	Clients  []ClientSummaryDTO  `json:"clients,omitempty"`
}

// =============================================================================
// PUBLIC LOOKUP
// =============================================================================

type LookupRequest struct {
	DocumentID string `json:"document_id"`
	Phone      string `json:"phone"`
}

type InstallmentViewDTO struct {
	Number     int                         `json:"number"`
	DueDate    amortization.Date           `json:"due_date"`
	Amount     decimal.Decimal             `json:"amount"`
	PaidAmount decimal.Decimal             `json:"paid_amount"`
	Status     amortization.ScheduleStatus `json:"status"`
}

type LoanLookupDTO struct {
	TrackingCode      string               `json:"tracking_code"`
	Status            servicing.LoanStatus `json:"status"`
	Principal         decimal.Decimal      `json:"principal"`
	TotalAmount       decimal.Decimal      `json:"total_amount"`
	InstallmentAmount decimal.Decimal      `json:"installment_amount"`
	Paid              decimal.Decimal      `json:"paid"`
	Remaining         decimal.Decimal      `json:"remaining"`
	NextDue           *InstallmentViewDTO  `json:"next_due,omitempty"`
	Installments      []InstallmentViewDTO `json:"installments"`
}

// =============================================================================
// MISC
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioLoadDTO counts what a scenario created.
type ScenarioLoadDTO struct {
	Scenario       ScenarioDTO `json:"scenario"`
	Users          int         `json:"users"`
	Clients        int         `json:"clients"`
	Loans          int         `json:"loans"`
	Payments       int         `json:"payments"`
	OverdueUpdated int         `json:"overdue_updated"`
}

type HealthDTO struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u servicing.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		ParentID:  u.ParentID,
		CreatedAt: formatTimestamp(u.CreatedAt),
	}
}

func toClientDTO(c servicing.Client) ClientDTO {
	return ClientDTO{
		ID:         c.ID,
		ManagerID:  c.ManagerID,
		Name:       c.Name,
		DocumentID: c.DocumentID,
		Phone:      c.Phone,
		Address:    c.Address,
		CreatedAt:  formatTimestamp(c.CreatedAt),
	}
}

func toLoanDTO(l servicing.Loan) LoanDTO {
	return LoanDTO{
		ID:                  l.ID,
		ClientID:            l.ClientID,
		ManagerID:           l.ManagerID,
		TrackingCode:        l.TrackingCode,
		Principal:           l.Principal,
		InterestRatePercent: l.InterestRatePercent,
		InstallmentCount:    l.InstallmentCount,
		StartDate:           l.StartDate,
		TotalAmount:         l.TotalAmount,
		InstallmentAmount:   l.InstallmentAmount,
		InterestAmount:      l.InterestAmount,
		Status:              l.Status,
		CreatedAt:           formatTimestamp(l.CreatedAt),
	}
}

func toInstallmentDTO(s servicing.SubLoan) InstallmentDTO {
	return InstallmentDTO{
		ID:         s.ID,
		LoanID:     s.LoanID,
		Number:     s.Number,
		DueDate:    s.DueDate,
		Amount:     s.Amount,
		PaidAmount: s.PaidAmount,
		Remaining:  s.Remaining(),
		Status:     s.Status,
		PaidAt:     s.PaidAt,
	}
}

func toLoanDetailDTO(d servicing.LoanDetails) LoanDetailDTO {
	out := LoanDetailDTO{
		LoanDTO:      toLoanDTO(d.Loan),
		Installments: make([]InstallmentDTO, len(d.Installments)),
	}
	for i, s := range d.Installments {
		out.Installments[i] = toInstallmentDTO(s)
	}
	return out
}

func toPaymentDTO(p servicing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             p.ID,
		LoanID:         p.LoanID,
		SubLoanID:      p.SubLoanID,
		Amount:         p.Amount,
		PaidAt:         p.PaidAt,
		CollectedBy:    p.CollectedBy,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      formatTimestamp(p.CreatedAt),
	}
}

func toClosureDTO(c servicing.CashClosure) CashClosureDTO {
	return CashClosureDTO{
		ID:           c.ID,
		ManagerID:    c.ManagerID,
		Date:         c.Date,
		Collected:    c.Collected,
		Expenses:     c.Expenses,
		Net:          c.Net,
		PaymentCount: c.PaymentCount,
		Notes:        c.Notes,
		CreatedAt:    formatTimestamp(c.CreatedAt),
	}
}

func toSummaryDTO(s servicing.PortfolioSummary) PortfolioSummaryDTO {
	return PortfolioSummaryDTO{
		ClientCount:         s.ClientCount,
		LoanCount:           s.LoanCount,
		ActiveLoans:         s.ActiveLoans,
		CompletedLoans:      s.CompletedLoans,
		DefaultedLoans:      s.DefaultedLoans,
		CancelledLoans:      s.CancelledLoans,
		PrincipalLent:       s.PrincipalLent,
		ExpectedTotal:       s.ExpectedTotal,
		InterestExpected:    s.InterestExpected,
		Collected:           s.Collected,
		Outstanding:         s.Outstanding,
		OverdueAmount:       s.OverdueAmount,
		OverdueInstallments: s.OverdueInstallments,
	}
}

func toHierarchyDTO(n servicing.HierarchyNode) HierarchyNodeDTO {
	out := HierarchyNodeDTO{
		User:    toUserDTO(n.User),
		Summary: toSummaryDTO(n.Summary),
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toHierarchyDTO(child))
	}
	for _, cs := range n.Clients {
		out.Clients = append(out.Clients, ClientSummaryDTO{
			Client:  toClientDTO(cs.Client),
			Summary: toSummaryDTO(cs.Summary),
		})
	}
	return out
}

func toInstallmentViewDTO(v servicing.InstallmentView) InstallmentViewDTO {
	return InstallmentViewDTO{
		Number:     v.Number,
		DueDate:    v.DueDate,
		Amount:     v.Amount,
		PaidAmount: v.PaidAmount,
		Status:     v.Status,
	}
}

func toLookupDTO(l servicing.LoanLookup) LoanLookupDTO {
	out := LoanLookupDTO{
		TrackingCode:      l.TrackingCode,
		Status:            l.Status,
		Principal:         l.Principal,
		TotalAmount:       l.TotalAmount,
		InstallmentAmount: l.InstallmentAmount,
		Paid:              l.Paid,
		Remaining:         l.Remaining,
		Installments:      make([]InstallmentViewDTO, len(l.Installments)),
	}
	if l.NextDue != nil {
		next := toInstallmentViewDTO(*l.NextDue)
		out.NextDue = &next
	}
	for i, v := range l.Installments {
		out.Installments[i] = toInstallmentViewDTO(v)
	}
	return out
}
