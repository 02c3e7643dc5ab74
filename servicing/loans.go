package servicing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
)

// =============================================================================
// ROUNDING PREFERENCE
// =============================================================================

// Rounding selects whether CreateLoan adjusts the rate to a round installment.
type Rounding string

const (
	RoundingNone Rounding = "none"
	RoundingUp   Rounding = "up"
	RoundingDown Rounding = "down"
)

func ParseRounding(s string) (Rounding, error) {
	switch r := Rounding(s); r {
	case "":
		return RoundingNone, nil
	case RoundingNone, RoundingUp, RoundingDown:
		return r, nil
	}
	return "", &ValidationError{Field: "rounding", Message: fmt.Sprintf("unknown rounding %q (none, up, down)", s)}
}

// RoundingSuggestion is what the "round my installment" affordance shows.
// Down is nil when no lower round figure exists.
type RoundingSuggestion struct {
	CurrentInstallment decimal.Decimal
	Increment          decimal.Decimal
	CurrentIsNice      bool
	Up                 amortization.RoundingResult
	Down               *amortization.RoundingResult
}

// SuggestRounding computes both rounding directions for the given terms.
func SuggestRounding(principal decimal.Decimal, installmentCount int, ratePercent decimal.Decimal) (RoundingSuggestion, error) {
	up, err := amortization.FindRoundedRateUp(principal, installmentCount, ratePercent)
	if err != nil {
		return RoundingSuggestion{}, err
	}
	down, err := amortization.FindRoundedRateDown(principal, installmentCount, ratePercent)
	if err != nil {
		return RoundingSuggestion{}, err
	}
	current := principal.Add(principal.Mul(ratePercent).Div(decimal.NewFromInt(100))).
		Div(decimal.NewFromInt(int64(installmentCount)))
	return RoundingSuggestion{
		CurrentInstallment: current,
		Increment:          amortization.RoundingIncrement(current),
		CurrentIsNice:      amortization.IsNiceRoundNumber(current),
		Up:                 up,
		Down:               down,
	}, nil
}

// =============================================================================
// CREATE
// =============================================================================

type LoanRequest struct {
	ClientID            string
	Principal           decimal.Decimal
	InterestRatePercent decimal.Decimal
	InstallmentCount    int
	StartDate           amortization.Date
	Rounding            Rounding
}

// LoanDetails is a loan with its installment rows, ordered by number.
type LoanDetails struct {
	Loan
	Installments []SubLoan
}

// CreateLoan computes the schedule for a client's loan and stores the loan
// with one installment row per scheduled entry.
func (s *Service) CreateLoan(ctx context.Context, actor User, req LoanRequest) (LoanDetails, error) {
	if err := s.limits.Check(req.Principal, req.InterestRatePercent, req.InstallmentCount); err != nil {
		return LoanDetails{}, err
	}
	client, err := s.GetClient(ctx, actor, req.ClientID)
	if err != nil {
		return LoanDetails{}, err
	}

	rate := req.InterestRatePercent
	switch req.Rounding {
	case RoundingUp:
		r, err := amortization.FindRoundedRateUp(req.Principal, req.InstallmentCount, rate)
		if err != nil {
			return LoanDetails{}, err
		}
		rate = r.InterestRatePercent
	case RoundingDown:
		r, err := amortization.FindRoundedRateDown(req.Principal, req.InstallmentCount, rate)
		if err != nil {
			return LoanDetails{}, err
		}
		if r == nil {
			return LoanDetails{}, ErrNoRoundingPossible
		}
		rate = r.InterestRatePercent
	}
	if rate.GreaterThan(s.limits.MaxRatePercent) {
		return LoanDetails{}, &ValidationError{Field: "rounding",
			Message: "rounded rate " + rate.String() + " exceeds maximum of " + s.limits.MaxRatePercent.String()}
	}

	result, err := amortization.ComputeSchedule(amortization.LoanTerms{
		Principal:           req.Principal,
		InterestRatePercent: rate,
		InstallmentCount:    req.InstallmentCount,
		StartDate:           req.StartDate,
	})
	if err != nil {
		return LoanDetails{}, err
	}

	loan := Loan{
		ID:                  s.newID(),
		ClientID:            client.ID,
		ManagerID:           client.ManagerID,
		Principal:           req.Principal,
		InterestRatePercent: rate,
		InstallmentCount:    req.InstallmentCount,
		StartDate:           req.StartDate,
		TotalAmount:         result.TotalAmount,
		InstallmentAmount:   result.InstallmentAmount,
		InterestAmount:      result.InterestAmount,
		Status:              LoanActive,
		TrackingCode:        newTrackingCode(),
		CreatedAt:           s.now().UTC(),
	}
	installments := make([]SubLoan, len(result.Schedule))
	for i, entry := range result.Schedule {
		installments[i] = SubLoan{
			ID:      s.newID(),
			LoanID:  loan.ID,
			Number:  entry.InstallmentNumber,
			DueDate: entry.DueDate,
			Amount:  entry.Amount,
			Status:  entry.Status,
		}
	}

	if err := s.store.CreateLoan(ctx, loan, installments); err != nil {
		return LoanDetails{}, fmt.Errorf("failed to create loan: %w", err)
	}
	s.log.Info("loan created",
		zap.String("loan_id", loan.ID),
		zap.String("client_id", loan.ClientID),
		zap.String("principal", loan.Principal.String()),
		zap.String("rate_percent", loan.InterestRatePercent.String()),
		zap.Int("installments", loan.InstallmentCount),
		zap.String("actor_id", actor.ID))
	return LoanDetails{Loan: loan, Installments: installments}, nil
}

func newTrackingCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// =============================================================================
// READ
// =============================================================================

func (s *Service) GetLoan(ctx context.Context, actor User, id string) (LoanDetails, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return LoanDetails{}, err
	}
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return LoanDetails{}, err
	}
	if !sc.includes(loan.ManagerID) {
		return LoanDetails{}, ErrForbidden
	}
	installments, err := s.store.ListSubLoans(ctx, id)
	if err != nil {
		return LoanDetails{}, err
	}
	return LoanDetails{Loan: loan, Installments: installments}, nil
}

// ListLoans returns loans visible to the actor, optionally for one client.
func (s *Service) ListLoans(ctx context.Context, actor User, clientID string) ([]Loan, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.store.ListLoans(ctx, LoanFilter{ManagerIDs: sc.filter(), ClientID: clientID})
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// allowedTransitions lists manual status changes. COMPLETED is reached only
// by paying the last installment and is final.
var allowedTransitions = map[LoanStatus][]LoanStatus{
	LoanActive:    {LoanDefaulted, LoanCancelled},
	LoanDefaulted: {LoanActive},
}

// ChangeLoanStatus applies a manual transition. Cancelling requires that no
// payment was recorded against the loan.
func (s *Service) ChangeLoanStatus(ctx context.Context, actor User, id string, to LoanStatus) (Loan, error) {
	if actor.Role == RoleManager && to == LoanCancelled {
		return Loan{}, ErrForbidden
	}
	details, err := s.GetLoan(ctx, actor, id)
	if err != nil {
		return Loan{}, err
	}
	loan := details.Loan

	allowed := false
	for _, st := range allowedTransitions[loan.Status] {
		if st == to {
			allowed = true
		}
	}
	if !allowed {
		return Loan{}, &ValidationError{Field: "status",
			Message: fmt.Sprintf("cannot move loan from %s to %s", loan.Status, to)}
	}
	if to == LoanCancelled {
		payments, err := s.store.ListPayments(ctx, PaymentFilter{LoanID: id})
		if err != nil {
			return Loan{}, err
		}
		if len(payments) > 0 {
			return Loan{}, &ValidationError{Field: "status", Message: "loan with payments cannot be cancelled"}
		}
	}

	if err := s.store.UpdateLoanStatus(ctx, id, to); err != nil {
		return Loan{}, err
	}
	s.log.Info("loan status changed",
		zap.String("loan_id", id),
		zap.String("from", string(loan.Status)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.ID))
	loan.Status = to
	return loan, nil
}
