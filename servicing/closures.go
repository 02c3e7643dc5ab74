package servicing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
)

type CloseDayRequest struct {
	ManagerID string // defaults to the acting manager
	Date      amortization.Date
	Expenses  decimal.Decimal
	Notes     string
}

// CloseDay records a manager's daily cash closure: everything that manager
// collected on the date, less declared expenses. A manager closes a given
// day at most once, and never ahead of time. Payments recorded later for a
// closed day are refused by RecordPayment.
func (s *Service) CloseDay(ctx context.Context, actor User, req CloseDayRequest) (CashClosure, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return CashClosure{}, err
	}
	if req.ManagerID == "" && actor.Role == RoleManager {
		req.ManagerID = actor.ID
	}
	if req.ManagerID == "" {
		return CashClosure{}, &ValidationError{Field: "manager_id", Message: "is required"}
	}
	if !sc.includes(req.ManagerID) {
		return CashClosure{}, ErrForbidden
	}
	if req.Expenses.IsNegative() {
		return CashClosure{}, &ValidationError{Field: "expenses", Message: "must not be negative"}
	}
	today := amortization.DateOf(s.now())
	if req.Date.IsZero() {
		req.Date = today
	}
	if req.Date.After(today) {
		return CashClosure{}, &ValidationError{Field: "date", Message: "must not be in the future"}
	}

	var closure CashClosure
	err = s.store.WithTx(ctx, func(tx Store) error {
		payments, err := tx.ListPayments(ctx, PaymentFilter{CollectedBy: req.ManagerID, On: req.Date})
		if err != nil {
			return fmt.Errorf("failed to load payments: %w", err)
		}
		collected := decimal.Zero
		for _, p := range payments {
			collected = collected.Add(p.Amount)
		}

		closure = CashClosure{
			ID:           s.newID(),
			ManagerID:    req.ManagerID,
			Date:         req.Date,
			Collected:    collected,
			Expenses:     req.Expenses,
			Net:          collected.Sub(req.Expenses),
			PaymentCount: len(payments),
			Notes:        req.Notes,
			CreatedAt:    s.now().UTC(),
		}
		return tx.SaveClosure(ctx, closure)
	})
	if err != nil {
		return CashClosure{}, err
	}
	s.log.Info("day closed",
		zap.String("manager_id", closure.ManagerID),
		zap.String("date", closure.Date.String()),
		zap.String("collected", closure.Collected.String()),
		zap.String("net", closure.Net.String()),
		zap.Int("payments", closure.PaymentCount))
	return closure, nil
}

// ListClosures returns closures for one manager, or every visible manager
// when managerID is empty.
func (s *Service) ListClosures(ctx context.Context, actor User, managerID string) ([]CashClosure, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if managerID == "" {
		return s.store.ListClosures(ctx, sc.filter())
	}
	if !sc.includes(managerID) {
		return nil, ErrForbidden
	}
	return s.store.ListClosures(ctx, []string{managerID})
}
