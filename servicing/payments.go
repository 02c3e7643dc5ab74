package servicing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
)

type PaymentRequest struct {
	SubLoanID      string
	Amount         decimal.Decimal
	PaidAt         amortization.Date // defaults to today
	IdempotencyKey string            // defaults to a fresh id
}

// PaymentReceipt reports the state after a payment was applied.
type PaymentReceipt struct {
	Payment     Payment
	Installment SubLoan
	LoanStatus  LoanStatus
}

// RecordPayment applies a collected amount to one installment.
//
// The installment becomes PAID once what remains is within the settlement
// tolerance, otherwise PARTIAL (an OVERDUE installment stays OVERDUE until
// settled). When the last installment is settled the loan becomes
// COMPLETED. All writes happen in one store transaction.
//
// PaidAt may not be in the future, and may not fall on a day the collecting
// manager has already closed.
func (s *Service) RecordPayment(ctx context.Context, actor User, req PaymentRequest) (PaymentReceipt, error) {
	if !req.Amount.IsPositive() {
		return PaymentReceipt{}, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return PaymentReceipt{}, err
	}
	today := amortization.DateOf(s.now())
	if req.PaidAt.IsZero() {
		req.PaidAt = today
	}
	if req.PaidAt.After(today) {
		return PaymentReceipt{}, &ValidationError{Field: "paid_at", Message: "must not be in the future"}
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = s.newID()
	}

	var receipt PaymentReceipt
	err = s.store.WithTx(ctx, func(tx Store) error {
		sub, err := tx.GetSubLoan(ctx, req.SubLoanID)
		if err != nil {
			return err
		}
		loan, err := tx.GetLoan(ctx, sub.LoanID)
		if err != nil {
			return err
		}
		if !sc.includes(loan.ManagerID) {
			return ErrForbidden
		}
		if loan.Status != LoanActive && loan.Status != LoanDefaulted {
			return ErrLoanNotActive
		}
		if !sub.Status.IsOpen() {
			return &OverpaymentError{SubLoanID: sub.ID, Remaining: decimal.Zero, Requested: req.Amount}
		}
		remaining := sub.Remaining()
		if req.Amount.Sub(remaining).GreaterThan(s.limits.SettlementTolerance) {
			return &OverpaymentError{SubLoanID: sub.ID, Remaining: remaining, Requested: req.Amount}
		}

		collector := loan.ManagerID
		if actor.Role == RoleManager {
			collector = actor.ID
		}
		closed, err := dayClosed(ctx, tx, collector, req.PaidAt)
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("%s for %s: %w", req.PaidAt, collector, ErrDayClosed)
		}
		payment := Payment{
			ID:             s.newID(),
			LoanID:         loan.ID,
			SubLoanID:      sub.ID,
			Amount:         req.Amount,
			PaidAt:         req.PaidAt,
			CollectedBy:    collector,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.AppendPayment(ctx, payment); err != nil {
			return err
		}

		sub.PaidAmount = sub.PaidAmount.Add(req.Amount)
		switch {
		case sub.Remaining().LessThanOrEqual(s.limits.SettlementTolerance):
			sub.Status = amortization.StatusPaid
			paidAt := req.PaidAt
			sub.PaidAt = &paidAt
		case sub.Status != amortization.StatusOverdue:
			sub.Status = amortization.StatusPartial
		}
		if err := tx.UpdateSubLoan(ctx, sub); err != nil {
			return err
		}

		status := loan.Status
		if sub.Status == amortization.StatusPaid {
			all, err := tx.ListSubLoans(ctx, loan.ID)
			if err != nil {
				return err
			}
			if allPaid(all) {
				status = LoanCompleted
				if err := tx.UpdateLoanStatus(ctx, loan.ID, status); err != nil {
					return err
				}
			}
		}

		receipt = PaymentReceipt{Payment: payment, Installment: sub, LoanStatus: status}
		return nil
	})
	if err != nil {
		return PaymentReceipt{}, err
	}

	s.log.Info("payment recorded",
		zap.String("payment_id", receipt.Payment.ID),
		zap.String("loan_id", receipt.Payment.LoanID),
		zap.String("installment_id", receipt.Installment.ID),
		zap.String("amount", receipt.Payment.Amount.String()),
		zap.String("installment_status", string(receipt.Installment.Status)),
		zap.String("collected_by", receipt.Payment.CollectedBy))
	return receipt, nil
}

func dayClosed(ctx context.Context, st Store, managerID string, day amortization.Date) (bool, error) {
	closures, err := st.ListClosures(ctx, []string{managerID})
	if err != nil {
		return false, err
	}
	for _, c := range closures {
		if c.Date.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func allPaid(subs []SubLoan) bool {
	for _, s := range subs {
		if s.Status != amortization.StatusPaid {
			return false
		}
	}
	return len(subs) > 0
}

// MarkOverdue flags open installments of active loans that were due before
// asOf. It returns how many installments changed. Only admins and
// subadmins may run the sweep; it covers every loan.
func (s *Service) MarkOverdue(ctx context.Context, actor User, asOf amortization.Date) (int, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleSubadmin {
		return 0, ErrForbidden
	}
	if asOf.IsZero() {
		asOf = amortization.DateOf(s.now())
	}

	changed := 0
	err := s.store.WithTx(ctx, func(tx Store) error {
		due, err := tx.ListOpenSubLoansDueBefore(ctx, asOf)
		if err != nil {
			return err
		}
		for _, sub := range due {
			if sub.Status == amortization.StatusOverdue {
				continue
			}
			sub.Status = amortization.StatusOverdue
			if err := tx.UpdateSubLoan(ctx, sub); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("overdue sweep completed",
		zap.String("as_of", asOf.String()),
		zap.Int("changed", changed),
		zap.String("actor_id", actor.ID))
	return changed, nil
}
