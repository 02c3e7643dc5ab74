package servicing

import (
	"context"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
)

// LoanLookup is the borrower-facing view of one loan. It carries no staff
// identifiers.
type LoanLookup struct {
	TrackingCode      string
	Status            LoanStatus
	Principal         decimal.Decimal
	TotalAmount       decimal.Decimal
	InstallmentAmount decimal.Decimal
	Paid              decimal.Decimal
	Remaining         decimal.Decimal
	NextDue           *InstallmentView
	Installments      []InstallmentView
}

type InstallmentView struct {
	Number     int
	DueDate    amortization.Date
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	Status     amortization.ScheduleStatus
}

// LookupLoans lets a borrower see their loans by document id and phone.
// Both must match the same client; any mismatch is reported as
// ErrClientNotFound so the caller cannot tell which one was wrong.
// Phones are compared on digits only.
func (s *Service) LookupLoans(ctx context.Context, documentID, phone string) ([]LoanLookup, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" || digits(phone) == "" {
		return nil, &ValidationError{Field: "document", Message: "document and phone are required"}
	}
	client, err := s.store.FindClientByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if digits(client.Phone) != digits(phone) {
		return nil, ErrClientNotFound
	}

	loans, err := s.store.ListLoans(ctx, LoanFilter{ClientID: client.ID})
	if err != nil {
		return nil, err
	}
	out := make([]LoanLookup, 0, len(loans))
	for _, l := range loans {
		if l.Status == LoanCancelled {
			continue
		}
		subs, err := s.store.ListSubLoans(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, buildLookup(l, subs))
	}
	return out, nil
}

func buildLookup(l Loan, subs []SubLoan) LoanLookup {
	view := LoanLookup{
		TrackingCode:      l.TrackingCode,
		Status:            l.Status,
		Principal:         l.Principal,
		TotalAmount:       l.TotalAmount,
		InstallmentAmount: l.InstallmentAmount,
		Installments:      make([]InstallmentView, 0, len(subs)),
	}
	for _, sub := range subs {
		iv := InstallmentView{
			Number:     sub.Number,
			DueDate:    sub.DueDate,
			Amount:     sub.Amount,
			PaidAmount: sub.PaidAmount,
			Status:     sub.Status,
		}
		view.Installments = append(view.Installments, iv)
		view.Paid = view.Paid.Add(sub.PaidAmount)
		if sub.Status.IsOpen() {
			view.Remaining = view.Remaining.Add(sub.Remaining())
			if view.NextDue == nil {
				next := iv
				view.NextDue = &next
			}
		}
	}
	return view
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
