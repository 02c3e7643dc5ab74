// Package memory provides an in-memory servicing.Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store is safe for concurrent use. WithTx holds the lock for the whole
// callback, so transactions are serialized.
type Store struct {
	mu sync.Mutex
	d  *data
}

func New() *Store {
	return &Store{d: newData()}
}

var _ servicing.Store = (*Store)(nil)

func (s *Store) CreateUser(_ context.Context, u servicing.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createUser(u)
}

func (s *Store) GetUser(_ context.Context, id string) (servicing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getUser(id)
}

func (s *Store) ListUsers(_ context.Context) ([]servicing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listUsers(), nil
}

func (s *Store) SaveClient(_ context.Context, c servicing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveClient(c)
}

func (s *Store) GetClient(_ context.Context, id string) (servicing.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getClient(id)
}

func (s *Store) FindClientByDocument(_ context.Context, documentID string) (servicing.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.findClientByDocument(documentID)
}

func (s *Store) ListClients(_ context.Context, managerIDs []string) ([]servicing.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listClients(managerIDs), nil
}

func (s *Store) CreateLoan(_ context.Context, loan servicing.Loan, installments []servicing.SubLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.createLoan(loan, installments)
}

func (s *Store) GetLoan(_ context.Context, id string) (servicing.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getLoan(id)
}

func (s *Store) ListLoans(_ context.Context, filter servicing.LoanFilter) ([]servicing.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listLoans(filter), nil
}

func (s *Store) UpdateLoanStatus(_ context.Context, id string, status servicing.LoanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateLoanStatus(id, status)
}

func (s *Store) GetSubLoan(_ context.Context, id string) (servicing.SubLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.getSubLoan(id)
}

func (s *Store) ListSubLoans(_ context.Context, loanID string) ([]servicing.SubLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listSubLoans(loanID), nil
}

func (s *Store) ListOpenSubLoansDueBefore(_ context.Context, date amortization.Date) ([]servicing.SubLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listOpenSubLoansDueBefore(date), nil
}

func (s *Store) UpdateSubLoan(_ context.Context, sub servicing.SubLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.updateSubLoan(sub)
}

func (s *Store) AppendPayment(_ context.Context, p servicing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.appendPayment(p)
}

func (s *Store) ListPayments(_ context.Context, filter servicing.PaymentFilter) ([]servicing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listPayments(filter), nil
}

func (s *Store) SaveClosure(_ context.Context, c servicing.CashClosure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.saveClosure(c)
}

func (s *Store) ListClosures(_ context.Context, managerIDs []string) ([]servicing.CashClosure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.listClosures(managerIDs), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(_ context.Context, fn func(servicing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&txView{d: s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// txView writes straight to the live data; the caller already holds the lock.
type txView struct {
	d *data
}

func (v *txView) CreateUser(_ context.Context, u servicing.User) error { return v.d.createUser(u) }
func (v *txView) GetUser(_ context.Context, id string) (servicing.User, error) {
	return v.d.getUser(id)
}
func (v *txView) ListUsers(_ context.Context) ([]servicing.User, error) { return v.d.listUsers(), nil }
func (v *txView) SaveClient(_ context.Context, c servicing.Client) error {
	return v.d.saveClient(c)
}
func (v *txView) GetClient(_ context.Context, id string) (servicing.Client, error) {
	return v.d.getClient(id)
}
func (v *txView) FindClientByDocument(_ context.Context, documentID string) (servicing.Client, error) {
	return v.d.findClientByDocument(documentID)
}
func (v *txView) ListClients(_ context.Context, managerIDs []string) ([]servicing.Client, error) {
	return v.d.listClients(managerIDs), nil
}
func (v *txView) CreateLoan(_ context.Context, loan servicing.Loan, installments []servicing.SubLoan) error {
	return v.d.createLoan(loan, installments)
}
func (v *txView) GetLoan(_ context.Context, id string) (servicing.Loan, error) {
	return v.d.getLoan(id)
}
func (v *txView) ListLoans(_ context.Context, filter servicing.LoanFilter) ([]servicing.Loan, error) {
	return v.d.listLoans(filter), nil
}
func (v *txView) UpdateLoanStatus(_ context.Context, id string, status servicing.LoanStatus) error {
	return v.d.updateLoanStatus(id, status)
}
func (v *txView) GetSubLoan(_ context.Context, id string) (servicing.SubLoan, error) {
	return v.d.getSubLoan(id)
}
func (v *txView) ListSubLoans(_ context.Context, loanID string) ([]servicing.SubLoan, error) {
	return v.d.listSubLoans(loanID), nil
}
func (v *txView) ListOpenSubLoansDueBefore(_ context.Context, date amortization.Date) ([]servicing.SubLoan, error) {
	return v.d.listOpenSubLoansDueBefore(date), nil
}
func (v *txView) UpdateSubLoan(_ context.Context, sub servicing.SubLoan) error {
	return v.d.updateSubLoan(sub)
}
func (v *txView) AppendPayment(_ context.Context, p servicing.Payment) error {
	return v.d.appendPayment(p)
}
func (v *txView) ListPayments(_ context.Context, filter servicing.PaymentFilter) ([]servicing.Payment, error) {
	return v.d.listPayments(filter), nil
}
func (v *txView) SaveClosure(_ context.Context, c servicing.CashClosure) error {
	return v.d.saveClosure(c)
}
func (v *txView) ListClosures(_ context.Context, managerIDs []string) ([]servicing.CashClosure, error) {
	return v.d.listClosures(managerIDs), nil
}

// WithTx inside a transaction joins it.
func (v *txView) WithTx(_ context.Context, fn func(servicing.Store) error) error {
	return fn(v)
}

// =============================================================================
// DATA - unlocked state shared by Store and txView
// =============================================================================

type data struct {
	users       map[string]servicing.User
	clients     map[string]servicing.Client
	documents   map[string]string // document id -> client id
	loans       map[string]servicing.Loan
	subloans    map[string]servicing.SubLoan
	loanSubs    map[string][]string // loan id -> installment ids, by number
	payments    []servicing.Payment
	idempotency map[string]bool
	closures    []servicing.CashClosure
	closureDays map[closureKey]bool
}

type closureKey struct {
	managerID string
	date      string
}

func newData() *data {
	return &data{
		users:       make(map[string]servicing.User),
		clients:     make(map[string]servicing.Client),
		documents:   make(map[string]string),
		loans:       make(map[string]servicing.Loan),
		subloans:    make(map[string]servicing.SubLoan),
		loanSubs:    make(map[string][]string),
		idempotency: make(map[string]bool),
		closureDays: make(map[closureKey]bool),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.clients {
		c.clients[k] = v
	}
	for k, v := range d.documents {
		c.documents[k] = v
	}
	for k, v := range d.loans {
		c.loans[k] = v
	}
	for k, v := range d.subloans {
		c.subloans[k] = v
	}
	for k, v := range d.loanSubs {
		c.loanSubs[k] = append([]string(nil), v...)
	}
	c.payments = append([]servicing.Payment(nil), d.payments...)
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	c.closures = append([]servicing.CashClosure(nil), d.closures...)
	for k, v := range d.closureDays {
		c.closureDays[k] = v
	}
	return c
}

// included reports whether id passes a managerIDs filter (nil = all).
func included(ids []string, id string) bool {
	if ids == nil {
		return true
	}
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (d *data) createUser(u servicing.User) error {
	if _, ok := d.users[u.ID]; ok {
		return servicing.ErrDuplicateUser
	}
	d.users[u.ID] = u
	return nil
}

func (d *data) getUser(id string) (servicing.User, error) {
	u, ok := d.users[id]
	if !ok {
		return servicing.User{}, servicing.ErrUserNotFound
	}
	return u, nil
}

func (d *data) listUsers() []servicing.User {
	out := make([]servicing.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) saveClient(c servicing.Client) error {
	if owner, ok := d.documents[c.DocumentID]; ok && owner != c.ID {
		return servicing.ErrDuplicateDocument
	}
	if prev, ok := d.clients[c.ID]; ok {
		delete(d.documents, prev.DocumentID)
	}
	d.clients[c.ID] = c
	d.documents[c.DocumentID] = c.ID
	return nil
}

func (d *data) getClient(id string) (servicing.Client, error) {
	c, ok := d.clients[id]
	if !ok {
		return servicing.Client{}, servicing.ErrClientNotFound
	}
	return c, nil
}

func (d *data) findClientByDocument(documentID string) (servicing.Client, error) {
	id, ok := d.documents[documentID]
	if !ok {
		return servicing.Client{}, servicing.ErrClientNotFound
	}
	return d.clients[id], nil
}

func (d *data) listClients(managerIDs []string) []servicing.Client {
	out := []servicing.Client{}
	for _, c := range d.clients {
		if included(managerIDs, c.ManagerID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) createLoan(loan servicing.Loan, installments []servicing.SubLoan) error {
	d.loans[loan.ID] = loan
	ids := make([]string, len(installments))
	for i, sub := range installments {
		d.subloans[sub.ID] = sub
		ids[i] = sub.ID
	}
	sort.Slice(ids, func(i, j int) bool { return d.subloans[ids[i]].Number < d.subloans[ids[j]].Number })
	d.loanSubs[loan.ID] = ids
	return nil
}

func (d *data) getLoan(id string) (servicing.Loan, error) {
	l, ok := d.loans[id]
	if !ok {
		return servicing.Loan{}, servicing.ErrLoanNotFound
	}
	return l, nil
}

func (d *data) listLoans(filter servicing.LoanFilter) []servicing.Loan {
	out := []servicing.Loan{}
	for _, l := range d.loans {
		if !included(filter.ManagerIDs, l.ManagerID) {
			continue
		}
		if filter.ClientID != "" && l.ClientID != filter.ClientID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) updateLoanStatus(id string, status servicing.LoanStatus) error {
	l, ok := d.loans[id]
	if !ok {
		return servicing.ErrLoanNotFound
	}
	l.Status = status
	d.loans[id] = l
	return nil
}

func (d *data) getSubLoan(id string) (servicing.SubLoan, error) {
	s, ok := d.subloans[id]
	if !ok {
		return servicing.SubLoan{}, servicing.ErrSubLoanNotFound
	}
	return s, nil
}

func (d *data) listSubLoans(loanID string) []servicing.SubLoan {
	ids := d.loanSubs[loanID]
	out := make([]servicing.SubLoan, len(ids))
	for i, id := range ids {
		out[i] = d.subloans[id]
	}
	return out
}

func (d *data) listOpenSubLoansDueBefore(date amortization.Date) []servicing.SubLoan {
	var out []servicing.SubLoan
	for _, sub := range d.subloans {
		if sub.Status != amortization.StatusPending && sub.Status != amortization.StatusPartial {
			continue
		}
		if !sub.DueDate.Before(date) || d.loans[sub.LoanID].Status != servicing.LoanActive {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if out[i].LoanID != out[j].LoanID {
			return out[i].LoanID < out[j].LoanID
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func (d *data) updateSubLoan(sub servicing.SubLoan) error {
	if _, ok := d.subloans[sub.ID]; !ok {
		return servicing.ErrSubLoanNotFound
	}
	d.subloans[sub.ID] = sub
	return nil
}

// appendPayment is append-only; keys are unique across the log.
func (d *data) appendPayment(p servicing.Payment) error {
	if p.IdempotencyKey != "" && d.idempotency[p.IdempotencyKey] {
		return servicing.ErrDuplicateIdempotencyKey
	}
	d.payments = append(d.payments, p)
	if p.IdempotencyKey != "" {
		d.idempotency[p.IdempotencyKey] = true
	}
	return nil
}

func (d *data) listPayments(filter servicing.PaymentFilter) []servicing.Payment {
	out := []servicing.Payment{}
	for _, p := range d.payments {
		if filter.CollectedBy != "" && p.CollectedBy != filter.CollectedBy {
			continue
		}
		if filter.LoanID != "" && p.LoanID != filter.LoanID {
			continue
		}
		if !filter.On.IsZero() && !p.PaidAt.Equal(filter.On) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (d *data) saveClosure(c servicing.CashClosure) error {
	k := closureKey{managerID: c.ManagerID, date: c.Date.String()}
	if d.closureDays[k] {
		return servicing.ErrClosureExists
	}
	d.closures = append(d.closures, c)
	d.closureDays[k] = true
	return nil
}

func (d *data) listClosures(managerIDs []string) []servicing.CashClosure {
	out := []servicing.CashClosure{}
	for _, c := range d.closures {
		if included(managerIDs, c.ManagerID) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ManagerID < out[j].ManagerID
	})
	return out
}
