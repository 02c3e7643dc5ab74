/*
Package sqlite provides a SQLite-backed implementation of servicing.Store.

PURPOSE:
  Persists users, clients, loans, installments, payments and cash closures.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

MONEY AND DATES:
  Decimal amounts are stored as TEXT (decimal.String) and parsed back with
  decimal.NewFromString, so no value ever passes through float64.
  Calendar dates are TEXT in YYYY-MM-DD, which sorts and compares
  correctly as strings. Timestamps are fixed-width UTC strings.

APPEND-ONLY PAYMENTS:
  There is no UPDATE or DELETE on payments. idempotency_key is UNIQUE, so
  a replayed payment fails with ErrDuplicateIdempotencyKey.

KEY TABLES:
  users, clients, loans, subloans, payments, closures

UNIQUENESS:
  users.id                    -> servicing.ErrDuplicateUser
  clients.document_id         -> servicing.ErrDuplicateDocument
  payments.idempotency_key    -> servicing.ErrDuplicateIdempotencyKey
  closures(manager_id, date)  -> servicing.ErrClosureExists

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The pool is limited to one
  connection so ":memory:" databases are shared by every call.

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := servicing.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - servicing/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements servicing.Store using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	mu *sync.RWMutex
	tx bool // true for the copy handed to a WithTx callback
}

var _ servicing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) lock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL,
		parent_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_parent
		ON users(parent_id) WHERE parent_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		manager_id TEXT NOT NULL,
		name TEXT NOT NULL,
		document_id TEXT NOT NULL UNIQUE,
		phone TEXT,
		address TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_manager
		ON clients(manager_id);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		manager_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate_percent TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		installment_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		tracking_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_manager
		ON loans(manager_id);
	CREATE INDEX IF NOT EXISTS idx_loans_client
		ON loans(client_id);

	-- Installments
	CREATE TABLE IF NOT EXISTS subloans (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		paid_at TEXT,
		UNIQUE(loan_id, number)
	);

	-- Overdue sweep (hot path)
	CREATE INDEX IF NOT EXISTS idx_subloans_status_due
		ON subloans(status, due_date);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		subloan_id TEXT NOT NULL REFERENCES subloans(id),
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		collected_by TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_collector_day
		ON payments(collected_by, paid_at);
	CREATE INDEX IF NOT EXISTS idx_payments_loan
		ON payments(loan_id);

	CREATE TABLE IF NOT EXISTS closures (
		id TEXT PRIMARY KEY,
		manager_id TEXT NOT NULL,
		date TEXT NOT NULL,
		collected TEXT NOT NULL,
		expenses TEXT NOT NULL,
		net TEXT NOT NULL,
		payment_count INTEGER NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(manager_id, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u servicing.User) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, nullString(u.Email), string(u.Role), nullString(u.ParentID), formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return servicing.ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, role, parent_id, created_at`

func (s *Store) GetUser(ctx context.Context, id string) (servicing.User, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return servicing.User{}, servicing.ErrUserNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]servicing.User, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []servicing.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(sc scanner) (servicing.User, error) {
	var (
		u         servicing.User
		email     sql.NullString
		role      string
		parentID  sql.NullString
		createdAt string
	)
	if err := sc.Scan(&u.ID, &u.Name, &email, &role, &parentID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return u, err
		}
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	u.Role = servicing.Role(role)
	u.ParentID = parentID.String
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Store) SaveClient(ctx context.Context, c servicing.Client) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO clients (id, manager_id, name, document_id, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manager_id = excluded.manager_id,
			name = excluded.name,
			document_id = excluded.document_id,
			phone = excluded.phone,
			address = excluded.address
	`, c.ID, c.ManagerID, c.Name, c.DocumentID, nullString(c.Phone), nullString(c.Address), formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return servicing.ErrDuplicateDocument
		}
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

const clientColumns = `id, manager_id, name, document_id, phone, address, created_at`

func (s *Store) GetClient(ctx context.Context, id string) (servicing.Client, error) {
	defer s.rlock()()
	return s.getClientWhere(ctx, "id = ?", id)
}

func (s *Store) FindClientByDocument(ctx context.Context, documentID string) (servicing.Client, error) {
	defer s.rlock()()
	return s.getClientWhere(ctx, "document_id = ?", documentID)
}

func (s *Store) getClientWhere(ctx context.Context, where string, arg any) (servicing.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE `+where, arg)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return servicing.Client{}, servicing.ErrClientNotFound
	}
	return c, err
}

func (s *Store) ListClients(ctx context.Context, managerIDs []string) ([]servicing.Client, error) {
	defer s.rlock()()

	if managerIDs != nil && len(managerIDs) == 0 {
		return []servicing.Client{}, nil
	}
	where, args := inClause("manager_id", managerIDs)
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	clients := []servicing.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func scanClient(sc scanner) (servicing.Client, error) {
	var (
		c         servicing.Client
		phone     sql.NullString
		address   sql.NullString
		createdAt string
	)
	if err := sc.Scan(&c.ID, &c.ManagerID, &c.Name, &c.DocumentID, &phone, &address, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, fmt.Errorf("failed to scan client: %w", err)
	}
	c.Phone = phone.String
	c.Address = address.String
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// LOANS
// =============================================================================

// CreateLoan inserts the loan and its installments atomically.
func (s *Store) CreateLoan(ctx context.Context, loan servicing.Loan, installments []servicing.SubLoan) error {
	if s.tx {
		return s.createLoan(ctx, s.q, loan, installments)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.createLoan(ctx, sqlTx, loan, installments); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) createLoan(ctx context.Context, q querier, loan servicing.Loan, installments []servicing.SubLoan) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loans
		(id, client_id, manager_id, principal, interest_rate_percent, installment_count, start_date,
		 total_amount, installment_amount, interest_amount, status, tracking_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		loan.ID, loan.ClientID, loan.ManagerID,
		loan.Principal.String(), loan.InterestRatePercent.String(), loan.InstallmentCount,
		loan.StartDate.String(),
		loan.TotalAmount.String(), loan.InstallmentAmount.String(), loan.InterestAmount.String(),
		string(loan.Status), loan.TrackingCode, formatTime(loan.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}

	for _, sub := range installments {
		if err := insertSubLoan(ctx, q, sub); err != nil {
			return err
		}
	}
	return nil
}

func insertSubLoan(ctx context.Context, q querier, sub servicing.SubLoan) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO subloans (id, loan_id, number, due_date, amount, paid_amount, status, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.LoanID, sub.Number, sub.DueDate.String(),
		sub.Amount.String(), sub.PaidAmount.String(), string(sub.Status), nullDate(sub.PaidAt))
	if err != nil {
		return fmt.Errorf("failed to insert installment %d: %w", sub.Number, err)
	}
	return nil
}

const loanColumns = `id, client_id, manager_id, principal, interest_rate_percent, installment_count, start_date,
	total_amount, installment_amount, interest_amount, status, tracking_code, created_at`

func (s *Store) GetLoan(ctx context.Context, id string) (servicing.Loan, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return servicing.Loan{}, servicing.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) ListLoans(ctx context.Context, filter servicing.LoanFilter) ([]servicing.Loan, error) {
	defer s.rlock()()

	if filter.ManagerIDs != nil && len(filter.ManagerIDs) == 0 {
		return []servicing.Loan{}, nil
	}
	where, args := inClause("manager_id", filter.ManagerIDs)
	if filter.ClientID != "" {
		where += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	loans := []servicing.Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (s *Store) UpdateLoanStatus(ctx context.Context, id string, status servicing.LoanStatus) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, `UPDATE loans SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return servicing.ErrLoanNotFound
	}
	return nil
}

func scanLoan(sc scanner) (servicing.Loan, error) {
	var (
		l                                             servicing.Loan
		principal, rate, total, installment, interest string
		startDate, status, createdAt                  string
	)
	err := sc.Scan(&l.ID, &l.ClientID, &l.ManagerID, &principal, &rate, &l.InstallmentCount, &startDate,
		&total, &installment, &interest, &status, &l.TrackingCode, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return l, err
		}
		return l, fmt.Errorf("failed to scan loan: %w", err)
	}

	d := decoder{}
	l.Principal = d.decimal(principal)
	l.InterestRatePercent = d.decimal(rate)
	l.TotalAmount = d.decimal(total)
	l.InstallmentAmount = d.decimal(installment)
	l.InterestAmount = d.decimal(interest)
	l.StartDate = d.date(startDate)
	l.Status = servicing.LoanStatus(status)
	l.CreatedAt = parseTime(createdAt)
	if d.err != nil {
		return l, fmt.Errorf("loan %s: %w", l.ID, d.err)
	}
	return l, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const subLoanColumns = `s.id, s.loan_id, s.number, s.due_date, s.amount, s.paid_amount, s.status, s.paid_at`

func (s *Store) GetSubLoan(ctx context.Context, id string) (servicing.SubLoan, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx, `SELECT `+subLoanColumns+` FROM subloans s WHERE s.id = ?`, id)
	sub, err := scanSubLoan(row)
	if err == sql.ErrNoRows {
		return servicing.SubLoan{}, servicing.ErrSubLoanNotFound
	}
	return sub, err
}

func (s *Store) ListSubLoans(ctx context.Context, loanID string) ([]servicing.SubLoan, error) {
	defer s.rlock()()

	return s.querySubLoans(ctx,
		`SELECT `+subLoanColumns+` FROM subloans s WHERE s.loan_id = ? ORDER BY s.number`, loanID)
}

// ListOpenSubLoansDueBefore feeds the overdue sweep.
func (s *Store) ListOpenSubLoansDueBefore(ctx context.Context, date amortization.Date) ([]servicing.SubLoan, error) {
	defer s.rlock()()

	return s.querySubLoans(ctx, `
		SELECT `+subLoanColumns+`
		FROM subloans s
		JOIN loans l ON l.id = s.loan_id
		WHERE l.status = ?
		  AND s.status IN (?, ?)
		  AND s.due_date < ?
		ORDER BY s.due_date, s.loan_id, s.number
	`, string(servicing.LoanActive),
		string(amortization.StatusPending), string(amortization.StatusPartial),
		date.String())
}

func (s *Store) UpdateSubLoan(ctx context.Context, sub servicing.SubLoan) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, `
		UPDATE subloans SET paid_amount = ?, status = ?, paid_at = ?
		WHERE id = ?
	`, sub.PaidAmount.String(), string(sub.Status), nullDate(sub.PaidAt), sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return servicing.ErrSubLoanNotFound
	}
	return nil
}

func (s *Store) querySubLoans(ctx context.Context, query string, args ...any) ([]servicing.SubLoan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	subs := []servicing.SubLoan{}
	for rows.Next() {
		sub, err := scanSubLoan(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubLoan(sc scanner) (servicing.SubLoan, error) {
	var (
		sub                servicing.SubLoan
		dueDate, amount    string
		paidAmount, status string
		paidAt             sql.NullString
	)
	err := sc.Scan(&sub.ID, &sub.LoanID, &sub.Number, &dueDate, &amount, &paidAmount, &status, &paidAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return sub, err
		}
		return sub, fmt.Errorf("failed to scan installment: %w", err)
	}

	d := decoder{}
	sub.DueDate = d.date(dueDate)
	sub.Amount = d.decimal(amount)
	sub.PaidAmount = d.decimal(paidAmount)
	sub.Status = amortization.ScheduleStatus(status)
	if paidAt.Valid && paidAt.String != "" {
		at := d.date(paidAt.String)
		sub.PaidAt = &at
	}
	if d.err != nil {
		return sub, fmt.Errorf("installment %s: %w", sub.ID, d.err)
	}
	return sub, nil
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p servicing.Payment) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, loan_id, subloan_id, amount, paid_at, collected_by, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.LoanID, p.SubLoanID, p.Amount.String(), p.PaidAt.String(), p.CollectedBy,
		nullString(p.IdempotencyKey), formatTime(p.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return servicing.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, filter servicing.PaymentFilter) ([]servicing.Payment, error) {
	defer s.rlock()()

	where := []string{"1 = 1"}
	var args []any
	if filter.CollectedBy != "" {
		where = append(where, "collected_by = ?")
		args = append(args, filter.CollectedBy)
	}
	if filter.LoanID != "" {
		where = append(where, "loan_id = ?")
		args = append(args, filter.LoanID)
	}
	if !filter.On.IsZero() {
		where = append(where, "paid_at = ?")
		args = append(args, filter.On.String())
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, subloan_id, amount, paid_at, collected_by, idempotency_key, created_at
		FROM payments
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY rowid
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []servicing.Payment{}
	for rows.Next() {
		var (
			p              servicing.Payment
			amount, paidAt string
			idempotencyKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &p.SubLoanID, &amount, &paidAt, &p.CollectedBy,
			&idempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		d := decoder{}
		p.Amount = d.decimal(amount)
		p.PaidAt = d.date(paidAt)
		if d.err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, d.err)
		}
		p.IdempotencyKey = idempotencyKey.String
		p.CreatedAt = parseTime(createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// CASH CLOSURES
// =============================================================================

func (s *Store) SaveClosure(ctx context.Context, c servicing.CashClosure) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO closures (id, manager_id, date, collected, expenses, net, payment_count, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ManagerID, c.Date.String(), c.Collected.String(), c.Expenses.String(), c.Net.String(),
		c.PaymentCount, nullString(c.Notes), formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return servicing.ErrClosureExists
		}
		return fmt.Errorf("failed to save closure: %w", err)
	}
	return nil
}

func (s *Store) ListClosures(ctx context.Context, managerIDs []string) ([]servicing.CashClosure, error) {
	defer s.rlock()()

	if managerIDs != nil && len(managerIDs) == 0 {
		return []servicing.CashClosure{}, nil
	}
	where, args := inClause("manager_id", managerIDs)
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, manager_id, date, collected, expenses, net, payment_count, notes, created_at
		FROM closures
		WHERE `+where+`
		ORDER BY date, manager_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query closures: %w", err)
	}
	defer rows.Close()

	closures := []servicing.CashClosure{}
	for rows.Next() {
		var (
			c                              servicing.CashClosure
			date, collected, expenses, net string
			notes                          sql.NullString
			createdAt                      string
		)
		if err := rows.Scan(&c.ID, &c.ManagerID, &date, &collected, &expenses, &net,
			&c.PaymentCount, &notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan closure: %w", err)
		}
		d := decoder{}
		c.Date = d.date(date)
		c.Collected = d.decimal(collected)
		c.Expenses = d.decimal(expenses)
		c.Net = d.decimal(net)
		if d.err != nil {
			return nil, fmt.Errorf("closure %s: %w", c.ID, d.err)
		}
		c.Notes = notes.String
		c.CreatedAt = parseTime(createdAt)
		closures = append(closures, c)
	}
	return closures, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store servicing.Store) error) error {
	if s.tx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, mu: s.mu, tx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

// decoder collects the first parse error across several columns.
type decoder struct {
	err error
}

func (d *decoder) decimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return v
}

func (d *decoder) date(s string) amortization.Date {
	v, err := amortization.ParseDate(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

// inClause renders "col IN (?, ?)" for a non-nil id list, or a
// tautology for nil.
func inClause(col string, ids []string) (string, []any) {
	if ids == nil {
		return "1 = 1", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *amortization.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
