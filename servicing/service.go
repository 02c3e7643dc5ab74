/*
service.go - Servicing operations and visibility rules

PURPOSE:
  Service is the single entry point for staff and borrower operations. It
  validates input, enforces who may see what, drives the amortization
  engine, and persists through a Store.

VISIBILITY:
  admin     everything
  subadmin  managers whose parent is the subadmin, and their clients/loans
  manager   own clients, loans, payments and closures
  client    nothing through staff operations (borrowers use LookupLoans)

LOGGING:
  Business events (user/client/loan created, payment recorded, day closed)
  are logged at Info with zap fields. Validation failures are returned, not
  logged.

SEE ALSO:
  - loans.go, payments.go, closures.go, portfolio.go, lookup.go
*/
package servicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Limits bound loan terms accepted from staff.
type Limits struct {
	MaxPrincipal        decimal.Decimal
	MaxInstallments     int
	MaxRatePercent      decimal.Decimal
	SettlementTolerance decimal.Decimal // remaining amount at or below this counts as paid
}

// Check rejects terms above the configured maximums.
func (l Limits) Check(principal, ratePercent decimal.Decimal, installmentCount int) error {
	if principal.GreaterThan(l.MaxPrincipal) {
		return &ValidationError{Field: "principal", Message: "exceeds maximum of " + l.MaxPrincipal.String()}
	}
	if installmentCount > l.MaxInstallments {
		return &ValidationError{Field: "installment_count", Message: fmt.Sprintf("exceeds maximum of %d", l.MaxInstallments)}
	}
	if ratePercent.GreaterThan(l.MaxRatePercent) {
		return &ValidationError{Field: "interest_rate_percent", Message: "exceeds maximum of " + l.MaxRatePercent.String()}
	}
	return nil
}

func DefaultLimits() Limits {
	return Limits{
		MaxPrincipal:        decimal.NewFromInt(1_000_000_000),
		MaxInstallments:     600,
		MaxRatePercent:      decimal.NewFromInt(1000),
		SettlementTolerance: decimal.New(1, -2),
	}
}

type Service struct {
	store  Store
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
	limits Limits
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option        { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }
func WithLimits(l Limits) Option             { return func(s *Service) { s.limits = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckTerms applies the service limits to terms that never reach CreateLoan,
// such as calculator previews.
func (s *Service) CheckTerms(principal, ratePercent decimal.Decimal, installmentCount int) error {
	return s.limits.Check(principal, ratePercent, installmentCount)
}

// =============================================================================
// SCOPE
// =============================================================================

// scope is the set of managers an actor can see. all=true means no limit.
type scope struct {
	all        bool
	managerIDs []string
}

func (sc scope) includes(managerID string) bool {
	if sc.all {
		return true
	}
	for _, id := range sc.managerIDs {
		if id == managerID {
			return true
		}
	}
	return false
}

// filter returns the managerIDs argument for Store list calls.
func (sc scope) filter() []string {
	if sc.all {
		return nil
	}
	if sc.managerIDs == nil {
		return []string{}
	}
	return sc.managerIDs
}

func (s *Service) scopeFor(ctx context.Context, actor User) (scope, error) {
	switch actor.Role {
	case RoleAdmin:
		return scope{all: true}, nil
	case RoleManager:
		return scope{managerIDs: []string{actor.ID}}, nil
	case RoleSubadmin:
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return scope{}, err
		}
		sc := scope{managerIDs: []string{}}
		for _, u := range users {
			if u.Role == RoleManager && u.ParentID == actor.ID {
				sc.managerIDs = append(sc.managerIDs, u.ID)
			}
		}
		return sc, nil
	}
	return scope{}, ErrForbidden
}

// Actor resolves a user id to the acting user.
func (s *Service) Actor(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrUserNotFound
	}
	return s.store.GetUser(ctx, userID)
}

// =============================================================================
// USERS
// =============================================================================

// NewUser describes a user to create. Ids are always generated.
type NewUser struct {
	Name     string
	Email    string
	Role     Role
	ParentID string
}

var roleRank = map[Role]int{RoleAdmin: 3, RoleSubadmin: 2, RoleManager: 1, RoleClient: 0}

// EnsureAdmin creates the root admin if it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, id, name string) (User, error) {
	if u, err := s.store.GetUser(ctx, id); err == nil {
		return u, nil
	} else if !IsNotFound(err) {
		return User{}, err
	}
	u := User{ID: id, Name: name, Role: RoleAdmin, CreatedAt: s.now().UTC()}
	if err := s.store.CreateUser(ctx, u); errors.Is(err, ErrDuplicateUser) {
		return s.store.GetUser(ctx, id)
	} else if err != nil {
		return User{}, err
	}
	s.log.Info("admin bootstrapped", zap.String("user_id", id))
	return u, nil
}

// CreateUser adds a user below the actor. Admins may create any role;
// everyone else only roles strictly below their own, under a parent they
// can see.
func (s *Service) CreateUser(ctx context.Context, actor User, in NewUser) (User, error) {
	if strings.TrimSpace(in.Name) == "" {
		return User{}, &ValidationError{Field: "name", Message: "is required"}
	}
	if _, err := ParseRole(string(in.Role)); err != nil {
		return User{}, err
	}
	if actor.Role != RoleAdmin && roleRank[in.Role] >= roleRank[actor.Role] {
		return User{}, ErrForbidden
	}

	if in.Role == RoleAdmin {
		in.ParentID = ""
	} else {
		if in.ParentID == "" {
			in.ParentID = actor.ID
		}
		parent, err := s.store.GetUser(ctx, in.ParentID)
		if err != nil {
			return User{}, err
		}
		if !roleAllowedUnder(in.Role, parent.Role) {
			return User{}, &ValidationError{Field: "parent_id",
				Message: string(in.Role) + " cannot report to " + string(parent.Role)}
		}
		if err := checkParentVisible(actor, parent); err != nil {
			return User{}, err
		}
	}

	u := User{
		ID:        s.newID(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Role:      in.Role,
		ParentID:  in.ParentID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.log.Info("user created",
		zap.String("user_id", u.ID),
		zap.String("role", string(u.Role)),
		zap.String("parent_id", u.ParentID),
		zap.String("actor_id", actor.ID))
	return u, nil
}

func roleAllowedUnder(child, parent Role) bool {
	if child == RoleClient {
		return parent == RoleManager
	}
	for _, r := range parentRoles[child] {
		if r == parent {
			return true
		}
	}
	return false
}

func checkParentVisible(actor, parent User) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleSubadmin:
		if parent.ID == actor.ID || (parent.Role == RoleManager && parent.ParentID == actor.ID) {
			return nil
		}
	case RoleManager:
		if parent.ID == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}

// ListUsers returns the users the actor can see, the actor included.
func (s *Service) ListUsers(ctx context.Context, actor User) ([]User, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if sc.all {
		return users, nil
	}
	var visible []User
	for _, u := range users {
		switch {
		case u.ID == actor.ID:
			visible = append(visible, u)
		case u.Role == RoleManager && sc.includes(u.ID):
			visible = append(visible, u)
		case u.Role == RoleClient && sc.includes(u.ParentID):
			visible = append(visible, u)
		}
	}
	return visible, nil
}

// =============================================================================
// CLIENTS
// =============================================================================

type NewClient struct {
	ManagerID  string
	Name       string
	DocumentID string
	Phone      string
	Address    string
}

func (s *Service) CreateClient(ctx context.Context, actor User, in NewClient) (Client, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Client{}, &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(in.DocumentID) == "" {
		return Client{}, &ValidationError{Field: "document_id", Message: "is required"}
	}

	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return Client{}, err
	}
	if in.ManagerID == "" && actor.Role == RoleManager {
		in.ManagerID = actor.ID
	}
	if in.ManagerID == "" {
		return Client{}, &ValidationError{Field: "manager_id", Message: "is required"}
	}
	manager, err := s.store.GetUser(ctx, in.ManagerID)
	if err != nil {
		return Client{}, err
	}
	if manager.Role != RoleManager {
		return Client{}, &ValidationError{Field: "manager_id", Message: "must reference a manager"}
	}
	if !sc.includes(manager.ID) {
		return Client{}, ErrForbidden
	}

	c := Client{
		ID:         s.newID(),
		ManagerID:  manager.ID,
		Name:       strings.TrimSpace(in.Name),
		DocumentID: strings.TrimSpace(in.DocumentID),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    strings.TrimSpace(in.Address),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.SaveClient(ctx, c); err != nil {
		return Client{}, err
	}
	s.log.Info("client created",
		zap.String("client_id", c.ID),
		zap.String("manager_id", c.ManagerID),
		zap.String("actor_id", actor.ID))
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, actor User, id string) (Client, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return Client{}, err
	}
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return Client{}, err
	}
	if !sc.includes(c.ManagerID) {
		return Client{}, ErrForbidden
	}
	return c, nil
}

func (s *Service) ListClients(ctx context.Context, actor User) ([]Client, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.store.ListClients(ctx, sc.filter())
}
