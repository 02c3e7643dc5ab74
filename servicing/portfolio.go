package servicing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
)

// =============================================================================
// PORTFOLIO SUMMARY
// =============================================================================

// PortfolioSummary aggregates loan figures. Cancelled loans are counted but
// contribute no money.
type PortfolioSummary struct {
	ClientCount    int
	LoanCount      int
	ActiveLoans    int
	CompletedLoans int
	DefaultedLoans int
	CancelledLoans int

	PrincipalLent    decimal.Decimal
	ExpectedTotal    decimal.Decimal
	InterestExpected decimal.Decimal
	Collected        decimal.Decimal
	Outstanding      decimal.Decimal // still owed on active and defaulted loans

	OverdueAmount       decimal.Decimal
	OverdueInstallments int
}

// Add returns the element-wise sum of two summaries.
func (p PortfolioSummary) Add(o PortfolioSummary) PortfolioSummary {
	return PortfolioSummary{
		ClientCount:         p.ClientCount + o.ClientCount,
		LoanCount:           p.LoanCount + o.LoanCount,
		ActiveLoans:         p.ActiveLoans + o.ActiveLoans,
		CompletedLoans:      p.CompletedLoans + o.CompletedLoans,
		DefaultedLoans:      p.DefaultedLoans + o.DefaultedLoans,
		CancelledLoans:      p.CancelledLoans + o.CancelledLoans,
		PrincipalLent:       p.PrincipalLent.Add(o.PrincipalLent),
		ExpectedTotal:       p.ExpectedTotal.Add(o.ExpectedTotal),
		InterestExpected:    p.InterestExpected.Add(o.InterestExpected),
		Collected:           p.Collected.Add(o.Collected),
		Outstanding:         p.Outstanding.Add(o.Outstanding),
		OverdueAmount:       p.OverdueAmount.Add(o.OverdueAmount),
		OverdueInstallments: p.OverdueInstallments + o.OverdueInstallments,
	}
}

func summarizeLoan(loan Loan, subs []SubLoan, asOf amortization.Date) PortfolioSummary {
	sum := PortfolioSummary{LoanCount: 1}
	switch loan.Status {
	case LoanActive:
		sum.ActiveLoans = 1
	case LoanCompleted:
		sum.CompletedLoans = 1
	case LoanDefaulted:
		sum.DefaultedLoans = 1
	case LoanCancelled:
		sum.CancelledLoans = 1
		return sum
	}

	sum.PrincipalLent = loan.Principal
	sum.ExpectedTotal = loan.TotalAmount
	sum.InterestExpected = loan.InterestAmount
	owing := loan.Status == LoanActive || loan.Status == LoanDefaulted
	for _, sub := range subs {
		sum.Collected = sum.Collected.Add(sub.PaidAmount)
		if !owing || !sub.Status.IsOpen() {
			continue
		}
		sum.Outstanding = sum.Outstanding.Add(sub.Remaining())
		if sub.Status == amortization.StatusOverdue || sub.IsOverdueAt(asOf) {
			sum.OverdueAmount = sum.OverdueAmount.Add(sub.Remaining())
			sum.OverdueInstallments++
		}
	}
	return sum
}

type portfolio struct {
	clients []Client
	loans   []Loan
	subs    map[string][]SubLoan // by loan id
}

func (s *Service) loadPortfolio(ctx context.Context, sc scope) (portfolio, error) {
	clients, err := s.store.ListClients(ctx, sc.filter())
	if err != nil {
		return portfolio{}, err
	}
	loans, err := s.store.ListLoans(ctx, LoanFilter{ManagerIDs: sc.filter()})
	if err != nil {
		return portfolio{}, err
	}
	subs := make(map[string][]SubLoan, len(loans))
	for _, l := range loans {
		rows, err := s.store.ListSubLoans(ctx, l.ID)
		if err != nil {
			return portfolio{}, err
		}
		subs[l.ID] = rows
	}
	return portfolio{clients: clients, loans: loans, subs: subs}, nil
}

// clientSummaries returns one summary per client, keyed by client id.
func (p portfolio) clientSummaries(asOf amortization.Date) map[string]PortfolioSummary {
	out := make(map[string]PortfolioSummary, len(p.clients))
	for _, c := range p.clients {
		out[c.ID] = PortfolioSummary{ClientCount: 1}
	}
	for _, l := range p.loans {
		out[l.ClientID] = out[l.ClientID].Add(summarizeLoan(l, p.subs[l.ID], asOf))
	}
	return out
}

// PortfolioSummary aggregates every loan visible to the actor as of a date.
func (s *Service) PortfolioSummary(ctx context.Context, actor User, asOf amortization.Date) (PortfolioSummary, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return PortfolioSummary{}, err
	}
	if asOf.IsZero() {
		asOf = amortization.DateOf(s.now())
	}
	p, err := s.loadPortfolio(ctx, sc)
	if err != nil {
		return PortfolioSummary{}, err
	}
	total := PortfolioSummary{ClientCount: len(p.clients)}
	for _, l := range p.loans {
		total = total.Add(summarizeLoan(l, p.subs[l.ID], asOf))
	}
	return total, nil
}

// =============================================================================
// HIERARCHY
// =============================================================================

type ClientSummary struct {
	Client  Client
	Summary PortfolioSummary
}

// HierarchyNode is one staff user with figures rolled up from below:
// a manager's summary is the sum of its clients, a subadmin's the sum of
// its managers, and so on.
type HierarchyNode struct {
	User     User
	Summary  PortfolioSummary
	Children []HierarchyNode
	Clients  []ClientSummary
}

// Hierarchy returns the tree rooted at the actor.
func (s *Service) Hierarchy(ctx context.Context, actor User, asOf amortization.Date) (HierarchyNode, error) {
	sc, err := s.scopeFor(ctx, actor)
	if err != nil {
		return HierarchyNode{}, err
	}
	if asOf.IsZero() {
		asOf = amortization.DateOf(s.now())
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return HierarchyNode{}, err
	}
	p, err := s.loadPortfolio(ctx, sc)
	if err != nil {
		return HierarchyNode{}, err
	}

	children := make(map[string][]User)
	for _, u := range users {
		if u.ParentID != "" && (u.Role == RoleSubadmin || u.Role == RoleManager) {
			children[u.ParentID] = append(children[u.ParentID], u)
		}
	}
	clientsByManager := make(map[string][]Client)
	for _, c := range p.clients {
		clientsByManager[c.ManagerID] = append(clientsByManager[c.ManagerID], c)
	}
	summaries := p.clientSummaries(asOf)

	var build func(u User) HierarchyNode
	build = func(u User) HierarchyNode {
		node := HierarchyNode{User: u}
		kids := children[u.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })
		for _, child := range kids {
			if child.Role == RoleManager && !sc.includes(child.ID) {
				continue
			}
			n := build(child)
			node.Summary = node.Summary.Add(n.Summary)
			node.Children = append(node.Children, n)
		}
		if u.Role == RoleManager {
			for _, c := range clientsByManager[u.ID] {
				cs := ClientSummary{Client: c, Summary: summaries[c.ID]}
				node.Summary = node.Summary.Add(cs.Summary)
				node.Clients = append(node.Clients, cs)
			}
		}
		return node
	}
	return build(actor), nil
}
