/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a realistic
	lending book: staff hierarchy, clients, loans at different stages, and
	collected payments. Everything goes through servicing.Service, so the
	seeded data obeys the same rules as data entered by hand.

AVAILABLE SCENARIOS:

	small-branch: One subadmin, two managers, loans on schedule and one
	              fully repaid
	arrears:      A manager whose clients fell behind; the overdue sweep
	              runs after seeding, and one loan is defaulted

HOW SCENARIOS WORK:
 1. Refuse if any of the scenario's client documents already exist
 2. Create staff users under the acting admin
 3. Register clients with their manager
 4. Create loans with start dates relative to today
 5. Pay the first N installments in full, on their due dates
 6. Apply status changes and the overdue sweep

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "arrears"}

ADDING NEW SCENARIOS:
 1. Add a seedScenario to 'scenarios' with its managers, clients, loans
 2. Client document ids must be unique across all scenarios

NOTE:

	Scenarios add to existing data; they never reset the store.

SEE ALSO:
  - handlers.go: Router entry points
  - servicing/: The operations used to seed
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type seedLoan struct {
	Principal        int64
	RatePercent      int64
	InstallmentCount int
	MonthsAgo        int // start date relative to today
	PaidInstallments int
	Rounding         servicing.Rounding
	Status           servicing.LoanStatus // applied after payments; empty keeps ACTIVE
}

type seedClient struct {
	Name       string
	DocumentID string
	Phone      string
	Address    string
	Loans      []seedLoan
}

type seedManager struct {
	Name    string
	Email   string
	Clients []seedClient
}

type seedScenario struct {
	ScenarioDTO
	Subadmin string // empty puts managers directly under the admin
	Managers []seedManager
	Sweep    bool
}

var scenarios = []seedScenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "small-branch",
			Name:        "Small Branch",
			Description: "Subadmin with two managers, loans on schedule and one fully repaid",
		},
		Subadmin: "Zona Norte",
		Managers: []seedManager{
			{
				Name:  "Carla Gómez",
				Email: "carla@example.com",
				Clients: []seedClient{
					{
						Name: "Ana Pérez", DocumentID: "20111001", Phone: "+54 11 4000-1001", Address: "Av. Siempreviva 742",
						Loans: []seedLoan{
							{Principal: 100000, RatePercent: 34, InstallmentCount: 5, MonthsAgo: 2, PaidInstallments: 2},
						},
					},
					{
						Name: "Bruno Díaz", DocumentID: "20111002", Phone: "+54 11 4000-1002",
						Loans: []seedLoan{
							{Principal: 50000, RatePercent: 20, InstallmentCount: 3, MonthsAgo: 4, PaidInstallments: 3},
							{Principal: 80000, RatePercent: 27, InstallmentCount: 6, MonthsAgo: 0, Rounding: servicing.RoundingUp},
						},
					},
				},
			},
			{
				Name:  "Diego Ramos",
				Email: "diego@example.com",
				Clients: []seedClient{
					{
						Name: "Elena Suárez", DocumentID: "20111003", Phone: "+54 11 4000-1003",
						Loans: []seedLoan{
							{Principal: 250000, RatePercent: 40, InstallmentCount: 10, MonthsAgo: 1, PaidInstallments: 1},
						},
					},
				},
			},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "arrears",
			Name:        "Arrears",
			Description: "Clients behind on payments, overdue sweep applied, one defaulted loan",
		},
		Managers: []seedManager{
			{
				Name:  "Federico Luna",
				Email: "federico@example.com",
				Clients: []seedClient{
					{
						Name: "Gabriela Torres", DocumentID: "20222001", Phone: "+54 11 4000-2001",
						Loans: []seedLoan{
							{Principal: 120000, RatePercent: 30, InstallmentCount: 6, MonthsAgo: 4, PaidInstallments: 1},
						},
					},
					{
						Name: "Hernán Castro", DocumentID: "20222002", Phone: "+54 11 4000-2002",
						Loans: []seedLoan{
							{Principal: 60000, RatePercent: 25, InstallmentCount: 4, MonthsAgo: 5, Status: servicing.LoanDefaulted},
						},
					},
					{
						Name: "Irene Molina", DocumentID: "20222003", Phone: "+54 11 4000-2003",
						Loans: []seedLoan{
							{Principal: 30000, RatePercent: 10, InstallmentCount: 3, MonthsAgo: 1, PaidInstallments: 1},
						},
					},
				},
			},
		},
		Sweep: true,
	},
}

func findScenario(id string) (seedScenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return seedScenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario seeds a predefined scenario. Admin only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())
	if actor.Role != servicing.RoleAdmin {
		h.writeServiceError(w, r, servicing.ErrForbidden)
		return
	}
	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown scenario %q", req.ScenarioID), nil)
		return
	}

	result, err := h.seed(r.Context(), actor, sc)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidatePortfolio(r.Context())
	h.log.Info("scenario loaded",
		zap.String("scenario", sc.ID),
		zap.Int("clients", result.Clients),
		zap.Int("loans", result.Loans),
		zap.Int("payments", result.Payments))
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// SEEDING
// =============================================================================

func (h *Handler) seed(ctx context.Context, admin servicing.User, sc seedScenario) (ScenarioLoadDTO, error) {
	out := ScenarioLoadDTO{Scenario: sc.ScenarioDTO}
	if err := h.checkNotLoaded(ctx, admin, sc); err != nil {
		return out, err
	}
	today := h.today()

	parentID := admin.ID
	if sc.Subadmin != "" {
		sub, err := h.svc.CreateUser(ctx, admin, servicing.NewUser{
			Name: sc.Subadmin, Role: servicing.RoleSubadmin, ParentID: admin.ID,
		})
		if err != nil {
			return out, err
		}
		out.Users++
		parentID = sub.ID
	}

	for _, m := range sc.Managers {
		mgr, err := h.svc.CreateUser(ctx, admin, servicing.NewUser{
			Name: m.Name, Email: m.Email, Role: servicing.RoleManager, ParentID: parentID,
		})
		if err != nil {
			return out, err
		}
		out.Users++

		for _, c := range m.Clients {
			client, err := h.svc.CreateClient(ctx, admin, servicing.NewClient{
				ManagerID:  mgr.ID,
				Name:       c.Name,
				DocumentID: c.DocumentID,
				Phone:      c.Phone,
				Address:    c.Address,
			})
			if err != nil {
				return out, err
			}
			out.Clients++

			for _, l := range c.Loans {
				paid, err := h.seedLoan(ctx, admin, mgr, client, l, today)
				if err != nil {
					return out, fmt.Errorf("scenario %s, client %s: %w", sc.ID, c.DocumentID, err)
				}
				out.Loans++
				out.Payments += paid
			}
		}
	}

	if sc.Sweep {
		n, err := h.svc.MarkOverdue(ctx, admin, today)
		if err != nil {
			return out, err
		}
		OverdueMarked.Add(float64(n))
		out.OverdueUpdated = n
	}
	return out, nil
}

// seedLoan creates one loan and pays its first installments as the manager
// would have collected them. It returns the number of payments made.
func (h *Handler) seedLoan(ctx context.Context, admin, mgr servicing.User, client servicing.Client, l seedLoan, today amortization.Date) (int, error) {
	details, err := h.svc.CreateLoan(ctx, admin, servicing.LoanRequest{
		ClientID:            client.ID,
		Principal:           decimal.NewFromInt(l.Principal),
		InterestRatePercent: decimal.NewFromInt(l.RatePercent),
		InstallmentCount:    l.InstallmentCount,
		StartDate:           today.AddMonths(-l.MonthsAgo),
		Rounding:            l.Rounding,
	})
	if err != nil {
		return 0, err
	}
	SchedulesComputed.WithLabelValues("loan").Inc()

	paid := 0
	for _, inst := range details.Installments {
		if paid >= l.PaidInstallments {
			break
		}
		paidAt := inst.DueDate
		if paidAt.After(today) {
			paidAt = today
		}
		if _, err := h.svc.RecordPayment(ctx, mgr, servicing.PaymentRequest{
			SubLoanID:      inst.ID,
			Amount:         inst.Amount,
			PaidAt:         paidAt,
			IdempotencyKey: "seed-" + inst.ID,
		}); err != nil {
			return paid, err
		}
		paid++
	}

	if l.Status != "" && l.Status != servicing.LoanActive {
		if _, err := h.svc.ChangeLoanStatus(ctx, admin, details.ID, l.Status); err != nil {
			return paid, err
		}
	}
	return paid, nil
}

// checkNotLoaded refuses a scenario whose client documents are already
// registered, so a second load fails before creating anything.
func (h *Handler) checkNotLoaded(ctx context.Context, admin servicing.User, sc seedScenario) error {
	clients, err := h.svc.ListClients(ctx, admin)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(clients))
	for _, c := range clients {
		existing[c.DocumentID] = true
	}
	for _, m := range sc.Managers {
		for _, c := range m.Clients {
			if existing[c.DocumentID] {
				return fmt.Errorf("scenario %s already loaded: %w", sc.ID, servicing.ErrDuplicateDocument)
			}
		}
	}
	return nil
}
