package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/servicing"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, "GET", "/api/scenarios", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAs[[]ScenarioDTO](t, rec)
	require.Len(t, got, len(scenarios))
	assert.Equal(t, "small-branch", got[0].ID)
}

func TestScenarioDocumentsAreUnique(t *testing.T) {
	seen := map[string]string{}
	for _, sc := range scenarios {
		for _, m := range sc.Managers {
			for _, c := range m.Clients {
				prev, dup := seen[c.DocumentID]
				assert.False(t, dup, "document %s in %s and %s", c.DocumentID, prev, sc.ID)
				seen[c.DocumentID] = sc.ID
			}
		}
	}
}

func TestLoadScenario_SmallBranch(t *testing.T) {
	// GIVEN: An empty book on 2025-01-15
	// WHEN: small-branch is loaded
	// THEN: Staff, clients, loans and payments are created through the service,
	//       and the repaid loan is COMPLETED
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, "POST", "/api/scenarios/load", "admin", map[string]any{"scenario_id": "small-branch"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decodeAs[ScenarioLoadDTO](t, rec)
	assert.Equal(t, 3, got.Users)
	assert.Equal(t, 3, got.Clients)
	assert.Equal(t, 4, got.Loans)
	assert.Equal(t, 6, got.Payments)
	assert.Equal(t, 0, got.OverdueUpdated)

	loans, err := ts.svc.ListLoans(ts.ctx, ts.admin, "")
	require.NoError(t, err)
	byStatus := map[servicing.LoanStatus]int{}
	for _, l := range loans {
		byStatus[l.Status]++
	}
	assert.Equal(t, 1, byStatus[servicing.LoanCompleted])
	assert.Equal(t, 3, byStatus[servicing.LoanActive])

	root, err := ts.svc.Hierarchy(ts.ctx, ts.admin, ts.handler.today())
	require.NoError(t, err)
	require.Len(t, root.Children, 1, "managers sit under the subadmin")
	assert.Equal(t, servicing.RoleSubadmin, root.Children[0].User.Role)
	assert.Len(t, root.Children[0].Children, 2)

	t.Run("second load conflicts", func(t *testing.T) {
		rec := ts.do(t, "POST", "/api/scenarios/load", "admin", map[string]any{"scenario_id": "small-branch"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		users, err := ts.svc.ListUsers(ts.ctx, ts.admin)
		require.NoError(t, err)
		assert.Len(t, users, 4, "nothing created by the refused load")
	})
}

func TestLoadScenario_Arrears(t *testing.T) {
	// GIVEN: Loans started months ago with few payments
	// WHEN: arrears is loaded
	// THEN: The sweep marks the missed installments of the active loans
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, "POST", "/api/scenarios/load", "admin", map[string]any{"scenario_id": "arrears"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decodeAs[ScenarioLoadDTO](t, rec)
	assert.Equal(t, 1, got.Users)
	assert.Equal(t, 3, got.Loans)
	assert.Equal(t, 2, got.Payments)
	assert.Equal(t, 2, got.OverdueUpdated)

	sum, err := ts.svc.PortfolioSummary(ts.ctx, ts.admin, ts.handler.today())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DefaultedLoans)
	assert.Positive(t, sum.OverdueInstallments)
}

func TestLoadScenario_Rejections(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	mgr, err := ts.svc.CreateUser(ts.ctx, ts.admin, servicing.NewUser{Name: "Carlos", Role: servicing.RoleManager})
	require.NoError(t, err)

	rec := ts.do(t, "POST", "/api/scenarios/load", mgr.ID, map[string]any{"scenario_id": "arrears"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, "POST", "/api/scenarios/load", "admin", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
