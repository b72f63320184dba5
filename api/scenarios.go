/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	bookings for demos. Every loader goes through the services, so the
	journal, counters and balances are exactly what real traffic produces.

AVAILABLE SCENARIOS:

	branch-invoices:  Farwaniya 1 income, spending, an edit and a deletion
	home-funding:     Home service funding deposit, spending and income ledgers
	holding-payroll:  Fursatkum cash and bank, employee loan and salary run

HOW SCENARIOS WORK:
 1. Reset the store (clear all data) and the summary cache
 2. Post invoices, deposits, loans and salary runs as the demo actor
 3. Remember the loaded scenario for GET /api/scenarios/current

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "holding-payroll"}

NOTE:

	Scenarios reset the store. Only mounted when DEMO=true.

SEE ALSO:
  - handlers.go: error mapping
  - offices/presets.yaml: the offices these scenarios book into
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/offices"
	"github.com/warp/office-ledger/payroll"
)

// DemoActor books scenario data when the request carries no actor.
const DemoActor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "branch-invoices",
		Name:        "Branch Invoices",
		Description: "Income 100, spending 40, income edited to 120, spending deleted",
		Office:      string(offices.Farwaniya1),
	},
	{
		ID:          "home-funding",
		Name:        "Home Service Funding",
		Description: "Funding deposit, routed spending and income ledgers",
		Office:      string(offices.HomeService),
	},
	{
		ID:          "holding-payroll",
		Name:        "Holding Payroll",
		Description: "Cash and bank ledgers, employee loan repaid from a salary run",
		Office:      string(offices.Fursatkum),
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context, string) error
	switch req.ScenarioID {
	case "branch-invoices":
		load = h.loadBranchInvoicesScenario
	case "home-funding":
		load = h.loadHomeFundingScenario
	case "holding-payroll":
		load = h.loadHoldingPayrollScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	actor := actorFrom(r)
	if actor == "" {
		actor = DemoActor
	}
	if err := load(ctx, actor); err != nil {
		h.Log.Error().Err(err).Str("scenario", req.ScenarioID).Msg("scenario load failed")
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Str("actor", actor).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase drops every record.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.Log.Warn().Str("actor", actorFrom(r)).Msg("store reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reset must be called with h.mu held.
func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Ledger.Store().(Resetter)
	if !ok {
		return ledger.ErrStoreRequired
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.Ledger.InvalidateAll(ctx)
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func demoDate(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) loadBranchInvoicesScenario(ctx context.Context, actor string) error {
	office := offices.Farwaniya1
	if _, err := h.Ledger.Office(office); err != nil {
		return err
	}

	income, err := h.Ledger.PostInvoice(ctx, ledger.NewInvoice{
		Office:  office,
		Kind:    ledger.KindIncome,
		Name:    "Visa processing fees",
		Value:   ledger.MustAmount("100.000"),
		Date:    demoDate(time.March, 2),
		Details: "Weekly counter receipts",
	}, actor)
	if err != nil {
		return fmt.Errorf("post income: %w", err)
	}

	spending, err := h.Ledger.PostInvoice(ctx, ledger.NewInvoice{
		Office:  office,
		Kind:    ledger.KindSpending,
		Name:    "Office supplies",
		Value:   ledger.MustAmount("40.000"),
		Date:    demoDate(time.March, 3),
		Details: "Printer paper and toner",
	}, actor)
	if err != nil {
		return fmt.Errorf("post spending: %w", err)
	}

	corrected := ledger.MustAmount("120.000")
	if _, err := h.Ledger.EditInvoice(ctx, income.ID, ledger.InvoicePatch{
		Value:  &corrected,
		Reason: "late receipts counted",
	}, actor); err != nil {
		return fmt.Errorf("edit income: %w", err)
	}

	if err := h.Ledger.DeleteInvoice(ctx, spending.ID, actor, "duplicate entry"); err != nil {
		return fmt.Errorf("delete spending: %w", err)
	}
	return nil
}

func (h *Handler) loadHomeFundingScenario(ctx context.Context, actor string) error {
	office := offices.HomeService
	if _, err := h.Ledger.Office(office); err != nil {
		return err
	}

	if _, err := h.Ledger.DepositFunds(ctx, ledger.Deposit{
		Office:      office,
		Amount:      ledger.MustAmount("500.000"),
		Description: "Monthly funding from head office",
		Date:        demoDate(time.April, 1),
	}, actor); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	for _, in := range []ledger.NewInvoice{
		{Kind: ledger.KindSpending, Name: "Cleaning materials", Value: ledger.MustAmount("85.250"), Date: demoDate(time.April, 3)},
		{Kind: ledger.KindSpending, Name: "Transport", Value: ledger.MustAmount("34.750"), Date: demoDate(time.April, 5)},
		{Kind: ledger.KindIncome, Name: "Service contract", Value: ledger.MustAmount("300.000"), Date: demoDate(time.April, 7)},
	} {
		in.Office = office
		if _, err := h.Ledger.PostInvoice(ctx, in, actor); err != nil {
			return fmt.Errorf("post %s %q: %w", in.Kind, in.Name, err)
		}
	}
	return nil
}

func (h *Handler) loadHoldingPayrollScenario(ctx context.Context, actor string) error {
	office := offices.Fursatkum
	if _, err := h.Ledger.Office(office); err != nil {
		return err
	}

	if _, err := h.Ledger.PostInvoice(ctx, ledger.NewInvoice{
		Office: office,
		Kind:   ledger.KindIncome,
		Ledger: "cash",
		Name:   "Consulting retainer",
		Value:  ledger.MustAmount("1000.000"),
		Date:   demoDate(time.May, 1),
	}, actor); err != nil {
		return fmt.Errorf("post cash income: %w", err)
	}
	if _, err := h.Ledger.PostInvoice(ctx, ledger.NewInvoice{
		Office:        office,
		Kind:          ledger.KindIncome,
		Ledger:        "bank",
		Name:          "Project milestone",
		Value:         ledger.MustAmount("2000.000"),
		Date:          demoDate(time.May, 2),
		BankReference: "TRF-20250502-001",
	}, actor); err != nil {
		return fmt.Errorf("post bank income: %w", err)
	}

	emp, err := h.Payroll.CreateEmployee(ctx, payroll.NewEmployee{
		Office:        office,
		Name:          "Ahmad Saleh",
		MonthlySalary: ledger.MustAmount("300.000"),
	}, actor)
	if err != nil {
		return fmt.Errorf("create employee: %w", err)
	}

	if _, err := h.Payroll.IssueLoan(ctx, payroll.NewLoan{
		Office:           office,
		EmployeeID:       emp.ID,
		Ledger:           "cash",
		Amount:           ledger.MustAmount("50.000"),
		MonthlyDeduction: ledger.MustAmount("50.000"),
		Description:      "Salary advance",
		Date:             demoDate(time.May, 5),
	}, actor); err != nil {
		return fmt.Errorf("issue loan: %w", err)
	}

	if _, err := h.Payroll.RunSalary(ctx, payroll.SalaryRun{
		Office:     office,
		EmployeeID: emp.ID,
		Ledger:     "bank",
		Date:       demoDate(time.May, 31),
	}, actor); err != nil {
		return fmt.Errorf("run salary: %w", err)
	}
	return nil
}
