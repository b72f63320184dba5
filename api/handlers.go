/*
handlers.go - HTTP API handlers for the office ledger

PURPOSE:
  Exposes the ledger and payroll services via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the services.

ENDPOINTS:
  Offices:
    GET    /api/offices                              List configured offices
    GET    /api/offices/{office}/dashboard?ledger=   Summary (all ledgers or one)
    GET    /api/offices/{office}/account             Balances and counters
    GET    /api/offices/{office}/transactions        Journal, newest first
    GET    /api/offices/{office}/ledgers/{ledger}/verify  Chain verification
    POST   /api/offices/{office}/funding             Deposit (add_funds)

  Invoices:
    GET    /api/offices/{office}/invoices            Filtered page
    POST   /api/offices/{office}/invoices            Post invoice
    GET    /api/offices/{office}/invoices/deleted    Deleted invoices
    GET    /api/offices/{office}/invoices/{id}       Invoice detail
    PUT    /api/offices/{office}/invoices/{id}       Edit invoice
    DELETE /api/offices/{office}/invoices/{id}       Delete invoice

  Payroll (offices with payroll enabled):
    GET|POST /api/offices/{office}/employees
    GET|PUT  /api/offices/{office}/employees/{id}
    POST     /api/offices/{office}/employees/{id}/salary
    GET      /api/offices/{office}/employees/{id}/salaries
    GET|POST /api/offices/{office}/loans
    GET      /api/offices/{office}/loans/summary
    POST     /api/offices/{office}/loans/{id}/repay

ACTOR:
  Every mutation requires the X-Actor-ID header, supplied by the identity
  layer in front of this service. Missing header -> 401.

ERROR HANDLING:
  Errors are returned as JSON {error, details, code}:
  - 400: Validation errors, invalid input
  - 401: Missing actor
  - 404: Office, invoice, employee or loan not found
  - 409: Invalid state (deleted invoice, insufficient funds, unknown ledger)
  - 503: Concurrency conflict after retries, with Retry-After
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

// ActorHeader carries the identity of the caller.
const ActorHeader = "X-Actor-ID"

// RetryAfterSeconds is sent with 503 responses.
const RetryAfterSeconds = 1

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every stored record. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Service
	Payroll *payroll.Service
	Log     zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the services.
func NewHandler(l *ledger.Service, p *payroll.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger:  l,
		Payroll: p,
		Log:     log.With().Str("component", "api").Logger(),
	}
}

type actorKey struct{}

// RequireActor rejects mutating requests without an actor.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Missing "+ActorHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) string {
	a, _ := r.Context().Value(actorKey{}).(string)
	return a
}

// =============================================================================
// OFFICE HANDLERS
// =============================================================================

// ListOffices returns every configured office.
func (h *Handler) ListOffices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toOfficeDTOs(h.Ledger.Offices()))
}

// GetDashboard returns the summary of an office, optionally for one ledger.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	officeID := ledger.OfficeID(chi.URLParam(r, "office"))
	ledgerID := ledger.LedgerID(r.URL.Query().Get("ledger"))

	sum, err := h.Ledger.GetSummary(r.Context(), officeID, ledgerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// GetAccount returns balances and counters.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Ledger.Account(r.Context(), ledger.OfficeID(chi.URLParam(r, "office")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListTransactions returns one page of the journal.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePagination(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.Ledger.ListTransactions(r.Context(), ledger.TransactionFilter{
		Office:     ledger.OfficeID(chi.URLParam(r, "office")),
		Ledger:     ledger.LedgerID(q.Get("ledger")),
		Kind:       ledger.TransactionKind(q.Get("kind")),
		InvoiceID:  ledger.InvoiceID(q.Get("invoice_id")),
		From:       from,
		To:         to,
		Pagination: page,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Items: toTransactionDTOs(result.Items),
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
		Pages: result.Pages,
	})
}

// VerifyLedger replays one ledger. A broken chain is reported with 200
// and ok=false; the request itself succeeded.
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.VerifyChain(r.Context(),
		ledger.OfficeID(chi.URLParam(r, "office")),
		ledger.LedgerID(chi.URLParam(r, "ledger")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChainReportDTO(report))
}

// DepositFunds credits a ledger without an invoice.
func (h *Handler) DepositFunds(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	day, err := parseDate("date", req.Date, h.Ledger.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entry, err := h.Ledger.DepositFunds(r.Context(), ledger.Deposit{
		Office:      ledger.OfficeID(chi.URLParam(r, "office")),
		Ledger:      ledger.LedgerID(req.Ledger),
		Amount:      amt,
		Description: req.Description,
		Date:        day,
	}, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*entry))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns a filtered page of invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	h.listInvoices(w, r, ledger.InvoiceStatus(r.URL.Query().Get("status")))
}

// ListDeletedInvoices returns the deleted invoices, kept for audit.
func (h *Handler) ListDeletedInvoices(w http.ResponseWriter, r *http.Request) {
	h.listInvoices(w, r, ledger.StatusDeleted)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request, status ledger.InvoiceStatus) {
	q := r.URL.Query()
	page, err := parsePagination(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	search := q.Get("search")
	if search == "" {
		search = q.Get("q")
	}

	result, err := h.Ledger.ListInvoices(r.Context(), ledger.InvoiceFilter{
		Office:     ledger.OfficeID(chi.URLParam(r, "office")),
		Kind:       ledger.InvoiceKind(q.Get("kind")),
		Ledger:     ledger.LedgerID(q.Get("ledger")),
		Status:     status,
		Search:     search,
		From:       from,
		To:         to,
		Pagination: page,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoicePageDTO(result))
}

// CreateInvoice posts a new income or spending invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	day, err := parseDate("date", req.Date, time.Time{})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	doc, err := parseDocument(req.Document)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	inv, err := h.Ledger.PostInvoice(r.Context(), ledger.NewInvoice{
		Office:        ledger.OfficeID(chi.URLParam(r, "office")),
		Kind:          ledger.InvoiceKind(req.Kind),
		Ledger:        ledger.LedgerID(req.Ledger),
		Name:          req.Name,
		Value:         value,
		Date:          day,
		Details:       req.Details,
		BankReference: req.BankReference,
		Document:      doc,
	}, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns a single invoice, deleted ones included.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoiceInOffice(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// UpdateInvoice edits the mutable fields of an invoice. Unknown keys
// (kind, ledger, reference_number) are rejected.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoiceInOffice(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req UpdateInvoiceRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	patch := ledger.InvoicePatch{
		Name:          req.Name,
		Details:       req.Details,
		BankReference: req.BankReference,
		Reason:        req.Reason,
	}
	if patch.Value, err = parseOptionalAmount("value", req.Value); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.Date != nil {
		day, err := parseDate("date", *req.Date, time.Time{})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		patch.Date = &day
	}
	if patch.Document, err = parseDocument(req.Document); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	updated, err := h.Ledger.EditInvoice(r.Context(), inv.ID, patch, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(updated))
}

// DeleteInvoice soft-deletes an invoice and reverses its contribution.
// The reason comes from the body or the reason query parameter.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoiceInOffice(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req DeleteInvoiceRequest
	if err := decodeJSON(r, &req, false); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeServiceError(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = r.URL.Query().Get("reason")
	}

	if err := h.Ledger.DeleteInvoice(r.Context(), inv.ID, actorFrom(r), req.Reason); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	deleted, err := h.Ledger.GetInvoice(r.Context(), inv.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(deleted))
}

// invoiceInOffice loads the {id} invoice and hides invoices of other offices.
func (h *Handler) invoiceInOffice(r *http.Request) (*ledger.Invoice, error) {
	officeID := ledger.OfficeID(chi.URLParam(r, "office"))
	if _, err := h.Ledger.Office(officeID); err != nil {
		return nil, err
	}
	id := ledger.InvoiceID(chi.URLParam(r, "id"))
	inv, err := h.Ledger.GetInvoice(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if inv.Office != officeID {
		return nil, &ledger.NotFoundError{Resource: "invoice", ID: string(id)}
	}
	return inv, nil
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns the employees of an office.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Payroll.ListEmployees(r.Context(), ledger.OfficeID(chi.URLParam(r, "office")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i := range employees {
		dtos[i] = toEmployeeDTO(&employees[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	salary, err := parseAmount("monthly_salary", req.MonthlySalary)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	emp, err := h.Payroll.CreateEmployee(r.Context(), payroll.NewEmployee{
		Office:        ledger.OfficeID(chi.URLParam(r, "office")),
		Name:          req.Name,
		MonthlySalary: salary,
		Notes:         req.Notes,
	}, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Payroll.GetEmployee(r.Context(),
		ledger.OfficeID(chi.URLParam(r, "office")),
		payroll.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// UpdateEmployee patches an employee.
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var req UpdateEmployeeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	patch := payroll.EmployeePatch{Name: req.Name, Notes: req.Notes}
	var err error
	if patch.MonthlySalary, err = parseOptionalAmount("monthly_salary", req.MonthlySalary); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.Status != nil {
		st := payroll.EmployeeStatus(*req.Status)
		patch.Status = &st
	}

	emp, err := h.Payroll.UpdateEmployee(r.Context(),
		ledger.OfficeID(chi.URLParam(r, "office")),
		payroll.EmployeeID(chi.URLParam(r, "id")),
		patch, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// RunSalary pays one month of salary, deducting loan installments.
func (h *Handler) RunSalary(w http.ResponseWriter, r *http.Request) {
	var req SalaryRunRequest
	if err := decodeJSON(r, &req, false); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeServiceError(w, r, err)
		return
	}
	day, err := parseDate("date", req.Date, h.Ledger.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	run := payroll.SalaryRun{
		Office:     ledger.OfficeID(chi.URLParam(r, "office")),
		EmployeeID: payroll.EmployeeID(chi.URLParam(r, "id")),
		Ledger:     ledger.LedgerID(req.Ledger),
		Date:       day,
		Notes:      req.Notes,
	}
	if run.Gross, err = parseOptionalAmount("gross", req.Gross); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if run.Deduction, err = parseOptionalAmount("deduction", req.Deduction); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	payment, err := h.Payroll.RunSalary(r.Context(), run, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSalaryPaymentDTO(payment))
}

// ListSalaryPayments returns an employee's salary history, newest first.
func (h *Handler) ListSalaryPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Payroll.ListSalaryPayments(r.Context(),
		ledger.OfficeID(chi.URLParam(r, "office")),
		payroll.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]SalaryPaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = toSalaryPaymentDTO(&payments[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns loans, optionally filtered by employee_id and status.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loans, err := h.Payroll.ListLoans(r.Context(), payroll.LoanFilter{
		Office:     ledger.OfficeID(chi.URLParam(r, "office")),
		EmployeeID: payroll.EmployeeID(q.Get("employee_id")),
		Status:     payroll.LoanStatus(q.Get("status")),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]LoanDTO, len(loans))
	for i := range loans {
		dtos[i] = toLoanDTO(&loans[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLoan issues a loan to an employee.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	monthly := req.MonthlyDeduction
	if monthly == "" {
		monthly = "0"
	}
	deduction, err := parseAmount("monthly_deduction", monthly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	day, err := parseDate("date", req.Date, h.Ledger.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	loan, err := h.Payroll.IssueLoan(r.Context(), payroll.NewLoan{
		Office:           ledger.OfficeID(chi.URLParam(r, "office")),
		EmployeeID:       payroll.EmployeeID(req.EmployeeID),
		Ledger:           ledger.LedgerID(req.Ledger),
		Amount:           amt,
		MonthlyDeduction: deduction,
		Description:      req.Description,
		Date:             day,
	}, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(loan))
}

// GetLoanSummary returns outstanding totals and counts.
func (h *Handler) GetLoanSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Payroll.LoanSummary(r.Context(), ledger.OfficeID(chi.URLParam(r, "office")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanSummaryDTO(sum))
}

// RepayLoan records a direct repayment.
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req RepayLoanRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	day, err := parseDate("date", req.Date, h.Ledger.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	loan, err := h.Payroll.RepayLoan(r.Context(),
		ledger.OfficeID(chi.URLParam(r, "office")),
		payroll.LoanID(chi.URLParam(r, "id")),
		payroll.Repay{Amount: amt, Ledger: ledger.LedgerID(req.Ledger), Date: day},
		actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// =============================================================================
// HELPERS
// =============================================================================

var errEmptyBody = errors.New("empty request body")

// decodeJSON decodes the request body. strict rejects unknown fields.
func decodeJSON(r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", &ledger.ValidationError{Field: "body", Message: "empty"}, errEmptyBody)
		}
		return &ledger.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func parseDocument(d *DocumentDTO) (*ledger.Document, error) {
	if d == nil {
		return nil, nil
	}
	if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Path) == "" {
		return nil, &ledger.ValidationError{Field: "document", Message: "name and path are required"}
	}
	doc := &ledger.Document{Name: d.Name, Path: d.Path}
	if d.UploadedAt != "" {
		t, err := time.Parse(time.RFC3339, d.UploadedAt)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "document.uploaded_at", Message: "must be RFC 3339"}
		}
		doc.UploadedAt = t
	}
	return doc, nil
}

func parsePagination(r *http.Request) (ledger.Pagination, error) {
	var p ledger.Pagination
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Page}, {"limit", &p.Limit}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, &ledger.ValidationError{Field: f.name, Message: "must be an integer"}
		}
		*f.dst = n
	}
	return p, nil
}

func parseRange(r *http.Request) (from, to *time.Time, err error) {
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := parseDate("from", raw, time.Time{})
		if err != nil {
			return nil, nil, err
		}
		from = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseDate("to", raw, time.Time{})
		if err != nil {
			return nil, nil, err
		}
		to = &t
	}
	return from, to, nil
}

// writeServiceError maps the ledger error taxonomy to HTTP.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "Invalid request", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "Not found", err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeErrorCode(w, http.StatusConflict, "insufficient_funds", "Insufficient funds", err)
	case errors.Is(err, ledger.ErrInvalidState):
		writeErrorCode(w, http.StatusConflict, "invalid_state", "Operation not allowed", err)
	case ledger.IsRetryable(err):
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		writeErrorCode(w, http.StatusServiceUnavailable, "concurrency_conflict", "Ledger busy, retry", err)
	default:
		h.Log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	code := "internal_error"
	switch status {
	case http.StatusBadRequest:
		code = "validation_error"
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusConflict:
		code = "invalid_state"
	}
	writeErrorCode(w, status, code, message, err)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
