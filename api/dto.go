/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger and payroll models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *PageDTO: Paginated list wrappers

MONEY AND DATES:
  Amounts travel as decimal strings with three places ("100.000"), never
  as JSON numbers. Business dates are "2006-01-02"; timestamps are RFC 3339.

TYPES:
  Offices:     OfficeDTO, AccountDTO, SummaryDTO, ChainReportDTO
  Invoices:    InvoiceDTO, InvoicePageDTO, CreateInvoiceRequest,
               UpdateInvoiceRequest, DeleteInvoiceRequest
  Journal:     TransactionDTO, TransactionPageDTO, DepositRequest
  Payroll:     EmployeeDTO, LoanDTO, LoanSummaryDTO, SalaryPaymentDTO and
               their requests
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the services. DTOs are pure data carriers; the
  parse helpers only turn strings into decimals and dates.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

const dateLayout = "2006-01-02"

// =============================================================================
// OFFICE TYPES
// =============================================================================

// OfficeDTO describes a configured office.
type OfficeDTO struct {
	ID                     string            `json:"id"`
	Name                   string            `json:"name"`
	Currency               string            `json:"currency"`
	ReferencePrefix        string            `json:"reference_prefix,omitempty"`
	Ledgers                []string          `json:"ledgers"`
	DefaultLedger          string            `json:"default_ledger,omitempty"`
	BankLedgers            []string          `json:"bank_ledgers,omitempty"`
	Routing                map[string]string `json:"routing,omitempty"`
	RequireSufficientFunds bool              `json:"require_sufficient_funds"`
	RequireReason          bool              `json:"require_reason"`
	AllowDeposits          bool              `json:"allow_deposits"`
	Payroll                bool              `json:"payroll"`
}

// AccountDTO is the balance sheet of an office.
type AccountDTO struct {
	Office   string            `json:"office"`
	Currency string            `json:"currency"`
	Balances map[string]string `json:"balances"`
	Total    string            `json:"total"`
	Counters map[string]int64  `json:"counters"`
}

// SummaryDTO is the dashboard view.
type SummaryDTO struct {
	Office            string               `json:"office"`
	Ledger            string               `json:"ledger,omitempty"`
	Currency          string               `json:"currency"`
	Balances          map[string]string    `json:"balances"`
	Balance           string               `json:"balance"`
	IncomeTotal       string               `json:"income_total"`
	SpendingTotal     string               `json:"spending_total"`
	Counts            ledger.InvoiceCounts `json:"counts"`
	Counters          map[string]int64     `json:"counters"`
	Recent            []TransactionDTO     `json:"recent"`
	LastTransactionAt string               `json:"last_transaction_at,omitempty"`
}

// ChainMismatchDTO is one broken link of a balance chain.
type ChainMismatchDTO struct {
	Sequence      int64  `json:"sequence"`
	TransactionID string `json:"transaction_id,omitempty"`
	Expected      string `json:"expected"`
	Recorded      string `json:"recorded"`
	Reason        string `json:"reason"`
}

// ChainReportDTO is the result of verifying one ledger.
type ChainReportDTO struct {
	Office     string             `json:"office"`
	Ledger     string             `json:"ledger"`
	Entries    int                `json:"entries"`
	Replayed   string             `json:"replayed"`
	Stored     string             `json:"stored"`
	OK         bool               `json:"ok"`
	Mismatches []ChainMismatchDTO `json:"mismatches"`
}

// =============================================================================
// INVOICE TYPES
// =============================================================================

// DocumentDTO is an opaque reference to a stored file.
type DocumentDTO struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID              string             `json:"id"`
	Office          string             `json:"office"`
	ReferenceNumber string             `json:"reference_number"`
	Kind            string             `json:"kind"`
	Ledger          string             `json:"ledger"`
	Name            string             `json:"name,omitempty"`
	Value           string             `json:"value"`
	Date            string             `json:"date"`
	Details         string             `json:"details,omitempty"`
	BankReference   string             `json:"bank_reference,omitempty"`
	Document        *DocumentDTO       `json:"document,omitempty"`
	Status          string             `json:"status"`
	IsEdited        bool               `json:"is_edited"`
	EditHistory     []ledger.EditEntry `json:"edit_history"`
	DeletedAt       string             `json:"deleted_at,omitempty"`
	DeletedBy       string             `json:"deleted_by,omitempty"`
	DeleteReason    string             `json:"delete_reason,omitempty"`
	TransactionID   string             `json:"transaction_id"`
	CreatedBy       string             `json:"created_by"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

// InvoicePageDTO is one page of invoices.
type InvoicePageDTO struct {
	Items []InvoiceDTO `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
	Pages int          `json:"pages"`
}

// CreateInvoiceRequest is the body of POST /invoices.
type CreateInvoiceRequest struct {
	Kind          string       `json:"kind"`
	Ledger        string       `json:"ledger,omitempty"`
	Name          string       `json:"name,omitempty"`
	Value         string       `json:"value"`
	Date          string       `json:"date"`
	Details       string       `json:"details,omitempty"`
	BankReference string       `json:"bank_reference,omitempty"`
	Document      *DocumentDTO `json:"document,omitempty"`
}

// UpdateInvoiceRequest is the body of PUT /invoices/{id}. Only these
// fields are editable; the handler rejects any other key.
type UpdateInvoiceRequest struct {
	Name          *string      `json:"name,omitempty"`
	Value         *string      `json:"value,omitempty"`
	Date          *string      `json:"date,omitempty"`
	Details       *string      `json:"details,omitempty"`
	BankReference *string      `json:"bank_reference,omitempty"`
	Document      *DocumentDTO `json:"document,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// DeleteInvoiceRequest is the optional body of DELETE /invoices/{id}.
type DeleteInvoiceRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// JOURNAL TYPES
// =============================================================================

// TransactionDTO represents a journal entry.
type TransactionDTO struct {
	ID           string            `json:"id"`
	Office       string            `json:"office"`
	Ledger       string            `json:"ledger"`
	Sequence     int64             `json:"sequence"`
	Kind         string            `json:"kind"`
	Amount       string            `json:"amount"`
	BalanceAfter string            `json:"balance_after"`
	InvoiceID    string            `json:"invoice_id,omitempty"`
	Reference    string            `json:"reference,omitempty"`
	Description  string            `json:"description,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	PerformedBy  string            `json:"performed_by"`
	Date         string            `json:"date"`
	CreatedAt    string            `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TransactionPageDTO is one page of journal entries.
type TransactionPageDTO struct {
	Items []TransactionDTO `json:"items"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int              `json:"total"`
	Pages int              `json:"pages"`
}

// DepositRequest is the body of POST /funding.
type DepositRequest struct {
	Ledger      string `json:"ledger,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"`
}

// =============================================================================
// PAYROLL TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID            string `json:"id"`
	Office        string `json:"office"`
	Name          string `json:"name"`
	MonthlySalary string `json:"monthly_salary"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	Name          string `json:"name"`
	MonthlySalary string `json:"monthly_salary"`
	Notes         string `json:"notes,omitempty"`
}

// UpdateEmployeeRequest patches an employee; nil fields are unchanged.
type UpdateEmployeeRequest struct {
	Name          *string `json:"name,omitempty"`
	MonthlySalary *string `json:"monthly_salary,omitempty"`
	Status        *string `json:"status,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type RepaymentDTO struct {
	Amount        string `json:"amount"`
	Source        string `json:"source"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	Date          string `json:"date"`
	PerformedBy   string `json:"performed_by"`
}

// LoanDTO represents an employee loan.
type LoanDTO struct {
	ID               string         `json:"id"`
	Office           string         `json:"office"`
	EmployeeID       string         `json:"employee_id"`
	ReferenceNumber  string         `json:"reference_number"`
	Ledger           string         `json:"ledger"`
	OriginalAmount   string         `json:"original_amount"`
	RemainingAmount  string         `json:"remaining_amount"`
	MonthlyDeduction string         `json:"monthly_deduction"`
	Status           string         `json:"status"`
	Description      string         `json:"description,omitempty"`
	TransactionID    string         `json:"transaction_id"`
	Repayments       []RepaymentDTO `json:"repayments"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

// CreateLoanRequest is the body of POST /loans.
type CreateLoanRequest struct {
	EmployeeID       string `json:"employee_id"`
	Ledger           string `json:"ledger,omitempty"`
	Amount           string `json:"amount"`
	MonthlyDeduction string `json:"monthly_deduction,omitempty"`
	Description      string `json:"description,omitempty"`
	Date             string `json:"date,omitempty"`
}

// RepayLoanRequest is the body of POST /loans/{id}/repay.
type RepayLoanRequest struct {
	Amount string `json:"amount"`
	Ledger string `json:"ledger,omitempty"`
	Date   string `json:"date,omitempty"`
}

type LoanSummaryDTO struct {
	Office           string `json:"office"`
	OutstandingTotal string `json:"outstanding_total"`
	IssuedTotal      string `json:"issued_total"`
	Active           int    `json:"active"`
	Paid             int    `json:"paid"`
	Cancelled        int    `json:"cancelled"`
}

type DeductionDTO struct {
	LoanID        string `json:"loan_id"`
	LoanReference string `json:"loan_reference"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// SalaryPaymentDTO represents one salary run.
type SalaryPaymentDTO struct {
	ID              string         `json:"id"`
	Office          string         `json:"office"`
	EmployeeID      string         `json:"employee_id"`
	ReferenceNumber string         `json:"reference_number"`
	GrossSalary     string         `json:"gross_salary"`
	LoanDeducted    string         `json:"loan_deducted"`
	NetPaid         string         `json:"net_paid"`
	Ledger          string         `json:"ledger"`
	Date            string         `json:"date"`
	Deductions      []DeductionDTO `json:"deductions"`
	TransactionID   string         `json:"transaction_id"`
	Notes           string         `json:"notes,omitempty"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       string         `json:"created_at"`
}

// SalaryRunRequest is the body of POST /employees/{id}/salary. Gross and
// Deduction override the monthly salary and the planned loan deduction.
type SalaryRunRequest struct {
	Ledger    string  `json:"ledger,omitempty"`
	Date      string  `json:"date,omitempty"`
	Gross     *string `json:"gross,omitempty"`
	Deduction *string `json:"deduction,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Office      string `json:"office"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func amount(d decimal.Decimal) string { return ledger.FormatAmount(d) }

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toOfficeDTO(o *ledger.Office) OfficeDTO {
	dto := OfficeDTO{
		ID:                     string(o.ID),
		Name:                   o.Name,
		Currency:               o.Currency,
		ReferencePrefix:        o.ReferencePrefix,
		DefaultLedger:          string(o.DefaultLedger),
		RequireSufficientFunds: o.RequireSufficientFunds,
		RequireReason:          o.RequireReason,
		AllowDeposits:          o.AllowDeposits,
		Payroll:                o.Payroll,
	}
	for _, l := range o.Ledgers {
		dto.Ledgers = append(dto.Ledgers, string(l))
	}
	for _, l := range o.BankLedgers {
		dto.BankLedgers = append(dto.BankLedgers, string(l))
	}
	if len(o.KindRouting) > 0 {
		dto.Routing = make(map[string]string, len(o.KindRouting))
		for k, l := range o.KindRouting {
			dto.Routing[string(k)] = string(l)
		}
	}
	return dto
}

func toBalances(in map[ledger.LedgerID]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(in))
	for l, v := range in {
		out[string(l)] = amount(v)
	}
	return out
}

func toCounters(in map[ledger.CounterClass]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for c, n := range in {
		out[string(c)] = n
	}
	return out
}

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		Office:   string(a.Office),
		Currency: a.Currency,
		Balances: toBalances(a.Balances),
		Total:    amount(a.Total()),
		Counters: toCounters(a.Counters),
	}
}

func toSummaryDTO(s *ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		Office:        string(s.Office),
		Ledger:        string(s.Ledger),
		Currency:      s.Currency,
		Balances:      toBalances(s.Balances),
		Balance:       amount(s.Balance),
		IncomeTotal:   amount(s.IncomeTotal),
		SpendingTotal: amount(s.SpendingTotal),
		Counts:        s.Counts,
		Counters:      toCounters(s.Counters),
		Recent:        toTransactionDTOs(s.Recent),
	}
	if s.LastTransactionAt != nil {
		dto.LastTransactionAt = timestamp(*s.LastTransactionAt)
	}
	return dto
}

func toChainReportDTO(r *ledger.ChainReport) ChainReportDTO {
	dto := ChainReportDTO{
		Office:     string(r.Office),
		Ledger:     string(r.Ledger),
		Entries:    r.Entries,
		Replayed:   amount(r.Replayed),
		Stored:     amount(r.Stored),
		OK:         r.OK(),
		Mismatches: make([]ChainMismatchDTO, len(r.Mismatches)),
	}
	for i, m := range r.Mismatches {
		dto.Mismatches[i] = ChainMismatchDTO{
			Sequence:      m.Sequence,
			TransactionID: string(m.TransactionID),
			Expected:      amount(m.Expected),
			Recorded:      amount(m.Recorded),
			Reason:        m.Reason,
		}
	}
	return dto
}

func toInvoiceDTO(inv *ledger.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:              string(inv.ID),
		Office:          string(inv.Office),
		ReferenceNumber: inv.ReferenceNumber,
		Kind:            string(inv.Kind),
		Ledger:          string(inv.Ledger),
		Name:            inv.Name,
		Value:           amount(inv.Value),
		Date:            date(inv.Date),
		Details:         inv.Details,
		BankReference:   inv.BankReference,
		Status:          string(inv.Status),
		IsEdited:        inv.IsEdited,
		EditHistory:     inv.EditHistory,
		DeletedBy:       inv.DeletedBy,
		DeleteReason:    inv.DeleteReason,
		TransactionID:   string(inv.TransactionID),
		CreatedBy:       inv.CreatedBy,
		CreatedAt:       timestamp(inv.CreatedAt),
		UpdatedAt:       timestamp(inv.UpdatedAt),
	}
	if dto.EditHistory == nil {
		dto.EditHistory = []ledger.EditEntry{}
	}
	if inv.Document != nil {
		dto.Document = &DocumentDTO{
			Name:       inv.Document.Name,
			Path:       inv.Document.Path,
			UploadedAt: timestamp(inv.Document.UploadedAt),
		}
	}
	if inv.DeletedAt != nil {
		dto.DeletedAt = timestamp(*inv.DeletedAt)
	}
	return dto
}

func toInvoicePageDTO(p ledger.InvoicePage) InvoicePageDTO {
	items := make([]InvoiceDTO, len(p.Items))
	for i := range p.Items {
		items[i] = toInvoiceDTO(&p.Items[i])
	}
	return InvoicePageDTO{Items: items, Page: p.Page, Limit: p.Limit, Total: p.Total, Pages: p.Pages}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		Office:       string(tx.Office),
		Ledger:       string(tx.Ledger),
		Sequence:     tx.Sequence,
		Kind:         string(tx.Kind),
		Amount:       amount(tx.Amount),
		BalanceAfter: amount(tx.BalanceAfter),
		InvoiceID:    string(tx.InvoiceID),
		Reference:    tx.Reference,
		Description:  tx.Description,
		Reason:       tx.Reason,
		PerformedBy:  tx.PerformedBy,
		Date:         date(tx.Date),
		CreatedAt:    timestamp(tx.CreatedAt),
		Metadata:     tx.Metadata,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toEmployeeDTO(e *payroll.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:            string(e.ID),
		Office:        string(e.Office),
		Name:          e.Name,
		MonthlySalary: amount(e.MonthlySalary),
		Status:        string(e.Status),
		Notes:         e.Notes,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     timestamp(e.CreatedAt),
		UpdatedAt:     timestamp(e.UpdatedAt),
	}
}

func toLoanDTO(l *payroll.Loan) LoanDTO {
	dto := LoanDTO{
		ID:               string(l.ID),
		Office:           string(l.Office),
		EmployeeID:       string(l.EmployeeID),
		ReferenceNumber:  l.ReferenceNumber,
		Ledger:           string(l.Ledger),
		OriginalAmount:   amount(l.OriginalAmount),
		RemainingAmount:  amount(l.RemainingAmount),
		MonthlyDeduction: amount(l.MonthlyDeduction),
		Status:           string(l.Status),
		Description:      l.Description,
		TransactionID:    string(l.TransactionID),
		Repayments:       make([]RepaymentDTO, len(l.Repayments)),
		CreatedBy:        l.CreatedBy,
		CreatedAt:        timestamp(l.CreatedAt),
		UpdatedAt:        timestamp(l.UpdatedAt),
	}
	for i, r := range l.Repayments {
		dto.Repayments[i] = RepaymentDTO{
			Amount:        amount(r.Amount),
			Source:        r.Source,
			Reference:     r.Reference,
			TransactionID: string(r.TransactionID),
			Date:          date(r.Date),
			PerformedBy:   r.PerformedBy,
		}
	}
	return dto
}

func toSalaryPaymentDTO(p *payroll.SalaryPayment) SalaryPaymentDTO {
	dto := SalaryPaymentDTO{
		ID:              string(p.ID),
		Office:          string(p.Office),
		EmployeeID:      string(p.EmployeeID),
		ReferenceNumber: p.ReferenceNumber,
		GrossSalary:     amount(p.GrossSalary),
		LoanDeducted:    amount(p.LoanDeducted),
		NetPaid:         amount(p.NetPaid),
		Ledger:          string(p.Ledger),
		Date:            date(p.Date),
		Deductions:      make([]DeductionDTO, len(p.Deductions)),
		TransactionID:   string(p.TransactionID),
		Notes:           p.Notes,
		CreatedBy:       p.CreatedBy,
		CreatedAt:       timestamp(p.CreatedAt),
	}
	for i, d := range p.Deductions {
		dto.Deductions[i] = DeductionDTO{
			LoanID:        string(d.LoanID),
			LoanReference: d.LoanReference,
			Amount:        amount(d.Amount),
			TransactionID: string(d.TransactionID),
		}
	}
	return dto
}

func toLoanSummaryDTO(s *payroll.LoanSummary) LoanSummaryDTO {
	return LoanSummaryDTO{
		Office:           string(s.Office),
		OutstandingTotal: amount(s.OutstandingTotal),
		IssuedTotal:      amount(s.IssuedTotal),
		Active:           s.Active,
		Paid:             s.Paid,
		Cancelled:        s.Cancelled,
	}
}

// =============================================================================
// PARSE HELPERS
// =============================================================================

// parseAmount turns a decimal string into an amount. Sign and scale rules
// are left to the services so every caller gets the same messages.
func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: "required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: "not a decimal number"}
	}
	return d, nil
}

func parseOptionalAmount(field string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseAmount(field, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseDate accepts "2006-01-02" or RFC 3339. An empty string yields
// fallback.
func parseDate(field, s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Message: "invalid date format (use YYYY-MM-DD)"}
	}
	return t, nil
}

func toOfficeDTOs(in []*ledger.Office) []OfficeDTO {
	out := make([]OfficeDTO, len(in))
	for i, o := range in {
		out[i] = toOfficeDTO(o)
	}
	return out
}
