/*
Package payroll adds employees, loans and salary runs on top of the ledger
engine for offices that enable payroll.

PURPOSE:
  Every money movement of payroll is a ledger posting made through
  ledger.Tx, so loans and salaries share the balance chain, the
  critical section and the atomic unit of invoices.

JOURNAL MAPPING:
  IssueLoan    employee_loan_given       -amount
  RepayLoan    employee_loan_repayment   +amount
  RunSalary    salary_payment            -net paid
               salary_loan_deduction      0 (one memo per loan touched)

  The memo entries keep each deduction visible in the journal while the
  ledger moves by exactly the net paid.

SEE ALSO:
  - service.go: operations
  - store.go: persistence interface implemented by store/sqlite and store/memory
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/office-ledger/ledger"
)

type EmployeeID string
type LoanID string
type SalaryPaymentID string

// =============================================================================
// EMPLOYEE
// =============================================================================

type EmployeeStatus string

const (
	EmployeeActive   EmployeeStatus = "active"
	EmployeeInactive EmployeeStatus = "inactive"
)

func (s EmployeeStatus) Valid() bool {
	return s == EmployeeActive || s == EmployeeInactive
}

type Employee struct {
	ID            EmployeeID
	Office        ledger.OfficeID
	Name          string
	MonthlySalary decimal.Decimal
	Status        EmployeeStatus
	Notes         string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NewEmployee struct {
	Office        ledger.OfficeID
	Name          string
	MonthlySalary decimal.Decimal
	Notes         string
}

// EmployeePatch lists editable fields. Nil means unchanged.
type EmployeePatch struct {
	Name          *string
	MonthlySalary *decimal.Decimal
	Status        *EmployeeStatus
	Notes         *string
}

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	LoanActive    LoanStatus = "active"
	LoanPaid      LoanStatus = "paid"
	LoanCancelled LoanStatus = "cancelled"
)

// Repayment is one reduction of a loan, either direct or by salary deduction.
type Repayment struct {
	Amount        decimal.Decimal      `json:"amount"`
	Source        string               `json:"source"` // "repayment" or "salary"
	Reference     string               `json:"reference"`
	TransactionID ledger.TransactionID `json:"transaction_id"`
	Date          time.Time            `json:"date"`
	PerformedBy   string               `json:"performed_by"`
}

type Loan struct {
	ID               LoanID
	Office           ledger.OfficeID
	EmployeeID       EmployeeID
	ReferenceNumber  string
	Ledger           ledger.LedgerID
	OriginalAmount   decimal.Decimal
	RemainingAmount  decimal.Decimal
	MonthlyDeduction decimal.Decimal
	Status           LoanStatus
	Description      string
	TransactionID    ledger.TransactionID
	Repayments       []Repayment
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy safe to mutate.
func (l *Loan) Clone() *Loan {
	c := *l
	c.Repayments = append([]Repayment(nil), l.Repayments...)
	return &c
}

type NewLoan struct {
	Office           ledger.OfficeID
	EmployeeID       EmployeeID
	Ledger           ledger.LedgerID
	Amount           decimal.Decimal
	MonthlyDeduction decimal.Decimal
	Description      string
	Date             time.Time
}

type LoanFilter struct {
	Office     ledger.OfficeID
	EmployeeID EmployeeID
	Status     LoanStatus // empty means every status
}

func (f LoanFilter) Matches(l *Loan) bool {
	if f.Office != "" && l.Office != f.Office {
		return false
	}
	if f.EmployeeID != "" && l.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}

// LoanSummary aggregates the loans of an office.
type LoanSummary struct {
	Office           ledger.OfficeID `json:"office"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	IssuedTotal      decimal.Decimal `json:"issued_total"`
	Active           int             `json:"active"`
	Paid             int             `json:"paid"`
	Cancelled        int             `json:"cancelled"`
}

// =============================================================================
// SALARY
// =============================================================================

// Deduction is the part of a salary run applied to one loan.
type Deduction struct {
	LoanID        LoanID               `json:"loan_id"`
	LoanReference string               `json:"loan_reference"`
	Amount        decimal.Decimal      `json:"amount"`
	TransactionID ledger.TransactionID `json:"transaction_id"`
}

type SalaryPayment struct {
	ID              SalaryPaymentID
	Office          ledger.OfficeID
	EmployeeID      EmployeeID
	ReferenceNumber string
	GrossSalary     decimal.Decimal
	LoanDeducted    decimal.Decimal
	NetPaid         decimal.Decimal
	Ledger          ledger.LedgerID
	Date            time.Time
	Deductions      []Deduction
	TransactionID   ledger.TransactionID
	Notes           string
	CreatedBy       string
	CreatedAt       time.Time
}

// SalaryRun is the input of RunSalary.
type SalaryRun struct {
	Office     ledger.OfficeID
	EmployeeID EmployeeID
	Ledger     ledger.LedgerID
	Date       time.Time

	// Gross overrides the employee's monthly salary when set.
	Gross *decimal.Decimal

	// Deduction overrides the default loan deduction (the sum of the
	// active loans' monthly deductions) when set.
	Deduction *decimal.Decimal

	Notes string
}
