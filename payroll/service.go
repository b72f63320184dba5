package payroll

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/office-ledger/ledger"
)

// Service runs payroll for offices configured with Payroll enabled.
//
// Loan balances can be touched from two ledgers (a loan issued from cash
// may be deducted from a salary paid by bank), so loan-touching operations
// also hold a per-employee lock, always taken before the ledger lock.
type Service struct {
	ledger *ledger.Service
	log    zerolog.Logger

	employeeLocks sync.Map // EmployeeID -> *sync.Mutex
}

func NewService(l *ledger.Service, log zerolog.Logger) *Service {
	return &Service{
		ledger: l,
		log:    log.With().Str("component", "payroll").Logger(),
	}
}

func (s *Service) lockEmployee(id EmployeeID) func() {
	m, _ := s.employeeLocks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) office(id ledger.OfficeID) (*ledger.Office, error) {
	o, err := s.ledger.Office(id)
	if err != nil {
		return nil, err
	}
	if !o.Payroll {
		return nil, &ledger.InvalidStateError{Resource: "office", ID: string(id), Reason: "payroll is not enabled"}
	}
	return o, nil
}

func (s *Service) store() (Store, error) {
	return payrollStore(s.ledger.Store())
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Service) CreateEmployee(ctx context.Context, in NewEmployee, actor string) (*Employee, error) {
	office, err := s.office(in.Office)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		return nil, invalid("actor", "caller identity is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "required")
	}
	if err := positive("monthly_salary", in.MonthlySalary); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}

	now := s.ledger.Now()
	e := Employee{
		ID:            EmployeeID(s.ledger.NewID()),
		Office:        office.ID,
		Name:          name,
		MonthlySalary: in.MonthlySalary,
		Status:        EmployeeActive,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.SaveEmployee(ctx, e); err != nil {
		return nil, fmt.Errorf("save employee: %w", err)
	}
	s.log.Info().Str("office", string(office.ID)).Str("employee", string(e.ID)).Str("actor", actor).Msg("employee created")
	return &e, nil
}

func (s *Service) UpdateEmployee(ctx context.Context, office ledger.OfficeID, id EmployeeID, patch EmployeePatch, actor string) (*Employee, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, invalid("actor", "caller identity is required")
	}
	e, err := s.GetEmployee(ctx, office, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalid("name", "cannot be empty")
		}
		e.Name = name
	}
	if patch.MonthlySalary != nil {
		if err := positive("monthly_salary", *patch.MonthlySalary); err != nil {
			return nil, err
		}
		e.MonthlySalary = *patch.MonthlySalary
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, invalid("status", "must be active or inactive")
		}
		e.Status = *patch.Status
	}
	if patch.Notes != nil {
		e.Notes = strings.TrimSpace(*patch.Notes)
	}
	e.UpdatedAt = s.ledger.Now()

	st, err := s.store()
	if err != nil {
		return nil, err
	}
	if err := st.SaveEmployee(ctx, *e); err != nil {
		return nil, fmt.Errorf("save employee %s: %w", id, err)
	}
	return e, nil
}

// GetEmployee returns an employee of office.
func (s *Service) GetEmployee(ctx context.Context, office ledger.OfficeID, id EmployeeID) (*Employee, error) {
	if _, err := s.office(office); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return getEmployee(ctx, st, office, id)
}

func (s *Service) ListEmployees(ctx context.Context, office ledger.OfficeID) ([]Employee, error) {
	if _, err := s.office(office); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return st.ListEmployees(ctx, office)
}

// =============================================================================
// LOANS
// =============================================================================

// IssueLoan pays a loan out of a ledger.
func (s *Service) IssueLoan(ctx context.Context, in NewLoan, actor string) (*Loan, error) {
	office, err := s.office(in.Office)
	if err != nil {
		return nil, err
	}
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	if in.MonthlyDeduction.IsNegative() || !ledger.HasValidScale(in.MonthlyDeduction) {
		return nil, invalid("monthly_deduction", "must be zero or positive with at most %d decimal places", ledger.Scale)
	}
	if in.MonthlyDeduction.GreaterThan(in.Amount) {
		return nil, invalid("monthly_deduction", "cannot exceed the loan amount")
	}
	ledgerID, err := office.ResolveLedger(ledger.KindSpending, in.Ledger)
	if err != nil {
		return nil, err
	}
	emp, err := s.GetEmployee(ctx, office.ID, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp.Status != EmployeeActive {
		return nil, &ledger.InvalidStateError{Resource: "employee", ID: string(emp.ID), Reason: "employee is inactive"}
	}

	unlock := s.lockEmployee(emp.ID)
	defer unlock()

	var loan *Loan
	err = s.ledger.Mutate(ctx, office.ID, ledgerID, actor, func(ctx context.Context, tx *ledger.Tx) error {
		st, err := payrollStore(tx.Store())
		if err != nil {
			return err
		}
		if err := tx.RequireFunds(ctx, in.Amount); err != nil {
			return err
		}
		ref, err := tx.NextReference(ctx, ledger.ClassLoan)
		if err != nil {
			return err
		}
		id := LoanID(s.ledger.NewID())
		entry, err := tx.Post(ctx, ledger.Posting{
			Kind:        ledger.TxLoanGiven,
			Amount:      in.Amount.Neg(),
			Date:        in.Date,
			Reference:   ref,
			Description: fmt.Sprintf("loan %s to %s", ref, emp.Name),
			Metadata:    map[string]string{"employee_id": string(emp.ID), "loan_id": string(id)},
		})
		if err != nil {
			return err
		}

		now := s.ledger.Now()
		loan = &Loan{
			ID:               id,
			Office:           office.ID,
			EmployeeID:       emp.ID,
			ReferenceNumber:  ref,
			Ledger:           ledgerID,
			OriginalAmount:   in.Amount,
			RemainingAmount:  in.Amount,
			MonthlyDeduction: in.MonthlyDeduction,
			Status:           LoanActive,
			Description:      strings.TrimSpace(in.Description),
			TransactionID:    entry.ID,
			CreatedBy:        actor,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return st.SaveLoan(ctx, *loan)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("office", string(office.ID)).Str("reference", loan.ReferenceNumber).
		Str("employee", string(emp.ID)).Str("amount", ledger.FormatAmount(in.Amount)).
		Str("actor", actor).Msg("loan issued")
	return loan, nil
}

// Repay is the input of RepayLoan.
type Repay struct {
	Amount decimal.Decimal
	Ledger ledger.LedgerID // defaults to the ledger the loan was issued from
	Date   time.Time
}

// RepayLoan credits a repayment to a ledger and reduces the loan.
func (s *Service) RepayLoan(ctx context.Context, office ledger.OfficeID, id LoanID, in Repay, actor string) (*Loan, error) {
	o, err := s.office(office)
	if err != nil {
		return nil, err
	}
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	current, err := s.GetLoan(ctx, office, id)
	if err != nil {
		return nil, err
	}
	ledgerID := in.Ledger
	if ledgerID == "" {
		ledgerID = current.Ledger
	}

	unlock := s.lockEmployee(current.EmployeeID)
	defer unlock()

	var loan *Loan
	err = s.ledger.Mutate(ctx, o.ID, ledgerID, actor, func(ctx context.Context, tx *ledger.Tx) error {
		st, err := payrollStore(tx.Store())
		if err != nil {
			return err
		}
		stored, err := st.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return &ledger.NotFoundError{Resource: "loan", ID: string(id)}
		}
		if stored.Status != LoanActive {
			return &ledger.InvalidStateError{Resource: "loan", ID: stored.ReferenceNumber, Reason: fmt.Sprintf("loan is %s", stored.Status)}
		}
		if in.Amount.GreaterThan(stored.RemainingAmount) {
			return &ledger.InvalidStateError{
				Resource: "loan", ID: stored.ReferenceNumber,
				Reason: fmt.Sprintf("repayment %s exceeds remaining %s",
					ledger.FormatAmount(in.Amount), ledger.FormatAmount(stored.RemainingAmount)),
			}
		}
		loan = stored.Clone()

		entry, err := tx.Post(ctx, ledger.Posting{
			Kind:        ledger.TxLoanRepayment,
			Amount:      in.Amount,
			Date:        in.Date,
			Reference:   loan.ReferenceNumber,
			Description: fmt.Sprintf("repayment of loan %s", loan.ReferenceNumber),
			Metadata:    map[string]string{"employee_id": string(loan.EmployeeID), "loan_id": string(loan.ID)},
		})
		if err != nil {
			return err
		}
		applyRepayment(loan, Repayment{
			Amount:        in.Amount,
			Source:        "repayment",
			Reference:     loan.ReferenceNumber,
			TransactionID: entry.ID,
			Date:          entry.Date,
			PerformedBy:   actor,
		}, s.ledger.Now())
		return st.SaveLoan(ctx, *loan)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("office", string(o.ID)).Str("reference", loan.ReferenceNumber).
		Str("amount", ledger.FormatAmount(in.Amount)).Str("remaining", ledger.FormatAmount(loan.RemainingAmount)).
		Str("actor", actor).Msg("loan repaid")
	return loan, nil
}

func (s *Service) GetLoan(ctx context.Context, office ledger.OfficeID, id LoanID) (*Loan, error) {
	if _, err := s.office(office); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	l, err := st.GetLoan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", id, err)
	}
	if l == nil || l.Office != office {
		return nil, &ledger.NotFoundError{Resource: "loan", ID: string(id)}
	}
	return l, nil
}

func (s *Service) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	if _, err := s.office(f.Office); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return st.ListLoans(ctx, f)
}

// LoanSummary totals the loans of an office.
func (s *Service) LoanSummary(ctx context.Context, office ledger.OfficeID) (*LoanSummary, error) {
	loans, err := s.ListLoans(ctx, LoanFilter{Office: office})
	if err != nil {
		return nil, err
	}
	sum := &LoanSummary{Office: office, OutstandingTotal: decimal.Zero, IssuedTotal: decimal.Zero}
	for _, l := range loans {
		sum.IssuedTotal = sum.IssuedTotal.Add(l.OriginalAmount)
		switch l.Status {
		case LoanActive:
			sum.Active++
			sum.OutstandingTotal = sum.OutstandingTotal.Add(l.RemainingAmount)
		case LoanPaid:
			sum.Paid++
		case LoanCancelled:
			sum.Cancelled++
		}
	}
	return sum, nil
}

// =============================================================================
// SALARY
// =============================================================================

// RunSalary pays one employee's salary from a ledger, deducting loans
// oldest first. A deduction larger than the outstanding loans or the gross
// salary is capped, never rejected.
func (s *Service) RunSalary(ctx context.Context, in SalaryRun, actor string) (*SalaryPayment, error) {
	office, err := s.office(in.Office)
	if err != nil {
		return nil, err
	}
	emp, err := s.GetEmployee(ctx, office.ID, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp.Status != EmployeeActive {
		return nil, &ledger.InvalidStateError{Resource: "employee", ID: string(emp.ID), Reason: "employee is inactive"}
	}
	gross := emp.MonthlySalary
	if in.Gross != nil {
		gross = *in.Gross
	}
	if err := positive("gross_salary", gross); err != nil {
		return nil, err
	}
	if in.Deduction != nil && (in.Deduction.IsNegative() || !ledger.HasValidScale(*in.Deduction)) {
		return nil, invalid("loan_deduction", "must be zero or positive with at most %d decimal places", ledger.Scale)
	}
	ledgerID, err := office.ResolveLedger(ledger.KindSpending, in.Ledger)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEmployee(emp.ID)
	defer unlock()

	var payment *SalaryPayment
	err = s.ledger.Mutate(ctx, office.ID, ledgerID, actor, func(ctx context.Context, tx *ledger.Tx) error {
		st, err := payrollStore(tx.Store())
		if err != nil {
			return err
		}
		loans, err := st.ListLoans(ctx, LoanFilter{Office: office.ID, EmployeeID: emp.ID, Status: LoanActive})
		if err != nil {
			return err
		}

		requested := decimal.Zero
		if in.Deduction != nil {
			requested = *in.Deduction
		} else {
			for _, l := range loans {
				requested = requested.Add(l.MonthlyDeduction)
			}
		}
		plan := planDeductions(loans, decimal.Min(requested, gross))
		deducted := decimal.Zero
		for _, d := range plan {
			deducted = deducted.Add(d.Amount)
		}
		net := gross.Sub(deducted)

		if err := tx.RequireFunds(ctx, net); err != nil {
			return err
		}
		ref, err := tx.NextReference(ctx, ledger.ClassSalary)
		if err != nil {
			return err
		}
		id := SalaryPaymentID(s.ledger.NewID())
		meta := func(extra ...string) map[string]string {
			m := map[string]string{"employee_id": string(emp.ID), "salary_payment_id": string(id)}
			for i := 0; i+1 < len(extra); i += 2 {
				m[extra[i]] = extra[i+1]
			}
			return m
		}

		entry, err := tx.Post(ctx, ledger.Posting{
			Kind:        ledger.TxSalaryPayment,
			Amount:      net.Neg(),
			Date:        in.Date,
			Reference:   ref,
			Description: fmt.Sprintf("salary %s for %s", ref, emp.Name),
			Metadata:    meta("gross", ledger.FormatAmount(gross), "loan_deducted", ledger.FormatAmount(deducted)),
		})
		if err != nil {
			return err
		}

		now := s.ledger.Now()
		for i := range plan {
			d := &plan[i]
			loan := d.loan
			memo, err := tx.Post(ctx, ledger.Posting{
				Kind:        ledger.TxSalaryLoanDeduction,
				Amount:      decimal.Zero,
				Date:        in.Date,
				Reference:   ref,
				Description: fmt.Sprintf("deduction %s for loan %s", ledger.FormatAmount(d.Amount), loan.ReferenceNumber),
				Metadata:    meta("loan_id", string(loan.ID), "amount", ledger.FormatAmount(d.Amount)),
			})
			if err != nil {
				return err
			}
			d.TransactionID = memo.ID
			applyRepayment(loan, Repayment{
				Amount:        d.Amount,
				Source:        "salary",
				Reference:     ref,
				TransactionID: memo.ID,
				Date:          memo.Date,
				PerformedBy:   actor,
			}, now)
			if err := st.SaveLoan(ctx, *loan); err != nil {
				return err
			}
		}

		payment = &SalaryPayment{
			ID:              id,
			Office:          office.ID,
			EmployeeID:      emp.ID,
			ReferenceNumber: ref,
			GrossSalary:     gross,
			LoanDeducted:    deducted,
			NetPaid:         net,
			Ledger:          ledgerID,
			Date:            entry.Date,
			TransactionID:   entry.ID,
			Notes:           strings.TrimSpace(in.Notes),
			CreatedBy:       actor,
			CreatedAt:       now,
		}
		for _, d := range plan {
			payment.Deductions = append(payment.Deductions, d.Deduction)
		}
		return st.SaveSalaryPayment(ctx, *payment)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("office", string(office.ID)).Str("reference", payment.ReferenceNumber).
		Str("employee", string(emp.ID)).Str("gross", ledger.FormatAmount(payment.GrossSalary)).
		Str("deducted", ledger.FormatAmount(payment.LoanDeducted)).Str("net", ledger.FormatAmount(payment.NetPaid)).
		Str("actor", actor).Msg("salary paid")
	return payment, nil
}

func (s *Service) ListSalaryPayments(ctx context.Context, office ledger.OfficeID, employee EmployeeID) ([]SalaryPayment, error) {
	if _, err := s.GetEmployee(ctx, office, employee); err != nil {
		return nil, err
	}
	st, err := s.store()
	if err != nil {
		return nil, err
	}
	return st.ListSalaryPayments(ctx, office, employee)
}

// =============================================================================
// HELPERS
// =============================================================================

type plannedDeduction struct {
	Deduction
	loan *Loan
}

// planDeductions spreads total over loans oldest first, each capped at the
// loan's remaining amount.
func planDeductions(loans []Loan, total decimal.Decimal) []plannedDeduction {
	var plan []plannedDeduction
	left := total
	for i := range loans {
		if !left.IsPositive() {
			break
		}
		amount := decimal.Min(left, loans[i].RemainingAmount)
		if !amount.IsPositive() {
			continue
		}
		loan := loans[i].Clone()
		plan = append(plan, plannedDeduction{
			Deduction: Deduction{LoanID: loan.ID, LoanReference: loan.ReferenceNumber, Amount: amount},
			loan:      loan,
		})
		left = left.Sub(amount)
	}
	return plan
}

func applyRepayment(loan *Loan, r Repayment, now time.Time) {
	loan.RemainingAmount = loan.RemainingAmount.Sub(r.Amount)
	loan.Repayments = append(loan.Repayments, r)
	if !loan.RemainingAmount.IsPositive() {
		loan.Status = LoanPaid
	}
	loan.UpdatedAt = now
}

func getEmployee(ctx context.Context, st Store, office ledger.OfficeID, id EmployeeID) (*Employee, error) {
	e, err := st.GetEmployee(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get employee %s: %w", id, err)
	}
	if e == nil || e.Office != office {
		return nil, &ledger.NotFoundError{Resource: "employee", ID: string(id)}
	}
	return e, nil
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	if !ledger.HasValidScale(v) {
		return invalid(field, "at most %d decimal places", ledger.Scale)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &ledger.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
