package memory

import (
	"context"
	"sort"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

// =============================================================================
// PAYROLL STORE
// =============================================================================

func (m *Store) SaveEmployee(_ context.Context, e payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveEmployee(e)
	return nil
}

func (m *Store) GetEmployee(_ context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getEmployee(id), nil
}

func (m *Store) ListEmployees(_ context.Context, office ledger.OfficeID) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listEmployees(office), nil
}

func (m *Store) SaveLoan(_ context.Context, l payroll.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveLoan(l)
	return nil
}

func (m *Store) GetLoan(_ context.Context, id payroll.LoanID) (*payroll.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getLoan(id), nil
}

func (m *Store) ListLoans(_ context.Context, f payroll.LoanFilter) ([]payroll.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listLoans(f), nil
}

func (m *Store) SaveSalaryPayment(_ context.Context, p payroll.SalaryPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveSalaryPayment(p)
	return nil
}

func (m *Store) ListSalaryPayments(_ context.Context, office ledger.OfficeID, employee payroll.EmployeeID) ([]payroll.SalaryPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listSalaryPayments(office, employee), nil
}

func (v *view) SaveEmployee(_ context.Context, e payroll.Employee) error {
	v.s.saveEmployee(e)
	return nil
}

func (v *view) GetEmployee(_ context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	return v.s.getEmployee(id), nil
}

func (v *view) ListEmployees(_ context.Context, office ledger.OfficeID) ([]payroll.Employee, error) {
	return v.s.listEmployees(office), nil
}

func (v *view) SaveLoan(_ context.Context, l payroll.Loan) error {
	v.s.saveLoan(l)
	return nil
}

func (v *view) GetLoan(_ context.Context, id payroll.LoanID) (*payroll.Loan, error) {
	return v.s.getLoan(id), nil
}

func (v *view) ListLoans(_ context.Context, f payroll.LoanFilter) ([]payroll.Loan, error) {
	return v.s.listLoans(f), nil
}

func (v *view) SaveSalaryPayment(_ context.Context, p payroll.SalaryPayment) error {
	v.s.saveSalaryPayment(p)
	return nil
}

func (v *view) ListSalaryPayments(_ context.Context, office ledger.OfficeID, employee payroll.EmployeeID) ([]payroll.SalaryPayment, error) {
	return v.s.listSalaryPayments(office, employee), nil
}

func (s *state) saveEmployee(e payroll.Employee) {
	s.employees[e.ID] = e
}

func (s *state) getEmployee(id payroll.EmployeeID) *payroll.Employee {
	e, ok := s.employees[id]
	if !ok {
		return nil
	}
	return &e
}

func (s *state) listEmployees(office ledger.OfficeID) []payroll.Employee {
	var out []payroll.Employee
	for _, e := range s.employees {
		if e.Office == office {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) saveLoan(l payroll.Loan) {
	if _, exists := s.loans[l.ID]; !exists {
		s.loanOrder = append(s.loanOrder, l.ID)
	}
	s.loans[l.ID] = l.Clone()
}

func (s *state) getLoan(id payroll.LoanID) *payroll.Loan {
	l, ok := s.loans[id]
	if !ok {
		return nil
	}
	return l.Clone()
}

func (s *state) listLoans(f payroll.LoanFilter) []payroll.Loan {
	var out []payroll.Loan
	for _, id := range s.loanOrder {
		if l := s.loans[id]; f.Matches(l) {
			out = append(out, *l.Clone())
		}
	}
	return out
}

func (s *state) saveSalaryPayment(p payroll.SalaryPayment) {
	p.Deductions = append([]payroll.Deduction(nil), p.Deductions...)
	s.salaries = append(s.salaries, p)
}

func (s *state) listSalaryPayments(office ledger.OfficeID, employee payroll.EmployeeID) []payroll.SalaryPayment {
	var out []payroll.SalaryPayment
	for i := len(s.salaries) - 1; i >= 0; i-- {
		p := s.salaries[i]
		if p.Office == office && p.EmployeeID == employee {
			out = append(out, p)
		}
	}
	return out
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ payroll.Store  = (*Store)(nil)
	_ payroll.Store  = (*view)(nil)
)
