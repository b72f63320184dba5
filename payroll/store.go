package payroll

import (
	"context"

	"github.com/warp/office-ledger/ledger"
)

// Store persists payroll records. The ledger stores implement it next to
// ledger.Store so payroll writes join the ledger unit of work: inside
// Service.Mutate the payroll view is tx.Store().(Store).
type Store interface {
	SaveEmployee(ctx context.Context, e Employee) error
	// GetEmployee returns nil, nil when the employee does not exist.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, office ledger.OfficeID) ([]Employee, error)

	SaveLoan(ctx context.Context, l Loan) error
	// GetLoan returns nil, nil when the loan does not exist.
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	// ListLoans returns matching loans, oldest first.
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)

	SaveSalaryPayment(ctx context.Context, p SalaryPayment) error
	// ListSalaryPayments returns an employee's payments, newest first.
	ListSalaryPayments(ctx context.Context, office ledger.OfficeID, employee EmployeeID) ([]SalaryPayment, error)
}

func payrollStore(s ledger.Store) (Store, error) {
	ps, ok := s.(Store)
	if !ok {
		return nil, ledger.ErrStoreRequired
	}
	return ps, nil
}
