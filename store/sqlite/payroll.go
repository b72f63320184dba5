package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

// =============================================================================
// PAYROLL STORE (payroll.Store interface)
// =============================================================================

func (s queries) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (id, office, name, monthly_salary, status, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			monthly_salary = excluded.monthly_salary,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`,
		e.ID, e.Office, e.Name, e.MonthlySalary, e.Status, e.Notes,
		e.CreatedBy, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to save employee: %w", err))
	}
	return nil
}

const employeeColumns = "id, office, name, monthly_salary, status, notes, created_by, created_at, updated_at"

func (s queries) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	items, err := s.queryEmployees(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func (s queries) ListEmployees(ctx context.Context, office ledger.OfficeID) ([]payroll.Employee, error) {
	return s.queryEmployees(ctx, "SELECT "+employeeColumns+" FROM employees WHERE office = ? ORDER BY name, id", office)
}

func (s queries) queryEmployees(ctx context.Context, query string, args ...any) ([]payroll.Employee, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []payroll.Employee
	for rows.Next() {
		var e payroll.Employee
		var notes sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.Office, &e.Name, &e.MonthlySalary, &e.Status, &notes,
			&e.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Notes = notes.String
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = `id, office, employee_id, reference_number, ledger, original_amount, remaining_amount,
	monthly_deduction, status, description, transaction_id, repayments_json, created_by, created_at, updated_at`

func (s queries) SaveLoan(ctx context.Context, l payroll.Loan) error {
	repayments, err := marshalNullable(l.Repayments, len(l.Repayments) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode repayments: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining_amount = excluded.remaining_amount,
			monthly_deduction = excluded.monthly_deduction,
			status = excluded.status,
			description = excluded.description,
			repayments_json = excluded.repayments_json,
			updated_at = excluded.updated_at
	`,
		l.ID, l.Office, l.EmployeeID, l.ReferenceNumber, l.Ledger, l.OriginalAmount, l.RemainingAmount,
		l.MonthlyDeduction, l.Status, l.Description, l.TransactionID, repayments,
		l.CreatedBy, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s: %w", l.ReferenceNumber, ledger.ErrDuplicateReference)
		}
		return mapBusy(fmt.Errorf("failed to save loan: %w", err))
	}
	return nil
}

func (s queries) GetLoan(ctx context.Context, id payroll.LoanID) (*payroll.Loan, error) {
	items, err := s.queryLoans(ctx, "SELECT "+loanColumns+" FROM loans WHERE id = ?", id)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func (s queries) ListLoans(ctx context.Context, f payroll.LoanFilter) ([]payroll.Loan, error) {
	var where []string
	var args []any
	if f.Office != "" {
		where = append(where, "office = ?")
		args = append(args, f.Office)
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	return s.queryLoans(ctx,
		"SELECT "+loanColumns+" FROM loans"+whereClause(where)+" ORDER BY created_at ASC, id ASC",
		args...)
}

func (s queries) queryLoans(ctx context.Context, query string, args ...any) ([]payroll.Loan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var out []payroll.Loan
	for rows.Next() {
		var l payroll.Loan
		var description, repayments sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&l.ID, &l.Office, &l.EmployeeID, &l.ReferenceNumber, &l.Ledger,
			&l.OriginalAmount, &l.RemainingAmount, &l.MonthlyDeduction, &l.Status, &description,
			&l.TransactionID, &repayments, &l.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.Description = description.String
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		if repayments.Valid && repayments.String != "" {
			if err := json.Unmarshal([]byte(repayments.String), &l.Repayments); err != nil {
				return nil, fmt.Errorf("failed to decode repayments of %s: %w", l.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// SALARY PAYMENTS
// =============================================================================

const salaryColumns = `id, office, employee_id, reference_number, gross_salary, loan_deducted, net_paid,
	ledger, date, deductions_json, transaction_id, notes, created_by, created_at`

func (s queries) SaveSalaryPayment(ctx context.Context, p payroll.SalaryPayment) error {
	deductions, err := marshalNullable(p.Deductions, len(p.Deductions) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode deductions: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO salary_payments (`+salaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Office, p.EmployeeID, p.ReferenceNumber, p.GrossSalary, p.LoanDeducted, p.NetPaid,
		p.Ledger, formatTime(p.Date), deductions, p.TransactionID, p.Notes,
		p.CreatedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s: %w", p.ReferenceNumber, ledger.ErrDuplicateReference)
		}
		return mapBusy(fmt.Errorf("failed to save salary payment: %w", err))
	}
	return nil
}

func (s queries) ListSalaryPayments(ctx context.Context, office ledger.OfficeID, employee payroll.EmployeeID) ([]payroll.SalaryPayment, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+salaryColumns+" FROM salary_payments WHERE office = ? AND employee_id = ? ORDER BY date DESC, created_at DESC",
		office, employee)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary payments: %w", err)
	}
	defer rows.Close()

	var out []payroll.SalaryPayment
	for rows.Next() {
		var p payroll.SalaryPayment
		var deductions, notes sql.NullString
		var date, createdAt string
		if err := rows.Scan(&p.ID, &p.Office, &p.EmployeeID, &p.ReferenceNumber, &p.GrossSalary,
			&p.LoanDeducted, &p.NetPaid, &p.Ledger, &date, &deductions, &p.TransactionID, &notes,
			&p.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		p.Notes = notes.String
		p.Date = parseTime(date)
		p.CreatedAt = parseTime(createdAt)
		if deductions.Valid && deductions.String != "" {
			if err := json.Unmarshal([]byte(deductions.String), &p.Deductions); err != nil {
				return nil, fmt.Errorf("failed to decode deductions of %s: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ payroll.Store  = (*Store)(nil)
	_ payroll.Store  = (*txStore)(nil)
)
