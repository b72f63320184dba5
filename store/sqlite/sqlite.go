/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore and payroll.Store using SQLite. Every write of
  one ledger unit (counter, journal entry, balance, invoice, payroll
  records) runs in a single SQL transaction.

INTERFACES IMPLEMENTED:
  ledger.Store:   balances, reference counters, journal, invoices
  ledger.TxStore: unit of work (WithTx)
  payroll.Store:  employees, loans, salary payments

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the transactions table
  - Triggers abort any UPDATE or DELETE issued by hand
  - Corrections via adjustment and reversal transactions only

KEY TABLES:
  ledger_balances:     One row per (office, ledger), CAS on version
  reference_counters:  One row per (office, class), atomic increment
  transactions:        Immutable journal, UNIQUE(office, ledger, sequence)
  invoices:            UNIQUE(office, reference_number)
  employees, loans, salary_payments: payroll records

CONCURRENCY:
  - Writers open IMMEDIATE transactions (_txlock=immediate), so two
    processes never interleave a unit. A writer that cannot get the lock
    within the busy timeout gets ErrConcurrentModification and the
    service retries the unit.
  - SaveBalance is UPDATE ... WHERE version = expected. Zero rows
    affected means another writer won.
  - ":memory:" databases are private to one connection, so the pool is
    limited to a single connection for them.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc, err := ledger.NewService(store, offices)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/office-ledger/ledger"
)

// timeLayout sorts lexically in the same order as time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx, so every query is
// written once and runs either standalone or inside a unit.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// txStore is the view handed to WithTx callbacks.
type txStore struct {
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
	-- Running balance per ledger. version equals the last journal sequence.
	CREATE TABLE IF NOT EXISTS ledger_balances (
		office TEXT NOT NULL,
		ledger TEXT NOT NULL,
		amount TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (office, ledger)
	);

	CREATE TABLE IF NOT EXISTS reference_counters (
		office TEXT NOT NULL,
		class TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (office, class)
	);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		office TEXT NOT NULL,
		ledger TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		invoice_id TEXT,
		reference TEXT,
		description TEXT,
		reason TEXT,
		performed_by TEXT NOT NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metadata_json TEXT,
		UNIQUE (office, ledger, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_invoice
		ON transactions(invoice_id) WHERE invoice_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_office_created
		ON transactions(office, created_at DESC);

	CREATE TRIGGER IF NOT EXISTS transactions_no_update
		BEFORE UPDATE ON transactions
		BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS transactions_no_delete
		BEFORE DELETE ON transactions
		BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		office TEXT NOT NULL,
		reference_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		ledger TEXT NOT NULL,
		name TEXT,
		value TEXT NOT NULL,
		date TEXT NOT NULL,
		details TEXT,
		bank_reference TEXT,
		document_json TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edit_history_json TEXT,
		deleted_at TEXT,
		deleted_by TEXT,
		delete_reason TEXT,
		transaction_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (office, reference_number)
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_office_status_date
		ON invoices(office, status, date DESC);

	-- Payroll
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		office TEXT NOT NULL,
		name TEXT NOT NULL,
		monthly_salary TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_office ON employees(office, name);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		office TEXT NOT NULL,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		reference_number TEXT NOT NULL,
		ledger TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		monthly_deduction TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		transaction_id TEXT NOT NULL,
		repayments_json TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (office, reference_number)
	);

	CREATE INDEX IF NOT EXISTS idx_loans_employee_status ON loans(employee_id, status);

	CREATE TABLE IF NOT EXISTS salary_payments (
		id TEXT PRIMARY KEY,
		office TEXT NOT NULL,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		reference_number TEXT NOT NULL,
		gross_salary TEXT NOT NULL,
		loan_deducted TEXT NOT NULL,
		net_paid TEXT NOT NULL,
		ledger TEXT NOT NULL,
		date TEXT NOT NULL,
		deductions_json TEXT,
		transaction_id TEXT NOT NULL,
		notes TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (office, reference_number)
	);

	CREATE INDEX IF NOT EXISTS idx_salary_payments_employee_date
		ON salary_payments(employee_id, date DESC);
`

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset drops every table and recreates the schema.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"salary_payments", "loans", "employees", "invoices", "transactions", "reference_counters", "ledger_balances"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapBusy(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// BALANCES AND COUNTERS
// =============================================================================

func (s queries) LoadBalance(ctx context.Context, office ledger.OfficeID, l ledger.LedgerID) (ledger.Balance, error) {
	b := ledger.Balance{Office: office, Ledger: l}
	var updatedAt string
	err := s.q.QueryRowContext(ctx,
		"SELECT amount, version, updated_at FROM ledger_balances WHERE office = ? AND ledger = ?",
		office, l,
	).Scan(&b.Amount, &b.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("failed to load balance: %w", err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s queries) SaveBalance(ctx context.Context, b ledger.Balance, expectedVersion int64) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.q.ExecContext(ctx, `
			INSERT INTO ledger_balances (office, ledger, amount, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(office, ledger) DO UPDATE SET
				amount = excluded.amount,
				version = excluded.version,
				updated_at = excluded.updated_at
			WHERE ledger_balances.version = 0
		`, b.Office, b.Ledger, b.Amount, b.Version, formatTime(b.UpdatedAt))
	} else {
		res, err = s.q.ExecContext(ctx, `
			UPDATE ledger_balances SET amount = ?, version = ?, updated_at = ?
			WHERE office = ? AND ledger = ? AND version = ?
		`, b.Amount, b.Version, formatTime(b.UpdatedAt), b.Office, b.Ledger, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s queries) Balances(ctx context.Context, office ledger.OfficeID) ([]ledger.Balance, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT ledger, amount, version, updated_at FROM ledger_balances WHERE office = ? ORDER BY ledger",
		office,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		b := ledger.Balance{Office: office}
		var updatedAt string
		if err := rows.Scan(&b.Ledger, &b.Amount, &b.Version, &updatedAt); err != nil {
			return nil, err
		}
		b.UpdatedAt = parseTime(updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// NextSequence increments and returns the counter in one statement.
func (s queries) NextSequence(ctx context.Context, office ledger.OfficeID, class ledger.CounterClass) (int64, error) {
	var value int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO reference_counters (office, class, value) VALUES (?, ?, 1)
		ON CONFLICT(office, class) DO UPDATE SET value = value + 1
		RETURNING value
	`, office, class).Scan(&value)
	if err != nil {
		return 0, mapBusy(fmt.Errorf("failed to increment counter: %w", err))
	}
	return value, nil
}

func (s queries) Counters(ctx context.Context, office ledger.OfficeID) (map[ledger.CounterClass]int64, error) {
	out := map[ledger.CounterClass]int64{
		ledger.ClassIncome: 0, ledger.ClassSpending: 0, ledger.ClassLoan: 0, ledger.ClassSalary: 0,
	}
	rows, err := s.q.QueryContext(ctx, "SELECT class, value FROM reference_counters WHERE office = ?", office)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var class ledger.CounterClass
		var value int64
		if err := rows.Scan(&class, &value); err != nil {
			return nil, err
		}
		out[class] = value
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL
// =============================================================================

const transactionColumns = `id, office, ledger, sequence, kind, amount, balance_after, invoice_id,
	reference, description, reason, performed_by, date, created_at, metadata_json`

// AppendTransaction adds a journal entry. This is the ONLY journal write.
func (s queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	var metadataJSON sql.NullString
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.Office, tx.Ledger, tx.Sequence, tx.Kind,
		tx.Amount, tx.BalanceAfter, nullString(string(tx.InvoiceID)),
		tx.Reference, tx.Description, tx.Reason, tx.PerformedBy,
		formatTime(tx.Date), formatTime(tx.CreatedAt), metadataJSON,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("sequence %d of %s/%s is taken: %w", tx.Sequence, tx.Office, tx.Ledger, ledger.ErrConcurrentModification)
		}
		return mapBusy(fmt.Errorf("failed to append transaction: %w", err))
	}
	return nil
}

func (s queries) Journal(ctx context.Context, office ledger.OfficeID, l ledger.LedgerID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE office = ? AND ledger = ? ORDER BY sequence ASC",
		office, l)
}

func (s queries) TransactionsForInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE invoice_id = ? ORDER BY sequence ASC",
		id)
}

func (s queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) (ledger.TransactionPage, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.Office != "" {
		add("office = ?", f.Office)
	}
	if f.Ledger != "" {
		add("ledger = ?", f.Ledger)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.InvoiceID != "" {
		add("invoice_id = ?", f.InvoiceID)
	}
	if f.From != nil {
		add("date >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("date <= ?", formatTime(*f.To))
	}
	clause := whereClause(where)

	p := f.Pagination.Normalize()
	page := ledger.TransactionPage{Page: p.Page, Limit: p.Limit}
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count transactions: %w", err)
	}
	page.Pages = p.Pages(page.Total)

	items, err := s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions"+clause+
			" ORDER BY created_at DESC, ledger ASC, sequence DESC LIMIT ? OFFSET ?",
		append(args, p.Limit, p.Offset())...)
	if err != nil {
		return page, err
	}
	page.Items = items
	if page.Items == nil {
		page.Items = []ledger.Transaction{}
	}
	return page, nil
}

func (s queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var tx ledger.Transaction
	var invoiceID, reference, description, reason, metadataJSON sql.NullString
	var date, createdAt string
	err := rows.Scan(
		&tx.ID, &tx.Office, &tx.Ledger, &tx.Sequence, &tx.Kind,
		&tx.Amount, &tx.BalanceAfter, &invoiceID,
		&reference, &description, &reason, &tx.PerformedBy,
		&date, &createdAt, &metadataJSON,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.InvoiceID = ledger.InvoiceID(invoiceID.String)
	tx.Reference = reference.String
	tx.Description = description.String
	tx.Reason = reason.String
	tx.Date = parseTime(date)
	tx.CreatedAt = parseTime(createdAt)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to decode metadata of %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapBusy turns lock contention into ErrConcurrentModification so the
// unit is retried.
func mapBusy(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}
