// Package memory provides an in-memory implementation of ledger.TxStore
// and payroll.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu    sync.RWMutex
	state *state
}

type balanceKey struct {
	Office ledger.OfficeID
	Ledger ledger.LedgerID
}

type counterKey struct {
	Office ledger.OfficeID
	Class  ledger.CounterClass
}

// state holds every record. WithTx snapshots it and restores the snapshot
// when the unit fails.
type state struct {
	balances     map[balanceKey]ledger.Balance
	counters     map[counterKey]int64
	journal      map[balanceKey][]ledger.Transaction
	invoices     map[ledger.InvoiceID]*ledger.Invoice
	invoiceOrder []ledger.InvoiceID
	references   map[ledger.OfficeID]map[string]bool

	employees map[payroll.EmployeeID]payroll.Employee
	loans     map[payroll.LoanID]*payroll.Loan
	loanOrder []payroll.LoanID
	salaries  []payroll.SalaryPayment
}

func newState() *state {
	return &state{
		balances:   make(map[balanceKey]ledger.Balance),
		counters:   make(map[counterKey]int64),
		journal:    make(map[balanceKey][]ledger.Transaction),
		invoices:   make(map[ledger.InvoiceID]*ledger.Invoice),
		references: make(map[ledger.OfficeID]map[string]bool),
		employees:  make(map[payroll.EmployeeID]payroll.Employee),
		loans:      make(map[payroll.LoanID]*payroll.Loan),
	}
}

func New() *Store {
	return &Store{state: newState()}
}

// Reset drops every record.
func (m *Store) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := &state{
		balances:     make(map[balanceKey]ledger.Balance, len(s.balances)),
		counters:     make(map[counterKey]int64, len(s.counters)),
		journal:      make(map[balanceKey][]ledger.Transaction, len(s.journal)),
		invoices:     make(map[ledger.InvoiceID]*ledger.Invoice, len(s.invoices)),
		invoiceOrder: append([]ledger.InvoiceID(nil), s.invoiceOrder...),
		references:   make(map[ledger.OfficeID]map[string]bool, len(s.references)),
		employees:    make(map[payroll.EmployeeID]payroll.Employee, len(s.employees)),
		loans:        make(map[payroll.LoanID]*payroll.Loan, len(s.loans)),
		loanOrder:    append([]payroll.LoanID(nil), s.loanOrder...),
		salaries:     append([]payroll.SalaryPayment(nil), s.salaries...),
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.journal {
		c.journal[k] = append([]ledger.Transaction(nil), v...)
	}
	for k, v := range s.invoices {
		c.invoices[k] = v.Clone()
	}
	for office, refs := range s.references {
		cp := make(map[string]bool, len(refs))
		for r := range refs {
			cp[r] = true
		}
		c.references[office] = cp
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v.Clone()
	}
	return c
}

// view is the transactional Store handed to WithTx callbacks. The parent
// lock is already held, so it works on the state directly.
type view struct {
	s *state
}

// =============================================================================
// LEDGER STORE - locked entry points
// =============================================================================

func (m *Store) LoadBalance(ctx context.Context, office ledger.OfficeID, l ledger.LedgerID) (ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.loadBalance(office, l), nil
}

func (m *Store) SaveBalance(ctx context.Context, b ledger.Balance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveBalance(b, expectedVersion)
}

func (m *Store) Balances(ctx context.Context, office ledger.OfficeID) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.balancesOf(office), nil
}

func (m *Store) NextSequence(ctx context.Context, office ledger.OfficeID, class ledger.CounterClass) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.nextSequence(office, class), nil
}

func (m *Store) Counters(ctx context.Context, office ledger.OfficeID) (map[ledger.CounterClass]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.countersOf(office), nil
}

func (m *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendTransaction(tx)
}

func (m *Store) Journal(ctx context.Context, office ledger.OfficeID, l ledger.LedgerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.journalOf(office, l), nil
}

func (m *Store) TransactionsForInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.transactionsForInvoice(id), nil
}

func (m *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) (ledger.TransactionPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listTransactions(f), nil
}

func (m *Store) InsertInvoice(ctx context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertInvoice(inv)
}

func (m *Store) UpdateInvoice(ctx context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateInvoice(inv)
}

func (m *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getInvoice(id), nil
}

func (m *Store) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) (ledger.InvoicePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listInvoices(f), nil
}

func (m *Store) AllInvoices(ctx context.Context, office ledger.OfficeID) ([]ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.allInvoices(office), nil
}

// =============================================================================
// LEDGER STORE - transactional view
// =============================================================================

func (v *view) LoadBalance(_ context.Context, office ledger.OfficeID, l ledger.LedgerID) (ledger.Balance, error) {
	return v.s.loadBalance(office, l), nil
}

func (v *view) SaveBalance(_ context.Context, b ledger.Balance, expectedVersion int64) error {
	return v.s.saveBalance(b, expectedVersion)
}

func (v *view) Balances(_ context.Context, office ledger.OfficeID) ([]ledger.Balance, error) {
	return v.s.balancesOf(office), nil
}

func (v *view) NextSequence(_ context.Context, office ledger.OfficeID, class ledger.CounterClass) (int64, error) {
	return v.s.nextSequence(office, class), nil
}

func (v *view) Counters(_ context.Context, office ledger.OfficeID) (map[ledger.CounterClass]int64, error) {
	return v.s.countersOf(office), nil
}

func (v *view) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.s.appendTransaction(tx)
}

func (v *view) Journal(_ context.Context, office ledger.OfficeID, l ledger.LedgerID) ([]ledger.Transaction, error) {
	return v.s.journalOf(office, l), nil
}

func (v *view) TransactionsForInvoice(_ context.Context, id ledger.InvoiceID) ([]ledger.Transaction, error) {
	return v.s.transactionsForInvoice(id), nil
}

func (v *view) ListTransactions(_ context.Context, f ledger.TransactionFilter) (ledger.TransactionPage, error) {
	return v.s.listTransactions(f), nil
}

func (v *view) InsertInvoice(_ context.Context, inv ledger.Invoice) error {
	return v.s.insertInvoice(inv)
}

func (v *view) UpdateInvoice(_ context.Context, inv ledger.Invoice) error {
	return v.s.updateInvoice(inv)
}

func (v *view) GetInvoice(_ context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return v.s.getInvoice(id), nil
}

func (v *view) ListInvoices(_ context.Context, f ledger.InvoiceFilter) (ledger.InvoicePage, error) {
	return v.s.listInvoices(f), nil
}

func (v *view) AllInvoices(_ context.Context, office ledger.OfficeID) ([]ledger.Invoice, error) {
	return v.s.allInvoices(office), nil
}

// =============================================================================
// STATE OPERATIONS - caller holds the lock
// =============================================================================

func (s *state) loadBalance(office ledger.OfficeID, l ledger.LedgerID) ledger.Balance {
	k := balanceKey{office, l}
	if b, ok := s.balances[k]; ok {
		return b
	}
	return ledger.Balance{Office: office, Ledger: l}
}

func (s *state) saveBalance(b ledger.Balance, expectedVersion int64) error {
	k := balanceKey{b.Office, b.Ledger}
	if s.balances[k].Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	s.balances[k] = b
	return nil
}

func (s *state) balancesOf(office ledger.OfficeID) []ledger.Balance {
	var out []ledger.Balance
	for k, b := range s.balances {
		if k.Office == office {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ledger < out[j].Ledger })
	return out
}

func (s *state) nextSequence(office ledger.OfficeID, class ledger.CounterClass) int64 {
	k := counterKey{office, class}
	s.counters[k]++
	return s.counters[k]
}

func (s *state) countersOf(office ledger.OfficeID) map[ledger.CounterClass]int64 {
	out := map[ledger.CounterClass]int64{
		ledger.ClassIncome: 0, ledger.ClassSpending: 0, ledger.ClassLoan: 0, ledger.ClassSalary: 0,
	}
	for k, v := range s.counters {
		if k.Office == office {
			out[k.Class] = v
		}
	}
	return out
}

// appendTransaction requires the next contiguous sequence, mirroring the
// unique (office, ledger, sequence) index of the SQL store.
func (s *state) appendTransaction(tx ledger.Transaction) error {
	k := balanceKey{tx.Office, tx.Ledger}
	if tx.Sequence != int64(len(s.journal[k]))+1 {
		return ledger.ErrConcurrentModification
	}
	s.journal[k] = append(s.journal[k], tx)
	return nil
}

func (s *state) journalOf(office ledger.OfficeID, l ledger.LedgerID) []ledger.Transaction {
	return append([]ledger.Transaction(nil), s.journal[balanceKey{office, l}]...)
}

func (s *state) transactionsForInvoice(id ledger.InvoiceID) []ledger.Transaction {
	inv, ok := s.invoices[id]
	if !ok {
		return nil
	}
	var out []ledger.Transaction
	for _, tx := range s.journal[balanceKey{inv.Office, inv.Ledger}] {
		if tx.InvoiceID == id {
			out = append(out, tx)
		}
	}
	return out
}

func (s *state) listTransactions(f ledger.TransactionFilter) ledger.TransactionPage {
	var matched []ledger.Transaction
	for k, entries := range s.journal {
		if f.Office != "" && k.Office != f.Office {
			continue
		}
		for i := range entries {
			if f.Matches(&entries[i]) {
				matched = append(matched, entries[i])
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Ledger != b.Ledger {
			return a.Ledger < b.Ledger
		}
		return a.Sequence > b.Sequence
	})

	p := f.Pagination.Normalize()
	page := ledger.TransactionPage{Page: p.Page, Limit: p.Limit, Total: len(matched), Pages: p.Pages(len(matched))}
	page.Items = window(matched, p)
	return page
}

func (s *state) insertInvoice(inv ledger.Invoice) error {
	refs := s.references[inv.Office]
	if refs == nil {
		refs = make(map[string]bool)
		s.references[inv.Office] = refs
	}
	if refs[inv.ReferenceNumber] {
		return ledger.ErrDuplicateReference
	}
	if _, exists := s.invoices[inv.ID]; exists {
		return ledger.ErrDuplicateReference
	}
	refs[inv.ReferenceNumber] = true
	s.invoices[inv.ID] = inv.Clone()
	s.invoiceOrder = append(s.invoiceOrder, inv.ID)
	return nil
}

func (s *state) updateInvoice(inv ledger.Invoice) error {
	if _, ok := s.invoices[inv.ID]; !ok {
		return &ledger.NotFoundError{Resource: "invoice", ID: string(inv.ID)}
	}
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

func (s *state) getInvoice(id ledger.InvoiceID) *ledger.Invoice {
	inv, ok := s.invoices[id]
	if !ok {
		return nil
	}
	return inv.Clone()
}

func (s *state) allInvoices(office ledger.OfficeID) []ledger.Invoice {
	var out []ledger.Invoice
	for _, id := range s.invoiceOrder {
		if inv := s.invoices[id]; inv.Office == office {
			out = append(out, *inv.Clone())
		}
	}
	return out
}

func (s *state) listInvoices(f ledger.InvoiceFilter) ledger.InvoicePage {
	var matched []ledger.Invoice
	for _, id := range s.invoiceOrder {
		if inv := s.invoices[id]; f.Matches(inv) {
			matched = append(matched, *inv.Clone())
		}
	}
	// newest business date first, then newest created
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	p := f.Pagination.Normalize()
	page := ledger.InvoicePage{Page: p.Page, Limit: p.Limit, Total: len(matched), Pages: p.Pages(len(matched))}
	page.Items = window(matched, p)
	return page
}

func window[T any](items []T, p ledger.Pagination) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
