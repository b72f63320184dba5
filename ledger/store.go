/*
store.go - Persistence interface for balances, counters, journal and invoices

PURPOSE:
  Defines the interface between the ledger engine and the database.
  Implementations: store/sqlite (production) and store/memory (tests, dev).

APPEND-ONLY CONTRACT:
  The journal has AppendTransaction and no update or delete. Invoices are
  updated in place (status, edit history) but never removed.

ATOMIC UNITS:
  TxStore.WithTx runs a function against a transactional view. If the
  function returns an error nothing it wrote is kept: no counter
  increment, no journal entry, no balance change, no invoice.

CONCURRENCY CONTRACT:
  - NextSequence is an atomic increment-and-fetch.
  - SaveBalance is a compare-and-swap on Balance.Version and returns
    ErrConcurrentModification when the stored version moved.
  - AppendTransaction returns ErrConcurrentModification when the
    (office, ledger, sequence) slot is already taken.
  - InsertInvoice returns ErrDuplicateReference for a reused reference.

SEE ALSO:
  - service.go: the only writer
  - payroll/store.go: extension interface implemented by the same stores
*/
package ledger

import "context"

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	// LoadBalance returns the balance of a ledger. A ledger without postings
	// has a zero balance at version 0.
	LoadBalance(ctx context.Context, office OfficeID, ledger LedgerID) (Balance, error)

	// SaveBalance stores b if the stored version still equals
	// expectedVersion (0 for a ledger never saved).
	SaveBalance(ctx context.Context, b Balance, expectedVersion int64) error

	// Balances returns every stored balance of an office.
	Balances(ctx context.Context, office OfficeID) ([]Balance, error)

	// NextSequence atomically increments and returns the counter.
	NextSequence(ctx context.Context, office OfficeID, class CounterClass) (int64, error)

	// Counters returns the current counter values of an office.
	Counters(ctx context.Context, office OfficeID) (map[CounterClass]int64, error)

	// AppendTransaction adds a journal entry. This is the ONLY journal write.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Journal returns every entry of a ledger ordered by Sequence.
	Journal(ctx context.Context, office OfficeID, ledger LedgerID) ([]Transaction, error)

	// TransactionsForInvoice returns the entries linked to an invoice, oldest first.
	TransactionsForInvoice(ctx context.Context, id InvoiceID) ([]Transaction, error)

	// ListTransactions returns a page of entries, newest first.
	ListTransactions(ctx context.Context, f TransactionFilter) (TransactionPage, error)

	InsertInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoice(ctx context.Context, inv Invoice) error

	// GetInvoice returns nil, nil when the invoice does not exist.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)

	// ListInvoices returns a page of invoices, newest date first.
	ListInvoices(ctx context.Context, f InvoiceFilter) (InvoicePage, error)

	// AllInvoices returns every invoice of an office regardless of status.
	AllInvoices(ctx context.Context, office OfficeID) ([]Invoice, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with unit-of-work support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
