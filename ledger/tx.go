package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tx is one unit of work against a single (office, ledger) pair. It exists
// only for the duration of the function passed to Service.Mutate, which
// holds the ledger's critical section and an open store transaction.
//
// Extensions (payroll) post through Tx so every balance change shares the
// same chain bookkeeping as invoices.
type Tx struct {
	svc     *Service
	office  *Office
	ledger  LedgerID
	store   Store
	actor   string
	balance *Balance
}

// Store returns the transactional store view. Writes through it commit or
// roll back with the unit.
func (t *Tx) Store() Store { return t.store }

func (t *Tx) Office() *Office  { return t.office }
func (t *Tx) Ledger() LedgerID { return t.ledger }
func (t *Tx) Actor() string    { return t.actor }

// Balance returns the ledger balance as seen inside the unit, including
// postings already made by it.
func (t *Tx) Balance(ctx context.Context) (decimal.Decimal, error) {
	b, err := t.loadBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Amount, nil
}

func (t *Tx) loadBalance(ctx context.Context) (*Balance, error) {
	if t.balance != nil {
		return t.balance, nil
	}
	b, err := t.store.LoadBalance(ctx, t.office.ID, t.ledger)
	if err != nil {
		return nil, fmt.Errorf("load balance %s/%s: %w", t.office.ID, t.ledger, err)
	}
	t.balance = &b
	return t.balance, nil
}

// RequireFunds fails with InsufficientFundsError when the office enforces
// sufficient funds and amount exceeds the current balance.
func (t *Tx) RequireFunds(ctx context.Context, amount decimal.Decimal) error {
	if !t.office.RequireSufficientFunds {
		return nil
	}
	available, err := t.Balance(ctx)
	if err != nil {
		return err
	}
	if amount.GreaterThan(available) {
		return &InsufficientFundsError{
			Office: t.office.ID, Ledger: t.ledger,
			Available: available, Required: amount,
		}
	}
	return nil
}

// NextReference allocates the next reference number of class for the office.
func (t *Tx) NextReference(ctx context.Context, class CounterClass) (string, error) {
	if !class.Valid() {
		return "", fmt.Errorf("unknown counter class %q", class)
	}
	seq, err := t.store.NextSequence(ctx, t.office.ID, class)
	if err != nil {
		return "", fmt.Errorf("allocate %s reference for %s: %w", class, t.office.ID, err)
	}
	return FormatReference(t.office.ReferencePrefix, class, seq), nil
}

// Post appends a journal entry and moves the ledger balance by its amount.
func (t *Tx) Post(ctx context.Context, p Posting) (Transaction, error) {
	if !p.Kind.Valid() {
		return Transaction{}, invalid("kind", "unknown transaction kind %q", p.Kind)
	}
	b, err := t.loadBalance(ctx)
	if err != nil {
		return Transaction{}, err
	}

	now := t.svc.now()
	date := p.Date
	if date.IsZero() {
		date = now
	}
	next := b.Amount.Add(p.Amount)

	entry := Transaction{
		ID:           TransactionID(t.svc.newID()),
		Office:       t.office.ID,
		Ledger:       t.ledger,
		Sequence:     b.Version + 1,
		Kind:         p.Kind,
		Amount:       p.Amount,
		BalanceAfter: next,
		InvoiceID:    p.InvoiceID,
		Reference:    p.Reference,
		Description:  p.Description,
		Reason:       p.Reason,
		PerformedBy:  t.actor,
		Date:         date,
		CreatedAt:    now,
		Metadata:     p.Metadata,
	}
	if err := t.store.AppendTransaction(ctx, entry); err != nil {
		return Transaction{}, fmt.Errorf("append %s to %s/%s: %w", p.Kind, t.office.ID, t.ledger, err)
	}

	updated := Balance{
		Office:    t.office.ID,
		Ledger:    t.ledger,
		Amount:    next,
		Version:   b.Version + 1,
		UpdatedAt: now,
	}
	if err := t.store.SaveBalance(ctx, updated, b.Version); err != nil {
		return Transaction{}, fmt.Errorf("save balance %s/%s: %w", t.office.ID, t.ledger, err)
	}
	t.balance = &updated
	return entry, nil
}
