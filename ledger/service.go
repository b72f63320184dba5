/*
service.go - Ledger Service: the only writer of balances, journal and invoices

PURPOSE:
  Orchestrates every balance-affecting operation for every office:
  posting invoices, editing them, deleting them and depositing funds.
  Extensions (payroll) reuse the same critical section through Mutate.

REQUEST FLOW (PostInvoice):
  1. Validate input (nothing is touched on failure)
  2. Resolve the ledger selector for the office
  3. Enter the (office, ledger) critical section
  4. In one store unit of work:
       allocate reference -> append transaction -> save balance (CAS)
       -> insert invoice
  5. Invalidate cached summaries of the office

CONCURRENCY:
  - In-process: one mutex per (office, ledger). Cash and bank ledgers of
    the same office are independent critical sections.
  - Across processes sharing a database: the balance save is a
    compare-and-swap on the version and the journal sequence is unique.
    A lost race returns ErrConcurrentModification and the whole unit is
    retried up to MaxRetries times before ConcurrencyConflictError.
  - Reads never take the ledger mutex.

SEE ALSO:
  - tx.go: posting primitive used inside a unit
  - summary.go: read-side projection
  - payroll/service.go: extension built on Mutate
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries bounds the retries of a unit that lost a CAS race.
const DefaultMaxRetries = 3

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   TxStore
	offices map[OfficeID]*Office
	order   []OfficeID
	locks   *keyedLocks
	cache   SummaryCache
	gens    sync.Map // OfficeID -> *atomic.Uint64

	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
	maxRetries int
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "ledger").Logger() }
}

func WithSummaryCache(c SummaryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService validates the office definitions and returns a service.
func NewService(store TxStore, offices []*Office, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}
	s := &Service{
		store:      store,
		offices:    make(map[OfficeID]*Office, len(offices)),
		locks:      newKeyedLocks(),
		cache:      NopCache{},
		log:        zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      NewID,
		maxRetries: DefaultMaxRetries,
	}
	for _, o := range offices {
		if err := o.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.offices[o.ID]; dup {
			return nil, fmt.Errorf("ledger: duplicate office %q", o.ID)
		}
		if o.Currency == "" {
			o.Currency = DefaultCurrency
		}
		s.offices[o.ID] = o
		s.order = append(s.order, o.ID)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Office returns the configuration of an office.
func (s *Service) Office(id OfficeID) (*Office, error) {
	o, ok := s.offices[id]
	if !ok {
		return nil, &NotFoundError{Resource: "office", ID: string(id)}
	}
	return o, nil
}

// Offices returns every office in configuration order.
func (s *Service) Offices() []*Office {
	out := make([]*Office, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.offices[id])
	}
	return out
}

func (s *Service) Store() TxStore          { return s.store }
func (s *Service) Now() time.Time          { return s.now() }
func (s *Service) NewID() string           { return s.newID() }
func (s *Service) Logger() *zerolog.Logger { return &s.log }

// =============================================================================
// CRITICAL SECTION
// =============================================================================

// Mutate runs fn as one atomic unit against (office, ledger). fn may be
// invoked more than once when the unit loses a race, so it must not keep
// side effects outside the Tx between attempts.
func (s *Service) Mutate(ctx context.Context, officeID OfficeID, ledgerID LedgerID, actor string, fn func(context.Context, *Tx) error) error {
	office, err := s.Office(officeID)
	if err != nil {
		return err
	}
	if err := office.CheckLedger(ledgerID); err != nil {
		return err
	}
	if strings.TrimSpace(actor) == "" {
		return invalid("actor", "caller identity is required")
	}

	unlock := s.locks.Lock(ledgerKey(office.ID, ledgerID))
	defer unlock()

	var last error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.store.WithTx(ctx, func(st Store) error {
			return fn(ctx, &Tx{svc: s, office: office, ledger: ledgerID, store: st, actor: actor})
		})
		if err == nil {
			s.invalidate(ctx, office)
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		last = err
		s.log.Warn().Err(err).
			Str("office", string(office.ID)).Str("ledger", string(ledgerID)).
			Int("attempt", attempt).Msg("ledger unit lost a race, retrying")
	}
	return &ConcurrencyConflictError{Office: office.ID, Ledger: ledgerID, Attempts: s.maxRetries, Last: last}
}

// =============================================================================
// INVOICES
// =============================================================================

// PostInvoice creates an invoice and its originating transaction.
func (s *Service) PostInvoice(ctx context.Context, in NewInvoice, actor string) (*Invoice, error) {
	office, err := s.Office(in.Office)
	if err != nil {
		return nil, err
	}
	if !in.Kind.Valid() {
		return nil, invalid("kind", "must be income or spending, got %q", in.Kind)
	}
	if err := validateValue("value", in.Value); err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		return nil, invalid("date", "required")
	}
	ledgerID, err := office.ResolveLedger(in.Kind, in.Ledger)
	if err != nil {
		return nil, err
	}
	bankRef := strings.TrimSpace(in.BankReference)
	if office.IsBankLedger(ledgerID) && bankRef == "" {
		return nil, invalid("bank_reference", "required for ledger %s", ledgerID)
	}
	if !office.IsBankLedger(ledgerID) {
		bankRef = ""
	}

	var created *Invoice
	err = s.Mutate(ctx, office.ID, ledgerID, actor, func(ctx context.Context, tx *Tx) error {
		if in.Kind == KindSpending {
			if err := tx.RequireFunds(ctx, in.Value); err != nil {
				return err
			}
		}
		ref, err := tx.NextReference(ctx, in.Kind.CounterClass())
		if err != nil {
			return err
		}

		now := s.now()
		inv := Invoice{
			ID:              InvoiceID(s.newID()),
			Office:          office.ID,
			ReferenceNumber: ref,
			Kind:            in.Kind,
			Ledger:          ledgerID,
			Name:            strings.TrimSpace(in.Name),
			Value:           in.Value,
			Date:            in.Date,
			Details:         strings.TrimSpace(in.Details),
			BankReference:   bankRef,
			Document:        stampDocument(in.Document, now),
			Status:          StatusActive,
			CreatedBy:       actor,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		entry, err := tx.Post(ctx, Posting{
			Kind:        in.Kind.PostingKind(),
			Amount:      in.Kind.Signed(in.Value),
			Date:        in.Date,
			InvoiceID:   inv.ID,
			Reference:   ref,
			Description: describeInvoice(&inv, "posted"),
		})
		if err != nil {
			return err
		}
		inv.TransactionID = entry.ID

		if err := tx.Store().InsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("insert invoice %s: %w", ref, err)
		}
		created = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("office", string(created.Office)).Str("ledger", string(created.Ledger)).
		Str("reference", created.ReferenceNumber).Str("kind", string(created.Kind)).
		Str("value", FormatAmount(created.Value)).Str("actor", actor).
		Msg("invoice posted")
	return created, nil
}

// EditInvoice applies a patch. A value change posts an adjustment of the
// signed delta; every changed field gets one edit history entry.
func (s *Service) EditInvoice(ctx context.Context, id InvoiceID, patch InvoicePatch, actor string) (*Invoice, error) {
	current, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	office, err := s.Office(current.Office)
	if err != nil {
		return nil, err
	}
	if patch.Value != nil {
		if err := validateValue("value", *patch.Value); err != nil {
			return nil, err
		}
	}
	if patch.Date != nil && patch.Date.IsZero() {
		return nil, invalid("date", "cannot be cleared")
	}
	if patch.Document != nil && (patch.Document.Name == "" || patch.Document.Path == "") {
		return nil, invalid("document", "name and path are required")
	}
	reason := strings.TrimSpace(patch.Reason)
	if office.RequireReason && reason == "" {
		return nil, invalid("reason", "an edit reason is required")
	}
	if patch.BankReference != nil {
		ref := strings.TrimSpace(*patch.BankReference)
		if office.IsBankLedger(current.Ledger) && ref == "" {
			return nil, invalid("bank_reference", "cannot be cleared on ledger %s", current.Ledger)
		}
		if !office.IsBankLedger(current.Ledger) && ref != "" {
			return nil, invalid("bank_reference", "ledger %s does not take bank references", current.Ledger)
		}
	}

	var updated *Invoice
	err = s.Mutate(ctx, current.Office, current.Ledger, actor, func(ctx context.Context, tx *Tx) error {
		stored, err := tx.Store().GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return &NotFoundError{Resource: "invoice", ID: string(id)}
		}
		if stored.Status == StatusDeleted {
			return &InvalidStateError{Resource: "invoice", ID: stored.ReferenceNumber, Reason: "cannot edit a deleted invoice"}
		}
		inv := stored.Clone()
		now := s.now()

		var changes []EditEntry
		record := func(field, oldValue, newValue string) {
			changes = append(changes, EditEntry{
				Field: field, OldValue: oldValue, NewValue: newValue,
				Reason: reason, EditedAt: now, EditedBy: actor,
			})
		}

		if patch.Value != nil && !patch.Value.Equal(inv.Value) {
			delta := patch.Value.Sub(inv.Value)
			if inv.Kind == KindSpending && delta.IsPositive() {
				if err := tx.RequireFunds(ctx, delta); err != nil {
					return err
				}
			}
			_, err := tx.Post(ctx, Posting{
				Kind:        inv.Kind.AdjustmentKind(),
				Amount:      inv.Kind.Signed(delta),
				Date:        now,
				InvoiceID:   inv.ID,
				Reference:   inv.ReferenceNumber,
				Description: describeInvoice(inv, fmt.Sprintf("value %s -> %s", FormatAmount(inv.Value), FormatAmount(*patch.Value))),
				Reason:      reason,
			})
			if err != nil {
				return err
			}
			record("value", FormatAmount(inv.Value), FormatAmount(*patch.Value))
			inv.Value = *patch.Value
		}
		if patch.Name != nil && strings.TrimSpace(*patch.Name) != inv.Name {
			name := strings.TrimSpace(*patch.Name)
			record("name", inv.Name, name)
			inv.Name = name
		}
		if patch.Date != nil && !patch.Date.Equal(inv.Date) {
			record("date", inv.Date.Format(time.RFC3339), patch.Date.Format(time.RFC3339))
			inv.Date = *patch.Date
		}
		if patch.Details != nil && strings.TrimSpace(*patch.Details) != inv.Details {
			details := strings.TrimSpace(*patch.Details)
			record("details", inv.Details, details)
			inv.Details = details
		}
		if patch.BankReference != nil && strings.TrimSpace(*patch.BankReference) != inv.BankReference {
			ref := strings.TrimSpace(*patch.BankReference)
			record("bank_reference", inv.BankReference, ref)
			inv.BankReference = ref
		}
		if patch.Document != nil && (inv.Document == nil ||
			inv.Document.Name != patch.Document.Name || inv.Document.Path != patch.Document.Path) {
			oldName := ""
			if inv.Document != nil {
				oldName = inv.Document.Name
			}
			record("document", oldName, patch.Document.Name)
			inv.Document = stampDocument(patch.Document, now)
		}

		if len(changes) == 0 {
			updated = inv
			return nil
		}
		inv.IsEdited = true
		inv.EditHistory = append(inv.EditHistory, changes...)
		inv.UpdatedAt = now
		if err := tx.Store().UpdateInvoice(ctx, *inv); err != nil {
			return fmt.Errorf("update invoice %s: %w", inv.ReferenceNumber, err)
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("office", string(updated.Office)).Str("reference", updated.ReferenceNumber).
		Int("history", len(updated.EditHistory)).Str("actor", actor).
		Msg("invoice edited")
	return updated, nil
}

// DeleteInvoice logically deletes an invoice and posts a reversal equal to
// the negation of its net contribution, so the balance ends where it would
// be had the invoice never existed.
func (s *Service) DeleteInvoice(ctx context.Context, id InvoiceID, actor, reason string) error {
	current, err := s.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	office, err := s.Office(current.Office)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if office.RequireReason && reason == "" {
		return invalid("reason", "a delete reason is required")
	}

	var reversal Transaction
	err = s.Mutate(ctx, current.Office, current.Ledger, actor, func(ctx context.Context, tx *Tx) error {
		stored, err := tx.Store().GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return &NotFoundError{Resource: "invoice", ID: string(id)}
		}
		if stored.Status == StatusDeleted {
			return &InvalidStateError{Resource: "invoice", ID: stored.ReferenceNumber, Reason: "already deleted"}
		}
		inv := stored.Clone()

		linked, err := tx.Store().TransactionsForInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("load transactions of %s: %w", inv.ReferenceNumber, err)
		}
		net := NetContribution(linked)

		now := s.now()
		reversal, err = tx.Post(ctx, Posting{
			Kind:        inv.Kind.ReversalKind(),
			Amount:      net.Neg(),
			Date:        now,
			InvoiceID:   inv.ID,
			Reference:   inv.ReferenceNumber,
			Description: describeInvoice(inv, "deleted"),
			Reason:      reason,
		})
		if err != nil {
			return err
		}

		inv.Status = StatusDeleted
		inv.DeletedAt = &now
		inv.DeletedBy = actor
		inv.DeleteReason = reason
		inv.UpdatedAt = now
		if err := tx.Store().UpdateInvoice(ctx, *inv); err != nil {
			return fmt.Errorf("update invoice %s: %w", inv.ReferenceNumber, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ev := s.log.Info()
	if reversal.BalanceAfter.IsNegative() {
		ev = s.log.Warn()
	}
	ev.Str("office", string(current.Office)).Str("ledger", string(current.Ledger)).
		Str("reference", current.ReferenceNumber).Str("reversal", FormatAmount(reversal.Amount)).
		Str("balance_after", FormatAmount(reversal.BalanceAfter)).Str("actor", actor).
		Msg("invoice deleted")
	return nil
}

// =============================================================================
// FUNDING
// =============================================================================

// Deposit is the input of DepositFunds.
type Deposit struct {
	Office      OfficeID
	Ledger      LedgerID // defaults to the ledger spending is routed to
	Amount      decimal.Decimal
	Description string
	Date        time.Time
}

// DepositFunds credits a ledger without an invoice (add_funds).
func (s *Service) DepositFunds(ctx context.Context, d Deposit, actor string) (*Transaction, error) {
	office, err := s.Office(d.Office)
	if err != nil {
		return nil, err
	}
	if !office.AllowDeposits {
		return nil, &InvalidStateError{Resource: "office", ID: string(office.ID), Reason: "deposits are not enabled"}
	}
	if err := validateValue("amount", d.Amount); err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(d.Description)
	if desc == "" {
		return nil, invalid("description", "required")
	}
	ledgerID := d.Ledger
	if ledgerID == "" {
		if ledgerID, err = office.ResolveLedger(KindSpending, ""); err != nil {
			return nil, err
		}
	}

	var entry Transaction
	err = s.Mutate(ctx, office.ID, ledgerID, actor, func(ctx context.Context, tx *Tx) error {
		var err error
		entry, err = tx.Post(ctx, Posting{
			Kind:        TxAddFunds,
			Amount:      d.Amount,
			Date:        d.Date,
			Description: desc,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("office", string(office.ID)).Str("ledger", string(ledgerID)).
		Str("amount", FormatAmount(d.Amount)).Str("actor", actor).Msg("funds deposited")
	return &entry, nil
}

// =============================================================================
// READS
// =============================================================================

// GetInvoice returns an invoice by id.
func (s *Service) GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	if inv == nil {
		return nil, &NotFoundError{Resource: "invoice", ID: string(id)}
	}
	return inv, nil
}

// ListInvoices returns a filtered page of an office's invoices.
func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) (InvoicePage, error) {
	office, err := s.Office(f.Office)
	if err != nil {
		return InvoicePage{}, err
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return InvoicePage{}, invalid("kind", "must be income or spending, got %q", f.Kind)
	}
	switch f.Status {
	case "", StatusActive, StatusDeleted, StatusAll:
	default:
		return InvoicePage{}, invalid("status", "unknown status %q", f.Status)
	}
	if f.Ledger != "" {
		if err := office.CheckLedger(f.Ledger); err != nil {
			return InvoicePage{}, err
		}
	}
	f.Pagination = f.Pagination.Normalize()
	return s.store.ListInvoices(ctx, f)
}

// ListTransactions returns a filtered page of an office's journal.
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) (TransactionPage, error) {
	office, err := s.Office(f.Office)
	if err != nil {
		return TransactionPage{}, err
	}
	if f.Ledger != "" {
		if err := office.CheckLedger(f.Ledger); err != nil {
			return TransactionPage{}, err
		}
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return TransactionPage{}, invalid("kind", "unknown transaction kind %q", f.Kind)
	}
	f.Pagination = f.Pagination.Normalize()
	return s.store.ListTransactions(ctx, f)
}

// Account returns every ledger balance and the counters of an office.
func (s *Service) Account(ctx context.Context, officeID OfficeID) (*Account, error) {
	office, err := s.Office(officeID)
	if err != nil {
		return nil, err
	}
	acct := &Account{
		Office:   office.ID,
		Currency: office.Currency,
		Balances: make(map[LedgerID]decimal.Decimal, len(office.Ledgers)),
	}
	for _, l := range office.Ledgers {
		acct.Balances[l] = decimal.Zero
	}
	stored, err := s.store.Balances(ctx, office.ID)
	if err != nil {
		return nil, fmt.Errorf("load balances of %s: %w", office.ID, err)
	}
	for _, b := range stored {
		acct.Balances[b.Ledger] = b.Amount
	}
	if acct.Counters, err = s.store.Counters(ctx, office.ID); err != nil {
		return nil, fmt.Errorf("load counters of %s: %w", office.ID, err)
	}
	return acct, nil
}

// VerifyChain replays one ledger and reports every broken invariant.
func (s *Service) VerifyChain(ctx context.Context, officeID OfficeID, ledgerID LedgerID) (*ChainReport, error) {
	office, err := s.Office(officeID)
	if err != nil {
		return nil, err
	}
	if err := office.CheckLedger(ledgerID); err != nil {
		return nil, err
	}
	return VerifyLedger(ctx, s.store, office.ID, ledgerID)
}

// VerifyAll verifies every ledger of every office.
func (s *Service) VerifyAll(ctx context.Context) ([]*ChainReport, error) {
	var reports []*ChainReport
	for _, o := range s.Offices() {
		for _, l := range o.Ledgers {
			r, err := VerifyLedger(ctx, s.store, o.ID, l)
			if err != nil {
				return reports, err
			}
			reports = append(reports, r)
		}
	}
	return reports, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateValue(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	if !HasValidScale(v) {
		return invalid(field, "at most %d decimal places", Scale)
	}
	return nil
}

func stampDocument(d *Document, now time.Time) *Document {
	if d == nil {
		return nil
	}
	c := *d
	if c.UploadedAt.IsZero() {
		c.UploadedAt = now
	}
	return &c
}

func describeInvoice(inv *Invoice, action string) string {
	label := inv.Name
	if label == "" {
		label = inv.Details
	}
	if label == "" {
		return fmt.Sprintf("%s invoice %s %s", inv.Kind, inv.ReferenceNumber, action)
	}
	return fmt.Sprintf("%s invoice %s %s: %s", inv.Kind, inv.ReferenceNumber, action, label)
}

func (s *Service) generation(office OfficeID) *atomic.Uint64 {
	g, _ := s.gens.LoadOrStore(office, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}
