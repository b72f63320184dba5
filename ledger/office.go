package ledger

import (
	"fmt"
	"slices"
)

// Office describes one tenant of the engine: which ledgers it keeps, how
// invoices are routed to them and which optional rules apply.
//
// The four back-office modules differ only in this configuration:
//   - single-ledger offices keep one "main" balance
//   - home-service routes income to "income" and spending to "funding"
//   - the holding company keeps "cash" and "bank" and runs payroll
type Office struct {
	ID       OfficeID
	Name     string
	Currency string

	// ReferencePrefix is prepended to every reference, e.g. "F1" -> "F1-INC-001".
	ReferencePrefix string

	Ledgers       []LedgerID
	DefaultLedger LedgerID

	// KindRouting fixes the ledger an invoice kind posts to.
	KindRouting map[InvoiceKind]LedgerID

	// BankLedgers require a bank reference on every invoice.
	BankLedgers []LedgerID

	RequireSufficientFunds bool
	RequireReason          bool
	AllowDeposits          bool
	Payroll                bool
}

// HasLedger reports whether the office defines ledger l.
func (o *Office) HasLedger(l LedgerID) bool {
	return slices.Contains(o.Ledgers, l)
}

// IsBankLedger reports whether invoices on l need a bank reference.
func (o *Office) IsBankLedger(l LedgerID) bool {
	return slices.Contains(o.BankLedgers, l)
}

// ResolveLedger picks the ledger for an invoice of the given kind.
// An explicit selector wins unless the office routes the kind elsewhere.
func (o *Office) ResolveLedger(kind InvoiceKind, requested LedgerID) (LedgerID, error) {
	routed, hasRoute := o.KindRouting[kind]

	if requested == "" {
		switch {
		case hasRoute:
			return routed, nil
		case o.DefaultLedger != "":
			return o.DefaultLedger, nil
		case len(o.Ledgers) == 1:
			return o.Ledgers[0], nil
		}
		return "", invalid("ledger", "required for office %s", o.ID)
	}

	if err := o.CheckLedger(requested); err != nil {
		return "", err
	}
	if hasRoute && routed != requested {
		return "", &InvalidStateError{
			Resource: "office", ID: string(o.ID),
			Reason: fmt.Sprintf("%s invoices post to ledger %s, not %s", kind, routed, requested),
		}
	}
	return requested, nil
}

// CheckLedger validates a selector against the office configuration.
// Malformed selectors are validation errors; well-formed selectors the
// office does not define are invalid state.
func (o *Office) CheckLedger(l LedgerID) error {
	if !ValidSelector(string(l)) {
		return invalid("ledger", "malformed ledger selector %q", l)
	}
	if !o.HasLedger(l) {
		return &InvalidStateError{
			Resource: "office", ID: string(o.ID),
			Reason: fmt.Sprintf("unknown ledger %q", l),
		}
	}
	return nil
}

// Validate checks the configuration is internally consistent.
func (o *Office) Validate() error {
	if !ValidSelector(string(o.ID)) {
		return fmt.Errorf("office: invalid id %q", o.ID)
	}
	if len(o.Ledgers) == 0 {
		return fmt.Errorf("office %s: at least one ledger is required", o.ID)
	}
	seen := make(map[LedgerID]bool)
	for _, l := range o.Ledgers {
		if !ValidSelector(string(l)) {
			return fmt.Errorf("office %s: invalid ledger id %q", o.ID, l)
		}
		if seen[l] {
			return fmt.Errorf("office %s: duplicate ledger %q", o.ID, l)
		}
		seen[l] = true
	}
	if o.DefaultLedger != "" && !seen[o.DefaultLedger] {
		return fmt.Errorf("office %s: default ledger %q is not defined", o.ID, o.DefaultLedger)
	}
	for kind, l := range o.KindRouting {
		if !kind.Valid() {
			return fmt.Errorf("office %s: routing for unknown kind %q", o.ID, kind)
		}
		if !seen[l] {
			return fmt.Errorf("office %s: %s routes to undefined ledger %q", o.ID, kind, l)
		}
	}
	for _, l := range o.BankLedgers {
		if !seen[l] {
			return fmt.Errorf("office %s: bank ledger %q is not defined", o.ID, l)
		}
	}
	return nil
}
