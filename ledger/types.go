/*
Package ledger provides the office ledger engine.

PURPOSE:
  One parameterized engine serves every office. Each office owns one or
  more named running balances (ledgers), an append-only journal of signed
  transactions, and per-class reference counters. Invoices are the business
  reason for a balance change; edits and deletions are recorded as new
  compensating transactions, never as rewrites.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts in a single currency with 3 decimal places
  - Identifiers: OfficeID, LedgerID, InvoiceID, TransactionID
  - Kinds: invoice kinds and journal transaction kinds
  - Transaction: an immutable signed journal entry with a balance snapshot

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only compensated
  2. Precision: decimal.Decimal everywhere, no floats
  3. Type safety: distinct ID types per concept
  4. Auditability: every entry carries actor, reason and back-links

SEE ALSO:
  - service.go: the orchestrator (post, edit, delete)
  - journal.go: replay and chain verification
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Scale is the number of decimal places every amount is kept at (fils).
const Scale = 3

// DefaultCurrency is the single currency unit offices book in.
const DefaultCurrency = "KWD"

// ParseAmount parses a decimal string and validates its scale.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !HasValidScale(d) {
		return decimal.Zero, fmt.Errorf("invalid amount %q: more than %d decimal places", s, Scale)
	}
	return d, nil
}

// MustAmount parses s or panics. Intended for tests and fixtures.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// HasValidScale reports whether d has at most Scale decimal places.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(Scale))
}

// FormatAmount renders d with exactly Scale decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OfficeID string
type LedgerID string
type InvoiceID string
type TransactionID string

var selectorPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// ValidSelector reports whether s is a well-formed office or ledger selector.
// Whether the selector is configured for an office is a separate question.
func ValidSelector(s string) bool {
	return selectorPattern.MatchString(s)
}

// =============================================================================
// KINDS
// =============================================================================

// InvoiceKind is the user-facing class of an invoice.
type InvoiceKind string

const (
	KindIncome   InvoiceKind = "income"
	KindSpending InvoiceKind = "spending"
)

func (k InvoiceKind) Valid() bool {
	return k == KindIncome || k == KindSpending
}

// Sign returns +1 for income and -1 for spending.
func (k InvoiceKind) Sign() decimal.Decimal {
	if k == KindIncome {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Signed applies the kind's sign to a positive value.
func (k InvoiceKind) Signed(v decimal.Decimal) decimal.Decimal {
	return v.Mul(k.Sign())
}

// PostingKind is the journal kind of the originating transaction.
func (k InvoiceKind) PostingKind() TransactionKind {
	if k == KindIncome {
		return TxIncome
	}
	return TxSpending
}

// AdjustmentKind is the journal kind used when the value is edited.
func (k InvoiceKind) AdjustmentKind() TransactionKind {
	if k == KindIncome {
		return TxIncomeAdjustment
	}
	return TxSpendingAdjustment
}

// ReversalKind is the journal kind used when the invoice is deleted.
func (k InvoiceKind) ReversalKind() TransactionKind {
	if k == KindIncome {
		return TxIncomeReversal
	}
	return TxSpendingReversal
}

// CounterClass returns the reference counter used for this kind.
func (k InvoiceKind) CounterClass() CounterClass {
	if k == KindIncome {
		return ClassIncome
	}
	return ClassSpending
}

// TransactionKind identifies why a journal entry exists.
type TransactionKind string

const (
	TxIncome             TransactionKind = "income"
	TxSpending           TransactionKind = "spending"
	TxIncomeReversal     TransactionKind = "income_reversal"
	TxSpendingReversal   TransactionKind = "spending_reversal"
	TxIncomeAdjustment   TransactionKind = "income_adjustment"
	TxSpendingAdjustment TransactionKind = "spending_adjustment"
	TxAddFunds           TransactionKind = "add_funds"

	// Payroll kinds
	TxLoanGiven           TransactionKind = "employee_loan_given"
	TxLoanRepayment       TransactionKind = "employee_loan_repayment"
	TxSalaryPayment       TransactionKind = "salary_payment"
	TxSalaryLoanDeduction TransactionKind = "salary_loan_deduction"
)

var transactionKinds = map[TransactionKind]bool{
	TxIncome: true, TxSpending: true,
	TxIncomeReversal: true, TxSpendingReversal: true,
	TxIncomeAdjustment: true, TxSpendingAdjustment: true,
	TxAddFunds:  true,
	TxLoanGiven: true, TxLoanRepayment: true,
	TxSalaryPayment: true, TxSalaryLoanDeduction: true,
}

func (k TransactionKind) Valid() bool { return transactionKinds[k] }

// =============================================================================
// TRANSACTION - Immutable journal entry
// =============================================================================

// Transaction is a signed journal entry. Positive amounts increase the
// ledger balance, negative amounts decrease it. BalanceAfter is the ledger
// balance immediately after this entry was applied.
type Transaction struct {
	ID           TransactionID
	Office       OfficeID
	Ledger       LedgerID
	Sequence     int64 // per-ledger creation order, starting at 1
	Kind         TransactionKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	InvoiceID    InvoiceID
	Reference    string
	Description  string
	Reason       string
	PerformedBy  string
	Date         time.Time
	CreatedAt    time.Time
	Metadata     map[string]string
}

// Posting is a request to append a transaction to the ledger a Tx is bound to.
// The ledger, sequence, balance snapshot and actor are filled in by Tx.Post.
type Posting struct {
	Kind        TransactionKind
	Amount      decimal.Decimal
	Date        time.Time
	InvoiceID   InvoiceID
	Reference   string
	Description string
	Reason      string
	Metadata    map[string]string
}
