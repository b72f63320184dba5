package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT - Running balances and reference counters of an office
// =============================================================================

// Balance is the stored running balance of one (office, ledger) pair.
//
// Version is incremented by every posting and equals the sequence of the
// last journal entry on the ledger. Stores save balances with a
// compare-and-swap on Version.
type Balance struct {
	Office    OfficeID
	Ledger    LedgerID
	Amount    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// Account is the read view of an office: every ledger balance plus the
// reference counters. Stores create balance rows lazily, so an office that
// never posted reports zero balances.
type Account struct {
	Office   OfficeID
	Currency string
	Balances map[LedgerID]decimal.Decimal
	Counters map[CounterClass]int64
}

// Total returns the sum of every ledger balance.
func (a *Account) Total() decimal.Decimal {
	total := decimal.Zero
	for _, b := range a.Balances {
		total = total.Add(b)
	}
	return total
}
