/*
journal.go - Append-only transaction journal: replay and verification

PURPOSE:
  The journal is the source of truth for every balance change. Stored
  balances and summaries are materializations that can always be rebuilt
  by replaying it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. CHAINED: for a ledger ordered by Sequence,
       BalanceAfter[i] == BalanceAfter[i-1] + Amount[i]
     starting from zero.
  3. CONSISTENT: the stored balance equals the last BalanceAfter.

CORRECTIONS:
  A mistake is never edited. Instead:
  1. Value edits append an adjustment carrying only the delta
  2. Deletions append a reversal negating the invoice's net contribution
  3. Every earlier entry stays in place

EXAMPLE FLOW:
  1. Income invoice 100:          income            +100  -> 100
  2. Spending invoice 40:         spending           -40  ->  60
  3. Income edited 100 -> 120:    income_adjustment  +20  ->  80
  4. Spending deleted:            spending_reversal  +40  -> 120

SEE ALSO:
  - store.go: persistence interface
  - service.go: the only writer
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPLAY
// =============================================================================

// Replay folds entries from a zero balance and returns the final balance.
func Replay(entries []Transaction) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range entries {
		balance = balance.Add(tx.Amount)
	}
	return balance
}

// NetContribution is the signed sum of every entry linked to an invoice:
// its originating amount plus all adjustments (and a reversal, if any).
func NetContribution(entries []Transaction) decimal.Decimal {
	return Replay(entries)
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

// ChainMismatch describes one entry whose snapshot disagrees with the replay.
type ChainMismatch struct {
	Sequence      int64
	TransactionID TransactionID
	Expected      decimal.Decimal
	Recorded      decimal.Decimal
	Reason        string
}

// ChainReport is the result of verifying one ledger.
type ChainReport struct {
	Office     OfficeID
	Ledger     LedgerID
	Entries    int
	Replayed   decimal.Decimal
	Stored     decimal.Decimal
	Mismatches []ChainMismatch
}

// OK reports whether the ledger satisfies every chain invariant.
func (r *ChainReport) OK() bool {
	return len(r.Mismatches) == 0 && r.Replayed.Equal(r.Stored)
}

// VerifyEntries checks the chain invariant over entries already ordered by
// Sequence. Sequences must be contiguous from 1.
func VerifyEntries(entries []Transaction) []ChainMismatch {
	var mismatches []ChainMismatch
	balance := decimal.Zero
	for i, tx := range entries {
		balance = balance.Add(tx.Amount)
		if tx.Sequence != int64(i+1) {
			mismatches = append(mismatches, ChainMismatch{
				Sequence: tx.Sequence, TransactionID: tx.ID,
				Expected: balance, Recorded: tx.BalanceAfter,
				Reason: fmt.Sprintf("sequence gap: expected %d", i+1),
			})
		}
		if !tx.BalanceAfter.Equal(balance) {
			mismatches = append(mismatches, ChainMismatch{
				Sequence: tx.Sequence, TransactionID: tx.ID,
				Expected: balance, Recorded: tx.BalanceAfter,
				Reason: "balance_after does not match replay",
			})
			// continue from the recorded value so one bad entry is reported once
			balance = tx.BalanceAfter
		}
	}
	return mismatches
}

// VerifyLedger replays a ledger from the store and compares it with every
// snapshot and with the stored balance.
func VerifyLedger(ctx context.Context, store Store, office OfficeID, ledger LedgerID) (*ChainReport, error) {
	entries, err := store.Journal(ctx, office, ledger)
	if err != nil {
		return nil, fmt.Errorf("load journal %s/%s: %w", office, ledger, err)
	}
	stored, err := store.LoadBalance(ctx, office, ledger)
	if err != nil {
		return nil, fmt.Errorf("load balance %s/%s: %w", office, ledger, err)
	}

	report := &ChainReport{
		Office:     office,
		Ledger:     ledger,
		Entries:    len(entries),
		Replayed:   Replay(entries),
		Stored:     stored.Amount,
		Mismatches: VerifyEntries(entries),
	}
	if stored.Version != int64(len(entries)) {
		report.Mismatches = append(report.Mismatches, ChainMismatch{
			Sequence: stored.Version,
			Expected: report.Replayed, Recorded: stored.Amount,
			Reason: fmt.Sprintf("balance version %d but %d journal entries", stored.Version, len(entries)),
		})
	}
	return report, nil
}
