package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/offices"
	"github.com/warp/office-ledger/store/memory"
)

func entry(seq int64, amt, after string) ledger.Transaction {
	return ledger.Transaction{
		ID:           ledger.TransactionID(ledger.NewID()),
		Sequence:     seq,
		Amount:       amount(amt),
		BalanceAfter: amount(after),
	}
}

func TestReplay(t *testing.T) {
	entries := []ledger.Transaction{
		entry(1, "100", "100"),
		entry(2, "-40", "60"),
		entry(3, "20", "80"),
		entry(4, "40", "120"),
	}
	assertAmount(t, "120", ledger.Replay(entries))
	assertAmount(t, "0", ledger.Replay(nil))
}

func TestNetContribution_AdjustmentsAndReversal(t *testing.T) {
	// GIVEN: A spending of 40 adjusted up by 10 then reversed
	linked := []ledger.Transaction{
		{Kind: ledger.TxSpending, Amount: amount("-40")},
		{Kind: ledger.TxSpendingAdjustment, Amount: amount("-10")},
	}

	// THEN: The net is -50 and the reversal brings it to zero
	net := ledger.NetContribution(linked)
	assertAmount(t, "-50", net)
	linked = append(linked, ledger.Transaction{Kind: ledger.TxSpendingReversal, Amount: net.Neg()})
	assertAmount(t, "0", ledger.NetContribution(linked))
}

func TestVerifyEntries(t *testing.T) {
	t.Run("intact chain", func(t *testing.T) {
		entries := []ledger.Transaction{entry(1, "10", "10"), entry(2, "-3", "7")}
		assert.Empty(t, ledger.VerifyEntries(entries))
	})

	t.Run("wrong snapshot reported once", func(t *testing.T) {
		entries := []ledger.Transaction{
			entry(1, "10", "10"),
			entry(2, "5", "99"),
			entry(3, "1", "100"),
		}
		mismatches := ledger.VerifyEntries(entries)
		require.Len(t, mismatches, 1)
		assert.Equal(t, int64(2), mismatches[0].Sequence)
		assertAmount(t, "15", mismatches[0].Expected)
		assertAmount(t, "99", mismatches[0].Recorded)
	})

	t.Run("sequence gap", func(t *testing.T) {
		entries := []ledger.Transaction{entry(1, "10", "10"), entry(3, "5", "15")}
		mismatches := ledger.VerifyEntries(entries)
		require.Len(t, mismatches, 1)
		assert.Contains(t, mismatches[0].Reason, "sequence gap")
	})
}

func TestVerifyLedger_DetectsTamperedBalance(t *testing.T) {
	// GIVEN: A ledger with two postings
	ctx := context.Background()
	st := memory.New()
	svc := newService(t, st)
	postIncome(t, svc, offices.Farwaniya1, "10")
	postIncome(t, svc, offices.Farwaniya1, "5")

	// WHEN: The stored balance is overwritten outside the service
	b, err := st.LoadBalance(ctx, offices.Farwaniya1, "main")
	require.NoError(t, err)
	tampered := b
	tampered.Amount = amount("1000")
	require.NoError(t, st.SaveBalance(ctx, tampered, b.Version))

	// THEN: Verification reports the mismatch
	report, err := svc.VerifyChain(ctx, offices.Farwaniya1, "main")
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 2, report.Entries)
	assertAmount(t, "15", report.Replayed)
	assertAmount(t, "1000", report.Stored)

	// AND: The dashboard still agrees with the journal
	sum, err := svc.GetSummary(ctx, offices.Farwaniya1, "main")
	require.NoError(t, err)
	assertAmount(t, "15", sum.Balance)
}
