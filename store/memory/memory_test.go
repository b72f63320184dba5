package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/payroll"
)

func entry(seq int64) ledger.Transaction {
	return ledger.Transaction{
		ID: ledger.TransactionID(ledger.NewID()), Office: "farwaniya1", Ledger: "main",
		Sequence: seq, Kind: ledger.TxIncome, Amount: ledger.MustAmount("1"),
		BalanceAfter: ledger.MustAmount("1"), CreatedAt: time.Now(),
	}
}

func TestSaveBalance_StaleVersion(t *testing.T) {
	ctx := context.Background()
	m := New()
	b := ledger.Balance{Office: "farwaniya1", Ledger: "main", Amount: ledger.MustAmount("1"), Version: 1}
	require.NoError(t, m.SaveBalance(ctx, b, 0))
	assert.ErrorIs(t, m.SaveBalance(ctx, b, 0), ledger.ErrConcurrentModification)
}

func TestAppendTransaction_RequiresNextSequence(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.AppendTransaction(ctx, entry(1)))
	assert.ErrorIs(t, m.AppendTransaction(ctx, entry(1)), ledger.ErrConcurrentModification)
	assert.ErrorIs(t, m.AppendTransaction(ctx, entry(3)), ledger.ErrConcurrentModification)
	require.NoError(t, m.AppendTransaction(ctx, entry(2)))
}

func TestInsertInvoice_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	m := New()
	inv := ledger.Invoice{ID: "a", Office: "farwaniya1", ReferenceNumber: "F1-INC-001", Status: ledger.StatusActive}
	require.NoError(t, m.InsertInvoice(ctx, inv))
	inv.ID = "b"
	assert.ErrorIs(t, m.InsertInvoice(ctx, inv), ledger.ErrDuplicateReference)

	// Same reference in another office is fine
	inv.Office = "farwaniya2"
	assert.NoError(t, m.InsertInvoice(ctx, inv))
}

func TestWithTx_RestoresSnapshotOnError(t *testing.T) {
	// GIVEN: One committed entry
	ctx := context.Background()
	m := New()
	require.NoError(t, m.AppendTransaction(ctx, entry(1)))
	boom := errors.New("boom")

	// WHEN: A unit writes everywhere and fails
	err := m.WithTx(ctx, func(s ledger.Store) error {
		if _, err := s.NextSequence(ctx, "farwaniya1", ledger.ClassIncome); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, entry(2)); err != nil {
			return err
		}
		ps := s.(payroll.Store)
		if err := ps.SaveEmployee(ctx, payroll.Employee{ID: "e1", Office: "fursatkum", Name: "x"}); err != nil {
			return err
		}
		return boom
	})

	// THEN: Only the committed entry remains
	require.ErrorIs(t, err, boom)
	journal, _ := m.Journal(ctx, "farwaniya1", "main")
	assert.Len(t, journal, 1)
	counters, _ := m.Counters(ctx, "farwaniya1")
	assert.Zero(t, counters[ledger.ClassIncome])
	emp, _ := m.GetEmployee(ctx, "e1")
	assert.Nil(t, emp)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.InsertInvoice(ctx, ledger.Invoice{ID: "a", Office: "farwaniya1", ReferenceNumber: "F1-INC-001", Name: "orig"}))

	got, _ := m.GetInvoice(ctx, "a")
	got.Name = "mutated"

	again, _ := m.GetInvoice(ctx, "a")
	assert.Equal(t, "orig", again.Name)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.AppendTransaction(ctx, entry(1)))
	require.NoError(t, m.Reset(ctx))
	journal, _ := m.Journal(ctx, "farwaniya1", "main")
	assert.Empty(t, journal)
}
