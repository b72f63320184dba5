package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/offices"
	"github.com/warp/office-ledger/store/memory"
	"github.com/warp/office-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const actor = "tester"

func storeFactories() map[string]func(t *testing.T) ledger.TxStore {
	return map[string]func(t *testing.T) ledger.TxStore{
		"memory": func(t *testing.T) ledger.TxStore { return memory.New() },
		"sqlite": func(t *testing.T) ledger.TxStore {
			st, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			return st
		},
	}
}

// forEachStore runs fn once per store backend.
func forEachStore(t *testing.T, fn func(t *testing.T, st ledger.TxStore)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newService(t *testing.T, st ledger.TxStore, opts ...ledger.Option) *ledger.Service {
	svc, err := ledger.NewService(st, offices.Defaults(), opts...)
	require.NoError(t, err)
	return svc
}

func amount(s string) decimal.Decimal { return ledger.MustAmount(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, amount(want).Equal(got), append([]any{"want %s, got %s", want, got.StringFixed(ledger.Scale)}, msgAndArgs...)...)
}

func march(d int) time.Time { return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC) }

func postIncome(t *testing.T, svc *ledger.Service, office ledger.OfficeID, value string) *ledger.Invoice {
	t.Helper()
	inv, err := svc.PostInvoice(context.Background(), ledger.NewInvoice{
		Office: office, Kind: ledger.KindIncome, Name: "income", Value: amount(value), Date: march(1),
	}, actor)
	require.NoError(t, err)
	return inv
}

func balanceOf(t *testing.T, svc *ledger.Service, office ledger.OfficeID, l ledger.LedgerID) decimal.Decimal {
	t.Helper()
	acct, err := svc.Account(context.Background(), office)
	require.NoError(t, err)
	return acct.Balances[l]
}

func journalOf(t *testing.T, svc *ledger.Service, office ledger.OfficeID, l ledger.LedgerID) []ledger.Transaction {
	t.Helper()
	entries, err := svc.Store().Journal(context.Background(), office, l)
	require.NoError(t, err)
	return entries
}

func requireChainOK(t *testing.T, svc *ledger.Service, office ledger.OfficeID, l ledger.LedgerID) {
	t.Helper()
	report, err := svc.VerifyChain(context.Background(), office, l)
	require.NoError(t, err)
	assert.True(t, report.OK(), "chain mismatches: %+v", report.Mismatches)
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

func TestInvoiceLifecycle_PostEditDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: A single-ledger office
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya1

		// WHEN: Posting income 100 and spending 40
		income := postIncome(t, svc, office, "100.000")
		spending, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindSpending, Name: "supplies", Value: amount("40.000"), Date: march(2),
		}, actor)
		require.NoError(t, err)

		// THEN: References come from the office counters and the balance is 60
		assert.Equal(t, "F1-INC-001", income.ReferenceNumber)
		assert.Equal(t, "F1-SPD-001", spending.ReferenceNumber)
		assert.Equal(t, ledger.LedgerID("main"), income.Ledger)
		assertAmount(t, "60.000", balanceOf(t, svc, office, "main"))

		sum, err := svc.GetSummary(ctx, office, "")
		require.NoError(t, err)
		assertAmount(t, "100.000", sum.IncomeTotal)
		assertAmount(t, "40.000", sum.SpendingTotal)
		assertAmount(t, "60.000", sum.Balance)

		// WHEN: Editing the income value to 120
		v := amount("120.000")
		edited, err := svc.EditInvoice(ctx, income.ID, ledger.InvoicePatch{Value: &v, Reason: "recount"}, actor)
		require.NoError(t, err)

		// THEN: An adjustment of +20 is posted
		assert.True(t, edited.IsEdited)
		require.Len(t, edited.EditHistory, 1)
		assert.Equal(t, "value", edited.EditHistory[0].Field)
		assert.Equal(t, "100.000", edited.EditHistory[0].OldValue)
		assert.Equal(t, "120.000", edited.EditHistory[0].NewValue)
		assertAmount(t, "80.000", balanceOf(t, svc, office, "main"))

		entries := journalOf(t, svc, office, "main")
		require.Len(t, entries, 3)
		assert.Equal(t, ledger.TxIncomeAdjustment, entries[2].Kind)
		assertAmount(t, "20.000", entries[2].Amount)
		assert.Equal(t, "recount", entries[2].Reason)

		// WHEN: Deleting the spending invoice
		require.NoError(t, svc.DeleteInvoice(ctx, spending.ID, actor, "duplicate"))

		// THEN: A reversal of +40 restores the balance to 120
		entries = journalOf(t, svc, office, "main")
		require.Len(t, entries, 4)
		assert.Equal(t, ledger.TxSpendingReversal, entries[3].Kind)
		assertAmount(t, "40.000", entries[3].Amount)
		assertAmount(t, "120.000", balanceOf(t, svc, office, "main"))

		deleted, err := svc.GetInvoice(ctx, spending.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusDeleted, deleted.Status)
		assert.Equal(t, actor, deleted.DeletedBy)
		assert.Equal(t, "duplicate", deleted.DeleteReason)
		require.NotNil(t, deleted.DeletedAt)

		// WHEN: Deleting it again
		err = svc.DeleteInvoice(ctx, spending.ID, actor, "again")

		// THEN: InvalidState and no new transaction
		assert.True(t, ledger.IsInvalidState(err), "got %v", err)
		assert.Len(t, journalOf(t, svc, office, "main"), 4)
		requireChainOK(t, svc, office, "main")
	})
}

func TestDeleteInvoice_ReversesNetContributionAfterEdits(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: An income invoice edited twice
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya2
		inv := postIncome(t, svc, office, "50.000")
		for _, s := range []string{"75.500", "30.250"} {
			v := amount(s)
			_, err := svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Value: &v}, actor)
			require.NoError(t, err)
		}
		assertAmount(t, "30.250", balanceOf(t, svc, office, "main"))

		// WHEN: Deleting it
		require.NoError(t, svc.DeleteInvoice(ctx, inv.ID, actor, ""))

		// THEN: The ledger is back to zero and the reversal negates the net
		assertAmount(t, "0", balanceOf(t, svc, office, "main"))
		linked, err := st.TransactionsForInvoice(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, linked, 4)
		assertAmount(t, "-30.250", linked[3].Amount)
		assertAmount(t, "0", ledger.NetContribution(linked))
		requireChainOK(t, svc, office, "main")
	})
}

func TestDeleteInvoice_MayDriveBalanceNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: Income 100 then spending 80 on an office without fund checks
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya1
		income := postIncome(t, svc, office, "100.000")
		_, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindSpending, Name: "rent", Value: amount("80.000"), Date: march(3),
		}, actor)
		require.NoError(t, err)

		// WHEN: Deleting the income
		require.NoError(t, svc.DeleteInvoice(ctx, income.ID, actor, ""))

		// THEN: The balance goes negative and is not clamped
		assertAmount(t, "-80.000", balanceOf(t, svc, office, "main"))
		requireChainOK(t, svc, office, "main")
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestPostInvoice_Validation(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()
	valid := ledger.NewInvoice{
		Office: offices.Farwaniya1, Kind: ledger.KindIncome, Name: "x", Value: amount("1.000"), Date: march(1),
	}

	tests := []struct {
		name  string
		mut   func(*ledger.NewInvoice)
		check func(error) bool
	}{
		{"zero value", func(in *ledger.NewInvoice) { in.Value = decimal.Zero }, ledger.IsClientError},
		{"negative value", func(in *ledger.NewInvoice) { in.Value = amount("-5") }, ledger.IsClientError},
		{"too many decimals", func(in *ledger.NewInvoice) { in.Value = decimal.RequireFromString("1.2345") }, ledger.IsClientError},
		{"unknown kind", func(in *ledger.NewInvoice) { in.Kind = "refund" }, ledger.IsClientError},
		{"missing date", func(in *ledger.NewInvoice) { in.Date = time.Time{} }, ledger.IsClientError},
		{"malformed ledger", func(in *ledger.NewInvoice) { in.Ledger = "Main Ledger!" }, ledger.IsClientError},
		{"unknown ledger", func(in *ledger.NewInvoice) { in.Ledger = "bank" }, ledger.IsInvalidState},
		{"unknown office", func(in *ledger.NewInvoice) { in.Office = "nowhere" }, ledger.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mut(&in)
			_, err := svc.PostInvoice(ctx, in, actor)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error class: %v", err)
		})
	}

	// THEN: Nothing was posted and no reference was consumed
	acct, err := svc.Account(ctx, offices.Farwaniya1)
	require.NoError(t, err)
	assert.Zero(t, acct.Counters[ledger.ClassIncome])
	assertAmount(t, "0", acct.Balances["main"])
}

func TestPostInvoice_RequiresActor(t *testing.T) {
	svc := newService(t, memory.New())
	_, err := svc.PostInvoice(context.Background(), ledger.NewInvoice{
		Office: offices.Farwaniya1, Kind: ledger.KindIncome, Value: amount("1"), Date: march(1),
	}, "  ")
	assert.True(t, ledger.IsClientError(err), "got %v", err)
}

func TestPostInvoice_BankLedgerRequiresReference(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: The holding office with a bank ledger
		ctx := context.Background()
		svc := newService(t, st)
		in := ledger.NewInvoice{
			Office: offices.Fursatkum, Kind: ledger.KindIncome, Ledger: "bank",
			Name: "wire", Value: amount("500.000"), Date: march(4),
		}

		// WHEN: Posting without a bank reference
		_, err := svc.PostInvoice(ctx, in, actor)

		// THEN: Validation error
		assert.True(t, ledger.IsClientError(err), "got %v", err)

		// WHEN: Posting with one
		in.BankReference = "TRF-001"
		inv, err := svc.PostInvoice(ctx, in, actor)

		// THEN: It lands on the bank ledger with the office prefix
		require.NoError(t, err)
		assert.Equal(t, "F-INC-001", inv.ReferenceNumber)
		assert.Equal(t, "TRF-001", inv.BankReference)
		assertAmount(t, "500.000", balanceOf(t, svc, offices.Fursatkum, "bank"))
		assertAmount(t, "0", balanceOf(t, svc, offices.Fursatkum, "cash"))

		// AND: A cash invoice defaults to the cash ledger and drops bank references
		in.Ledger = ""
		cashInv, err := svc.PostInvoice(ctx, in, actor)
		require.NoError(t, err)
		assert.Equal(t, ledger.LedgerID("cash"), cashInv.Ledger)
		assert.Empty(t, cashInv.BankReference)
	})
}

// =============================================================================
// FUNDS AND ROUTING
// =============================================================================

func TestPostInvoice_InsufficientFunds(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: Home service with an empty funding ledger
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.HomeService
		spend := ledger.NewInvoice{
			Office: office, Kind: ledger.KindSpending, Name: "cleaning", Value: amount("85.250"), Date: march(5),
		}

		// WHEN: Spending before any deposit
		_, err := svc.PostInvoice(ctx, spend, actor)

		// THEN: Insufficient funds, with no counter consumed
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		var ife *ledger.InsufficientFundsError
		require.ErrorAs(t, err, &ife)
		assert.Equal(t, ledger.LedgerID("funding"), ife.Ledger)
		assertAmount(t, "0", ife.Available)
		assertAmount(t, "85.250", ife.Required)
		acct, err := svc.Account(ctx, office)
		require.NoError(t, err)
		assert.Zero(t, acct.Counters[ledger.ClassSpending])

		// WHEN: Depositing then spending
		dep, err := svc.DepositFunds(ctx, ledger.Deposit{
			Office: office, Amount: amount("100.000"), Description: "head office", Date: march(5),
		}, actor)
		require.NoError(t, err)
		assert.Equal(t, ledger.TxAddFunds, dep.Kind)
		assert.Equal(t, ledger.LedgerID("funding"), dep.Ledger)

		inv, err := svc.PostInvoice(ctx, spend, actor)

		// THEN: Spending succeeds from the funding ledger
		require.NoError(t, err)
		assert.Equal(t, "SPD-001", inv.ReferenceNumber)
		assertAmount(t, "14.750", balanceOf(t, svc, office, "funding"))

		// AND: Income is routed to its own ledger
		income := postIncome(t, svc, office, "300.000")
		assert.Equal(t, ledger.LedgerID("income"), income.Ledger)
		assertAmount(t, "300.000", balanceOf(t, svc, office, "income"))
		assertAmount(t, "14.750", balanceOf(t, svc, office, "funding"))
	})
}

func TestPostInvoice_RoutingConflict(t *testing.T) {
	svc := newService(t, memory.New())

	// WHEN: Requesting income on the ledger spending is routed to
	_, err := svc.PostInvoice(context.Background(), ledger.NewInvoice{
		Office: offices.HomeService, Kind: ledger.KindIncome, Ledger: "funding",
		Value: amount("10"), Date: march(1),
	}, actor)

	// THEN: InvalidState
	assert.True(t, ledger.IsInvalidState(err), "got %v", err)
}

func TestEditInvoice_IncreaseNeedsFunds(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: Funding 100 and a spending of 90
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.HomeService
		_, err := svc.DepositFunds(ctx, ledger.Deposit{Office: office, Amount: amount("100"), Description: "seed"}, actor)
		require.NoError(t, err)
		inv, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindSpending, Name: "rent", Value: amount("90"), Date: march(1),
		}, actor)
		require.NoError(t, err)

		// WHEN: Raising it by more than the remaining 10
		v := amount("120")
		_, err = svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Value: &v}, actor)

		// THEN: Rejected, invoice untouched
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		got, err := svc.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assertAmount(t, "90", got.Value)
		assert.False(t, got.IsEdited)

		// WHEN: Lowering it
		v = amount("60")
		_, err = svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Value: &v}, actor)

		// THEN: The adjustment credits the funding ledger
		require.NoError(t, err)
		assertAmount(t, "40", balanceOf(t, svc, office, "funding"))
		requireChainOK(t, svc, office, "funding")
	})
}

func TestDepositFunds_NotEnabled(t *testing.T) {
	svc := newService(t, memory.New())
	_, err := svc.DepositFunds(context.Background(), ledger.Deposit{
		Office: offices.Farwaniya1, Amount: amount("10"), Description: "seed",
	}, actor)
	assert.True(t, ledger.IsInvalidState(err), "got %v", err)
}

// =============================================================================
// EDITS
// =============================================================================

func TestEditInvoice_NoChangeRecordsNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: An income invoice
		ctx := context.Background()
		svc := newService(t, st)
		inv := postIncome(t, svc, offices.Farwaniya1, "100")

		// WHEN: Editing with identical values
		same := amount("100.000")
		name := " income "
		got, err := svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Value: &same, Name: &name}, actor)

		// THEN: No history, no transaction
		require.NoError(t, err)
		assert.False(t, got.IsEdited)
		assert.Empty(t, got.EditHistory)
		assert.Len(t, journalOf(t, svc, offices.Farwaniya1, "main"), 1)
	})
}

func TestEditInvoice_MultipleFieldsOneEntryEach(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		ctx := context.Background()
		svc := newService(t, st)
		inv := postIncome(t, svc, offices.Farwaniya1, "100")

		name := "renamed"
		details := "more detail"
		date := march(9)
		v := amount("110")
		got, err := svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{
			Name: &name, Details: &details, Date: &date, Value: &v,
			Document: &ledger.Document{Name: "scan.pdf", Path: "docs/scan.pdf"},
		}, actor)
		require.NoError(t, err)

		fields := make([]string, 0, len(got.EditHistory))
		for _, e := range got.EditHistory {
			fields = append(fields, e.Field)
			assert.Equal(t, actor, e.EditedBy)
		}
		assert.ElementsMatch(t, []string{"value", "name", "date", "details", "document"}, fields)
		assert.Equal(t, "renamed", got.Name)
		assert.True(t, got.Date.Equal(date))
		require.NotNil(t, got.Document)
		assert.False(t, got.Document.UploadedAt.IsZero())

		// Reference, kind and ledger never change
		assert.Equal(t, inv.ReferenceNumber, got.ReferenceNumber)
		assert.Equal(t, inv.Kind, got.Kind)
		assert.Equal(t, inv.Ledger, got.Ledger)

		stored, err := svc.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Len(t, stored.EditHistory, 5)
	})
}

func TestEditInvoice_ReasonRequiredByOffice(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()
	inv, err := svc.PostInvoice(ctx, ledger.NewInvoice{
		Office: offices.Fursatkum, Kind: ledger.KindIncome, Name: "retainer", Value: amount("10"), Date: march(1),
	}, actor)
	require.NoError(t, err)

	name := "changed"
	_, err = svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Name: &name}, actor)
	assert.True(t, ledger.IsClientError(err), "got %v", err)

	err = svc.DeleteInvoice(ctx, inv.ID, actor, "")
	assert.True(t, ledger.IsClientError(err), "got %v", err)

	got, err := svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Name: &name, Reason: "typo"}, actor)
	require.NoError(t, err)
	assert.Equal(t, "typo", got.EditHistory[0].Reason)
}

func TestEditInvoice_DeletedIsInvalidState(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()
	inv := postIncome(t, svc, offices.Farwaniya1, "10")
	require.NoError(t, svc.DeleteInvoice(ctx, inv.ID, actor, ""))

	name := "late"
	_, err := svc.EditInvoice(ctx, inv.ID, ledger.InvoicePatch{Name: &name}, actor)
	assert.True(t, ledger.IsInvalidState(err), "got %v", err)

	_, err = svc.EditInvoice(ctx, "missing", ledger.InvoicePatch{Name: &name}, actor)
	assert.True(t, ledger.IsNotFound(err), "got %v", err)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPostInvoice_ConcurrentPostsGetUniqueReferences(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: N concurrent posts on the same office
		const n = 20
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya1

		var wg sync.WaitGroup
		refs := make(chan string, n)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				inv, err := svc.PostInvoice(ctx, ledger.NewInvoice{
					Office: office, Kind: ledger.KindIncome, Name: fmt.Sprintf("receipt %d", i),
					Value: amount("1.500"), Date: march(1),
				}, actor)
				if err != nil {
					errs <- err
					return
				}
				refs <- inv.ReferenceNumber
			}(i)
		}
		wg.Wait()
		close(refs)
		close(errs)

		// THEN: Every post succeeded with a distinct reference
		for err := range errs {
			t.Errorf("post failed: %v", err)
		}
		seen := make(map[string]bool)
		for r := range refs {
			assert.False(t, seen[r], "duplicate reference %s", r)
			seen[r] = true
		}
		assert.Len(t, seen, n)

		acct, err := svc.Account(ctx, office)
		require.NoError(t, err)
		assert.Equal(t, int64(n), acct.Counters[ledger.ClassIncome])
		assertAmount(t, "30.000", acct.Balances["main"])
		assert.Len(t, journalOf(t, svc, office, "main"), n)
		requireChainOK(t, svc, office, "main")
	})
}

// faultStore makes the first failures attempts lose the balance CAS.
type faultStore struct {
	ledger.TxStore
	failures atomic.Int32
	attempts atomic.Int32
	failWith error
}

func (f *faultStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	f.attempts.Add(1)
	return f.TxStore.WithTx(ctx, func(st ledger.Store) error {
		return fn(&faultView{Store: st, parent: f})
	})
}

type faultView struct {
	ledger.Store
	parent *faultStore
}

func (v *faultView) SaveBalance(ctx context.Context, b ledger.Balance, expected int64) error {
	if v.parent.failures.Add(-1) >= 0 {
		return ledger.ErrConcurrentModification
	}
	return v.Store.SaveBalance(ctx, b, expected)
}

func (v *faultView) InsertInvoice(ctx context.Context, inv ledger.Invoice) error {
	if v.parent.failWith != nil {
		return v.parent.failWith
	}
	return v.Store.InsertInvoice(ctx, inv)
}

func TestMutate_RetriesLostRace(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: A store whose first two CAS attempts fail
		fs := &faultStore{TxStore: st}
		fs.failures.Store(2)
		svc := newService(t, fs)

		// WHEN: Posting
		inv := postIncome(t, svc, offices.Farwaniya1, "10")

		// THEN: The third attempt wins and no attempt leaked a reference
		assert.Equal(t, int32(3), fs.attempts.Load())
		assert.Equal(t, "F1-INC-001", inv.ReferenceNumber)
		assert.Len(t, journalOf(t, svc, offices.Farwaniya1, "main"), 1)
		requireChainOK(t, svc, offices.Farwaniya1, "main")
	})
}

func TestMutate_ExhaustedRetriesIsConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: A store that always loses the CAS
		ctx := context.Background()
		fs := &faultStore{TxStore: st}
		fs.failures.Store(1000)
		svc := newService(t, fs)

		// WHEN: Posting
		_, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: offices.Farwaniya1, Kind: ledger.KindIncome, Value: amount("10"), Date: march(1),
		}, actor)

		// THEN: ConcurrencyConflict after MaxRetries attempts, nothing persisted
		require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
		assert.True(t, ledger.IsRetryable(err))
		var cc *ledger.ConcurrencyConflictError
		require.ErrorAs(t, err, &cc)
		assert.Equal(t, ledger.DefaultMaxRetries, cc.Attempts)
		assert.Equal(t, int32(ledger.DefaultMaxRetries), fs.attempts.Load())

		acct, err := svc.Account(ctx, offices.Farwaniya1)
		require.NoError(t, err)
		assert.Zero(t, acct.Counters[ledger.ClassIncome])
		assertAmount(t, "0", acct.Balances["main"])
		assert.Empty(t, journalOf(t, svc, offices.Farwaniya1, "main"))
	})
}

func TestMutate_FailureRollsBackEveryWrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: A store that fails after the transaction was appended
		ctx := context.Background()
		boom := errors.New("disk full")
		fs := &faultStore{TxStore: st, failWith: boom}
		svc := newService(t, fs)

		// WHEN: Posting
		_, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: offices.Farwaniya1, Kind: ledger.KindIncome, Value: amount("10"), Date: march(1),
		}, actor)

		// THEN: The error surfaces once and nothing of the unit remains
		require.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), fs.attempts.Load())
		acct, err := svc.Account(ctx, offices.Farwaniya1)
		require.NoError(t, err)
		assert.Zero(t, acct.Counters[ledger.ClassIncome])
		assertAmount(t, "0", acct.Balances["main"])
		assert.Empty(t, journalOf(t, svc, offices.Farwaniya1, "main"))
		page, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: offices.Farwaniya1, Status: ledger.StatusAll})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})
}

// =============================================================================
// SUMMARY
// =============================================================================

// countingCache wraps MemoryCache and counts hits.
type countingCache struct {
	*ledger.MemoryCache
	hits atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, key string) (*ledger.Summary, bool, error) {
	sum, ok, err := c.MemoryCache.Get(ctx, key)
	if ok {
		c.hits.Add(1)
	}
	return sum, ok, err
}

func TestGetSummary_CachedUntilMutation(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: A service with a summary cache
		ctx := context.Background()
		cache := &countingCache{MemoryCache: ledger.NewMemoryCache()}
		svc := newService(t, st, ledger.WithSummaryCache(cache))
		office := offices.Farwaniya1
		postIncome(t, svc, office, "100")

		// WHEN: Reading twice without mutations
		first, err := svc.GetSummary(ctx, office, "")
		require.NoError(t, err)
		second, err := svc.GetSummary(ctx, office, "")
		require.NoError(t, err)

		// THEN: Identical results, the second from cache
		assert.Equal(t, int32(1), cache.hits.Load())
		assertAmount(t, first.Balance.String(), second.Balance)
		assert.Equal(t, first.Counts, second.Counts)

		// WHEN: Posting again
		postIncome(t, svc, office, "5")
		third, err := svc.GetSummary(ctx, office, "")
		require.NoError(t, err)

		// THEN: The cache was invalidated
		assert.Equal(t, int32(1), cache.hits.Load())
		assertAmount(t, "105", third.Balance)
		assert.Equal(t, 2, third.Counts.Income)
		assert.Equal(t, int64(2), third.Counters[ledger.ClassIncome])
		require.NotEmpty(t, third.Recent)
		assert.NotNil(t, third.LastTransactionAt)
	})
}

func TestGetSummary_LedgerScope(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: Cash and bank income on the holding office
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Fursatkum
		_, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindIncome, Name: "cash", Value: amount("1000"), Date: march(1),
		}, actor)
		require.NoError(t, err)
		_, err = svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindIncome, Ledger: "bank", Name: "wire",
			Value: amount("2000"), Date: march(2), BankReference: "TRF-9",
		}, actor)
		require.NoError(t, err)

		// WHEN: Reading the office and the bank ledger
		all, err := svc.GetSummary(ctx, office, "")
		require.NoError(t, err)
		bank, err := svc.GetSummary(ctx, office, "bank")
		require.NoError(t, err)

		// THEN: The office sums both, the ledger only its own
		assertAmount(t, "3000", all.Balance)
		assertAmount(t, "1000", all.Balances["cash"])
		assertAmount(t, "2000", bank.Balance)
		assert.Equal(t, 1, bank.Counts.Income)
		assert.Len(t, bank.Balances, 1)
		require.Len(t, bank.Recent, 1)
		assert.Equal(t, ledger.LedgerID("bank"), bank.Recent[0].Ledger)

		_, err = svc.GetSummary(ctx, office, "main")
		assert.True(t, ledger.IsInvalidState(err), "got %v", err)
	})
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListInvoices_FiltersAndPages(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		// GIVEN: Five income invoices and one deleted spending
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya1
		for i := 1; i <= 5; i++ {
			_, err := svc.PostInvoice(ctx, ledger.NewInvoice{
				Office: office, Kind: ledger.KindIncome, Name: fmt.Sprintf("visa batch %d", i),
				Value: amount("10"), Date: march(i),
			}, actor)
			require.NoError(t, err)
		}
		sp, err := svc.PostInvoice(ctx, ledger.NewInvoice{
			Office: office, Kind: ledger.KindSpending, Name: "toner", Value: amount("3"), Date: march(6),
		}, actor)
		require.NoError(t, err)
		require.NoError(t, svc.DeleteInvoice(ctx, sp.ID, actor, ""))

		// WHEN/THEN: Active invoices exclude the deleted one, newest first
		page, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Pagination: ledger.Pagination{Page: 1, Limit: 2}})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.Pages)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "visa batch 5", page.Items[0].Name)

		last, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Pagination: ledger.Pagination{Page: 3, Limit: 2}})
		require.NoError(t, err)
		require.Len(t, last.Items, 1)
		assert.Equal(t, "visa batch 1", last.Items[0].Name)

		deleted, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Status: ledger.StatusDeleted})
		require.NoError(t, err)
		require.Len(t, deleted.Items, 1)
		assert.Equal(t, "F1-SPD-001", deleted.Items[0].ReferenceNumber)

		found, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Search: "BATCH 3"})
		require.NoError(t, err)
		require.Len(t, found.Items, 1)
		assert.Equal(t, "F1-INC-003", found.Items[0].ReferenceNumber)

		byRef, err := svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Status: ledger.StatusAll, Search: "spd"})
		require.NoError(t, err)
		assert.Equal(t, 1, byRef.Total)

		_, err = svc.ListInvoices(ctx, ledger.InvoiceFilter{Office: office, Status: "archived"})
		assert.True(t, ledger.IsClientError(err), "got %v", err)
	})
}

func TestListTransactions_ByInvoice(t *testing.T) {
	forEachStore(t, func(t *testing.T, st ledger.TxStore) {
		ctx := context.Background()
		svc := newService(t, st)
		office := offices.Farwaniya1
		a := postIncome(t, svc, office, "10")
		postIncome(t, svc, office, "20")
		require.NoError(t, svc.DeleteInvoice(ctx, a.ID, actor, ""))

		page, err := svc.ListTransactions(ctx, ledger.TransactionFilter{Office: office, InvoiceID: a.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)

		reversals, err := svc.ListTransactions(ctx, ledger.TransactionFilter{Office: office, Kind: ledger.TxIncomeReversal})
		require.NoError(t, err)
		require.Len(t, reversals.Items, 1)
		assertAmount(t, "-10", reversals.Items[0].Amount)
		assertAmount(t, "20", reversals.Items[0].BalanceAfter)
	})
}

func TestVerifyAll_EveryLedger(t *testing.T) {
	svc := newService(t, memory.New())
	postIncome(t, svc, offices.Farwaniya1, "10")

	reports, err := svc.VerifyAll(context.Background())
	require.NoError(t, err)

	// home-service 2, farwaniya1 1, farwaniya2 1, fursatkum 2
	assert.Len(t, reports, 6)
	for _, r := range reports {
		assert.True(t, r.OK(), "%s/%s", r.Office, r.Ledger)
	}
}
