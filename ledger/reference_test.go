package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
)

func TestFormatReference(t *testing.T) {
	tests := []struct {
		prefix string
		class  ledger.CounterClass
		seq    int64
		want   string
	}{
		{"F1", ledger.ClassIncome, 1, "F1-INC-001"},
		{"F2", ledger.ClassSpending, 42, "F2-SPD-042"},
		{"F", ledger.ClassLoan, 7, "F-LON-007"},
		{"F", ledger.ClassSalary, 1234, "F-SAL-1234"},
		{"", ledger.ClassIncome, 3, "INC-003"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.FormatReference(tt.prefix, tt.class, tt.seq))
	}
}

func TestParseReference(t *testing.T) {
	prefix, class, seq, err := ledger.ParseReference("F1-INC-007")
	require.NoError(t, err)
	assert.Equal(t, "F1", prefix)
	assert.Equal(t, ledger.ClassIncome, class)
	assert.Equal(t, int64(7), seq)

	prefix, class, seq, err = ledger.ParseReference("SPD-120")
	require.NoError(t, err)
	assert.Empty(t, prefix)
	assert.Equal(t, ledger.ClassSpending, class)
	assert.Equal(t, int64(120), seq)

	for _, bad := range []string{"", "INC", "F1-XXX-001", "F1-INC-abc", "F1-INC-000"} {
		_, _, _, err := ledger.ParseReference(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ledger.ParseAmount("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.500", ledger.FormatAmount(d))

	_, err = ledger.ParseAmount("1.0001")
	assert.Error(t, err)
	_, err = ledger.ParseAmount("ten")
	assert.Error(t, err)
}

func TestOffice_ResolveLedger(t *testing.T) {
	home := &ledger.Office{
		ID:          "home",
		Ledgers:     []ledger.LedgerID{"funding", "income"},
		KindRouting: map[ledger.InvoiceKind]ledger.LedgerID{ledger.KindIncome: "income", ledger.KindSpending: "funding"},
	}
	holding := &ledger.Office{
		ID:            "holding",
		Ledgers:       []ledger.LedgerID{"cash", "bank"},
		DefaultLedger: "cash",
	}
	branch := &ledger.Office{ID: "branch", Ledgers: []ledger.LedgerID{"main"}}
	multi := &ledger.Office{ID: "multi", Ledgers: []ledger.LedgerID{"a", "b"}}

	got, err := home.ResolveLedger(ledger.KindSpending, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerID("funding"), got)

	got, err = home.ResolveLedger(ledger.KindIncome, "income")
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerID("income"), got)

	_, err = home.ResolveLedger(ledger.KindIncome, "funding")
	assert.True(t, ledger.IsInvalidState(err))

	got, err = holding.ResolveLedger(ledger.KindIncome, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerID("cash"), got)

	got, err = holding.ResolveLedger(ledger.KindIncome, "bank")
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerID("bank"), got)

	got, err = branch.ResolveLedger(ledger.KindSpending, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerID("main"), got)

	_, err = multi.ResolveLedger(ledger.KindIncome, "")
	assert.True(t, ledger.IsClientError(err))

	_, err = branch.ResolveLedger(ledger.KindIncome, "BAD!")
	assert.True(t, ledger.IsClientError(err))

	_, err = branch.ResolveLedger(ledger.KindIncome, "cash")
	assert.True(t, ledger.IsInvalidState(err))
}

func TestOffice_Validate(t *testing.T) {
	ok := &ledger.Office{ID: "ok", Ledgers: []ledger.LedgerID{"main"}}
	assert.NoError(t, ok.Validate())

	bad := []*ledger.Office{
		{ID: "Bad Id", Ledgers: []ledger.LedgerID{"main"}},
		{ID: "empty"},
		{ID: "dup", Ledgers: []ledger.LedgerID{"main", "main"}},
		{ID: "default", Ledgers: []ledger.LedgerID{"main"}, DefaultLedger: "cash"},
		{ID: "route", Ledgers: []ledger.LedgerID{"main"}, KindRouting: map[ledger.InvoiceKind]ledger.LedgerID{ledger.KindIncome: "other"}},
		{ID: "bank", Ledgers: []ledger.LedgerID{"main"}, BankLedgers: []ledger.LedgerID{"bank"}},
	}
	for _, o := range bad {
		assert.Error(t, o.Validate(), string(o.ID))
	}
}
