package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
)

const twoOffices = `
offices:
  - id: branch
    reference_prefix: BR
    ledgers: [main]
  - id: holding
    name: Holding
    currency: KWD
    ledgers: [cash, bank]
    default_ledger: cash
    bank_ledgers: [bank]
    routing:
      spending: cash
    require_sufficient_funds: true
    payroll: true
`

func TestParseOffices(t *testing.T) {
	// GIVEN: Two office definitions
	// WHEN: Parsing
	got, err := ParseOffices([]byte(twoOffices))

	// THEN: Defaults are filled in and routing is typed
	require.NoError(t, err)
	require.Len(t, got, 2)

	branch := got[0]
	assert.Equal(t, ledger.OfficeID("branch"), branch.ID)
	assert.Equal(t, "branch", branch.Name)
	assert.Equal(t, ledger.DefaultCurrency, branch.Currency)
	assert.Equal(t, ledger.LedgerID("main"), branch.DefaultLedger)

	holding := got[1]
	assert.Equal(t, ledger.LedgerID("cash"), holding.KindRouting[ledger.KindSpending])
	assert.True(t, holding.IsBankLedger("bank"))
	assert.True(t, holding.RequireSufficientFunds)
	assert.True(t, holding.Payroll)
	assert.False(t, holding.AllowDeposits)
}

func TestParseOffices_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "offices:\n  - id: a\n    ledgers: [main]\n    colour: red\n",
		"empty document":  "",
		"duplicate id":    "offices:\n  - id: a\n    ledgers: [main]\n  - id: a\n    ledgers: [main]\n",
		"no ledgers":      "offices:\n  - id: a\n",
		"bad routing":     "offices:\n  - id: a\n    ledgers: [main]\n    routing:\n      refund: main\n",
		"undefined route": "offices:\n  - id: a\n    ledgers: [main]\n    routing:\n      income: other\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOffices([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOffices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoOffices), 0o644))

	got, err := LoadOffices(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = LoadOffices(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
