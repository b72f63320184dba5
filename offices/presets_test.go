package offices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
)

func TestDefaults(t *testing.T) {
	got := Defaults()
	require.Len(t, got, 4)

	byID := make(map[ledger.OfficeID]*ledger.Office)
	for _, o := range got {
		byID[o.ID] = o
	}

	home := byID[HomeService]
	require.NotNil(t, home)
	assert.Equal(t, ledger.LedgerID("funding"), home.KindRouting[ledger.KindSpending])
	assert.Equal(t, ledger.LedgerID("income"), home.KindRouting[ledger.KindIncome])
	assert.True(t, home.AllowDeposits)
	assert.True(t, home.RequireSufficientFunds)

	assert.Equal(t, "F1", byID[Farwaniya1].ReferencePrefix)
	assert.Equal(t, "F2", byID[Farwaniya2].ReferencePrefix)
	assert.False(t, byID[Farwaniya1].RequireSufficientFunds)

	holding := byID[Fursatkum]
	require.NotNil(t, holding)
	assert.Equal(t, ledger.LedgerID("cash"), holding.DefaultLedger)
	assert.True(t, holding.IsBankLedger("bank"))
	assert.True(t, holding.Payroll)
	assert.True(t, holding.RequireReason)
}

func TestDefaults_FreshCopies(t *testing.T) {
	a := Defaults()
	a[0].Name = "changed"
	assert.NotEqual(t, "changed", Defaults()[0].Name)
}

func TestLoad_EmptyPathUsesPresets(t *testing.T) {
	got, err := Load("")
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.NotEmpty(t, PresetsYAML())
}
