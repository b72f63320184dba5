package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
)

// newTestRedis connects to REDIS_ADDR or skips.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := NewRedis(ctx, Options{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, "office-ledger:summary:farwaniya1:all", key(ledger.SummaryKey("farwaniya1", "")))
	assert.Equal(t, "office-ledger:summary:fursatkum:bank", key(ledger.SummaryKey("fursatkum", "bank")))
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewRedis(ctx, Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedis_SetGetDelete(t *testing.T) {
	// GIVEN: A live Redis
	r := newTestRedis(t)
	ctx := context.Background()
	k := ledger.SummaryKey("test-office", ledger.LedgerID("l"+ledger.NewID()[20:]))
	t.Cleanup(func() { r.Delete(ctx, k) })

	sum := &ledger.Summary{
		Office:        "test-office",
		Currency:      "KWD",
		Balance:       ledger.MustAmount("60.000"),
		IncomeTotal:   ledger.MustAmount("100.000"),
		SpendingTotal: ledger.MustAmount("40.000"),
		Counts:        ledger.InvoiceCounts{Income: 1, Spending: 1, Total: 2},
		Counters:      map[ledger.CounterClass]int64{ledger.ClassIncome: 1},
	}

	// WHEN: Storing and reading
	_, ok, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Set(ctx, k, sum))
	got, ok, err := r.Get(ctx, k)

	// THEN: The summary survives the round trip
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(sum.Balance))
	assert.Equal(t, sum.Counts, got.Counts)
	assert.Equal(t, int64(1), got.Counters[ledger.ClassIncome])

	// WHEN: Deleting
	require.NoError(t, r.Delete(ctx, k))
	_, ok, err = r.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}
