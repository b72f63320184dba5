package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/offices"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "OFFICES_FILE", "DB_PATH", "MAX_RETRIES", "VERIFY_INTERVAL"} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVerifyCommand(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "ledger.db")

	// GIVEN: A database with one posting
	a, err := newApp(context.Background(), &flags{db: db, store: "sqlite", logLevel: "error"})
	require.NoError(t, err)
	_, err = a.ledger.PostInvoice(context.Background(), ledger.NewInvoice{
		Office: offices.Farwaniya1,
		Kind:   ledger.KindIncome,
		Value:  ledger.MustAmount("42"),
		Date:   time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}, "cli")
	require.NoError(t, err)
	a.Close()

	// WHEN: Verifying offline
	out, err := execute(t, "verify", "--db", db)

	// THEN: Every ledger is reported ok
	require.NoError(t, err)
	assert.Contains(t, out, "farwaniya1/main entries=1 replayed=42.000 stored=42.000")
	assert.NotContains(t, out, "MISMATCH")
}

func TestSummaryCommand(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "summary", "--store", "memory", "--office", "fursatkum", "--ledger", "bank")
	require.NoError(t, err)

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, "fursatkum", sum["office"])

	_, err = execute(t, "summary", "--store", "memory", "--office", "nowhere")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = execute(t, "summary", "--store", "memory")
	assert.Error(t, err)
}

func TestNewApp_UnknownStore(t *testing.T) {
	isolateEnv(t)
	_, err := newApp(context.Background(), &flags{store: "postgres", logLevel: "error"})
	assert.Error(t, err)
}
