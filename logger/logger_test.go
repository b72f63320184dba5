package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "")
	log.Info().Str("office", "farwaniya1").Msg("invoice posted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "farwaniya1", line["office"])
	assert.Equal(t, "invoice posted", line["message"])
	assert.Contains(t, line, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "console", "15:04:05")
	log.Warn().Msg("retrying")
	assert.Contains(t, buf.String(), "retrying")
}

func TestSetup(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })

	_, err := Setup(Config{Level: "loud"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "ledger.log")
	_, err = Setup(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
