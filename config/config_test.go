package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "REDIS_ADDR", "MAX_RETRIES", "VERIFY_INTERVAL", "SUMMARY_TTL", "DEMO", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "ledger.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.VerifyInterval)
	assert.Equal(t, 5*time.Minute, cfg.SummaryTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.Demo)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("VERIFY_INTERVAL", "0s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DEMO", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Zero(t, cfg.VerifyInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.True(t, cfg.Demo)
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv never overrides a variable that is already set
	for _, k := range []string{"REDIS_ADDR", "REDIS_DB"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_ADDR=localhost:6379\nREDIS_DB=2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MAX_RETRIES", "three")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("MAX_RETRIES", "")
	t.Setenv("VERIFY_INTERVAL", "-1m")
	_, err = Load()
	assert.Error(t, err)
}
