// Package config loads server configuration from environment variables
// and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/office-ledger/logger"
)

// Config represents the server configuration.
type Config struct {
	Port        string
	DBPath      string // ":memory:" keeps everything in process
	OfficesFile string // YAML office definitions; empty uses the built-in presets

	Log logger.Config

	// RedisAddr enables the shared summary cache when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SummaryTTL    time.Duration

	// VerifyInterval runs the integrity check periodically; 0 disables it.
	VerifyInterval time.Duration
	MaxRetries     int

	CORSOrigins []string
	Demo        bool // mount /api/scenarios and /api/reset
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present; envPath overrides it.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, err := parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseIntEnv("MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	ttl, err := parseDurationEnv("SUMMARY_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	interval, err := parseDurationEnv("VERIFY_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	defaults := logger.DefaultConfig()
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DBPath:      getEnvOrDefault("DB_PATH", "ledger.db"),
		OfficesFile: os.Getenv("OFFICES_FILE"),
		Log: logger.Config{
			Level:      getEnvOrDefault("LOG_LEVEL", defaults.Level),
			Format:     getEnvOrDefault("LOG_FORMAT", defaults.Format),
			TimeFormat: defaults.TimeFormat,
			Output:     getEnvOrDefault("LOG_OUTPUT", defaults.Output),
		},
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		SummaryTTL:     ttl,
		VerifyInterval: interval,
		MaxRetries:     maxRetries,
		CORSOrigins:    splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
		Demo:           os.Getenv("DEMO") == "true",
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.VerifyInterval < 0 {
		return fmt.Errorf("VERIFY_INTERVAL cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
