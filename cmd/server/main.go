/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the office ledger server, and offers offline
  maintenance commands over the same store.

COMMANDS:
  serve     Start the HTTP API (default)
  verify    Replay every ledger; exits non-zero on any mismatch
  summary   Print the dashboard summary of an office as JSON

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Configure zerolog
  3. Open the store (SQLite file, ":memory:", or the in-process store)
  4. Load office definitions (OFFICES_FILE or the built-in presets)
  5. Connect the Redis summary cache when REDIS_ADDR is set
  6. Build the ledger and payroll services

FLAGS (override the environment):
  --port, --db, --offices, --store, --log-level, --demo

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/ledger.db

  # Run with the demo scenarios mounted
  DEMO=true ./server serve --db=":memory:"

  # Nightly integrity check
  ./server verify --db=./data/ledger.db

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/office-ledger/cache"
	"github.com/warp/office-ledger/config"
	"github.com/warp/office-ledger/ledger"
	"github.com/warp/office-ledger/logger"
	"github.com/warp/office-ledger/offices"
	"github.com/warp/office-ledger/payroll"
	"github.com/warp/office-ledger/store/memory"
	"github.com/warp/office-ledger/store/sqlite"
)

var version = "0.1.0"

type flags struct {
	envFile  string
	port     string
	db       string
	offices  string
	store    string
	logLevel string
	demo     bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "server",
		Short:         "Office ledger engine",
		Long:          "Shared ledger engine for the back-office modules: invoices, journal, balances and payroll.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.envFile, "env", "", "path to a .env file")
	pf.StringVar(&f.db, "db", "", "SQLite database path (overrides DB_PATH)")
	pf.StringVar(&f.offices, "offices", "", "office definitions YAML (overrides OFFICES_FILE)")
	pf.StringVar(&f.store, "store", "sqlite", "store backend: sqlite or memory")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	serve := newServeCmd(&f)
	root.AddCommand(serve, newVerifyCmd(&f), newSummaryCmd(&f))

	// bare invocation serves
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// =============================================================================
// WIRING
// =============================================================================

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   ledger.TxStore
	cache   *cache.Redis
	ledger  *ledger.Service
	payroll *payroll.Service
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if f.db != "" {
		cfg.DBPath = f.db
	}
	if f.offices != "" {
		cfg.OfficesFile = f.offices
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.demo {
		cfg.Demo = true
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, f *flags) (*app, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	switch f.store {
	case "memory":
		a.store = memory.New()
	case "", "sqlite":
		st, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.store = st
	default:
		return nil, fmt.Errorf("unknown store %q (use sqlite or memory)", f.store)
	}

	defs, err := offices.Load(cfg.OfficesFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SummaryTTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = rc
		opts = append(opts, ledger.WithSummaryCache(rc))
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis summary cache enabled")
	} else {
		opts = append(opts, ledger.WithSummaryCache(ledger.NewMemoryCache()))
	}

	a.ledger, err = ledger.NewService(a.store, defs, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.payroll = payroll.NewService(a.ledger, log)

	log.Info().Int("offices", len(defs)).Str("store", f.store).Str("db", cfg.DBPath).Msg("ledger ready")
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if c, ok := a.store.(io.Closer); ok {
		c.Close()
	}
}
