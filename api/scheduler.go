/*
scheduler.go - Periodic balance chain verification

PURPOSE:
  Periodically replays every configured ledger and compares the result
  with the stored balance. A mismatch means the journal or the balance
  row was changed outside the service; it is logged at error level and
  kept as the last run for the operator.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Read-only: never repairs a ledger

CONFIGURATION:
  - CheckInterval: How often to check (VERIFY_INTERVAL, default 1 hour)
  - Enabled: Whether scheduler is active (interval > 0)

USAGE:
  scheduler := NewIntegrityScheduler(ledgerService, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: VerifyLedger endpoint (manual verification)
  - ledger/journal.go: VerifyLedger
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/office-ledger/ledger"
)

// IntegrityRun is the outcome of one verification pass.
type IntegrityRun struct {
	StartedAt  time.Time
	Duration   time.Duration
	Ledgers    int
	Mismatched int
	Err        error
	Reports    []*ledger.ChainReport
}

// IntegrityScheduler runs ledger.Service.VerifyAll on a ticker.
type IntegrityScheduler struct {
	Ledger        *ledger.Service
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *IntegrityRun
}

// NewIntegrityScheduler creates a new scheduler.
func NewIntegrityScheduler(l *ledger.Service, log zerolog.Logger) *IntegrityScheduler {
	return &IntegrityScheduler{
		Ledger:        l,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "integrity").Logger(),
	}
}

// Start begins the scheduler.
func (s *IntegrityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.log.Info().Msg("integrity scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.CheckInterval).Msg("integrity scheduler started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("integrity scheduler stopped")
}

// LastRun returns the most recent pass, or nil before the first one.
func (s *IntegrityScheduler) LastRun() *IntegrityRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *IntegrityScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce verifies every ledger now.
func (s *IntegrityScheduler) RunOnce(ctx context.Context) *IntegrityRun {
	run := &IntegrityRun{StartedAt: time.Now()}

	reports, err := s.Ledger.VerifyAll(ctx)
	run.Reports = reports
	run.Ledgers = len(reports)
	run.Err = err
	for _, r := range reports {
		if r.OK() {
			continue
		}
		run.Mismatched++
		ev := s.log.Error().
			Str("office", string(r.Office)).
			Str("ledger", string(r.Ledger)).
			Int("entries", r.Entries).
			Str("replayed", ledger.FormatAmount(r.Replayed)).
			Str("stored", ledger.FormatAmount(r.Stored)).
			Int("mismatches", len(r.Mismatches))
		if len(r.Mismatches) > 0 {
			ev = ev.Int64("first_sequence", r.Mismatches[0].Sequence).Str("first_reason", r.Mismatches[0].Reason)
		}
		ev.Msg("balance chain broken")
	}
	run.Duration = time.Since(run.StartedAt)

	if err != nil {
		s.log.Error().Err(err).Int("verified", run.Ledgers).Msg("integrity check failed")
	} else {
		s.log.Info().Int("ledgers", run.Ledgers).Int("mismatched", run.Mismatched).
			Dur("duration", run.Duration).Msg("integrity check complete")
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
	return run
}
