/*
summary.go - Dashboard projection over the journal and invoices

PURPOSE:
  Summary is a pure read model. Balances are rebuilt by folding the
  journal, never read from the stored balance, so a dashboard always
  agrees with the chain. Totals cover active invoices only.

CACHING:
  Summaries may be served from a SummaryCache (memory or Redis).
  Every successful mutation of an office bumps the office generation and
  deletes its keys. A summary computed while the generation moved is
  returned but not cached, so a slow read never overwrites a fresher
  invalidation.

SEE ALSO:
  - cache: Redis cache shared for several server processes
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RecentLimit is the number of newest transactions in a Summary.
const RecentLimit = 10

// =============================================================================
// SUMMARY
// =============================================================================

type InvoiceCounts struct {
	Income   int `json:"income"`
	Spending int `json:"spending"`
	Deleted  int `json:"deleted"`
	Total    int `json:"total"`
}

type Summary struct {
	Office            OfficeID                     `json:"office"`
	Ledger            LedgerID                     `json:"ledger,omitempty"`
	Currency          string                       `json:"currency"`
	Balances          map[LedgerID]decimal.Decimal `json:"balances"`
	Balance           decimal.Decimal              `json:"balance"`
	IncomeTotal       decimal.Decimal              `json:"income_total"`
	SpendingTotal     decimal.Decimal              `json:"spending_total"`
	Counts            InvoiceCounts                `json:"counts"`
	Counters          map[CounterClass]int64       `json:"counters"`
	Recent            []Transaction                `json:"recent"`
	LastTransactionAt *time.Time                   `json:"last_transaction_at,omitempty"`
}

// SummaryKey is the cache key of a summary. An empty ledger means every
// ledger of the office.
func SummaryKey(office OfficeID, ledger LedgerID) string {
	scope := string(ledger)
	if scope == "" {
		scope = "all"
	}
	return "summary:" + string(office) + ":" + scope
}

// GetSummary returns the dashboard of an office, or of one of its ledgers
// when ledgerID is set.
func (s *Service) GetSummary(ctx context.Context, officeID OfficeID, ledgerID LedgerID) (*Summary, error) {
	office, err := s.Office(officeID)
	if err != nil {
		return nil, err
	}
	if ledgerID != "" {
		if err := office.CheckLedger(ledgerID); err != nil {
			return nil, err
		}
	}

	key := SummaryKey(office.ID, ledgerID)
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("summary cache read failed")
	} else if ok {
		return cached, nil
	}

	gen := s.generation(office.ID).Load()
	sum, err := s.buildSummary(ctx, office, ledgerID)
	if err != nil {
		return nil, err
	}
	if s.generation(office.ID).Load() == gen {
		if err := s.cache.Set(ctx, key, sum); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("summary cache write failed")
		}
	}
	return sum, nil
}

func (s *Service) buildSummary(ctx context.Context, office *Office, ledgerID LedgerID) (*Summary, error) {
	ledgers := office.Ledgers
	if ledgerID != "" {
		ledgers = []LedgerID{ledgerID}
	}

	sum := &Summary{
		Office:        office.ID,
		Ledger:        ledgerID,
		Currency:      office.Currency,
		Balances:      make(map[LedgerID]decimal.Decimal, len(ledgers)),
		Balance:       decimal.Zero,
		IncomeTotal:   decimal.Zero,
		SpendingTotal: decimal.Zero,
	}
	for _, l := range ledgers {
		entries, err := s.store.Journal(ctx, office.ID, l)
		if err != nil {
			return nil, err
		}
		b := Replay(entries)
		sum.Balances[l] = b
		sum.Balance = sum.Balance.Add(b)
	}

	invoices, err := s.store.AllInvoices(ctx, office.ID)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		inv := &invoices[i]
		if ledgerID != "" && inv.Ledger != ledgerID {
			continue
		}
		sum.Counts.Total++
		if inv.Status == StatusDeleted {
			sum.Counts.Deleted++
			continue
		}
		switch inv.Kind {
		case KindIncome:
			sum.Counts.Income++
			sum.IncomeTotal = sum.IncomeTotal.Add(inv.Value)
		case KindSpending:
			sum.Counts.Spending++
			sum.SpendingTotal = sum.SpendingTotal.Add(inv.Value)
		}
	}

	if sum.Counters, err = s.store.Counters(ctx, office.ID); err != nil {
		return nil, err
	}

	recent, err := s.store.ListTransactions(ctx, TransactionFilter{
		Office:     office.ID,
		Ledger:     ledgerID,
		Pagination: Pagination{Page: 1, Limit: RecentLimit},
	})
	if err != nil {
		return nil, err
	}
	sum.Recent = recent.Items
	if len(sum.Recent) > 0 {
		last := sum.Recent[0].CreatedAt
		sum.LastTransactionAt = &last
	}
	return sum, nil
}

// invalidate drops every cached summary of an office.
func (s *Service) invalidate(ctx context.Context, office *Office) {
	s.generation(office.ID).Add(1)
	keys := make([]string, 0, len(office.Ledgers)+1)
	keys = append(keys, SummaryKey(office.ID, ""))
	for _, l := range office.Ledgers {
		keys = append(keys, SummaryKey(office.ID, l))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("office", string(office.ID)).Msg("summary cache invalidation failed")
	}
}

// InvalidateAll drops the cached summaries of every office. Callers that
// change the store behind the service (a demo reset) use it.
func (s *Service) InvalidateAll(ctx context.Context) {
	for _, o := range s.Offices() {
		s.invalidate(ctx, o)
	}
}

// =============================================================================
// CACHES
// =============================================================================

// SummaryCache stores computed summaries by key.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*Summary, bool, error)
	Set(ctx context.Context, key string, sum *Summary) error
	Delete(ctx context.Context, keys ...string) error
}

// NopCache never caches.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Summary, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, string, *Summary) error         { return nil }
func (NopCache) Delete(context.Context, ...string) error             { return nil }

// MemoryCache is a process-local SummaryCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Summary
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Summary)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Summary, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum, ok := c.entries[key]
	return sum, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, sum *Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = sum
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}
