package trade

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tidebot/pkg/exchange"
)

// MemoryStore is an in-memory Store used by paper mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]Trade
	clock  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades: make(map[string]Trade),
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Upsert(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Symbol = strings.ToUpper(strings.TrimSpace(cp.Symbol))
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}
	cp.UpdatedAt = s.clock()
	s.trades[cp.ID] = cp
	return nil
}

func (s *MemoryStore) OpenTrades(ctx context.Context) ([]Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trade
	for _, t := range s.trades {
		if t.IsOpen() {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) OpenBySymbol(ctx context.Context, symbol string) ([]Trade, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trade
	for _, t := range s.trades {
		if t.Symbol == symbol && t.IsOpen() {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trades {
		if t.ExchangeOrderID == exchangeOrderID {
			cp := t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Since(ctx context.Context, since time.Time, symbols []string) ([]Trade, error) {
	var filter map[string]bool
	if len(symbols) > 0 {
		filter = make(map[string]bool, len(symbols))
		for _, sym := range symbols {
			filter[strings.ToUpper(strings.TrimSpace(sym))] = true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trade
	for _, t := range s.trades {
		if t.CreatedAt.Before(since) {
			continue
		}
		if filter != nil && !filter[t.Symbol] {
			continue
		}
		out = append(out, t)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) MarkClosed(ctx context.Context, id string, profitLoss float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = exchange.StatusClosed
	t.ProfitLoss = &profitLoss
	t.UpdatedAt = s.clock()
	s.trades[id] = t
	return nil
}

func sortNewestFirst(trades []Trade) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].CreatedAt.After(trades[j].CreatedAt)
	})
}
