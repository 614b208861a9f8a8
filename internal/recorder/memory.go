package recorder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"AutoTrader/internal/model"
)

// MemoryStore keeps history in process memory. It is used when no database
// path is configured and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	signals   []model.Signal
	trades    []model.Trade
	snapshots []model.AccountSnapshot
	seq       int64

	// FailRecord, when set, makes RecordExecution fail without side effects.
	FailRecord error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) SaveSignal(_ context.Context, s *model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.nextID()
	s.Timestamp = stamp(s.Timestamp)
	m.signals = append(m.signals, *s)
	return nil
}

func (m *MemoryStore) MarkSignalExecuted(_ context.Context, id int64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markSignal(id, orderID)
}

func (m *MemoryStore) markSignal(id int64, orderID string) error {
	for i := range m.signals {
		if m.signals[i].ID == id {
			if m.signals[i].Executed {
				return nil
			}
			m.signals[i].Executed = true
			m.signals[i].OrderID = orderID
			return nil
		}
	}
	return fmt.Errorf("mark signal %d executed: %w", id, ErrNotFound)
}

func (m *MemoryStore) SaveTrade(_ context.Context, t *model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTrade(t)
}

func (m *MemoryStore) insertTrade(t *model.Trade) error {
	if t.OrderID != "" {
		for _, existing := range m.trades {
			if existing.OrderID == t.OrderID {
				return fmt.Errorf("insert trade %s: %w", t.OrderID, ErrDuplicateOrder)
			}
		}
	}
	t.ID = m.nextID()
	t.Timestamp = stamp(t.Timestamp)
	m.trades = append(m.trades, *t)
	return nil
}

func (m *MemoryStore) UpdateTrade(_ context.Context, id int64, u TradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.trades {
		t := &m.trades[i]
		if t.ID != id {
			continue
		}
		if t.Status != model.TradePending {
			return nil
		}
		t.Status = u.Status
		if u.FilledAt != nil {
			f := *u.FilledAt
			t.FilledAt = &f
		}
		if u.Price != nil {
			t.Price = *u.Price
			t.TotalValue = *u.Price * float64(t.Quantity)
		}
		return nil
	}
	return fmt.Errorf("update trade %d: %w", id, ErrNotFound)
}

func (m *MemoryStore) PendingTrades(_ context.Context) ([]model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Trade
	for _, t := range m.trades {
		if t.Status == model.TradePending && t.OrderID != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, s *model.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertSnapshot(s)
	return nil
}

func (m *MemoryStore) insertSnapshot(s *model.AccountSnapshot) {
	s.ID = m.nextID()
	s.Timestamp = stamp(s.Timestamp)
	m.snapshots = append(m.snapshots, *s)
}

func (m *MemoryStore) FirstSnapshot(_ context.Context) (*model.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return nil, ErrNotFound
	}
	first := m.snapshots[0]
	for _, s := range m.snapshots[1:] {
		if s.Timestamp.Before(first.Timestamp) {
			first = s
		}
	}
	return &first, nil
}

func (m *MemoryStore) RecordExecution(_ context.Context, t *model.Trade, snap *model.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRecord != nil {
		return m.FailRecord
	}
	if marksSignal(t) {
		found := false
		for _, s := range m.signals {
			if s.ID == *t.SignalID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("mark signal %d executed: %w", *t.SignalID, ErrNotFound)
		}
	}
	if err := m.insertTrade(t); err != nil {
		return err
	}
	if snap != nil {
		m.insertSnapshot(snap)
	}
	if marksSignal(t) {
		return m.markSignal(*t.SignalID, t.OrderID)
	}
	return nil
}

func matches(q Query, symbol string, ts time.Time) bool {
	if q.Symbol != "" && q.Symbol != symbol {
		return false
	}
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	return true
}

func (m *MemoryStore) ListSignals(_ context.Context, q Query) ([]model.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Signal
	for i := len(m.signals) - 1; i >= 0; i-- {
		s := m.signals[i]
		if !matches(q, s.Symbol, s.Timestamp) {
			continue
		}
		if q.Status != "" && string(s.Type) != strings.ToUpper(q.Status) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out[:limit(len(out), q.Limit)], nil
}

func (m *MemoryStore) ListTrades(_ context.Context, q Query) ([]model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if !matches(q, t.Symbol, t.Timestamp) {
			continue
		}
		if q.Status != "" && string(t.Status) != q.Status {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out[:limit(len(out), q.Limit)], nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, q Query) ([]model.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AccountSnapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		s := m.snapshots[i]
		if !q.Since.IsZero() && s.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out[:limit(len(out), q.Limit)], nil
}

func (m *MemoryStore) Statistics(_ context.Context, symbol string) (*Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Statistics{}
	tradeCounts := map[string]int{}
	for _, t := range m.trades {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		st.Trades.Total++
		if t.Status == model.TradeFilled {
			st.Trades.Filled++
		}
		tradeCounts[t.Symbol]++
		extend(&st.Trades.DateRange, t.Timestamp)
	}
	signalCounts := map[string]int{}
	for _, s := range m.signals {
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		st.Signals.Total++
		if s.Executed {
			st.Signals.Executed++
		}
		signalCounts[s.Symbol]++
		extend(&st.Signals.DateRange, s.Timestamp)
	}
	st.Trades.BySymbol = sortedCounts(tradeCounts)
	st.Signals.BySymbol = sortedCounts(signalCounts)
	st.Snapshots.Total = len(m.snapshots)
	return st, nil
}

func (m *MemoryStore) Performance(ctx context.Context, symbol string, since time.Time) (*Performance, error) {
	return performance(ctx, m, symbol, since)
}

func limit(n, lim int) int {
	if lim > 0 && lim < n {
		return lim
	}
	return n
}

func extend(dr *DateRange, ts time.Time) {
	if dr.Oldest == nil || ts.Before(*dr.Oldest) {
		t := ts
		dr.Oldest = &t
	}
	if dr.Newest == nil || ts.After(*dr.Newest) {
		t := ts
		dr.Newest = &t
	}
}

func sortedCounts(m map[string]int) []SymbolCount {
	out := make([]SymbolCount, 0, len(m))
	for sym, n := range m {
		out = append(out, SymbolCount{Symbol: sym, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
