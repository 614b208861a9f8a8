package collector

import (
	"context"
	"sync"
	"time"

	"AutoTrader/internal/model"
)

// StaticFeed returns fixed data for development and testing.
type StaticFeed struct {
	mu   sync.Mutex
	bars map[string][]model.PriceBar
	// Err, when set, is returned by every fetch.
	Err error
}

// NewStaticFeed creates an empty StaticFeed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{bars: make(map[string][]model.PriceBar)}
}

func (s *StaticFeed) Name() string { return "static" }

// SetCloses stores closes for symbol as consecutive daily bars ending today.
func (s *StaticFeed) SetCloses(symbol string, closes []float64) {
	s.SetBars(symbol, BarsFromCloses(closes, time.Now()))
}

// SetBars stores bars for symbol.
func (s *StaticFeed) SetBars(symbol string, bars []model.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

func (s *StaticFeed) FetchHistoricalCloses(_ context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PriceBar, 0, len(s.bars[symbol]))
	for _, b := range s.bars[symbol] {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// BarsFromCloses lays closes out one day apart with the last bar at `last`.
func BarsFromCloses(closes []float64, last time.Time) []model.PriceBar {
	n := len(closes)
	bars := make([]model.PriceBar, n)
	for i, c := range closes {
		bars[i] = model.PriceBar{Time: last.AddDate(0, 0, -(n - 1 - i)), Close: c}
	}
	return bars
}
