package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"AutoTrader/internal/collector"
)

// DefaultPriceEstimate is used when the feed cannot price the symbol.
const DefaultPriceEstimate = 100.0

type SizerConfig struct {
	BasePercent       float64       // fraction of available funds when on track
	AggressivePercent float64       // fraction when behind the growth target
	ProgressThreshold float64       // progress (%) below which sizing turns aggressive
	DefaultPrice      float64       // fallback price
	PriceLookback     time.Duration // window searched for the latest close
}

var DefaultSizerConfig = SizerConfig{
	BasePercent:       0.10,
	AggressivePercent: 0.20,
	ProgressThreshold: 80,
	DefaultPrice:      DefaultPriceEstimate,
	PriceLookback:     7 * 24 * time.Hour,
}

// Funds are the account figures sizing is based on.
type Funds struct {
	AccountValue float64
	BuyingPower  float64
	Cash         float64
}

// Available is the larger of buying power and cash.
func (f Funds) Available() float64 {
	return math.Max(f.BuyingPower, f.Cash)
}

// Sizer computes order quantities.
type Sizer struct {
	feed collector.PriceFeed
	cfg  SizerConfig
	log  zerolog.Logger
}

func NewSizer(feed collector.PriceFeed, cfg SizerConfig, log zerolog.Logger) *Sizer {
	if cfg.DefaultPrice <= 0 {
		cfg.DefaultPrice = DefaultPriceEstimate
	}
	if cfg.PriceLookback <= 0 {
		cfg.PriceLookback = DefaultSizerConfig.PriceLookback
	}
	return &Sizer{feed: feed, cfg: cfg, log: log.With().Str("component", "sizer").Logger()}
}

// LatestPrice returns the most recent close from the feed.
func (s *Sizer) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := collector.LatestClose(ctx, s.feed, symbol, s.cfg.PriceLookback)
	if err != nil {
		return 0, err
	}
	if price <= 0 || math.IsNaN(price) {
		return 0, fmt.Errorf("invalid price %v for %s", price, symbol)
	}
	return price, nil
}

// SizePercent picks the fraction of available funds to commit. A nil
// progress counts as on track.
func (s *Sizer) SizePercent(progress *float64) float64 {
	p := 100.0
	if progress != nil {
		p = *progress
	}
	if p < s.cfg.ProgressThreshold {
		return s.cfg.AggressivePercent
	}
	return s.cfg.BasePercent
}

// Size returns the whole-share quantity to order, never less than 1.
func (s *Sizer) Size(ctx context.Context, symbol string, funds Funds, progress *float64) int {
	price, err := s.LatestPrice(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Float64("fallback", s.cfg.DefaultPrice).Msg("price unavailable, using estimate")
		price = s.cfg.DefaultPrice
	}
	return Quantity(funds.Available(), s.SizePercent(progress), price)
}

// Quantity is floor(available*pct/price) with a floor of one share.
func Quantity(available, pct, price float64) int {
	if price <= 0 {
		return 1
	}
	qty := int(math.Floor(available * pct / price))
	if qty < 1 {
		return 1
	}
	return qty
}
