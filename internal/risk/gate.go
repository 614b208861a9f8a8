package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"AutoTrader/internal/model"
)

// Market hours overrides.
const (
	OverrideNone        = ""
	OverrideForceClosed = "force_closed"
	OverrideBypass      = "bypass"
)

const (
	ReasonMarketClosed      = "Market is closed"
	ReasonDailyLoss         = "Daily loss limit reached"
	ReasonAlreadyLong       = "Already holding a long position"
	ReasonAlreadyShort      = "Already holding a short position"
	ReasonNoPosition        = "No position to sell"
	ReasonInsufficientFunds = "Insufficient funds"
	ReasonNoAction          = "No actionable signal"
)

type GateConfig struct {
	MarketHoursOverride   string
	DailyLossLimitPercent float64
	AllowShort            bool
}

var DefaultGateConfig = GateConfig{DailyLossLimitPercent: 0.05, AllowShort: true}

// Quoter prices a symbol for audit records.
type Quoter interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Request is everything the gate inspects. Position is nil when flat.
type Request struct {
	Symbol      string
	Signal      model.SignalType
	AutoExecute bool
	Clock       model.Clock
	Account     model.Account
	Position    *model.Position
}

// Decision is the gate outcome. Signal may differ from the requested signal
// when the daily loss limit forces HOLD. Blocked is the audit trade to record
// and is only set for auto-executed cycles.
type Decision struct {
	Allowed    bool
	Signal     model.SignalType
	Reason     string
	CloseFirst bool
	NextOpen   *time.Time
	Blocked    *model.Trade
}

// Gate runs the pre-trade checks in order and stops at the first failure.
type Gate struct {
	cfg    GateConfig
	quoter Quoter
	log    zerolog.Logger
}

func NewGate(cfg GateConfig, quoter Quoter, log zerolog.Logger) *Gate {
	return &Gate{cfg: cfg, quoter: quoter, log: log.With().Str("component", "gate").Logger()}
}

// Evaluate never returns an error; failures are reported in the Decision.
func (g *Gate) Evaluate(ctx context.Context, req Request) Decision {
	d := Decision{Signal: req.Signal}
	if req.Signal != model.SignalBuy && req.Signal != model.SignalSell {
		d.Reason = ReasonNoAction
		return d
	}

	if !g.marketOpen(req.Clock) {
		d.Reason = ReasonMarketClosed + " (market hours)"
		if !req.Clock.NextOpen.IsZero() {
			next := req.Clock.NextOpen
			d.NextOpen = &next
			d.Reason = fmt.Sprintf("%s. Next open: %s", d.Reason, next.Format(time.RFC3339))
		}
		return g.block(ctx, req, d)
	}

	a := req.Account
	if a.PortfolioValue < a.Equity-a.PortfolioValue*g.cfg.DailyLossLimitPercent {
		g.log.Warn().Str("symbol", req.Symbol).Float64("portfolio", a.PortfolioValue).Float64("equity", a.Equity).
			Msg("daily loss limit reached, holding")
		d.Signal = model.SignalHold
		d.Reason = ReasonDailyLoss
		return g.block(ctx, req, d)
	}

	qty := 0.0
	if req.Position != nil {
		qty = req.Position.Qty
	}
	switch {
	case req.Signal == model.SignalBuy && qty > 0:
		d.Reason = fmt.Sprintf("%s in %s", ReasonAlreadyLong, req.Symbol)
		return g.block(ctx, req, d)
	case req.Signal == model.SignalSell && qty < 0:
		d.Reason = fmt.Sprintf("%s in %s", ReasonAlreadyShort, req.Symbol)
		return g.block(ctx, req, d)
	case req.Signal == model.SignalBuy && qty < 0, req.Signal == model.SignalSell && qty > 0:
		d.CloseFirst = true
	case req.Signal == model.SignalSell && qty == 0 && !g.cfg.AllowShort:
		d.Reason = ReasonNoPosition
		return g.block(ctx, req, d)
	}

	if (Funds{BuyingPower: a.BuyingPower, Cash: a.Cash}).Available() <= 0 {
		d.CloseFirst = false
		d.Reason = ReasonInsufficientFunds
		return g.block(ctx, req, d)
	}

	d.Allowed = true
	return d
}

func (g *Gate) marketOpen(c model.Clock) bool {
	switch strings.ToLower(g.cfg.MarketHoursOverride) {
	case OverrideBypass:
		return true
	case OverrideForceClosed:
		return false
	default:
		return c.IsOpen
	}
}

func (g *Gate) block(ctx context.Context, req Request, d Decision) Decision {
	g.log.Info().Str("symbol", req.Symbol).Str("signal", string(req.Signal)).Str("reason", d.Reason).Msg("trade blocked")
	if !req.AutoExecute {
		return d
	}
	price := 0.0
	if g.quoter != nil {
		if p, err := g.quoter.LatestPrice(ctx, req.Symbol); err == nil {
			price = p
		} else {
			g.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("price unavailable for blocked trade")
		}
	}
	t := &model.Trade{
		Timestamp:       time.Now(),
		Symbol:          req.Symbol,
		Side:            req.Signal.Side(),
		Price:           price,
		Status:          model.TradeBlocked,
		RejectionReason: d.Reason,
	}
	t.ApplyAccount(req.Account)
	d.Blocked = t
	return d
}

// ValidOverride reports whether s is a recognised market hours override.
func ValidOverride(s string) bool {
	switch strings.ToLower(s) {
	case OverrideNone, OverrideForceClosed, OverrideBypass:
		return true
	}
	return false
}
