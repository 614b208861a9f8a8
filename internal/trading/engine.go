package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/calculator"
	"AutoTrader/internal/collector"
	"AutoTrader/internal/executor"
	"AutoTrader/internal/lock"
	"AutoTrader/internal/metrics"
	"AutoTrader/internal/model"
	"AutoTrader/internal/recorder"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/strategy"
)

const (
	MsgNoMarketData      = "No market data available"
	MsgInsufficientData  = "Insufficient data to calculate indicators"
	MsgAnalysisOnly      = "Analysis only, auto-execute disabled"
	DefaultHistoryMonths = 6
)

// Metrics receives cycle telemetry.
type Metrics interface {
	RecordCycle(symbol, outcome string, seconds float64)
	RecordSignal(symbol, signal string)
	RecordTrade(symbol, status string)
	RecordError(kind string)
	RecordIndicators(symbol string, rsi, macd, signal, histogram float64)
	RecordProgress(percent float64)
}

// Listener is told about every finished cycle.
type Listener interface {
	OnCycle(ctx context.Context, res Result)
}

// Request starts one decision cycle.
type Request struct {
	Symbol      string `json:"symbol"`
	AutoExecute bool   `json:"autoExecute"`
}

// Result is the outcome of one cycle. Recoverable outcomes such as a closed
// market are reported with Success true and a Message.
type Result struct {
	Success      bool              `json:"success"`
	Symbol       string            `json:"symbol"`
	Signal       model.SignalType  `json:"signal,omitempty"`
	Indicators   *model.Indicators `json:"indicators,omitempty"`
	Price        float64           `json:"price,omitempty"`
	Executed     bool              `json:"executed"`
	Order        *model.Order      `json:"order,omitempty"`
	Trade        *model.Trade      `json:"trade,omitempty"`
	Growth       *risk.Growth      `json:"growth,omitempty"`
	Message      string            `json:"message,omitempty"`
	ExecuteError string            `json:"executeError,omitempty"`
	NextOpen     *time.Time        `json:"nextOpen,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Broker     broker.Broker
	Feed       collector.PriceFeed
	Indicators *calculator.Engine
	Strategy   strategy.Strategy
	Sizer      *risk.Sizer
	Growth     *risk.GrowthTracker
	Gate       *risk.Gate
	Executor   *executor.Executor
	Store      recorder.Store
	Locker     lock.Locker
	Metrics    Metrics
}

// Engine runs decision cycles.
type Engine struct {
	Deps
	historyMonths int
	listeners     []Listener
	log           zerolog.Logger
}

func NewEngine(d Deps, historyMonths int, log zerolog.Logger) *Engine {
	if historyMonths <= 0 {
		historyMonths = DefaultHistoryMonths
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	return &Engine{Deps: d, historyMonths: historyMonths, log: log.With().Str("component", "engine").Logger()}
}

// AddListener registers l for cycle results.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Run executes one cycle for req.Symbol. Only one cycle per symbol runs at
// a time; a concurrent call returns immediately with lock.ErrLocked.
func (e *Engine) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	symbol := NormalizeSymbol(req.Symbol)
	res := Result{Symbol: symbol}
	if symbol == "" {
		res.Error = "symbol is required"
		res.Message = res.Error
		return res
	}

	release, err := e.Locker.Acquire(ctx, symbol)
	if err != nil {
		res.Error = err.Error()
		res.Message = err.Error()
		if errors.Is(err, lock.ErrLocked) {
			res.Message = lock.ErrLocked.Error()
		}
		e.Metrics.RecordCycle(symbol, "locked", time.Since(start).Seconds())
		return res
	}
	defer release()

	c := &cycle{Engine: e, req: req, symbol: symbol, log: e.log.With().Str("symbol", symbol).Logger()}
	res = c.run(ctx)

	outcome := "ok"
	switch {
	case res.Error != "":
		outcome = "error"
	case res.Executed:
		outcome = "executed"
	}
	e.Metrics.RecordCycle(symbol, outcome, time.Since(start).Seconds())
	for _, l := range e.listeners {
		l.OnCycle(ctx, res)
	}
	return res
}

// Progress reports account progress toward the growth target using the
// current broker portfolio value.
func (e *Engine) Progress(ctx context.Context) (risk.Growth, error) {
	account, err := e.Broker.GetAccount(ctx)
	if err != nil {
		return risk.Growth{}, fmt.Errorf("get account: %w", err)
	}
	g, err := e.Growth.Evaluate(ctx, account.PortfolioValue)
	if err != nil {
		return risk.Growth{}, fmt.Errorf("evaluate growth: %w", err)
	}
	e.Metrics.RecordProgress(g.Progress)
	return g, nil
}

// cycle carries the state one decision cycle salvages along the way, so a
// fatal error can still leave an audit record.
type cycle struct {
	*Engine
	req     Request
	symbol  string
	signal  model.SignalType
	price   float64
	account *model.Account
	sigID   *int64
	log     zerolog.Logger
}

func (c *cycle) run(ctx context.Context) Result {
	res := Result{Symbol: c.symbol}

	clock, err := c.Broker.GetClock(ctx)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("get clock: %w", err))
	}
	if !clock.IsOpen && !clock.NextOpen.IsZero() {
		next := clock.NextOpen
		res.NextOpen = &next
	}

	end := time.Now()
	bars, err := c.Feed.FetchHistoricalCloses(ctx, c.symbol, end.AddDate(0, -c.historyMonths, 0), end)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("fetch price history: %w", err))
	}
	if len(bars) == 0 {
		c.log.Warn().Msg("no market data")
		res.Message = MsgNoMarketData
		return res
	}
	closes := model.Closes(bars)
	c.price = closes[len(closes)-1]
	res.Price = c.price

	ind, ok := c.Indicators.Compute(closes)
	if !ok {
		c.log.Warn().Int("bars", len(closes)).Int("required", c.Indicators.Config().MinBars()).Msg("insufficient data")
		res.Message = MsgInsufficientData
		return res
	}
	res.Indicators = &ind
	c.Metrics.RecordIndicators(c.symbol, ind.RSI, ind.MACD, ind.MACDSignal, ind.MACDHistogram)

	c.signal = c.Strategy.Classify(ind)
	res.Signal = c.signal
	c.log.Info().Str("signal", string(c.signal)).Float64("rsi", ind.RSI).Float64("macd", ind.MACD).
		Float64("macd_signal", ind.MACDSignal).Float64("price", c.price).Msg("signal classified")

	account, err := c.Broker.GetAccount(ctx)
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("get account: %w", err))
	}
	c.account = account

	position, err := c.Broker.GetPosition(ctx, c.symbol)
	if errors.Is(err, broker.ErrPositionNotFound) {
		position, err = nil, nil
	}
	if err != nil {
		return c.fail(ctx, res, fmt.Errorf("get position: %w", err))
	}

	growth, err := c.Growth.Evaluate(ctx, account.PortfolioValue)
	var progress *float64
	if err != nil {
		c.log.Warn().Err(err).Msg("growth unavailable, sizing as on track")
	} else {
		res.Growth = &growth
		c.Metrics.RecordProgress(growth.Progress)
		if growth.Defined {
			p := growth.Progress
			progress = &p
		}
	}

	decision := c.Gate.Evaluate(ctx, risk.Request{
		Symbol:      c.symbol,
		Signal:      c.signal,
		AutoExecute: c.req.AutoExecute,
		Clock:       *clock,
		Account:     *account,
		Position:    position,
	})
	c.signal = decision.Signal
	res.Signal = decision.Signal
	if decision.NextOpen != nil {
		res.NextOpen = decision.NextOpen
	}

	sig := model.NewSignal(c.symbol, decision.Signal, c.price, ind)
	if err := c.Store.SaveSignal(ctx, sig); err != nil {
		return c.fail(ctx, res, fmt.Errorf("save signal: %w", err))
	}
	c.sigID = &sig.ID
	c.Metrics.RecordSignal(c.symbol, string(sig.Type))

	if err := c.Store.SaveSnapshot(ctx, model.SnapshotOf(*account)); err != nil {
		return c.fail(ctx, res, fmt.Errorf("save snapshot: %w", err))
	}

	if decision.Blocked != nil {
		decision.Blocked.SignalID = c.sigID
		if err := c.Store.SaveTrade(ctx, decision.Blocked); err != nil {
			return c.fail(ctx, res, fmt.Errorf("save blocked trade: %w", err))
		}
		c.Metrics.RecordTrade(c.symbol, string(decision.Blocked.Status))
		res.Trade = decision.Blocked
	}

	res.Success = true
	if !decision.Allowed {
		res.Message = decision.Reason
		if decision.Reason == risk.ReasonNoAction {
			res.Message = fmt.Sprintf("%s signal, no action taken", decision.Signal)
		}
		return res
	}
	if !c.req.AutoExecute {
		res.Message = MsgAnalysisOnly
		return res
	}

	qty := c.Sizer.Size(ctx, c.symbol, risk.Funds{
		AccountValue: account.PortfolioValue,
		BuyingPower:  account.BuyingPower,
		Cash:         account.Cash,
	}, progress)
	c.log.Info().Int("qty", qty).Bool("close_first", decision.CloseFirst).Msg("executing")

	out := c.Executor.Execute(ctx, executor.Request{
		Symbol:     c.symbol,
		Signal:     decision.Signal,
		Quantity:   qty,
		Price:      c.price,
		SignalID:   c.sigID,
		CloseFirst: decision.CloseFirst,
		Position:   position,
		Account:    *account,
	})
	if out.Trade != nil {
		c.Metrics.RecordTrade(c.symbol, string(out.Trade.Status))
	}
	res.Executed = out.Executed
	res.Order = out.Order
	res.Trade = out.Trade
	res.Message = out.Message
	res.ExecuteError = out.ExecuteError
	if out.Err != nil {
		c.Metrics.RecordError("order")
		res.Success = false
		res.Error = out.Err.Error()
	}
	return res
}

// fail converts a fatal error into a failed result. Once a BUY or SELL has
// been classified for an auto-executed cycle, a rejected trade is recorded
// with whatever account and price data the cycle had.
func (c *cycle) fail(ctx context.Context, res Result, err error) Result {
	c.log.Error().Err(err).Msg("cycle failed")
	c.Metrics.RecordError("cycle")
	res.Success = false
	res.Error = err.Error()
	res.Message = "Error: " + err.Error()

	side := c.signal.Side()
	if !c.req.AutoExecute || side == "" {
		return res
	}
	t := &model.Trade{
		Timestamp:       time.Now(),
		Symbol:          c.symbol,
		Side:            side,
		Price:           c.price,
		Status:          model.TradeRejected,
		SignalID:        c.sigID,
		RejectionReason: "Error: " + err.Error(),
	}
	if c.account != nil {
		t.ApplyAccount(*c.account)
	}
	if serr := c.Store.SaveTrade(ctx, t); serr != nil {
		c.log.Error().Err(serr).Msg("failed to record rejected trade")
		return res
	}
	c.Metrics.RecordTrade(c.symbol, string(t.Status))
	res.Trade = t
	return res
}
