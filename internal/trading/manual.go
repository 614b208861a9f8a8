package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/executor"
	"AutoTrader/internal/lock"
	"AutoTrader/internal/model"
	"AutoTrader/internal/risk"
)

// ManualRequest places an order for a signal chosen outside the cycle, for
// example from the dashboard. Quantity 0 sizes the order like a cycle does.
type ManualRequest struct {
	Symbol   string
	Signal   model.SignalType
	Quantity int
	SignalID *int64
}

// ExecuteSignal runs req through the same lock, gate and executor as an
// auto-executed cycle, skipping analysis. No new signal is stored; when
// SignalID is set, a filled order marks that signal executed.
func (e *Engine) ExecuteSignal(ctx context.Context, req ManualRequest) Result {
	start := time.Now()
	symbol := NormalizeSymbol(req.Symbol)
	res := Result{Symbol: symbol, Signal: req.Signal}
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

	log := e.log.With().Str("symbol", symbol).Str("signal", string(req.Signal)).Logger()
	fail := func(err error) Result {
		log.Error().Err(err).Msg("manual execution failed")
		e.Metrics.RecordError("manual")
		res.Error = err.Error()
		res.Message = "Error: " + err.Error()
		return res
	}

	clock, err := e.Broker.GetClock(ctx)
	if err != nil {
		return fail(fmt.Errorf("get clock: %w", err))
	}
	account, err := e.Broker.GetAccount(ctx)
	if err != nil {
		return fail(fmt.Errorf("get account: %w", err))
	}
	position, err := e.Broker.GetPosition(ctx, symbol)
	if errors.Is(err, broker.ErrPositionNotFound) {
		position, err = nil, nil
	}
	if err != nil {
		return fail(fmt.Errorf("get position: %w", err))
	}

	price, err := e.Sizer.LatestPrice(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Msg("no reference price")
	}
	res.Price = price

	decision := e.Gate.Evaluate(ctx, risk.Request{
		Symbol:      symbol,
		Signal:      req.Signal,
		AutoExecute: true,
		Clock:       *clock,
		Account:     *account,
		Position:    position,
	})
	res.Signal = decision.Signal
	res.NextOpen = decision.NextOpen
	if decision.Blocked != nil {
		decision.Blocked.SignalID = req.SignalID
		if err := e.Store.SaveTrade(ctx, decision.Blocked); err != nil {
			return fail(fmt.Errorf("save blocked trade: %w", err))
		}
		e.Metrics.RecordTrade(symbol, string(decision.Blocked.Status))
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

	qty := req.Quantity
	if qty <= 0 {
		var progress *float64
		if g, err := e.Growth.Evaluate(ctx, account.PortfolioValue); err == nil && g.Defined {
			res.Growth = &g
			p := g.Progress
			progress = &p
		}
		qty = e.Sizer.Size(ctx, symbol, risk.Funds{
			AccountValue: account.PortfolioValue,
			BuyingPower:  account.BuyingPower,
			Cash:         account.Cash,
		}, progress)
	}
	log.Info().Int("qty", qty).Bool("close_first", decision.CloseFirst).Msg("manual execution")

	out := e.Executor.Execute(ctx, executor.Request{
		Symbol:     symbol,
		Signal:     decision.Signal,
		Quantity:   qty,
		Price:      price,
		SignalID:   req.SignalID,
		CloseFirst: decision.CloseFirst,
		Position:   position,
		Account:    *account,
	})
	if out.Trade != nil {
		e.Metrics.RecordTrade(symbol, string(out.Trade.Status))
	}
	res.Executed = out.Executed
	res.Order = out.Order
	res.Trade = out.Trade
	res.Message = out.Message
	res.ExecuteError = out.ExecuteError
	if out.Err != nil {
		e.Metrics.RecordError("order")
		res.Success = false
		res.Error = out.Err.Error()
	}

	outcome := "manual"
	if res.Executed {
		outcome = "executed"
	}
	e.Metrics.RecordCycle(symbol, outcome, time.Since(start).Seconds())
	return res
}
