package executor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/model"
	"AutoTrader/internal/recorder"
)

type Config struct {
	PollMaxAttempts   int
	PollInterval      time.Duration
	BracketOrders     bool
	StopLossPercent   float64
	TakeProfitPercent float64
}

var DefaultConfig = Config{
	PollMaxAttempts:   10,
	PollInterval:      2 * time.Second,
	StopLossPercent:   0.03,
	TakeProfitPercent: 0.05,
}

// Request is an order the gate has already allowed.
type Request struct {
	Symbol     string
	Signal     model.SignalType
	Quantity   int
	Price      float64 // reference price, used when the broker reports no fill price
	SignalID   *int64
	CloseFirst bool
	Position   *model.Position // the position being closed when CloseFirst
	Account    model.Account   // pre-trade account, used if the post-trade read fails
}

// Outcome describes what happened. ExecuteError is set when the order
// reached the broker but follow-up work failed; Err when nothing was placed.
type Outcome struct {
	Executed     bool
	Order        *model.Order
	Trade        *model.Trade
	Message      string
	ExecuteError string
	Err          error
}

type Executor struct {
	broker broker.Broker
	store  recorder.Store
	cfg    Config
	log    zerolog.Logger
	newID  func() string
}

func New(b broker.Broker, store recorder.Store, cfg Config, log zerolog.Logger) *Executor {
	return &Executor{
		broker: b,
		store:  store,
		cfg:    cfg,
		log:    log.With().Str("component", "executor").Logger(),
		newID:  func() string { return uuid.NewString() },
	}
}

// Execute submits the order and records the outcome. It never panics and
// reports every failure through the Outcome.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	side := req.Signal.Side()
	if side == "" || req.Quantity < 1 {
		return Outcome{Err: fmt.Errorf("nothing to execute for %s %s qty %d", req.Symbol, req.Signal, req.Quantity)}
	}
	log := e.log.With().Str("symbol", req.Symbol).Str("side", string(side)).Int("qty", req.Quantity).Logger()

	var closeOrder *model.Order
	if req.CloseFirst {
		log.Info().Msg("closing opposite position first")
		co, err := e.broker.ClosePosition(ctx, req.Symbol)
		if err != nil {
			return e.reject(ctx, req, fmt.Errorf("close position: %w", err))
		}
		closeOrder = co
	}

	order, err := e.broker.CreateOrder(ctx, model.OrderRequest{
		Symbol:        req.Symbol,
		Qty:           req.Quantity,
		Side:          side,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: e.newID(),
	})
	if err != nil {
		if closeOrder != nil {
			closed := e.recordClose(ctx, req, closeOrder)
			out := e.reject(ctx, req, err)
			out.ExecuteError = fmt.Sprintf("position closed by order %s (%s) but new order failed", closeOrder.ID, closed.Status)
			return out
		}
		return e.reject(ctx, req, err)
	}
	log.Info().Str("order_id", order.ID).Str("status", order.Status).Msg("order submitted")

	out := Outcome{Order: order}
	var followUp []string

	if side == model.SideBuy && e.cfg.BracketOrders {
		e.placeExits(ctx, req, log)
	}

	final, err := e.awaitFinal(ctx, order)
	if err != nil {
		followUp = append(followUp, fmt.Sprintf("poll order: %v", err))
		log.Warn().Err(err).Str("order_id", order.ID).Msg("order status polling failed")
	}
	out.Order = final

	account := req.Account
	if a, err := e.broker.GetAccount(ctx); err != nil {
		followUp = append(followUp, fmt.Sprintf("get account: %v", err))
		log.Warn().Err(err).Msg("post-trade account read failed")
	} else {
		account = *a
	}

	trade := e.buildTrade(req, final, account)
	out.Trade = trade
	out.Executed = trade.Status == model.TradeFilled

	if err := e.store.RecordExecution(ctx, trade, model.SnapshotOf(account)); err != nil {
		followUp = append(followUp, fmt.Sprintf("record execution: %v", err))
		log.Error().Err(err).Str("order_id", final.ID).Msg("failed to record execution")
	}

	if len(followUp) > 0 {
		out.ExecuteError = strings.Join(followUp, "; ")
	}
	out.Message = fmt.Sprintf("%s order %s: %d shares of %s at $%.2f", req.Signal, trade.Status, req.Quantity, req.Symbol, trade.Price)
	log.Info().Str("order_id", final.ID).Str("status", string(trade.Status)).Float64("price", trade.Price).Msg("execution recorded")
	return out
}

// awaitFinal polls until the broker reports a terminal status, attempts run
// out, or ctx is done. The last order seen is always returned.
func (e *Executor) awaitFinal(ctx context.Context, order *model.Order) (*model.Order, error) {
	current := order
	for attempt := 0; attempt < e.cfg.PollMaxAttempts && !broker.IsTerminal(current.Status); attempt++ {
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
		next, err := e.broker.GetOrder(ctx, order.ID)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}

func (e *Executor) buildTrade(req Request, order *model.Order, account model.Account) *model.Trade {
	status := broker.MapOrderStatus(order.Status)
	price := req.Price
	if order.FilledAvgPrice != nil && *order.FilledAvgPrice > 0 {
		price = *order.FilledAvgPrice
	}
	t := &model.Trade{
		Timestamp:  time.Now(),
		Symbol:     req.Symbol,
		OrderID:    order.ID,
		Side:       req.Signal.Side(),
		Quantity:   req.Quantity,
		Price:      price,
		Status:     status,
		TotalValue: float64(req.Quantity) * price,
		SignalID:   req.SignalID,
	}
	if status == model.TradeFilled {
		filledAt := time.Now()
		if order.FilledAt != nil {
			filledAt = *order.FilledAt
		}
		t.FilledAt = &filledAt
		if req.CloseFirst && req.Position != nil {
			t.ProfitLoss, t.ProfitLossPercent = ClosedPnL(*req.Position, price)
		}
	}
	t.ApplyAccount(account)
	return t
}

// ClosedPnL is the realised P/L of closing pos at exit. Long positions gain
// when exit is above the average entry, short positions when below.
func ClosedPnL(pos model.Position, exit float64) (*float64, *float64) {
	qty := math.Abs(pos.Qty)
	basis := math.Abs(pos.CostBasis)
	if qty == 0 || basis == 0 {
		return nil, nil
	}
	avgEntry := basis / qty
	pl := (exit - avgEntry) * qty
	if pos.Qty < 0 {
		pl = (avgEntry - exit) * qty
	}
	pct := pl / basis * 100
	return &pl, &pct
}

func (e *Executor) placeExits(ctx context.Context, req Request, log zerolog.Logger) {
	if req.Price <= 0 {
		return
	}
	stop := req.Price * (1 - e.cfg.StopLossPercent)
	target := req.Price * (1 + e.cfg.TakeProfitPercent)
	exits := []model.OrderRequest{
		{Symbol: req.Symbol, Qty: req.Quantity, Side: model.SideSell, Type: "stop", TimeInForce: "gtc", StopPrice: &stop, ClientOrderID: e.newID()},
		{Symbol: req.Symbol, Qty: req.Quantity, Side: model.SideSell, Type: "limit", TimeInForce: "gtc", LimitPrice: &target, ClientOrderID: e.newID()},
	}
	for _, o := range exits {
		if _, err := e.broker.CreateOrder(ctx, o); err != nil {
			log.Warn().Err(err).Str("type", o.Type).Msg("failed to place exit order")
			return
		}
	}
	log.Info().Float64("stop", stop).Float64("target", target).Msg("stop-loss and take-profit orders placed")
}

// recordClose keeps an audit row for a position close whose follow-up order
// never went out. Pending closes are left for the reconciler.
func (e *Executor) recordClose(ctx context.Context, req Request, order *model.Order) *model.Trade {
	side := model.SideSell
	qty := req.Quantity
	if req.Position != nil {
		if req.Position.Qty < 0 {
			side = model.SideBuy
		}
		qty = int(math.Abs(req.Position.Qty))
	} else if req.Signal.Side() == model.SideSell {
		side = model.SideBuy
	}
	if order.Qty != 0 {
		qty = int(math.Abs(order.Qty))
	}
	if order.Side != "" {
		side = order.Side
	}

	status := broker.MapOrderStatus(order.Status)
	price := req.Price
	if order.FilledAvgPrice != nil && *order.FilledAvgPrice > 0 {
		price = *order.FilledAvgPrice
	}
	t := &model.Trade{
		Timestamp:  time.Now(),
		Symbol:     req.Symbol,
		OrderID:    order.ID,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Status:     status,
		TotalValue: float64(qty) * price,
	}
	if status == model.TradeFilled {
		filledAt := time.Now()
		if order.FilledAt != nil {
			filledAt = *order.FilledAt
		}
		t.FilledAt = &filledAt
		if req.Position != nil {
			t.ProfitLoss, t.ProfitLossPercent = ClosedPnL(*req.Position, price)
		}
	}
	t.ApplyAccount(req.Account)
	if err := e.store.SaveTrade(ctx, t); err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("failed to record close order")
	} else {
		e.log.Warn().Str("order_id", order.ID).Str("status", string(status)).Msg("recorded close order without follow-up")
	}
	return t
}

// reject records a trade for an order that never reached the broker.
func (e *Executor) reject(ctx context.Context, req Request, cause error) Outcome {
	e.log.Error().Err(cause).Str("symbol", req.Symbol).Msg("order submission failed")
	t := &model.Trade{
		Timestamp:       time.Now(),
		Symbol:          req.Symbol,
		Side:            req.Signal.Side(),
		Quantity:        req.Quantity,
		Price:           req.Price,
		Status:          model.TradeRejected,
		SignalID:        req.SignalID,
		RejectionReason: "Error: " + cause.Error(),
	}
	t.ApplyAccount(req.Account)
	if err := e.store.SaveTrade(ctx, t); err != nil {
		e.log.Error().Err(err).Str("symbol", req.Symbol).Msg("failed to record rejected trade")
	}
	return Outcome{Trade: t, Message: t.RejectionReason, Err: cause}
}
