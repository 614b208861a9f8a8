package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/model"
	"AutoTrader/internal/recorder"
)

// Report counts the outcome of one reconciliation pass.
type Report struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Reconciler resolves pending trades against the broker.
type Reconciler struct {
	broker broker.Broker
	store  recorder.Store
	log    zerolog.Logger
}

func New(b broker.Broker, store recorder.Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{broker: b, store: store, log: log.With().Str("component", "reconciler").Logger()}
}

// Reconcile checks every pending trade with an order id. A failure on one
// trade is logged and counted; the rest of the batch still runs. Only
// listing pending trades can fail the whole pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	trades, err := r.store.PendingTrades(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending trades: %w", err)
	}

	for _, t := range trades {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		updated, err := r.reconcileOne(ctx, t)
		if err != nil {
			rep.Failed++
			r.log.Warn().Err(err).Int64("trade_id", t.ID).Str("order_id", t.OrderID).Msg("reconcile trade failed")
			continue
		}
		if updated {
			rep.Updated++
		}
	}

	if rep.Checked > 0 {
		r.log.Info().Int("checked", rep.Checked).Int("updated", rep.Updated).Int("failed", rep.Failed).Msg("reconciliation complete")
	}
	return rep, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, t model.Trade) (bool, error) {
	order, err := r.broker.GetOrder(ctx, t.OrderID)
	if err != nil {
		return false, err
	}
	status := broker.MapOrderStatus(order.Status)
	if status == model.TradePending {
		return false, nil
	}

	upd := recorder.TradeUpdate{Status: status, Price: order.FilledAvgPrice}
	if status == model.TradeFilled {
		filledAt := time.Now()
		if order.FilledAt != nil {
			filledAt = *order.FilledAt
		}
		upd.FilledAt = &filledAt
	}
	if err := r.store.UpdateTrade(ctx, t.ID, upd); err != nil {
		return false, err
	}
	if status == model.TradeFilled && t.SignalID != nil {
		if err := r.store.MarkSignalExecuted(ctx, *t.SignalID, t.OrderID); err != nil {
			return true, fmt.Errorf("trade updated but signal not marked: %w", err)
		}
	}
	r.log.Info().Int64("trade_id", t.ID).Str("order_id", t.OrderID).Str("status", string(status)).Msg("trade resolved")
	return true, nil
}
