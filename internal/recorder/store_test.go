package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"AutoTrader/internal/model"
)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"), zerolog.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func float(v float64) *float64 { return &v }

func TestSignalLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sig := model.NewSignal("SPY", model.SignalBuy, 450.5, model.Indicators{RSI: 30, MACD: 1, MACDSignal: 0.5, MACDHistogram: 0.5})
		if err := s.SaveSignal(ctx, sig); err != nil {
			t.Fatalf("save signal: %v", err)
		}
		if sig.ID == 0 {
			t.Fatal("expected signal id assigned")
		}
		if err := s.MarkSignalExecuted(ctx, sig.ID, "ord-1"); err != nil {
			t.Fatalf("mark executed: %v", err)
		}
		if err := s.MarkSignalExecuted(ctx, 9999, "ord-x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown signal, got %v", err)
		}

		got, err := s.ListSignals(ctx, Query{Symbol: "SPY"})
		if err != nil {
			t.Fatalf("list signals: %v", err)
		}
		if len(got) != 1 || !got[0].Executed || got[0].OrderID != "ord-1" || got[0].Type != model.SignalBuy {
			t.Errorf("unexpected signals: %+v", got)
		}
		if got[0].RSI != 30 || got[0].ClosePrice != 450.5 {
			t.Errorf("indicator values not persisted: %+v", got[0])
		}
	})
}

func TestTradeOrderIDSparseUnique(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			blocked := &model.Trade{Symbol: "SPY", Side: model.SideBuy, Status: model.TradeBlocked, RejectionReason: "Market is closed"}
			if err := s.SaveTrade(ctx, blocked); err != nil {
				t.Fatalf("save trade without order id: %v", err)
			}
		}
		first := &model.Trade{Symbol: "SPY", OrderID: "ord-1", Side: model.SideBuy, Quantity: 1, Status: model.TradePending}
		if err := s.SaveTrade(ctx, first); err != nil {
			t.Fatalf("save trade: %v", err)
		}
		dup := &model.Trade{Symbol: "SPY", OrderID: "ord-1", Side: model.SideBuy, Quantity: 1, Status: model.TradePending}
		if err := s.SaveTrade(ctx, dup); !errors.Is(err, ErrDuplicateOrder) {
			t.Errorf("expected ErrDuplicateOrder, got %v", err)
		}
	})
}

func TestPendingTradesAndUpdate(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		pending := &model.Trade{Symbol: "SPY", OrderID: "ord-1", Side: model.SideBuy, Quantity: 2, Price: 100, Status: model.TradePending}
		noOrder := &model.Trade{Symbol: "SPY", Side: model.SideBuy, Status: model.TradePending}
		filled := &model.Trade{Symbol: "SPY", OrderID: "ord-2", Side: model.SideSell, Quantity: 1, Status: model.TradeFilled}
		for _, tr := range []*model.Trade{pending, noOrder, filled} {
			if err := s.SaveTrade(ctx, tr); err != nil {
				t.Fatalf("save trade: %v", err)
			}
		}

		got, err := s.PendingTrades(ctx)
		if err != nil {
			t.Fatalf("pending trades: %v", err)
		}
		if len(got) != 1 || got[0].OrderID != "ord-1" {
			t.Fatalf("expected only ord-1 pending, got %+v", got)
		}

		now := time.Now()
		if err := s.UpdateTrade(ctx, pending.ID, TradeUpdate{Status: model.TradeFilled, FilledAt: &now, Price: float(101)}); err != nil {
			t.Fatalf("update trade: %v", err)
		}
		got, _ = s.PendingTrades(ctx)
		if len(got) != 0 {
			t.Errorf("expected no pending trades after update, got %d", len(got))
		}
		trades, _ := s.ListTrades(ctx, Query{Status: string(model.TradeFilled)})
		var updated *model.Trade
		for i := range trades {
			if trades[i].ID == pending.ID {
				updated = &trades[i]
			}
		}
		if updated == nil {
			t.Fatal("updated trade not listed as filled")
		}
		if updated.Price != 101 || updated.TotalValue != 202 || updated.FilledAt == nil {
			t.Errorf("unexpected updated trade: %+v", updated)
		}
		if err := s.UpdateTrade(ctx, 9999, TradeUpdate{Status: model.TradeFilled}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdatesOnlyTouchUnsettledRows(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := &model.Trade{Symbol: "SPY", OrderID: "ord-1", Side: model.SideBuy, Quantity: 2, Price: 100, Status: model.TradePending}
		if err := s.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("save trade: %v", err)
		}
		filledAt := time.Now()
		if err := s.UpdateTrade(ctx, tr.ID, TradeUpdate{Status: model.TradeFilled, FilledAt: &filledAt, Price: float(101)}); err != nil {
			t.Fatalf("first update: %v", err)
		}
		// a late cancel for a filled trade is dropped
		if err := s.UpdateTrade(ctx, tr.ID, TradeUpdate{Status: model.TradeCancelled, Price: float(1)}); err != nil {
			t.Fatalf("second update should be a no-op, got %v", err)
		}
		trades, _ := s.ListTrades(ctx, Query{})
		if len(trades) != 1 || trades[0].Status != model.TradeFilled || trades[0].Price != 101 {
			t.Errorf("settled trade was overwritten: %+v", trades)
		}

		sig := model.NewSignal("SPY", model.SignalBuy, 100, model.Indicators{})
		if err := s.SaveSignal(ctx, sig); err != nil {
			t.Fatalf("save signal: %v", err)
		}
		if err := s.MarkSignalExecuted(ctx, sig.ID, "ord-1"); err != nil {
			t.Fatalf("mark executed: %v", err)
		}
		if err := s.MarkSignalExecuted(ctx, sig.ID, "ord-2"); err != nil {
			t.Fatalf("second mark should be a no-op, got %v", err)
		}
		sigs, _ := s.ListSignals(ctx, Query{})
		if len(sigs) != 1 || sigs[0].OrderID != "ord-1" {
			t.Errorf("expected signal to keep its first order id, got %+v", sigs)
		}
	})
}

func TestFirstSnapshot(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.FirstSnapshot(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on empty store, got %v", err)
		}
		old := &model.AccountSnapshot{Timestamp: time.Now().Add(-48 * time.Hour), PortfolioValue: 5000, Equity: 5000, AccountStatus: "ACTIVE"}
		recent := &model.AccountSnapshot{Timestamp: time.Now(), PortfolioValue: 6000, Equity: 6000, AccountStatus: "ACTIVE"}
		s.SaveSnapshot(ctx, recent)
		s.SaveSnapshot(ctx, old)

		first, err := s.FirstSnapshot(ctx)
		if err != nil {
			t.Fatalf("first snapshot: %v", err)
		}
		if first.PortfolioValue != 5000 {
			t.Errorf("expected earliest snapshot 5000, got %v", first.PortfolioValue)
		}
		list, _ := s.ListSnapshots(ctx, Query{Limit: 1})
		if len(list) != 1 || list[0].PortfolioValue != 6000 {
			t.Errorf("expected newest snapshot first, got %+v", list)
		}
	})
}

func TestRecordExecution(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sig := model.NewSignal("SPY", model.SignalBuy, 100, model.Indicators{})
		s.SaveSignal(ctx, sig)

		now := time.Now()
		trade := &model.Trade{
			Symbol: "SPY", OrderID: "ord-1", Side: model.SideBuy, Quantity: 3, Price: 100,
			Status: model.TradeFilled, FilledAt: &now, TotalValue: 300, SignalID: &sig.ID,
			ProfitLoss: float(12.5), ProfitLossPercent: float(2.5),
		}
		snap := model.SnapshotOf(model.Account{PortfolioValue: 9700, Cash: 9700, BuyingPower: 9700, Equity: 10000})
		if err := s.RecordExecution(ctx, trade, snap); err != nil {
			t.Fatalf("record execution: %v", err)
		}
		if trade.ID == 0 || snap.ID == 0 {
			t.Error("expected ids assigned")
		}

		sigs, _ := s.ListSignals(ctx, Query{})
		if !sigs[0].Executed || sigs[0].OrderID != "ord-1" {
			t.Errorf("expected signal marked executed, got %+v", sigs[0])
		}
		trades, _ := s.ListTrades(ctx, Query{Symbol: "SPY"})
		if len(trades) != 1 || trades[0].ProfitLoss == nil || *trades[0].ProfitLoss != 12.5 || *trades[0].SignalID != sig.ID {
			t.Errorf("unexpected stored trade: %+v", trades)
		}
	})
}

func TestRecordExecution_RollsBackOnFailure(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		missing := int64(4242)
		trade := &model.Trade{Symbol: "SPY", OrderID: "ord-9", Side: model.SideBuy, Quantity: 1, Status: model.TradeFilled, SignalID: &missing}
		snap := model.SnapshotOf(model.Account{PortfolioValue: 1})
		if err := s.RecordExecution(ctx, trade, snap); err == nil {
			t.Fatal("expected failure for unknown signal")
		}
		trades, _ := s.ListTrades(ctx, Query{})
		snaps, _ := s.ListSnapshots(ctx, Query{})
		if len(trades) != 0 || len(snaps) != 0 {
			t.Errorf("expected nothing persisted, got %d trades %d snapshots", len(trades), len(snaps))
		}
	})
}

func TestPendingExecutionDoesNotMarkSignal(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sig := model.NewSignal("SPY", model.SignalSell, 100, model.Indicators{})
		s.SaveSignal(ctx, sig)
		trade := &model.Trade{Symbol: "SPY", OrderID: "ord-1", Side: model.SideSell, Quantity: 1, Status: model.TradePending, SignalID: &sig.ID}
		if err := s.RecordExecution(ctx, trade, nil); err != nil {
			t.Fatalf("record execution: %v", err)
		}
		sigs, _ := s.ListSignals(ctx, Query{})
		if sigs[0].Executed {
			t.Error("pending trade must not mark the signal executed")
		}
	})
}

func TestStatistics(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, sym := range []string{"SPY", "SPY", "QQQ"} {
			s.SaveSignal(ctx, model.NewSignal(sym, model.SignalHold, 1, model.Indicators{}))
		}
		s.SaveTrade(ctx, &model.Trade{Symbol: "SPY", OrderID: "a", Side: model.SideBuy, Status: model.TradeFilled})
		s.SaveTrade(ctx, &model.Trade{Symbol: "SPY", Side: model.SideBuy, Status: model.TradeBlocked})
		s.SaveTrade(ctx, &model.Trade{Symbol: "QQQ", OrderID: "b", Side: model.SideSell, Status: model.TradePending})
		s.SaveSnapshot(ctx, model.SnapshotOf(model.Account{PortfolioValue: 1}))

		st, err := s.Statistics(ctx, "")
		if err != nil {
			t.Fatalf("statistics: %v", err)
		}
		if st.Trades.Total != 3 || st.Trades.Filled != 1 || st.Signals.Total != 3 || st.Snapshots.Total != 1 {
			t.Errorf("unexpected totals: %+v", st)
		}
		if len(st.Trades.BySymbol) != 2 || st.Trades.BySymbol[0].Symbol != "SPY" || st.Trades.BySymbol[0].Count != 2 {
			t.Errorf("unexpected bySymbol: %+v", st.Trades.BySymbol)
		}
		if st.Trades.DateRange.Oldest == nil || st.Trades.DateRange.Newest == nil {
			t.Error("expected trade date range")
		}

		st, _ = s.Statistics(ctx, "QQQ")
		if st.Trades.Total != 1 || st.Signals.Total != 1 {
			t.Errorf("expected symbol filter applied, got %+v", st)
		}
	})
}

func TestPerformance(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().Add(-10 * 24 * time.Hour)
		at := func(days int) time.Time { return base.Add(time.Duration(days) * 24 * time.Hour) }

		trades := []*model.Trade{
			{Timestamp: at(1), Symbol: "SPY", OrderID: "o1", Side: model.SideBuy, Quantity: 2, Price: 100, Status: model.TradeFilled},
			{Timestamp: at(2), Symbol: "SPY", OrderID: "o2", Side: model.SideSell, Quantity: 2, Price: 110, Status: model.TradeFilled},
			{Timestamp: at(3), Symbol: "SPY", OrderID: "o3", Side: model.SideBuy, Quantity: 1, Price: 120, Status: model.TradeFilled},
			{Timestamp: at(4), Symbol: "SPY", OrderID: "o4", Side: model.SideSell, Quantity: 1, Price: 115, Status: model.TradeFilled},
			{Timestamp: at(5), Symbol: "QQQ", OrderID: "o5", Side: model.SideSell, Quantity: 1, Price: 300, Status: model.TradeFilled},
			{Timestamp: at(5), Symbol: "SPY", Side: model.SideBuy, Quantity: 1, Status: model.TradeBlocked},
		}
		for _, tr := range trades {
			if err := s.SaveTrade(ctx, tr); err != nil {
				t.Fatalf("save trade: %v", err)
			}
		}
		sigs := []*model.Signal{
			{Timestamp: at(1), Symbol: "SPY", Type: model.SignalBuy, RSI: 30, MACD: 1, Executed: true},
			{Timestamp: at(2), Symbol: "SPY", Type: model.SignalSell, RSI: 70, MACD: -1},
			{Timestamp: at(9), Symbol: "SPY", Type: model.SignalHold, RSI: 50, MACD: 0.5},
		}
		for _, sig := range sigs {
			if err := s.SaveSignal(ctx, sig); err != nil {
				t.Fatalf("save signal: %v", err)
			}
		}
		for i, v := range []float64{10000, 10500, 11000} {
			snap := &model.AccountSnapshot{Timestamp: at(i * 4), PortfolioValue: v}
			if err := s.SaveSnapshot(ctx, snap); err != nil {
				t.Fatalf("save snapshot: %v", err)
			}
		}

		perf, err := s.Performance(ctx, "", time.Time{})
		if err != nil {
			t.Fatalf("performance: %v", err)
		}
		m := perf.Metrics
		if m.TotalTrades != 5 || m.BuyTrades != 2 || m.SellTrades != 3 {
			t.Errorf("unexpected trade counts: %+v", m)
		}
		// +20 on the first pair, -5 on the second, the unmatched QQQ sell is not scored
		if m.WinningTrades != 1 || m.LosingTrades != 1 || m.WinRate != 50 || m.TotalProfitLoss != 15 {
			t.Errorf("unexpected win/loss: %+v", m)
		}
		if m.InitialPortfolioValue != 10000 || m.CurrentPortfolioValue != 11000 || m.PortfolioReturn != 1000 || m.PortfolioReturnPercent != 10 {
			t.Errorf("unexpected portfolio return: %+v", m)
		}
		if m.TotalSignals != 3 || m.BuySignals != 1 || m.SellSignals != 1 || m.HoldSignals != 1 || m.ExecutedSignals != 1 {
			t.Errorf("unexpected signal counts: %+v", m)
		}
		if m.ExecutionRate != 33.33 || m.AvgRSI != 50 || m.AvgMACD != 0.1667 {
			t.Errorf("unexpected averages: %+v", m)
		}
		if len(perf.Trades) != 5 || !perf.Trades[0].Timestamp.Before(perf.Trades[4].Timestamp) {
			t.Errorf("expected filled trades oldest first, got %+v", perf.Trades)
		}

		perf, err = s.Performance(ctx, "SPY", at(3).Add(-time.Hour))
		if err != nil {
			t.Fatalf("performance: %v", err)
		}
		m = perf.Metrics
		if m.TotalTrades != 2 || m.WinningTrades != 0 || m.LosingTrades != 1 || m.TotalProfitLoss != -5 {
			t.Errorf("unexpected windowed trades: %+v", m)
		}
		if m.TotalSignals != 1 || m.InitialPortfolioValue != 10500 || m.PortfolioReturnPercent != 4.76 {
			t.Errorf("unexpected windowed figures: %+v", m)
		}
	})
}

func TestPerformance_Empty(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		perf, err := s.Performance(context.Background(), "SPY", time.Time{})
		if err != nil {
			t.Fatalf("performance: %v", err)
		}
		if perf.Metrics != (PerformanceMetrics{}) {
			t.Errorf("expected zero metrics, got %+v", perf.Metrics)
		}
		if perf.Trades == nil || perf.Signals == nil || perf.Portfolio == nil {
			t.Error("expected empty series, not nil")
		}
	})
}
