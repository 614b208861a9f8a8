package recorder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"AutoTrader/internal/model"
)

// PerformanceMetrics are the headline figures over a period.
type PerformanceMetrics struct {
	TotalTrades     int     `json:"totalTrades"`
	BuyTrades       int     `json:"buyTrades"`
	SellTrades      int     `json:"sellTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	WinRate         float64 `json:"winRate"`
	TotalProfitLoss float64 `json:"totalProfitLoss"`

	PortfolioReturn        float64 `json:"portfolioReturn"`
	PortfolioReturnPercent float64 `json:"portfolioReturnPercent"`
	CurrentPortfolioValue  float64 `json:"currentPortfolioValue"`
	InitialPortfolioValue  float64 `json:"initialPortfolioValue"`

	TotalSignals    int     `json:"totalSignals"`
	BuySignals      int     `json:"buySignals"`
	SellSignals     int     `json:"sellSignals"`
	HoldSignals     int     `json:"holdSignals"`
	ExecutedSignals int     `json:"executedSignals"`
	ExecutionRate   float64 `json:"executionRate"`

	AvgRSI  float64 `json:"avgRSI"`
	AvgMACD float64 `json:"avgMACD"`
}

// Performance is the metrics plus the series they were computed from, all
// oldest first. Trades holds filled trades only.
type Performance struct {
	Metrics   PerformanceMetrics      `json:"metrics"`
	Portfolio []model.AccountSnapshot `json:"portfolio"`
	Trades    []model.Trade           `json:"trades"`
	Signals   []model.Signal          `json:"signals"`
}

// performance loads history since the given time and summarises it.
// Snapshots are account wide and ignore symbol.
func performance(ctx context.Context, s Store, symbol string, since time.Time) (*Performance, error) {
	trades, err := s.ListTrades(ctx, Query{Symbol: symbol, Status: string(model.TradeFilled), Since: since})
	if err != nil {
		return nil, fmt.Errorf("performance trades: %w", err)
	}
	signals, err := s.ListSignals(ctx, Query{Symbol: symbol, Since: since})
	if err != nil {
		return nil, fmt.Errorf("performance signals: %w", err)
	}
	snaps, err := s.ListSnapshots(ctx, Query{Since: since})
	if err != nil {
		return nil, fmt.Errorf("performance snapshots: %w", err)
	}
	return Summarize(trades, signals, snaps), nil
}

// Summarize computes performance from stored history in any order. Filled
// buys and sells are paired per symbol in time order: a sell closes the
// open buy and scores (sell - buy) * buy quantity as a win or a loss. A
// sell with no open buy is not scored.
func Summarize(trades []model.Trade, signals []model.Signal, snaps []model.AccountSnapshot) *Performance {
	p := &Performance{
		Portfolio: make([]model.AccountSnapshot, 0, len(snaps)),
		Trades:    make([]model.Trade, 0, len(trades)),
		Signals:   make([]model.Signal, 0, len(signals)),
	}
	for _, t := range trades {
		if t.Status == model.TradeFilled {
			p.Trades = append(p.Trades, t)
		}
	}
	p.Signals = append(p.Signals, signals...)
	p.Portfolio = append(p.Portfolio, snaps...)
	sort.SliceStable(p.Trades, func(i, j int) bool { return p.Trades[i].Timestamp.Before(p.Trades[j].Timestamp) })
	sort.SliceStable(p.Signals, func(i, j int) bool { return p.Signals[i].Timestamp.Before(p.Signals[j].Timestamp) })
	sort.SliceStable(p.Portfolio, func(i, j int) bool { return p.Portfolio[i].Timestamp.Before(p.Portfolio[j].Timestamp) })

	m := &p.Metrics
	total := decimal.Zero
	open := map[string]*model.Trade{}
	for i := range p.Trades {
		t := &p.Trades[i]
		m.TotalTrades++
		switch t.Side {
		case model.SideBuy:
			m.BuyTrades++
			if open[t.Symbol] == nil {
				open[t.Symbol] = t
			}
		case model.SideSell:
			m.SellTrades++
			buy := open[t.Symbol]
			if buy == nil {
				continue
			}
			delete(open, t.Symbol)
			pl := decimal.NewFromFloat(t.Price).Sub(decimal.NewFromFloat(buy.Price)).Mul(decimal.NewFromInt(int64(buy.Quantity)))
			total = total.Add(pl)
			switch pl.Sign() {
			case 1:
				m.WinningTrades++
			case -1:
				m.LosingTrades++
			}
		}
	}
	m.TotalProfitLoss = round(total.InexactFloat64(), 2)
	if closed := m.WinningTrades + m.LosingTrades; closed > 0 {
		m.WinRate = round(float64(m.WinningTrades)/float64(closed)*100, 2)
	}

	if n := len(p.Portfolio); n > 0 {
		first, last := p.Portfolio[0].PortfolioValue, p.Portfolio[n-1].PortfolioValue
		m.InitialPortfolioValue = first
		m.CurrentPortfolioValue = last
		m.PortfolioReturn = round(last-first, 2)
		if first > 0 {
			m.PortfolioReturnPercent = round((last-first)/first*100, 2)
		}
	}

	var rsi, macd float64
	for _, s := range p.Signals {
		m.TotalSignals++
		switch s.Type {
		case model.SignalBuy:
			m.BuySignals++
		case model.SignalSell:
			m.SellSignals++
		case model.SignalHold:
			m.HoldSignals++
		}
		if s.Executed {
			m.ExecutedSignals++
		}
		rsi += s.RSI
		macd += s.MACD
	}
	if m.TotalSignals > 0 {
		n := float64(m.TotalSignals)
		m.ExecutionRate = round(float64(m.ExecutedSignals)/n*100, 2)
		m.AvgRSI = round(rsi/n, 2)
		m.AvgMACD = round(macd/n, 4)
	}
	return p
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
