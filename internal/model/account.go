package model

import "time"

// Account is the broker account state with numeric fields already parsed.
type Account struct {
	Status         string  `json:"status"`
	PortfolioValue float64 `json:"portfolioValue"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buyingPower"`
	Equity         float64 `json:"equity"`
	DayTradeCount  int     `json:"dayTradeCount"`
}

// AccountSnapshot is an append-only record of account figures. The earliest
// snapshot is the growth baseline.
type AccountSnapshot struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	PortfolioValue float64   `json:"portfolioValue"`
	Cash           float64   `json:"cash"`
	BuyingPower    float64   `json:"buyingPower"`
	Equity         float64   `json:"equity"`
	AccountStatus  string    `json:"accountStatus"`
	DayTradeCount  *int      `json:"dayTradeCount,omitempty"`
}

// SnapshotOf captures the account at the current time.
func SnapshotOf(a Account) *AccountSnapshot {
	status := a.Status
	if status == "" {
		status = "ACTIVE"
	}
	dtc := a.DayTradeCount
	return &AccountSnapshot{
		Timestamp:      time.Now(),
		PortfolioValue: a.PortfolioValue,
		Cash:           a.Cash,
		BuyingPower:    a.BuyingPower,
		Equity:         a.Equity,
		AccountStatus:  status,
		DayTradeCount:  &dtc,
	}
}

// Position is a broker-held quantity, negative when short.
type Position struct {
	Symbol              string  `json:"symbol"`
	Qty                 float64 `json:"qty"`
	Side                string  `json:"side,omitempty"`
	CostBasis           float64 `json:"costBasis"`
	MarketValue         float64 `json:"marketValue"`
	CurrentPrice        float64 `json:"currentPrice"`
	UnrealizedPL        float64 `json:"unrealizedPL"`
	UnrealizedPLPercent float64 `json:"unrealizedPLPercent"`
}

// Clock is the broker market clock.
type Clock struct {
	IsOpen    bool      `json:"isOpen"`
	NextOpen  time.Time `json:"nextOpen"`
	NextClose time.Time `json:"nextClose"`
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol        string
	Qty           int
	Side          Side
	Type          string // market, limit, stop
	TimeInForce   string // day, gtc
	StopPrice     *float64
	LimitPrice    *float64
	ClientOrderID string
}

// Order is the broker view of a submitted order.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"clientOrderId,omitempty"`
	Symbol         string     `json:"symbol"`
	Qty            float64    `json:"qty"`
	Side           Side       `json:"side"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	FilledAvgPrice *float64   `json:"filledAvgPrice,omitempty"`
	FilledAt       *time.Time `json:"filledAt,omitempty"`
}
