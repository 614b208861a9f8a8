package model

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus is the internal trade taxonomy.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeRejected  TradeStatus = "rejected"
	TradeBlocked   TradeStatus = "blocked"
)

// Trade is the audit record of one execution attempt. OrderID is empty when
// the attempt never reached the broker.
type Trade struct {
	ID                int64       `json:"id"`
	Timestamp         time.Time   `json:"timestamp"`
	Symbol            string      `json:"symbol"`
	OrderID           string      `json:"orderId,omitempty"`
	Side              Side        `json:"side"`
	Quantity          int         `json:"quantity"`
	Price             float64     `json:"price"`
	Status            TradeStatus `json:"status"`
	FilledAt          *time.Time  `json:"filledAt,omitempty"`
	PortfolioValue    float64     `json:"portfolioValue"`
	Cash              float64     `json:"cash"`
	BuyingPower       float64     `json:"buyingPower"`
	Equity            float64     `json:"equity"`
	TotalValue        float64     `json:"totalValue"`
	ProfitLoss        *float64    `json:"profitLoss,omitempty"`
	ProfitLossPercent *float64    `json:"profitLossPercent,omitempty"`
	SignalID          *int64      `json:"signalId,omitempty"`
	RejectionReason   string      `json:"rejectionReason,omitempty"`
}

// ApplyAccount copies the account figures onto the trade.
func (t *Trade) ApplyAccount(a Account) {
	t.PortfolioValue = a.PortfolioValue
	t.Cash = a.Cash
	t.BuyingPower = a.BuyingPower
	t.Equity = a.Equity
}
