package model

import "time"

// SignalType is the classifier output.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Side returns the order side for the signal, or "" for HOLD.
func (s SignalType) Side() Side {
	switch s {
	case SignalBuy:
		return SideBuy
	case SignalSell:
		return SideSell
	default:
		return ""
	}
}

// Signal is one analysis result for a symbol. It is written once per cycle
// and later updated only to mark it executed.
type Signal struct {
	ID            int64      `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Symbol        string     `json:"symbol"`
	Type          SignalType `json:"signal"`
	ClosePrice    float64    `json:"closePrice"`
	RSI           float64    `json:"rsi"`
	MACD          float64    `json:"macd"`
	MACDSignal    float64    `json:"macdSignal"`
	MACDHistogram float64    `json:"macdHistogram"`
	Executed      bool       `json:"executed"`
	OrderID       string     `json:"orderId,omitempty"`
}

// NewSignal builds an unexecuted signal from indicators.
func NewSignal(symbol string, t SignalType, closePrice float64, ind Indicators) *Signal {
	return &Signal{
		Timestamp:     time.Now(),
		Symbol:        symbol,
		Type:          t,
		ClosePrice:    closePrice,
		RSI:           ind.RSI,
		MACD:          ind.MACD,
		MACDSignal:    ind.MACDSignal,
		MACDHistogram: ind.MACDHistogram,
	}
}
