package calculator

import (
	"math"

	"AutoTrader/internal/model"
)

// Config holds indicator periods.
type Config struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// DefaultConfig is RSI(14) and MACD(12,26,9).
var DefaultConfig = Config{RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}

// MinBars returns the shortest close series Compute accepts.
func (c Config) MinBars() int {
	n := c.MACDSlow + c.MACDSignal
	if c.RSIPeriod > n {
		n = c.RSIPeriod
	}
	return n
}

// Engine computes the latest RSI and MACD values from closes.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine periods.
func (e *Engine) Config() Config { return e.cfg }

// Compute returns the latest indicators. ok is false when the series is too
// short or any computed value is not finite; that is a normal outcome.
func (e *Engine) Compute(closes []float64) (ind model.Indicators, ok bool) {
	if len(closes) < e.cfg.MinBars() {
		return model.Indicators{}, false
	}
	rsi, err := RSISeries(closes, e.cfg.RSIPeriod)
	if err != nil || len(rsi) == 0 {
		return model.Indicators{}, false
	}
	macd, err := MACDSeries(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	if err != nil || len(macd) == 0 {
		return model.Indicators{}, false
	}

	last := macd[len(macd)-1]
	ind = model.Indicators{
		RSI:           rsi[len(rsi)-1],
		MACD:          last.MACD,
		MACDSignal:    last.Signal,
		MACDHistogram: last.Histogram,
	}
	for _, v := range []float64{ind.RSI, ind.MACD, ind.MACDSignal, ind.MACDHistogram} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Indicators{}, false
		}
	}
	return ind, true
}
