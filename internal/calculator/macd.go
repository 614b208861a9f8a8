package calculator

import (
	"errors"
	"fmt"
)

// MACDPoint is one aligned MACD sample.
type MACDPoint struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACDSeries computes MACD = EMA(fast) - EMA(slow), its signal EMA and the
// histogram. Points start once the signal line has a value.
func MACDSeries(closes []float64, fast, slow, signal int) ([]MACDPoint, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, errors.New("periods must be positive")
	}
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be shorter than slow period %d", fast, slow)
	}

	fastEMA, err := EMASeries(closes, fast)
	if err != nil {
		return nil, fmt.Errorf("fast ema: %w", err)
	}
	slowEMA, err := EMASeries(closes, slow)
	if err != nil {
		return nil, fmt.Errorf("slow ema: %w", err)
	}
	if len(slowEMA) == 0 {
		return nil, nil
	}

	// slowEMA[j] lines up with closes[j+slow-1], fastEMA[j] with closes[j+fast-1].
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for j := range slowEMA {
		line[j] = fastEMA[j+offset] - slowEMA[j]
	}

	sig, err := EMASeries(line, signal)
	if err != nil {
		return nil, fmt.Errorf("signal ema: %w", err)
	}
	out := make([]MACDPoint, len(sig))
	for k, s := range sig {
		m := line[k+signal-1]
		out[k] = MACDPoint{MACD: m, Signal: s, Histogram: m - s}
	}
	return out, nil
}
