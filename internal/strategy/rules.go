package strategy

import "AutoTrader/internal/model"

// Rule is one named condition that yields a signal when it holds.
type Rule struct {
	Name   string
	Signal model.SignalType
	When   func(ind model.Indicators) bool
}

// Every BUY rule requires a positive histogram (MACD above its signal line)
// and every SELL rule a negative one, so BUY and SELL never hold together.
func bullish(ind model.Indicators) bool { return ind.MACDHistogram > 0 && ind.MACD > ind.MACDSignal }
func bearish(ind model.Indicators) bool { return ind.MACDHistogram < 0 && ind.MACD < ind.MACDSignal }

// classicRules is RSI 30/70 with a MACD crossover confirmation.
var classicRules = []Rule{
	{Name: "oversold_crossover", Signal: model.SignalBuy, When: func(ind model.Indicators) bool {
		return ind.RSI < 30 && bullish(ind)
	}},
	{Name: "overbought_crossover", Signal: model.SignalSell, When: func(ind model.Indicators) bool {
		return ind.RSI > 70 && bearish(ind)
	}},
}

// conservativeRules tightens the bands to 35/65 and requires histogram
// momentum in the trade direction.
var conservativeRules = []Rule{
	{Name: "oversold_momentum", Signal: model.SignalBuy, When: func(ind model.Indicators) bool {
		return ind.RSI < 35 && bullish(ind)
	}},
	{Name: "overbought_momentum", Signal: model.SignalSell, When: func(ind model.Indicators) bool {
		return ind.RSI > 65 && bearish(ind)
	}},
}

// moderateRules widens the bands to 40/60 and adds a secondary histogram
// rule that fires up to the RSI midline when MACD is on the same side of zero.
var moderateRules = []Rule{
	{Name: "weak_crossover", Signal: model.SignalBuy, When: func(ind model.Indicators) bool {
		return ind.RSI < 40 && bullish(ind)
	}},
	{Name: "positive_momentum", Signal: model.SignalBuy, When: func(ind model.Indicators) bool {
		return ind.RSI < 50 && bullish(ind) && ind.MACD > 0
	}},
	{Name: "strong_crossover", Signal: model.SignalSell, When: func(ind model.Indicators) bool {
		return ind.RSI > 60 && bearish(ind)
	}},
	{Name: "negative_momentum", Signal: model.SignalSell, When: func(ind model.Indicators) bool {
		return ind.RSI > 50 && bearish(ind) && ind.MACD < 0
	}},
}

// aggressiveRules trades on the RSI midline and histogram direction alone.
var aggressiveRules = []Rule{
	{Name: "below_midline", Signal: model.SignalBuy, When: func(ind model.Indicators) bool {
		return ind.RSI < 50 && bullish(ind)
	}},
	{Name: "above_midline", Signal: model.SignalSell, When: func(ind model.Indicators) bool {
		return ind.RSI > 50 && bearish(ind)
	}},
}
