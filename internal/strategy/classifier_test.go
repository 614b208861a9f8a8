package strategy

import (
	"testing"

	"AutoTrader/internal/model"
)

func ind(rsi, macd, signal float64) model.Indicators {
	return model.Indicators{RSI: rsi, MACD: macd, MACDSignal: signal, MACDHistogram: macd - signal}
}

func TestNew_UnknownStrategy(t *testing.T) {
	if _, err := New("yolo"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	s, err := New("")
	if err != nil {
		t.Fatalf("default strategy: %v", err)
	}
	if s.Name() != Conservative {
		t.Errorf("expected default %q, got %q", Conservative, s.Name())
	}
}

func TestClassify_Conservative(t *testing.T) {
	s, _ := New(Conservative)
	tests := []struct {
		name string
		ind  model.Indicators
		want model.SignalType
	}{
		{"oversold with momentum", ind(30, 0.5, 0.2), model.SignalBuy},
		{"oversold without crossover", ind(30, 0.1, 0.2), model.SignalHold},
		{"rsi at band edge", ind(35, 0.5, 0.2), model.SignalHold},
		{"overbought with momentum", ind(70, -0.5, -0.2), model.SignalSell},
		{"overbought without crossover", ind(70, 0.5, 0.2), model.SignalHold},
		{"neutral", ind(50, 0, 0), model.SignalHold},
	}
	for _, tt := range tests {
		if got := s.Classify(tt.ind); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestClassify_Classic(t *testing.T) {
	s, _ := New(Classic)
	if got := s.Classify(ind(32, 0.5, 0.2)); got != model.SignalHold {
		t.Errorf("classic should not buy at RSI 32, got %s", got)
	}
	if got := s.Classify(ind(25, 0.5, 0.2)); got != model.SignalBuy {
		t.Errorf("expected BUY, got %s", got)
	}
	if got := s.Classify(ind(75, -0.5, -0.2)); got != model.SignalSell {
		t.Errorf("expected SELL, got %s", got)
	}
}

func TestClassify_ModerateSecondaryRule(t *testing.T) {
	s, _ := New(Moderate)
	sig, rule := s.Explain(ind(45, 0.5, 0.2))
	if sig != model.SignalBuy || rule != "positive_momentum" {
		t.Errorf("expected BUY by positive_momentum, got %s by %q", sig, rule)
	}
	// Same RSI but MACD below zero: secondary rule does not apply.
	if got := s.Classify(ind(45, -0.1, -0.3)); got != model.SignalHold {
		t.Errorf("expected HOLD, got %s", got)
	}
	// Primary rule wins when both would match.
	_, rule = s.Explain(ind(35, 0.5, 0.2))
	if rule != "weak_crossover" {
		t.Errorf("expected first matching rule weak_crossover, got %q", rule)
	}
	sig, rule = s.Explain(ind(55, -0.5, -0.2))
	if sig != model.SignalSell || rule != "negative_momentum" {
		t.Errorf("expected SELL by negative_momentum, got %s by %q", sig, rule)
	}
}

func TestClassify_Aggressive(t *testing.T) {
	s, _ := New(Aggressive)
	if got := s.Classify(ind(49, 0.01, 0)); got != model.SignalBuy {
		t.Errorf("expected BUY, got %s", got)
	}
	if got := s.Classify(ind(51, -0.01, 0)); got != model.SignalSell {
		t.Errorf("expected SELL, got %s", got)
	}
	if got := s.Classify(ind(50, 0.01, 0)); got != model.SignalHold {
		t.Errorf("expected HOLD on the midline, got %s", got)
	}
}

func TestNewRuleSet_BuyEvaluatedFirst(t *testing.T) {
	always := func(model.Indicators) bool { return true }
	rs := NewRuleSet("both", []Rule{
		{Name: "sell", Signal: model.SignalSell, When: always},
		{Name: "buy", Signal: model.SignalBuy, When: always},
	})
	if got := rs.Classify(model.Indicators{}); got != model.SignalBuy {
		t.Errorf("expected BUY checked before SELL, got %s", got)
	}
}

func TestBuySellMutuallyExclusive(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for rsi := 0.0; rsi <= 100; rsi += 2.5 {
			for macd := -2.0; macd <= 2; macd += 0.5 {
				for sig := -2.0; sig <= 2; sig += 0.5 {
					in := ind(rsi, macd, sig)
					buy, sell := false, false
					for _, r := range s.Rules() {
						if r.When(in) {
							if r.Signal == model.SignalBuy {
								buy = true
							} else {
								sell = true
							}
						}
					}
					if buy && sell {
						t.Fatalf("%s: BUY and SELL both hold for %+v", name, in)
					}
				}
			}
		}
	}
}
