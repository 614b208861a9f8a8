package strategy

import (
	"fmt"
	"sort"
	"strings"

	"AutoTrader/internal/model"
)

// Strategy maps indicator values to a trading signal.
type Strategy interface {
	Name() string
	Classify(ind model.Indicators) model.SignalType
}

// RuleSet is a Strategy driven by an ordered rule list.
type RuleSet struct {
	name  string
	rules []Rule
}

// NewRuleSet creates a RuleSet. BUY rules are always evaluated before SELL
// rules; within a side the given order is kept.
func NewRuleSet(name string, rules []Rule) *RuleSet {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Signal == model.SignalBuy {
			ordered = append(ordered, r)
		}
	}
	for _, r := range rules {
		if r.Signal == model.SignalSell {
			ordered = append(ordered, r)
		}
	}
	return &RuleSet{name: name, rules: ordered}
}

func (r *RuleSet) Name() string { return r.name }

// Classify returns the signal of the first matching rule, or HOLD.
func (r *RuleSet) Classify(ind model.Indicators) model.SignalType {
	sig, _ := r.Explain(ind)
	return sig
}

// Explain is Classify plus the name of the rule that fired.
func (r *RuleSet) Explain(ind model.Indicators) (model.SignalType, string) {
	for _, rule := range r.rules {
		if rule.When(ind) {
			return rule.Signal, rule.Name
		}
	}
	return model.SignalHold, ""
}

// Rules returns the evaluation order.
func (r *RuleSet) Rules() []Rule { return r.rules }

const (
	Classic      = "classic"
	Conservative = "conservative"
	Moderate     = "moderate"
	Aggressive   = "aggressive"
)

// Default is the strategy used when none is configured.
const Default = Conservative

var registry = map[string][]Rule{
	Classic:      classicRules,
	Conservative: conservativeRules,
	Moderate:     moderateRules,
	Aggressive:   aggressiveRules,
}

// New returns the named rule set.
func New(name string) (*RuleSet, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = Default
	}
	rules, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return NewRuleSet(key, rules), nil
}

// Names lists the registered strategies.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
