package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"AutoTrader/internal/model"
	"AutoTrader/internal/recorder"
)

// SnapshotSource yields the growth baseline.
type SnapshotSource interface {
	FirstSnapshot(ctx context.Context) (*model.AccountSnapshot, error)
}

type GrowthConfig struct {
	TargetMultiplier float64 // e.g. 2.0 doubles the account
	TargetDays       int
}

var DefaultGrowthConfig = GrowthConfig{TargetMultiplier: 2.0, TargetDays: 365}

// Growth is progress of the account toward its growth target.
type Growth struct {
	Defined          bool      `json:"defined"`
	InitialValue     float64   `json:"initialValue"`
	CurrentValue     float64   `json:"currentValue"`
	CurrentGrowth    float64   `json:"currentGrowth"`
	RequiredGrowth   float64   `json:"requiredGrowth"`
	Progress         float64   `json:"progress"`
	DaysElapsed      int       `json:"daysElapsed"`
	TargetMultiplier float64   `json:"targetMultiplier"`
	TargetDays       int       `json:"targetDays"`
	Since            time.Time `json:"since,omitempty"`
}

// GrowthTracker reads the baseline from the store on every call.
type GrowthTracker struct {
	store SnapshotSource
	cfg   GrowthConfig
	now   func() time.Time
}

func NewGrowthTracker(store SnapshotSource, cfg GrowthConfig) *GrowthTracker {
	if cfg.TargetMultiplier <= 0 {
		cfg.TargetMultiplier = DefaultGrowthConfig.TargetMultiplier
	}
	if cfg.TargetDays <= 0 {
		cfg.TargetDays = DefaultGrowthConfig.TargetDays
	}
	return &GrowthTracker{store: store, cfg: cfg, now: time.Now}
}

// Evaluate compares currentValue against the earliest snapshot. Without a
// usable baseline progress is reported as 100 and Defined is false.
func (g *GrowthTracker) Evaluate(ctx context.Context, currentValue float64) (Growth, error) {
	out := Growth{
		Progress:         100,
		CurrentValue:     currentValue,
		TargetMultiplier: g.cfg.TargetMultiplier,
		TargetDays:       g.cfg.TargetDays,
	}
	first, err := g.store.FirstSnapshot(ctx)
	if errors.Is(err, recorder.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load growth baseline: %w", err)
	}
	if first.PortfolioValue <= 0 {
		return out, nil
	}

	days := int(g.now().Sub(first.Timestamp).Hours() / 24)
	if days < 1 {
		days = 1
	}
	out.Defined = true
	out.Since = first.Timestamp
	out.InitialValue = first.PortfolioValue
	out.DaysElapsed = days
	out.CurrentGrowth = currentValue / first.PortfolioValue
	out.RequiredGrowth = math.Pow(g.cfg.TargetMultiplier, float64(days)/float64(g.cfg.TargetDays))
	out.Progress = out.CurrentGrowth / out.RequiredGrowth * 100
	return out, nil
}
