package collector

import (
	"context"
	"errors"
	"time"

	"AutoTrader/internal/model"
)

// ErrNoData is returned by LatestClose when the feed has no bars in range.
var ErrNoData = errors.New("no price data")

// PriceFeed supplies daily closes for a symbol. Bars are returned in
// ascending time order; an empty range yields an empty slice and no error.
type PriceFeed interface {
	FetchHistoricalCloses(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error)
	Name() string
}

// LatestClose returns the most recent close within the last `lookback`.
func LatestClose(ctx context.Context, feed PriceFeed, symbol string, lookback time.Duration) (float64, error) {
	end := time.Now()
	bars, err := feed.FetchHistoricalCloses(ctx, symbol, end.Add(-lookback), end)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, ErrNoData
	}
	return bars[len(bars)-1].Close, nil
}
