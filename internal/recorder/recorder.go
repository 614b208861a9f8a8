package recorder

import (
	"context"
	"errors"
	"time"

	"AutoTrader/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateOrder is returned when a trade reuses a broker order id.
var ErrDuplicateOrder = errors.New("duplicate order id")

// TradeUpdate carries the fields the reconciler may change on a trade.
type TradeUpdate struct {
	Status   model.TradeStatus
	FilledAt *time.Time
	Price    *float64
}

// Query filters list operations. Zero values mean no filter; results are
// newest first.
type Query struct {
	Symbol string
	Status string
	Since  time.Time
	Limit  int
}

// SymbolCount is a per-symbol row count.
type SymbolCount struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

// DateRange spans the oldest and newest timestamps of a table.
type DateRange struct {
	Oldest *time.Time `json:"oldest"`
	Newest *time.Time `json:"newest"`
}

type TradeStats struct {
	Total     int           `json:"total"`
	Filled    int           `json:"filled"`
	BySymbol  []SymbolCount `json:"bySymbol"`
	DateRange DateRange     `json:"dateRange"`
}

type SignalStats struct {
	Total     int           `json:"total"`
	Executed  int           `json:"executed"`
	BySymbol  []SymbolCount `json:"bySymbol"`
	DateRange DateRange     `json:"dateRange"`
}

// Statistics summarises stored history.
type Statistics struct {
	Trades    TradeStats  `json:"trades"`
	Signals   SignalStats `json:"signals"`
	Snapshots struct {
		Total int `json:"total"`
	} `json:"snapshots"`
}

// Store persists signals, trades and account snapshots.
type Store interface {
	SaveSignal(ctx context.Context, s *model.Signal) error
	MarkSignalExecuted(ctx context.Context, id int64, orderID string) error
	SaveTrade(ctx context.Context, t *model.Trade) error
	UpdateTrade(ctx context.Context, id int64, u TradeUpdate) error
	PendingTrades(ctx context.Context) ([]model.Trade, error)
	SaveSnapshot(ctx context.Context, s *model.AccountSnapshot) error
	FirstSnapshot(ctx context.Context) (*model.AccountSnapshot, error)

	// RecordExecution stores the trade and the post-trade snapshot, and marks
	// the originating signal executed when the trade is filled, as one unit.
	RecordExecution(ctx context.Context, t *model.Trade, snap *model.AccountSnapshot) error

	ListSignals(ctx context.Context, q Query) ([]model.Signal, error)
	ListTrades(ctx context.Context, q Query) ([]model.Trade, error)
	ListSnapshots(ctx context.Context, q Query) ([]model.AccountSnapshot, error)
	Statistics(ctx context.Context, symbol string) (*Statistics, error)
	// Performance summarises history since the given time; a zero time
	// covers everything.
	Performance(ctx context.Context, symbol string, since time.Time) (*Performance, error)
	Close() error
}

// marksSignal reports whether recording t should flag its signal executed.
func marksSignal(t *model.Trade) bool {
	return t.Status == model.TradeFilled && t.SignalID != nil && t.OrderID != ""
}
