package broker

import (
	"context"
	"errors"

	"AutoTrader/internal/model"
)

// ErrPositionNotFound is returned by GetPosition when the account holds no
// position in the symbol.
var ErrPositionNotFound = errors.New("position not found")

// Broker is the brokerage account the engine trades through.
type Broker interface {
	GetAccount(ctx context.Context) (*model.Account, error)
	GetPosition(ctx context.Context, symbol string) (*model.Position, error)
	ListPositions(ctx context.Context) ([]model.Position, error)
	GetClock(ctx context.Context) (*model.Clock, error)
	CreateOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error)
	ClosePosition(ctx context.Context, symbol string) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}
