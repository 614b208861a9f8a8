// Package brokertest provides an in-memory Broker for tests.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/model"
)

// Fake is a scriptable broker. Orders it creates take OrderStatus (default
// "accepted"); FillPrice is reported as the fill price once an order is
// filled.
type Fake struct {
	mu sync.Mutex

	Account   model.Account
	Clock     model.Clock
	Positions map[string]*model.Position
	Orders    map[string]*model.Order

	OrderStatus string
	FillPrice   float64
	// PollStatuses are applied one per GetOrder call, in order.
	PollStatuses []string

	AccountErr  error
	ClockErr    error
	PositionErr error
	CreateErr   error
	GetOrderErr map[string]error

	Created []model.OrderRequest
	Closed  []string
	Polls   int
	seq     int
}

// New returns an open market with a funded account and no positions.
func New() *Fake {
	return &Fake{
		Account: model.Account{
			Status: "ACTIVE", PortfolioValue: 10000, Cash: 10000, BuyingPower: 10000, Equity: 10000,
		},
		Clock:       model.Clock{IsOpen: true, NextOpen: time.Now().Add(24 * time.Hour), NextClose: time.Now().Add(4 * time.Hour)},
		Positions:   make(map[string]*model.Position),
		Orders:      make(map[string]*model.Order),
		GetOrderErr: make(map[string]error),
		OrderStatus: "accepted",
	}
}

var _ broker.Broker = (*Fake)(nil)

func (f *Fake) GetAccount(context.Context) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	a := f.Account
	return &a, nil
}

func (f *Fake) GetPosition(_ context.Context, symbol string) (*model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionErr != nil {
		return nil, f.PositionErr
	}
	p, ok := f.Positions[symbol]
	if !ok {
		return nil, broker.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) ListPositions(context.Context) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionErr != nil {
		return nil, f.PositionErr
	}
	out := make([]model.Position, 0, len(f.Positions))
	for _, p := range f.Positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (f *Fake) GetClock(context.Context) (*model.Clock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClockErr != nil {
		return nil, f.ClockErr
	}
	c := f.Clock
	return &c, nil
}

func (f *Fake) CreateOrder(_ context.Context, req model.OrderRequest) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, req)
	f.seq++
	o := &model.Order{
		ID:            fmt.Sprintf("order-%d", f.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           float64(req.Qty),
		Side:          req.Side,
		Type:          req.Type,
		Status:        f.OrderStatus,
	}
	f.applyFill(o)
	f.Orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (f *Fake) ClosePosition(_ context.Context, symbol string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Positions[symbol]
	if !ok {
		return nil, broker.ErrPositionNotFound
	}
	f.Closed = append(f.Closed, symbol)
	delete(f.Positions, symbol)
	side := model.SideSell
	if p.Qty < 0 {
		side = model.SideBuy
	}
	f.seq++
	o := &model.Order{ID: fmt.Sprintf("close-%d", f.seq), Symbol: symbol, Qty: p.Qty, Side: side, Type: "market", Status: "filled"}
	f.applyFill(o)
	f.Orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (f *Fake) GetOrder(_ context.Context, id string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.GetOrderErr[id]; err != nil {
		return nil, err
	}
	o, ok := f.Orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	f.Polls++
	if len(f.PollStatuses) > 0 {
		o.Status = f.PollStatuses[0]
		f.PollStatuses = f.PollStatuses[1:]
		f.applyFill(o)
	}
	cp := *o
	return &cp, nil
}

// SetOrderStatus changes the status of a previously created order.
func (f *Fake) SetOrderStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.Orders[id]; ok {
		o.Status = status
		f.applyFill(o)
	}
}

// AddOrder registers an order the broker knows about.
func (f *Fake) AddOrder(o model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := o
	f.Orders[o.ID] = &cp
}

func (f *Fake) applyFill(o *model.Order) {
	if broker.MapOrderStatus(o.Status) != model.TradeFilled || o.FilledAvgPrice != nil {
		return
	}
	price := f.FillPrice
	now := time.Now()
	o.FilledAvgPrice = &price
	o.FilledAt = &now
}
