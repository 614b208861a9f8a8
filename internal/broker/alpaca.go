package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"AutoTrader/internal/model"
)

const DefaultPaperURL = "https://paper-api.alpaca.markets"

// AlpacaConfig holds the REST credentials.
type AlpacaConfig struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	ProxyURL   string
	MaxRetries int
	Timeout    time.Duration
}

// AlpacaClient implements Broker against the Alpaca trading REST API (v2).
type AlpacaClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	client     *http.Client
	maxRetries int
	minBackoff time.Duration
	log        zerolog.Logger
}

// NewAlpacaClient validates credentials and builds the client.
func NewAlpacaClient(cfg AlpacaConfig, log zerolog.Logger) (*AlpacaClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("alpaca: api key and secret key are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultPaperURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("alpaca: invalid base url: %w", err)
	}
	transport := &http.Transport{}
	if cfg.ProxyURL != "" {
		if u, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &AlpacaClient{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		client:     &http.Client{Timeout: timeout, Transport: transport},
		maxRetries: retries,
		minBackoff: 500 * time.Millisecond,
		log:        log.With().Str("component", "alpaca").Logger(),
	}, nil
}

// APIError is a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("alpaca: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("alpaca: status %d", e.StatusCode)
}

type alpacaAccount struct {
	Status         string          `json:"status"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Equity         decimal.Decimal `json:"equity"`
	DaytradeCount  int             `json:"daytrade_count"`
}

type alpacaPosition struct {
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	Side           string          `json:"side"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
}

func (p *alpacaPosition) toModel() *model.Position {
	return &model.Position{
		Symbol:              p.Symbol,
		Qty:                 p.Qty.InexactFloat64(),
		Side:                p.Side,
		CostBasis:           p.CostBasis.InexactFloat64(),
		MarketValue:         p.MarketValue.InexactFloat64(),
		CurrentPrice:        p.CurrentPrice.InexactFloat64(),
		UnrealizedPL:        p.UnrealizedPL.InexactFloat64(),
		UnrealizedPLPercent: p.UnrealizedPLPC.Mul(decimal.NewFromInt(100)).InexactFloat64(),
	}
}

type alpacaClock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type alpacaOrder struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Qty            decimal.NullDecimal `json:"qty"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	FilledAt       *time.Time          `json:"filled_at"`
}

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	StopPrice     string `json:"stop_price,omitempty"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

func (o *alpacaOrder) toModel() *model.Order {
	out := &model.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          model.Side(o.Side),
		Type:          o.Type,
		Status:        o.Status,
		FilledAt:      o.FilledAt,
	}
	if o.Qty.Valid {
		out.Qty = o.Qty.Decimal.InexactFloat64()
	}
	if o.FilledAvgPrice.Valid {
		p := o.FilledAvgPrice.Decimal.InexactFloat64()
		out.FilledAvgPrice = &p
	}
	return out
}

func (c *AlpacaClient) GetAccount(ctx context.Context) (*model.Account, error) {
	var a alpacaAccount
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &a); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &model.Account{
		Status:         a.Status,
		PortfolioValue: a.PortfolioValue.InexactFloat64(),
		Cash:           a.Cash.InexactFloat64(),
		BuyingPower:    a.BuyingPower.InexactFloat64(),
		Equity:         a.Equity.InexactFloat64(),
		DayTradeCount:  a.DaytradeCount,
	}, nil
}

func (c *AlpacaClient) GetPosition(ctx context.Context, symbol string) (*model.Position, error) {
	var p alpacaPosition
	err := c.do(ctx, http.MethodGet, "/v2/positions/"+url.PathEscape(symbol), nil, &p)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPositionNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return p.toModel(), nil
}

// ListPositions returns every open position in the account.
func (c *AlpacaClient) ListPositions(ctx context.Context) ([]model.Position, error) {
	var raw []alpacaPosition
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &raw); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]model.Position, 0, len(raw))
	for i := range raw {
		out = append(out, *raw[i].toModel())
	}
	return out, nil
}

func (c *AlpacaClient) GetClock(ctx context.Context) (*model.Clock, error) {
	var cl alpacaClock
	if err := c.do(ctx, http.MethodGet, "/v2/clock", nil, &cl); err != nil {
		return nil, fmt.Errorf("get clock: %w", err)
	}
	return &model.Clock{IsOpen: cl.IsOpen, NextOpen: cl.NextOpen, NextClose: cl.NextClose}, nil
}

func (c *AlpacaClient) CreateOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           fmt.Sprintf("%d", req.Qty),
		Side:          string(req.Side),
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if req.StopPrice != nil {
		body.StopPrice = decimal.NewFromFloat(*req.StopPrice).StringFixed(2)
	}
	if req.LimitPrice != nil {
		body.LimitPrice = decimal.NewFromFloat(*req.LimitPrice).StringFixed(2)
	}
	var o alpacaOrder
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o.toModel(), nil
}

func (c *AlpacaClient) ClosePosition(ctx context.Context, symbol string) (*model.Order, error) {
	var o alpacaOrder
	if err := c.do(ctx, http.MethodDelete, "/v2/positions/"+url.PathEscape(symbol), nil, &o); err != nil {
		return nil, fmt.Errorf("close position %s: %w", symbol, err)
	}
	return o.toModel(), nil
}

func (c *AlpacaClient) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o alpacaOrder
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o.toModel(), nil
}

// retryable reports whether a response status may be retried. Order
// submission is only retried on 429 since the request was not processed.
func retryable(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return method != http.MethodPost && status >= 500
}

func (c *AlpacaClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	b := &backoff.Backoff{Min: c.minBackoff, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for {
		status, body, err := c.roundTrip(ctx, method, path, payload)
		switch {
		case err != nil:
			if method == http.MethodPost || ctx.Err() != nil || int(b.Attempt()) >= c.maxRetries {
				return err
			}
		case status >= 200 && status < 300:
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		default:
			apiErr := &APIError{StatusCode: status}
			_ = json.Unmarshal(body, apiErr)
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(body))
			}
			if !retryable(method, status) || int(b.Attempt()) >= c.maxRetries {
				return apiErr
			}
			err = apiErr
		}

		wait := b.Duration()
		c.log.Warn().Err(err).Str("path", path).Dur("wait", wait).Msg("retrying broker request")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *AlpacaClient) roundTrip(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("alpaca request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("alpaca read body: %w", err)
	}
	return resp.StatusCode, body, nil
}
