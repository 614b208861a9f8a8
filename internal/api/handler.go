package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"AutoTrader/internal/broker"
	"AutoTrader/internal/lock"
	"AutoTrader/internal/model"
	"AutoTrader/internal/reconciler"
	"AutoTrader/internal/recorder"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/trading"
)

// SecretHeader carries the optional shared secret for triggering cycles.
const SecretHeader = "X-Api-Secret"

// CycleRunner runs decision cycles, places manual orders and reports
// growth.
type CycleRunner interface {
	Run(ctx context.Context, req trading.Request) trading.Result
	ExecuteSignal(ctx context.Context, req trading.ManualRequest) trading.Result
	Progress(ctx context.Context) (risk.Growth, error)
}

// PendingReconciler resolves pending trades.
type PendingReconciler interface {
	Reconcile(ctx context.Context) (reconciler.Report, error)
}

// Deps are the collaborators of a Handler. Broker, Hub and Gatherer are
// optional; without a Broker the account endpoints are not mounted.
type Deps struct {
	Engine     CycleRunner
	Reconciler PendingReconciler
	Store      recorder.Store
	Broker     broker.Broker
	Hub        http.Handler
	Gatherer   prometheus.Gatherer
	// Secret, when set, must be sent in SecretHeader to trigger a cycle.
	Secret string
}

type Handler struct {
	Deps
	log zerolog.Logger
}

func NewHandler(d Deps, log zerolog.Logger) *Handler {
	return &Handler{Deps: d, log: log.With().Str("component", "api").Logger()}
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)

	metricsHandler := promhttp.Handler()
	if h.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))
	if h.Hub != nil {
		e.GET("/ws", echo.WrapHandler(h.Hub))
	}

	g := e.Group("/api")
	g.POST("/strategy/auto", h.runCycle)
	g.POST("/strategy/execute", h.executeSignal)
	g.GET("/strategy/current", h.currentStrategy)
	g.POST("/trades/update-pending", h.updatePending)
	g.GET("/signals", h.listSignals)
	g.GET("/trades", h.listTrades)
	g.GET("/trades/summary", h.tradeSummary)
	g.GET("/account/snapshots", h.listSnapshots)
	g.GET("/growth", h.growth)
	g.GET("/statistics", h.statistics)
	g.GET("/performance", h.performance)

	if h.Broker != nil {
		g.GET("/account", h.account)
		g.GET("/positions", h.positions)
		g.GET("/market/status", h.marketStatus)
	}
}

func (h *Handler) health(c echo.Context) error {
	return SuccessResponse(c, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

type autoRequest struct {
	Symbol      string `json:"symbol" default:"SPY" validate:"max=16"`
	AutoExecute *bool  `json:"autoExecute" default:"true"`
}

func (h *Handler) authorized(c echo.Context) bool {
	return h.Secret == "" || c.Request().Header.Get(SecretHeader) == h.Secret
}

func (h *Handler) runCycle(c echo.Context) error {
	if !h.authorized(c) {
		return UnauthorizedResponse(c)
	}

	var req autoRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	symbol := trading.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return BadRequestResponse(c, []ValidationError{{Code: "ERR_REQUIRED", Field: "Symbol", Message: "Symbol is required"}})
	}

	res := h.Engine.Run(c.Request().Context(), trading.Request{Symbol: symbol, AutoExecute: *req.AutoExecute})
	return DataResponse(c, cycleStatus(res), res)
}

type executeRequest struct {
	SignalID *int64 `json:"signalId"`
	Symbol   string `json:"symbol" default:"SPY" validate:"max=16"`
	Signal   string `json:"signal" validate:"required,oneof=BUY SELL HOLD"`
	Quantity int    `json:"quantity" validate:"gte=0,lte=100000"`
}

// executeSignal places an order for a caller-chosen signal through the
// same risk gate and executor as a cycle.
func (h *Handler) executeSignal(c echo.Context) error {
	if !h.authorized(c) {
		return UnauthorizedResponse(c)
	}

	var req executeRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	symbol := trading.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return BadRequestResponse(c, []ValidationError{{Code: "ERR_REQUIRED", Field: "Symbol", Message: "Symbol is required"}})
	}

	res := h.Engine.ExecuteSignal(c.Request().Context(), trading.ManualRequest{
		Symbol:   symbol,
		Signal:   model.SignalType(req.Signal),
		Quantity: req.Quantity,
		SignalID: req.SignalID,
	})
	return DataResponse(c, cycleStatus(res), res)
}

func cycleStatus(res trading.Result) int {
	switch {
	case res.Error != "" && res.Message == lock.ErrLocked.Error():
		return http.StatusConflict
	case res.Error != "":
		return http.StatusInternalServerError
	case !res.Success:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func (h *Handler) updatePending(c echo.Context) error {
	rep, err := h.Reconciler.Reconcile(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("reconcile pending trades")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, rep)
}

type listQuery struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type tradeQuery struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
	Status string `query:"status" validate:"omitempty,oneof=pending filled cancelled rejected blocked"`
}

func (h *Handler) listSignals(c echo.Context) error {
	var q listQuery
	if errs := ReadAndValidateRequest(c, &q); errs != nil {
		return BadRequestResponse(c, errs)
	}
	signals, err := h.Store.ListSignals(c.Request().Context(), recorder.Query{Symbol: trading.NormalizeSymbol(q.Symbol), Limit: q.Limit})
	if err != nil {
		h.log.Error().Err(err).Msg("list signals")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, nonNil(signals))
}

func (h *Handler) listTrades(c echo.Context) error {
	var q tradeQuery
	if errs := ReadAndValidateRequest(c, &q); errs != nil {
		return BadRequestResponse(c, errs)
	}
	trades, err := h.Store.ListTrades(c.Request().Context(), recorder.Query{
		Symbol: trading.NormalizeSymbol(q.Symbol),
		Status: q.Status,
		Limit:  q.Limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("list trades")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, nonNil(trades))
}

type tradeSummary struct {
	Count  int           `json:"count"`
	Since  time.Time     `json:"since"`
	Trades []model.Trade `json:"trades"`
}

func (h *Handler) tradeSummary(c echo.Context) error {
	since := time.Now().Add(-24 * time.Hour)
	trades, err := h.Store.ListTrades(c.Request().Context(), recorder.Query{Since: since})
	if err != nil {
		h.log.Error().Err(err).Msg("trade summary")
		return InternalServerErrorResponse(c)
	}
	trades = nonNil(trades)
	return SuccessResponse(c, tradeSummary{Count: len(trades), Since: since, Trades: trades})
}

func (h *Handler) listSnapshots(c echo.Context) error {
	var q listQuery
	if errs := ReadAndValidateRequest(c, &q); errs != nil {
		return BadRequestResponse(c, errs)
	}
	snaps, err := h.Store.ListSnapshots(c.Request().Context(), recorder.Query{Limit: q.Limit})
	if err != nil {
		h.log.Error().Err(err).Msg("list snapshots")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, nonNil(snaps))
}

func (h *Handler) growth(c echo.Context) error {
	g, err := h.Engine.Progress(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("growth")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, g)
}

func (h *Handler) statistics(c echo.Context) error {
	stats, err := h.Store.Statistics(c.Request().Context(), trading.NormalizeSymbol(c.QueryParam("symbol")))
	if err != nil {
		h.log.Error().Err(err).Msg("statistics")
		return InternalServerErrorResponse(c)
	}
	return SuccessResponse(c, stats)
}

// maxWindowDays and above means the whole history.
const maxWindowDays = 3650

type performanceQuery struct {
	Symbol string `query:"symbol"`
	Days   int    `query:"days" validate:"gte=0"`
}

type performancePeriod struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   time.Time  `json:"endDate"`
	Days      int        `json:"days,omitempty"`
	All       bool       `json:"all"`
}

type chartData struct {
	Portfolio []model.AccountSnapshot `json:"portfolio"`
	Trades    []model.Trade           `json:"trades"`
	Signals   []model.Signal          `json:"signals"`
}

type performanceResponse struct {
	Metrics   recorder.PerformanceMetrics `json:"metrics"`
	ChartData chartData                   `json:"chartData"`
	Period    performancePeriod           `json:"period"`
}

func (h *Handler) performance(c echo.Context) error {
	var q performanceQuery
	if errs := ReadAndValidateRequest(c, &q); errs != nil {
		return BadRequestResponse(c, errs)
	}

	now := time.Now()
	period := performancePeriod{EndDate: now, All: true}
	var since time.Time
	if q.Days > 0 && q.Days < maxWindowDays {
		since = now.AddDate(0, 0, -q.Days)
		period.StartDate = &since
		period.Days = q.Days
		period.All = false
	}

	perf, err := h.Store.Performance(c.Request().Context(), trading.NormalizeSymbol(q.Symbol), since)
	if err != nil {
		h.log.Error().Err(err).Msg("performance")
		return InternalServerErrorResponse(c)
	}
	if period.StartDate == nil && len(perf.Portfolio) > 0 {
		first := perf.Portfolio[0].Timestamp
		period.StartDate = &first
	}
	return SuccessResponse(c, performanceResponse{
		Metrics:   perf.Metrics,
		ChartData: chartData{Portfolio: perf.Portfolio, Trades: perf.Trades, Signals: perf.Signals},
		Period:    period,
	})
}

type strategyExplanation struct {
	Symbol      string        `json:"symbol"`
	Action      string        `json:"action"`
	Price       float64       `json:"price"`
	Time        time.Time     `json:"time"`
	Explanation string        `json:"explanation"`
	BuyReason   string        `json:"buyReason"`
	Signal      *model.Signal `json:"signal,omitempty"`
}

// currentStrategy explains the latest filled trade with the latest signal
// for its symbol.
func (h *Handler) currentStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	trades, err := h.Store.ListTrades(ctx, recorder.Query{Status: string(model.TradeFilled), Limit: 1})
	if err != nil {
		h.log.Error().Err(err).Msg("latest trade")
		return InternalServerErrorResponse(c)
	}
	if len(trades) == 0 {
		return NotFoundResponse(c, "No trades found")
	}
	tr := trades[0]
	out := strategyExplanation{
		Symbol:      tr.Symbol,
		Action:      strings.ToUpper(string(tr.Side)),
		Price:       tr.Price,
		Time:        tr.Timestamp,
		Explanation: "No signal data available.",
		BuyReason:   "No signal data available.",
	}

	signals, err := h.Store.ListSignals(ctx, recorder.Query{Symbol: tr.Symbol, Limit: 1})
	if err != nil {
		h.log.Error().Err(err).Msg("latest signal")
		return InternalServerErrorResponse(c)
	}
	if len(signals) > 0 {
		s := signals[0]
		out.Signal = &s
		out.Explanation = fmt.Sprintf("Signal: %s. RSI: %.2f, MACD: %.2f. Trade executed based on these indicators.", s.Type, s.RSI, s.MACD)
		out.BuyReason = fmt.Sprintf("Triggered by: RSI=%.2f, MACD=%.2f, MACD Histogram=%.2f.", s.RSI, s.MACD, s.MACDHistogram)
	}
	return SuccessResponse(c, out)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
