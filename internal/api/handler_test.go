package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"AutoTrader/internal/broker/brokertest"
	"AutoTrader/internal/lock"
	"AutoTrader/internal/metrics"
	"AutoTrader/internal/model"
	"AutoTrader/internal/reconciler"
	"AutoTrader/internal/recorder"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/trading"
)

type fakeEngine struct {
	reqs   []trading.Request
	manual []trading.ManualRequest
	result func(trading.Request) trading.Result
}

func (f *fakeEngine) Run(_ context.Context, req trading.Request) trading.Result {
	f.reqs = append(f.reqs, req)
	if f.result != nil {
		return f.result(req)
	}
	return trading.Result{Success: true, Symbol: req.Symbol, Signal: model.SignalHold, Message: "HOLD signal, no action taken"}
}

func (f *fakeEngine) ExecuteSignal(_ context.Context, req trading.ManualRequest) trading.Result {
	f.manual = append(f.manual, req)
	return trading.Result{Success: true, Symbol: req.Symbol, Signal: req.Signal, Executed: req.Signal != model.SignalHold}
}

func (f *fakeEngine) Progress(context.Context) (risk.Growth, error) {
	return risk.Growth{Progress: 100, CurrentValue: 10000}, nil
}

type fakeReconciler struct {
	rep reconciler.Report
	err error
}

func (f *fakeReconciler) Reconcile(context.Context) (reconciler.Report, error) {
	return f.rep, f.err
}

type testAPI struct {
	e      *echo.Echo
	engine *fakeEngine
	recon  *fakeReconciler
	store  *recorder.MemoryStore
	broker *brokertest.Fake
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg).RecordSignal("SPY", "HOLD")

	ta := &testAPI{engine: &fakeEngine{}, recon: &fakeReconciler{}, store: recorder.NewMemoryStore(), broker: brokertest.New()}
	h := NewHandler(Deps{
		Engine:     ta.engine,
		Reconciler: ta.recon,
		Store:      ta.store,
		Broker:     ta.broker,
		Gatherer:   reg,
		Secret:     secret,
	}, zerolog.Nop())
	ta.e = NewServer(h, zerolog.Nop()).Echo()
	return ta
}

func (ta *testAPI) do(method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, APIResponse) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.e.ServeHTTP(rec, req)
	var resp APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestRunCycle_Defaults(t *testing.T) {
	ta := newTestAPI(t, "")
	rec, resp := ta.do(http.MethodPost, "/api/strategy/auto", "", nil)
	if rec.Code != http.StatusOK || resp.Status != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(ta.engine.reqs) != 1 || ta.engine.reqs[0].Symbol != "SPY" || !ta.engine.reqs[0].AutoExecute {
		t.Errorf("expected SPY with autoExecute, got %+v", ta.engine.reqs)
	}
}

func TestRunCycle_ExplicitBody(t *testing.T) {
	ta := newTestAPI(t, "")
	rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{"symbol":" qqq ","autoExecute":false}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := ta.engine.reqs[0]; got.Symbol != "QQQ" || got.AutoExecute {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestRunCycle_Secret(t *testing.T) {
	ta := newTestAPI(t, "s3cret")
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status %d", rec.Code)
	}
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{}`, map[string]string{SecretHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status %d", rec.Code)
	}
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{}`, map[string]string{SecretHeader: "s3cret"}); rec.Code != http.StatusOK {
		t.Errorf("right secret: status %d", rec.Code)
	}
	if len(ta.engine.reqs) != 1 {
		t.Errorf("unauthorized calls must not run cycles, got %d runs", len(ta.engine.reqs))
	}
}

func TestRunCycle_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		res  trading.Result
		want int
	}{
		{"no data", trading.Result{Message: trading.MsgNoMarketData}, http.StatusBadRequest},
		{"failure", trading.Result{Error: "get clock: boom"}, http.StatusInternalServerError},
		{"locked", trading.Result{Error: lock.ErrLocked.Error(), Message: lock.ErrLocked.Error()}, http.StatusConflict},
		{"blocked", trading.Result{Success: true, Message: "Market is closed"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t, "")
			ta.engine.result = func(trading.Request) trading.Result { return tt.res }
			if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{"symbol":"SPY"}`, nil); rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRunCycle_Validation(t *testing.T) {
	ta := newTestAPI(t, "")
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{"symbol":"   "}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("blank symbol: status %d", rec.Code)
	}
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{"symbol":"ABCDEFGHIJKLMNOPQRSTUVWXYZ"}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("long symbol: status %d", rec.Code)
	}
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/auto", `{not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", rec.Code)
	}
	if len(ta.engine.reqs) != 0 {
		t.Error("invalid requests must not run cycles")
	}
}

func TestUpdatePending(t *testing.T) {
	ta := newTestAPI(t, "")
	ta.recon.rep = reconciler.Report{Checked: 2, Updated: 1}
	rec, resp := ta.do(http.MethodPost, "/api/trades/update-pending", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["updated"] != float64(1) {
		t.Errorf("unexpected data %+v", resp.Data)
	}

	ta.recon.err = errors.New("db down")
	if rec, _ := ta.do(http.MethodPost, "/api/trades/update-pending", "", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("status %d", rec.Code)
	}
}

func seed(t *testing.T, store *recorder.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	for i, sym := range []string{"SPY", "QQQ", "SPY"} {
		sig := &model.Signal{Timestamp: now.Add(time.Duration(i) * time.Minute), Symbol: sym, Type: model.SignalHold}
		if err := store.SaveSignal(ctx, sig); err != nil {
			t.Fatalf("SaveSignal: %v", err)
		}
	}
	trades := []*model.Trade{
		{Timestamp: now.Add(-48 * time.Hour), Symbol: "SPY", Side: model.SideBuy, Quantity: 1, Status: model.TradeFilled, OrderID: "a"},
		{Timestamp: now.Add(-time.Hour), Symbol: "SPY", Side: model.SideSell, Quantity: 1, Status: model.TradeBlocked},
		{Timestamp: now, Symbol: "QQQ", Side: model.SideBuy, Quantity: 2, Status: model.TradePending, OrderID: "b"},
	}
	for _, tr := range trades {
		if err := store.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}
	if err := store.SaveSnapshot(ctx, &model.AccountSnapshot{Timestamp: now, PortfolioValue: 1000, AccountStatus: "ACTIVE"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
}

func TestListEndpoints(t *testing.T) {
	ta := newTestAPI(t, "")
	seed(t, ta.store)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/signals", 3},
		{"/api/signals?symbol=spy", 2},
		{"/api/signals?limit=1", 1},
		{"/api/trades", 3},
		{"/api/trades?status=pending", 1},
		{"/api/trades?symbol=SPY&status=blocked", 1},
		{"/api/account/snapshots", 1},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, resp := ta.do(http.MethodGet, tt.target, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
			}
			rows, ok := resp.Data.([]interface{})
			if !ok || len(rows) != tt.want {
				t.Errorf("got %v rows, want %d", resp.Data, tt.want)
			}
		})
	}
}

func TestListEndpoints_Validation(t *testing.T) {
	ta := newTestAPI(t, "")
	for _, target := range []string{"/api/trades?status=weird", "/api/signals?limit=10000", "/api/signals?limit=abc"} {
		if rec, _ := ta.do(http.MethodGet, target, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", target, rec.Code)
		}
	}
}

func TestTradeSummary(t *testing.T) {
	ta := newTestAPI(t, "")
	seed(t, ta.store)
	rec, resp := ta.do(http.MethodGet, "/api/trades/summary", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["count"] != float64(2) {
		t.Errorf("expected 2 trades in the last 24h, got %+v", data)
	}
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	ta := newTestAPI(t, "")
	rec, _ := ta.do(http.MethodGet, "/api/trades", "", nil)
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestGrowthStatisticsHealthMetrics(t *testing.T) {
	ta := newTestAPI(t, "")
	seed(t, ta.store)

	if rec, resp := ta.do(http.MethodGet, "/api/growth", "", nil); rec.Code != http.StatusOK || resp.Data == nil {
		t.Errorf("growth: %d %s", rec.Code, rec.Body.String())
	}
	rec, resp := ta.do(http.MethodGet, "/api/statistics?symbol=spy", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]interface{})
	trades, _ := data["trades"].(map[string]interface{})
	if trades["total"] != float64(2) {
		t.Errorf("statistics for SPY: %+v", data)
	}
	if rec, _ := ta.do(http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: %d", rec.Code)
	}
	rec, _ = ta.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "autotrader_signals_total") {
		t.Errorf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(Recover(zerolog.Nop()))
	e.GET("/boom", func(echo.Context) error { panic("boom") })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status %d", rec.Code)
	}
}

func TestListTrades_DefaultLimit(t *testing.T) {
	ta := newTestAPI(t, "")
	for i := 0; i < 60; i++ {
		if err := ta.store.SaveTrade(context.Background(), &model.Trade{Symbol: "SPY", Side: model.SideBuy, Status: model.TradeBlocked}); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}
	rec, resp := ta.do(http.MethodGet, "/api/trades", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if rows, _ := resp.Data.([]interface{}); len(rows) != 50 {
		t.Errorf("expected default limit of 50, got %d", len(rows))
	}
}

func TestExecuteSignal(t *testing.T) {
	ta := newTestAPI(t, "")
	rec, resp := ta.do(http.MethodPost, "/api/strategy/execute", `{"signalId":7,"symbol":"qqq","signal":"BUY","quantity":3}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(ta.engine.manual) != 1 {
		t.Fatalf("expected one manual execution, got %d", len(ta.engine.manual))
	}
	got := ta.engine.manual[0]
	if got.Symbol != "QQQ" || got.Signal != model.SignalBuy || got.Quantity != 3 || got.SignalID == nil || *got.SignalID != 7 {
		t.Errorf("unexpected request %+v", got)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["executed"] != true {
		t.Errorf("unexpected data %+v", resp.Data)
	}

	rec, _ = ta.do(http.MethodPost, "/api/strategy/execute", `{"signal":"HOLD"}`, nil)
	if rec.Code != http.StatusOK || ta.engine.manual[1].Symbol != "SPY" || ta.engine.manual[1].SignalID != nil {
		t.Errorf("expected default symbol SPY, got %d %+v", rec.Code, ta.engine.manual)
	}
}

func TestExecuteSignal_Validation(t *testing.T) {
	ta := newTestAPI(t, "")
	for _, body := range []string{`{}`, `{"signal":"buy"}`, `{"signal":"SHORT"}`, `{"signal":"BUY","quantity":-1}`, `{"signal":"BUY","symbol":"  "}`} {
		if rec, _ := ta.do(http.MethodPost, "/api/strategy/execute", body, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, rec.Code)
		}
	}
	if len(ta.engine.manual) != 0 {
		t.Error("invalid requests must not execute")
	}
}

func TestExecuteSignal_Secret(t *testing.T) {
	ta := newTestAPI(t, "s3cret")
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/execute", `{"signal":"BUY"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status %d", rec.Code)
	}
	if rec, _ := ta.do(http.MethodPost, "/api/strategy/execute", `{"signal":"BUY"}`, map[string]string{SecretHeader: "s3cret"}); rec.Code != http.StatusOK {
		t.Errorf("right secret: status %d", rec.Code)
	}
	if len(ta.engine.manual) != 1 {
		t.Errorf("expected one authorised execution, got %d", len(ta.engine.manual))
	}
}

func TestCurrentStrategy(t *testing.T) {
	ta := newTestAPI(t, "")
	if rec, _ := ta.do(http.MethodGet, "/api/strategy/current", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("no trades: status %d", rec.Code)
	}

	ctx := context.Background()
	sig := &model.Signal{Symbol: "SPY", Type: model.SignalBuy, RSI: 28.5, MACD: 1.25, MACDHistogram: 0.5}
	if err := ta.store.SaveSignal(ctx, sig); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	if err := ta.store.SaveTrade(ctx, &model.Trade{Symbol: "SPY", OrderID: "o1", Side: model.SideBuy, Quantity: 1, Price: 450, Status: model.TradeFilled}); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	rec, resp := ta.do(http.MethodGet, "/api/strategy/current", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["symbol"] != "SPY" || data["action"] != "BUY" || data["price"] != float64(450) {
		t.Errorf("unexpected data %+v", data)
	}
	if expl, _ := data["explanation"].(string); !strings.Contains(expl, "RSI: 28.50") {
		t.Errorf("unexpected explanation %q", expl)
	}
}

func TestPerformanceEndpoint(t *testing.T) {
	ta := newTestAPI(t, "")
	ctx := context.Background()
	now := time.Now()
	trades := []*model.Trade{
		{Timestamp: now.Add(-40 * 24 * time.Hour), Symbol: "SPY", OrderID: "o1", Side: model.SideBuy, Quantity: 1, Price: 100, Status: model.TradeFilled},
		{Timestamp: now.Add(-2 * 24 * time.Hour), Symbol: "SPY", OrderID: "o2", Side: model.SideSell, Quantity: 1, Price: 110, Status: model.TradeFilled},
	}
	for _, tr := range trades {
		if err := ta.store.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}

	metricsOf := func(target string) map[string]interface{} {
		t.Helper()
		rec, resp := ta.do(http.MethodGet, target, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d body %s", target, rec.Code, rec.Body.String())
		}
		data, _ := resp.Data.(map[string]interface{})
		m, _ := data["metrics"].(map[string]interface{})
		return m
	}

	if m := metricsOf("/api/performance"); m["winningTrades"] != float64(1) || m["totalProfitLoss"] != float64(10) {
		t.Errorf("all history: %+v", m)
	}
	if m := metricsOf("/api/performance?days=3650"); m["totalTrades"] != float64(2) {
		t.Errorf("days at the cap should cover everything: %+v", m)
	}
	if m := metricsOf("/api/performance?days=7&symbol=spy"); m["totalTrades"] != float64(1) || m["winningTrades"] != float64(0) {
		t.Errorf("7 day window: %+v", m)
	}
	if rec, _ := ta.do(http.MethodGet, "/api/performance?days=-1", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative days: status %d", rec.Code)
	}
}

func TestBrokerEndpoints(t *testing.T) {
	ta := newTestAPI(t, "")
	ta.broker.Positions["SPY"] = &model.Position{Symbol: "SPY", Qty: 5, CostBasis: 2000}

	rec, resp := ta.do(http.MethodGet, "/api/account", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account: status %d", rec.Code)
	}
	if data, _ := resp.Data.(map[string]interface{}); data["portfolioValue"] != float64(10000) {
		t.Errorf("unexpected account %+v", resp.Data)
	}
	if snaps, _ := ta.store.ListSnapshots(context.Background(), recorder.Query{}); len(snaps) != 1 {
		t.Errorf("expected account read to save a snapshot, got %d", len(snaps))
	}

	rec, resp = ta.do(http.MethodGet, "/api/positions", "", nil)
	if rows, _ := resp.Data.([]interface{}); rec.Code != http.StatusOK || len(rows) != 1 {
		t.Errorf("positions: %d %s", rec.Code, rec.Body.String())
	}

	rec, resp = ta.do(http.MethodGet, "/api/market/status", "", nil)
	if data, _ := resp.Data.(map[string]interface{}); rec.Code != http.StatusOK || data["isOpen"] != true {
		t.Errorf("market status: %d %s", rec.Code, rec.Body.String())
	}

	ta.broker.AccountErr = errors.New("broker down")
	if rec, _ := ta.do(http.MethodGet, "/api/account", "", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("account error: status %d", rec.Code)
	}
	ta.broker.ClockErr = errors.New("broker down")
	if rec, _ := ta.do(http.MethodGet, "/api/market/status", "", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("clock error: status %d", rec.Code)
	}
}

func TestPositions_Empty(t *testing.T) {
	ta := newTestAPI(t, "")
	rec, _ := ta.do(http.MethodGet, "/api/positions", "", nil)
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}
