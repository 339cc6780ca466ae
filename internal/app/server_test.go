package app

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/cache"
	"stock-backtest/internal/config"
	"stock-backtest/internal/fundamentals"
	"stock-backtest/internal/market"
	"stock-backtest/internal/monitor"
	"stock-backtest/internal/resolver"
	"stock-backtest/internal/store"
)

type fakeTier struct {
	prices map[string][]float64
	dates  []time.Time
}

func (f *fakeTier) Name() string { return "snapshot" }

func (f *fakeTier) Resolve(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error) {
	b := market.NewBuilder()
	for _, sym := range symbols {
		prices, ok := f.prices[sym]
		if !ok {
			continue
		}
		for i, p := range prices {
			if math.IsNaN(p) {
				continue
			}
			b.Set(f.dates[i], sym, p)
		}
	}
	return b.Build().Window(start, end), nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func janDates() []time.Time {
	return []time.Time{
		day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4),
		day(2024, 1, 5), day(2024, 1, 8), day(2024, 1, 9),
	}
}

func newTestHandlers(t *testing.T, tier *fakeTier) *handlers {
	t.Helper()

	cfg := &config.Config{
		Simulation: config.SimulationConfig{
			InitialAmount:   10000,
			RiskFreeRate:    0,
			MaxStartLagDays: 5,
		},
	}

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("初始化内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mon, err := monitor.NewService(st, nil)
	if err != nil {
		t.Fatalf("初始化审计服务失败: %v", err)
	}

	res, err := resolver.New(cache.New(nil), []resolver.TimedTier{
		{Tier: tier, TTL: time.Minute},
	}, nil)
	if err != nil {
		t.Fatalf("初始化解析器失败: %v", err)
	}

	fund := fundamentals.NewClient(config.FundamentalsConfig{Timeout: time.Second}, time.Hour, cache.New(nil), nil)

	return &handlers{
		cfg:          cfg,
		resolver:     res,
		fundamentals: fund,
		monitor:      mon,
		logger:       zap.NewNop(),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleIndex(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})
	rec := doJSON(t, h.routes(), http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleScan(t *testing.T) {
	tier := &fakeTier{dates: janDates(), prices: map[string][]float64{
		"AAPL": {100, 101, 103, 102, 105, 107},
		"SPY":  {470, 471, 472, 471, 474, 476},
	}}
	h := newTestHandlers(t, tier)

	rec := doJSON(t, h.routes(), http.MethodPost, "/api/scan", `{
		"tickers": ["aapl"],
		"benchmark": "SPY",
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var results []struct {
		Ticker string   `json:"ticker"`
		CAGR   *float64 `json:"cagr"`
		MDD    *float64 `json:"mdd"`
		Beta   *float64 `json:"beta"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Ticker != "AAPL" {
		t.Errorf("ticker = %s, want AAPL", results[0].Ticker)
	}
	if results[0].Error != "" {
		t.Errorf("unexpected error: %s", results[0].Error)
	}
	if results[0].CAGR == nil || results[0].Beta == nil {
		t.Errorf("expected cagr and beta in payload: %+v", results[0])
	}
}

func TestHandleScanValidation(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})
	mux := h.routes()

	cases := []struct {
		name string
		body string
	}{
		{"坏JSON", `{`},
		{"空代码列表", `{"tickers": [], "startYear": 2024, "startMonth": 1, "endYear": 2024, "endMonth": 1}`},
		{"非法月份", `{"tickers": ["AAPL"], "startYear": 2024, "startMonth": 13, "endYear": 2024, "endMonth": 1}`},
		{"结束早于起始", `{"tickers": ["AAPL"], "startYear": 2024, "startMonth": 6, "endYear": 2024, "endMonth": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doJSON(t, mux, http.MethodPost, "/api/scan", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleScanNoData(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})

	rec := doJSON(t, h.routes(), http.MethodPost, "/api/scan", `{
		"tickers": ["GONE"],
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("missing data should still answer 200, got %d", rec.Code)
	}

	var results []struct {
		Ticker string `json:"ticker"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Errorf("expected per-ticker error entry, got %+v", results)
	}
}

func TestHandleBacktest(t *testing.T) {
	tier := &fakeTier{dates: janDates(), prices: map[string][]float64{
		"AAPL": {100, 101, 103, 102, 105, 107},
		"MSFT": {330, 332, 331, 335, 338, 340},
	}}
	h := newTestHandlers(t, tier)

	rec := doJSON(t, h.routes(), http.MethodPost, "/api/backtest", `{
		"portfolios": [
			{"name": "均衡", "tickers": ["AAPL", "MSFT"], "weights": [50, 50], "rebalance": "monthly"},
			{"tickers": ["AAPL"], "weights": [100]}
		],
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Start   string `json:"start"`
		End     string `json:"end"`
		Results []struct {
			Name        string `json:"name"`
			Metrics     *struct {
				CAGR float64 `json:"cagr"`
			} `json:"metrics"`
			EquityCurve []struct {
				Date  string  `json:"date"`
				Value float64 `json:"value"`
			} `json:"equity_curve"`
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	if resp.Start != "2024-01-01" || resp.End != "2024-01-31" {
		t.Errorf("window = %s..%s", resp.Start, resp.End)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Name != "均衡" {
		t.Errorf("results must keep request order, got %s first", resp.Results[0].Name)
	}
	if resp.Results[1].Name != "组合 2" {
		t.Errorf("unnamed portfolio should get a default name, got %s", resp.Results[1].Name)
	}
	for i, r := range resp.Results {
		if r.Error != "" {
			t.Errorf("results[%d] error: %s", i, r.Error)
		}
		if r.Metrics == nil || len(r.EquityCurve) != len(janDates()) {
			t.Errorf("results[%d] incomplete: %+v", i, r)
		}
	}
	if v := resp.Results[1].EquityCurve[0].Value; !(v > 9999 && v < 10001) {
		t.Errorf("curve should start at initial amount, got %v", v)
	}
}

func TestHandleBacktestValidation(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})
	mux := h.routes()

	cases := []struct {
		name string
		body string
	}{
		{"空组合列表", `{"portfolios": [], "startYear": 2024, "startMonth": 1, "endYear": 2024, "endMonth": 1}`},
		{"未知再平衡频率", `{"portfolios": [{"tickers": ["AAPL"], "weights": [100], "rebalance": "hourly"}], "startYear": 2024, "startMonth": 1, "endYear": 2024, "endMonth": 1}`},
		{"权重数量不匹配", `{"portfolios": [{"tickers": ["AAPL"], "weights": [60, 40]}], "startYear": 2024, "startMonth": 1, "endYear": 2024, "endMonth": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doJSON(t, mux, http.MethodPost, "/api/backtest", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleBacktestUnresolved(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})

	rec := doJSON(t, h.routes(), http.MethodPost, "/api/backtest", `{
		"portfolios": [{"tickers": ["GONE"], "weights": [100]}],
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleBacktestLateStartWarning(t *testing.T) {
	nan := math.NaN()
	tier := &fakeTier{dates: janDates(), prices: map[string][]float64{
		"AAPL": {100, 101, 103, 102, 105, 107},
		// LATE 自 2024-01-09 起才有数据，晚于 5 个工作日的阈值（01-08）。
		"LATE": {nan, nan, nan, nan, nan, 50},
	}}
	h := newTestHandlers(t, tier)

	rec := doJSON(t, h.routes(), http.MethodPost, "/api/backtest", `{
		"portfolios": [{"tickers": ["AAPL", "LATE"], "weights": [50, 50]}],
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Warnings []struct {
			Ticker      string `json:"ticker"`
			ActualStart string `json:"actual_start"`
		} `json:"warnings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", resp.Warnings)
	}
	if resp.Warnings[0].Ticker != "LATE" || resp.Warnings[0].ActualStart != "2024-01-09" {
		t.Errorf("unexpected warning: %+v", resp.Warnings[0])
	}
}

func TestHandleScreenerNotConfigured(t *testing.T) {
	h := newTestHandlers(t, &fakeTier{dates: janDates()})

	rec := doJSON(t, h.routes(), http.MethodGet, "/api/screener", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Error == "" {
		t.Errorf("expected configuration error message")
	}
}

func TestHandleEventsRecordsScan(t *testing.T) {
	tier := &fakeTier{dates: janDates(), prices: map[string][]float64{
		"AAPL": {100, 101, 103, 102, 105, 107},
	}}
	h := newTestHandlers(t, tier)
	mux := h.routes()

	rec := doJSON(t, mux, http.MethodPost, "/api/scan", `{
		"tickers": ["AAPL"],
		"startYear": 2024, "startMonth": 1,
		"endYear": 2024, "endMonth": 1
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/events?type=scan&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var events []struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("解析事件失败: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 scan event, got %d", len(events))
	}
	if events[0].Type != string(monitor.EventScan) {
		t.Errorf("event type = %s, want scan", events[0].Type)
	}

	var payload struct {
		Tickers []string `json:"tickers"`
		Results int      `json:"results"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("解析事件载荷失败: %v", err)
	}
	if len(payload.Tickers) != 1 || payload.Tickers[0] != "AAPL" {
		t.Errorf("payload tickers = %v", payload.Tickers)
	}
	if payload.Results != 1 {
		t.Errorf("payload results = %d, want 1", payload.Results)
	}
}

func TestMonthRange(t *testing.T) {
	start, end, err := monthRange(2024, 2, 2024, 2)
	if err != nil {
		t.Fatalf("monthRange returned error: %v", err)
	}
	if !start.Equal(day(2024, 2, 1)) {
		t.Errorf("start = %v", start)
	}
	// 2024 为闰年。
	if !end.Equal(day(2024, 2, 29)) {
		t.Errorf("end = %v", end)
	}

	if _, _, err := monthRange(2024, 0, 2024, 1); err == nil {
		t.Errorf("expected error for month 0")
	}
}
