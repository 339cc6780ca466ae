package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stock-backtest/internal/backtest"
	"stock-backtest/internal/config"
	"stock-backtest/internal/fundamentals"
	"stock-backtest/internal/market"
	"stock-backtest/internal/monitor"
	"stock-backtest/internal/resolver"
)

const dayLayout = "2006-01-02"

type handlers struct {
	cfg          *config.Config
	resolver     *resolver.Resolver
	fundamentals *fundamentals.Client
	monitor      *monitor.Service
	logger       *zap.Logger
}

func (h *handlers) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", h.handleIndex)
	mux.HandleFunc("POST /api/scan", h.handleScan)
	mux.HandleFunc("POST /api/backtest", h.handleBacktest)
	mux.HandleFunc("GET /api/screener", h.handleScreener)
	mux.HandleFunc("GET /events", h.handleEvents)
	return mux
}

// --- 请求/响应载荷 ---

type scanRequest struct {
	Tickers    []string `json:"tickers"`
	Benchmark  string   `json:"benchmark"`
	StartYear  int      `json:"startYear"`
	StartMonth int      `json:"startMonth"`
	EndYear    int      `json:"endYear"`
	EndMonth   int      `json:"endMonth"`
}

type scanResult struct {
	Ticker string `json:"ticker"`
	*backtest.MetricsRecord
	Note  string `json:"note,omitempty"`
	Error string `json:"error,omitempty"`
}

type portfolioRequest struct {
	Name      string    `json:"name"`
	Tickers   []string  `json:"tickers"`
	Weights   []float64 `json:"weights"`
	Rebalance string    `json:"rebalance"`
}

type backtestRequest struct {
	Portfolios    []portfolioRequest `json:"portfolios"`
	Benchmark     string             `json:"benchmark"`
	InitialAmount float64            `json:"initialAmount"`
	StartYear     int                `json:"startYear"`
	StartMonth    int                `json:"startMonth"`
	EndYear       int                `json:"endYear"`
	EndMonth      int                `json:"endMonth"`
}

type curvePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type portfolioResult struct {
	Name        string                  `json:"name"`
	Metrics     *backtest.MetricsRecord `json:"metrics,omitempty"`
	EquityCurve []curvePoint            `json:"equity_curve,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

type completenessNote struct {
	Ticker      string `json:"ticker"`
	ActualStart string `json:"actual_start"`
}

type backtestResponse struct {
	Start    string             `json:"start"`
	End      string             `json:"end"`
	Results  []portfolioResult  `json:"results"`
	Warnings []completenessNote `json:"warnings,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- 处理函数 ---

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleScan(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	began := time.Now()

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "请求格式不正确"})
		return
	}

	tickers := market.NormalizeAll(req.Tickers)
	if len(tickers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "股票代码列表不可为空"})
		return
	}

	start, end, err := monthRange(req.StartYear, req.StartMonth, req.EndYear, req.EndMonth)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	all := tickers
	benchmark := market.Normalize(req.Benchmark)
	if benchmark != "" {
		all = append(append([]string(nil), tickers...), benchmark)
	}

	matrix, err := h.resolver.Resolve(r.Context(), all, start, end)
	if err != nil {
		if errors.Is(err, resolver.ErrUnresolved) {
			// 与部分缺数据一致：逐票返回"无数据"，不作为请求级错误。
			results := make([]scanResult, 0, len(tickers))
			for _, t := range tickers {
				results = append(results, scanResult{Ticker: t, Error: "在指定范围找不到数据"})
			}
			writeJSON(w, http.StatusOK, results)
			return
		}
		h.monitor.RecordError(r.Context(), requestID, "扫描请求失败", err)
		h.logger.Error("扫描请求失败", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "服务器发生未预期的错误"})
		return
	}

	var benchCurve market.EquityCurve
	if benchmark != "" {
		benchCurve = matrix.SeriesCurve(benchmark)
	}

	results := make([]scanResult, 0, len(tickers))
	for _, t := range tickers {
		curve := matrix.SeriesCurve(t)
		if len(curve) == 0 {
			results = append(results, scanResult{Ticker: t, Error: "找不到数据"})
			continue
		}

		note := ""
		issues := backtest.ValidateCompleteness(matrix, []string{t}, start, h.cfg.Simulation.MaxStartLagDays)
		if len(issues) > 0 {
			note = fmt.Sprintf("(数据自 %s 开始)", issues[0].ActualStart.Format(dayLayout))
		}

		metrics := backtest.ComputeMetrics(curve, benchCurve, h.cfg.Simulation.RiskFreeRate)
		results = append(results, scanResult{Ticker: t, MetricsRecord: &metrics, Note: note})
	}

	h.monitor.RecordRequest(r.Context(), monitor.EventScan, monitor.RequestPayload{
		RequestID:  requestID,
		Tickers:    tickers,
		Benchmark:  benchmark,
		Start:      start.Format(dayLayout),
		End:        end.Format(dayLayout),
		Results:    len(results),
		DurationMS: time.Since(began).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, results)
}

func (h *handlers) handleBacktest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	began := time.Now()

	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "请求格式不正确"})
		return
	}
	if len(req.Portfolios) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "组合列表不可为空"})
		return
	}

	start, end, err := monthRange(req.StartYear, req.StartMonth, req.EndYear, req.EndMonth)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	initialAmount := req.InitialAmount
	if initialAmount <= 0 {
		initialAmount = h.cfg.Simulation.InitialAmount
	}

	configs := make([]backtest.PortfolioConfig, 0, len(req.Portfolios))
	union := make([]string, 0)
	for i, p := range req.Portfolios {
		cadence, err := backtest.ParseCadence(p.Rebalance)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("组合 %d", i+1)
		}
		cfg := backtest.PortfolioConfig{
			Name:      name,
			Symbols:   market.NormalizeAll(p.Tickers),
			Weights:   p.Weights,
			Rebalance: cadence,
		}
		if err := cfg.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		configs = append(configs, cfg)
		union = append(union, cfg.Symbols...)
	}
	union = market.NormalizeAll(union)
	if len(union) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "股票代码列表不可为空"})
		return
	}

	all := union
	benchmark := market.Normalize(req.Benchmark)
	if benchmark != "" {
		all = append(append([]string(nil), union...), benchmark)
	}

	matrix, err := h.resolver.Resolve(r.Context(), all, start, end)
	if err != nil {
		if errors.Is(err, resolver.ErrUnresolved) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "在指定范围没有可用的价格数据"})
			return
		}
		h.monitor.RecordError(r.Context(), requestID, "回测请求失败", err)
		h.logger.Error("回测请求失败", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "服务器发生未预期的错误"})
		return
	}

	warnings := make([]completenessNote, 0)
	for _, issue := range backtest.ValidateCompleteness(matrix, union, start, h.cfg.Simulation.MaxStartLagDays) {
		warnings = append(warnings, completenessNote{
			Ticker:      issue.Symbol,
			ActualStart: issue.ActualStart.Format(dayLayout),
		})
	}

	var benchCurve market.EquityCurve
	if benchmark != "" {
		benchCurve = matrix.SeriesCurve(benchmark)
	}

	// 各组合相互独立，可并行推演，结果仍按请求顺序组装。
	results := make([]portfolioResult, len(configs))
	group := new(errgroup.Group)
	for i, cfg := range configs {
		group.Go(func() error {
			res := backtest.RunPortfolio(cfg, matrix, initialAmount, benchCurve, h.cfg.Simulation.RiskFreeRate)
			if res == nil {
				results[i] = portfolioResult{Name: cfg.Name, Error: "该组合在区间内无数据"}
				return nil
			}
			results[i] = portfolioResult{
				Name:        cfg.Name,
				Metrics:     &res.Metrics,
				EquityCurve: renderCurve(res.Curve),
			}
			return nil
		})
	}
	_ = group.Wait()

	h.monitor.RecordRequest(r.Context(), monitor.EventBacktest, monitor.RequestPayload{
		RequestID:  requestID,
		Tickers:    union,
		Benchmark:  benchmark,
		Portfolios: len(configs),
		Start:      start.Format(dayLayout),
		End:        end.Format(dayLayout),
		Results:    len(results),
		DurationMS: time.Since(began).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, backtestResponse{
		Start:    start.Format(dayLayout),
		End:      end.Format(dayLayout),
		Results:  results,
		Warnings: warnings,
	})
}

func (h *handlers) handleScreener(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	began := time.Now()

	records, err := h.fundamentals.Fetch(r.Context())
	if err != nil {
		if errors.Is(err, fundamentals.ErrNotConfigured) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "基本面数据源未配置"})
			return
		}
		h.monitor.RecordError(r.Context(), requestID, "筛选请求失败", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "服务器发生未预期的错误"})
		return
	}

	h.monitor.RecordRequest(r.Context(), monitor.EventScreener, monitor.RequestPayload{
		RequestID:  requestID,
		Results:    len(records),
		DurationMS: time.Since(began).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := h.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- 辅助函数 ---

// monthRange 把起止年月换算成窗口：起始为当月首日，结束为当月最后一天。
func monthRange(startYear, startMonth, endYear, endMonth int) (time.Time, time.Time, error) {
	if startYear < 1900 || startMonth < 1 || startMonth > 12 ||
		endYear < 1900 || endMonth < 1 || endMonth > 12 {
		return time.Time{}, time.Time{}, errors.New("起止年月不合法")
	}
	start := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, time.Month(endMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("结束年月早于起始年月")
	}
	return start, end, nil
}

func renderCurve(curve market.EquityCurve) []curvePoint {
	points := make([]curvePoint, len(curve))
	for i, p := range curve {
		points[i] = curvePoint{Date: p.Date.Format(dayLayout), Value: p.Value}
	}
	return points
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
