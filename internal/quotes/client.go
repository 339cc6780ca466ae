package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stock-backtest/internal/config"
	"stock-backtest/internal/market"
)

// ErrNoResult 表示行情源对该代码没有返回任何数据。
var ErrNoResult = errors.New("quotes: no result")

// Client 从远端行情源按日线批量拉取复权收盘价（tier 2 数据源）。
// 为遵守上游限流，代码列表会按固定大小分批，批内并发请求。
type Client struct {
	cfg    config.QuotesConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient 构造行情客户端。
func NewClient(cfg config.QuotesConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name 返回数据层名称。
func (c *Client) Name() string {
	return "quotes"
}

// Resolve 为解析器提供窗口内的价格子集。
func (c *Client) Resolve(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error) {
	return c.Fetch(ctx, symbols, start, end)
}

// Fetch 拉取给定代码在 [start, end] 内的日线数据。
// 单个代码失败只影响该代码本身，不中断整批请求。
func (c *Client) Fetch(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error) {
	symbols = market.NormalizeAll(symbols)

	builder := market.NewBuilder()
	var mu sync.Mutex

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for offset := 0; offset < len(symbols); offset += batchSize {
		batch := symbols[offset:min(offset+batchSize, len(symbols))]

		group, groupCtx := errgroup.WithContext(ctx)
		for _, sym := range batch {
			group.Go(func() error {
				points, err := c.fetchSymbol(groupCtx, sym, start, end)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					c.logger.Warn("拉取行情失败，该代码保持未解析",
						zap.String("symbol", sym),
						zap.Error(err),
					)
					return nil
				}

				mu.Lock()
				for _, p := range points {
					builder.Set(p.date, sym, p.close)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return market.PriceMatrix{}, err
		}
	}

	return builder.Build().Window(start, end), nil
}

type pricePoint struct {
	date  time.Time
	close float64
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("quotes: http %d", e.status)
}

func (c *Client) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) ([]pricePoint, error) {
	var points []pricePoint
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_chart_%s", symbol), func() error {
		result, err := c.requestChart(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	return points, err
}

func (c *Client) requestChart(ctx context.Context, symbol string, start, end time.Time) ([]pricePoint, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", c.cfg.BaseURL, url.PathEscape(symbol))

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("quotes: 构造请求失败: %w", err)
	}

	q := req.URL.Query()
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprintf("%d", market.Day(start).Unix()))
	// period2 为开区间，向后多取一天以包含 end 当日。
	q.Set("period2", fmt.Sprintf("%d", market.Day(end).Add(24*time.Hour).Unix()))
	q.Set("events", "div,split")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", "stock-backtest/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					AdjClose []struct {
						AdjClose []float64 `json:"adjclose"`
					} `json:"adjclose"`
					Quote []struct {
						Close []float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("quotes: 解析响应失败: %w", err)
	}
	if len(raw.Chart.Result) == 0 {
		return nil, ErrNoResult
	}

	r := raw.Chart.Result[0]
	closes := []float64(nil)
	if len(r.Indicators.AdjClose) > 0 {
		closes = r.Indicators.AdjClose[0].AdjClose
	}
	if len(closes) != len(r.Timestamp) && len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
	}
	if len(closes) != len(r.Timestamp) {
		return nil, ErrNoResult
	}

	points := make([]pricePoint, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if closes[i] <= 0 {
			continue
		}
		points = append(points, pricePoint{
			date:  market.Day(time.Unix(ts, 0)),
			close: closes[i],
		})
	}
	if len(points) == 0 {
		return nil, ErrNoResult
	}
	return points, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !isRetryable(err) || attempt >= maxAttempts {
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError ||
			statusErr.status == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
