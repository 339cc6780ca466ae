package fundamentals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/cache"
	"stock-backtest/internal/config"
)

// ErrNotConfigured 表示基本面数据源地址未配置。
var ErrNotConfigured = errors.New("fundamentals: endpoint 未配置")

// Record 为单只股票的基本面条目，字段与摄取任务产出的 JSON 文档对应。
type Record struct {
	Symbol              string  `json:"symbol"`
	ShortName           string  `json:"shortName"`
	Sector              string  `json:"sector"`
	MarketCap           float64 `json:"marketCap"`
	TrailingPE          float64 `json:"trailingPE"`
	ForwardPE           float64 `json:"forwardPE"`
	PriceToBook         float64 `json:"priceToBook"`
	EnterpriseToRevenue float64 `json:"enterpriseToRevenue"`
	EnterpriseToEbitda  float64 `json:"enterpriseToEbitda"`
	ProfitMargins       float64 `json:"profitMargins"`
}

// Client 拉取预处理好的基本面 JSON 文档，仅供筛选接口使用。
// 结果在共享缓存中保留较长时间；传输失败时降级为空结果集。
type Client struct {
	cfg    config.FundamentalsConfig
	ttl    time.Duration
	http   *http.Client
	cache  *cache.Cache
	logger *zap.Logger
}

// NewClient 构造基本面客户端。
func NewClient(cfg config.FundamentalsConfig, ttl time.Duration, store *cache.Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		ttl:    ttl,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  store,
		logger: logger,
	}
}

// Fetch 返回基本面条目列表。
// endpoint 未配置时返回 ErrNotConfigured；传输或解析失败只记录日志并返回空集，
// 失败结果不会写入缓存。
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	if c.cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}

	key := "fundamentals|" + c.cfg.Endpoint
	value, err := c.cache.GetOrCompute(key, c.ttl, func() (interface{}, error) {
		return c.download(ctx)
	})
	if err != nil {
		c.logger.Warn("拉取基本面数据失败，降级为空结果", zap.Error(err))
		return []Record{}, nil
	}

	records, ok := value.([]Record)
	if !ok {
		return []Record{}, nil
	}
	return records, nil
}

func (c *Client) download(ctx context.Context) ([]Record, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fundamentals: 构造请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "stock-backtest/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fundamentals: 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fundamentals: http %d", resp.StatusCode)
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("fundamentals: 解析文档失败: %w", err)
	}
	return records, nil
}
