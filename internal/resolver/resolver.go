package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/cache"
	"stock-backtest/internal/market"
)

// ErrUnresolved 表示所有数据层都失败且一个代码都没有解析出来。
// 部分代码缺数据不是错误，缺失代码以逐项"无数据"形式体现在响应里。
var ErrUnresolved = errors.New("resolver: 没有可用的价格数据")

// Tier 为价格数据层的统一能力：尽力返回部分矩阵，按配置顺序逐层兜底。
type Tier interface {
	Name() string
	Resolve(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error)
}

// TimedTier 将数据层与其缓存存活时间绑定。
type TimedTier struct {
	Tier Tier
	TTL  time.Duration
}

// Resolver 按层级顺序拼装价格矩阵：
// 每一层只负责上一层未能解析的代码，结果按列并集合并；
// 每层的取数都以（代码集合, 窗口）为键包在共享缓存后面。
type Resolver struct {
	tiers  []TimedTier
	cache  *cache.Cache
	logger *zap.Logger
}

// New 创建解析器，tiers 的顺序即兜底顺序。
func New(store *cache.Cache, tiers []TimedTier, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("resolver: cache 不能为空")
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("resolver: 至少需要一个数据层")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{tiers: tiers, cache: store, logger: logger}, nil
}

// Resolve 返回窗口内能拼装出来的最大价格矩阵。
// 只有在请求非空且所有层都拿不到任何数据时才返回 ErrUnresolved。
func (r *Resolver) Resolve(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error) {
	symbols = market.NormalizeAll(symbols)
	result := market.NewBuilder().Build()
	if len(symbols) == 0 {
		return result, nil
	}

	remaining := symbols
	for _, entry := range r.tiers {
		if len(remaining) == 0 {
			break
		}

		key := cacheKey(entry.Tier.Name(), remaining, start, end)
		value, err := r.cache.GetOrCompute(key, entry.TTL, func() (interface{}, error) {
			return entry.Tier.Resolve(ctx, remaining, start, end)
		})
		if err != nil {
			r.logger.Warn("数据层取数失败，继续尝试下一层",
				zap.String("tier", entry.Tier.Name()),
				zap.Int("symbols", len(remaining)),
				zap.Error(err),
			)
			continue
		}

		partial, ok := value.(market.PriceMatrix)
		if !ok {
			continue
		}

		result = result.Merge(partial)
		remaining = subtract(symbols, result.ResolvedSymbols())

		r.logger.Debug("数据层解析完成",
			zap.String("tier", entry.Tier.Name()),
			zap.Int("resolved", len(symbols)-len(remaining)),
			zap.Int("remaining", len(remaining)),
		)
	}

	if result.IsEmpty() {
		return result, ErrUnresolved
	}
	return result, nil
}

func cacheKey(tier string, symbols []string, start, end time.Time) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return fmt.Sprintf("prices|%s|%s|%s|%s",
		tier,
		strings.Join(sorted, ","),
		market.Day(start).Format("2006-01-02"),
		market.Day(end).Format("2006-01-02"),
	)
}

func subtract(symbols, resolved []string) []string {
	done := make(map[string]struct{}, len(resolved))
	for _, sym := range resolved {
		done[sym] = struct{}{}
	}
	rest := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := done[sym]; !ok {
			rest = append(rest, sym)
		}
	}
	return rest
}
