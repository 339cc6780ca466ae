package backtest

import (
	"fmt"
	"strings"

	"stock-backtest/internal/market"
)

const (
	// epsilon 用于避免除零与零起始值判断。
	epsilon = 1e-9
	// tradingDaysPerYear 为年化波动率所用的交易日数。
	tradingDaysPerYear = 252.0
	// daysPerYear 为计算 CAGR 的自然日换算。
	daysPerYear = 365.25
)

// Cadence 表示再平衡频率。
type Cadence string

const (
	CadenceNever     Cadence = "never"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnually  Cadence = "annually"
)

// ParseCadence 解析再平衡频率，空串按 never 处理。
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(strings.ToLower(strings.TrimSpace(s))) {
	case "", CadenceNever:
		return CadenceNever, nil
	case CadenceMonthly:
		return CadenceMonthly, nil
	case CadenceQuarterly:
		return CadenceQuarterly, nil
	case CadenceAnnually:
		return CadenceAnnually, nil
	default:
		return "", fmt.Errorf("backtest: 不支持的再平衡频率 %q", s)
	}
}

// PortfolioConfig 定义单个待回测组合。
// Weights 为百分比口径（如 60 表示 60%），引擎内部除以 100 归一，
// 不要求权重之和恰好为 100。
type PortfolioConfig struct {
	Name      string
	Symbols   []string
	Weights   []float64
	Rebalance Cadence
}

// Validate 对组合配置进行基本校验。
func (c PortfolioConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("backtest: 组合 %q 的股票列表不能为空", c.Name)
	}
	if len(c.Symbols) != len(c.Weights) {
		return fmt.Errorf("backtest: 组合 %q 的股票与权重数量不一致", c.Name)
	}
	for i, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("backtest: 组合 %q 第 %d 个权重不能为负", c.Name, i+1)
		}
	}
	return nil
}

// MetricsRecord 汇总一条净值曲线的绩效指标。
// 没有基准或基准方差退化时 Beta/Alpha 为空。
type MetricsRecord struct {
	CAGR         float64  `json:"cagr"`
	MDD          float64  `json:"mdd"`
	Volatility   float64  `json:"volatility"`
	SharpeRatio  float64  `json:"sharpe_ratio"`
	SortinoRatio float64  `json:"sortino_ratio"`
	Beta         *float64 `json:"beta"`
	Alpha        *float64 `json:"alpha"`
	CustomScore  float64  `json:"custom_score"`
}

// Result 为单个组合的回测输出。
type Result struct {
	Metrics MetricsRecord
	Curve   market.EquityCurve
}
