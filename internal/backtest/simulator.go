package backtest

import (
	"math"

	"stock-backtest/internal/market"
)

// Simulate 按目标权重与再平衡频率推演组合净值曲线。
// 价格缺失的交易日直接丢弃观测，绝不填充价格；
// 价格切片没有任何可用行时返回 nil，调用方视为"该组合无数据"。
func Simulate(cfg PortfolioConfig, prices market.PriceMatrix, initialAmount float64) market.EquityCurve {
	symbols := make([]string, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		symbols[i] = market.Normalize(s)
	}

	slice := prices.Restrict(symbols)
	if slice.IsEmpty() {
		return nil
	}

	weights := make([]float64, len(cfg.Weights))
	for i, w := range cfg.Weights {
		weights[i] = w / 100
	}

	dates := slice.Dates()
	rebalanceSet := make(map[int64]struct{})
	for _, date := range Schedule(dates, cfg.Rebalance) {
		rebalanceSet[date.Unix()] = struct{}{}
	}

	complete := func(i int) bool {
		for _, sym := range symbols {
			if math.IsNaN(slice.Value(sym, i)) {
				return false
			}
		}
		return true
	}

	shares := make([]float64, len(symbols))
	invested := false
	curve := make(market.EquityCurve, 0, len(dates))

	for i, date := range dates {
		if !complete(i) {
			continue
		}

		if !invested {
			for j, sym := range symbols {
				shares[j] = initialAmount * weights[j] / (slice.Value(sym, i) + epsilon)
			}
			invested = true
		}

		value := 0.0
		for j, sym := range symbols {
			value += shares[j] * slice.Value(sym, i)
		}
		curve = append(curve, market.Point{Date: date, Value: value})

		if _, ok := rebalanceSet[date.Unix()]; ok {
			for j, sym := range symbols {
				shares[j] = value * weights[j] / (slice.Value(sym, i) + epsilon)
			}
		}
	}

	if len(curve) == 0 {
		return nil
	}
	return curve
}

// RunPortfolio 推演组合并计算绩效指标，无数据时返回 nil。
func RunPortfolio(cfg PortfolioConfig, prices market.PriceMatrix, initialAmount float64, benchmark market.EquityCurve, riskFreeRate float64) *Result {
	curve := Simulate(cfg, prices, initialAmount)
	if len(curve) == 0 {
		return nil
	}
	return &Result{
		Metrics: ComputeMetrics(curve, benchmark, riskFreeRate),
		Curve:   curve,
	}
}
