package backtest

import (
	"math"
	"time"

	"stock-backtest/internal/market"
)

// ComputeMetrics 由净值曲线推导绩效指标。
// 退化输入按固定顺序检查，每一档都立即返回定义良好的记录，绝不报错：
// 点数不足两个→全零；起始值低于 epsilon→CAGR 0 且 MDD -1（全损哨兵）；
// 有效日收益不足两个→只保留 CAGR/MDD。
func ComputeMetrics(curve, benchmark market.EquityCurve, riskFreeRate float64) MetricsRecord {
	if len(curve) < 2 {
		return MetricsRecord{}
	}

	first := curve[0]
	last := curve[len(curve)-1]

	if first.Value < epsilon {
		return MetricsRecord{MDD: -1}
	}

	years := last.Date.Sub(first.Date).Hours() / 24 / daysPerYear
	cagr := 0.0
	if years > 0 {
		cagr = math.Pow(last.Value/first.Value, 1/years) - 1
	}

	mdd := maxDrawdown(curve)

	returnDates, returns := dailyReturns(curve)
	if len(returns) < 2 {
		return MetricsRecord{CAGR: cagr, MDD: mdd}
	}

	volatility := sampleStd(returns) * math.Sqrt(tradingDaysPerYear)
	excess := cagr - riskFreeRate
	sharpe := excess / (volatility + epsilon)

	dailyRF := math.Pow(1+riskFreeRate, 1/tradingDaysPerYear) - 1
	downsideSquares := 0.0
	for _, r := range returns {
		d := math.Min(r-dailyRF, 0)
		downsideSquares += d * d
	}
	downsideStd := math.Sqrt(downsideSquares/float64(len(returns))) * math.Sqrt(tradingDaysPerYear)
	sortino := 0.0
	if downsideStd > epsilon {
		sortino = excess / downsideStd
	}

	var beta, alpha *float64
	if len(benchmark) >= 2 {
		beta, alpha = regressAgainstBenchmark(returnDates, returns, benchmark, years, cagr, riskFreeRate)
	}

	// 清理非有限值。
	if !isFinite(sharpe) {
		sharpe = 0
	}
	if !isFinite(sortino) {
		sortino = 0
	}
	if beta != nil && !isFinite(*beta) {
		beta, alpha = nil, nil
	}
	if alpha != nil && !isFinite(*alpha) {
		alpha = nil
	}

	alphaValue := 0.0
	if alpha != nil {
		alphaValue = *alpha
	}
	customScore := sortino * alphaValue * (1 + mdd)

	return MetricsRecord{
		CAGR:         cagr,
		MDD:          mdd,
		Volatility:   volatility,
		SharpeRatio:  sharpe,
		SortinoRatio: sortino,
		Beta:         beta,
		Alpha:        alpha,
		CustomScore:  customScore,
	}
}

// maxDrawdown 以滚动峰值计算最大回撤，结果恒小于等于 0。
func maxDrawdown(curve market.EquityCurve) float64 {
	peak := math.Inf(-1)
	mdd := 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		dd := (p.Value - peak) / (peak + epsilon)
		if dd < mdd {
			mdd = dd
		}
	}
	return mdd
}

// dailyReturns 计算逐日收益，收益挂在区间末端日期上以便与基准对齐。
func dailyReturns(curve market.EquityCurve) ([]time.Time, []float64) {
	if len(curve) < 2 {
		return nil, nil
	}
	dates := make([]time.Time, 0, len(curve)-1)
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		dates = append(dates, curve[i].Date)
		returns = append(returns, curve[i].Value/curve[i-1].Value-1)
	}
	return dates, returns
}

// regressAgainstBenchmark 在组合与基准收益的共同日期（内连接）上
// 回归 Beta，并由基准 CAGR 推出 Alpha；对齐点不足或基准方差退化时
// 两者都保持为空。
func regressAgainstBenchmark(dates []time.Time, returns []float64, benchmark market.EquityCurve, years, cagr, riskFreeRate float64) (*float64, *float64) {
	benchDates, benchReturns := dailyReturns(benchmark)

	benchByDate := make(map[int64]float64, len(benchReturns))
	for i, d := range benchDates {
		benchByDate[d.Unix()] = benchReturns[i]
	}

	var alignedPortfolio, alignedBench []float64
	for i, d := range dates {
		if r, ok := benchByDate[d.Unix()]; ok {
			alignedPortfolio = append(alignedPortfolio, returns[i])
			alignedBench = append(alignedBench, r)
		}
	}
	if len(alignedPortfolio) < 2 {
		return nil, nil
	}

	covariance := sampleCov(alignedPortfolio, alignedBench)
	benchVariance := sampleCov(alignedBench, alignedBench)
	if benchVariance <= epsilon {
		return nil, nil
	}

	beta := covariance / benchVariance

	benchCAGR := 0.0
	if years > 0 && benchmark[0].Value > 0 {
		benchCAGR = math.Pow(benchmark[len(benchmark)-1].Value/benchmark[0].Value, 1/years) - 1
	}
	expected := riskFreeRate + beta*(benchCAGR-riskFreeRate)
	alpha := cagr - expected

	return &beta, &alpha
}

// sampleStd 为样本标准差（除以 n-1）。
func sampleStd(values []float64) float64 {
	return math.Sqrt(sampleCov(values, values))
}

// sampleCov 为样本协方差（除以 n-1）。
func sampleCov(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	meanX, meanY := mean(xs), mean(ys)
	sum := 0.0
	for i := range xs {
		sum += (xs[i] - meanX) * (ys[i] - meanY)
	}
	return sum / float64(n-1)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
