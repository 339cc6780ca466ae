package backtest

import (
	"math"
	"testing"
	"time"

	"stock-backtest/internal/market"
)

func curveFrom(start time.Time, values ...float64) market.EquityCurve {
	curve := make(market.EquityCurve, len(values))
	date := start
	for i, v := range values {
		// 只落在工作日上，贴近真实交易日序列。
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}
		curve[i] = market.Point{Date: date, Value: v}
		date = date.AddDate(0, 0, 1)
	}
	return curve
}

func TestComputeMetricsTooFewPoints(t *testing.T) {
	for _, curve := range []market.EquityCurve{nil, curveFrom(day(2024, 1, 2), 1000)} {
		m := ComputeMetrics(curve, nil, 0)
		if m.CAGR != 0 || m.MDD != 0 || m.Volatility != 0 ||
			m.SharpeRatio != 0 || m.SortinoRatio != 0 || m.CustomScore != 0 {
			t.Errorf("short curve should zero all metrics: %+v", m)
		}
		if m.Beta != nil || m.Alpha != nil {
			t.Errorf("short curve should leave beta/alpha absent")
		}
	}
}

func TestComputeMetricsZeroStart(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 0, 100, 200)
	m := ComputeMetrics(curve, nil, 0)
	if m.CAGR != 0 {
		t.Errorf("cagr = %v, want 0", m.CAGR)
	}
	if m.MDD != -1 {
		t.Errorf("mdd = %v, want -1 (total-loss sentinel)", m.MDD)
	}
	if m.Beta != nil || m.Alpha != nil {
		t.Errorf("beta/alpha should be absent")
	}
}

func TestComputeMetricsCAGRFormula(t *testing.T) {
	first := day(2020, 1, 2)
	last := day(2021, 1, 4)
	curve := market.EquityCurve{
		{Date: first, Value: 1000},
		{Date: first.AddDate(0, 6, 0), Value: 1100},
		{Date: last, Value: 1210},
	}
	m := ComputeMetrics(curve, nil, 0)

	years := last.Sub(first).Hours() / 24 / 365.25
	want := math.Pow(1.21, 1/years) - 1
	if !approx(m.CAGR, want, 1e-12) {
		t.Errorf("cagr = %v, want %v", m.CAGR, want)
	}
}

func TestComputeMetricsMDDNonPositive(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1200, 900, 1100, 800, 1500)
	m := ComputeMetrics(curve, nil, 0)
	if m.MDD > 0 {
		t.Errorf("mdd must be <= 0, got %v", m.MDD)
	}
	// 峰值 1200 → 谷值 800。
	want := (800.0 - 1200.0) / (1200.0 + 1e-9)
	if !approx(m.MDD, want, 1e-9) {
		t.Errorf("mdd = %v, want %v", m.MDD, want)
	}
}

func TestComputeMetricsIdenticalBenchmark(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1010, 990, 1030, 1050, 1020, 1080, 1110)
	m := ComputeMetrics(curve, curve, 0)

	if m.Beta == nil || m.Alpha == nil {
		t.Fatalf("expected beta/alpha with identical benchmark")
	}
	if !approx(*m.Beta, 1, 1e-9) {
		t.Errorf("beta = %v, want 1", *m.Beta)
	}
	if !approx(*m.Alpha, 0, 1e-9) {
		t.Errorf("alpha = %v, want 0", *m.Alpha)
	}
}

func TestComputeMetricsDegenerateBenchmarkVariance(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1010, 990, 1030, 1050)
	flat := curveFrom(day(2024, 1, 2), 100, 100, 100, 100, 100)

	m := ComputeMetrics(curve, flat, 0)
	if m.Beta != nil || m.Alpha != nil {
		t.Errorf("flat benchmark should leave beta/alpha absent, got %v/%v", m.Beta, m.Alpha)
	}
}

func TestComputeMetricsBenchmarkAlignment(t *testing.T) {
	// 基准与组合只有一个共同收益日期，对齐点不足，Beta/Alpha 保持为空。
	curve := curveFrom(day(2024, 1, 2), 1000, 1010, 990, 1030)
	benchmark := market.EquityCurve{
		{Date: curve[0].Date, Value: 100},
		{Date: curve[1].Date, Value: 101},
		{Date: day(2024, 3, 1), Value: 102},
	}
	m := ComputeMetrics(curve, benchmark, 0)
	if m.Beta != nil || m.Alpha != nil {
		t.Errorf("insufficient alignment should leave beta/alpha absent")
	}
}

func TestComputeMetricsVolatilityAndSharpe(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1020, 1000, 1040, 1030)
	m := ComputeMetrics(curve, nil, 0)

	if m.Volatility <= 0 {
		t.Errorf("expected positive volatility, got %v", m.Volatility)
	}
	wantSharpe := m.CAGR / (m.Volatility + 1e-9)
	if !approx(m.SharpeRatio, wantSharpe, 1e-12) {
		t.Errorf("sharpe = %v, want %v", m.SharpeRatio, wantSharpe)
	}
}

func TestComputeMetricsCustomScore(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1040, 1000, 1080, 1150, 1120, 1200)
	m := ComputeMetrics(curve, nil, 0)
	// 无基准时 alpha 计为 0，自定义评分应为 0。
	if m.CustomScore != 0 {
		t.Errorf("custom score without benchmark = %v, want 0", m.CustomScore)
	}

	withBench := ComputeMetrics(curve, curveFrom(day(2024, 1, 2), 100, 101, 99, 103, 104, 102, 106), 0)
	if withBench.Alpha != nil {
		want := withBench.SortinoRatio * *withBench.Alpha * (1 + withBench.MDD)
		if !approx(withBench.CustomScore, want, 1e-12) {
			t.Errorf("custom score = %v, want %v", withBench.CustomScore, want)
		}
	}
}

func TestComputeMetricsFewReturns(t *testing.T) {
	curve := curveFrom(day(2024, 1, 2), 1000, 1100)
	m := ComputeMetrics(curve, nil, 0)
	if m.CAGR == 0 {
		t.Errorf("cagr should be computed")
	}
	if m.Volatility != 0 || m.SharpeRatio != 0 || m.SortinoRatio != 0 {
		t.Errorf("fewer than 2 returns should zero volatility metrics: %+v", m)
	}
	if m.Beta != nil || m.Alpha != nil {
		t.Errorf("beta/alpha should be absent")
	}
}
