package market

import (
	"strings"
	"time"
)

// Normalize 统一股票代码格式：去空白并转为大写。
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeAll 批量规范化代码并去重，保持原有顺序。
func NormalizeAll(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := Normalize(s)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// Day 将时间截断为 UTC 交易日（零点）。
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Point 为净值曲线上的单个观测点。
type Point struct {
	Date  time.Time
	Value float64
}

// EquityCurve 按日期升序记录组合市值。
type EquityCurve []Point

// First 返回曲线首个点，曲线为空时 ok 为 false。
func (c EquityCurve) First() (Point, bool) {
	if len(c) == 0 {
		return Point{}, false
	}
	return c[0], true
}

// Last 返回曲线最后一个点，曲线为空时 ok 为 false。
func (c EquityCurve) Last() (Point, bool) {
	if len(c) == 0 {
		return Point{}, false
	}
	return c[len(c)-1], true
}

// Values 拷贝曲线的数值序列。
func (c EquityCurve) Values() []float64 {
	values := make([]float64, len(c))
	for i, p := range c {
		values[i] = p.Value
	}
	return values
}
