package backtest

import (
	"time"

	"stock-backtest/internal/market"
)

// CompletenessIssue 记录实际起始日明显晚于请求起始日的代码。
type CompletenessIssue struct {
	Symbol      string
	ActualStart time.Time
}

// ValidateCompleteness 检查矩阵中各代码的首个有效数据日。
// 晚于请求起始日超过 maxLagDays 个工作日的代码会被列出；
// 结果仅用于给用户的提示信息，从不阻断计算。
func ValidateCompleteness(prices market.PriceMatrix, symbols []string, requestedStart time.Time, maxLagDays int) []CompletenessIssue {
	deadline := addBusinessDays(market.Day(requestedStart), maxLagDays)

	issues := make([]CompletenessIssue, 0)
	for _, sym := range market.NormalizeAll(symbols) {
		actualStart, ok := prices.FirstValid(sym)
		if !ok {
			continue
		}
		if actualStart.After(deadline) {
			issues = append(issues, CompletenessIssue{Symbol: sym, ActualStart: actualStart})
		}
	}
	return issues
}

func addBusinessDays(t time.Time, days int) time.Time {
	for days > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days--
		}
	}
	return t
}
