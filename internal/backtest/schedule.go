package backtest

import "time"

// Schedule 从升序交易日序列中挑出再平衡日期：
// 每个日历周期（月/季/年）内的第一个交易日，且排除整个序列的
// 第一个周期首日——初始建仓不算再平衡事件。
func Schedule(dates []time.Time, cadence Cadence) []time.Time {
	if cadence == CadenceNever || len(dates) == 0 {
		return nil
	}

	scheduled := make([]time.Time, 0, len(dates)/20)
	first := true
	prevKey := 0
	for _, date := range dates {
		key := periodKey(date, cadence)
		if first {
			first = false
			prevKey = key
			continue
		}
		if key != prevKey {
			scheduled = append(scheduled, date)
			prevKey = key
		}
	}
	return scheduled
}

func periodKey(date time.Time, cadence Cadence) int {
	year, month, _ := date.UTC().Date()
	switch cadence {
	case CadenceMonthly:
		return year*12 + int(month) - 1
	case CadenceQuarterly:
		return year*4 + (int(month)-1)/3
	case CadenceAnnually:
		return year
	default:
		return 0
	}
}
