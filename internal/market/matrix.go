package market

import (
	"math"
	"sort"
	"time"
)

// PriceMatrix 以交易日为行、股票代码为列保存复权收盘价。
// 行日期严格升序且不重复；缺数据的单元格为 NaN，本层绝不填充。
type PriceMatrix struct {
	dates   []time.Time
	symbols []string
	columns map[string][]float64
}

// Builder 按单元格累积价格并生成 PriceMatrix。
type Builder struct {
	cells map[int64]map[string]float64
}

// NewBuilder 创建空的矩阵构建器。
func NewBuilder() *Builder {
	return &Builder{cells: make(map[int64]map[string]float64)}
}

// Set 写入某交易日某代码的价格，重复写入以最后一次为准。
func (b *Builder) Set(day time.Time, symbol string, price float64) {
	key := Day(day).Unix()
	row, ok := b.cells[key]
	if !ok {
		row = make(map[string]float64)
		b.cells[key] = row
	}
	row[Normalize(symbol)] = price
}

// Build 生成日期升序、列完整对齐的矩阵。
func (b *Builder) Build() PriceMatrix {
	keys := make([]int64, 0, len(b.cells))
	symbolSet := make(map[string]struct{})
	for key, row := range b.cells {
		keys = append(keys, key)
		for sym := range row {
			symbolSet[sym] = struct{}{}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	dates := make([]time.Time, len(keys))
	columns := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		col := make([]float64, len(keys))
		for i := range col {
			col[i] = math.NaN()
		}
		columns[sym] = col
	}
	for i, key := range keys {
		dates[i] = time.Unix(key, 0).UTC()
		for sym, price := range b.cells[key] {
			columns[sym][i] = price
		}
	}

	return PriceMatrix{dates: dates, symbols: symbols, columns: columns}
}

// Len 返回交易日行数。
func (m PriceMatrix) Len() int {
	return len(m.dates)
}

// IsEmpty 判断矩阵是否没有任何行。
func (m PriceMatrix) IsEmpty() bool {
	return len(m.dates) == 0
}

// Dates 拷贝日期轴。
func (m PriceMatrix) Dates() []time.Time {
	return append([]time.Time(nil), m.dates...)
}

// Symbols 拷贝列轴。
func (m PriceMatrix) Symbols() []string {
	return append([]string(nil), m.symbols...)
}

// HasColumn 判断矩阵是否包含某代码列。
func (m PriceMatrix) HasColumn(symbol string) bool {
	_, ok := m.columns[Normalize(symbol)]
	return ok
}

// Value 返回第 i 个交易日某代码的价格，缺数据时返回 NaN。
func (m PriceMatrix) Value(symbol string, i int) float64 {
	col, ok := m.columns[Normalize(symbol)]
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Column 拷贝某代码的整列数据。
func (m PriceMatrix) Column(symbol string) []float64 {
	col, ok := m.columns[Normalize(symbol)]
	if !ok {
		return nil
	}
	return append([]float64(nil), col...)
}

// ResolvedSymbols 返回窗口内至少有一个有效价格的代码。
func (m PriceMatrix) ResolvedSymbols() []string {
	resolved := make([]string, 0, len(m.symbols))
	for _, sym := range m.symbols {
		col := m.columns[sym]
		for _, v := range col {
			if !math.IsNaN(v) {
				resolved = append(resolved, sym)
				break
			}
		}
	}
	return resolved
}

// FirstValid 返回某代码首个有效价格的日期。
func (m PriceMatrix) FirstValid(symbol string) (time.Time, bool) {
	col, ok := m.columns[Normalize(symbol)]
	if !ok {
		return time.Time{}, false
	}
	for i, v := range col {
		if !math.IsNaN(v) {
			return m.dates[i], true
		}
	}
	return time.Time{}, false
}

// Restrict 仅保留给定代码的列，并丢弃这些列全部缺数据的行。
func (m PriceMatrix) Restrict(symbols []string) PriceMatrix {
	kept := make([]string, 0, len(symbols))
	for _, s := range NormalizeAll(symbols) {
		if _, ok := m.columns[s]; ok {
			kept = append(kept, s)
		}
	}

	builder := NewBuilder()
	for i, date := range m.dates {
		for _, sym := range kept {
			v := m.columns[sym][i]
			if !math.IsNaN(v) {
				builder.Set(date, sym, v)
			}
		}
	}
	return builder.Build()
}

// Window 返回位于 [start, end] 之间的行；零值时间表示该侧不设界。
func (m PriceMatrix) Window(start, end time.Time) PriceMatrix {
	builder := NewBuilder()
	for i, date := range m.dates {
		if !start.IsZero() && date.Before(Day(start)) {
			continue
		}
		if !end.IsZero() && date.After(Day(end)) {
			continue
		}
		for _, sym := range m.symbols {
			v := m.columns[sym][i]
			if !math.IsNaN(v) {
				builder.Set(date, sym, v)
			}
		}
	}
	return builder.Build()
}

// SeriesCurve 将某代码的有效价格序列转成净值曲线（用于单标的与基准）。
func (m PriceMatrix) SeriesCurve(symbol string) EquityCurve {
	col, ok := m.columns[Normalize(symbol)]
	if !ok {
		return nil
	}
	curve := make(EquityCurve, 0, len(col))
	for i, v := range col {
		if math.IsNaN(v) {
			continue
		}
		curve = append(curve, Point{Date: m.dates[i], Value: v})
	}
	return curve
}

// Merge 按列并集合并两个矩阵：本矩阵已有数据的列保持不变，
// 其余列取自 other，日期轴取并集并保持升序。
func (m PriceMatrix) Merge(other PriceMatrix) PriceMatrix {
	taken := make(map[string]struct{}, len(m.symbols))
	builder := NewBuilder()

	for _, sym := range m.ResolvedSymbols() {
		taken[sym] = struct{}{}
		col := m.columns[sym]
		for i, v := range col {
			if !math.IsNaN(v) {
				builder.Set(m.dates[i], sym, v)
			}
		}
	}

	for _, sym := range other.symbols {
		if _, ok := taken[sym]; ok {
			continue
		}
		col := other.columns[sym]
		for i, v := range col {
			if !math.IsNaN(v) {
				builder.Set(other.dates[i], sym, v)
			}
		}
	}

	return builder.Build()
}
