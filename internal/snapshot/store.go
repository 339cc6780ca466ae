package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/market"
	"stock-backtest/internal/store"
)

const dayLayout = "2006-01-02"

// Store 访问定期刷新的批量价格快照（tier 1 数据源）。
// 快照表由外部数据摄取任务维护，这里只读。
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 创建快照访问器。
func New(st *store.Store, logger *zap.Logger) (*Store, error) {
	if st == nil {
		return nil, fmt.Errorf("snapshot: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: st.DB(), logger: logger}, nil
}

// Name 返回数据层名称。
func (s *Store) Name() string {
	return "snapshot"
}

// Resolve 为解析器提供窗口内的价格子集。
func (s *Store) Resolve(ctx context.Context, symbols []string, start, end time.Time) (market.PriceMatrix, error) {
	matrix := s.Load(ctx, symbols, start)
	return matrix.Window(start, end), nil
}

// Load 读取给定代码自 start 起的价格列。优先走列+日期下推查询，
// 查询失败（表缺失、文件损坏）则退回全表扫描后在内存过滤；
// 两条路径都失败时返回空矩阵而不是错误。
func (s *Store) Load(ctx context.Context, symbols []string, start time.Time) market.PriceMatrix {
	symbols = market.NormalizeAll(symbols)
	if len(symbols) == 0 {
		return market.NewBuilder().Build()
	}

	matrix, err := s.loadPushdown(ctx, symbols, start)
	if err == nil {
		return matrix
	}
	s.logger.Warn("快照下推查询失败，退回全表扫描", zap.Error(err))

	matrix, err = s.loadFullScan(ctx, symbols, start)
	if err != nil {
		s.logger.Warn("快照全表扫描失败，返回空矩阵", zap.Error(err))
		return market.NewBuilder().Build()
	}
	return matrix
}

func (s *Store) loadPushdown(ctx context.Context, symbols []string, start time.Time) (market.PriceMatrix, error) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(symbols)), ",")
	query := fmt.Sprintf(
		`SELECT day, symbol, adj_close FROM prices WHERE symbol IN (%s)`,
		placeholders,
	)
	args := make([]interface{}, 0, len(symbols)+1)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	if !start.IsZero() {
		query += ` AND day >= ?`
		args = append(args, market.Day(start).Format(dayLayout))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return market.PriceMatrix{}, fmt.Errorf("snapshot: 下推查询失败: %w", err)
	}
	defer rows.Close()

	return scanRows(rows, nil, time.Time{})
}

func (s *Store) loadFullScan(ctx context.Context, symbols []string, start time.Time) (market.PriceMatrix, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT day, symbol, adj_close FROM prices`)
	if err != nil {
		return market.PriceMatrix{}, fmt.Errorf("snapshot: 全表扫描失败: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = struct{}{}
	}
	return scanRows(rows, wanted, start)
}

func scanRows(rows *sql.Rows, wanted map[string]struct{}, start time.Time) (market.PriceMatrix, error) {
	builder := market.NewBuilder()
	for rows.Next() {
		var (
			day    string
			symbol string
			price  float64
		)
		if err := rows.Scan(&day, &symbol, &price); err != nil {
			return market.PriceMatrix{}, fmt.Errorf("snapshot: 解析快照行失败: %w", err)
		}

		symbol = market.Normalize(symbol)
		if wanted != nil {
			if _, ok := wanted[symbol]; !ok {
				continue
			}
		}

		date, err := time.Parse(dayLayout, day)
		if err != nil {
			continue
		}
		if !start.IsZero() && date.Before(market.Day(start)) {
			continue
		}
		builder.Set(date, symbol, price)
	}
	if err := rows.Err(); err != nil {
		return market.PriceMatrix{}, fmt.Errorf("snapshot: 读取快照失败: %w", err)
	}
	return builder.Build(), nil
}
