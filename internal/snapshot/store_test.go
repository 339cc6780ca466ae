package snapshot

import (
	"context"
	"testing"
	"time"

	"stock-backtest/internal/config"
	"stock-backtest/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("初始化内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPrices(t *testing.T, st *store.Store, rows [][3]interface{}) {
	t.Helper()
	db := st.DB()
	if _, err := db.Exec(`CREATE TABLE prices (
		day TEXT NOT NULL,
		symbol TEXT NOT NULL,
		adj_close REAL NOT NULL,
		PRIMARY KEY (day, symbol)
	)`); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	for _, row := range rows {
		if _, err := db.Exec(`INSERT INTO prices (day, symbol, adj_close) VALUES (?, ?, ?)`, row[0], row[1], row[2]); err != nil {
			t.Fatalf("写入快照行失败: %v", err)
		}
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLoadPushdown(t *testing.T) {
	st := newTestStore(t)
	seedPrices(t, st, [][3]interface{}{
		{"2024-01-02", "AAPL", 100.0},
		{"2024-01-03", "AAPL", 101.0},
		{"2024-01-02", "MSFT", 330.0},
		{"2024-01-02", "TSLA", 200.0},
	})

	s, err := New(st, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	matrix := s.Load(context.Background(), []string{"aapl", "MSFT"}, time.Time{})
	if matrix.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", matrix.Len())
	}
	if !matrix.HasColumn("AAPL") || !matrix.HasColumn("MSFT") {
		t.Errorf("missing expected columns: %v", matrix.Symbols())
	}
	if matrix.HasColumn("TSLA") {
		t.Errorf("unrequested symbol should be excluded")
	}
	if got := matrix.Value("AAPL", 1); got != 101 {
		t.Errorf("AAPL[1] = %v, want 101", got)
	}
}

func TestLoadStartFilter(t *testing.T) {
	st := newTestStore(t)
	seedPrices(t, st, [][3]interface{}{
		{"2023-12-29", "AAPL", 99.0},
		{"2024-01-02", "AAPL", 100.0},
	})

	s, err := New(st, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	matrix := s.Load(context.Background(), []string{"AAPL"}, day(2024, 1, 1))
	if matrix.Len() != 1 {
		t.Fatalf("expected rows since 2024-01-01 only, got %d", matrix.Len())
	}
	if got := matrix.Value("AAPL", 0); got != 100 {
		t.Errorf("value = %v, want 100", got)
	}
}

func TestLoadMissingTableReturnsEmpty(t *testing.T) {
	st := newTestStore(t)

	s, err := New(st, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	matrix := s.Load(context.Background(), []string{"AAPL"}, time.Time{})
	if !matrix.IsEmpty() {
		t.Errorf("missing table should yield empty matrix, got %v", matrix.Symbols())
	}
}

func TestResolveAppliesWindow(t *testing.T) {
	st := newTestStore(t)
	seedPrices(t, st, [][3]interface{}{
		{"2024-01-02", "AAPL", 100.0},
		{"2024-01-15", "AAPL", 105.0},
		{"2024-02-05", "AAPL", 110.0},
	})

	s, err := New(st, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	matrix, err := s.Resolve(context.Background(), []string{"AAPL"}, day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if matrix.Len() != 2 {
		t.Fatalf("expected 2 rows inside window, got %d", matrix.Len())
	}
}
