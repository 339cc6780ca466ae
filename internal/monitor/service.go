package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/store"
)

const defaultListLimit = 100

// Service 把扫描/回测/筛选请求的概要落到 SQLite，供 /events 查询。
// 审计写入失败只记录日志，绝不影响业务响应。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务并确保表结构存在。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{db: st.DB(), logger: logger}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
		}
	}

	return s, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, recorded_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), ts.UnixMilli(),
	); err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// RecordRequest 记录一次请求的概要，失败只告警。
func (s *Service) RecordRequest(ctx context.Context, eventType EventType, payload RequestPayload) {
	if err := s.Record(ctx, Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn("记录请求事件失败",
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

// RecordError 记录处理过程中的异常，失败只告警。
func (s *Service) RecordError(ctx context.Context, requestID, msg string, cause error) {
	event := Event{
		Type: EventError,
		Payload: ErrorPayload{
			RequestID: requestID,
			Message:   msg,
			Error:     cause.Error(),
		},
	}
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(err))
	}
}

// ListEvents 按写入时间倒序返回最近事件，eventType 为空表示不过滤。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT event_type, payload, recorded_at FROM monitor_events`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			millis  int64
		)
		if err := rows.Scan(&typ, &payload, &millis); err != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", err)
		}
		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: time.UnixMilli(millis).UTC(),
			Payload:   json.RawMessage(payload),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
