package monitor

import "time"

// EventType 标识事件类别。
type EventType string

const (
	// EventScan 为单标的扫描请求。
	EventScan EventType = "scan"
	// EventBacktest 为组合回测请求。
	EventBacktest EventType = "backtest"
	// EventScreener 为基本面筛选请求。
	EventScreener EventType = "screener"
	// EventError 为处理过程中的异常。
	EventError EventType = "error"
)

// Event 为审计日志中的单条记录。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RequestPayload 记录一次数据请求的概要。
type RequestPayload struct {
	RequestID  string   `json:"request_id"`
	Tickers    []string `json:"tickers,omitempty"`
	Benchmark  string   `json:"benchmark,omitempty"`
	Portfolios int      `json:"portfolios,omitempty"`
	Start      string   `json:"start,omitempty"`
	End        string   `json:"end,omitempty"`
	Results    int      `json:"results"`
	DurationMS int64    `json:"duration_ms"`
}

// ErrorPayload 记录异常上下文。
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}
