package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Quotes       QuotesConfig       `mapstructure:"quotes"`
	Fundamentals FundamentalsConfig `mapstructure:"fundamentals"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Simulation   SimulationConfig   `mapstructure:"simulation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 控制 HTTP 服务参数。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 管理价格快照与事件日志共用的 SQLite 连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// QuotesConfig 描述远端行情源的访问参数。
type QuotesConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// FundamentalsConfig 描述基本面数据文档的来源。
// Endpoint 为空表示未配置，相关请求将收到配置错误。
type FundamentalsConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheConfig 控制各数据层的缓存存活时间。
type CacheConfig struct {
	SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl"`
	QuotesTTL       time.Duration `mapstructure:"quotes_ttl"`
	FundamentalsTTL time.Duration `mapstructure:"fundamentals_ttl"`
}

// SimulationConfig 控制回测引擎的默认参数。
type SimulationConfig struct {
	InitialAmount   float64 `mapstructure:"initial_amount"`
	RiskFreeRate    float64 `mapstructure:"risk_free_rate"`
	MaxStartLagDays int     `mapstructure:"max_start_lag_days"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("server 读写超时必须为正"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Quotes.BaseURL == "" {
		err = multierr.Append(err, errors.New("quotes.base_url 不能为空"))
	}
	if c.Quotes.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("quotes.batch_size 必须大于0"))
	}
	if c.Quotes.Timeout <= 0 {
		err = multierr.Append(err, errors.New("quotes.timeout 必须大于0"))
	}
	if c.Quotes.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("quotes.retry.max_attempts 必须大于0"))
	}
	if c.Quotes.Retry.MinDelay <= 0 || c.Quotes.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("quotes.retry.delay 必须为正"))
	}
	if c.Quotes.Retry.MinDelay > c.Quotes.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("quotes.retry.min_delay 不能大于 max_delay"))
	}
	if c.Fundamentals.Timeout <= 0 {
		err = multierr.Append(err, errors.New("fundamentals.timeout 必须大于0"))
	}
	if c.Cache.SnapshotTTL <= 0 || c.Cache.QuotesTTL <= 0 || c.Cache.FundamentalsTTL <= 0 {
		err = multierr.Append(err, errors.New("cache 各层 TTL 必须为正"))
	}
	if c.Simulation.InitialAmount <= 0 {
		err = multierr.Append(err, errors.New("simulation.initial_amount 必须大于0"))
	}
	if c.Simulation.RiskFreeRate < 0 || c.Simulation.RiskFreeRate >= 1 {
		err = multierr.Append(err, errors.New("simulation.risk_free_rate 应位于[0,1)"))
	}
	if c.Simulation.MaxStartLagDays <= 0 {
		err = multierr.Append(err, errors.New("simulation.max_start_lag_days 必须大于0"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
