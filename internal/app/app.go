package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stock-backtest/internal/cache"
	"stock-backtest/internal/config"
	"stock-backtest/internal/fundamentals"
	"stock-backtest/internal/monitor"
	"stock-backtest/internal/quotes"
	"stock-backtest/internal/resolver"
	"stock-backtest/internal/snapshot"
	"stock-backtest/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装数据层与解析器并启动 HTTP 服务，阻塞直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
	)

	priceCache := cache.New(nil)

	snapshotStore, err := snapshot.New(a.store, a.logger)
	if err != nil {
		return err
	}
	quotesClient := quotes.NewClient(a.cfg.Quotes, a.logger)

	priceResolver, err := resolver.New(priceCache, []resolver.TimedTier{
		{Tier: snapshotStore, TTL: a.cfg.Cache.SnapshotTTL},
		{Tier: quotesClient, TTL: a.cfg.Cache.QuotesTTL},
	}, a.logger)
	if err != nil {
		return err
	}

	fundamentalsClient := fundamentals.NewClient(
		a.cfg.Fundamentals, a.cfg.Cache.FundamentalsTTL, priceCache, a.logger,
	)

	monitorService, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	h := &handlers{
		cfg:          a.cfg,
		resolver:     priceResolver,
		fundamentals: fundamentalsClient,
		monitor:      monitorService,
		logger:       a.logger,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      h.routes(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("HTTP 服务已启动", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		a.logger.Info("系统收到退出信号，正在停止")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
		drainServeError(errCh, a.logger)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常: %w", err)
		}
		return nil
	}
}

func drainServeError(errCh <-chan error, logger *zap.Logger) {
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("HTTP 服务退出异常", zap.Error(err))
		}
	case <-time.After(time.Second):
	}
}
