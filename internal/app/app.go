package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rzcastilho/trading-strategy-sub005/internal/backtest"
	brcfg "github.com/rzcastilho/trading-strategy-sub005/internal/config"
	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/publish"
	"github.com/rzcastilho/trading-strategy-sub005/internal/store/signalstore"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
	backtesthttp "github.com/rzcastilho/trading-strategy-sub005/internal/transport/http/backtest"
)

// App 负责应用级编排：加载策略→初始化存储与数据源→执行回测→提供 HTTP 服务。
type App struct {
	cfg       *brcfg.Config
	registry  *strategy.Registry
	candles   *backtest.CandleStore
	signals   *signalstore.Store
	publisher *publish.RedisPublisher
	svc       *backtest.Service
	http      *backtesthttp.Server
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run 执行配置中的回测；HTTP 开启时持续服务直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.svc == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		logger.InfoBlock(a.Summary.String())
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			logger.Infof("HTTP 服务监听 %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.runBacktests(ctx)
	})

	return group.Wait()
}

func (a *App) runBacktests(ctx context.Context) error {
	if len(a.cfg.Backtests) == 0 {
		return nil
	}
	reqs, err := backtestRequests(a.cfg.Backtests)
	if err != nil {
		return err
	}
	results, err := a.svc.RunMany(ctx, reqs)
	for _, res := range results {
		logger.Infof("回测 %s [%s %s %s]: status=%s bars=%d signals=%d skipped=%d errors=%d",
			res.RunID, res.Strategy, res.Symbol, res.Interval, res.Status, res.Bars, len(res.Signals), res.Skipped, res.Errors)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		// 单个回测失败不终止 HTTP 服务。
		logger.Errorf("部分回测失败: %v", err)
		if a.http == nil {
			return err
		}
	}
	return nil
}

func backtestRequests(list []brcfg.BacktestConfig) ([]backtest.RunRequest, error) {
	reqs := make([]backtest.RunRequest, 0, len(list))
	for i, bt := range list {
		start, end, err := bt.Range()
		if err != nil {
			return nil, fmt.Errorf("backtests[%d]: %w", i, err)
		}
		reqs = append(reqs, backtest.RunRequest{
			Strategy: bt.Strategy,
			Symbol:   bt.Symbol,
			Interval: bt.Interval,
			Start:    start,
			End:      end,
			Limit:    bt.Limit,
		})
	}
	return reqs, nil
}

// Service 返回回测服务（测试与嵌入使用）。
func (a *App) Service() *backtest.Service {
	if a == nil {
		return nil
	}
	return a.svc
}

// Signals 返回信号存储。
func (a *App) Signals() *signalstore.Store {
	if a == nil {
		return nil
	}
	return a.signals
}

// Close 释放存储与连接，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Warnf("关闭 redis 失败: %v", err)
		}
		a.publisher = nil
	}
	if a.candles != nil {
		if err := a.candles.Close(); err != nil {
			logger.Warnf("关闭 K 线缓存失败: %v", err)
		}
		a.candles = nil
	}
	if a.signals != nil {
		if err := a.signals.Close(); err != nil {
			logger.Warnf("关闭信号存储失败: %v", err)
		}
		a.signals = nil
	}
}
