package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rzcastilho/trading-strategy-sub005/internal/backtest"
	brcfg "github.com/rzcastilho/trading-strategy-sub005/internal/config"
	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	"github.com/rzcastilho/trading-strategy-sub005/internal/publish"
	"github.com/rzcastilho/trading-strategy-sub005/internal/store/signalstore"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
	backtesthttp "github.com/rzcastilho/trading-strategy-sub005/internal/transport/http/backtest"
)

const (
	sourceBreakerThreshold = 3
	sourceBreakerCooldown  = time.Minute
)

type AppBuilder struct {
	cfg *brcfg.Config

	registerer  prometheus.Registerer
	sourceFn    func(brcfg.DataConfig) backtest.CandleSource
	publisherFn func(brcfg.RedisConfig) (*publish.RedisPublisher, error)
}

type AppBuilderOption func(*AppBuilder)

// WithRegisterer 使用给定的 prometheus registry（测试中避免重复注册）。
func WithRegisterer(reg *prometheus.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.registerer = reg }
}

// WithCandleSource 替换远端 K 线数据源。
func WithCandleSource(src backtest.CandleSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(brcfg.DataConfig) backtest.CandleSource { return src }
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		sourceFn:    buildCandleSource,
		publisherFn: buildPublisher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildCandleSource(cfg brcfg.DataConfig) backtest.CandleSource {
	if cfg.Source != "binance" {
		return nil
	}
	src := backtest.NewBinanceSource(backtest.BinanceConfig{
		BaseURL:         cfg.BinanceBaseURL,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	return backtest.NewGuardedSource(src, sourceBreakerThreshold, sourceBreakerCooldown)
}

func buildPublisher(cfg brcfg.RedisConfig) (*publish.RedisPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return publish.NewRedisPublisher(publish.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Channel:  cfg.Channel,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	app := &App{cfg: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.registry, err = strategy.NewRegistry(cfg.Strategies.Path, cfg.Strategies.Watch)
	if err != nil {
		return nil, fmt.Errorf("加载策略失败: %w", err)
	}
	app.registry.OnChange(func(s strategy.Snapshot) {
		logger.Infof("策略已重新加载 v%d: %v", s.Version, s.Names())
	})

	reg := b.registerer
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = r
	}
	m := metrics.NewMetrics(reg)

	app.candles, err = backtest.NewCandleStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	app.signals, err = signalstore.Open(cfg.Store.SignalsPath)
	if err != nil {
		return nil, fmt.Errorf("初始化信号存储失败: %w", err)
	}
	app.publisher, err = b.publisherFn(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("连接 redis 失败: %w", err)
	}
	var sinks []backtest.Sink
	if app.publisher != nil {
		sinks = append(sinks, app.publisher)
	}

	app.svc, err = backtest.NewService(backtest.ServiceConfig{
		Strategies:      app.registry,
		Store:           app.candles,
		Source:          b.sourceFn(cfg.Data),
		Recorder:        app.signals,
		Sinks:           sinks,
		Metrics:         m,
		HistoryCapacity: cfg.Engine.HistoryCapacity,
		Strict:          cfg.Engine.StrictComparisons,
		CrossCheck:      cfg.Engine.CrossCheck,
		Tolerance:       cfg.Engine.Tolerance(),
		MaxConcurrent:   cfg.Engine.MaxParallelSessions,
		DefaultLimit:    cfg.Data.FetchLimit,
	})
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.Enabled {
		app.http, err = backtesthttp.NewServer(backtesthttp.Config{
			Addr:       cfg.App.HTTPAddr,
			Strategies: app.registry,
			Svc:        app.svc,
			Runs:       app.signals,
			Metrics:    m.Handler(),
		})
		if err != nil {
			return nil, err
		}
	}
	app.Summary = buildSummary(cfg, app.registry.Snapshot())
	return app, nil
}
