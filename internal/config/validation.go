package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Strategies.Path) == "" {
		return fmt.Errorf("strategies.path cannot be empty")
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	for i, bt := range c.Backtests {
		if strings.TrimSpace(bt.Strategy) == "" {
			return fmt.Errorf("backtests[%d].strategy cannot be empty", i)
		}
		if bt.Limit < 0 {
			return fmt.Errorf("backtests[%d].limit must be >= 0", i)
		}
		if _, _, err := bt.Range(); err != nil {
			return fmt.Errorf("backtests[%d]: %w", i, err)
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
}

func (e *EngineConfig) validate() error {
	if e.HistoryCapacity < 2 {
		return fmt.Errorf("engine.history_capacity must be >= 2")
	}
	if e.MaxParallelSessions < 0 {
		return fmt.Errorf("engine.max_parallel_sessions must be >= 0")
	}
	tol, err := decimal.NewFromString(strings.TrimSpace(e.CrossCheckTolerance))
	if err != nil {
		return fmt.Errorf("engine.crosscheck_tolerance: %w", err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("engine.crosscheck_tolerance must be >= 0")
	}
	return nil
}

// Tolerance 返回解析后的交叉校验容差（已通过校验）。
func (e EngineConfig) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(strings.TrimSpace(e.CrossCheckTolerance))
	if err != nil {
		return decimal.Zero
	}
	return tol
}

func (d *DataConfig) validate() error {
	switch d.Source {
	case "binance":
		if strings.TrimSpace(d.BinanceBaseURL) == "" {
			return fmt.Errorf("data.binance_base_url cannot be empty")
		}
	case "none":
	default:
		return fmt.Errorf("data.source must be binance or none, got %q", d.Source)
	}
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled")
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	return nil
}
