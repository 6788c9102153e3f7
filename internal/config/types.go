package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是信号引擎的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Engine     EngineConfig     `toml:"engine"`
	Strategies StrategiesConfig `toml:"strategies"`
	Data       DataConfig       `toml:"data"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	HTTP       HTTPConfig       `toml:"http"`
	Backtests  []BacktestConfig `toml:"backtests"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	AuditLogPath string `toml:"audit_log_path"`
}

// EngineConfig 控制 session 的行为。
type EngineConfig struct {
	HistoryCapacity     int  `toml:"history_capacity"`
	StrictComparisons   bool `toml:"strict_comparisons"`
	MaxParallelSessions int  `toml:"max_parallel_sessions"`
	// CrossCheck 回测结束后用参考库重算指标并比较。
	CrossCheck          bool   `toml:"crosscheck"`
	CrossCheckTolerance string `toml:"crosscheck_tolerance"`
}

type StrategiesConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// DataConfig K 线缓存与数据源。Source 为 "none" 时只使用缓存。
type DataConfig struct {
	Root            string `toml:"root"`
	Source          string `toml:"source"`
	BinanceBaseURL  string `toml:"binance_base_url"`
	FetchLimit      int    `toml:"fetch_limit"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

type StoreConfig struct {
	SignalsPath string `toml:"signals_path"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

type HTTPConfig struct {
	Enabled bool `toml:"enabled"`
}

// BacktestConfig 启动时执行的回测。Start/End 接受 RFC3339 或 2006-01-02。
type BacktestConfig struct {
	Strategy string `toml:"strategy"`
	Symbol   string `toml:"symbol"`
	Interval string `toml:"interval"`
	Start    string `toml:"start"`
	End      string `toml:"end"`
	Limit    int    `toml:"limit"`
}

// Range 解析回测区间，未填写的一端返回零值。
func (b BacktestConfig) Range() (start, end time.Time, err error) {
	if start, err = parseTime(b.Start); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	if end, err = parseTime(b.End); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s before start %s", b.End, b.Start)
	}
	return start, end, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
