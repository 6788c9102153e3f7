package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, 500, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 4, cfg.Engine.MaxParallelSessions)
	assert.False(t, cfg.Engine.StrictComparisons)
	assert.True(t, cfg.Engine.Tolerance().Equal(decimal.New(1, -6)))
	assert.Equal(t, "configs/strategies.yaml", cfg.Strategies.Path)
	assert.True(t, cfg.Strategies.Watch)
	assert.Equal(t, "binance", cfg.Data.Source)
	assert.Equal(t, "https://fapi.binance.com", cfg.Data.BinanceBaseURL)
	assert.Equal(t, "data/signals.db", cfg.Store.SignalsPath)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "signals", cfg.Redis.Channel)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Empty(t, cfg.Backtests)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
engine:
  history_capacity: "64"
  strict_comparisons: true
  crosscheck: true
  crosscheck_tolerance: "0.01"
strategies:
  path: strategies.yaml
  watch: false
data:
  source: NONE
http:
  enabled: false
redis:
  enabled: true
  addr: redis:6379
  db: 2
backtests:
  - strategy: rsi_bounce
    symbol: BTCUSDT
    interval: 1h
    start: "2024-01-01"
    end: "2024-02-01T00:00:00Z"
  - strategy: macd_cross
    limit: 300
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Engine.HistoryCapacity)
	assert.True(t, cfg.Engine.StrictComparisons)
	assert.True(t, cfg.Engine.CrossCheck)
	assert.False(t, cfg.Strategies.Watch)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "none", cfg.Data.Source)
	assert.Equal(t, 2, cfg.Redis.DB)
	require.Len(t, cfg.Backtests, 2)
	assert.Equal(t, 300, cfg.Backtests[1].Limit)

	start, end, err := cfg.Backtests[0].Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  log_level: debug\n  env: base\nredis:\n  channel: base\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  env: prod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "base", cfg.Redis.Channel)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"log level":     "app:\n  log_level: loud\n",
		"history":       "engine:\n  history_capacity: 1\n",
		"tolerance":     "engine:\n  crosscheck_tolerance: \"-1\"\n",
		"source":        "data:\n  source: kraken\n",
		"redis addr":    "redis:\n  enabled: true\n  addr: \" \"\n",
		"bt strategy":   "backtests:\n  - interval: 1h\n",
		"bt range":      "backtests:\n  - strategy: s\n    start: \"2024-02-01\"\n    end: \"2024-01-01\"\n",
		"bt bad time":   "backtests:\n  - strategy: s\n    start: yesterday\n",
		"strategy path": "strategies:\n  path: \" \"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "configs/config.yaml", PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/signal.yaml")
	assert.Equal(t, "/etc/signal.yaml", PathFromEnv())
}
