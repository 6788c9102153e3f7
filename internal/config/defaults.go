package config

import "strings"

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppHTTPAddr         = ":9991"
	defaultAppLogPath          = "data/logs/signalctl.log"
	defaultHistoryCapacity     = 500
	defaultMaxParallel         = 4
	defaultCrossCheckTolerance = "0.000001"
	defaultStrategiesPath      = "configs/strategies.yaml"
	defaultDataRoot            = "data/candles"
	defaultDataSource          = "binance"
	defaultBinanceREST         = "https://fapi.binance.com"
	defaultFetchLimit          = 500
	defaultRateLimitPerMin     = 480
	defaultTimeoutSeconds      = 15
	defaultSignalsPath         = "data/signals.db"
	defaultRedisAddr           = "localhost:6379"
	defaultRedisChannel        = "signals"
)

// applyDefaults 为所有子配置应用默认值；显式写在文件里的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Redis.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engine.history_capacity", &e.HistoryCapacity, defaultHistoryCapacity),
		intFieldDefault("engine.max_parallel_sessions", &e.MaxParallelSessions, defaultMaxParallel),
		stringFieldDefault("engine.crosscheck_tolerance", &e.CrossCheckTolerance, defaultCrossCheckTolerance),
	)
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategies.path", &s.Path, defaultStrategiesPath),
		boolFieldDefault("strategies.watch", &s.Watch, true),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.binance_base_url", &d.BinanceBaseURL, defaultBinanceREST),
		intFieldDefault("data.fetch_limit", &d.FetchLimit, defaultFetchLimit),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultRateLimitPerMin),
		intFieldDefault("data.timeout_seconds", &d.TimeoutSeconds, defaultTimeoutSeconds),
	)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.signals_path", &s.SignalsPath, defaultSignalsPath),
	)
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("redis.addr", &r.Addr, defaultRedisAddr),
		stringFieldDefault("redis.channel", &r.Channel, defaultRedisChannel),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault 只在文件未出现该键时生效，显式的 false 会被保留。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
