package app

import (
	"fmt"
	"io"
	"strings"

	brcfg "github.com/rzcastilho/trading-strategy-sub005/internal/config"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

type StartupSummary struct {
	Env        string
	Strategies []StrategyDetail
	Data       DataSummary
	Store      string
	Redis      string
	HTTP       string
	Backtests  []string
}

type StrategyDetail struct {
	Name       string
	Symbol     string
	Interval   string
	Indicators []string
	Warmup     int
}

type DataSummary struct {
	Root   string
	Source string
}

func buildSummary(cfg *brcfg.Config, snap strategy.Snapshot) *StartupSummary {
	s := &StartupSummary{
		Env:   cfg.App.Env,
		Data:  DataSummary{Root: cfg.Data.Root, Source: cfg.Data.Source},
		Store: cfg.Store.SignalsPath,
		Redis: "disabled",
		HTTP:  "disabled",
	}
	for _, name := range snap.Names() {
		c := snap.Strategies[name]
		d := StrategyDetail{Name: name, Symbol: c.Symbol, Interval: c.Interval, Warmup: c.WarmupBars()}
		for _, spec := range c.Indicators {
			d.Indicators = append(d.Indicators, fmt.Sprintf("%s(%s)", spec.Name, spec.Kind))
		}
		s.Strategies = append(s.Strategies, d)
	}
	if cfg.Redis.Enabled {
		s.Redis = cfg.Redis.Addr + " #" + cfg.Redis.Channel
	}
	if cfg.HTTP.Enabled {
		s.HTTP = cfg.App.HTTPAddr
	}
	for _, bt := range cfg.Backtests {
		s.Backtests = append(s.Backtests, strings.TrimSpace(strings.Join([]string{bt.Strategy, bt.Symbol, bt.Interval}, " ")))
	}
	return s
}

// String 渲染摘要文本。
func (s *StartupSummary) String() string {
	var b strings.Builder
	s.Write(&b)
	return b.String()
}

func (s *StartupSummary) Write(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  环境: %s\n\n", s.Env)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	if len(s.Strategies) == 0 {
		fmt.Fprintln(w, "  (无配置)")
	}
	for _, d := range s.Strategies {
		fmt.Fprintf(w, "  > %s  symbol=%s interval=%s warmup=%d\n", d.Name, orDash(d.Symbol), orDash(d.Interval), d.Warmup)
		fmt.Fprintf(w, "    指标: %s\n", formatList(d.Indicators))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[数据与存储 (DATA & STORAGE)]")
	fmt.Fprintf(w, "  K线缓存: %s (source=%s)\n", s.Data.Root, s.Data.Source)
	fmt.Fprintf(w, "  信号存储: %s\n", s.Store)
	fmt.Fprintf(w, "  Redis: %s\n", s.Redis)
	fmt.Fprintf(w, "  HTTP: %s\n", s.HTTP)
	fmt.Fprintf(w, "  启动回测: %s\n", formatList(s.Backtests))
	fmt.Fprintln(w, line)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
