// Package backtest 为策略回放历史 K 线：拉取/缓存数据、运行 session、
// 记录信号并可选地用参考库交叉校验指标。
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/engine"
	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	symbolutil "github.com/rzcastilho/trading-strategy-sub005/internal/pkg/symbol"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
	"github.com/rzcastilho/trading-strategy-sub005/internal/store/signalstore"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrNoData          = errors.New("no candles available")
)

// StrategySource 按名称提供编译后的策略（strategy.Registry 满足该接口）。
type StrategySource interface {
	Get(name string) (*strategy.Compiled, bool)
}

// Sink 接收运行中产生的信号，需并发安全。
type Sink interface {
	Publish(ctx context.Context, runID string, ev signal.Event) error
}

// Recorder 持久化运行与信号（signalstore.Store 满足该接口）。
type Recorder interface {
	SaveRun(ctx context.Context, run signalstore.Run) error
	FinishRun(ctx context.Context, id string, sum signalstore.Summary) error
	SaveSignals(ctx context.Context, runID string, events []signal.Event) error
}

// RunRequest 一次回测请求。Candles 非空时直接回放，不访问缓存与数据源。
type RunRequest struct {
	Strategy   string          `json:"strategy"`
	Symbol     string          `json:"symbol,omitempty"`
	Interval   string          `json:"interval,omitempty"`
	Start      time.Time       `json:"start,omitempty"`
	End        time.Time       `json:"end,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Strict     *bool           `json:"strict,omitempty"`
	CrossCheck *bool           `json:"crosscheck,omitempty"`
	Candles    []market.Candle `json:"candles,omitempty"`
}

// Divergence 流式指标与参考库结果的差异。
type Divergence struct {
	Indicator string `json:"indicator"`
	Stream    string `json:"stream"`
	Reference string `json:"reference"`
	Diff      string `json:"diff"`
}

// RunResult 回测汇总。
type RunResult struct {
	RunID       string                `json:"run_id"`
	SessionID   string                `json:"session_id"`
	Strategy    string                `json:"strategy"`
	Symbol      string                `json:"symbol"`
	Interval    string                `json:"interval"`
	Status      signalstore.RunStatus `json:"status"`
	Bars        int                   `json:"bars"`
	Skipped     int                   `json:"skipped"`
	Errors      int                   `json:"errors"`
	Signals     []signal.Event        `json:"signals"`
	Divergences []Divergence          `json:"divergences,omitempty"`
	Diagnostics engine.Diagnostics    `json:"diagnostics"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Error       string                `json:"error,omitempty"`
}

// ServiceConfig 配置 Service。除 Strategies 外均可为空。
type ServiceConfig struct {
	Strategies StrategySource
	Store      *CandleStore
	Source     CandleSource
	Recorder   Recorder
	Sinks      []Sink
	Metrics    *metrics.Metrics

	HistoryCapacity int
	Strict          bool
	CrossCheck      bool
	Tolerance       decimal.Decimal
	MaxConcurrent   int
	// DefaultLimit 未给出 Start 时回看的 K 线数。
	DefaultLimit int
}

// Service 运行回测并保留最近的结果。
type Service struct {
	cfg    ServiceConfig
	runner engine.Runner

	mu      sync.RWMutex
	results map[string]RunResult
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("backtest service requires a strategy source")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 500
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = decimal.New(1, -6)
	}
	return &Service{
		cfg:     cfg,
		runner:  engine.Runner{Limit: cfg.MaxConcurrent, Metrics: cfg.Metrics},
		results: make(map[string]RunResult),
	}, nil
}

type preparedRun struct {
	req        RunRequest
	result     RunResult
	session    *engine.Session
	bars       []market.Bar
	crossCheck bool
}

// Run 同步执行一次回测。
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	results, err := s.RunMany(ctx, []RunRequest{req})
	return results[0], err
}

// RunMany 并行执行多个回测，每个请求独立的 session；结果与 reqs 顺序一致。
// 单个请求准备失败不影响其他请求，错误合并返回。
func (s *Service) RunMany(ctx context.Context, reqs []RunRequest) ([]RunResult, error) {
	results := make([]RunResult, len(reqs))
	var (
		errs  []error
		runs  []*preparedRun
		index []int
		jobs  []engine.Job
	)
	for i, req := range reqs {
		p, err := s.prepare(ctx, req)
		if err != nil {
			results[i] = p.result
			errs = append(errs, err)
			s.cfg.Metrics.RunFinished(string(signalstore.RunStatusFailed))
			continue
		}
		runs = append(runs, p)
		index = append(index, i)
		jobs = append(jobs, engine.Job{
			Session: p.session,
			Bars:    p.bars,
			OnEvent: s.forward(ctx, p.result.RunID),
		})
	}
	if len(jobs) > 0 {
		out, runErr := s.runner.Run(ctx, jobs)
		for k, p := range runs {
			results[index[k]] = s.finish(ctx, p, out[k], runErr)
		}
		if runErr != nil {
			errs = append(errs, runErr)
		}
	}
	return results, errors.Join(errs...)
}

func (s *Service) prepare(ctx context.Context, req RunRequest) (*preparedRun, error) {
	p := &preparedRun{
		req: req,
		result: RunResult{
			RunID:     uuid.NewString(),
			Strategy:  req.Strategy,
			Status:    signalstore.RunStatusFailed,
			StartedAt: time.Now().UTC(),
		},
	}
	fail := func(err error) (*preparedRun, error) {
		p.result.Error = err.Error()
		p.result.FinishedAt = time.Now().UTC()
		s.store(p.result)
		logger.Warnf("[backtest] run %s (%s) failed: %v", p.result.RunID, req.Strategy, err)
		return p, err
	}
	comp, ok := s.cfg.Strategies.Get(req.Strategy)
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy))
	}
	symbol := symbolutil.Normalize(req.Symbol)
	if symbol == "" {
		symbol = comp.Symbol
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		interval = comp.Interval
	}
	p.result.Symbol = symbol
	p.result.Interval = interval

	candles, err := s.loadCandles(ctx, symbol, interval, req)
	if err != nil {
		return fail(err)
	}
	bars, unconverted := market.BarsFromCandles(candles)
	strict := s.cfg.Strict
	if req.Strict != nil {
		strict = *req.Strict
	}
	session, err := engine.NewSession(comp, engine.Options{
		HistoryCapacity: s.cfg.HistoryCapacity,
		Strict:          strict,
		Symbol:          symbol,
		Metrics:         s.cfg.Metrics,
	})
	if err != nil {
		return fail(err)
	}
	p.session = session
	p.bars = bars
	p.crossCheck = s.cfg.CrossCheck
	if req.CrossCheck != nil {
		p.crossCheck = *req.CrossCheck
	}
	p.result.SessionID = session.ID()
	p.result.Skipped = unconverted
	p.result.Status = signalstore.RunStatusRunning

	if s.cfg.Recorder != nil {
		rec := signalstore.Run{
			ID:        p.result.RunID,
			Strategy:  comp.Name,
			Symbol:    symbol,
			Interval:  interval,
			Status:    signalstore.RunStatusRunning,
			Request:   encodeRequest(req),
			CreatedAt: p.result.StartedAt,
		}
		if len(bars) > 0 {
			rec.RangeStart = bars[0].Time
			rec.RangeEnd = bars[len(bars)-1].Time
		}
		if err := s.cfg.Recorder.SaveRun(ctx, rec); err != nil {
			return fail(fmt.Errorf("record run: %w", err))
		}
	}
	logger.Infof("[backtest] run %s start: strategy=%s symbol=%s interval=%s bars=%d",
		p.result.RunID, comp.Name, symbol, interval, len(bars))
	return p, nil
}

func (s *Service) forward(ctx context.Context, runID string) func(signal.Event) {
	if len(s.cfg.Sinks) == 0 {
		return nil
	}
	return func(ev signal.Event) {
		for _, sink := range s.cfg.Sinks {
			if err := sink.Publish(ctx, runID, ev); err != nil {
				logger.Warnf("[backtest] run %s publish %s failed: %v", runID, ev, err)
			}
		}
	}
}

func (s *Service) finish(ctx context.Context, p *preparedRun, res engine.Result, runErr error) RunResult {
	out := p.result
	out.Bars = res.Bars
	out.Skipped += res.Skipped
	out.Errors = res.Errors
	out.Signals = append([]signal.Event{}, res.Events...)
	out.Diagnostics = p.session.Diagnostics()
	out.Status = signalstore.RunStatusDone
	if res.LastError != nil {
		out.Error = res.LastError.Error()
	}
	if runErr != nil && ctx.Err() != nil {
		out.Status = signalstore.RunStatusCancelled
		out.Error = ctx.Err().Error()
	}
	if p.crossCheck && out.Status == signalstore.RunStatusDone {
		out.Divergences = crossCheck(p.session, acceptedCandles(p.bars), s.cfg.Tolerance)
		for _, d := range out.Divergences {
			s.cfg.Metrics.Divergence(out.Strategy, d.Indicator)
			logger.Warnf("[backtest] run %s %s diverges from reference: stream=%s ref=%s diff=%s",
				out.RunID, d.Indicator, d.Stream, d.Reference, d.Diff)
		}
	}
	out.FinishedAt = time.Now().UTC()

	if s.cfg.Recorder != nil {
		// 取消的运行也要落库。
		rctx := context.WithoutCancel(ctx)
		if err := s.cfg.Recorder.SaveSignals(rctx, out.RunID, out.Signals); err != nil {
			logger.Errorf("[backtest] run %s save signals: %v", out.RunID, err)
		}
		sum := signalstore.Summary{
			Status:  out.Status,
			Bars:    out.Bars,
			Skipped: out.Skipped,
			Errors:  out.Errors,
			Signals: len(out.Signals),
			Message: out.Error,
			Details: map[string]any{
				"session_id":  out.SessionID,
				"divergences": out.Divergences,
				"diagnostics": out.Diagnostics,
			},
		}
		if err := s.cfg.Recorder.FinishRun(rctx, out.RunID, sum); err != nil {
			logger.Errorf("[backtest] run %s finish: %v", out.RunID, err)
		}
	}
	s.cfg.Metrics.RunFinished(string(out.Status))
	s.store(out)
	logger.Infof("[backtest] run %s %s: bars=%d skipped=%d errors=%d signals=%d",
		out.RunID, out.Status, out.Bars, out.Skipped, out.Errors, len(out.Signals))
	return out
}

func (s *Service) store(res RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.RunID] = res
}

// Result 返回内存中保存的运行结果。
func (s *Service) Result(id string) (RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[id]
	return res, ok
}

// Results 按开始时间倒序返回全部结果。
func (s *Service) Results() []RunResult {
	s.mu.RLock()
	out := make([]RunResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// loadCandles 优先读缓存；缓存不完整时从数据源拉取并写回。
func (s *Service) loadCandles(ctx context.Context, symbol, interval string, req RunRequest) ([]market.Candle, error) {
	if len(req.Candles) > 0 {
		return req.Candles, nil
	}
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	tf, err := ParseTimeframe(interval)
	if err != nil {
		return nil, err
	}
	end := time.Now().UnixMilli()
	if !req.End.IsZero() {
		end = req.End.UnixMilli()
	}
	var start int64
	if !req.Start.IsZero() {
		start = req.Start.UnixMilli()
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = s.cfg.DefaultLimit
		}
		start = end - int64(limit)*tf.Duration.Milliseconds()
	}
	start, end = tf.AlignRange(start, end)
	expected := tf.ExpectedCandles(start, end)

	var cached []market.Candle
	if s.cfg.Store != nil {
		cached, err = s.cfg.Store.RangeCandles(ctx, symbol, tf.Key, start, end)
		if err != nil {
			return nil, fmt.Errorf("read candle cache: %w", err)
		}
		if int64(len(cached)) >= expected {
			return cached, nil
		}
	}
	if s.cfg.Source == nil {
		if len(cached) > 0 {
			logger.Warnf("[backtest] %s %s cache incomplete (%d/%d), no source configured", symbol, tf.Key, len(cached), expected)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf.Key)
	}
	fetched, err := s.cfg.Source.Fetch(ctx, FetchRequest{
		Symbol:   symbol,
		Interval: tf.SourceInterval,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return nil, fmt.Errorf("%s fetch: %w", s.cfg.Source.Name(), err)
	}
	if s.cfg.Store != nil && len(fetched) > 0 {
		if _, err := s.cfg.Store.InsertCandles(ctx, symbol, tf.Key, fetched); err != nil {
			return nil, fmt.Errorf("write candle cache: %w", err)
		}
		fetched, err = s.cfg.Store.RangeCandles(ctx, symbol, tf.Key, start, end)
		if err != nil {
			return nil, err
		}
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf.Key)
	}
	return fetched, nil
}

// acceptedCandles 复现 session 的准入规则，只保留会被处理的 bar。
func acceptedCandles(bars []market.Bar) market.Candles {
	out := make(market.Candles, 0, len(bars))
	var last time.Time
	for _, b := range bars {
		if b.Validate() != nil || (!last.IsZero() && !b.Time.After(last)) {
			continue
		}
		last = b.Time
		out = append(out, b.Candle())
	}
	return out
}

func crossCheck(session *engine.Session, candles market.Candles, tol decimal.Decimal) []Divergence {
	values := session.Values()
	var out []Divergence
	for _, spec := range session.Strategy().Indicators {
		stream, ok := values[spec.Name]
		if !ok || stream == nil {
			continue
		}
		ref, ok := indicator.Reference(spec, candles)
		if !ok {
			continue
		}
		diff, ok := indicator.Divergence(stream, ref)
		if !ok || !diff.GreaterThan(tol) {
			continue
		}
		out = append(out, Divergence{
			Indicator: spec.Name,
			Stream:    stream.Primary().String(),
			Reference: ref.Primary().String(),
			Diff:      diff.String(),
		})
	}
	return out
}

func encodeRequest(req RunRequest) json.RawMessage {
	req.Candles = nil
	raw, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	return raw
}
