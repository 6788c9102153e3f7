// Package engine 运行策略 session：逐 bar 推进指标、识别形态、求值条件树并产生信号。
//
// 每个 Session 独占自己的指标状态与历史缓冲，不与其他 session 共享可变状态；
// 同一 session 的 bar 必须严格按时间顺序喂入。
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/pattern"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/history"
	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	symbolutil "github.com/rzcastilho/trading-strategy-sub005/internal/pkg/symbol"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

var (
	ErrOutOfOrder   = errors.New("bar out of chronological order")
	ErrMalformedBar = market.ErrMalformedBar
	ErrNoStrategy   = errors.New("session requires a compiled strategy")
)

// BarError 某根 bar 的条件求值失败；该 bar 的指标与历史已经记录，
// 下一根 bar 可以正常处理。
type BarError struct {
	Index int
	Time  time.Time
	Err   error
}

func (e *BarError) Error() string {
	return fmt.Sprintf("bar #%d (%s): %v", e.Index, e.Time.UTC().Format(time.RFC3339), e.Err)
}

func (e *BarError) Unwrap() error { return e.Err }

// Options session 的可选参数，零值可用。
type Options struct {
	// HistoryCapacity 每条历史序列的上限，<=0 时使用 history.DefaultCapacity。
	HistoryCapacity int
	// Strict 打开后引用未定义指标的比较为 false，而不是按 0 比较。
	Strict bool
	// Symbol 覆盖策略里的交易对，写入信号事件。
	Symbol  string
	Metrics *metrics.Metrics
}

// Diagnostics 最近一根 bar 的观测数据。
type Diagnostics struct {
	BarIndex  int       `json:"bar_index"`
	Time      time.Time `json:"time"`
	Undefined []string  `json:"undefined,omitempty"`
	Patterns  []string  `json:"patterns,omitempty"`
	Signals   int       `json:"signals"`
	Error     string    `json:"error,omitempty"`
}

// Session 一次策略运行（回测、模拟或实盘），非并发安全。
type Session struct {
	id        string
	strat     *strategy.Compiled
	symbol    string
	metrics   *metrics.Metrics
	log       *slog.Logger
	evaluator condition.Evaluator
	declared  map[string]struct{}

	indicators *indicator.Engine
	history    *history.Buffer[indicator.Value]
	patterns   *pattern.Detector

	bars     int
	lastTime time.Time
	values   map[string]indicator.Value
	diag     Diagnostics
}

// NewSession 为编译后的策略创建独立的 session。
func NewSession(c *strategy.Compiled, opts Options) (*Session, error) {
	if c == nil {
		return nil, ErrNoStrategy
	}
	ind, err := indicator.NewEngine(c.Indicators)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", c.Name, err)
	}
	symbol := symbolutil.Normalize(opts.Symbol)
	if symbol == "" {
		symbol = c.Symbol
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		strat:      c,
		symbol:     symbol,
		metrics:    opts.Metrics,
		log:        logger.With("session", id, "strategy", c.Name),
		evaluator:  condition.Evaluator{Strict: opts.Strict},
		declared:   c.Declared(),
		indicators: ind,
		history:    history.NewBuffer[indicator.Value](opts.HistoryCapacity),
		patterns:   pattern.NewDetector(),
		values:     map[string]indicator.Value{},
	}, nil
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Strategy() *strategy.Compiled { return s.strat }
func (s *Session) Symbol() string               { return s.symbol }

// Bars 已接受的 bar 数。
func (s *Session) Bars() int { return s.bars }

// OnBar 同步处理一根 bar，返回本 bar 触发的全部信号。
//
// 乱序/重复时间戳与畸形 bar 被拒绝（ErrOutOfOrder / ErrMalformedBar），
// session 状态不变。条件求值的结构性错误以 *BarError 返回，此时 bar 已被记录。
func (s *Session) OnBar(bar market.Bar) ([]signal.Event, error) {
	if err := s.admit(bar); err != nil {
		reason := "malformed"
		if errors.Is(err, ErrOutOfOrder) {
			reason = "out_of_order"
		}
		s.metrics.BarSkipped(s.strat.Name, reason)
		s.log.Warn("bar rejected", "time", bar.Time, "reason", reason, "err", err)
		return nil, err
	}
	start := time.Now()
	s.bars++
	s.lastTime = bar.Time

	snap := s.indicators.Update(bar)
	found := s.patterns.Detect(bar)
	ts := bar.Time
	ctx := signal.BuildContext(bar, snap.Values, s.history, found, s.declared, &ts)
	events, evalErr := signal.Emit(s.strat.Trees, ctx, s.evaluator)

	s.record(bar, snap)
	s.values = snap.Values
	s.diag = Diagnostics{
		BarIndex:  s.bars,
		Time:      bar.Time,
		Undefined: snap.Undefined,
		Patterns:  found.Names(),
		Signals:   len(events),
	}
	s.metrics.ObserveBar(s.strat.Name, time.Since(start))

	if evalErr != nil {
		s.diag.Error = evalErr.Error()
		s.metrics.EvalError(s.strat.Name)
		s.log.Error("condition evaluation failed", "bar", s.bars, "time", bar.Time, "err", evalErr)
		return nil, &BarError{Index: s.bars, Time: bar.Time, Err: evalErr}
	}
	for i := range events {
		events[i].Strategy = s.strat.Name
		events[i].Symbol = s.symbol
		events[i].BarIndex = s.bars
		s.metrics.Signal(s.strat.Name, string(events[i].Kind), string(events[i].Direction))
	}
	s.audit(events)
	return events, nil
}

func (s *Session) admit(bar market.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if !s.lastTime.IsZero() && !bar.Time.After(s.lastTime) {
		return fmt.Errorf("%w: %s not after %s", ErrOutOfOrder,
			bar.Time.UTC().Format(time.RFC3339Nano), s.lastTime.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

// record 在求值之后写入历史，保证求值时"上一根"仍是前一根 bar。
// 未定义的指标记为 nil，避免交叉判断读到更早的值。
func (s *Session) record(bar market.Bar, snap indicator.Snapshot) {
	for _, spec := range s.strat.Indicators {
		s.history.Record(spec.Name, snap.Values[spec.Name])
	}
	for _, field := range market.Fields() {
		v, _ := bar.Field(field)
		s.history.Record(field, indicator.Scalar{Value: v})
	}
}

func (s *Session) audit(events []signal.Event) {
	if !logger.AuditEnabled() {
		return
	}
	for _, ev := range events {
		logger.Audit("signal", s.id,
			logger.AuditField{Key: "strategy", Value: s.strat.Name},
			logger.AuditField{Key: "bar", Value: fmt.Sprint(ev.BarIndex)},
			logger.AuditField{Key: "kind", Value: string(ev.Kind)},
			logger.AuditField{Key: "direction", Value: string(ev.Direction)},
			logger.AuditField{Key: "price", Value: ev.Price.String()},
			logger.AuditField{Key: "undefined", Value: strings.Join(s.diag.Undefined, ",")},
		)
	}
}

// Diagnostics 返回最近一根 bar 的观测数据。
func (s *Session) Diagnostics() Diagnostics {
	d := s.diag
	d.Undefined = append([]string(nil), d.Undefined...)
	d.Patterns = append([]string(nil), d.Patterns...)
	return d
}

// Values 返回当前指标值的副本。
func (s *Session) Values() map[string]indicator.Value {
	out := make(map[string]indicator.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Previous 读取 name 在 offsetBack 根之前的值（1 为最近处理的那根）。
func (s *Session) Previous(name string, offsetBack int) (indicator.Value, bool) {
	v, ok := s.history.Previous(name, offsetBack)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
