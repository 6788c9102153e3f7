package indicator

import (
	"fmt"
	"sort"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

// Snapshot 一根 bar 之后全部指标的状态。
type Snapshot struct {
	// Values 已完成预热的指标值，按名称索引。
	Values map[string]Value
	// Undefined 仍处于预热期的指标名（排序后）。
	Undefined []string
}

// Defined 报告 name 是否已有值。
func (s Snapshot) Defined(name string) bool {
	_, ok := s.Values[name]
	return ok
}

type entry struct {
	spec Spec
	ind  Indicator
}

// Engine 为一个 session 持有每个 Spec 的指标实例，不做并发保护。
type Engine struct {
	entries []entry
	bars    int
}

// NewEngine 为 specs 创建指标；名称重复或参数非法时返回错误。
func NewEngine(specs []Spec) (*Engine, error) {
	e := &Engine{entries: make([]entry, 0, len(specs))}
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		spec = spec.WithDefaults()
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate indicator name %q", ErrInvalidParams, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		ind, err := New(spec)
		if err != nil {
			return nil, err
		}
		e.entries = append(e.entries, entry{spec: spec, ind: ind})
	}
	return e, nil
}

// Update 推进所有指标并返回本根 bar 的快照。
func (e *Engine) Update(bar market.Bar) Snapshot {
	e.bars++
	for _, en := range e.entries {
		en.ind.Update(bar)
	}
	return e.Snapshot()
}

// Snapshot 返回当前状态，不推进。
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{Values: make(map[string]Value, len(e.entries))}
	for _, en := range e.entries {
		if v, ok := en.ind.Value(); ok {
			snap.Values[en.spec.Name] = v
		} else {
			snap.Undefined = append(snap.Undefined, en.spec.Name)
		}
	}
	sort.Strings(snap.Undefined)
	return snap
}

// Bars 已处理的 bar 数。
func (e *Engine) Bars() int { return e.bars }
