package signal

import (
	"fmt"

	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
)

// Trees 策略的四棵条件树，nil 表示未配置。
type Trees struct {
	EntryLong  condition.Node
	EntryShort condition.Node
	Exit       condition.Node
	Stop       condition.Node
}

// Empty 报告是否一棵树都没有。
func (t Trees) Empty() bool {
	return t.EntryLong == nil && t.EntryShort == nil && t.Exit == nil && t.Stop == nil
}

// Sides 策略交易的方向：有 entry_long 则含多头，有 entry_short 则含空头；
// 两者都没有时按多头处理。
func (t Trees) Sides() []Direction {
	var sides []Direction
	if t.EntryLong != nil {
		sides = append(sides, Long)
	}
	if t.EntryShort != nil {
		sides = append(sides, Short)
	}
	if len(sides) == 0 {
		sides = append(sides, Long)
	}
	return sides
}

// Emit 依次求值 entry_long、entry_short、exit、stop，为每棵为真的树产生事件。
// 多棵树可以在同一根 bar 上同时触发；exit/stop 对策略交易的每个方向各产生一条。
// 任一树求值出现结构性错误时整根 bar 失败，不返回部分结果。
func Emit(trees Trees, ctx *condition.Context, ev condition.Evaluator) ([]Event, error) {
	var events []Event
	fire := func(label string, node condition.Node, kind Kind, dirs ...Direction) error {
		if node == nil {
			return nil
		}
		ok, err := ev.Evaluate(node, ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if !ok {
			return nil
		}
		for _, d := range dirs {
			events = append(events, Event{
				Kind:      kind,
				Direction: d,
				Price:     ctx.Bar.Close,
				Timestamp: ctx.Timestamp,
			})
		}
		return nil
	}
	sides := trees.Sides()
	steps := []struct {
		label string
		node  condition.Node
		kind  Kind
		dirs  []Direction
	}{
		{"entry_long", trees.EntryLong, KindEntry, []Direction{Long}},
		{"entry_short", trees.EntryShort, KindEntry, []Direction{Short}},
		{"exit", trees.Exit, KindExit, sides},
		{"stop", trees.Stop, KindStop, sides},
	}
	for _, s := range steps {
		if err := fire(s.label, s.node, s.kind, s.dirs...); err != nil {
			return nil, err
		}
	}
	return events, nil
}
