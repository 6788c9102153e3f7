package signal

import (
	"time"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

var now = time.Now

// BuildContext 组装单根 bar 的求值上下文，只做拼装。
// 必须在指标更新之后、历史记录本根 bar 之前调用，
// 这样上下文里的"上一根"仍指向前一根 bar。ts 为 nil 时取当前时间。
func BuildContext(
	bar market.Bar,
	values map[string]indicator.Value,
	hist condition.History,
	patterns map[string]struct{},
	declared map[string]struct{},
	ts *time.Time,
) *condition.Context {
	stamp := now()
	if ts != nil {
		stamp = *ts
	}
	if values == nil {
		values = map[string]indicator.Value{}
	}
	if patterns == nil {
		patterns = map[string]struct{}{}
	}
	return &condition.Context{
		Bar:       bar,
		Values:    values,
		History:   hist,
		Patterns:  patterns,
		Declared:  declared,
		Timestamp: stamp,
	}
}
