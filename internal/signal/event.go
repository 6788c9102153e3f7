// Package signal 组装每根 bar 的求值上下文，并把条件树结果转换为信号事件。
package signal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 信号类型。
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
	KindStop  Kind = "stop"
)

// Direction 信号方向。
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Event 一次信号。引擎产生后立即交给下游，不再持有。
type Event struct {
	Kind      Kind            `json:"kind"`
	Direction Direction       `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Strategy  string          `json:"strategy,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	// BarIndex 从 1 开始的 bar 序号，由 session 填写。
	BarIndex int `json:"bar_index,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s %s@%s %s", e.Kind, e.Direction, e.Symbol, e.Price, e.Timestamp.UTC().Format(time.RFC3339))
}
