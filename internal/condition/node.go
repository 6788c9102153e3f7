// Package condition 定义策略的条件树并逐 bar 求值。
//
// Node 与 Ref 都是封闭的变体：只有本包内的类型实现它们，
// 求值处用 type switch 穷举。
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
)

var (
	ErrNilNode          = errors.New("nil condition node")
	ErrUnknownOperator  = errors.New("unknown comparison operator")
	ErrUnknownReference = errors.New("unknown indicator reference")
	ErrUnknownComponent = errors.New("unknown indicator component")
)

// Node 条件树节点。
type Node interface {
	isNode()
}

// AllOf 逻辑与；空列表为 true。
type AllOf struct {
	Children []Node
}

// AnyOf 逻辑或；空列表为 false。
type AnyOf struct {
	Children []Node
}

type Not struct {
	Child Node
}

// Compare 比较两个取值。
type Compare struct {
	Op    Op
	Left  Ref
	Right Ref
}

// CrossAbove A 在上一根不高于 B、当前严格高于 B。
type CrossAbove struct {
	A Ref
	B Ref
}

// CrossBelow A 在上一根不低于 B、当前严格低于 B。
type CrossBelow struct {
	A Ref
	B Ref
}

// PatternPresent 当前 bar 是否出现某个形态。
type PatternPresent struct {
	Name string
}

func (AllOf) isNode()          {}
func (AnyOf) isNode()          {}
func (Not) isNode()            {}
func (Compare) isNode()        {}
func (CrossAbove) isNode()     {}
func (CrossBelow) isNode()     {}
func (PatternPresent) isNode() {}

// Ref 比较与交叉的操作数。
type Ref interface {
	fmt.Stringer
	isRef()
}

// IndicatorRef 引用指标（或原始 bar 字段）的某个分量；Component 为空表示主值。
type IndicatorRef struct {
	Name      string
	Component indicator.Component
}

// Literal 常量。
type Literal struct {
	Value decimal.Decimal
}

func (IndicatorRef) isRef() {}
func (Literal) isRef()      {}

func (r IndicatorRef) String() string {
	if r.Component == "" {
		return r.Name
	}
	return r.Name + "." + string(r.Component)
}

func (l Literal) String() string { return l.Value.String() }

// Ind 构造 IndicatorRef，可选分量。
func Ind(name string, component ...indicator.Component) IndicatorRef {
	r := IndicatorRef{Name: name}
	if len(component) > 0 {
		r.Component = component[0]
	}
	return r
}

// Lit 把 int64 或十进制字符串构造为 Literal；字符串非法时 panic，只用于常量。
func Lit[T int64 | int | string](v T) Literal {
	switch x := any(v).(type) {
	case int64:
		return Literal{Value: decimal.NewFromInt(x)}
	case int:
		return Literal{Value: decimal.NewFromInt(int64(x))}
	case string:
		return Literal{Value: decimal.RequireFromString(x)}
	}
	return Literal{}
}

// Op 比较运算符。
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// ParseOp 接受符号及常见英文别名。
func ParseOp(raw string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ">", "gt", "greater_than", "above":
		return OpGT, nil
	case "<", "lt", "less_than", "below":
		return OpLT, nil
	case ">=", "gte", "ge", "greater_than_or_equal":
		return OpGE, nil
	case "<=", "lte", "le", "less_than_or_equal":
		return OpLE, nil
	case "==", "=", "eq", "equal", "equals":
		return OpEQ, nil
	case "!=", "<>", "ne", "neq", "not_equal":
		return OpNE, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperator, raw)
}

// Apply 按精确 decimal 语义比较。
func (o Op) Apply(a, b decimal.Decimal) (bool, error) {
	switch o {
	case OpGT:
		return a.GreaterThan(b), nil
	case OpLT:
		return a.LessThan(b), nil
	case OpGE:
		return a.GreaterThanOrEqual(b), nil
	case OpLE:
		return a.LessThanOrEqual(b), nil
	case OpEQ:
		return a.Equal(b), nil
	case OpNE:
		return !a.Equal(b), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, string(o))
}
