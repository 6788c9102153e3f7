package condition

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

// History 提供上一根及更早的取值，offsetBack=1 为上一根 bar。
type History interface {
	Previous(name string, offsetBack int) (indicator.Value, bool)
}

// Context 单根 bar 的只读求值上下文，求值过程不修改它。
type Context struct {
	Bar market.Bar
	// Values 当前已定义的指标值。
	Values map[string]indicator.Value
	// History 不含当前 bar；nil 时所有交叉判断为 false。
	History History
	// Patterns 当前 bar 出现的形态。
	Patterns map[string]struct{}
	// Declared 策略声明过的指标名（包括仍在预热的）。
	// 为 nil 时无法区分"未定义"与"不存在"，缺失一律按未定义处理。
	Declared  map[string]struct{}
	Timestamp time.Time
}

// current 解析当前值。ok=false 且 err=nil 表示指标已声明但尚未定义。
func (c *Context) current(r Ref) (decimal.Decimal, bool, error) {
	switch ref := r.(type) {
	case Literal:
		return ref.Value, true, nil
	case IndicatorRef:
		if v, ok := c.Values[ref.Name]; ok {
			d, ok := v.Component(ref.Component)
			if !ok {
				return decimal.Decimal{}, false, componentErr(ref)
			}
			return d, true, nil
		}
		if market.IsField(ref.Name) {
			if !barComponent(ref.Component) {
				return decimal.Decimal{}, false, componentErr(ref)
			}
			d, _ := c.Bar.Field(ref.Name)
			return d, true, nil
		}
		if err := c.declared(ref); err != nil {
			return decimal.Decimal{}, false, err
		}
		return decimal.Decimal{}, false, nil
	case nil:
		return decimal.Decimal{}, false, ErrNilNode
	}
	return decimal.Decimal{}, false, ErrUnknownReference
}

// previous 解析上一根的值；literal 的上一根就是它自己。
func (c *Context) previous(r Ref) (decimal.Decimal, bool, error) {
	switch ref := r.(type) {
	case Literal:
		return ref.Value, true, nil
	case IndicatorRef:
		if _, ok := c.Values[ref.Name]; !ok && !market.IsField(ref.Name) {
			if err := c.declared(ref); err != nil {
				return decimal.Decimal{}, false, err
			}
		}
		if market.IsField(ref.Name) && !barComponent(ref.Component) {
			return decimal.Decimal{}, false, componentErr(ref)
		}
		if c.History == nil {
			return decimal.Decimal{}, false, nil
		}
		v, ok := c.History.Previous(ref.Name, 1)
		if !ok || v == nil {
			return decimal.Decimal{}, false, nil
		}
		d, ok := v.Component(ref.Component)
		if !ok {
			return decimal.Decimal{}, false, componentErr(ref)
		}
		return d, true, nil
	case nil:
		return decimal.Decimal{}, false, ErrNilNode
	}
	return decimal.Decimal{}, false, ErrUnknownReference
}

func (c *Context) declared(ref IndicatorRef) error {
	if c.Declared == nil {
		return nil
	}
	if _, ok := c.Declared[ref.Name]; ok {
		return nil
	}
	return &RefError{Ref: ref, Err: ErrUnknownReference}
}

func barComponent(c indicator.Component) bool {
	return c == "" || c == indicator.ComponentValue
}

func componentErr(ref IndicatorRef) error {
	return &RefError{Ref: ref, Err: ErrUnknownComponent}
}

// RefError 结构性错误：引用了不存在的指标或分量。
type RefError struct {
	Ref IndicatorRef
	Err error
}

func (e *RefError) Error() string { return e.Err.Error() + ": " + e.Ref.String() }

func (e *RefError) Unwrap() error { return e.Err }
