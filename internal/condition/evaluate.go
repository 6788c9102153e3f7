package condition

import (
	"fmt"
)

// Evaluator 条件树求值器。零值即宽松模式。
type Evaluator struct {
	// Strict 为 true 时，引用未定义指标的比较直接为 false；
	// 默认把未定义的指标当作 0 参与比较。
	Strict bool
	// Visit 在访问每个节点前调用，用于计数与观测。
	Visit func(Node)
}

// Evaluate 使用宽松模式求值。
func Evaluate(node Node, ctx *Context) (bool, error) {
	return Evaluator{}.Evaluate(node, ctx)
}

// Evaluate 递归求值 node。结构性错误（未知引用、未知分量、空节点、
// 未知运算符）以 error 返回，与"条件为假"区分。
func (e Evaluator) Evaluate(node Node, ctx *Context) (bool, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	return e.eval(node, ctx)
}

func (e Evaluator) eval(node Node, ctx *Context) (bool, error) {
	if node == nil {
		return false, ErrNilNode
	}
	if e.Visit != nil {
		e.Visit(node)
	}
	switch n := node.(type) {
	case AllOf:
		for _, child := range n.Children {
			ok, err := e.eval(child, ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case AnyOf:
		for _, child := range n.Children {
			ok, err := e.eval(child, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := e.eval(n.Child, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Compare:
		return e.compare(n, ctx)
	case CrossAbove:
		return cross(n.A, n.B, ctx, true)
	case CrossBelow:
		return cross(n.A, n.B, ctx, false)
	case PatternPresent:
		_, ok := ctx.Patterns[n.Name]
		return ok, nil
	}
	return false, fmt.Errorf("unsupported condition node %T", node)
}

func (e Evaluator) compare(n Compare, ctx *Context) (bool, error) {
	left, okL, err := ctx.current(n.Left)
	if err != nil {
		return false, err
	}
	right, okR, err := ctx.current(n.Right)
	if err != nil {
		return false, err
	}
	if !okL || !okR {
		if e.Strict {
			// 仍校验运算符，保证结构错误不被吞掉
			_, err := n.Op.Apply(left, right)
			return false, err
		}
		// 未定义的指标按 0 处理，left/right 此时已是零值
	}
	return n.Op.Apply(left, right)
}

func cross(a, b Ref, ctx *Context, above bool) (bool, error) {
	curA, okA, err := ctx.current(a)
	if err != nil {
		return false, err
	}
	curB, okB, err := ctx.current(b)
	if err != nil {
		return false, err
	}
	prevA, okPA, err := ctx.previous(a)
	if err != nil {
		return false, err
	}
	prevB, okPB, err := ctx.previous(b)
	if err != nil {
		return false, err
	}
	if !okA || !okB || !okPA || !okPB {
		return false, nil
	}
	if above {
		return curA.GreaterThan(curB) && prevA.LessThanOrEqual(prevB), nil
	}
	return curA.LessThan(curB) && prevA.GreaterThanOrEqual(prevB), nil
}
