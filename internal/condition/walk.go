package condition

import (
	"fmt"
	"strings"
)

// Walk 先序遍历整棵树；fn 返回 false 时不再深入该节点的子树。
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case AllOf:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case AnyOf:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case Not:
		Walk(n.Child, fn)
	}
}

// Refs 返回节点直接引用的操作数。
func Refs(node Node) []Ref {
	switch n := node.(type) {
	case Compare:
		return []Ref{n.Left, n.Right}
	case CrossAbove:
		return []Ref{n.A, n.B}
	case CrossBelow:
		return []Ref{n.A, n.B}
	}
	return nil
}

// Format 把条件树渲染为单行文本，用于日志与诊断。
func Format(node Node) string {
	var b strings.Builder
	format(&b, node)
	return b.String()
}

func format(b *strings.Builder, node Node) {
	switch n := node.(type) {
	case nil:
		b.WriteString("<nil>")
	case AllOf:
		formatList(b, "all_of", n.Children)
	case AnyOf:
		formatList(b, "any_of", n.Children)
	case Not:
		b.WriteString("not(")
		format(b, n.Child)
		b.WriteString(")")
	case Compare:
		fmt.Fprintf(b, "%s %s %s", refString(n.Left), n.Op, refString(n.Right))
	case CrossAbove:
		fmt.Fprintf(b, "cross_above(%s, %s)", refString(n.A), refString(n.B))
	case CrossBelow:
		fmt.Fprintf(b, "cross_below(%s, %s)", refString(n.A), refString(n.B))
	case PatternPresent:
		fmt.Fprintf(b, "pattern(%s)", n.Name)
	default:
		fmt.Fprintf(b, "%T", node)
	}
}

func formatList(b *strings.Builder, name string, children []Node) {
	b.WriteString(name)
	b.WriteString("(")
	for i, c := range children {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, c)
	}
	b.WriteString(")")
}

func refString(r Ref) string {
	if r == nil {
		return "<nil>"
	}
	return r.String()
}
