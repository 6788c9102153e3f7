package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/convert"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
)

// 条件树文档中的节点键。
const (
	keyAllOf      = "all_of"
	keyAnyOf      = "any_of"
	keyNot        = "not"
	keyCompare    = "compare"
	keyCrossAbove = "cross_above"
	keyCrossBelow = "cross_below"
	keyPattern    = "pattern"
)

var ErrInvalidNode = errors.New("invalid condition node")

// DecodeNode 把 yaml/json 解码得到的通用结构转换为条件树。
// raw 为 nil 时返回 (nil, nil)，表示该树未配置。
func DecodeNode(raw any) (condition.Node, error) {
	if raw == nil {
		return nil, nil
	}
	return decodeNode(raw, "$")
}

// DecodeNodeJSON 解析可视化编辑器导出的 JSON 条件树。
// 数字保留原始文本，避免经过 float64。
func DecodeNodeJSON(raw string) (condition.Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty json", ErrInvalidNode)
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidNode)
	}
	return DecodeNode(fromGJSON(gjson.Parse(raw)))
}

// DecodeTreesJSON 从一个 JSON 对象中读取 entry_long/entry_short/exit/stop 四棵树。
func DecodeTreesJSON(raw string) (signal.Trees, error) {
	var trees signal.Trees
	if !gjson.Valid(raw) {
		return trees, fmt.Errorf("%w: malformed json", ErrInvalidNode)
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return trees, fmt.Errorf("%w: root must be an object", ErrInvalidNode)
	}
	targets := []struct {
		key string
		dst *condition.Node
	}{
		{"entry_long", &trees.EntryLong},
		{"entry_short", &trees.EntryShort},
		{"exit", &trees.Exit},
		{"stop", &trees.Stop},
	}
	for _, t := range targets {
		res := root.Get(t.key)
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		node, err := decodeNode(fromGJSON(res), t.key)
		if err != nil {
			return signal.Trees{}, err
		}
		*t.dst = node
	}
	return trees, nil
}

func fromGJSON(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.Str
	}
	if r.IsArray() {
		out := make([]any, 0)
		r.ForEach(func(_, v gjson.Result) bool {
			out = append(out, fromGJSON(v))
			return true
		})
		return out
	}
	out := make(map[string]any)
	r.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = fromGJSON(v)
		return true
	})
	return out
}

func nodeErr(path, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrInvalidNode, path, fmt.Sprintf(format, args...))
}

func decodeNode(raw any, path string) (condition.Node, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, nodeErr(path, "expected a mapping, got %T", raw)
	}
	if len(m) != 1 {
		return nil, nodeErr(path, "expected exactly one key, got %s", strings.Join(sortedKeys(m), ","))
	}
	for key, body := range m {
		sub := path + "." + key
		k := strings.ToLower(strings.TrimSpace(key))
		switch k {
		case keyAllOf, "and", "all":
			children, err := decodeList(body, sub)
			if err != nil {
				return nil, err
			}
			return condition.AllOf{Children: children}, nil
		case keyAnyOf, "or", "any":
			children, err := decodeList(body, sub)
			if err != nil {
				return nil, err
			}
			return condition.AnyOf{Children: children}, nil
		case keyNot:
			if body == nil {
				return nil, nodeErr(sub, "missing child")
			}
			child, err := decodeNode(body, sub)
			if err != nil {
				return nil, err
			}
			return condition.Not{Child: child}, nil
		case keyCompare:
			return decodeCompare(body, sub)
		case keyCrossAbove, keyCrossBelow:
			a, b, err := decodePair(body, sub)
			if err != nil {
				return nil, err
			}
			if k == keyCrossAbove {
				return condition.CrossAbove{A: a, B: b}, nil
			}
			return condition.CrossBelow{A: a, B: b}, nil
		case keyPattern:
			name, ok := body.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return nil, nodeErr(sub, "pattern name must be a non-empty string")
			}
			return condition.PatternPresent{Name: strings.ToLower(strings.TrimSpace(name))}, nil
		default:
			return nil, nodeErr(path, "unknown node type %q", key)
		}
	}
	return nil, nodeErr(path, "empty node")
}

func decodeList(raw any, path string) ([]condition.Node, error) {
	if raw == nil {
		return []condition.Node{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, nodeErr(path, "expected a list, got %T", raw)
	}
	out := make([]condition.Node, 0, len(items))
	for i, item := range items {
		n, err := decodeNode(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeCompare(raw any, path string) (condition.Node, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, nodeErr(path, "expected a mapping with op/left/right")
	}
	for key := range m {
		switch key {
		case "op", "left", "right":
		default:
			return nil, nodeErr(path, "unexpected key %q", key)
		}
	}
	opRaw, ok := m["op"].(string)
	if !ok {
		return nil, nodeErr(path, "op must be a string")
	}
	op, err := condition.ParseOp(opRaw)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrInvalidNode, path, err)
	}
	left, err := decodeRef(m["left"], path+".left")
	if err != nil {
		return nil, err
	}
	right, err := decodeRef(m["right"], path+".right")
	if err != nil {
		return nil, err
	}
	return condition.Compare{Op: op, Left: left, Right: right}, nil
}

func decodePair(raw any, path string) (condition.Ref, condition.Ref, error) {
	items, ok := raw.([]any)
	if !ok || len(items) != 2 {
		return nil, nil, nodeErr(path, "expected a list of two operands")
	}
	a, err := decodeRef(items[0], path+"[0]")
	if err != nil {
		return nil, nil, err
	}
	b, err := decodeRef(items[1], path+"[1]")
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// decodeRef 接受 "rsi"、"bb.upper_band"、数字、数字字符串，
// 以及 {indicator, component} / {literal} 映射。
func decodeRef(raw any, path string) (condition.Ref, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nodeErr(path, "missing operand")
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nodeErr(path, "empty operand")
		}
		if d := convert.EnsureDecimal(s); d.Valid {
			return condition.Literal{Value: d.Decimal}, nil
		}
		name, comp, _ := strings.Cut(s, ".")
		return indicatorRef(name, comp, path)
	case bool:
		return nil, nodeErr(path, "boolean is not a valid operand")
	}
	if m, ok := asMap(raw); ok {
		if lit, ok := m["literal"]; ok {
			if len(m) != 1 {
				return nil, nodeErr(path, "literal operand takes no other keys")
			}
			d := convert.EnsureDecimal(lit)
			if !d.Valid {
				return nil, nodeErr(path, "literal %v is not a decimal", lit)
			}
			return condition.Literal{Value: d.Decimal}, nil
		}
		name, _ := m["indicator"].(string)
		comp, _ := m["component"].(string)
		for key := range m {
			if key != "indicator" && key != "component" {
				return nil, nodeErr(path, "unexpected key %q", key)
			}
		}
		return indicatorRef(name, comp, path)
	}
	if d := convert.EnsureDecimal(raw); d.Valid {
		return condition.Literal{Value: d.Decimal}, nil
	}
	return nil, nodeErr(path, "unsupported operand %T", raw)
}

func indicatorRef(name, comp, path string) (condition.Ref, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nodeErr(path, "indicator name required")
	}
	if market.IsField(name) {
		name = strings.ToLower(name)
	}
	return condition.IndicatorRef{
		Name:      name,
		Component: indicator.Component(strings.ToLower(strings.TrimSpace(comp))),
	}, nil
}

func asMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[toString(k)] = v
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
