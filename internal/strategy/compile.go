// Package strategy 解析、校验并编译策略定义，维护可热加载的策略注册表。
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/pattern"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	symbolutil "github.com/rzcastilho/trading-strategy-sub005/internal/pkg/symbol"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
)

var ErrInvalidStrategy = errors.New("invalid strategy")

// CompileError 汇总一个策略的全部编译问题。
type CompileError struct {
	Strategy string
	Problems []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("strategy %q rejected (%d problems): %s",
		e.Strategy, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *CompileError) Unwrap() error { return ErrInvalidStrategy }

func (e *CompileError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Compiled 编译后的策略，编译后只读，可在多个 session 间共享。
type Compiled struct {
	Name        string
	Description string
	Symbol      string
	Interval    string
	Indicators  []indicator.Spec
	Trees       signal.Trees
	// Patterns 条件树引用到的形态名（排序后）。
	Patterns []string

	kinds map[string]indicator.Kind
}

// Declared 返回声明的指标名集合（新副本）。
func (c *Compiled) Declared() map[string]struct{} {
	out := make(map[string]struct{}, len(c.kinds))
	for name := range c.kinds {
		out[name] = struct{}{}
	}
	return out
}

// WarmupBars 全部指标中最长的预热 bar 数。
func (c *Compiled) WarmupBars() int {
	n := 0
	for _, spec := range c.Indicators {
		if w := spec.WarmupBars(); w > n {
			n = w
		}
	}
	return n
}

// Compile 校验并编译定义；任何问题都以 *CompileError 一次性返回。
func Compile(def Definition) (*Compiled, error) {
	name := strings.TrimSpace(def.Name)
	cerr := &CompileError{Strategy: name}
	if name == "" {
		cerr.add("name is required")
	}
	out := &Compiled{
		Name:        name,
		Description: strings.TrimSpace(def.Description),
		Symbol:      symbolutil.Normalize(def.Symbol),
		Interval:    strings.TrimSpace(def.Interval),
		kinds:       make(map[string]indicator.Kind, len(def.Indicators)),
	}

	for i, ind := range def.Indicators {
		spec, err := ind.Spec()
		if err != nil {
			cerr.add("indicators[%d] %q: %v", i, ind.Name, err)
			continue
		}
		if err := spec.Validate(); err != nil {
			cerr.add("indicators[%d]: %v", i, err)
			continue
		}
		if market.IsField(spec.Name) {
			cerr.add("indicators[%d]: name %q is reserved for bar fields", i, spec.Name)
			continue
		}
		if _, dup := out.kinds[spec.Name]; dup {
			cerr.add("indicators[%d]: duplicate name %q", i, spec.Name)
			continue
		}
		out.kinds[spec.Name] = spec.Kind
		out.Indicators = append(out.Indicators, spec)
	}

	trees := []struct {
		label string
		raw   any
		dst   *condition.Node
	}{
		{"entry_long", def.EntryLong, &out.Trees.EntryLong},
		{"entry_short", def.EntryShort, &out.Trees.EntryShort},
		{"exit", def.Exit, &out.Trees.Exit},
		{"stop", def.Stop, &out.Trees.Stop},
	}
	patterns := map[string]struct{}{}
	for _, t := range trees {
		if t.raw == nil {
			continue
		}
		node, err := decodeNode(t.raw, t.label)
		if err != nil {
			cerr.add("%v", err)
			continue
		}
		*t.dst = node
		out.checkTree(t.label, node, patterns, cerr)
	}
	if out.Trees.Empty() && len(cerr.Problems) == 0 {
		cerr.add("at least one of entry_long, entry_short, exit, stop is required")
	}
	for p := range patterns {
		out.Patterns = append(out.Patterns, p)
	}
	sort.Strings(out.Patterns)

	if len(cerr.Problems) > 0 {
		return nil, cerr
	}
	return out, nil
}

// checkTree 校验引用的指标、分量与形态都存在。
func (c *Compiled) checkTree(label string, root condition.Node, patterns map[string]struct{}, cerr *CompileError) {
	condition.Walk(root, func(n condition.Node) bool {
		if p, ok := n.(condition.PatternPresent); ok {
			if !pattern.Known(p.Name) {
				cerr.add("%s: unknown pattern %q", label, p.Name)
			} else {
				patterns[p.Name] = struct{}{}
			}
		}
		for _, r := range condition.Refs(n) {
			ref, ok := r.(condition.IndicatorRef)
			if !ok {
				continue
			}
			c.checkRef(label, ref, cerr)
		}
		return true
	})
}

func (c *Compiled) checkRef(label string, ref condition.IndicatorRef, cerr *CompileError) {
	if kind, ok := c.kinds[ref.Name]; ok {
		if !indicator.HasComponent(kind, ref.Component) {
			cerr.add("%s: %s has no component %q (valid: %s)", label, ref.Name, ref.Component, joinComponents(indicator.Components(kind)))
		}
		return
	}
	if market.IsField(ref.Name) {
		if ref.Component != "" && ref.Component != indicator.ComponentValue {
			cerr.add("%s: bar field %s has no component %q", label, ref.Name, ref.Component)
		}
		return
	}
	cerr.add("%s: unknown indicator %q", label, ref.Name)
}

func joinComponents(cs []indicator.Component) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
