// Package pattern 在逐 bar 推进时识别 K 线形态。
//
// 单/双根蜡烛形态使用 decimal 计算；双底、双顶、三角收敛、波动压缩
// 等窗口形态沿用浮点启发式，只看最近 WindowSize 根 bar。
package pattern

import (
	"sort"

	"github.com/rzcastilho/trading-strategy-sub005/internal/history"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

const (
	Doji             = "doji"
	Hammer           = "hammer"
	InvertedHammer   = "inverted_hammer"
	ShootingStar     = "shooting_star"
	BullishEngulfing = "bullish_engulfing"
	BearishEngulfing = "bearish_engulfing"
	Marubozu         = "marubozu"
	DoubleBottom     = "double_bottom"
	DoubleTop        = "double_top"
	Triangle         = "triangle"
	Compression      = "compression"
)

// WindowSize 窗口形态最多回看的 bar 数。
const WindowSize = 60

var names = []string{
	Doji, Hammer, InvertedHammer, ShootingStar, BullishEngulfing, BearishEngulfing, Marubozu,
	DoubleBottom, DoubleTop, Triangle, Compression,
}

// Names 返回全部可识别的形态名。
func Names() []string { return append([]string(nil), names...) }

// Known 报告 name 是否为可识别的形态。
func Known(name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Set 当前 bar 上出现的形态集合。
type Set map[string]struct{}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names 排序后的形态名。
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Detector 保存最近的 bar 并在每根 bar 上输出形态集合，属于单个 session。
type Detector struct {
	window  *history.Ring[market.Bar]
	details map[string]string
}

func NewDetector() *Detector {
	return &Detector{window: history.NewRing[market.Bar](WindowSize)}
}

// Detect 记录 bar 并返回它所在位置出现的形态。
func (d *Detector) Detect(bar market.Bar) Set {
	d.window.Push(bar)
	set := make(Set)
	d.details = make(map[string]string)

	var prev *market.Bar
	if p, ok := d.window.Back(1); ok {
		prev = &p
	}
	for name, hit := range candlestick(bar, prev) {
		if hit {
			set[name] = struct{}{}
		}
	}

	if d.window.Len() >= 20 {
		bars := d.window.Slice()
		highs, lows := make([]float64, len(bars)), make([]float64, len(bars))
		for i, b := range bars {
			highs[i] = b.High.InexactFloat64()
			lows[i] = b.Low.InexactFloat64()
		}
		if desc, ok := detectDoubleBottom(lows); ok {
			set[DoubleBottom] = struct{}{}
			d.details[DoubleBottom] = desc
		}
		if desc, ok := detectDoubleTop(highs); ok {
			set[DoubleTop] = struct{}{}
			d.details[DoubleTop] = desc
		}
		if desc, ok := detectTriangle(highs, lows); ok {
			set[Triangle] = struct{}{}
			d.details[Triangle] = desc
		}
		if desc, ok := detectCompression(highs, lows); ok {
			set[Compression] = struct{}{}
			d.details[Compression] = desc
		}
	}
	return set
}

// Detail 返回上一次 Detect 中窗口形态的描述。
func (d *Detector) Detail(name string) (string, bool) {
	desc, ok := d.details[name]
	return desc, ok
}

// Reset 清空窗口。
func (d *Detector) Reset() {
	d.window.Clear()
	d.details = nil
}
