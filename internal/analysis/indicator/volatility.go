package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/convert"
)

// bollinger 中轨为 SMA，上下轨为中轨 ± deviation × 总体标准差。
// 方差用 decimal 计算，开方走 float 后再经 convert 归一化；
// 开方结果无效时该 bar 视为未定义。
type bollinger struct {
	win       *window
	deviation decimal.Decimal
	last      BollingerValue
	ready     bool
}

func newBollinger(period int, deviation decimal.Decimal) *bollinger {
	return &bollinger{win: newWindow(period), deviation: deviation}
}

func (b *bollinger) Update(bar market.Bar) {
	b.win.push(bar.Close)
	if !b.win.full() {
		return
	}
	mean := b.win.mean()
	variance := decZero
	for i := 0; i < b.win.ring.Len(); i++ {
		v, _ := b.win.ring.Get(i)
		d := v.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(b.win.ring.Len())))
	sd := convert.EnsureDecimal(math.Sqrt(variance.InexactFloat64()))
	if !sd.Valid {
		b.ready = false
		return
	}
	width := sd.Decimal.Mul(b.deviation)
	b.last = BollingerValue{
		Upper:  mean.Add(width),
		Middle: mean,
		Lower:  mean.Sub(width),
	}
	b.ready = true
}

func (b *bollinger) Value() (Value, bool) {
	if !b.ready {
		return nil, false
	}
	return b.last, true
}

// atr Wilder 平滑的真实波幅；第一根 bar 只记录收盘价，
// 之后 period 个 TR 的简单平均作为种子。
type atr struct {
	period    int
	p         decimal.Decimal
	hasPrev   bool
	prevClose decimal.Decimal
	count     int
	value     decimal.Decimal
}

func newATR(period int) *atr {
	return &atr{period: period, p: decimal.NewFromInt(int64(period))}
}

func (a *atr) Update(bar market.Bar) {
	if !a.hasPrev {
		a.prevClose = bar.Close
		a.hasPrev = true
		return
	}
	tr := trueRange(bar, a.prevClose)
	a.prevClose = bar.Close
	a.count++
	switch {
	case a.count < a.period:
		a.value = a.value.Add(tr)
	case a.count == a.period:
		a.value = a.value.Add(tr).Div(a.p)
	default:
		pm1 := decimal.NewFromInt(int64(a.period - 1))
		a.value = a.value.Mul(pm1).Add(tr).Div(a.p).Round(stateScale)
	}
}

func (a *atr) Value() (Value, bool) {
	if a.count < a.period {
		return nil, false
	}
	return Scalar{Value: a.value}, true
}

func trueRange(bar market.Bar, prevClose decimal.Decimal) decimal.Decimal {
	tr := bar.High.Sub(bar.Low)
	if up := bar.High.Sub(prevClose).Abs(); up.GreaterThan(tr) {
		tr = up
	}
	if down := bar.Low.Sub(prevClose).Abs(); down.GreaterThan(tr) {
		tr = down
	}
	return tr
}
