// Package indicator 维护逐 bar 推进的滚动指标状态。
//
// 每个指标实例只属于一个 session，按时间顺序喂入 bar；预热完成前
// Value 返回 false（"数据不足"）。全部数值使用 decimal。
package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/history"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

// stateScale 内部累加器保留的小数位数，与 decimal 除法精度一致。
const stateScale int32 = 16

var (
	decZero    = decimal.Zero
	decHundred = decimal.NewFromInt(100)
)

// Indicator 是单个滚动指标。
type Indicator interface {
	// Update 推进一根 bar。
	Update(bar market.Bar)
	// Value 返回当前值；预热未完成时第二个返回值为 false。
	Value() (Value, bool)
}

// New 按 Spec 创建指标实例，Spec 应已通过 Validate。
func New(spec Spec) (Indicator, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := spec.Params
	switch spec.Kind {
	case KindSMA:
		return newSMA(p.Period, closeSource), nil
	case KindVolumeSMA:
		return newSMA(p.Period, volumeSource), nil
	case KindEMA:
		return newEMA(p.Period), nil
	case KindRSI:
		return newRSI(p.Period), nil
	case KindMACD:
		return newMACD(p.FastPeriod, p.SlowPeriod, p.SignalPeriod), nil
	case KindBollinger:
		return newBollinger(p.Period, p.Deviation), nil
	case KindStochastic:
		return newStochastic(p.KPeriod, p.KSmoothing, p.DPeriod), nil
	case KindATR:
		return newATR(p.Period), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
}

type source func(market.Bar) decimal.Decimal

func closeSource(b market.Bar) decimal.Decimal  { return b.Close }
func volumeSource(b market.Bar) decimal.Decimal { return b.Volume }

// window 固定长度窗口加滚动求和。
type window struct {
	ring *history.Ring[decimal.Decimal]
	sum  decimal.Decimal
}

func newWindow(n int) *window {
	return &window{ring: history.NewRing[decimal.Decimal](n)}
}

func (w *window) push(v decimal.Decimal) {
	if w.ring.Full() {
		oldest, _ := w.ring.Oldest()
		w.sum = w.sum.Sub(oldest)
	}
	w.ring.Push(v)
	w.sum = w.sum.Add(v)
}

func (w *window) full() bool { return w.ring.Full() }

func (w *window) mean() decimal.Decimal {
	return w.sum.Div(decimal.NewFromInt(int64(w.ring.Len())))
}

// emaState SMA 播种的指数平均，MACD 复用。
type emaState struct {
	period int
	k      decimal.Decimal
	count  int
	sum    decimal.Decimal
	value  decimal.Decimal
}

func newEMAState(period int) *emaState {
	return &emaState{
		period: period,
		k:      decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1))),
	}
}

func (e *emaState) feed(v decimal.Decimal) (decimal.Decimal, bool) {
	if e.count < e.period {
		e.count++
		e.sum = e.sum.Add(v)
		if e.count < e.period {
			return decZero, false
		}
		e.value = e.sum.Div(decimal.NewFromInt(int64(e.period)))
		return e.value, true
	}
	e.value = v.Sub(e.value).Mul(e.k).Add(e.value).Round(stateScale)
	return e.value, true
}

func (e *emaState) ready() bool { return e.count >= e.period }
