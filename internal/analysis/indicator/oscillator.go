package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

// rsi 使用 Wilder 平滑；前 period 个涨跌幅的简单平均作为种子。
// RSI = 100 * avgGain / (avgGain + avgLoss)，无任何波动时为 50。
type rsi struct {
	period  int
	p       decimal.Decimal
	seen    int
	changes int
	prev    decimal.Decimal
	avgGain decimal.Decimal
	avgLoss decimal.Decimal
}

var decFifty = decimal.NewFromInt(50)

func newRSI(period int) *rsi {
	return &rsi{period: period, p: decimal.NewFromInt(int64(period))}
}

func (r *rsi) Update(bar market.Bar) {
	price := bar.Close
	r.seen++
	if r.seen == 1 {
		r.prev = price
		return
	}
	delta := price.Sub(r.prev)
	r.prev = price
	gain, loss := decZero, decZero
	if delta.IsPositive() {
		gain = delta
	} else {
		loss = delta.Neg()
	}
	r.changes++
	if r.changes <= r.period {
		r.avgGain = r.avgGain.Add(gain)
		r.avgLoss = r.avgLoss.Add(loss)
		if r.changes == r.period {
			r.avgGain = r.avgGain.Div(r.p)
			r.avgLoss = r.avgLoss.Div(r.p)
		}
		return
	}
	pm1 := decimal.NewFromInt(int64(r.period - 1))
	r.avgGain = r.avgGain.Mul(pm1).Add(gain).Div(r.p).Round(stateScale)
	r.avgLoss = r.avgLoss.Mul(pm1).Add(loss).Div(r.p).Round(stateScale)
}

func (r *rsi) Value() (Value, bool) {
	if r.changes < r.period {
		return nil, false
	}
	total := r.avgGain.Add(r.avgLoss)
	if total.IsZero() {
		return Scalar{Value: decFifty}, true
	}
	v := decHundred.Mul(r.avgGain).Div(total)
	return Scalar{Value: clamp(v, decZero, decHundred)}, true
}

// stochastic %K = 100*(close-LL)/(HH-LL)，可选 k 平滑，%D 为 %K 的 SMA。
// 区间为零时 %K 取 0。
type stochastic struct {
	highs   *window
	lows    *window
	kSmooth *window
	d       *window
	last    StochasticValue
	ready   bool
}

func newStochastic(kPeriod, kSmoothing, dPeriod int) *stochastic {
	return &stochastic{
		highs:   newWindow(kPeriod),
		lows:    newWindow(kPeriod),
		kSmooth: newWindow(kSmoothing),
		d:       newWindow(dPeriod),
	}
}

func (s *stochastic) Update(bar market.Bar) {
	s.highs.push(bar.High)
	s.lows.push(bar.Low)
	if !s.highs.full() {
		return
	}
	hh := extreme(s.highs, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	ll := extreme(s.lows, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	rng := hh.Sub(ll)
	rawK := decZero
	if !rng.IsZero() {
		rawK = decHundred.Mul(bar.Close.Sub(ll)).Div(rng)
	}
	s.kSmooth.push(rawK)
	if !s.kSmooth.full() {
		return
	}
	k := s.kSmooth.mean()
	s.d.push(k)
	if !s.d.full() {
		return
	}
	s.last = StochasticValue{K: k, D: s.d.mean()}
	s.ready = true
}

func (s *stochastic) Value() (Value, bool) {
	if !s.ready {
		return nil, false
	}
	return s.last, true
}

func extreme(w *window, better func(a, b decimal.Decimal) bool) decimal.Decimal {
	out, _ := w.ring.Get(0)
	for i := 1; i < w.ring.Len(); i++ {
		v, _ := w.ring.Get(i)
		if better(v, out) {
			out = v
		}
	}
	return out
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
