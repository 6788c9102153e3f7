package indicator

import "github.com/rzcastilho/trading-strategy-sub005/internal/market"

// sma 简单移动平均；source 决定取收盘价还是成交量。
type sma struct {
	src source
	win *window
}

func newSMA(period int, src source) *sma {
	return &sma{src: src, win: newWindow(period)}
}

func (s *sma) Update(bar market.Bar) { s.win.push(s.src(bar)) }

func (s *sma) Value() (Value, bool) {
	if !s.win.full() {
		return nil, false
	}
	return Scalar{Value: s.win.mean()}, true
}

type ema struct {
	state *emaState
}

func newEMA(period int) *ema { return &ema{state: newEMAState(period)} }

func (e *ema) Update(bar market.Bar) { e.state.feed(bar.Close) }

func (e *ema) Value() (Value, bool) {
	if !e.state.ready() {
		return nil, false
	}
	return Scalar{Value: e.state.value}, true
}

// macd 快慢 EMA 之差，信号线为该差值的 EMA。
type macd struct {
	fast, slow, signal *emaState
	last               MACDValue
	ready              bool
}

func newMACD(fast, slow, signal int) *macd {
	return &macd{fast: newEMAState(fast), slow: newEMAState(slow), signal: newEMAState(signal)}
}

func (m *macd) Update(bar market.Bar) {
	f, okFast := m.fast.feed(bar.Close)
	s, okSlow := m.slow.feed(bar.Close)
	if !okFast || !okSlow {
		return
	}
	line := f.Sub(s)
	sig, ok := m.signal.feed(line)
	if !ok {
		return
	}
	m.last = MACDValue{MACD: line, Signal: sig, Histogram: line.Sub(sig)}
	m.ready = true
}

func (m *macd) Value() (Value, bool) {
	if !m.ready {
		return nil, false
	}
	return m.last, true
}

