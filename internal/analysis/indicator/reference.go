package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/convert"
)

// Reference 用 go-talib 对整段 K 线批量重算 spec，返回最后一根的值。
// talib 在预热期输出 0，因此先按 WarmupBars 判断数据是否足够。
func Reference(spec Spec, candles market.Candles) (Value, bool) {
	spec = spec.WithDefaults()
	if spec.Validate() != nil || len(candles) < spec.WarmupBars() || len(candles) == 0 {
		return nil, false
	}
	p := spec.Params
	closes := candles.Closes()
	switch spec.Kind {
	case KindSMA:
		return scalarRef(talib.Sma(closes, p.Period))
	case KindVolumeSMA:
		return scalarRef(talib.Sma(candles.Volumes(), p.Period))
	case KindEMA:
		return scalarRef(talib.Ema(closes, p.Period))
	case KindRSI:
		// talib 对完全无波动的序列输出 0，流式实现定义为中性 50。
		if flatSeries(closes) {
			return Scalar{Value: decFifty}, true
		}
		return scalarRef(talib.Rsi(closes, p.Period))
	case KindATR:
		return scalarRef(talib.Atr(candles.Highs(), candles.Lows(), closes, p.Period))
	case KindBollinger:
		dev := p.Deviation.InexactFloat64()
		upper, middle, lower := talib.BBands(closes, p.Period, dev, dev, talib.SMA)
		vals := convert.EnsureDecimalComponents(map[Component]any{
			ComponentUpperBand:  last(upper),
			ComponentMiddleBand: last(middle),
			ComponentLowerBand:  last(lower),
		})
		if !allValid(vals) {
			return nil, false
		}
		return BollingerValue{
			Upper:  vals[ComponentUpperBand].Decimal,
			Middle: vals[ComponentMiddleBand].Decimal,
			Lower:  vals[ComponentLowerBand].Decimal,
		}, true
	case KindMACD:
		line, signal, hist := talib.Macd(closes, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		vals := convert.EnsureDecimalComponents(map[Component]any{
			ComponentMACD:      last(line),
			ComponentSignal:    last(signal),
			ComponentHistogram: last(hist),
		})
		if !allValid(vals) {
			return nil, false
		}
		return MACDValue{
			MACD:      vals[ComponentMACD].Decimal,
			Signal:    vals[ComponentSignal].Decimal,
			Histogram: vals[ComponentHistogram].Decimal,
		}, true
	case KindStochastic:
		k, d := talib.Stoch(candles.Highs(), candles.Lows(), closes, p.KPeriod, p.KSmoothing, talib.SMA, p.DPeriod, talib.SMA)
		vals := convert.EnsureDecimalComponents(map[Component]any{
			ComponentK: last(k),
			ComponentD: last(d),
		})
		if !allValid(vals) {
			return nil, false
		}
		return StochasticValue{K: vals[ComponentK].Decimal, D: vals[ComponentD].Decimal}, true
	}
	return nil, false
}

// Divergence 比较流式值与参考值，返回各分量绝对差的最大值。
// 分量集合不一致时第二个返回值为 false。
func Divergence(stream, ref Value) (decimal.Decimal, bool) {
	if stream == nil || ref == nil {
		return decimal.Zero, false
	}
	comps := stream.Components()
	if len(comps) != len(ref.Components()) {
		return decimal.Zero, false
	}
	worst := decimal.Zero
	for _, c := range comps {
		a, okA := stream.Component(c)
		b, okB := ref.Component(c)
		if !okA || !okB {
			return decimal.Zero, false
		}
		if d := a.Sub(b).Abs(); d.GreaterThan(worst) {
			worst = d
		}
	}
	return worst, true
}

func scalarRef(series []float64) (Value, bool) {
	v := convert.EnsureDecimal(last(series))
	if !v.Valid {
		return nil, false
	}
	return Scalar{Value: v.Decimal}, true
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func allValid(vals map[Component]decimal.NullDecimal) bool {
	for _, v := range vals {
		if !v.Valid {
			return false
		}
	}
	return true
}

func flatSeries(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
