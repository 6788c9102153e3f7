package indicator

import "github.com/shopspring/decimal"

// Kind 指标类型。
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindStochastic Kind = "stochastic"
	KindATR        Kind = "atr"
	KindVolumeSMA  Kind = "volume_sma"
)

// Kinds 返回全部支持的指标类型。
func Kinds() []Kind {
	return []Kind{KindSMA, KindEMA, KindRSI, KindMACD, KindBollinger, KindStochastic, KindATR, KindVolumeSMA}
}

// Component 多分量指标的分量名，由指标类型固定。
type Component string

const (
	ComponentValue      Component = "value"
	ComponentUpperBand  Component = "upper_band"
	ComponentMiddleBand Component = "middle_band"
	ComponentLowerBand  Component = "lower_band"
	ComponentMACD       Component = "macd"
	ComponentSignal     Component = "signal"
	ComponentHistogram  Component = "histogram"
	ComponentK          Component = "k"
	ComponentD          Component = "d"
)

// Components 返回 kind 合法的分量名；未知 kind 返回 nil。
func Components(kind Kind) []Component {
	switch kind {
	case KindSMA, KindEMA, KindRSI, KindATR, KindVolumeSMA:
		return []Component{ComponentValue}
	case KindBollinger:
		return []Component{ComponentUpperBand, ComponentMiddleBand, ComponentLowerBand}
	case KindMACD:
		return []Component{ComponentMACD, ComponentSignal, ComponentHistogram}
	case KindStochastic:
		return []Component{ComponentK, ComponentD}
	default:
		return nil
	}
}

// HasComponent 报告 c 是否为 kind 的合法分量；空分量表示主值，总是合法。
func HasComponent(kind Kind, c Component) bool {
	if c == "" {
		return Components(kind) != nil
	}
	for _, allowed := range Components(kind) {
		if allowed == c {
			return true
		}
	}
	return false
}

// Value 是某根 bar 上的指标结果：标量或固定字段的多分量记录。
type Value interface {
	// Primary 是未指定分量时使用的值。
	Primary() decimal.Decimal
	// Component 按名称取分量；空名称等价于 Primary。
	Component(c Component) (decimal.Decimal, bool)
	// Components 返回该值携带的分量名。
	Components() []Component

	isValue()
}

// Scalar 单值指标（SMA/EMA/RSI/ATR/Volume-SMA）。
type Scalar struct {
	Value decimal.Decimal
}

func (s Scalar) Primary() decimal.Decimal { return s.Value }

func (s Scalar) Component(c Component) (decimal.Decimal, bool) {
	if c == "" || c == ComponentValue {
		return s.Value, true
	}
	return decimal.Decimal{}, false
}

func (Scalar) Components() []Component { return []Component{ComponentValue} }

func (Scalar) isValue() {}

// BollingerValue 布林带三轨。
type BollingerValue struct {
	Upper  decimal.Decimal
	Middle decimal.Decimal
	Lower  decimal.Decimal
}

func (b BollingerValue) Primary() decimal.Decimal { return b.Middle }

func (b BollingerValue) Component(c Component) (decimal.Decimal, bool) {
	switch c {
	case "", ComponentMiddleBand:
		return b.Middle, true
	case ComponentUpperBand:
		return b.Upper, true
	case ComponentLowerBand:
		return b.Lower, true
	}
	return decimal.Decimal{}, false
}

func (BollingerValue) Components() []Component { return Components(KindBollinger) }

func (BollingerValue) isValue() {}

// MACDValue MACD 线、信号线与柱。
type MACDValue struct {
	MACD      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

func (m MACDValue) Primary() decimal.Decimal { return m.MACD }

func (m MACDValue) Component(c Component) (decimal.Decimal, bool) {
	switch c {
	case "", ComponentMACD:
		return m.MACD, true
	case ComponentSignal:
		return m.Signal, true
	case ComponentHistogram:
		return m.Histogram, true
	}
	return decimal.Decimal{}, false
}

func (MACDValue) Components() []Component { return Components(KindMACD) }

func (MACDValue) isValue() {}

// StochasticValue 随机指标 %K/%D。
type StochasticValue struct {
	K decimal.Decimal
	D decimal.Decimal
}

func (s StochasticValue) Primary() decimal.Decimal { return s.K }

func (s StochasticValue) Component(c Component) (decimal.Decimal, bool) {
	switch c {
	case "", ComponentK:
		return s.K, true
	case ComponentD:
		return s.D, true
	}
	return decimal.Decimal{}, false
}

func (StochasticValue) Components() []Component { return Components(KindStochastic) }

func (StochasticValue) isValue() {}
