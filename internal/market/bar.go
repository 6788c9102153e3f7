package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/convert"
)

// Bar field names usable wherever an indicator name is accepted.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

var barFields = []string{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

var (
	ErrInvalidBarValue = errors.New("bar value is not a valid decimal")
	ErrMalformedBar    = errors.New("malformed bar")
)

// Bar 是一根不可变的 OHLCV，所有价格与成交量都是 decimal。
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// NewBar 通过 convert.EnsureDecimal 构造 Bar，任一字段无法转换即返回错误。
func NewBar(ts time.Time, open, high, low, closePrice, volume any) (Bar, error) {
	raw := map[string]any{
		FieldOpen:   open,
		FieldHigh:   high,
		FieldLow:    low,
		FieldClose:  closePrice,
		FieldVolume: volume,
	}
	vals := convert.EnsureDecimalComponents(raw)
	for _, name := range barFields {
		if !vals[name].Valid {
			return Bar{}, fmt.Errorf("%w: %s=%v", ErrInvalidBarValue, name, raw[name])
		}
	}
	return Bar{
		Time:   ts.UTC(),
		Open:   vals[FieldOpen].Decimal,
		High:   vals[FieldHigh].Decimal,
		Low:    vals[FieldLow].Decimal,
		Close:  vals[FieldClose].Decimal,
		Volume: vals[FieldVolume].Decimal,
	}, nil
}

// BarFromCandle 把交易所浮点 K 线转换为 decimal Bar。
func BarFromCandle(c Candle) (Bar, error) {
	return NewBar(c.Time(), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// BarsFromCandles 转换整段 K 线；无法转换的 K 线被跳过并计入 skipped。
func BarsFromCandles(cs []Candle) (bars []Bar, skipped int) {
	bars = make([]Bar, 0, len(cs))
	for _, c := range cs {
		b, err := BarFromCandle(c)
		if err != nil {
			skipped++
			continue
		}
		bars = append(bars, b)
	}
	return bars, skipped
}

// Field 按名称读取原始字段（open/high/low/close/volume）。
func (b Bar) Field(name string) (decimal.Decimal, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	case FieldVolume:
		return b.Volume, true
	default:
		return decimal.Decimal{}, false
	}
}

// IsField 报告 name 是否为保留的原始字段名。
func IsField(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return true
	}
	return false
}

// Fields 返回全部原始字段名。
func Fields() []string {
	return append([]string(nil), barFields...)
}

// Validate 检查价格为正、high>=low、且 open/close 落在区间内、成交量非负。
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedBar)
	}
	for _, name := range []string{FieldOpen, FieldHigh, FieldLow, FieldClose} {
		v, _ := b.Field(name)
		if !v.IsPositive() {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrMalformedBar, name, v)
		}
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("%w: high %s below low %s", ErrMalformedBar, b.High, b.Low)
	}
	for _, name := range []string{FieldOpen, FieldClose} {
		v, _ := b.Field(name)
		if v.GreaterThan(b.High) || v.LessThan(b.Low) {
			return fmt.Errorf("%w: %s %s outside [%s, %s]", ErrMalformedBar, name, v, b.Low, b.High)
		}
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume %s", ErrMalformedBar, b.Volume)
	}
	return nil
}

// Candle 把 Bar 还原为浮点 K 线（用于参考库交叉校验与持久化）。
func (b Bar) Candle() Candle {
	ms := b.Time.UnixMilli()
	return Candle{
		OpenTime:  ms,
		CloseTime: ms,
		Open:      b.Open.InexactFloat64(),
		High:      b.High.InexactFloat64(),
		Low:       b.Low.InexactFloat64(),
		Close:     b.Close.InexactFloat64(),
		Volume:    b.Volume.InexactFloat64(),
	}
}
