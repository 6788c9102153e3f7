// Package convert 把任意数值输入统一为精确 decimal。
package convert

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Invalid is the marker returned when a value cannot be represented as a decimal.
var Invalid = decimal.NullDecimal{}

// EnsureDecimal converts v to an exact decimal.
//
// Decimals pass through; integers, floats, json.Number and numeric strings are
// converted. Everything else (nil, bool, slices, maps, structs, unparsable
// strings, NaN and Inf) yields Invalid. It never panics.
func EnsureDecimal(v any) decimal.NullDecimal {
	switch t := v.(type) {
	case decimal.Decimal:
		return valid(t)
	case *decimal.Decimal:
		if t == nil {
			return Invalid
		}
		return valid(*t)
	case decimal.NullDecimal:
		return t
	case int:
		return valid(decimal.NewFromInt(int64(t)))
	case int8:
		return valid(decimal.NewFromInt(int64(t)))
	case int16:
		return valid(decimal.NewFromInt(int64(t)))
	case int32:
		return valid(decimal.NewFromInt32(t))
	case int64:
		return valid(decimal.NewFromInt(t))
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return valid(decimal.NewFromInt(int64(t)))
	case uint16:
		return valid(decimal.NewFromInt(int64(t)))
	case uint32:
		return valid(decimal.NewFromInt(int64(t)))
	case uint64:
		return fromUint(t)
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Invalid
		}
		return valid(decimal.NewFromFloat32(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Invalid
		}
		return valid(decimal.NewFromFloat(t))
	case json.Number:
		return fromString(string(t))
	case string:
		return fromString(t)
	default:
		return Invalid
	}
}

// EnsureDecimalComponents converts every value of m, keeping the keys.
// Entries that fail conversion stay in the result as Invalid.
func EnsureDecimalComponents[K comparable](m map[K]any) map[K]decimal.NullDecimal {
	out := make(map[K]decimal.NullDecimal, len(m))
	for k, v := range m {
		out[k] = EnsureDecimal(v)
	}
	return out
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func fromUint(u uint64) decimal.NullDecimal {
	if u <= math.MaxInt64 {
		return valid(decimal.NewFromInt(int64(u)))
	}
	return valid(decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0))
}

func fromString(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return Invalid
	}
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return Invalid
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Invalid
	}
	return valid(d)
}
