package convert

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDecimalNumericInputs(t *testing.T) {
	d := decimal.RequireFromString("12.345")
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"decimal", d, "12.345"},
		{"decimal pointer", &d, "12.345"},
		{"int", 42, "42"},
		{"int8", int8(-7), "-7"},
		{"int64", int64(9007199254740993), "9007199254740993"},
		{"uint32", uint32(7), "7"},
		{"uint64 max", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 0.1, "0.1"},
		{"float32", float32(2.5), "2.5"},
		{"negative float", -30.25, "-30.25"},
		{"string", "30", "30"},
		{"padded string", "  101.50 ", "101.5"},
		{"exponent string", "1.5e3", "1500"},
		{"json number", json.Number("0.0001"), "0.0001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EnsureDecimal(tc.in)
			require.True(t, got.Valid)
			assert.True(t, got.Decimal.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got.Decimal, tc.want)
		})
	}
}

func TestEnsureDecimalInvalidInputs(t *testing.T) {
	type pair struct{ A, B int }
	var nilDec *decimal.Decimal
	cases := map[string]any{
		"nil":          nil,
		"bool":         true,
		"slice":        []int{1, 2},
		"map":          map[string]int{"a": 1},
		"tuple":        pair{1, 2},
		"empty string": "",
		"garbage":      "abc",
		"half number":  "12abc",
		"nan string":   "NaN",
		"inf string":   "-Infinity",
		"nan float":    math.NaN(),
		"inf float":    math.Inf(1),
		"neg inf f32":  float32(math.Inf(-1)),
		"nil pointer":  nilDec,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, EnsureDecimal(in).Valid)
			})
		})
	}
}

func TestEnsureDecimalComponentsKeepsInvalidEntries(t *testing.T) {
	in := map[string]any{
		"upper_band":  101.5,
		"middle_band": "100",
		"lower_band":  math.NaN(),
	}
	out := EnsureDecimalComponents(in)
	require.Len(t, out, 3)
	assert.True(t, out["upper_band"].Valid)
	assert.True(t, out["upper_band"].Decimal.Equal(decimal.RequireFromString("101.5")))
	assert.True(t, out["middle_band"].Decimal.Equal(decimal.NewFromInt(100)))
	lower, ok := out["lower_band"]
	require.True(t, ok, "invalid entries must not be dropped")
	assert.False(t, lower.Valid)
	assert.True(t, lower.Decimal.IsZero())

	assert.Empty(t, EnsureDecimalComponents[string](nil))
}
