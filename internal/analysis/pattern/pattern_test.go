package pattern

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c string) market.Bar {
	return market.Bar{
		Time:   t0.Add(time.Duration(i) * time.Hour),
		Open:   decimal.RequireFromString(o),
		High:   decimal.RequireFromString(h),
		Low:    decimal.RequireFromString(l),
		Close:  decimal.RequireFromString(c),
		Volume: decimal.NewFromInt(1),
	}
}

func TestSingleCandlePatterns(t *testing.T) {
	cases := []struct {
		name string
		bar  market.Bar
		want []string
		not  []string
	}{
		{"hammer", bar(0, "100", "101.8", "90", "101.5"), []string{Hammer}, []string{Doji, Marubozu}},
		{"doji", bar(0, "100", "105", "95", "100.2"), []string{Doji}, []string{Hammer, Marubozu}},
		{"marubozu", bar(0, "100", "110", "100", "110"), []string{Marubozu}, []string{Doji, Hammer}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := NewDetector().Detect(tc.bar)
			for _, n := range tc.want {
				assert.True(t, set.Has(n), "expected %s in %v", n, set.Names())
			}
			for _, n := range tc.not {
				assert.False(t, set.Has(n), "unexpected %s", n)
			}
		})
	}
}

func TestZeroRangeBarHasNoCandlestick(t *testing.T) {
	set := NewDetector().Detect(bar(0, "100", "100", "100", "100"))
	assert.Empty(t, set.Names())
}

func TestTwoCandlePatterns(t *testing.T) {
	d := NewDetector()
	d.Detect(bar(0, "105", "106", "99", "100"))
	set := d.Detect(bar(1, "99", "107", "98.5", "106"))
	assert.True(t, set.Has(BullishEngulfing), set.Names())
	assert.False(t, set.Has(BearishEngulfing))

	d = NewDetector()
	d.Detect(bar(0, "100", "106", "99", "105"))
	set = d.Detect(bar(1, "106", "107", "98", "99"))
	assert.True(t, set.Has(BearishEngulfing), set.Names())

	// 上影线形态的命名取决于前一根的方向
	d = NewDetector()
	d.Detect(bar(0, "100", "106", "99", "105"))
	set = d.Detect(bar(1, "105", "115", "104.9", "105.5"))
	assert.True(t, set.Has(ShootingStar), set.Names())
	assert.False(t, set.Has(InvertedHammer))

	d = NewDetector()
	d.Detect(bar(0, "110", "111", "104", "105"))
	set = d.Detect(bar(1, "105", "115", "104.9", "105.5"))
	assert.True(t, set.Has(InvertedHammer), set.Names())
	assert.False(t, set.Has(ShootingStar))
}

func TestWindowPatterns(t *testing.T) {
	d := NewDetector()
	var set Set
	// 前半段宽幅震荡，后半段收窄
	for i := 0; i < 40; i++ {
		o, h, l, c := "100", "120", "80", "100"
		if i >= 20 {
			o, h, l, c = "100", "102", "98", "100"
		}
		set = d.Detect(bar(i, o, h, l, c))
	}
	assert.True(t, set.Has(Compression), set.Names())
	desc, ok := d.Detail(Compression)
	require.True(t, ok)
	assert.NotEmpty(t, desc)

	d.Reset()
	_, ok = d.Detail(Compression)
	assert.False(t, ok)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(Hammer))
	assert.True(t, Known(Compression))
	assert.False(t, Known("head_and_shoulders"))
	assert.Len(t, Names(), 11)
}
