package pattern

import (
	"github.com/shopspring/decimal"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
)

var (
	ratioDoji      = decimal.RequireFromString("0.1")
	ratioSmallBody = decimal.RequireFromString("0.3")
	ratioShadowCap = decimal.RequireFromString("0.1")
	ratioMarubozu  = decimal.RequireFromString("0.95")
	two            = decimal.NewFromInt(2)
)

type shape struct {
	body, rng, upper, lower decimal.Decimal
	bullish, bearish        bool
}

func shapeOf(b market.Bar) shape {
	top, bottom := decimal.Max(b.Open, b.Close), decimal.Min(b.Open, b.Close)
	return shape{
		body:    b.Close.Sub(b.Open).Abs(),
		rng:     b.High.Sub(b.Low),
		upper:   b.High.Sub(top),
		lower:   bottom.Sub(b.Low),
		bullish: b.Close.GreaterThan(b.Open),
		bearish: b.Close.LessThan(b.Open),
	}
}

// candlestick 计算单根及与前一根组合的蜡烛形态；prev 为 nil 时组合形态均为 false。
func candlestick(cur market.Bar, prev *market.Bar) map[string]bool {
	s := shapeOf(cur)
	out := map[string]bool{}
	if !s.rng.IsPositive() {
		return out
	}
	smallBody := s.body.LessThanOrEqual(s.rng.Mul(ratioSmallBody))
	longLower := s.lower.IsPositive() && s.lower.GreaterThanOrEqual(s.body.Mul(two)) &&
		s.upper.LessThanOrEqual(s.rng.Mul(ratioShadowCap))
	longUpper := s.upper.IsPositive() && s.upper.GreaterThanOrEqual(s.body.Mul(two)) &&
		s.lower.LessThanOrEqual(s.rng.Mul(ratioShadowCap))

	out[Doji] = s.body.LessThanOrEqual(s.rng.Mul(ratioDoji))
	out[Hammer] = smallBody && longLower
	out[Marubozu] = s.body.GreaterThanOrEqual(s.rng.Mul(ratioMarubozu))
	if prev == nil {
		return out
	}
	p := shapeOf(*prev)
	// 同样的上影线形态：下跌后为倒锤子，上涨后为射击之星。
	out[InvertedHammer] = smallBody && longUpper && p.bearish
	out[ShootingStar] = smallBody && longUpper && p.bullish
	out[BullishEngulfing] = p.bearish && s.bullish &&
		cur.Open.LessThanOrEqual(prev.Close) && cur.Close.GreaterThanOrEqual(prev.Open) &&
		s.body.GreaterThan(p.body)
	out[BearishEngulfing] = p.bullish && s.bearish &&
		cur.Open.GreaterThanOrEqual(prev.Close) && cur.Close.LessThanOrEqual(prev.Open) &&
		s.body.GreaterThan(p.body)
	return out
}
