package pattern

import (
	"fmt"
	"math"
)

func detectDoubleBottom(lows []float64) (string, bool) {
	if len(lows) < 20 {
		return "", false
	}
	window := lows[len(lows)/2:]
	min1, idx1 := minWithIndex(window)
	remove := append([]float64{}, window...)
	for i := idx1 - 2; i <= idx1+2; i++ {
		if i >= 0 && i < len(remove) {
			remove[i] = math.MaxFloat64
		}
	}
	min2, idx2 := minWithIndex(remove)
	if idx2 < 0 {
		return "", false
	}
	diff := math.Abs(min1-min2) / math.Max(min1, 1)
	if diff <= 0.004 && idx2 >= 3 {
		return fmt.Sprintf("双底形成于最近区间，支撑约%.2f", (min1+min2)/2), true
	}
	return "", false
}

func detectDoubleTop(highs []float64) (string, bool) {
	if len(highs) < 20 {
		return "", false
	}
	window := highs[len(highs)/2:]
	max1, idx1 := maxWithIndex(window)
	remove := append([]float64{}, window...)
	for i := idx1 - 2; i <= idx1+2; i++ {
		if i >= 0 && i < len(remove) {
			remove[i] = -math.MaxFloat64
		}
	}
	max2, idx2 := maxWithIndex(remove)
	if idx2 < 0 {
		return "", false
	}
	diff := math.Abs(max1-max2) / math.Max(max1, 1)
	if diff <= 0.004 && idx2 >= 3 {
		return fmt.Sprintf("双顶压制在%.2f附近", (max1+max2)/2), true
	}
	return "", false
}

func detectTriangle(highs, lows []float64) (string, bool) {
	if len(highs) < 30 {
		return "", false
	}
	half := len(highs) / 2
	firstHigh, lastHigh := maxOf(highs[:half]), maxOf(highs[half:])
	firstLow, lastLow := minOf(lows[:half]), minOf(lows[half:])
	if lastHigh < firstHigh && lastLow > firstLow {
		widthDelta := (firstHigh - firstLow) - (lastHigh - lastLow)
		if widthDelta/firstHigh > 0.05 {
			return "价格区间逐步收敛，疑似对称三角", true
		}
	}
	return "", false
}

func detectCompression(highs, lows []float64) (string, bool) {
	if len(highs) < 40 {
		return "", false
	}
	half := len(highs) / 2
	first := (maxOf(highs[:half]) - minOf(lows[:half])) / maxOf(highs[:half])
	second := (maxOf(highs[half:]) - minOf(lows[half:])) / maxOf(highs[half:])
	if second < first*0.65 {
		return "波动率快速收缩，关注突破方向", true
	}
	return "", false
}

func minOf(values []float64) float64 {
	m, _ := minWithIndex(values)
	return m
}

func maxOf(values []float64) float64 {
	m, _ := maxWithIndex(values)
	return m
}

func minWithIndex(values []float64) (float64, int) {
	m := math.MaxFloat64
	idx := -1
	for i, v := range values {
		if v < m {
			m = v
			idx = i
		}
	}
	return m, idx
}

func maxWithIndex(values []float64) (float64, int) {
	m := -math.MaxFloat64
	idx := -1
	for i, v := range values {
		if v > m {
			m = v
			idx = i
		}
	}
	return m, idx
}
