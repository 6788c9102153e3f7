package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func mkBar(i int, closePrice decimal.Decimal) market.Bar {
	one := decimal.NewFromInt(1)
	return market.Bar{
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   closePrice,
		High:   closePrice.Add(one),
		Low:    closePrice.Sub(one),
		Close:  closePrice,
		Volume: decimal.NewFromInt(100),
	}
}

func barsFrom(closes []int64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = mkBar(i, decimal.NewFromInt(c))
	}
	return out
}

func waveBars(n int, phase float64) []market.Bar {
	out := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		c := 100 + 10*math.Sin(float64(i)/5+phase)
		out[i] = mkBar(i, decimal.NewFromFloat(math.Round(c*100)/100))
	}
	return out
}

func crossStrategy(t *testing.T) *strategy.Compiled {
	t.Helper()
	c, err := strategy.Compile(strategy.Definition{
		Name:   "sma_cross",
		Symbol: "ethusdt",
		Indicators: []strategy.IndicatorDef{
			{Name: "sma_20", Kind: "sma", Params: map[string]any{"period": 20}},
			{Name: "rsi", Kind: "rsi", Params: map[string]any{"period": 14}},
		},
		EntryLong: map[string]any{"cross_above": []any{"close", "sma_20"}},
		Exit:      map[string]any{"cross_below": []any{"close", "sma_20"}},
	})
	require.NoError(t, err)
	return c
}

func TestCrossAboveSMAScenario(t *testing.T) {
	closes := make([]int64, 0, 31)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 5; i++ {
		closes = append(closes, 90)
	}
	closes = append(closes, 110)

	s, err := NewSession(crossStrategy(t), Options{})
	require.NoError(t, err)
	var events []signal.Event
	for _, b := range barsFrom(closes) {
		evs, err := s.OnBar(b)
		require.NoError(t, err)
		events = append(events, evs...)
	}
	require.Len(t, events, 2)

	down := events[0]
	assert.Equal(t, signal.KindExit, down.Kind)
	assert.Equal(t, 26, down.BarIndex)

	up := events[1]
	assert.Equal(t, signal.KindEntry, up.Kind)
	assert.Equal(t, signal.Long, up.Direction)
	assert.Equal(t, 31, up.BarIndex)
	assert.Equal(t, "ETHUSDT", up.Symbol)
	assert.Equal(t, "sma_cross", up.Strategy)
	assert.True(t, up.Price.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, t0.Add(30*time.Minute), up.Timestamp)

	sma := s.Values()["sma_20"]
	require.NotNil(t, sma)
	assert.True(t, sma.Primary().Equal(decimal.NewFromInt(98)), "got %s", sma.Primary())
	prev, ok := s.Previous("sma_20", 2)
	require.True(t, ok)
	assert.True(t, prev.Primary().Equal(decimal.RequireFromString("97.5")))
}

func runAll(t *testing.T, c *strategy.Compiled, bars []market.Bar) ([]signal.Event, *Session) {
	t.Helper()
	s, err := NewSession(c, Options{})
	require.NoError(t, err)
	var out []signal.Event
	for _, b := range bars {
		evs, err := s.OnBar(b)
		require.NoError(t, err)
		out = append(out, evs...)
	}
	return out, s
}

func TestRepeatedRunsAreDeterministic(t *testing.T) {
	c := crossStrategy(t)
	bars := waveBars(200, 0)
	first, s1 := runAll(t, c, bars)
	second, s2 := runAll(t, c, bars)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.NotEqual(t, s1.ID(), s2.ID())
}

func valueStrings(vals map[string]indicator.Value) map[string]string {
	out := make(map[string]string, len(vals))
	for name, v := range vals {
		for _, c := range v.Components() {
			d, _ := v.Component(c)
			out[name+"."+string(c)] = d.String()
		}
	}
	return out
}

func TestConcurrentSessionsMatchSequentialReference(t *testing.T) {
	c := crossStrategy(t)
	streams := [][]market.Bar{waveBars(300, 0), waveBars(300, 2.1), waveBars(300, 4.4)}

	var reference []map[string]string
	var refEvents [][]signal.Event
	for _, bars := range streams {
		evs, s := runAll(t, c, bars)
		reference = append(reference, valueStrings(s.Values()))
		refEvents = append(refEvents, evs)
	}

	jobs := make([]Job, len(streams))
	sessions := make([]*Session, len(streams))
	for i, bars := range streams {
		s, err := NewSession(c, Options{})
		require.NoError(t, err)
		sessions[i] = s
		jobs[i] = Job{Session: s, Bars: bars}
	}
	results, err := Runner{Limit: len(streams)}.Run(context.Background(), jobs)
	require.NoError(t, err)
	for i := range streams {
		assert.Equal(t, reference[i], valueStrings(sessions[i].Values()), "session %d", i)
		assert.Equal(t, refEvents[i], results[i].Events, "session %d", i)
		assert.Equal(t, 300, results[i].Bars)
	}
	assert.NotEqual(t, reference[0], reference[1])
}

func TestRejectedBarsLeaveStateUntouched(t *testing.T) {
	s, err := NewSession(crossStrategy(t), Options{})
	require.NoError(t, err)
	bars := barsFrom([]int64{100, 101, 102})

	_, err = s.OnBar(bars[0])
	require.NoError(t, err)
	_, err = s.OnBar(bars[1])
	require.NoError(t, err)

	_, err = s.OnBar(bars[1])
	assert.ErrorIs(t, err, ErrOutOfOrder, "duplicate timestamp")
	_, err = s.OnBar(bars[0])
	assert.ErrorIs(t, err, ErrOutOfOrder)

	bad := bars[2]
	bad.High, bad.Low = bad.Low, bad.High
	_, err = s.OnBar(bad)
	assert.ErrorIs(t, err, ErrMalformedBar)
	_, err = s.OnBar(market.Bar{Time: bars[2].Time})
	assert.ErrorIs(t, err, ErrMalformedBar)

	assert.Equal(t, 2, s.Bars())
	prev, ok := s.Previous("close", 1)
	require.True(t, ok)
	assert.True(t, prev.Primary().Equal(decimal.NewFromInt(101)))

	_, err = s.OnBar(bars[2])
	require.NoError(t, err)
	assert.Equal(t, 3, s.Bars())
}

func TestEvaluationFaultIsReportedPerBar(t *testing.T) {
	c := crossStrategy(t)
	broken := *c
	broken.Trees.Stop = condition.Compare{Op: condition.OpGT, Left: condition.Ind("ghost"), Right: condition.Lit(1)}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	s, err := NewSession(&broken, Options{Metrics: m})
	require.NoError(t, err)
	bars := barsFrom([]int64{100, 101})

	events, err := s.OnBar(bars[0])
	assert.Nil(t, events)
	var barErr *BarError
	require.ErrorAs(t, err, &barErr)
	assert.Equal(t, 1, barErr.Index)
	assert.ErrorIs(t, err, condition.ErrUnknownReference)
	assert.NotEmpty(t, s.Diagnostics().Error)

	_, err = s.OnBar(bars[1])
	require.ErrorAs(t, err, &barErr)
	assert.Equal(t, 2, barErr.Index, "the faulty bar was still recorded")
	assert.Equal(t, 2, s.Bars())
}

func TestStrictModeWaitsForWarmup(t *testing.T) {
	c, err := strategy.Compile(strategy.Definition{
		Name:       "cheap",
		Indicators: []strategy.IndicatorDef{{Name: "sma_5", Kind: "sma", Params: map[string]any{"period": 5}}},
		EntryLong:  map[string]any{"compare": map[string]any{"op": "<", "left": "sma_5", "right": 50}},
	})
	require.NoError(t, err)
	bars := barsFrom([]int64{100, 100, 100, 100, 100, 100})

	lenient, err := NewSession(c, Options{})
	require.NoError(t, err)
	strict, err := NewSession(c, Options{Strict: true})
	require.NoError(t, err)

	evs, err := lenient.OnBar(bars[0])
	require.NoError(t, err)
	assert.Len(t, evs, 1, "undefined sma compares as zero")
	assert.Equal(t, []string{"sma_5"}, lenient.Diagnostics().Undefined)

	for _, b := range bars {
		evs, err := strict.OnBar(b)
		require.NoError(t, err)
		assert.Empty(t, evs)
	}
	assert.Empty(t, strict.Diagnostics().Undefined)
}

func TestRunnerCancellationAndStream(t *testing.T) {
	c := crossStrategy(t)
	s, err := NewSession(c, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Runner{}.Run(ctx, []Job{{Session: s, Bars: waveBars(50, 0)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, results[0].Bars)

	s, err = NewSession(c, Options{})
	require.NoError(t, err)
	stream := make(chan market.Bar, 64)
	bars := waveBars(60, 0)
	for _, b := range bars {
		stream <- b
	}
	stream <- bars[10]
	close(stream)
	var seen int
	results, err = Runner{Limit: 1}.Run(context.Background(), []Job{{
		Session: s,
		Stream:  stream,
		OnEvent: func(signal.Event) { seen++ },
	}})
	require.NoError(t, err)
	assert.Equal(t, 60, results[0].Bars)
	assert.Equal(t, 1, results[0].Skipped)
	assert.ErrorIs(t, results[0].LastError, ErrOutOfOrder)
	assert.Equal(t, len(results[0].Events), seen)
}

func TestRunnerInvalidJobDoesNotStopSiblings(t *testing.T) {
	s, err := NewSession(crossStrategy(t), Options{})
	require.NoError(t, err)
	// Limit 1 让 job 按顺序执行：无效 job 先结束，之后的 session 仍须跑完。
	results, err := Runner{Limit: 1}.Run(context.Background(), []Job{
		{Session: nil, Bars: waveBars(10, 0)},
		{Session: s, Bars: waveBars(40, 0)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].LastError, ErrNoStrategy)
	assert.Zero(t, results[0].Bars)
	assert.Equal(t, 40, results[1].Bars)
	assert.NoError(t, results[1].LastError)
}
