package backtest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
	"github.com/rzcastilho/trading-strategy-sub005/internal/store/signalstore"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

type staticStrategies map[string]*strategy.Compiled

func (s staticStrategies) Get(name string) (*strategy.Compiled, bool) {
	c, ok := s[name]
	return c, ok
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, runID string, ev signal.Event) error {
	args := m.Called(ctx, runID, ev)
	return args.Error(0)
}

func smaCross(t *testing.T) *strategy.Compiled {
	t.Helper()
	c, err := strategy.Compile(strategy.Definition{
		Name:     "sma_cross",
		Symbol:   "ethusdt",
		Interval: "1h",
		Indicators: []strategy.IndicatorDef{
			{Name: "sma_20", Kind: "sma", Params: map[string]any{"period": 20}},
			{Name: "vol", Kind: "volume_sma", Params: map[string]any{"period": 5}},
		},
		EntryLong: map[string]any{"cross_above": []any{"close", "sma_20"}},
		Exit:      map[string]any{"cross_below": []any{"close", "sma_20"}},
	})
	require.NoError(t, err)
	return c
}

// stepCandles: 25 根 100，5 根 90，1 根 110。
func stepCandles() []market.Candle {
	closes := make([]float64, 0, 31)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 5; i++ {
		closes = append(closes, 90)
	}
	closes = append(closes, 110)
	step := time.Hour.Milliseconds()
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := klineBase.UnixMilli() + int64(i)*step
		out[i] = market.Candle{OpenTime: open, CloseTime: open + step - 1, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func TestServiceRunInlineCandles(t *testing.T) {
	ctx := context.Background()
	rec, err := signalstore.Open(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	defer rec.Close()

	sink := &mockSink{}
	sink.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("signal.Event")).Return(nil)

	svc, err := NewService(ServiceConfig{
		Strategies: staticStrategies{"sma_cross": smaCross(t)},
		Recorder:   rec,
		Sinks:      []Sink{sink},
		Metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	res, err := svc.Run(ctx, RunRequest{Strategy: "sma_cross", Candles: stepCandles()})
	require.NoError(t, err)
	assert.Equal(t, signalstore.RunStatusDone, res.Status)
	assert.Equal(t, "ETHUSDT", res.Symbol)
	assert.Equal(t, "1h", res.Interval)
	assert.Equal(t, 31, res.Bars)
	assert.Zero(t, res.Skipped)
	require.Len(t, res.Signals, 2)
	assert.Equal(t, signal.KindExit, res.Signals[0].Kind)
	assert.Equal(t, 26, res.Signals[0].BarIndex)
	assert.Equal(t, signal.KindEntry, res.Signals[1].Kind)
	assert.Equal(t, signal.Long, res.Signals[1].Direction)
	assert.Equal(t, 31, res.Signals[1].BarIndex)
	assert.True(t, res.Signals[1].Price.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, 31, res.Diagnostics.BarIndex)

	sink.AssertNumberOfCalls(t, "Publish", 2)
	sink.AssertCalled(t, "Publish", mock.Anything, res.RunID, res.Signals[0])

	stored, err := rec.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, signalstore.RunStatusDone, stored.Status)
	assert.Equal(t, 31, stored.Bars)
	assert.Equal(t, 2, stored.Signals)
	assert.Equal(t, "sma_cross", stored.Strategy)
	assert.NotContains(t, string(stored.Request), "candles")

	signals, err := rec.ListSignals(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, res.Signals[1].Timestamp, signals[1].Timestamp)

	kept, ok := svc.Result(res.RunID)
	require.True(t, ok)
	assert.Equal(t, res.SessionID, kept.SessionID)
	assert.Len(t, svc.Results(), 1)
}

func TestServiceUnknownStrategy(t *testing.T) {
	svc, err := NewService(ServiceConfig{Strategies: staticStrategies{}})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), RunRequest{Strategy: "ghost", Candles: stepCandles()})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, signalstore.RunStatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	_, ok := svc.Result(res.RunID)
	assert.True(t, ok)
}

func TestServiceRequiresStrategies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
}

func TestServiceFetchesOnceThenUsesCache(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 40, &hits)
	store, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	svc, err := NewService(ServiceConfig{
		Strategies: staticStrategies{"sma_cross": smaCross(t)},
		Store:      store,
		Source:     NewBinanceSource(BinanceConfig{BaseURL: srv.URL, RateLimitPerMin: 60000}),
	})
	require.NoError(t, err)

	req := RunRequest{
		Strategy: "sma_cross",
		Start:    klineBase,
		End:      klineBase.Add(39 * time.Hour),
	}
	first, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 40, first.Bars)
	calls := atomic.LoadInt32(&hits)
	assert.Positive(t, calls)

	second, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 40, second.Bars)
	assert.Equal(t, calls, atomic.LoadInt32(&hits))
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Signals, second.Signals)
}

func TestServiceNoData(t *testing.T) {
	svc, err := NewService(ServiceConfig{Strategies: staticStrategies{"sma_cross": smaCross(t)}})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), RunRequest{Strategy: "sma_cross", Start: klineBase, End: klineBase.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestServiceCrossCheck(t *testing.T) {
	on := true
	clean, err := NewService(ServiceConfig{Strategies: staticStrategies{"sma_cross": smaCross(t)}})
	require.NoError(t, err)
	res, err := clean.Run(context.Background(), RunRequest{Strategy: "sma_cross", Candles: stepCandles(), CrossCheck: &on})
	require.NoError(t, err)
	assert.Empty(t, res.Divergences)

	// 负容差让任何差值（包括 0）都被报告，用于验证上报路径。
	reg := prometheus.NewRegistry()
	noisy, err := NewService(ServiceConfig{
		Strategies: staticStrategies{"sma_cross": smaCross(t)},
		CrossCheck: true,
		Tolerance:  decimal.NewFromInt(-1),
		Metrics:    metrics.NewMetrics(reg),
	})
	require.NoError(t, err)
	res, err = noisy.Run(context.Background(), RunRequest{Strategy: "sma_cross", Candles: stepCandles()})
	require.NoError(t, err)
	require.Len(t, res.Divergences, 2)
	assert.Equal(t, "sma_20", res.Divergences[0].Indicator)
	diff, err := decimal.NewFromString(res.Divergences[0].Diff)
	require.NoError(t, err)
	assert.True(t, diff.LessThan(decimal.New(1, -6)), diff.String())
	assert.Equal(t, "vol", res.Divergences[1].Indicator)
}

func TestServiceCancelled(t *testing.T) {
	svc, err := NewService(ServiceConfig{Strategies: staticStrategies{"sma_cross": smaCross(t)}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.Run(ctx, RunRequest{Strategy: "sma_cross", Candles: stepCandles()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, signalstore.RunStatusCancelled, res.Status)
	assert.Zero(t, res.Bars)
}

func TestServiceRunManyIsolated(t *testing.T) {
	svc, err := NewService(ServiceConfig{
		Strategies:    staticStrategies{"sma_cross": smaCross(t)},
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	reqs := []RunRequest{
		{Strategy: "sma_cross", Candles: stepCandles()},
		{Strategy: "ghost"},
		{Strategy: "sma_cross", Candles: stepCandles()},
	}
	results, err := svc.RunMany(context.Background(), reqs)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	require.Len(t, results, 3)
	assert.Equal(t, signalstore.RunStatusDone, results[0].Status)
	assert.Equal(t, signalstore.RunStatusFailed, results[1].Status)
	assert.Equal(t, signalstore.RunStatusDone, results[2].Status)
	assert.Equal(t, results[0].Signals, results[2].Signals)
	assert.NotEqual(t, results[0].SessionID, results[2].SessionID)
}
