package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var klineBase = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

// fakeKlines 提供 n 根 1h K 线，收盘价 100+i，按 startTime/endTime/limit 过滤。
func fakeKlines(t *testing.T, n int, hits *int32) *httptest.Server {
	t.Helper()
	step := time.Hour.Milliseconds()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(hits, 1)
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		rows := make([][]any, 0)
		for i := 0; i < n; i++ {
			open := klineBase.UnixMilli() + int64(i)*step
			if open < start || (end > 0 && open > end) {
				continue
			}
			if limit > 0 && len(rows) >= limit {
				break
			}
			c := 100 + i
			rows = append(rows, []any{
				open,
				fmt.Sprint(c), fmt.Sprint(c + 1), fmt.Sprint(c - 1), fmt.Sprint(c),
				"10.5",
				open + step - 1,
				"1000", 7, "5", "500", "0",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBinanceSourcePages(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 10, &hits)
	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, RateLimitPerMin: 60000, PageSize: 3})
	assert.Equal(t, "binance", src.Name())

	got, err := src.Fetch(context.Background(), FetchRequest{
		Symbol:   "eth/usdt",
		Interval: "1h",
		Start:    klineBase.UnixMilli(),
	})
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
	assert.Equal(t, klineBase.UnixMilli(), got[0].OpenTime)
	assert.Equal(t, 109.0, got[9].Close)
	assert.Equal(t, 110.0, got[9].High)
	assert.EqualValues(t, 7, got[9].Trades)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].OpenTime, got[i-1].OpenTime)
	}
}

func TestBinanceSourceRespectsEndAndLimit(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 10, &hits)
	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, RateLimitPerMin: 60000, PageSize: 4})

	got, err := src.Fetch(context.Background(), FetchRequest{
		Symbol:   "ETHUSDT",
		Interval: "1h",
		Start:    klineBase.UnixMilli(),
		End:      klineBase.Add(5 * time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	assert.Len(t, got, 6)

	got, err = src.Fetch(context.Background(), FetchRequest{
		Symbol:   "ETHUSDT",
		Interval: "1h",
		Start:    klineBase.UnixMilli(),
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestBinanceSourceDropsUnclosed(t *testing.T) {
	var hits int32
	srv := fakeKlines(t, 5, &hits)
	src := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, RateLimitPerMin: 60000})
	src.now = func() time.Time { return klineBase.Add(3*time.Hour + 30*time.Minute) }

	got, err := src.Fetch(context.Background(), FetchRequest{Symbol: "ETHUSDT", Interval: "1h", Start: klineBase.UnixMilli()})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBinanceSourceValidation(t *testing.T) {
	src := NewBinanceSource(BinanceConfig{})
	_, err := src.Fetch(context.Background(), FetchRequest{Interval: "1h"})
	assert.Error(t, err)
	_, err = src.Fetch(context.Background(), FetchRequest{Symbol: "ETHUSDT"})
	assert.Error(t, err)
}
