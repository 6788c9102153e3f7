package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	symbolutil "github.com/rzcastilho/trading-strategy-sub005/internal/pkg/symbol"
)

// 单次 klines 请求的上限（Binance USDⓈ-M 接口限制）。
const maxKlinesPerRequest = 1500

// BinanceConfig BinanceSource 的配置，零值可用。
type BinanceConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimitPerMin int
	PageSize        int
}

// BinanceSource 通过 go-binance futures SDK 拉取历史 K 线，按开盘时间翻页。
type BinanceSource struct {
	client   *futures.Client
	limiter  *rate.Limiter
	pageSize int
	now      func() time.Time
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = strings.TrimRight(base, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	page := cfg.PageSize
	if page <= 0 || page > maxKlinesPerRequest {
		page = maxKlinesPerRequest
	}
	return &BinanceSource{
		client:   client,
		limiter:  rate.NewLimiter(perSec, 1),
		pageSize: page,
		now:      time.Now,
	}
}

func (s *BinanceSource) Name() string { return "binance" }

// Fetch 从 req.Start 开始逐页拉取，直到覆盖 req.End、达到 req.Limit 或数据耗尽。
// 尚未收盘的 K 线会被丢弃。
func (s *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	symbol := symbolutil.Normalize(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	nowMs := s.now().UnixMilli()
	var out []market.Candle
	cursor := req.Start
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return out, err
		}
		page := s.pageSize
		if req.Limit > 0 && req.Limit-len(out) < page {
			page = req.Limit - len(out)
		}
		svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(page)
		if cursor > 0 {
			svc = svc.StartTime(cursor)
		}
		if req.End > 0 {
			svc = svc.EndTime(req.End)
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			return out, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		lastOpen := int64(-1)
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			lastOpen = kl.OpenTime
			if kl.CloseTime >= nowMs {
				continue
			}
			if req.End > 0 && kl.OpenTime > req.End {
				continue
			}
			out = append(out, klineToCandle(kl))
		}
		switch {
		case len(kls) < page, lastOpen < 0:
			return out, nil
		case req.Limit > 0 && len(out) >= req.Limit:
			return out, nil
		case req.End > 0 && lastOpen >= req.End:
			return out, nil
		case lastOpen < cursor:
			return out, nil
		}
		cursor = lastOpen + 1
		logger.Debugf("[backtest] binance %s %s next page from %d (%d candles)", symbol, interval, cursor, len(out))
	}
}

func klineToCandle(kl *futures.Kline) market.Candle {
	return market.Candle{
		OpenTime:  kl.OpenTime,
		CloseTime: kl.CloseTime,
		Open:      parseFloat(kl.Open),
		High:      parseFloat(kl.High),
		Low:       parseFloat(kl.Low),
		Close:     parseFloat(kl.Close),
		Volume:    parseFloat(kl.Volume),
		Trades:    kl.TradeNum,
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
