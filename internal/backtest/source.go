package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/pkg/circuit"
)

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int   // 总条数上限，<=0 表示取满区间
}

// CandleSource 统一不同交易所/数据源的拉取行为。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}

// GuardedSource 用熔断器包装数据源，连续失败后快速失败，避免批量回测反复打远端。
type GuardedSource struct {
	inner   CandleSource
	breaker *circuit.Breaker
}

// NewGuardedSource threshold 次连续失败后熔断 cooldown。
func NewGuardedSource(inner CandleSource, threshold int, cooldown time.Duration) *GuardedSource {
	return &GuardedSource{
		inner:   inner,
		breaker: circuit.New("candles."+inner.Name(), threshold, cooldown),
	}
}

func (g *GuardedSource) Name() string { return g.inner.Name() }

// State 当前熔断状态。
func (g *GuardedSource) State() circuit.State { return g.breaker.State() }

func (g *GuardedSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	var out []market.Candle
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.inner.Fetch(ctx, req)
		return err
	}, func(err error) bool {
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	})
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%s: %w", g.inner.Name(), err)
	}
	return out, err
}
