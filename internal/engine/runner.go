package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/market"
	"github.com/rzcastilho/trading-strategy-sub005/internal/metrics"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
)

// Job 交给 Runner 的一个 session 及其 bar 来源。
// Bars 与 Stream 二选一；Stream 在关闭或 ctx 取消时结束。
type Job struct {
	Session *Session
	Bars    []market.Bar
	Stream  <-chan market.Bar
	// OnEvent 每个信号产生时同步回调，可为 nil。
	OnEvent func(signal.Event)
}

// Result 单个 session 的运行汇总。
type Result struct {
	SessionID string
	Strategy  string
	Bars      int
	Skipped   int
	Errors    int
	Events    []signal.Event
	LastError error
}

// Runner 并行运行互相独立的 session。
type Runner struct {
	// Limit 最大并行 session 数，<=0 表示不限制。
	Limit   int
	Metrics *metrics.Metrics
}

// Run 运行全部 job，结果与 jobs 顺序一致。单根 bar 的错误与无效 job 只记入各自结果；
// 仅 ctx 取消会停止喂 bar 并返回 ctx 的错误，已处理部分仍在结果中。
func (r Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if r.Limit > 0 {
		g.SetLimit(r.Limit)
	}
	for i := range jobs {
		i := i
		g.Go(func() error {
			res, err := r.runOne(gctx, jobs[i])
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (r Runner) runOne(ctx context.Context, job Job) (Result, error) {
	s := job.Session
	if s == nil {
		// 只记在本 job 的结果里，不取消其它 session。
		return Result{LastError: ErrNoStrategy}, nil
	}
	res := Result{SessionID: s.ID(), Strategy: s.Strategy().Name}
	r.Metrics.SessionStarted()
	defer r.Metrics.SessionFinished()

	feed := func(bar market.Bar) {
		events, err := s.OnBar(bar)
		var barErr *BarError
		switch {
		case err == nil:
			res.Bars++
		case errors.As(err, &barErr):
			res.Bars++
			res.Errors++
			res.LastError = err
		default:
			res.Skipped++
			res.LastError = err
		}
		for _, ev := range events {
			if job.OnEvent != nil {
				job.OnEvent(ev)
			}
		}
		res.Events = append(res.Events, events...)
	}

	if job.Stream != nil {
		for {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case bar, ok := <-job.Stream:
				if !ok {
					return res, nil
				}
				feed(bar)
			}
		}
	}
	for _, bar := range job.Bars {
		if err := ctx.Err(); err != nil {
			logger.Warnf("session %s cancelled after %d bars", s.ID(), res.Bars)
			return res, err
		}
		feed(bar)
	}
	return res, nil
}
