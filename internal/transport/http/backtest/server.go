package backtesthttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/indicator"
	"github.com/rzcastilho/trading-strategy-sub005/internal/analysis/pattern"
	"github.com/rzcastilho/trading-strategy-sub005/internal/backtest"
	"github.com/rzcastilho/trading-strategy-sub005/internal/condition"
	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
	"github.com/rzcastilho/trading-strategy-sub005/internal/store/signalstore"
	"github.com/rzcastilho/trading-strategy-sub005/internal/strategy"
)

// RunService 执行回测（backtest.Service 满足该接口）。
type RunService interface {
	Run(ctx context.Context, req backtest.RunRequest) (backtest.RunResult, error)
	Result(id string) (backtest.RunResult, bool)
	Results() []backtest.RunResult
}

// RunReader 读取持久化的运行记录（signalstore.Store 满足该接口）。
type RunReader interface {
	GetRun(ctx context.Context, id string) (signalstore.Run, error)
	ListRuns(ctx context.Context, limit int) ([]signalstore.Run, error)
	ListSignals(ctx context.Context, runID string) ([]signal.Event, error)
}

// StrategyLister 提供当前策略快照（strategy.Registry 满足该接口）。
type StrategyLister interface {
	Snapshot() strategy.Snapshot
}

// Config 描述 HTTP Server 的依赖；Runs 与 Metrics 可为空。
type Config struct {
	Addr       string
	Strategies StrategyLister
	Svc        RunService
	Runs       RunReader
	Metrics    http.Handler
}

// Server 提供策略查询、回测触发与信号查询接口。
type Server struct {
	addr       string
	strategies StrategyLister
	svc        RunService
	runs       RunReader
	router     *gin.Engine
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("http server requires a run service")
	}
	if cfg.Strategies == nil {
		return nil, errors.New("http server requires a strategy registry")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:       cfg.Addr,
		strategies: cfg.Strategies,
		svc:        cfg.Svc,
		runs:       cfg.Runs,
		router:     router,
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	api := router.Group("/api")
	api.GET("/catalog", handleCatalog)
	api.GET("/strategies", s.handleStrategies)
	api.GET("/strategies/:name", s.handleStrategy)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/signals", s.handleRunSignals)
	return s, nil
}

// Handler 返回路由，供测试与嵌入使用。
func (s *Server) Handler() http.Handler { return s.router }

type strategyView struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Symbol      string             `json:"symbol,omitempty"`
	Interval    string             `json:"interval,omitempty"`
	WarmupBars  int                `json:"warmup_bars"`
	Indicators  any                `json:"indicators"`
	Patterns    []string           `json:"patterns,omitempty"`
	Conditions  map[string]string  `json:"conditions"`
	Sides       []signal.Direction `json:"sides"`
}

func viewOf(c *strategy.Compiled) strategyView {
	conds := map[string]string{}
	for label, node := range map[string]condition.Node{
		"entry_long":  c.Trees.EntryLong,
		"entry_short": c.Trees.EntryShort,
		"exit":        c.Trees.Exit,
		"stop":        c.Trees.Stop,
	} {
		if node != nil {
			conds[label] = condition.Format(node)
		}
	}
	return strategyView{
		Name:        c.Name,
		Description: c.Description,
		Symbol:      c.Symbol,
		Interval:    c.Interval,
		WarmupBars:  c.WarmupBars(),
		Indicators:  c.Indicators,
		Patterns:    c.Patterns,
		Conditions:  conds,
		Sides:       c.Trees.Sides(),
	}
}

type indicatorView struct {
	Kind       indicator.Kind        `json:"kind"`
	Components []indicator.Component `json:"components"`
}

// handleCatalog 列出可用的指标类型与形态名，供可视化编辑器构建条件树。
func handleCatalog(c *gin.Context) {
	kinds := indicator.Kinds()
	list := make([]indicatorView, 0, len(kinds))
	for _, k := range kinds {
		list = append(list, indicatorView{Kind: k, Components: indicator.Components(k)})
	}
	c.JSON(http.StatusOK, gin.H{
		"indicators": list,
		"patterns":   pattern.Names(),
		"operators":  []condition.Op{condition.OpGT, condition.OpLT, condition.OpGE, condition.OpLE, condition.OpEQ, condition.OpNE},
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	snap := s.strategies.Snapshot()
	list := make([]strategyView, 0, len(snap.Strategies))
	for _, name := range snap.Names() {
		list = append(list, viewOf(snap.Strategies[name]))
	}
	c.JSON(http.StatusOK, gin.H{
		"version":    snap.Version,
		"loaded_at":  snap.LoadedAt,
		"strategies": list,
	})
}

func (s *Server) handleStrategy(c *gin.Context) {
	snap := s.strategies.Snapshot()
	comp, ok := snap.Strategies[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(comp))
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Strategy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy is required"})
		return
	}
	res, err := s.svc.Run(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, backtest.ErrUnknownStrategy):
			status = http.StatusNotFound
		case errors.Is(err, backtest.ErrNoData):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		c.JSON(status, gin.H{"error": err.Error(), "run": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if s.runs != nil {
		runs, err := s.runs.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
		return
	}
	results := s.svc.Results()
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"runs": results})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	id := c.Param("id")
	if s.runs != nil {
		run, err := s.runs.GetRun(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, run)
			return
		}
		if !errors.Is(err, signalstore.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if res, ok := s.svc.Result(id); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}

func (s *Server) handleRunSignals(c *gin.Context) {
	id := c.Param("id")
	if res, ok := s.svc.Result(id); ok {
		c.JSON(http.StatusOK, gin.H{"run_id": id, "signals": nonNil(res.Signals)})
		return
	}
	if s.runs != nil {
		if _, err := s.runs.GetRun(c.Request.Context(), id); err == nil {
			signals, err := s.runs.ListSignals(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"run_id": id, "signals": nonNil(signals)})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}

func nonNil(events []signal.Event) []signal.Event {
	if events == nil {
		return []signal.Event{}
	}
	return events
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
