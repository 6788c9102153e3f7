package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the signal engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BarsProcessed  *prometheus.CounterVec // labels: strategy
	BarsSkipped    *prometheus.CounterVec // labels: strategy, reason
	EvalErrors     *prometheus.CounterVec // labels: strategy
	SignalsEmitted *prometheus.CounterVec // labels: strategy, kind, direction
	BarLatency     prometheus.Histogram
	ActiveSessions prometheus.Gauge
	RunsTotal      *prometheus.CounterVec // labels: status
	Divergences    *prometheus.CounterVec // labels: strategy, indicator

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg.
// Tests pass a fresh prometheus.NewRegistry(); nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_bars_processed_total",
			Help: "Bars fed through a strategy session",
		}, []string{"strategy"}),
		BarsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_bars_skipped_total",
			Help: "Bars rejected before touching session state (out of order, malformed)",
		}, []string{"strategy", "reason"}),
		EvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_evaluation_errors_total",
			Help: "Bars whose condition evaluation failed structurally",
		}, []string{"strategy"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_total",
			Help: "Signal events emitted",
		}, []string{"strategy", "kind", "direction"}),
		BarLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_bar_duration_seconds",
			Help:    "Per-bar processing latency (indicators, patterns, evaluation)",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_active_sessions",
			Help: "Sessions currently consuming bars",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_runs_total",
			Help: "Backtest runs by final status",
		}, []string{"status"}),
		Divergences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_reference_divergences_total",
			Help: "Streaming indicator values diverging from the reference library",
		}, []string{"strategy", "indicator"}),
	}
	reg.MustRegister(
		m.BarsProcessed,
		m.BarsSkipped,
		m.EvalErrors,
		m.SignalsEmitted,
		m.BarLatency,
		m.ActiveSessions,
		m.RunsTotal,
		m.Divergences,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func (m *Metrics) ObserveBar(strategy string, took time.Duration) {
	if m == nil {
		return
	}
	m.BarsProcessed.WithLabelValues(strategy).Inc()
	m.BarLatency.Observe(took.Seconds())
}

func (m *Metrics) BarSkipped(strategy, reason string) {
	if m == nil {
		return
	}
	m.BarsSkipped.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) EvalError(strategy string) {
	if m == nil {
		return
	}
	m.EvalErrors.WithLabelValues(strategy).Inc()
}

func (m *Metrics) Signal(strategy, kind, direction string) {
	if m == nil {
		return
	}
	m.SignalsEmitted.WithLabelValues(strategy, kind, direction).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Divergence(strategy, indicator string) {
	if m == nil {
		return
	}
	m.Divergences.WithLabelValues(strategy, indicator).Inc()
}

// Handler exposes the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
