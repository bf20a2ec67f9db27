// Package metrics wraps the Prometheus client in a small Registry so the
// rest of the program depends only on the Counter/Gauge/Histogram
// interfaces in wrapper.go, never on prometheus directly (spec §6.3).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecore"

// Registry holds every metric tradecore exposes: per-component circuit
// breaker state, order outcomes, TP/SL auto-execution, margin health, ML
// prediction latency, and fetch pagination pressure.
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	breakerState *prometheus.GaugeVec

	ordersPlaced    prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersFailed    prometheus.Counter

	tpAutoExecuted prometheus.Counter
	slAutoExecuted prometheus.Counter

	marginRatio prometheus.Gauge

	mlPredictionLatency prometheus.Histogram

	fetchPaginationAttempts prometheus.Counter
}

// New builds a Registry against the global default Prometheus registry.
func New() *Registry {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Registry against a caller-supplied registerer,
// so tests can use a throwaway prometheus.NewRegistry() instead of
// polluting the process-wide default.
func NewWithRegistry(registerer prometheus.Registerer) *Registry {
	factory := promauto.With(registerer)
	r := &Registry{registerer: registerer}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		r.gatherer = g
	} else {
		r.gatherer = prometheus.DefaultGatherer
	}

	r.breakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per component: 0=closed, 1=half_open, 2=open.",
	}, []string{"component"})

	r.ordersPlaced = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "orders_placed_total", Help: "Orders successfully placed.",
	})
	r.ordersCancelled = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "orders_cancelled_total", Help: "Orders cancelled (rollback, stale, manual).",
	})
	r.ordersFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "orders_failed_total", Help: "Orders that failed to place or fill.",
	})

	r.tpAutoExecuted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tp_auto_executed_total", Help: "Take-profit orders detected as executed by the exchange.",
	})
	r.slAutoExecuted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sl_auto_executed_total", Help: "Stop-loss orders detected as executed by the exchange.",
	})

	r.marginRatio = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "margin_ratio_percent", Help: "Most recently observed account margin ratio, percent.",
	})

	r.mlPredictionLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "ml_prediction_latency_seconds", Help: "ML model inference latency.",
		Buckets: prometheus.DefBuckets,
	})

	r.fetchPaginationAttempts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "fetch_pagination_attempts_total", Help: "OHLCV pagination attempts issued by MarketDataFetcher.",
	})

	return r
}

// BreakerState returns a Gauge bound to component's label, for
// resilience.Manager to report its current breaker state.
func (r *Registry) BreakerState(component string) Gauge {
	return gaugeWrapper{r.breakerState.WithLabelValues(component)}
}

func (r *Registry) OrdersPlaced() Counter    { return counterWrapper{r.ordersPlaced} }
func (r *Registry) OrdersCancelled() Counter { return counterWrapper{r.ordersCancelled} }
func (r *Registry) OrdersFailed() Counter    { return counterWrapper{r.ordersFailed} }

func (r *Registry) TPAutoExecuted() Counter { return counterWrapper{r.tpAutoExecuted} }
func (r *Registry) SLAutoExecuted() Counter { return counterWrapper{r.slAutoExecuted} }

func (r *Registry) MarginRatio() Gauge { return gaugeWrapper{r.marginRatio} }

func (r *Registry) MLPredictionLatency() Histogram { return histogramWrapper{r.mlPredictionLatency} }

func (r *Registry) FetchPaginationAttempts() Counter {
	return counterWrapper{r.fetchPaginationAttempts}
}

// Handler serves this Registry's metrics for a plain http.ServeMux
// mounted at "/metrics".
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
