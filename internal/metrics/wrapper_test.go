package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestOrdersCountersIncrement(t *testing.T) {
	r := newTestRegistry(t)

	r.OrdersPlaced().Inc()
	r.OrdersPlaced().Inc()
	r.OrdersCancelled().Inc()
	r.OrdersFailed().Inc()

	if v := testutil.ToFloat64(r.ordersPlaced); v != 2 {
		t.Errorf("expected orders_placed_total 2, got %v", v)
	}
	if v := testutil.ToFloat64(r.ordersCancelled); v != 1 {
		t.Errorf("expected orders_cancelled_total 1, got %v", v)
	}
	if v := testutil.ToFloat64(r.ordersFailed); v != 1 {
		t.Errorf("expected orders_failed_total 1, got %v", v)
	}
}

func TestTPSLAutoExecutedCounters(t *testing.T) {
	r := newTestRegistry(t)

	r.TPAutoExecuted().Inc()
	r.SLAutoExecuted().Inc()
	r.SLAutoExecuted().Inc()

	if v := testutil.ToFloat64(r.tpAutoExecuted); v != 1 {
		t.Errorf("expected tp_auto_executed_total 1, got %v", v)
	}
	if v := testutil.ToFloat64(r.slAutoExecuted); v != 2 {
		t.Errorf("expected sl_auto_executed_total 2, got %v", v)
	}
}

func TestMarginRatioGaugeReflectsLastSet(t *testing.T) {
	r := newTestRegistry(t)

	r.MarginRatio().Set(142.5)
	if v := testutil.ToFloat64(r.marginRatio); v != 142.5 {
		t.Errorf("expected margin_ratio_percent 142.5, got %v", v)
	}
	r.MarginRatio().Set(80)
	if v := testutil.ToFloat64(r.marginRatio); v != 80 {
		t.Errorf("expected margin_ratio_percent 80, got %v", v)
	}
}

func TestBreakerStateGaugeIsPerComponent(t *testing.T) {
	r := newTestRegistry(t)

	r.BreakerState("execution").Set(2)
	r.BreakerState("marketdata").Set(0)

	if v := testutil.ToFloat64(r.breakerState.WithLabelValues("execution")); v != 2 {
		t.Errorf("expected execution breaker state 2, got %v", v)
	}
	if v := testutil.ToFloat64(r.breakerState.WithLabelValues("marketdata")); v != 0 {
		t.Errorf("expected marketdata breaker state 0, got %v", v)
	}
}

func TestMLPredictionLatencyHistogramObserves(t *testing.T) {
	r := newTestRegistry(t)

	r.MLPredictionLatency().Observe(0.01)
	r.MLPredictionLatency().Observe(0.02)

	metricCh := make(chan prometheus.Metric, 1)
	r.mlPredictionLatency.Collect(metricCh)
	m := <-metricCh
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write histogram metric: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("expected 2 histogram samples, got %d", got)
	}
}

func TestFetchPaginationAttemptsCounter(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		r.FetchPaginationAttempts().Inc()
	}

	if v := testutil.ToFloat64(r.fetchPaginationAttempts); v != 3 {
		t.Errorf("expected fetch_pagination_attempts_total 3, got %v", v)
	}
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	r := newTestRegistry(t)
	r.OrdersPlaced().Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "tradecore_orders_placed_total") {
		t.Errorf("expected exposition to contain tradecore_orders_placed_total, got: %s", body)
	}
}
