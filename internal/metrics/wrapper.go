package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counter, Gauge and Histogram are the small interfaces the rest of the
// program depends on so packages never import prometheus directly
// (spec §6.3).
type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Add(float64)
}

type Histogram interface {
	Observe(float64)
}

type counterWrapper struct{ c prometheus.Counter }

func (w counterWrapper) Inc()          { w.c.Inc() }
func (w counterWrapper) Add(v float64) { w.c.Add(v) }

type gaugeWrapper struct{ g prometheus.Gauge }

func (w gaugeWrapper) Set(v float64) { w.g.Set(v) }
func (w gaugeWrapper) Add(v float64) { w.g.Add(v) }

type histogramWrapper struct{ h prometheus.Histogram }

func (w histogramWrapper) Observe(v float64) { w.h.Observe(v) }
