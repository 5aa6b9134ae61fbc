// Package metrics exposes run and request counters on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "api_runner"

type Metrics struct {
	registry           *prometheus.Registry
	RunsTotal          *prometheus.CounterVec
	OperationsTotal    *prometheus.CounterVec
	OperationsInFlight prometheus.Gauge
	RequestDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Bulk runs started, by execution mode",
		}, []string{"mode"}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations that reached a terminal status",
		}, []string{"status"}),
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Requests dispatched and not yet finished",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Wall clock time of executed requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	r.MustRegister(m.RunsTotal, m.OperationsTotal, m.OperationsInFlight, m.RequestDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RunStarted(mode string) {
	m.RunsTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RequestStarted() {
	m.OperationsInFlight.Inc()
}

// RequestFinished records a dispatched request. elapsed is ignored when the
// request produced no response.
func (m *Metrics) RequestFinished(method string, elapsed time.Duration, gotResponse bool) {
	m.OperationsInFlight.Dec()
	if gotResponse {
		m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) OperationDone(status string) {
	m.OperationsTotal.WithLabelValues(status).Inc()
}
