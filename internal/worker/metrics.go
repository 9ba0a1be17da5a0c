package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	entriesTotal    *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	queueLag        prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_worker_log_entries_total",
			Help: "Total request log entries handled by the worker by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelgate_worker_persist_duration_seconds",
			Help:    "Time spent writing one request log entry to the sinks.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelgate_worker_queue_lag_seconds",
			Help:    "Delay between enqueueing a request log entry and the worker picking it up.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	registry.MustRegister(
		m.entriesTotal,
		m.persistDuration,
		m.queueLag,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
