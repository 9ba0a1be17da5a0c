package pipeline

import (
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelgate_pipeline_steps_total",
			Help: "Total pipeline steps executed by operation type and outcome.",
		}, []string{"operation", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelgate_pipeline_step_duration_seconds",
			Help:    "Duration of a single operation step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.stepsTotal, m.stepDuration)
	}
	return m
}

func (m *metrics) observe(op domain.OperationType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(string(op), status).Inc()
	m.stepDuration.WithLabelValues(string(op), status).Observe(d.Seconds())
}
