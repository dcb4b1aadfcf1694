package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const namespace = "papertrellis"

type WorkerMetrics struct {
	registry *prometheus.Registry

	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	decisionInFlight prometheus.Gauge
	queueLag         *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	droppedTotal     *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Total routing decisions by outcome and failure kind.",
		},
		[]string{"service", "status", "failure_kind"},
	)
	decisionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decision_duration_seconds",
			Help:      "Routing decision duration in seconds by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	decisionInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_in_flight",
			Help:      "Number of routing decisions currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_lag_seconds",
			Help:      "Delay between discovering a file and starting its decision.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Files discovered and waiting for a worker.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	droppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Discovered files not queued, by reason.",
		},
		[]string{"service", "reason"},
	)
	extractionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "total",
			Help:      "Completed text extractions by method.",
		},
		[]string{"service", "method"},
	)

	registry.MustRegister(
		decisionsTotal,
		decisionDuration,
		decisionInFlight,
		queueLag,
		queueDepth,
		droppedTotal,
		extractionsTotal,
	)

	return &WorkerMetrics{
		registry:         registry,
		decisionsTotal:   decisionsTotal,
		decisionDuration: decisionDuration,
		decisionInFlight: decisionInFlight,
		queueLag:         queueLag,
		queueDepth:       queueDepth,
		droppedTotal:     droppedTotal,
		extractionsTotal: extractionsTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.decisionInFlight.Inc()
}

// FinishDocument records one decision. doc may be nil when Route returned
// before creating a record.
func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, doc *domain.Document, err error) {
	m.decisionInFlight.Dec()

	status, kind := "error", ""
	switch {
	case err != nil && domain.IsKind(err, domain.ErrClaimConflict):
		status = "skipped"
	case err != nil && domain.IsKind(err, domain.ErrTemporary):
		status = "deferred"
	case err == nil && doc != nil:
		status = string(doc.Status)
		kind = string(doc.FailureKind)
		if doc.ExtractionMethod != "" {
			m.extractionsTotal.WithLabelValues(service, string(doc.ExtractionMethod)).Inc()
		}
	}

	m.decisionsTotal.WithLabelValues(service, status, kind).Inc()
	m.decisionDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *WorkerMetrics) RecordDrop(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.droppedTotal.WithLabelValues(service, reason).Inc()
}
