package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// WorkerMetrics tracks import tasks, promotions and outbound call health.
// It implements resilience.Observer.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	importTotal    *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	importInFlight prometheus.Gauge
	itemsTotal     *prometheus.CounterVec
	promotedTotal  *prometheus.CounterVec
	queueLag       *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	importTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "batch_import_total",
			Help:      "Total import tasks by final batch status.",
		},
		[]string{"service", "status"},
	)
	importDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "batch_import_duration_seconds",
			Help:      "Import task duration in seconds by final batch status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	importInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "batch_import_in_flight",
			Help:      "Number of in-flight import tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "items_total",
			Help:      "Rows processed by outcome.",
		},
		[]string{"service", "outcome"},
	)
	promotedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "promotions_total",
			Help:      "Items promoted to domain tables by target and outcome.",
		},
		[]string{"service", "target", "outcome"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fiscal",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between batch creation and import start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fiscal",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retried outbound calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fiscal",
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 while the operation's circuit breaker is open, 0.5 half-open, 0 closed.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(importTotal, importDuration, importInFlight, itemsTotal, promotedTotal, queueLag, retriesTotal, breakerState)

	return &WorkerMetrics{
		registry:       registry,
		service:        service,
		importTotal:    importTotal,
		importDuration: importDuration,
		importInFlight: importInFlight,
		itemsTotal:     itemsTotal,
		promotedTotal:  promotedTotal,
		queueLag:       queueLag,
		retriesTotal:   retriesTotal,
		breakerState:   breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartImport() {
	m.importInFlight.Inc()
}

// FinishImport records a finished task. A non-nil err is reported under
// status "error" regardless of the batch status.
func (m *WorkerMetrics) FinishImport(progress domain.ImportProgress, duration time.Duration, err error) {
	m.importInFlight.Dec()

	status := string(progress.Status)
	if err != nil || status == "" {
		status = "error"
	}
	m.importTotal.WithLabelValues(m.service, status).Inc()
	m.importDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())

	m.addItems("validated", progress.Validated)
	m.addItems("failed", progress.Failed)
	m.addItems("skipped", progress.Skipped)
}

func (m *WorkerMetrics) addItems(outcome string, n int) {
	if n > 0 {
		m.itemsTotal.WithLabelValues(m.service, outcome).Add(float64(n))
	}
}

func (m *WorkerMetrics) RecordPromotion(summary domain.PromoteSummary) {
	for target, n := range summary.ByTarget {
		if n > 0 {
			m.promotedTotal.WithLabelValues(m.service, target, "promoted").Add(float64(n))
		}
	}
	if summary.Skipped > 0 {
		m.promotedTotal.WithLabelValues(m.service, "any", "skipped").Add(float64(summary.Skipped))
	}
	if summary.Unmapped > 0 {
		m.promotedTotal.WithLabelValues(m.service, "unmapped", "unmapped").Add(float64(summary.Unmapped))
	}
	if summary.Failed > 0 {
		m.promotedTotal.WithLabelValues(m.service, "any", "failed").Add(float64(summary.Failed))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RetryAttempt(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkerMetrics) BreakerStateChanged(operation, state string) {
	value := 0.0
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
