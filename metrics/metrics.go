package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"probeselect/models"
	"probeselect/probe"
)

// Registry holds the process-wide counters. It is created once at startup and
// handed to every component that records into it.
type Registry struct {
	requestCount   prometheus.Counter
	requestLatency prometheus.Summary

	probesTotal  *prometheus.CounterVec
	probeLatency prometheus.Histogram

	selectionsTotal *prometheus.CounterVec
	historyPruned   prometheus.Counter
	historyErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates the metrics and registers them on a fresh registry.
// The request metrics keep their historical unprefixed names.
func NewRegistry(namespace string) *Registry {
	m := &Registry{registry: prometheus.NewRegistry()}

	m.requestCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "request_count",
		Help: "Total number of HTTP requests",
	})
	m.requestLatency = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "request_latency_seconds",
		Help:       "Latency of HTTP requests in seconds",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	m.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total number of endpoint probes by outcome",
		},
		[]string{"outcome"},
	)
	m.probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_latency_seconds",
		Help:      "Latency of successful endpoint probes in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	m.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of completed selections by result",
		},
		[]string{"result"},
	)
	m.historyPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_pruned_total",
		Help:      "Total number of selection records removed by retention",
	})
	m.historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_errors_total",
			Help:      "Total number of failed history operations",
		},
		[]string{"operation"},
	)

	m.registry.MustRegister(
		m.requestCount,
		m.requestLatency,
		m.probesTotal,
		m.probeLatency,
		m.selectionsTotal,
		m.historyPruned,
		m.historyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRequest counts one selection request and its handling time.
func (m *Registry) RecordRequest(duration time.Duration) {
	m.requestCount.Inc()
	m.requestLatency.Observe(duration.Seconds())
}

// RequestCount returns the number of selection requests seen so far.
func (m *Registry) RequestCount() float64 {
	var pb dto.Metric
	if err := m.requestCount.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

// ObserveProbe records one probe result. It matches probe.Observer.
func (m *Registry) ObserveProbe(res probe.Result) {
	m.probesTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == probe.OutcomeOK {
		m.probeLatency.Observe(res.Duration.Seconds())
	}
}

// ObserveSelection records a completed selection.
func (m *Registry) ObserveSelection(res models.SelectionResult) {
	result := "reachable"
	if res.AllUnreachable() {
		result = "all_unreachable"
	}
	m.selectionsTotal.WithLabelValues(result).Inc()
}

// RecordPruned adds n removed history records.
func (m *Registry) RecordPruned(n int64) {
	if n > 0 {
		m.historyPruned.Add(float64(n))
	}
}

// RecordHistoryError counts a failed history operation.
func (m *Registry) RecordHistoryError(operation string) {
	m.historyErrors.WithLabelValues(operation).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts and times every request passed to next, whatever its
// outcome.
func (m *Registry) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() { m.RecordRequest(time.Since(start)) }()
		next.ServeHTTP(w, r)
	})
}
