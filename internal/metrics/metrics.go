// Package metrics provides Prometheus metrics for the order warehouse.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the warehouse pipeline.
type Metrics struct {
	// Cleansing
	RowsAccepted *prometheus.CounterVec
	RowsRejected *prometheus.CounterVec

	// Referential and temporal defects
	Defects *prometheus.CounterVec

	// Materialized relations
	RelationRows *prometheus.GaugeVec

	// Timing
	StageDuration *prometheus.HistogramVec

	// Runs
	Runs          *prometheus.CounterVec
	LastSuccessTS prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// Init initializes the metrics package with global metrics.
// Later calls return the instance created by the first call.
func Init(namespace string) *Metrics {
	initOnce.Do(func() {
		defaultMetrics = newMetrics(namespace, prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates metrics registered on reg. Tests pass a fresh registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "order_warehouse"
	}
	factory := promauto.With(reg)

	return &Metrics{
		RowsAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_accepted_total",
				Help:      "Raw rows that passed cleansing",
			},
			[]string{"entity"},
		),
		RowsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_rejected_total",
				Help:      "Raw rows excluded by validation or deduplication",
			},
			[]string{"entity", "reason"},
		),
		Defects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "defects_total",
				Help:      "Referential orphans and temporal anomalies found",
			},
			[]string{"check"},
		),
		RelationRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relation_rows",
				Help:      "Row count of each relation after the last replace",
			},
			[]string{"relation"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"stage"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		LastSuccessTS: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// The helpers below are safe on a nil *Metrics so callers need not check
// whether metrics are enabled.

// AddRowsAccepted adds to the accepted rows counter.
func (m *Metrics) AddRowsAccepted(entity string, n int) {
	if m == nil {
		return
	}
	m.RowsAccepted.WithLabelValues(entity).Add(float64(n))
}

// AddRowsRejected adds to the rejected rows counter.
func (m *Metrics) AddRowsRejected(entity, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsRejected.WithLabelValues(entity, reason).Add(float64(n))
}

// AddDefects adds to the defect counter.
func (m *Metrics) AddDefects(check string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Defects.WithLabelValues(check).Add(float64(n))
}

// SetRelationRows records a relation's row count.
func (m *Metrics) SetRelationRows(relation string, n int) {
	if m == nil {
		return
	}
	m.RelationRows.WithLabelValues(relation).Set(float64(n))
}

// ObserveStageDuration records a stage's duration.
func (m *Metrics) ObserveStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// IncRuns counts a run outcome ("success" | "failed" | "skipped").
func (m *Metrics) IncRuns(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

// SetLastSuccess records the time of the last successful run.
func (m *Metrics) SetLastSuccess(unixSeconds float64) {
	if m == nil {
		return
	}
	m.LastSuccessTS.Set(unixSeconds)
}
