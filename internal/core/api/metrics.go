package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the evaluation service.
// A nil *Metrics disables recording.
type Metrics struct {
	evaluations       *prometheus.CounterVec   // by catalog and result (matched/unmatched)
	requestDuration   *prometheus.HistogramVec // by method
	requestErrors     *prometheus.CounterVec   // by method and grpc code
	skippedSets       *prometheus.CounterVec   // by catalog
	catalogsInstalled prometheus.Gauge
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "evaluator",
			Name:      "evaluations_total",
			Help:      "Total number of items evaluated against a catalog",
		}, []string{"catalog", "result"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rulebook",
			Subsystem: "evaluator",
			Name:      "request_duration_seconds",
			Help:      "Evaluator RPC duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),

		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "evaluator",
			Name:      "request_errors_total",
			Help:      "Total number of failed evaluator RPCs",
		}, []string{"method", "code"}),

		skippedSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulebook",
			Subsystem: "compiler",
			Name:      "skipped_sets_total",
			Help:      "Total number of rule sets dropped because they failed to compile",
		}, []string{"catalog"}),

		catalogsInstalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rulebook",
			Subsystem: "engine",
			Name:      "catalogs_installed",
			Help:      "Number of catalogs currently published by the engine",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.evaluations, m.requestDuration, m.requestErrors, m.skippedSets, m.catalogsInstalled,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordEvaluation(catalog string, matched bool) {
	if m == nil {
		return
	}
	result := "unmatched"
	if matched {
		result = "matched"
	}
	m.evaluations.WithLabelValues(catalog, result).Inc()
}

func (m *Metrics) observeRequest(method string, start time.Time) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordError(method, code string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(method, code).Inc()
}

func (m *Metrics) recordInstall(catalog string, skipped, installed int) {
	if m == nil {
		return
	}
	if skipped > 0 {
		m.skippedSets.WithLabelValues(catalog).Add(float64(skipped))
	}
	m.catalogsInstalled.Set(float64(installed))
}
