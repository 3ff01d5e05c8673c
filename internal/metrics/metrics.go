// Package metrics defines the Prometheus collectors for pipeline activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes for RunsTotal.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	ObservationsFetched *prometheus.CounterVec
	AnomaliesFlagged    *prometheus.CounterVec
	RegressionFit       *prometheus.HistogramVec
	RunsTotal           *prometheus.CounterVec
	gatherer            prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ObservationsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backscatter_observations_fetched_total",
				Help: "Observations newly added to the archive, by orbit and fetch direction.",
			},
			[]string{"orbit", "direction"},
		),
		AnomaliesFlagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backscatter_anomalies_flagged_total",
				Help: "Observations flagged as anomalous, by orbit.",
			},
			[]string{"orbit"},
		),
		RegressionFit: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backscatter_regression_fit_seconds",
				Help:    "Time spent fitting one feature's baseline curves.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"mode"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backscatter_runs_total",
				Help: "Pipeline runs by outcome.",
			},
			[]string{"status"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.ObservationsFetched, m.AnomaliesFlagged, m.RegressionFit, m.RunsTotal)
	return m
}

// Fetched records n new observations.
func (m *Metrics) Fetched(orbit, direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ObservationsFetched.WithLabelValues(orbit, direction).Add(float64(n))
}

// Flagged records n anomalies.
func (m *Metrics) Flagged(orbit string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AnomaliesFlagged.WithLabelValues(orbit).Add(float64(n))
}

// ObserveFit records one fit duration.
func (m *Metrics) ObserveFit(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegressionFit.WithLabelValues(mode).Observe(d.Seconds())
}

// RunFinished counts a run by outcome.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
