// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomusage"

// Upload outcomes
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFetch     = "fetch_error"
	OutcomePersist   = "persist_error"
)

// Metrics groups the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Uploads        *prometheus.CounterVec
	Periods        *prometheus.CounterVec
	PagesFetched   prometheus.Counter
	UploadDuration prometheus.Histogram
	NotifyErrors   prometheus.Counter
}

// New creates the instruments on a fresh registry, with Go runtime and
// process collectors alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads processed, by outcome.",
		}, []string{"outcome"}),
		Periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_total",
			Help:      "Periods handled by reconciliation, by action (inserted, deleted, extended, duplicate).",
		}, []string{"action"}),
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pages_fetched_total",
			Help:      "Pages requested from the store while reading period history.",
		}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time to extract, reconcile and persist one upload.",
			Buckets:   prometheus.DefBuckets,
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Notifications that could not be delivered.",
		}),
	}

	reg.MustRegister(
		m.Uploads,
		m.Periods,
		m.PagesFetched,
		m.UploadDuration,
		m.NotifyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the instruments
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Upload records one finished upload
func (m *Metrics) Upload(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	m.UploadDuration.Observe(seconds)
}

// PeriodsHandled adds n periods under action
func (m *Metrics) PeriodsHandled(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Periods.WithLabelValues(action).Add(float64(n))
}

// PageFetched counts one history page
func (m *Metrics) PageFetched() {
	if m == nil {
		return
	}
	m.PagesFetched.Inc()
}

// NotifyFailed counts one undelivered notification
func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.NotifyErrors.Inc()
}
