// Package metrics exposes Prometheus counters for sync cycles and session checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobwatch"

// Cycle outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeFetchError   = "fetch_error"
	OutcomePersistError = "persist_error"
)

// Metrics is safe to use through a nil pointer; every method becomes a no-op.
type Metrics struct {
	reg *prometheus.Registry

	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	PagesFetchedTotal    prometheus.Counter
	ListingsTotal        *prometheus.CounterVec
	MessagesTotal        *prometheus.CounterVec
	HealthChecksTotal    *prometheus.CounterVec
	LastSuccessTimestamp prometheus.Gauge
	SeenSetSize          prometheus.Gauge
}

// New registers all metrics on a fresh registry, so tests can build as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a sync cycle",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		PagesFetchedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pages_fetched_total",
			Help:      "API pages fetched successfully",
		}),
		ListingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "listings_total",
			Help:      "Listings classified, by outcome (seed, notify, skip)",
		}, []string{"outcome"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification messages by result (delivered, failed, fallback)",
		}, []string{"result"}),
		HealthChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "checks_total",
			Help:      "Session health checks by result",
		}, []string{"result"}),
		LastSuccessTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle",
		}),
		SeenSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "seen",
			Name:      "ids",
			Help:      "Number of ids in the seen set after the last cycle",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
	if outcome == OutcomeOK {
		m.LastSuccessTimestamp.SetToCurrentTime()
	}
}

func (m *Metrics) PageFetched() {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.Inc()
}

func (m *Metrics) Listing(outcome string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Messages(delivered, failed, fallbacks int) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues("delivered").Add(float64(delivered))
	m.MessagesTotal.WithLabelValues("failed").Add(float64(failed))
	m.MessagesTotal.WithLabelValues("fallback").Add(float64(fallbacks))
}

func (m *Metrics) HealthCheck(result string) {
	if m == nil {
		return
	}
	m.HealthChecksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SeenSize(n int) {
	if m == nil {
		return
	}
	m.SeenSetSize.Set(float64(n))
}
