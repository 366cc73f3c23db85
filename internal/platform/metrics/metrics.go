// Package metrics holds the Prometheus collectors for the claims service.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Transitions          *prometheus.CounterVec
	LockConflicts        prometheus.Counter
	NotificationFailures *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_transitions_total",
			Help: "Committed claim lifecycle transitions by transaction type and actor role.",
		}, []string{"type", "role"}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_lock_conflicts_total",
			Help: "Processor lock acquisitions refused because another processor holds the lease.",
		}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_notification_failures_total",
			Help: "Notifications that could not be delivered, by event.",
		}, []string{"event"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	m.registry.MustRegister(
		m.Transitions,
		m.LockConflicts,
		m.NotificationFailures,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// TransitionRecorded satisfies the lifecycle engine's recorder.
func (m *Metrics) TransitionRecorded(txType, role string) {
	m.Transitions.WithLabelValues(txType, role).Inc()
}

func (m *Metrics) LockConflict() { m.LockConflicts.Inc() }

func (m *Metrics) NotificationFailed(event string) {
	m.NotificationFailures.WithLabelValues(event).Inc()
}

// ObserveRequest satisfies middleware.RequestObserver. route is the echo
// route pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
