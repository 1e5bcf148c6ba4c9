// Package metrics exposes Prometheus instrumentation for the celebration server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newyear"

// Metrics holds every collector. Create it with New on a dedicated registry in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	AIRequests        *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AIAttempts        *prometheus.CounterVec
	Subscribers       prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
}

// New registers the collectors on reg and serves them from it. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and lets Handler serve whatever g gathers.
// Use it when reg is a wrapping Registerer, e.g. one adding constant labels.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: g,
		AIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Generative AI calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		AIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Duration of generative AI calls including retries",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"operation"}),
		AIAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_attempts_total",
			Help:      "Individual round trips to the generative AI service",
		}, []string{"operation", "result"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "countdown_subscribers",
			Help:      "Open countdown stream connections",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// ObserveAttempt implements gemini.Observer.
func (m *Metrics) ObserveAttempt(operation string, err error, _ time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AIAttempts.WithLabelValues(operation, result).Inc()
}

// ObserveResult implements gemini.Observer.
func (m *Metrics) ObserveResult(operation, outcome string, elapsed time.Duration) {
	m.AIRequests.WithLabelValues(operation, outcome).Inc()
	m.AIRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveHTTP counts a served request.
func (m *Metrics) ObserveHTTP(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
