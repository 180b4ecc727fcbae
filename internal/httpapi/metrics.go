package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the interpretation API.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	interpretations *prometheus.CounterVec
	streamChunks    prometheus.Counter
	activeStreams   prometheus.Gauge
	rateLimited     prometheus.Counter
	providerRetries prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emojilens",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "emojilens",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		interpretations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emojilens",
			Name:      "interpretations_total",
			Help:      "Interpretations by mode and outcome",
		}, []string{"mode", "outcome"}),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emojilens",
			Name:      "stream_chunks_total",
			Help:      "Text fragments relayed to streaming clients",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emojilens",
			Name:      "active_streams",
			Help:      "Streams currently in flight",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emojilens",
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the per-IP limiter",
		}),
		providerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emojilens",
			Name:      "provider_retries_total",
			Help:      "Provider attempts beyond the first",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.interpretations,
		m.streamChunks,
		m.activeStreams,
		m.rateLimited,
		m.providerRetries,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncInterpretations counts one finished (or refused) interpretation.
func (m *Metrics) IncInterpretations(mode, outcome string) {
	if m == nil {
		return
	}
	m.interpretations.WithLabelValues(mode, outcome).Inc()
}

// IncStreamChunks counts a relayed fragment.
func (m *Metrics) IncStreamChunks() {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
}

// IncActiveStreams adjusts the in-flight stream gauge by delta.
func (m *Metrics) IncActiveStreams(delta float64) {
	if m == nil {
		return
	}
	m.activeStreams.Add(delta)
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncProviderRetries increments the retry counter.
func (m *Metrics) IncProviderRetries() {
	if m == nil {
		return
	}
	m.providerRetries.Inc()
}
