package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	chatOutcomes         *prometheus.CounterVec
	conversationsCreated prometheus.Counter
	rateWindowInUse      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "endpoint"},
		),

		chatOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_chat_outcomes_total",
				Help: "Chat requests by governor outcome",
			},
			[]string{"outcome"},
		),

		conversationsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "companion_conversations_created_total",
				Help: "Conversations created by successful chat requests",
			},
		),

		rateWindowInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "companion_rate_window_in_use",
				Help: "Admissions currently counted in the sliding rate window",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.chatOutcomes,
		m.conversationsCreated,
		m.rateWindowInUse,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordChatOutcome counts a chat request by governor outcome.
func (m *Metrics) RecordChatOutcome(outcome Outcome) {
	m.chatOutcomes.WithLabelValues(string(outcome)).Inc()
}

// RecordConversationCreated counts a newly created conversation.
func (m *Metrics) RecordConversationCreated() {
	m.conversationsCreated.Inc()
}

// SetRateWindowInUse reports the current window occupancy.
func (m *Metrics) SetRateWindowInUse(n int) {
	m.rateWindowInUse.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and latency per normalized endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, EndpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// EndpointName maps a request path to a bounded label value.
func EndpointName(path string) string {
	switch {
	case path == "/":
		return "index"
	case path == "/chat":
		return "chat"
	case path == "/healthz":
		return "health"
	case path == "/metrics":
		return "metrics"
	case strings.HasPrefix(path, "/conversations/"):
		return "conversation_messages"
	case strings.HasPrefix(path, "/static/"):
		return "static"
	default:
		return "unknown"
	}
}
