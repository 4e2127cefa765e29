package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ssargent/quill/pkg/dispatch"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Dispatch metrics
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	// Ledger metrics
	postsTotal       prometheus.Gauge
	nextPostID       prometheus.Gauge
	migrationPending prometheus.Gauge

	// Event stream metrics
	eventSubscribers prometheus.Gauge
	eventsDropped    prometheus.Gauge

	// Health check metrics
	healthChecksTotal *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quill_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_dispatch_calls_total",
				Help: "Total number of dispatched calls by outcome",
			},
			[]string{"call", "outcome"},
		),

		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_dispatch_call_duration_seconds",
				Help:    "Dispatched call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),

		postsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_posts_total",
				Help: "Number of stored posts",
			},
		),

		nextPostID: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_next_post_id",
				Help: "Id the next post will receive",
			},
		),

		migrationPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_migration_pending",
				Help: "1 while the storage schema needs migrating",
			},
		),

		eventSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_event_subscribers",
				Help: "Number of attached event stream subscribers",
			},
		),

		eventsDropped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_events_dropped",
				Help: "Events not delivered to slow subscribers",
			},
		),

		healthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveCall implements dispatch.Observer
func (m *Metrics) ObserveCall(call dispatch.Call, err error, elapsed time.Duration) {
	outcome := statusSuccess
	var de *dispatch.Error
	if errors.As(err, &de) {
		outcome = de.Kind.String()
	} else if err != nil {
		outcome = statusError
	}
	m.callsTotal.WithLabelValues(string(call), outcome).Inc()
	m.callDuration.WithLabelValues(string(call)).Observe(elapsed.Seconds())
}

// UpdateLedgerStats updates ledger statistics
func (m *Metrics) UpdateLedgerStats(posts int, nextID uint32, pending bool) {
	m.postsTotal.Set(float64(posts))
	m.nextPostID.Set(float64(nextID))
	if pending {
		m.migrationPending.Set(1)
	} else {
		m.migrationPending.Set(0)
	}
}

// UpdateEventStats updates event stream statistics
func (m *Metrics) UpdateEventStats(subscribers int, dropped uint64) {
	m.eventSubscribers.Set(float64(subscribers))
	m.eventsDropped.Set(float64(dropped))
}

// RecordHealthCheck records a health check
func (m *Metrics) RecordHealthCheck(success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.healthChecksTotal.WithLabelValues(status).Inc()
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
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

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
