package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	ticketOps       *prometheus.CounterVec
	archiveRuns     *prometheus.CounterVec
	archiveMessages prometheus.Counter
	archiveDuration prometheus.Histogram
	archiveQueue    prometheus.Gauge
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, labeled by route, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tickets",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by domain error code",
		}, []string{"path", "method", "code"}),
		ticketOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Ticket lifecycle operations, labeled by operation and result code",
		}, []string{"operation", "result"}),
		archiveRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "Archival pipeline runs by result",
		}, []string{"result"}),
		archiveMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tickets",
			Subsystem: "archive",
			Name:      "messages_total",
			Help:      "Messages written to the archive",
		}),
		archiveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickets",
			Subsystem: "archive",
			Name:      "run_duration_seconds",
			Help:      "Duration of archival pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		archiveQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickets",
			Subsystem: "archive",
			Name:      "queue_depth",
			Help:      "Archival jobs waiting for a worker",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordTicketOperation counts a lifecycle call; result is "ok" or an error code.
func (m *Metrics) RecordTicketOperation(operation, result string) {
	if m == nil {
		return
	}
	m.ticketOps.WithLabelValues(operation, result).Inc()
}

// RecordArchiveRun returns a func that records the run outcome and duration.
func (m *Metrics) RecordArchiveRun() func(messages int, err error) {
	if m == nil {
		return func(int, error) {}
	}
	timer := prometheus.NewTimer(m.archiveDuration)
	return func(messages int, err error) {
		timer.ObserveDuration()
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.archiveRuns.WithLabelValues(result).Inc()
		if messages > 0 {
			m.archiveMessages.Add(float64(messages))
		}
	}
}

// SetArchiveQueueDepth reports the number of queued archival jobs.
func (m *Metrics) SetArchiveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.archiveQueue.Set(float64(depth))
}
