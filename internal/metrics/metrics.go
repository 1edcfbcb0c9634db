// Package metrics exposes Prometheus instrumentation for the order pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config names the metric namespace.
type Config struct {
	Namespace string
}

// DefaultConfig returns the default namespace.
func DefaultConfig() Config {
	return Config{Namespace: "dexrouter"}
}

// Metrics holds every collector registered by the process.
type Metrics struct {
	registry *prometheus.Registry

	ordersAdmitted  prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	activeExecutors prometheus.Gauge
	ordersTerminal  *prometheus.CounterVec
	settleAttempts  *prometheus.CounterVec
	executionTime   prometheus.Histogram

	statusPublished prometheus.Counter
	publishRetries  prometheus.Counter
	publisherDepth  prometheus.Gauge

	entriesConsumed *prometheus.CounterVec
	entriesDropped  *prometheus.CounterVec

	fanoutDelivered prometheus.Counter
	fanoutMissed    prometheus.Counter
	subscribers     prometheus.Gauge

	persisted     *prometheus.CounterVec
	persistErrors prometheus.Counter

	archivedOrders prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry, including the Go
// runtime and process collectors.
func New(cfg Config) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &Metrics{
		registry: reg,

		ordersAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "gateway",
			Name: "orders_admitted_total",
			Help: "Orders accepted and appended to the orders stream.",
		}),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "gateway",
			Name: "orders_rejected_total",
			Help: "Orders rejected at admission, by reason.",
		}, []string{"reason"}),
		activeExecutors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "executor",
			Name: "active",
			Help: "Executors currently holding a permit.",
		}),
		ordersTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor",
			Name: "orders_terminal_total",
			Help: "Orders that reached a terminal status, by status.",
		}, []string{"status"}),
		settleAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "executor",
			Name: "settlement_attempts_total",
			Help: "Settlement attempts, by outcome.",
		}, []string{"outcome"}),
		executionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "executor",
			Name:    "execution_seconds",
			Help:    "Time from permit acquisition to terminal status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),

		statusPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "publisher",
			Name: "events_published_total",
			Help: "Status events appended to the status stream.",
		}),
		publishRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "publisher",
			Name: "append_retries_total",
			Help: "Failed status stream appends that were retried.",
		}),
		publisherDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "publisher",
			Name: "queue_depth",
			Help: "Events waiting in the publisher queue.",
		}),

		entriesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream",
			Name: "entries_consumed_total",
			Help: "Stream entries handed to a handler, by consumer.",
		}, []string{"consumer"}),
		entriesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stream",
			Name: "entries_dropped_total",
			Help: "Stream entries dropped by a handler, by consumer.",
		}, []string{"consumer"}),

		fanoutDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "fanout",
			Name: "delivered_total",
			Help: "Status payloads delivered to a live subscriber.",
		}),
		fanoutMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "fanout",
			Name: "unsubscribed_total",
			Help: "Status events with no registered subscriber.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "fanout",
			Name: "subscribers",
			Help: "Currently registered subscribers.",
		}),

		persisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "persist",
			Name: "upserts_total",
			Help: "Terminal upserts, by result.",
		}, []string{"result"}),
		persistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "persist",
			Name: "errors_total",
			Help: "Store errors that were retried.",
		}),

		archivedOrders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "archive",
			Name: "orders_total",
			Help: "Persisted orders exported to object storage.",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP requests, by method and status code.",
		}, []string{"method", "code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "http",
			Name:    "request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OrderAdmitted() {
	if m != nil {
		m.ordersAdmitted.Inc()
	}
}

func (m *Metrics) OrderRejected(reason string) {
	if m != nil {
		m.ordersRejected.WithLabelValues(reason).Inc()
	}
}

// ExecutorStarted marks a permit as taken and returns a func that releases
// the gauge and records the elapsed time.
func (m *Metrics) ExecutorStarted() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.activeExecutors.Inc()
	return func() {
		m.activeExecutors.Dec()
		m.executionTime.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) OrderTerminal(status string) {
	if m != nil {
		m.ordersTerminal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SettlementAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.settleAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StatusPublished() {
	if m != nil {
		m.statusPublished.Inc()
	}
}

func (m *Metrics) PublishRetry() {
	if m != nil {
		m.publishRetries.Inc()
	}
}

func (m *Metrics) PublisherDepth(n int) {
	if m != nil {
		m.publisherDepth.Set(float64(n))
	}
}

func (m *Metrics) EntryConsumed(consumer string) {
	if m != nil {
		m.entriesConsumed.WithLabelValues(consumer).Inc()
	}
}

func (m *Metrics) EntryDropped(consumer string) {
	if m != nil {
		m.entriesDropped.WithLabelValues(consumer).Inc()
	}
}

func (m *Metrics) FanoutDelivered() {
	if m != nil {
		m.fanoutDelivered.Inc()
	}
}

func (m *Metrics) FanoutMissed() {
	if m != nil {
		m.fanoutMissed.Inc()
	}
}

func (m *Metrics) Subscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

func (m *Metrics) Persisted(result string) {
	if m != nil {
		m.persisted.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PersistError() {
	if m != nil {
		m.persistErrors.Inc()
	}
}

func (m *Metrics) Archived(n int) {
	if m != nil {
		m.archivedOrders.Add(float64(n))
	}
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusCode(code)).Inc()
	m.httpLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
