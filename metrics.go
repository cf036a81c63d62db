package helpdesk

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Event results for metrics categorization
	MetricsResultOK    = "ok"
	MetricsResultError = "error"

	// Default subsystem name for metrics
	defaultSubsystem = "helpdesk"
)

// Predefined histogram buckets
var (
	// Standard histogram buckets for general duration metrics (1ms to 10s)
	MetricsHistogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// Event processing includes retries with backoff, so buckets go up to 30s
	EventDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
)

// MetricsConfig contains Prometheus settings. Metrics are disabled if Registry is nil.
type MetricsConfig struct {
	Registry    prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// metrics holds all Prometheus metrics of the helpdesk.
type metrics struct {
	MetricsConfig

	// Inbound events
	updatesTotal         prometheus.Counter
	duplicatesTotal      prometheus.Counter
	eventsTotal          *prometheus.CounterVec   // by kind and result
	eventDurationSeconds *prometheus.HistogramVec // by kind
	rateLimitedTotal     prometheus.Counter

	// Tickets
	ticketsCreatedTotal    *prometheus.CounterVec // by mode: thread or fallback
	ticketsClosedTotal     *prometheus.CounterVec // by who closed
	threadsReallocated     prometheus.Counter
	fallbackActivatedTotal prometheus.Counter

	// Relay
	relayedTotal        *prometheus.CounterVec // by side and content kind
	providerErrorsTotal *prometheus.CounterVec // by error kind

	// Dispatcher
	dispatchRejectedTotal prometheus.Counter

	// Webhook metrics
	webhookRequestsTotal *prometheus.CounterVec   // by path
	webhookErrorsTotal   *prometheus.CounterVec   // by path and status
	webhookResponseTime  *prometheus.HistogramVec // by path
	webhookRequestsOnFly *prometheus.GaugeVec     // by path

	onFlyRequestsCount int64

	disabled bool
}

// newMetrics creates and registers all metrics.
// If config.Registry is nil, returns a disabled metrics instance.
func newMetrics(config MetricsConfig) *metrics {
	if config.Registry == nil {
		return &metrics{disabled: true}
	}

	m := &metrics{MetricsConfig: config}

	m.updatesTotal = m.newSimpleCounter("updates_total", "Total number of updates received")
	m.duplicatesTotal = m.newSimpleCounter("updates_duplicate_total", "Total number of redelivered updates that were skipped")
	m.eventsTotal = m.newCounter("events_total", "Total number of handled events by kind and result", "kind", "result")
	m.eventDurationSeconds = m.newHistogram("event_duration_seconds", "Event handling duration in seconds", EventDurationBuckets, "kind")
	m.rateLimitedTotal = m.newSimpleCounter("rate_limited_total", "Total number of user messages rejected by the rate limiter")

	m.ticketsCreatedTotal = m.newCounter("tickets_created_total", "Total number of created tickets", "mode")
	m.ticketsClosedTotal = m.newCounter("tickets_closed_total", "Total number of closed tickets", "closed_by")
	m.threadsReallocated = m.newSimpleCounter("threads_reallocated_total", "Total number of tickets moved to a new thread")
	m.fallbackActivatedTotal = m.newSimpleCounter("fallback_activated_total", "Total number of switches to the no-thread mode")

	m.relayedTotal = m.newCounter("messages_relayed_total", "Total number of relayed messages", "side", "content")
	m.providerErrorsTotal = m.newCounter("provider_errors_total", "Total number of channel provider errors", "kind")

	m.dispatchRejectedTotal = m.newSimpleCounter("dispatch_rejected_total", "Total number of updates rejected because the worker pool is full")

	m.webhookRequestsTotal = m.newCounter("webhook_requests_total", "Total number of webhook requests", "path")
	m.webhookErrorsTotal = m.newCounter("webhook_errors_total", "Total number of webhook errors", "path", "status_code")
	m.webhookResponseTime = m.newHistogram("webhook_response_time_seconds", "Webhook response time in seconds", MetricsHistogramBuckets, "path")
	m.webhookRequestsOnFly = m.newGauge("webhook_requests_on_fly", "Number of requests on fly", "path")

	return m
}

// incUpdate increments the total updates counter.
func (m *metrics) incUpdate() {
	if m == nil || m.disabled {
		return
	}
	m.updatesTotal.Inc()
}

// incDuplicate is called when the dedup guard rejects a redelivered update.
func (m *metrics) incDuplicate() {
	if m == nil || m.disabled {
		return
	}
	m.duplicatesTotal.Inc()
}

// observeEvent records the result and duration of one handled event.
func (m *metrics) observeEvent(kind EventKind, d time.Duration, err error) {
	if m == nil || m.disabled {
		return
	}
	m.eventsTotal.WithLabelValues(string(kind), lang.If(err == nil, MetricsResultOK, MetricsResultError)).Inc()
	m.eventDurationSeconds.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *metrics) incRateLimited() {
	if m == nil || m.disabled {
		return
	}
	m.rateLimitedTotal.Inc()
}

// incTicketCreated counts a new ticket, fallback tickets are counted separately.
func (m *metrics) incTicketCreated(inFallback bool) {
	if m == nil || m.disabled {
		return
	}
	m.ticketsCreatedTotal.WithLabelValues(lang.If(inFallback, "fallback", "thread")).Inc()
}

func (m *metrics) incTicketClosed(by ClosedBy) {
	if m == nil || m.disabled {
		return
	}
	m.ticketsClosedTotal.WithLabelValues(string(by)).Inc()
}

func (m *metrics) incThreadReallocated() {
	if m == nil || m.disabled {
		return
	}
	m.threadsReallocated.Inc()
}

// incFallback is called when thread creation fails with a capability error.
func (m *metrics) incFallback() {
	if m == nil || m.disabled {
		return
	}
	m.fallbackActivatedTotal.Inc()
}

func (m *metrics) incRelayed(side ActivitySide, kind ContentKind) {
	if m == nil || m.disabled {
		return
	}
	m.relayedTotal.WithLabelValues(string(side), string(kind)).Inc()
}

// incProviderError counts provider failures. Errors of unknown type are counted as "unknown".
func (m *metrics) incProviderError(kind ErrorKind) {
	if m == nil || m.disabled {
		return
	}
	m.providerErrorsTotal.WithLabelValues(lang.Check(string(kind), "unknown")).Inc()
}

func (m *metrics) incDispatchRejected() {
	if m == nil || m.disabled {
		return
	}
	m.dispatchRejectedTotal.Inc()
}

// HandleRequest records webhook request metrics.
// Called at the start of webhook request processing to track request volume and concurrency.
func (m *metrics) HandleRequest(r *http.Request) {
	if m == nil || m.disabled {
		return
	}
	m.webhookRequestsTotal.WithLabelValues(r.URL.Path).Inc()
	count := atomic.AddInt64(&m.onFlyRequestsCount, 1)
	m.webhookRequestsOnFly.WithLabelValues(r.URL.Path).Set(float64(count))
}

// HandleResponse records webhook response metrics.
// Called at the end of webhook request processing to track response times and errors.
func (m *metrics) HandleResponse(r *http.Request, statusCode int, duration time.Duration) {
	if m == nil || m.disabled {
		return
	}
	if statusCode >= 400 {
		m.webhookErrorsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(statusCode)).Inc()
	}
	m.webhookResponseTime.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
	count := atomic.AddInt64(&m.onFlyRequestsCount, -1)
	m.webhookRequestsOnFly.WithLabelValues(r.URL.Path).Set(float64(count))
}

// newCounter creates a new CounterVec and registers it.
// Uses the configured subsystem or defaults to "helpdesk".
func (r *metrics) newCounter(name, help string, labelNames ...string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
		labelNames,
	)
	r.Registry.MustRegister(counter)
	return counter
}

// newGauge creates a new GaugeVec and registers it.
func (r *metrics) newGauge(name, help string, labelNames ...string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
		labelNames,
	)
	r.Registry.MustRegister(gauge)
	return gauge
}

// newHistogram creates a new HistogramVec and registers it.
func (r *metrics) newHistogram(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
			Buckets:     buckets,
		},
		labelNames,
	)
	r.Registry.MustRegister(histogram)
	return histogram
}

// newSimpleCounter creates a new Counter without labels and registers it.
func (r *metrics) newSimpleCounter(name, help string) prometheus.Counter {
	counter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
	)
	r.Registry.MustRegister(counter)
	return counter
}
