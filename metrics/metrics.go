package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "habitledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "habitledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	otpDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "otp",
			Name:      "decisions_total",
			Help:      "OTP throttle decisions by operation and result code.",
		},
		[]string{"op", "code"},
	)

	otpLockouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "otp",
			Name:      "lockouts_total",
			Help:      "Number of phone numbers locked after too many invalid codes.",
		},
	)

	ledgerGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "ledger",
			Name:      "grants_total",
			Help:      "Ledger grant calls by entry type and whether the key already existed.",
		},
		[]string{"type", "replay"},
	)

	eventResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "rewards",
			Name:      "events_total",
			Help:      "Reward orchestrator operations by kind and result code.",
		},
		[]string{"kind", "code"},
	)

	eventRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitledger",
			Subsystem: "rewards",
			Name:      "retries_total",
			Help:      "Transient failures retried by the reward orchestrator.",
		},
		[]string{"kind"},
	)

	eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "habitledger",
			Subsystem: "rewards",
			Name:      "event_duration_seconds",
			Help:      "Duration of reward orchestrator operations including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		otpDecisions,
		otpLockouts,
		ledgerGrants,
		eventResults,
		eventRetries,
		eventDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// HTTPStarted marks a request in flight and returns the func that records it.
// path should be the route template, not the raw URL.
func HTTPStarted() func(method, path string, status int) {
	start := time.Now()
	httpInFlight.Inc()
	return func(method, path string, status int) {
		httpInFlight.Dec()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordOTPDecision counts one throttle result. code is "OK" on success.
func RecordOTPDecision(op, code string) {
	otpDecisions.WithLabelValues(op, code).Inc()
}

// RecordOTPLockout counts one OPEN to LOCKED transition.
func RecordOTPLockout() {
	otpLockouts.Inc()
}

// RecordGrant counts one ledger grant.
func RecordGrant(entryType string, replay bool) {
	ledgerGrants.WithLabelValues(entryType, strconv.FormatBool(replay)).Inc()
}

// RecordEvent records the final result of one orchestrator operation.
func RecordEvent(kind, code string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	eventResults.WithLabelValues(kind, code).Inc()
	eventDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRetry counts one retried transient failure.
func RecordRetry(kind string) {
	eventRetries.WithLabelValues(kind).Inc()
}
