package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wsbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	messagesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "protocol",
			Name:      "messages_in_total",
			Help:      "Decoded inbound protocol messages by operation.",
		},
		[]string{"op"},
	)
	messagesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "protocol",
			Name:      "messages_out_total",
			Help:      "Encoded outbound protocol messages by operation.",
		},
		[]string{"op"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Inbound messages rejected by the codec.",
		},
		[]string{"encoding", "kind"},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "broker",
			Name:      "send_failures_total",
			Help:      "Outbound messages that could not be queued or encoded.",
		},
		[]string{"op", "reason"},
	)
	serviceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsbridge",
			Subsystem: "broker",
			Name:      "service_calls_total",
			Help:      "Relayed service calls by outcome.",
		},
		[]string{"outcome"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wsbridge",
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Open websocket connections by encoding.",
		},
		[]string{"encoding"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			messagesIn,
			messagesOut,
			protocolErrors,
			sendFailures,
			serviceCalls,
			connections,
		)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessageIn(op string) {
	RegisterMetrics()
	messagesIn.WithLabelValues(op).Inc()
}

func RecordMessageOut(op string) {
	RegisterMetrics()
	messagesOut.WithLabelValues(op).Inc()
}

func RecordProtocolError(encoding, kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(encoding, kind).Inc()
}

func RecordSendFailure(op, reason string) {
	RegisterMetrics()
	sendFailures.WithLabelValues(op, reason).Inc()
}

// RecordServiceCall counts a relayed call outcome: relayed, answered,
// unknown_service, expired or provider_gone.
func RecordServiceCall(outcome string) {
	RegisterMetrics()
	serviceCalls.WithLabelValues(outcome).Inc()
}

func ConnectionOpened(encoding string) {
	RegisterMetrics()
	connections.WithLabelValues(encoding).Inc()
}

func ConnectionClosed(encoding string) {
	RegisterMetrics()
	connections.WithLabelValues(encoding).Dec()
}
