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
			Namespace: "edgewire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgewire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport, by type and whether they were fragmented.",
		},
		[]string{"node", "type", "fragmented"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "messages_received_total",
			Help:      "Messages decoded and handled locally.",
		},
		[]string{"node", "type"},
	)
	messagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "messages_relayed_total",
			Help:      "Forwarded messages re-transmitted by the server, counted per recipient.",
		},
		[]string{"node", "type"},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without dispatch.",
		},
		[]string{"node", "reason"},
	)
	fragmentsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "fragments_received_total",
			Help:      "Fragment frames received, by whether they completed a message.",
		},
		[]string{"node", "final"},
	)
	violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "violations_total",
			Help:      "Fatal protocol and configuration errors.",
		},
		[]string{"node", "kind"},
	)
	envelopeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgewire",
			Subsystem: "protocol",
			Name:      "envelope_bytes",
			Help:      "Size of envelopes written to the transport.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"node", "direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			messagesSent,
			messagesReceived,
			messagesRelayed,
			messagesDropped,
			fragmentsReceived,
			violations,
			envelopeBytes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessageSent(node, typ string, frames, bytes int) {
	RegisterMetrics()
	messagesSent.WithLabelValues(node, typ, strconv.FormatBool(frames > 1)).Inc()
	envelopeBytes.WithLabelValues(node, "out").Observe(float64(bytes))
}

func RecordMessageReceived(node, typ string, bytes int) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(node, typ).Inc()
	envelopeBytes.WithLabelValues(node, "in").Observe(float64(bytes))
}

func RecordMessageRelayed(node, typ string, recipients int) {
	RegisterMetrics()
	messagesRelayed.WithLabelValues(node, typ).Add(float64(recipients))
}

func RecordMessageDropped(node, reason string) {
	RegisterMetrics()
	messagesDropped.WithLabelValues(node, reason).Inc()
}

func RecordFragment(node string, final bool) {
	RegisterMetrics()
	fragmentsReceived.WithLabelValues(node, strconv.FormatBool(final)).Inc()
}

func RecordViolation(node, kind string) {
	RegisterMetrics()
	violations.WithLabelValues(node, kind).Inc()
}
