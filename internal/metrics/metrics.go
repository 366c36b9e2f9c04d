// Package metrics provides Prometheus instrumentation for the chat engine:
// session and buffer gauges, message throughput counters, and flush latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks the current number of live chat sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Current number of live chat sessions",
	})

	// BufferedMessages tracks messages currently held in room buffers.
	BufferedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_buffered_messages",
		Help: "Messages currently held in in-memory room buffers",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "received", "broadcast", "dropped", "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// FlushesTotal counts buffer entries persisted to durable storage,
	// labeled by trigger: "overflow" or "drain".
	FlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_flushes_total",
		Help: "Buffered messages flushed to durable storage",
	}, []string{"trigger"})

	// FlushFailuresTotal counts flush attempts that exhausted their retries.
	FlushFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_flush_failures_total",
		Help: "Flushed messages dropped after exhausting persistence retries",
	})

	// FlushLatency records the time to persist a flushed entry in seconds.
	FlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_flush_latency_seconds",
		Help:    "Time to persist a flushed buffer entry",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MessageLatency records inbound message handling latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_message_latency_seconds",
		Help:    "Inbound message handling latency",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		BufferedMessages,
		MessagesTotal,
		FlushesTotal,
		FlushFailuresTotal,
		FlushLatency,
		MessageLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
