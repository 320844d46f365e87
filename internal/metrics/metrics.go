// Package metrics defines the Prometheus metrics exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge

	// Chat metrics
	ChatRequests       *prometheus.CounterVec
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec
	StreamFragments    prometheus.Counter
	InsightsExtracted  prometheus.Counter

	// Auth metrics
	CodesSent *prometheus.CounterVec

	// Retention metrics
	ConversationsPurged prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reborn_websocket_connections_active",
			Help: "Number of active chat WebSocket connections",
		}),

		// transport: "sse", "http" or "websocket"
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reborn_chat_requests_total",
			Help: "Total number of chat requests by transport",
		}, []string{"transport"}),

		ChatRequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reborn_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		ChatErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reborn_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		StreamFragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "reborn_chat_stream_fragments_total",
			Help: "Total number of cleaned fragments streamed to clients",
		}),

		InsightsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "reborn_insights_extracted_total",
			Help: "Total number of insights extracted from replies",
		}),

		// result: "sent", "rate_limited" or "failed"
		CodesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reborn_verification_codes_total",
			Help: "Total number of verification code requests by result",
		}, []string{"result"}),

		ConversationsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "reborn_conversations_purged_total",
			Help: "Total number of conversations removed by the retention job",
		}),
	}
}

// RecordWebSocketConnect records a new WebSocket connection.
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection.
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// RecordChatRequest records a chat request on the given transport.
func (m *Metrics) RecordChatRequest(transport string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(transport).Inc()
}

// RecordChatLatency records chat request latency.
func (m *Metrics) RecordChatLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ChatRequestLatency.Observe(seconds)
}

// RecordChatError records a chat error.
func (m *Metrics) RecordChatError(errorType string) {
	if m == nil {
		return
	}
	m.ChatErrors.WithLabelValues(errorType).Inc()
}

// RecordFragment records one streamed fragment.
func (m *Metrics) RecordFragment() {
	if m == nil {
		return
	}
	m.StreamFragments.Inc()
}

// RecordInsights records n extracted insights.
func (m *Metrics) RecordInsights(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InsightsExtracted.Add(float64(n))
}

// RecordCode records the outcome of a send-code request.
func (m *Metrics) RecordCode(result string) {
	if m == nil {
		return
	}
	m.CodesSent.WithLabelValues(result).Inc()
}

// RecordPurged records conversations removed by retention.
func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ConversationsPurged.Add(float64(n))
}
