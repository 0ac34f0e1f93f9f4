package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay outcomes for RealtimeEvents.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
)

var (
	// Realtime relay
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairchat_ws_connections",
			Help: "Current number of open websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairchat_online_users",
			Help: "Current number of identified users in the presence registry",
		},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_realtime_events_total",
			Help: "Total number of inbound realtime events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Chat service
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_messages_persisted_total",
			Help: "Total number of messages appended to conversations",
		},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_conversations_created_total",
			Help: "Total number of conversations created",
		},
	)

	ConversationCreateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairchat_conversation_create_conflicts_total",
			Help: "Total number of concurrent conversation creates resolved by lookup",
		},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairchat_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// RecordRealtimeEvent counts one inbound event with its relay outcome.
func RecordRealtimeEvent(eventType, outcome string) {
	RealtimeEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}
