package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buschat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buschat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ConversationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buschat_conversations_started_total",
			Help: "Total conversations opened by the widget",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buschat_messages_total",
			Help: "Total messages appended to conversation logs",
		},
		[]string{"sender_type"},
	)

	BotFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buschat_bot_fallbacks_total",
			Help: "Total questions the bot could not answer",
		},
	)

	EscalationsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buschat_escalations_requested_total",
			Help: "Total conversations escalated to a human agent",
		},
	)

	AdminAssignments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buschat_admin_assignments_total",
			Help: "Total first-responder admin assignments",
		},
	)

	ConversationsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buschat_conversations_closed_total",
			Help: "Total conversations closed by an agent",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buschat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buschat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
