package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batepapo_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Presence metrics
	ParticipantsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_participants_registered_total",
			Help: "Total participants registered",
		},
	)

	ParticipantsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_participants_evicted_total",
			Help: "Total participants evicted for missing heartbeats",
		},
	)

	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_heartbeats_total",
			Help: "Total heartbeat calls",
		},
		[]string{"result"}, // "ok" or "unknown"
	)

	// Message metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_messages_posted_total",
			Help: "Total messages posted",
		},
		[]string{"type"}, // "message", "private_message" or "status"
	)

	MessagesEdited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_messages_edited_total",
			Help: "Total messages edited",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_messages_deleted_total",
			Help: "Total messages deleted",
		},
	)

	// Sweeper metrics
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batepapo_sweep_duration_seconds",
			Help:    "Presence sweep duration",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	SweepsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_sweeps_skipped_total",
			Help: "Sweeps skipped",
		},
		[]string{"reason"}, // "in_progress" or "store_error"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
