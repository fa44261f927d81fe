package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery_matching"

var (
	MatchesCreatedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_created_total", Help: "Pending matches proposed by the engine"})
	MatchDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "match_duplicates_total", Help: "Match proposals skipped because the pair already had a match"})
	MatchScanSeconds     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_scan_seconds", Help: "Time spent scanning and scoring candidates"})
	ReviewsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reviews_total", Help: "Reviews recorded"})

	MatchTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_transitions_total", Help: "Match status transitions by target status"},
		[]string{"to"},
	)
	CascadeCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cascade_cancelled_total", Help: "Pending matches withdrawn by trip or request cancellation"},
		[]string{"source"},
	)
	SweepExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_expired_total", Help: "Documents expired by the sweep"},
		[]string{"collection"},
	)
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notification deliveries that failed"},
		[]string{"channel"},
	)
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events published"},
		[]string{"type"},
	)
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_consumed_total", Help: "Domain events handled by the consumer"},
		[]string{"type", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
