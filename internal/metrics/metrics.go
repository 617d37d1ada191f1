package metrics

import (
	"errors"
	"strconv"
	"time"

	"anoa.com/refurnish/pkg/apperror"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger Store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_store_operation_duration_seconds",
			Help:    "Duration of ledger store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_store_operation_errors_total",
			Help: "Total number of failed ledger store operations",
		},
		[]string{"operation", "error_type"},
	)

	// Points
	PointsAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Total points awarded, by transaction type and source",
		},
		[]string{"type", "source"},
	)

	PointsSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "points_spent_total",
			Help: "Total points spent on redemptions",
		},
	)

	DuplicateAwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_duplicate_awards_total",
			Help: "Awards suppressed because the (user, source, reference) triple was already recorded",
		},
		[]string{"source"},
	)

	PointsAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_anomalies_total",
			Help: "Awards above the large-transaction threshold",
		},
		[]string{"source"},
	)

	LevelUps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "points_level_ups_total",
			Help: "Total number of level changes written to accounts",
		},
	)

	ReconcileDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "points_reconcile_drifted_accounts_total",
			Help: "Accounts rewritten by reconciliation because aggregates drifted from the ledger",
		},
	)

	// Achievements
	AchievementsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "achievements_completed_total",
			Help: "Total achievement completions, by tier",
		},
		[]string{"tier"},
	)

	AchievementCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "achievement_cache_hits_total",
			Help: "Achievement definition cache hits",
		},
	)

	AchievementCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "achievement_cache_misses_total",
			Help: "Achievement definition cache misses",
		},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Events published on the in-process bus",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
		[]string{"subscriber"},
	)

	EventHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_event_handler_failures_total",
			Help: "Subscriber handler errors and panics",
		},
		[]string{"subscriber"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordStoreOperation records the latency and outcome of a ledger store call.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, errorType(err)).Inc()
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, apperror.ErrValidation):
		return "validation"
	default:
		return "storage"
	}
}

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		APIRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
